// Package analysis derives summary statistics and topic reports from a
// harvested question set. Every function is pure and safe for concurrent use.
package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/stackharvest/internal/harvest"
)

// Topics are the subjects tracked by the trend and co-occurrence reports.
var Topics = []string{
	"generics", "collections", "io", "lambda", "stream",
	"multithreading", "concurrency", "thread", "socket",
	"reflection", "spring", "spring-boot", "jpa", "hibernate",
	"exception", "testing", "junit", "annotation",
}

// Stats summarises a dataset.
type Stats struct {
	TotalQuestions    int
	TotalAnswers      int
	AvgScore          float64
	AnsweredQuestions int
}

// Summarize computes dataset statistics.
func Summarize(questions []harvest.Question) Stats {
	var s Stats
	s.TotalQuestions = len(questions)
	scoreSum := 0
	for _, q := range questions {
		s.TotalAnswers += len(q.Answers)
		scoreSum += q.Score
		if q.IsAnswered {
			s.AnsweredQuestions++
		}
	}
	if len(questions) > 0 {
		s.AvgScore = float64(scoreSum) / float64(len(questions))
	}
	return s
}

// MonthCount is the number of questions on a topic in one UTC year-month.
type MonthCount struct {
	Month string // YYYY-MM
	Count int
}

// TopicTrend is the monthly histogram of one topic.
type TopicTrend struct {
	Topic  string
	Months []MonthCount
}

// TrendReport holds topic histograms over a trailing window.
type TrendReport struct {
	YearsPast      int
	TotalQuestions int
	// Topics lists only topics with at least one match, in Topics order.
	Topics []TopicTrend
}

// Trends buckets questions created within the last yearsPast years (365-day
// years counted back from now) by topic and UTC month.
func Trends(questions []harvest.Question, yearsPast int, now time.Time) TrendReport {
	start := now.Unix() - int64(yearsPast)*365*24*60*60
	var recent []harvest.Question
	for _, q := range questions {
		if q.CreatedAt >= start {
			recent = append(recent, q)
		}
	}

	report := TrendReport{YearsPast: yearsPast, TotalQuestions: len(recent)}
	for _, topic := range Topics {
		counts := map[string]int{}
		for _, q := range recent {
			if relatedTo(q, topic) {
				counts[yearMonth(q.CreatedAt)]++
			}
		}
		if len(counts) == 0 {
			continue
		}
		months := make([]MonthCount, 0, len(counts))
		for m, c := range counts {
			months = append(months, MonthCount{Month: m, Count: c})
		}
		sort.Slice(months, func(i, j int) bool { return months[i].Month < months[j].Month })
		report.Topics = append(report.Topics, TopicTrend{Topic: topic, Months: months})
	}
	return report
}

// PairCount counts questions touching both topics of a pair.
type PairCount struct {
	Topics string // "a & b" with a < b
	Count  int
}

// CooccurrenceReport lists the most frequent topic pairs.
type CooccurrenceReport struct {
	TopN  int
	Pairs []PairCount
}

// Cooccurrence returns the topN most frequent topic pairs. Ties are broken
// by pair name.
func Cooccurrence(questions []harvest.Question, topN int) CooccurrenceReport {
	counts := map[string]int{}
	for _, q := range questions {
		var related []string
		for _, topic := range Topics {
			if relatedTo(q, topic) {
				related = append(related, topic)
			}
		}
		for i := 0; i < len(related); i++ {
			for j := i + 1; j < len(related); j++ {
				counts[pairKey(related[i], related[j])]++
			}
		}
	}

	pairs := make([]PairCount, 0, len(counts))
	for k, c := range counts {
		pairs = append(pairs, PairCount{Topics: k, Count: c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Topics < pairs[j].Topics
	})
	return CooccurrenceReport{TopN: topN, Pairs: limit(pairs, topN)}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + " & " + b
}

type pitfallPattern struct {
	name     string
	patterns []*regexp.Regexp
}

func compilePatterns(raw ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		out = append(out, regexp.MustCompile(`(?s)\b`+strings.ToLower(p)))
	}
	return out
}

var pitfallPatterns = []pitfallPattern{
	{"Race Condition", compilePatterns("race condition", "race-condition", "concurrent modification",
		"shared variable", "thread safety", "thread-safety")},
	{"Deadlock", compilePatterns("deadlock", "dead lock", "circular wait", "thread blocked")},
	{"Thread Synchronization", compilePatterns("synchroniz", "volatile", "atomic", "lock", "mutex")},
	{"Thread Pool Issues", compilePatterns("thread pool", "executor", "threadpool", "executorservice")},
	{"Wait/Notify Problems", compilePatterns(`wait\(\)`, "notify", "notifyall", "IllegalMonitorStateException")},
	{"ConcurrentModificationException", compilePatterns("ConcurrentModificationException",
		"concurrent modification exception")},
	{"Memory Visibility", compilePatterns("memory visibility", "happens-before", "volatile keyword", "cache coherence")},
	{"Livelock", compilePatterns("livelock", "live lock", "thread starvation", "starvation")},
}

const maxPitfallExamples = 3

// Pitfall is one recurring multithreading problem.
type Pitfall struct {
	Name       string
	Count      int
	Percentage float64 // of multithreading questions
	Examples   []string
}

// PitfallReport ranks multithreading pitfalls.
type PitfallReport struct {
	TopN                int
	TotalMultithreading int
	Pitfalls            []Pitfall
}

// Pitfalls counts, among questions about threads or concurrency, how many
// mention each known pitfall, keeping up to three example titles.
func Pitfalls(questions []harvest.Question, topN int) PitfallReport {
	var threaded []harvest.Question
	for _, q := range questions {
		if relatedTo(q, "multithreading") || relatedTo(q, "concurrency") || relatedTo(q, "thread") {
			threaded = append(threaded, q)
		}
	}

	var found []Pitfall
	for _, pp := range pitfallPatterns {
		p := Pitfall{Name: pp.name, Examples: []string{}}
		for _, q := range threaded {
			text := searchText(q)
			for _, re := range pp.patterns {
				if re.MatchString(text) {
					p.Count++
					if len(p.Examples) < maxPitfallExamples {
						p.Examples = append(p.Examples, q.Title)
					}
					break
				}
			}
		}
		if p.Count > 0 {
			p.Percentage = float64(p.Count) * 100 / float64(len(threaded))
			found = append(found, p)
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Count > found[j].Count })
	return PitfallReport{TopN: topN, TotalMultithreading: len(threaded), Pitfalls: limit(found, topN)}
}

// Factor compares one characteristic across solvable and hard questions.
type Factor struct {
	Name        string
	Solvable    string
	HardToSolve string
	Insight     string
}

// SolvabilityReport contrasts questions that got good answers with those that did not.
type SolvabilityReport struct {
	SolvableCount    int
	HardToSolveCount int
	Factors          []Factor
}

// Solvability splits questions into solvable (accepted answer, or an answer
// scoring at least 5) and hard (no accepted answer and every answer below 2)
// and compares them. A question may fall in neither group.
func Solvability(questions []harvest.Question) SolvabilityReport {
	var solvable, hard []harvest.Question
	for _, q := range questions {
		if isSolvable(q) {
			solvable = append(solvable, q)
		}
		if isHard(q) {
			hard = append(hard, q)
		}
	}

	withCode := func(qs []harvest.Question) float64 {
		n := 0
		for _, q := range qs {
			if hasCodeSnippet(q.Body) {
				n++
			}
		}
		return float64(n) * 100 / float64(max(1, len(qs)))
	}
	avg := func(qs []harvest.Question, f func(harvest.Question) int) float64 {
		if len(qs) == 0 {
			return 0
		}
		sum := 0
		for _, q := range qs {
			sum += f(q)
		}
		return float64(sum) / float64(len(qs))
	}
	bodyLen := func(q harvest.Question) int { return utf8.RuneCountInString(q.Body) }
	reputation := func(q harvest.Question) int { return q.OwnerReputation }
	tags := func(q harvest.Question) int { return len(q.Tags) }
	views := func(q harvest.Question) int { return q.ViewCount }

	return SolvabilityReport{
		SolvableCount:    len(solvable),
		HardToSolveCount: len(hard),
		Factors: []Factor{
			{
				Name:        "Code Snippet Presence",
				Solvable:    fmt.Sprintf("%.2f%%", withCode(solvable)),
				HardToSolve: fmt.Sprintf("%.2f%%", withCode(hard)),
				Insight:     "Questions with code snippets are more likely to be solved",
			},
			{
				Name:        "Question Length",
				Solvable:    fmt.Sprintf("%.0f chars", avg(solvable, bodyLen)),
				HardToSolve: fmt.Sprintf("%.0f chars", avg(hard, bodyLen)),
				Insight:     "Moderate length questions (clear but detailed) tend to get better answers",
			},
			{
				Name:        "Owner Reputation",
				Solvable:    fmt.Sprintf("%.0f", avg(solvable, reputation)),
				HardToSolve: fmt.Sprintf("%.0f", avg(hard, reputation)),
				Insight:     "User reputation affects question visibility and response quality",
			},
			{
				Name:        "Number of Tags",
				Solvable:    fmt.Sprintf("%.2f", avg(solvable, tags)),
				HardToSolve: fmt.Sprintf("%.2f", avg(hard, tags)),
				Insight:     "Appropriate tagging helps questions reach the right audience",
			},
			{
				Name:        "View Count",
				Solvable:    fmt.Sprintf("%.0f", avg(solvable, views)),
				HardToSolve: fmt.Sprintf("%.0f", avg(hard, views)),
				Insight:     "Higher visibility correlates with better chances of getting answers",
			},
		},
	}
}

func isSolvable(q harvest.Question) bool {
	if q.AcceptedAnswerID != nil {
		return true
	}
	if q.AnswerCount == 0 {
		return false
	}
	for _, a := range q.Answers {
		if a.Score >= 5 {
			return true
		}
	}
	return false
}

func isHard(q harvest.Question) bool {
	if q.AcceptedAnswerID != nil {
		return false
	}
	if q.AnswerCount == 0 {
		return true
	}
	for _, a := range q.Answers {
		if a.Score >= 2 {
			return false
		}
	}
	return true
}

var bracedBlock = regexp.MustCompile(`(?s)\{.*\}`)

func hasCodeSnippet(body string) bool {
	if body == "" {
		return false
	}
	return strings.Contains(body, "<code>") || strings.Contains(body, "```") ||
		strings.Contains(body, "<pre>") || bracedBlock.MatchString(body)
}

// relatedTo reports whether a tag contains topic or the title or body mention it.
func relatedTo(q harvest.Question, topic string) bool {
	topic = strings.ToLower(topic)
	for _, tag := range q.Tags {
		if strings.Contains(strings.ToLower(tag), topic) {
			return true
		}
	}
	return strings.Contains(searchText(q), topic)
}

func searchText(q harvest.Question) string {
	return strings.ToLower(q.Title + " " + q.Body)
}

func yearMonth(epochSeconds int64) string {
	return time.Unix(epochSeconds, 0).UTC().Format("2006-01")
}

func limit[T any](items []T, n int) []T {
	if n >= 0 && len(items) > n {
		return items[:n]
	}
	return items
}
