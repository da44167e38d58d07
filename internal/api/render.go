package api

import (
	"fmt"
	"time"

	"github.com/JakeFAU/stackharvest/internal/analysis"
	"github.com/JakeFAU/stackharvest/internal/codec"
	"github.com/JakeFAU/stackharvest/internal/harvest"
)

func statsValue(qs []harvest.Question) codec.Value {
	s := analysis.Summarize(qs)
	return codec.ObjectValue(codec.NewObject().
		Set("totalQuestions", codec.Int(int64(s.TotalQuestions))).
		Set("totalAnswers", codec.Int(int64(s.TotalAnswers))).
		Set("avgScore", codec.Float(s.AvgScore)).
		Set("answeredQuestions", codec.Int(int64(s.AnsweredQuestions))))
}

func trendsValue(qs []harvest.Question, years int, now time.Time) codec.Value {
	report := analysis.Trends(qs, years, now)
	topics := codec.NewObject()
	for _, tt := range report.Topics {
		months := codec.NewObject()
		for _, m := range tt.Months {
			months.Set(m.Month, codec.Int(int64(m.Count)))
		}
		topics.Set(tt.Topic, codec.ObjectValue(months))
	}
	return codec.ObjectValue(codec.NewObject().
		Set("topicTrends", codec.ObjectValue(topics)).
		Set("yearsPast", codec.Int(int64(report.YearsPast))).
		Set("totalQuestions", codec.Int(int64(report.TotalQuestions))))
}

func cooccurrenceValue(qs []harvest.Question, topN int) codec.Value {
	report := analysis.Cooccurrence(qs, topN)
	pairs := make([]codec.Value, 0, len(report.Pairs))
	for _, p := range report.Pairs {
		pairs = append(pairs, codec.ObjectValue(codec.NewObject().
			Set("topics", codec.String(p.Topics)).
			Set("count", codec.Int(int64(p.Count)))))
	}
	return codec.ObjectValue(codec.NewObject().
		Set("topPairs", codec.Array(pairs...)).
		Set("topN", codec.Int(int64(report.TopN))))
}

func pitfallsValue(qs []harvest.Question, topN int) codec.Value {
	report := analysis.Pitfalls(qs, topN)
	items := make([]codec.Value, 0, len(report.Pitfalls))
	for _, p := range report.Pitfalls {
		examples := make([]codec.Value, 0, len(p.Examples))
		for _, title := range p.Examples {
			examples = append(examples, codec.String(title))
		}
		items = append(items, codec.ObjectValue(codec.NewObject().
			Set("name", codec.String(p.Name)).
			Set("count", codec.Int(int64(p.Count))).
			Set("percentage", codec.String(fmt.Sprintf("%.2f%%", p.Percentage))).
			Set("examples", codec.Array(examples...))))
	}
	return codec.ObjectValue(codec.NewObject().
		Set("topPitfalls", codec.Array(items...)).
		Set("totalMultithreadingQuestions", codec.Int(int64(report.TotalMultithreading))).
		Set("topN", codec.Int(int64(report.TopN))))
}

func solvabilityValue(qs []harvest.Question) codec.Value {
	report := analysis.Solvability(qs)
	factors := codec.NewObject()
	for _, f := range report.Factors {
		factors.Set(f.Name, codec.ObjectValue(codec.NewObject().
			Set("solvable", codec.String(f.Solvable)).
			Set("hardToSolve", codec.String(f.HardToSolve)).
			Set("insight", codec.String(f.Insight))))
	}
	return codec.ObjectValue(codec.NewObject().
		Set("solvableCount", codec.Int(int64(report.SolvableCount))).
		Set("hardToSolveCount", codec.Int(int64(report.HardToSolveCount))).
		Set("factors", codec.ObjectValue(factors)))
}
