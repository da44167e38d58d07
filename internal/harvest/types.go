package harvest

import (
	"time"
)

// Question is a harvested primary record.
type Question struct {
	ID               int64
	Title            string
	Body             string
	Tags             []string
	CreatedAt        int64 // epoch seconds
	Score            int
	ViewCount        int
	AnswerCount      int
	IsAnswered       bool
	AcceptedAnswerID *int64
	OwnerID          int64
	OwnerName        string
	OwnerReputation  int
	// Answers is never nil once the question has been harvested.
	Answers     []Answer
	CollectedAt int64 // epoch millis
	YearGroup   *int
}

// Answer is a sub-record owned by a Question.
type Answer struct {
	ID              int64
	ParentID        int64
	Body            string
	CreatedAt       int64
	Score           int
	IsAccepted      bool
	OwnerID         int64
	OwnerName       string
	OwnerReputation int
}

// FetchWindow is the half-open interval [From, To) in UTC epoch seconds
// covering one calendar year.
type FetchWindow struct {
	Year int
	From int64
	To   int64
}

// OutcomeKind classifies a single upstream call.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeServerError
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeServerError:
		return "server_error"
	default:
		return "fatal"
	}
}

// Outcome is what a Transport reports for one GET.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
	Err        error
	Duration   time.Duration
}

// ClassifyStatus maps an HTTP status onto an outcome kind.
func ClassifyStatus(status int) OutcomeKind {
	switch {
	case status == 200:
		return OutcomeSuccess
	case status == 429 || status == 400:
		return OutcomeRateLimited
	case status >= 500:
		return OutcomeServerError
	default:
		return OutcomeFatal
	}
}

// StopReason records why a paginated fetch ended.
type StopReason string

// Stop reasons. The first three mean the fetch ran to its natural end.
const (
	StopExhausted        StopReason = "exhausted"
	StopEmptyPage        StopReason = "empty_page"
	StopLimitReached     StopReason = "limit_reached"
	StopQuotaLow         StopReason = "quota_low"
	StopBudgetExhausted  StopReason = "budget_exhausted"
	StopRetriesExhausted StopReason = "retries_exhausted"
	StopFatal            StopReason = "fatal"
	StopMalformed        StopReason = "malformed"
	StopCanceled         StopReason = "canceled"
)

// Partial reports whether the fetch ended before its natural end.
func (r StopReason) Partial() bool {
	switch r {
	case StopExhausted, StopEmptyPage, StopLimitReached:
		return false
	default:
		return true
	}
}

// State is a step of the harvest state machine.
type State string

// Harvest states.
const (
	StateNotStarted          State = "not_started"
	StateFetchingWindow      State = "fetching_window"
	StateFetchingSubResource State = "fetching_sub_resource"
	StateCheckpointing       State = "checkpointing"
	StateDone                State = "done"
	StateHaltedOnQuota       State = "halted_on_quota"
	StateBudgetExhausted     State = "budget_exhausted"
	StateCanceled            State = "canceled"
)

// Mode names a harvest strategy.
type Mode string

// Harvest modes.
const (
	ModeFlat   Mode = "flat"
	ModeYearly Mode = "yearly"
)

// WindowReport summarizes one window of a yearly run, or the single pass of a flat run.
type WindowReport struct {
	Year       int
	Questions  int
	Answers    int
	Stop       StopReason
	Partial    bool
	Checkpoint error
}

// Report summarizes a finished run.
type Report struct {
	RunID     string
	Mode      Mode
	State     State
	Questions int
	Answers   int
	Calls     int
	Quota     int
	Windows   []WindowReport
	Partial   bool
	Duration  time.Duration
	// CheckpointErr is the error from the final checkpoint, if any.
	CheckpointErr error
}
