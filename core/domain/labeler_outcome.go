package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// OutcomeState is the terminal state of one candidate message in a batch.
type OutcomeState string

const (
	OutcomeAlreadyLabeled OutcomeState = "already_labeled"
	OutcomeApplied        OutcomeState = "applied"
	OutcomeNoLabels       OutcomeState = "no_labels"
	OutcomeFailed         OutcomeState = "failed"
)

// Stage names the pipeline step a message failed in.
type Stage string

const (
	StageLedgerCheck Stage = "ledger_check"
	StageClassify    Stage = "classify"
	StageResolve     Stage = "resolve"
	StageApply       Stage = "apply"
	StageRecord      Stage = "record"
	StageDraft       Stage = "draft"
	StageFetch       Stage = "fetch"
	StageCancelled   Stage = "cancelled"
)

// Outcome is the per-message result of a reconciliation batch.
type Outcome struct {
	MessageID    string       `json:"message_id"`
	State        OutcomeState `json:"state"`
	Labels       []string     `json:"labels,omitempty"`
	LabelIDs     []string     `json:"label_ids,omitempty"`
	SkippedNames []string     `json:"skipped_labels,omitempty"`
	Confidence   *float64     `json:"confidence,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	FailedStage  Stage        `json:"failed_stage,omitempty"`
	LedgerAction LedgerAction `json:"ledger_action,omitempty"`
	LedgerError  string       `json:"ledger_error,omitempty"`
	DraftID      string       `json:"draft_id,omitempty"`
	DraftError   string       `json:"draft_error,omitempty"`
	Attempts     int          `json:"attempts,omitempty"`
}

// Failed builds a failed outcome for one stage.
func Failed(messageID string, stage Stage, err error) *Outcome {
	reason := string(stage)
	if err != nil {
		reason = string(stage) + ": " + err.Error()
	}
	return &Outcome{MessageID: messageID, State: OutcomeFailed, FailedStage: stage, Reason: reason}
}

// BatchResult summarizes a reconciliation batch. Every candidate appears in
// Outcomes exactly once.
type BatchResult struct {
	Outcomes     map[string]*Outcome `json:"outcomes"`
	AppliedCount int                 `json:"applied_count"`
	FailedCount  int                 `json:"failed_count"`
	SkippedCount int                 `json:"skipped_count"`
	NoLabelCount int                 `json:"no_label_count"`
}

// NewBatchResult returns an empty result sized for n candidates.
func NewBatchResult(n int) *BatchResult {
	return &BatchResult{Outcomes: make(map[string]*Outcome, n)}
}

// Add records an outcome and updates the counters. A second outcome for the
// same message is ignored.
func (b *BatchResult) Add(o *Outcome) {
	if _, exists := b.Outcomes[o.MessageID]; exists {
		return
	}
	b.Outcomes[o.MessageID] = o
	switch o.State {
	case OutcomeApplied:
		b.AppliedCount++
	case OutcomeFailed:
		b.FailedCount++
	case OutcomeAlreadyLabeled:
		b.SkippedCount++
	case OutcomeNoLabels:
		b.NoLabelCount++
	}
}

// RunReport is the audit record of one batch.
type RunReport struct {
	ID           uuid.UUID        `json:"id"`
	UserID       string           `json:"user_id"`
	Trigger      string           `json:"trigger"`
	Query        string           `json:"query,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Candidates   int              `json:"candidates"`
	AppliedCount int              `json:"applied_count"`
	FailedCount  int              `json:"failed_count"`
	SkippedCount int              `json:"skipped_count"`
	NoLabelCount int              `json:"no_label_count"`
	Messages     []RunMessageLine `json:"messages"`
}

// RunMessageLine is one message of a RunReport.
type RunMessageLine struct {
	MessageID string       `json:"message_id"`
	State     OutcomeState `json:"state"`
	Labels    []string     `json:"labels,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// NewRunReport summarizes a finished batch.
func NewRunReport(userID, trigger, query string, started time.Time, res *BatchResult) *RunReport {
	r := &RunReport{
		ID:           uuid.New(),
		UserID:       userID,
		Trigger:      trigger,
		Query:        query,
		StartedAt:    started,
		FinishedAt:   time.Now(),
		Candidates:   len(res.Outcomes),
		AppliedCount: res.AppliedCount,
		FailedCount:  res.FailedCount,
		SkippedCount: res.SkippedCount,
		NoLabelCount: res.NoLabelCount,
		Messages:     make([]RunMessageLine, 0, len(res.Outcomes)),
	}
	for id, o := range res.Outcomes {
		r.Messages = append(r.Messages, RunMessageLine{MessageID: id, State: o.State, Labels: o.Labels, Reason: o.Reason})
	}
	sort.Slice(r.Messages, func(i, j int) bool { return r.Messages[i].MessageID < r.Messages[j].MessageID })
	return r
}
