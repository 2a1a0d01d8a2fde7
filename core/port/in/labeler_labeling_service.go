package in

import (
	"context"

	"labeler_server/core/domain"
	"labeler_server/core/port/out"
)

type LabelingService interface {
	// Batch reconciliation
	Reconcile(ctx context.Context, sess *out.Session, candidates []*domain.Message) (*domain.BatchResult, error)
	ReconcileIDs(ctx context.Context, sess *out.Session, messageIDs []string) (*domain.BatchResult, error)
	ReconcileRecent(ctx context.Context, sess *out.Session, query string, maxResults int64) (*domain.BatchResult, error)

	// Ledger
	CheckLedger(ctx context.Context, userID string, messageIDs []string) *domain.LedgerCheck
	DeleteLedgerEntry(ctx context.Context, userID, messageID string) error

	// Labels
	ListLabels(ctx context.Context, sess *out.Session) ([]domain.GmailLabel, error)
	ApplyLabel(ctx context.Context, sess *out.Session, messageID, labelName string) (*domain.Outcome, error)

	// Run history
	ListRuns(ctx context.Context, userID string, limit int) ([]*domain.RunReport, error)
}

// RunOptions tags a batch for the run history.
type RunOptions struct {
	Trigger string // api, worker, cli
	Query   string
}

type runOptionsKey struct{}

// WithRunOptions attaches run metadata to ctx.
func WithRunOptions(ctx context.Context, opts RunOptions) context.Context {
	return context.WithValue(ctx, runOptionsKey{}, opts)
}

// RunOptionsFrom returns the run metadata attached to ctx, if any.
func RunOptionsFrom(ctx context.Context) RunOptions {
	if v, ok := ctx.Value(runOptionsKey{}).(RunOptions); ok {
		return v
	}
	return RunOptions{Trigger: "api"}
}
