package out

import (
	"context"

	"labeler_server/core/domain"
)

// RunStore keeps the audit history of reconciliation batches.
type RunStore interface {
	Save(ctx context.Context, report *domain.RunReport) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.RunReport, error)
}

