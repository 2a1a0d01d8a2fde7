package out

import (
	"context"

	"labeler_server/core/domain"
)

// Classifier suggests labels for one email against the user's existing label names.
type Classifier interface {
	Classify(ctx context.Context, email domain.EmailInput, existingLabels []string) (*domain.ClassificationResult, error)
}

// ReplyDrafter writes a reply body for one email.
type ReplyDrafter interface {
	DraftReply(ctx context.Context, email domain.EmailInput, instructions string) (string, error)
}
