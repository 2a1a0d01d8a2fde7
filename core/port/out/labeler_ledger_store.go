package out

import (
	"context"

	"labeler_server/core/domain"
)

// LedgerStore persists labeling ledger entries keyed by (user, message).
type LedgerStore interface {
	// FindByMessageIDs returns the stored entries among ids, keyed by message ID.
	// Unknown IDs are simply absent.
	FindByMessageIDs(ctx context.Context, userID string, ids []string) (map[string]*domain.LedgerEntry, error)
	// Upsert inserts or overwrites the entry for (UserID, MessageID).
	Upsert(ctx context.Context, entry *domain.LedgerEntry) (domain.LedgerAction, error)
	// Delete removes one entry. Returns domain.ErrLedgerEntryNotFound if absent.
	Delete(ctx context.Context, userID, messageID string) error
}
