// Package labeling implements the email-labeling reconciliation pipeline:
// the labeling ledger, the label resolver and the batch driver.
package labeling

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"labeler_server/core/domain"
	"labeler_server/core/port/out"
)

const defaultLedgerTimeout = 3 * time.Second

// Ledger wraps a LedgerStore with the fail-open read policy.
type Ledger struct {
	store   out.LedgerStore
	timeout time.Duration
	log     zerolog.Logger
}

func NewLedger(store out.LedgerStore, timeout time.Duration, log zerolog.Logger) *Ledger {
	if timeout <= 0 {
		timeout = defaultLedgerTimeout
	}
	return &Ledger{
		store:   store,
		timeout: timeout,
		log:     log.With().Str("component", "labeling_ledger").Logger(),
	}
}

// CheckLabeled partitions ids into already labeled and needs labeling.
// It never fails: when the store errors or times out every ID is reported
// as needing labeling and Degraded is set.
func (l *Ledger) CheckLabeled(ctx context.Context, userID string, ids []string) *domain.LedgerCheck {
	ids = uniqueIDs(ids)
	check := &domain.LedgerCheck{
		AlreadyLabeled: []string{},
		NeedsLabeling:  []string{},
		Details:        make(map[string]*domain.LedgerEntry),
	}
	if len(ids) == 0 {
		return check
	}

	found, err := l.find(ctx, userID, ids)
	if err != nil {
		unavailable := &domain.LedgerUnavailableError{Op: "check", Err: err}
		l.log.Warn().Err(unavailable).Str("user_id", userID).Int("ids", len(ids)).Msg("ledger check failed, treating all messages as unlabeled")
		check.NeedsLabeling = append(check.NeedsLabeling, ids...)
		check.Degraded = true
		return check
	}

	for _, id := range ids {
		if entry, ok := found[id]; ok && entry != nil {
			check.AlreadyLabeled = append(check.AlreadyLabeled, id)
			check.Details[id] = entry
			continue
		}
		check.NeedsLabeling = append(check.NeedsLabeling, id)
	}
	return check
}

func (l *Ledger) find(ctx context.Context, userID string, ids []string) (map[string]*domain.LedgerEntry, error) {
	if l.store == nil {
		return nil, errNoLedgerStore
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.store.FindByMessageIDs(ctx, userID, ids)
}

// Store upserts the entry for (userID, messageID). Latest wins.
func (l *Ledger) Store(ctx context.Context, userID, messageID string, labels []string, confidence *float64, reasoning string) (domain.LedgerAction, error) {
	if l.store == nil {
		return "", errNoLedgerStore
	}

	entry := &domain.LedgerEntry{
		UserID:    userID,
		MessageID: messageID,
		Labels:    labels,
		LabeledAt: time.Now().UTC(),
		Reasoning: domain.StringPtr(strings.TrimSpace(reasoning)),
	}
	if confidence != nil {
		entry.Confidence = domain.FormatConfidence(*confidence)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.store.Upsert(ctx, entry)
}

// Delete is the administrative removal of one entry. The pipeline never calls it.
func (l *Ledger) Delete(ctx context.Context, userID, messageID string) error {
	if l.store == nil {
		return errNoLedgerStore
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.store.Delete(ctx, userID, messageID)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
