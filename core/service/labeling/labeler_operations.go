package labeling

import (
	"context"
	"strings"

	"labeler_server/core/domain"
	"labeler_server/core/port/out"
)

// CheckLedger reports which messages are already labeled. Fails open.
func (p *Pipeline) CheckLedger(ctx context.Context, userID string, messageIDs []string) *domain.LedgerCheck {
	return p.ledger.CheckLabeled(ctx, userID, messageIDs)
}

// DeleteLedgerEntry removes one ledger entry so the message is labeled again
// on the next run.
func (p *Pipeline) DeleteLedgerEntry(ctx context.Context, userID, messageID string) error {
	return p.ledger.Delete(ctx, userID, messageID)
}

// ListLabels returns the mailbox's current labels.
func (p *Pipeline) ListLabels(ctx context.Context, sess *out.Session) ([]domain.GmailLabel, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	return p.resolver.listLabels(ctx, sess)
}

// ApplyLabel resolves one label name (creating it if needed) and applies it
// to one message. The ledger entry keeps any labels recorded earlier.
func (p *Pipeline) ApplyLabel(ctx context.Context, sess *out.Session, messageID, labelName string) (*domain.Outcome, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, &domain.LabelCreationError{Name: labelName, Reason: "missing message id"}
	}

	snap, err := p.snapshot(ctx, sess)
	if err != nil {
		return nil, err
	}

	resolution := p.resolver.Resolve(ctx, sess, snap, []string{labelName})
	if err := resolution.Err(); err != nil {
		return nil, err
	}
	if len(resolution.IDs) == 0 {
		return nil, &domain.LabelCreationError{Name: labelName, Reason: "empty name"}
	}

	if err := p.apply(ctx, sess, messageID, resolution.IDs); err != nil {
		return nil, err
	}

	labels := resolution.Names
	check := p.ledger.CheckLabeled(ctx, sess.UserID, []string{messageID})
	if prev, ok := check.Details[messageID]; ok {
		labels = mergeLabelNames(prev.Labels, resolution.Names)
	}

	o := &domain.Outcome{
		MessageID: messageID,
		State:     domain.OutcomeApplied,
		Labels:    labels,
		LabelIDs:  resolution.IDs,
	}
	action, err := p.ledger.Store(ctx, sess.UserID, messageID, labels, nil, "")
	if err != nil {
		p.log.Error().Err(err).Str("message_id", messageID).Msg("ledger write failed after manual apply")
		o.LedgerError = err.Error()
	} else {
		o.LedgerAction = action
	}
	return o, nil
}

// ListRuns returns the most recent run reports of a user, newest first.
func (p *Pipeline) ListRuns(ctx context.Context, userID string, limit int) ([]*domain.RunReport, error) {
	if p.runs == nil {
		return []*domain.RunReport{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return p.runs.ListByUser(ctx, userID, limit)
}

func mergeLabelNames(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	merged := make([]string, 0, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, name := range list {
			key := domain.NormalizeLabelName(name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, name)
		}
	}
	return merged
}
