package domain

import (
	"strconv"
	"time"
)

// LedgerEntry records what the pipeline applied to one message.
// (UserID, MessageID) is unique.
type LedgerEntry struct {
	UserID     string    `json:"user_id"`
	MessageID  string    `json:"message_id"`
	Labels     []string  `json:"labels"`
	LabeledAt  time.Time `json:"labeled_at"`
	Confidence *string   `json:"confidence,omitempty"`
	Reasoning  *string   `json:"reasoning,omitempty"`
}

// LedgerAction is the result of an upsert.
type LedgerAction string

const (
	LedgerCreated LedgerAction = "created"
	LedgerUpdated LedgerAction = "updated"
)

// LedgerCheck partitions a set of message IDs against the ledger.
type LedgerCheck struct {
	AlreadyLabeled []string                `json:"already_labeled"`
	NeedsLabeling  []string                `json:"needs_labeling"`
	Details        map[string]*LedgerEntry `json:"details"`
	// Degraded is set when the ledger could not be read and every ID was
	// reported as needing labeling.
	Degraded bool `json:"degraded,omitempty"`
}

// IsLabeled reports whether id was found in the ledger.
func (c *LedgerCheck) IsLabeled(id string) bool {
	_, ok := c.Details[id]
	return ok
}

// FormatConfidence renders a classifier confidence the way it is stored.
func FormatConfidence(c float64) *string {
	s := strconv.FormatFloat(c, 'f', -1, 64)
	return &s
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
