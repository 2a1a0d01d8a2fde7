package domain

import "time"

// MaxSuggestedLabels bounds ClassificationResult.SuggestedLabels.
const MaxSuggestedLabels = 3

// EmailInput is the subset of a message sent to the classifier.
type EmailInput struct {
	Subject string
	From    string
	Content string
	Date    time.Time
}

// EmailInputFromMessage builds classifier input from a provider message.
func EmailInputFromMessage(m *Message) EmailInput {
	return EmailInput{
		Subject: m.Subject,
		From:    m.From,
		Content: m.Content(),
		Date:    m.Date,
	}
}

// ClassificationResult is the validated answer of the classifier for one message.
// It is never persisted as-is; the pipeline distills it into a LedgerEntry.
type ClassificationResult struct {
	SuggestedLabels []string `json:"suggestedLabels"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	NeedsReply      bool     `json:"needsReply,omitempty"`
	SuggestedReply  string   `json:"suggestedReplyText,omitempty"`
}

// HasLabels reports whether any label was suggested.
func (r *ClassificationResult) HasLabels() bool {
	return r != nil && len(r.SuggestedLabels) > 0
}

// WantsDraft reports whether a reply should be drafted.
func (r *ClassificationResult) WantsDraft() bool {
	return r != nil && r.NeedsReply && r.SuggestedReply != ""
}
