package domain

import (
	"strings"
	"time"
)

// Message is a Gmail message as seen by the labeling pipeline.
// It is owned by the provider; the pipeline only changes it through label-modify calls.
type Message struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"thread_id"`
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	To       string    `json:"to,omitempty"`
	Snippet  string    `json:"snippet"`
	Body     string    `json:"body,omitempty"`
	Date     time.Time `json:"date"`
	LabelIDs []string  `json:"label_ids"`

	// RFC 822 Message-ID header, used to thread draft replies.
	MessageIDHeader string `json:"message_id_header,omitempty"`
}

// Content returns the body if present, otherwise the snippet.
func (m *Message) Content() string {
	if strings.TrimSpace(m.Body) != "" {
		return m.Body
	}
	return m.Snippet
}

// LabelType distinguishes Gmail's built-in labels from user labels.
type LabelType string

const (
	LabelTypeSystem LabelType = "system"
	LabelTypeUser   LabelType = "user"
)

// GmailLabel is a provider label: stable ID plus user-facing display name.
type GmailLabel struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Type LabelType `json:"type"`
}

// NormalizeLabelName is the lookup key used when matching label names.
// Matching is case-insensitive and ignores surrounding whitespace.
func NormalizeLabelName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
