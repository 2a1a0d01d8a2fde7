package llm

import (
	"context"
	"fmt"
	"strings"

	"labeler_server/core/domain"
)

const classifySystemPrompt = `You are an email labeling assistant for a Gmail mailbox. Analyze the email and respond with JSON only.

Rules:
- Suggest at most 3 labels. Suggest none if no label clearly fits.
- Prefer the user's existing labels. Only invent a new label when none of them fits; keep new names short (1-3 words).
- confidence is a number from 0.0 (guessing) to 1.0 (certain).
- needsReply is true only when the sender expects a personal answer.
- When needsReply is true, write a short, polite reply in suggestedReplyText. Otherwise leave it empty.

Respond with this exact JSON format:
{
  "suggestedLabels": ["Label"],
  "confidence": 0.0-1.0,
  "reasoning": "one sentence",
  "needsReply": false,
  "suggestedReplyText": ""
}`

// Classify suggests labels for one email. It makes exactly one model call;
// retries belong to the caller.
func (c *Client) Classify(ctx context.Context, email domain.EmailInput, existingLabels []string) (*domain.ClassificationResult, error) {
	raw, err := c.CompleteJSON(ctx, classifySystemPrompt, buildClassifyPrompt(email, existingLabels))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, &domain.ClassificationFormatError{Reason: "empty response"}
	}

	return parseClassification(raw)
}

func buildClassifyPrompt(email domain.EmailInput, existingLabels []string) string {
	var sb strings.Builder

	sb.WriteString("Existing labels: ")
	if len(existingLabels) == 0 {
		sb.WriteString("(none)")
	} else {
		sb.WriteString(strings.Join(existingLabels, ", "))
	}
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "From: %s\nDate: %s\nSubject: %s\n\nBody:\n%s",
		email.From, formatDate(email.Date), email.Subject, truncateBody(email.Content, 2000))

	return sb.String()
}
