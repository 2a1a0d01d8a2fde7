package llm

import (
	"context"
	"fmt"
	"strings"

	"labeler_server/core/domain"
)

// DraftReply generates a reply body for an email.
func (c *Client) DraftReply(ctx context.Context, email domain.EmailInput, instructions string) (string, error) {
	if instructions == "" {
		instructions = "Keep it short and professional."
	}

	systemPrompt := fmt.Sprintf(`You are an email reply assistant.

%s

Write a natural, contextually appropriate reply. Do not include subject line or email headers.
Only output the reply body.`, instructions)

	userPrompt := fmt.Sprintf("Original email from %s:\nSubject: %s\n\n%s\n\nGenerate a reply:",
		email.From, email.Subject, truncateBody(email.Content, 2000))

	reply, err := c.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}
