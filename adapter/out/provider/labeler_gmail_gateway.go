// Package provider implements the Gmail gateway.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"labeler_server/core/domain"
	"labeler_server/core/port/out"
	"labeler_server/pkg/resilience"
)

const (
	defaultGmailTimeout = 30 * time.Second
	defaultListMax      = 50
	listPageMax         = 500
)

// GmailConfig holds Gmail configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Timeout applies to calls whose context has no deadline.
	Timeout time.Duration
	// Endpoint overrides the API base URL (tests).
	Endpoint string
	// Transport is the base round tripper under the OAuth transport.
	Transport http.RoundTripper
}

// NewOAuthConfig returns the Google OAuth client used to refresh user tokens.
func NewOAuthConfig(cfg GmailConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailModifyScope,
			gmail.GmailLabelsScope,
			gmail.GmailComposeScope,
		},
		Endpoint: google.Endpoint,
	}
}

// GmailGateway implements out.MailGateway. It keeps no per-user state:
// every call authenticates with the token the session hands out.
type GmailGateway struct {
	endpoint  string
	transport http.RoundTripper
	timeout   time.Duration
	cb        *gobreaker.CircuitBreaker
	log       zerolog.Logger
}

// NewGmailGateway creates a new Gmail gateway.
func NewGmailGateway(cfg GmailConfig, log zerolog.Logger) *GmailGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGmailTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &GmailGateway{
		endpoint:  cfg.Endpoint,
		transport: transport,
		timeout:   timeout,
		cb: resilience.NewBreaker(resilience.BreakerConfig{
			Name:        "gmail-api",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
		}),
		log: log.With().Str("component", "gmail_gateway").Logger(),
	}
}

// =============================================================================
// Labels
// =============================================================================

// ListLabels lists all labels of the mailbox.
func (g *GmailGateway) ListLabels(ctx context.Context, sess *out.Session) ([]domain.GmailLabel, error) {
	var labels []domain.GmailLabel
	err := g.call(ctx, sess, "list_labels", func(ctx context.Context, svc *gmail.Service) error {
		resp, err := svc.Users.Labels.List("me").Context(ctx).Do()
		if err != nil {
			return err
		}
		labels = make([]domain.GmailLabel, len(resp.Labels))
		for i, l := range resp.Labels {
			labels[i] = convertLabel(l)
		}
		return nil
	})
	return labels, err
}

// CreateLabel creates a label shown in both the label list and the message list.
func (g *GmailGateway) CreateLabel(ctx context.Context, sess *out.Session, name string) (*domain.GmailLabel, error) {
	var created *domain.GmailLabel
	err := g.call(ctx, sess, "create_label", func(ctx context.Context, svc *gmail.Service) error {
		label := &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}
		resp, err := svc.Users.Labels.Create("me", label).Context(ctx).Do()
		if err != nil {
			return err
		}
		l := convertLabel(resp)
		created = &l
		return nil
	})
	return created, err
}

// ModifyMessageLabels adds labels to a message.
func (g *GmailGateway) ModifyMessageLabels(ctx context.Context, sess *out.Session, messageID string, addLabelIDs []string) error {
	return g.call(ctx, sess, "modify", func(ctx context.Context, svc *gmail.Service) error {
		req := &gmail.ModifyMessageRequest{AddLabelIds: addLabelIDs}
		_, err := svc.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
		return err
	})
}

// =============================================================================
// Messages
// =============================================================================

// ListMessages returns up to maxResults message IDs matching query, newest first.
func (g *GmailGateway) ListMessages(ctx context.Context, sess *out.Session, query string, maxResults int64) ([]string, error) {
	if maxResults <= 0 {
		maxResults = defaultListMax
	}

	var ids []string
	err := g.call(ctx, sess, "list_messages", func(ctx context.Context, svc *gmail.Service) error {
		ids = ids[:0]
		pageToken := ""
		for int64(len(ids)) < maxResults {
			page := maxResults - int64(len(ids))
			if page > listPageMax {
				page = listPageMax
			}
			call := svc.Users.Messages.List("me").MaxResults(page).Context(ctx)
			if query != "" {
				call = call.Q(query)
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			resp, err := call.Do()
			if err != nil {
				return err
			}
			for _, m := range resp.Messages {
				ids = append(ids, m.Id)
			}
			if resp.NextPageToken == "" || len(resp.Messages) == 0 {
				break
			}
			pageToken = resp.NextPageToken
		}
		return nil
	})
	return ids, err
}

// GetMessage fetches one message with headers and text body.
func (g *GmailGateway) GetMessage(ctx context.Context, sess *out.Session, messageID string) (*domain.Message, error) {
	var msg *domain.Message
	err := g.call(ctx, sess, "get_message", func(ctx context.Context, svc *gmail.Service) error {
		resp, err := svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		if err != nil {
			return err
		}
		msg = convertMessage(resp)
		return nil
	})
	return msg, err
}

// =============================================================================
// Drafts & Send
// =============================================================================

// CreateDraft creates a reply draft in the given thread.
func (g *GmailGateway) CreateDraft(ctx context.Context, sess *out.Session, req *out.DraftRequest) (string, error) {
	raw := buildRawMessage([]string{req.To}, nil, req.Subject, req.Body, req.InReplyTo, false)

	var draftID string
	err := g.call(ctx, sess, "create_draft", func(ctx context.Context, svc *gmail.Service) error {
		draft := &gmail.Draft{
			Message: &gmail.Message{
				Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
				ThreadId: req.ThreadID,
			},
		}
		resp, err := svc.Users.Drafts.Create("me", draft).Context(ctx).Do()
		if err != nil {
			return err
		}
		draftID = resp.Id
		return nil
	})
	return draftID, err
}

// SendMessage sends a message and returns its ID.
func (g *GmailGateway) SendMessage(ctx context.Context, sess *out.Session, req *out.SendRequest) (string, error) {
	raw := buildRawMessage(req.To, req.Cc, req.Subject, req.Body, "", req.IsHTML)

	var id string
	err := g.call(ctx, sess, "send", func(ctx context.Context, svc *gmail.Service) error {
		msg := &gmail.Message{
			Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
			ThreadId: req.ThreadID,
		}
		resp, err := svc.Users.Messages.Send("me", msg).Context(ctx).Do()
		if err != nil {
			return err
		}
		id = resp.Id
		return nil
	})
	return id, err
}

// =============================================================================
// Internal Helpers
// =============================================================================

// call runs fn with the session's token. A 401 triggers one refresh through
// the session's token provider and a single retry of the same call.
func (g *GmailGateway) call(ctx context.Context, sess *out.Session, op string, fn func(ctx context.Context, svc *gmail.Service) error) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	token, err := sess.Tokens.Token(ctx, sess.UserID)
	if err != nil {
		return &domain.GatewayAuthError{Op: op, Err: err}
	}

	err = g.do(ctx, token, op, fn)
	if !isUnauthorized(err) {
		return g.wrapError(ctx, op, err)
	}

	g.log.Debug().Str("op", op).Str("user_id", sess.UserID).Msg("token rejected, refreshing")
	token, err = sess.Tokens.Refresh(ctx, sess.UserID)
	if err != nil {
		return &domain.GatewayAuthError{Op: op, Err: err}
	}

	err = g.do(ctx, token, op, fn)
	if isUnauthorized(err) {
		return &domain.GatewayAuthError{Op: op, Err: err}
	}
	return g.wrapError(ctx, op, err)
}

func (g *GmailGateway) do(ctx context.Context, token *oauth2.Token, op string, fn func(ctx context.Context, svc *gmail.Service) error) error {
	svc, err := g.service(ctx, token)
	if err != nil {
		return err
	}
	return g.executeWithCircuitBreaker(op, func() error {
		return fn(ctx, svc)
	})
}

func (g *GmailGateway) service(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   g.transport,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	return gmail.NewService(ctx, opts...)
}

// executeWithCircuitBreaker wraps an API call with circuit breaker protection.
// Client errors are passed through without counting as breaker failures.
func (g *GmailGateway) executeWithCircuitBreaker(op string, fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}

	if err != nil {
		g.log.Warn().Err(err).Str("op", op).Str("breaker", g.cb.State().String()).Msg("gmail call failed")
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// CircuitState returns the current state of the circuit breaker.
func (g *GmailGateway) CircuitState() string {
	return g.cb.State().String()
}

func isUnauthorized(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized
}

// wrapError maps Gmail API failures onto GatewayTransportError.
func (g *GmailGateway) wrapError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	if resilience.IsOpen(err) {
		return &domain.GatewayTransportError{Op: op, Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		te := &domain.GatewayTransportError{
			Op:         op,
			StatusCode: apiErr.Code,
			Transient:  domain.TransientStatus(apiErr.Code),
			Err:        err,
		}
		switch {
		case apiErr.Code == http.StatusForbidden && strings.Contains(strings.ToLower(apiErr.Message), "rate limit"):
			te.Transient = true
		case apiErr.Code == http.StatusConflict,
			op == "create_label" && apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "exists"):
			te.Err = fmt.Errorf("%w: %v", domain.ErrLabelExists, err)
		}
		return te
	}

	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		return &domain.GatewayTransportError{Op: op, Err: err}
	}

	// Timeouts and network failures.
	return &domain.GatewayTransportError{Op: op, Transient: true, Err: err}
}

func convertLabel(l *gmail.Label) domain.GmailLabel {
	t := domain.LabelTypeUser
	if l.Type == "system" {
		t = domain.LabelTypeSystem
	}
	return domain.GmailLabel{ID: l.Id, Name: l.Name, Type: t}
}

func convertMessage(msg *gmail.Message) *domain.Message {
	result := &domain.Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		LabelIDs: msg.LabelIds,
	}
	if msg.InternalDate > 0 {
		result.Date = time.UnixMilli(msg.InternalDate).UTC()
	}

	if msg.Payload == nil {
		return result
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			result.Subject = h.Value
		case "from":
			result.From = parseAddress(h.Value)
		case "to":
			result.To = h.Value
		case "message-id":
			result.MessageIDHeader = h.Value
		case "date":
			if result.Date.IsZero() {
				if t, err := mail.ParseDate(h.Value); err == nil {
					result.Date = t.UTC()
				}
			}
		}
	}
	result.Body = extractText(msg.Payload, 0)
	return result
}

// extractText returns the first text/plain part of the payload.
func extractText(part *gmail.MessagePart, depth int) string {
	if part == nil || depth > 10 {
		return ""
	}
	if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			return string(data)
		}
		if data, err := base64.RawURLEncoding.DecodeString(part.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, p := range part.Parts {
		if text := extractText(p, depth+1); text != "" {
			return text
		}
	}
	return ""
}

func parseAddress(s string) string {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return s
	}
	return addr.Address
}

func buildRawMessage(to, cc []string, subject, body, inReplyTo string, isHTML bool) string {
	var buf strings.Builder

	if len(to) > 0 {
		buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	}
	if len(cc) > 0 {
		buf.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(cc, ", ")))
	}
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	if inReplyTo != "" {
		buf.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", inReplyTo))
		buf.WriteString(fmt.Sprintf("References: %s\r\n", inReplyTo))
	}

	contentType := "text/plain"
	if isHTML {
		contentType = "text/html"
	}
	buf.WriteString(fmt.Sprintf("Content-Type: %s; charset=UTF-8\r\n", contentType))
	buf.WriteString("\r\n")
	buf.WriteString(body)

	return buf.String()
}

var _ out.MailGateway = (*GmailGateway)(nil)
