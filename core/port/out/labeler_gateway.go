package out

import (
	"context"

	"labeler_server/core/domain"

	"golang.org/x/oauth2"
)

// TokenProvider supplies OAuth access tokens for a user.
// Refresh must return a token newer than the one that was rejected.
type TokenProvider interface {
	Token(ctx context.Context, userID string) (*oauth2.Token, error)
	Refresh(ctx context.Context, userID string) (*oauth2.Token, error)
}

// TokenStore is a TokenProvider backed by persisted user tokens.
type TokenStore interface {
	TokenProvider
	Save(ctx context.Context, userID string, token *oauth2.Token) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Session is the explicit credential object a caller passes into the
// pipeline and every gateway call. Its lifecycle belongs to the caller.
type Session struct {
	UserID string
	Tokens TokenProvider
}

// Validate rejects sessions that cannot authenticate any call.
func (s *Session) Validate() error {
	if s == nil {
		return &domain.ConfigurationError{Field: "session", Reason: "missing"}
	}
	if s.UserID == "" {
		return &domain.ConfigurationError{Field: "session.user_id", Reason: "empty"}
	}
	if s.Tokens == nil {
		return &domain.ConfigurationError{Field: "session.tokens", Reason: "no token provider"}
	}
	return nil
}

// DraftRequest describes a reply draft.
type DraftRequest struct {
	ThreadID  string
	InReplyTo string
	To        string
	Subject   string
	Body      string
}

// SendRequest describes an outgoing message.
type SendRequest struct {
	ThreadID string
	To       []string
	Cc       []string
	Subject  string
	Body     string
	IsHTML   bool
}

// MailGateway issues authenticated Gmail API calls. It holds no state
// between calls; every call authenticates through the session.
type MailGateway interface {
	ListLabels(ctx context.Context, sess *Session) ([]domain.GmailLabel, error)
	CreateLabel(ctx context.Context, sess *Session, name string) (*domain.GmailLabel, error)
	ModifyMessageLabels(ctx context.Context, sess *Session, messageID string, addLabelIDs []string) error
	ListMessages(ctx context.Context, sess *Session, query string, maxResults int64) ([]string, error)
	GetMessage(ctx context.Context, sess *Session, messageID string) (*domain.Message, error)
	CreateDraft(ctx context.Context, sess *Session, req *DraftRequest) (string, error)
	SendMessage(ctx context.Context, sess *Session, req *SendRequest) (string, error)
}
