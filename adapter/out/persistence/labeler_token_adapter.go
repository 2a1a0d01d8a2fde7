package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"labeler_server/core/port/out"
	"labeler_server/pkg/crypto"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// expirySkew refreshes tokens slightly before Google would reject them.
const expirySkew = time.Minute

const postgresTokenSchema = `
CREATE TABLE IF NOT EXISTS oauth_tokens (
	user_id       TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	expiry        TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL
)`

const sqliteTokenSchema = `
CREATE TABLE IF NOT EXISTS oauth_tokens (
	user_id       TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	expiry        TEXT,
	updated_at    TEXT NOT NULL
)`

// TokenAdapter implements out.TokenStore. Tokens are encrypted at rest
// when an Encryptor is configured and refreshed through the OAuth config.
type TokenAdapter struct {
	db      *sqlx.DB
	dialect Dialect
	oauth   *oauth2.Config
	enc     *crypto.Encryptor
	group   singleflight.Group
	now     func() time.Time
	log     zerolog.Logger
}

var _ out.TokenStore = (*TokenAdapter)(nil)

// NewTokenAdapter creates a new TokenAdapter. enc may be nil.
func NewTokenAdapter(db *sqlx.DB, oauthConfig *oauth2.Config, enc *crypto.Encryptor, log zerolog.Logger) *TokenAdapter {
	if enc == nil {
		log.Warn().Msg("token encryption disabled")
	}
	return &TokenAdapter{
		db:      db,
		dialect: DialectOf(db.DriverName()),
		oauth:   oauthConfig,
		enc:     enc,
		now:     time.Now,
		log:     log.With().Str("component", "token_store").Logger(),
	}
}

// EnsureSchema creates the token table if it does not exist.
func (a *TokenAdapter) EnsureSchema(ctx context.Context) error {
	schema := postgresTokenSchema
	if a.dialect == DialectSQLite {
		schema = sqliteTokenSchema
	}
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create oauth_tokens: %w", err)
	}
	return nil
}

type tokenRow struct {
	UserID       string `db:"user_id"`
	AccessToken  string `db:"access_token"`
	RefreshToken string `db:"refresh_token"`
	TokenType    string `db:"token_type"`
	Expiry       dbTime `db:"expiry"`
}

func (a *TokenAdapter) toToken(r *tokenRow) (*oauth2.Token, error) {
	access, err := a.decrypt(r.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := a.decrypt(r.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    r.TokenType,
		Expiry:       r.Expiry.Time,
	}, nil
}

// Token returns the stored access token, refreshing it when it is about to expire.
func (a *TokenAdapter) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	token, err := a.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if token.AccessToken != "" && (token.Expiry.IsZero() || token.Expiry.Add(-expirySkew).After(a.now())) {
		return token, nil
	}
	return a.Refresh(ctx, userID)
}

// Refresh exchanges the stored refresh token for a new access token.
// Concurrent refreshes for the same user share one exchange.
func (a *TokenAdapter) Refresh(ctx context.Context, userID string) (*oauth2.Token, error) {
	v, err, _ := a.group.Do(userID, func() (any, error) {
		return a.refresh(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (a *TokenAdapter) refresh(ctx context.Context, userID string) (*oauth2.Token, error) {
	if a.oauth == nil {
		return nil, errors.New("oauth client is not configured")
	}

	stored, err := a.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if stored.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token stored for user %s", userID)
	}

	// An empty access token forces the source to hit the token endpoint.
	fresh, err := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: stored.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = stored.RefreshToken
	}

	if err := a.Save(ctx, userID, fresh); err != nil {
		return nil, err
	}
	a.log.Debug().Str("user_id", userID).Time("expiry", fresh.Expiry).Msg("token refreshed")
	return fresh, nil
}

// Save stores token for userID, replacing any previous one.
func (a *TokenAdapter) Save(ctx context.Context, userID string, token *oauth2.Token) error {
	if userID == "" || token == nil {
		return errors.New("token save requires user and token")
	}

	access, err := a.encrypt(token.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := a.encrypt(token.RefreshToken)
	if err != nil {
		return err
	}

	var expiry any
	if !token.Expiry.IsZero() {
		expiry = a.timeArg(token.Expiry)
	}

	_, err = a.db.ExecContext(ctx, a.db.Rebind(`
		INSERT INTO oauth_tokens (user_id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at`),
		userID, access, refresh, token.TokenType, expiry, a.timeArg(a.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// ListUserIDs returns every user that can be refreshed offline.
func (a *TokenAdapter) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := a.db.SelectContext(ctx, &ids, `
		SELECT user_id FROM oauth_tokens WHERE refresh_token <> '' ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list token users: %w", err)
	}
	return ids, nil
}

func (a *TokenAdapter) load(ctx context.Context, userID string) (*oauth2.Token, error) {
	var row tokenRow
	err := a.db.GetContext(ctx, &row, a.db.Rebind(`
		SELECT user_id, access_token, refresh_token, token_type, expiry
		FROM oauth_tokens WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("token for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	return a.toToken(&row)
}

func (a *TokenAdapter) encrypt(s string) (string, error) {
	if a.enc == nil {
		return s, nil
	}
	return a.enc.Encrypt(s)
}

func (a *TokenAdapter) decrypt(s string) (string, error) {
	if a.enc == nil {
		return s, nil
	}
	return a.enc.Decrypt(s)
}

func (a *TokenAdapter) timeArg(t time.Time) any {
	if a.dialect == DialectSQLite {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t
}
