package http

import (
	"context"
	"fmt"
	"time"

	"labeler_server/core/port/out"
	"labeler_server/infra/middleware"
	"labeler_server/pkg/apperr"
	"labeler_server/pkg/logger"
	"labeler_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// OAuthStateTTL bounds how long a consent screen may stay open.
const OAuthStateTTL = 10 * time.Minute

const oauthStateAudience = "gmail-connect"

// OAuthHandler connects a user's Gmail account and stores the resulting token.
// The state parameter is a short-lived HMAC token naming the user.
type OAuthHandler struct {
	config *oauth2.Config
	tokens out.TokenStore
	secret []byte
	now    func() time.Time
}

// NewOAuthHandler creates a new OAuth handler.
func NewOAuthHandler(config *oauth2.Config, tokens out.TokenStore, stateSecret string) *OAuthHandler {
	return &OAuthHandler{
		config: config,
		tokens: tokens,
		secret: []byte(stateSecret),
		now:    time.Now,
	}
}

// Register registers the connect route. It must sit behind JWTAuth.
func (h *OAuthHandler) Register(router fiber.Router) {
	router.Get("/oauth/google/connect", h.Connect)
}

// RegisterPublic registers the callback Google redirects to. Register it
// before the auth middleware is added to the same prefix.
func (h *OAuthHandler) RegisterPublic(router fiber.Router) {
	router.Get("/oauth/google/callback", h.Callback)
}

// Connect returns the Google consent URL for the current user.
// GET /api/v1/oauth/google/connect
func (h *OAuthHandler) Connect(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}

	state, err := h.signState(userID)
	if err != nil {
		return apperr.InternalWithError(err)
	}

	// offline + forced consent so Google always returns a refresh token
	authURL := h.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	return response.OK(c, fiber.Map{"auth_url": authURL})
}

// Callback exchanges the authorization code and stores the token.
// GET /api/v1/oauth/google/callback?code=...&state=...
func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("[OAuth Callback] Error from provider: %s", errParam)
		return apperr.BadRequest("authorization denied: " + errParam)
	}

	code := c.Query("code")
	if code == "" {
		return apperr.MissingField("code")
	}

	userID, err := h.verifyState(c.Query("state"))
	if err != nil {
		logger.WithError(err).Warn("[OAuth Callback] State validation failed")
		return apperr.BadRequest("invalid state")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 15*time.Second)
	defer cancel()

	token, err := h.config.Exchange(ctx, code)
	if err != nil {
		return apperr.ExternalError("google oauth", err)
	}
	if err := h.tokens.Save(ctx, userID, token); err != nil {
		return apperr.DatabaseError("save token", err)
	}

	logger.Info("[OAuth Callback] Gmail connected for user %s", userID)
	return response.OK(c, fiber.Map{"connected": true, "user_id": userID})
}

func (h *OAuthHandler) signState(userID string) (string, error) {
	now := h.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Audience:  jwt.ClaimStrings{oauthStateAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(OAuthStateTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
}

func (h *OAuthHandler) verifyState(state string) (string, error) {
	if state == "" {
		return "", fmt.Errorf("missing state")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (interface{}, error) {
		return h.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(oauthStateAudience),
		jwt.WithTimeFunc(h.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("state has no subject")
	}
	return claims.Subject, nil
}
