package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"labeler_server/core/domain"
	"labeler_server/core/port/in"
	"labeler_server/core/port/out"
	"labeler_server/infra/middleware"
	"labeler_server/pkg/metrics"
	"labeler_server/pkg/ratelimit"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testSecret = "test-secret"

type fakeService struct {
	mu sync.Mutex

	reconcileIDs   []string
	recentQuery    string
	recentMax      int64
	runOpts        in.RunOptions
	sessionUser    string
	deleteErr      error
	applyErr       error
	listLabelsErr  error
	runsLimit      int
	appliedName    string
	appliedMessage string
}

var _ in.LabelingService = (*fakeService)(nil)

func (f *fakeService) Reconcile(ctx context.Context, sess *out.Session, candidates []*domain.Message) (*domain.BatchResult, error) {
	return domain.NewBatchResult(0), nil
}

func (f *fakeService) ReconcileIDs(ctx context.Context, sess *out.Session, ids []string) (*domain.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconcileIDs = ids
	f.sessionUser = sess.UserID
	f.runOpts = in.RunOptionsFrom(ctx)
	res := domain.NewBatchResult(len(ids))
	for _, id := range ids {
		res.Add(&domain.Outcome{MessageID: id, State: domain.OutcomeApplied, Labels: []string{"Work"}})
	}
	return res, nil
}

func (f *fakeService) ReconcileRecent(ctx context.Context, sess *out.Session, query string, maxResults int64) (*domain.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentQuery = query
	f.recentMax = maxResults
	f.sessionUser = sess.UserID
	f.runOpts = in.RunOptionsFrom(ctx)
	return domain.NewBatchResult(0), nil
}

func (f *fakeService) CheckLedger(ctx context.Context, userID string, ids []string) *domain.LedgerCheck {
	return &domain.LedgerCheck{AlreadyLabeled: []string{}, NeedsLabeling: ids, Details: map[string]*domain.LedgerEntry{}}
}

func (f *fakeService) DeleteLedgerEntry(ctx context.Context, userID, messageID string) error {
	return f.deleteErr
}

func (f *fakeService) ListLabels(ctx context.Context, sess *out.Session) ([]domain.GmailLabel, error) {
	if f.listLabelsErr != nil {
		return nil, f.listLabelsErr
	}
	return []domain.GmailLabel{{ID: "INBOX", Name: "INBOX", Type: domain.LabelTypeSystem}, {ID: "Label_1", Name: "Work", Type: domain.LabelTypeUser}}, nil
}

func (f *fakeService) ApplyLabel(ctx context.Context, sess *out.Session, messageID, name string) (*domain.Outcome, error) {
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	f.appliedMessage, f.appliedName = messageID, name
	return &domain.Outcome{MessageID: messageID, State: domain.OutcomeApplied, Labels: []string{name}, LabelIDs: []string{"Label_9"}}, nil
}

func (f *fakeService) ListRuns(ctx context.Context, userID string, limit int) ([]*domain.RunReport, error) {
	f.runsLimit = limit
	return []*domain.RunReport{{UserID: userID, Trigger: "worker"}}, nil
}

type memTokens struct {
	mu    sync.Mutex
	saved map[string]*oauth2.Token
}

func (m *memTokens) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "a"}, nil
}
func (m *memTokens) Refresh(ctx context.Context, userID string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "b"}, nil
}
func (m *memTokens) Save(ctx context.Context, userID string, t *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]*oauth2.Token{}
	}
	m.saved[userID] = t
	return nil
}
func (m *memTokens) ListUserIDs(ctx context.Context) ([]string, error) { return nil, nil }

func newTestApp(svc in.LabelingService, cfg LabelingHandlerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(middleware.RequestID())
	api := app.Group("/api/v1", middleware.JWTAuth(testSecret))
	NewLabelingHandler(svc, &memTokens{}, cfg).Register(api)
	return app
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	Meta *struct {
		Total int `json:"total"`
	} `json:"meta"`
}

func do(t *testing.T, app *fiber.App, method, path, auth string, body any) (*http.Response, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func TestLabelingHandler_RequiresAuth(t *testing.T) {
	app := newTestApp(&fakeService{}, LabelingHandlerConfig{})

	resp, env := do(t, app, http.MethodGet, "/api/v1/labeling/labels", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	resp, env = do(t, app, http.MethodGet, "/api/v1/labeling/labels", "Bearer not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_TOKEN", env.Error.Code)
}

func TestLabelingHandler_ReconcileIDs(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc, LabelingHandlerConfig{})

	resp, env := do(t, app, http.MethodPost, "/api/v1/labeling/reconcile", bearer(t, "user-1"),
		fiber.Map{"message_ids": []string{"m1", "m2"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)

	var result domain.BatchResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 2, result.AppliedCount)
	assert.Equal(t, []string{"m1", "m2"}, svc.reconcileIDs)
	assert.Equal(t, "user-1", svc.sessionUser)
	assert.Equal(t, "api", svc.runOpts.Trigger)
}

func TestLabelingHandler_ReconcileRecentDefaults(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc, LabelingHandlerConfig{DefaultQuery: "in:inbox newer_than:2d", DefaultMax: 25})

	resp, _ := do(t, app, http.MethodPost, "/api/v1/labeling/reconcile", bearer(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "in:inbox newer_than:2d", svc.recentQuery)
	assert.Equal(t, int64(25), svc.recentMax)
	assert.Equal(t, "in:inbox newer_than:2d", svc.runOpts.Query)

	resp, _ = do(t, app, http.MethodPost, "/api/v1/labeling/reconcile", bearer(t, "user-1"),
		fiber.Map{"query": "from:boss", "max_results": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "from:boss", svc.recentQuery)
	assert.Equal(t, int64(5), svc.recentMax)
}

func TestLabelingHandler_ReconcileValidation(t *testing.T) {
	app := newTestApp(&fakeService{}, LabelingHandlerConfig{})

	ids := make([]string, 501)
	for i := range ids {
		ids[i] = "m"
	}
	resp, env := do(t, app, http.MethodPost, "/api/v1/labeling/reconcile", bearer(t, "u"), fiber.Map{"message_ids": ids})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)

	resp, _ = do(t, app, http.MethodPost, "/api/v1/labeling/reconcile", bearer(t, "u"), fiber.Map{"max_results": 9999})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLabelingHandler_ReconcileRateLimited(t *testing.T) {
	limiter := ratelimit.NewSlidingWindowLimiter(nil, 1, time.Minute)
	app := newTestApp(&fakeService{}, LabelingHandlerConfig{
		ReconcileMiddleware: []fiber.Handler{middleware.UserRateLimit(limiter)},
	})

	resp, _ := do(t, app, http.MethodPost, "/api/v1/labeling/reconcile", bearer(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env := do(t, app, http.MethodPost, "/api/v1/labeling/reconcile", bearer(t, "user-1"), nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, _ = do(t, app, http.MethodPost, "/api/v1/labeling/reconcile", bearer(t, "user-2"), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLabelingHandler_CheckLedger(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc, LabelingHandlerConfig{})

	resp, env := do(t, app, http.MethodPost, "/api/v1/labeling/ledger/check", bearer(t, "u"), fiber.Map{"message_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "MISSING_FIELD", env.Error.Code)

	resp, env = do(t, app, http.MethodPost, "/api/v1/labeling/ledger/check", bearer(t, "u"), fiber.Map{"message_ids": []string{"a", "b"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var check domain.LedgerCheck
	require.NoError(t, json.Unmarshal(env.Data, &check))
	assert.Equal(t, []string{"a", "b"}, check.NeedsLabeling)
}

func TestLabelingHandler_DeleteLedgerEntry(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc, LabelingHandlerConfig{})

	resp, _ := do(t, app, http.MethodDelete, "/api/v1/labeling/ledger/m1", bearer(t, "u"), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	svc.deleteErr = domain.ErrLedgerEntryNotFound
	resp, env := do(t, app, http.MethodDelete, "/api/v1/labeling/ledger/m1", bearer(t, "u"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestLabelingHandler_ListLabels(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc, LabelingHandlerConfig{})

	resp, env := do(t, app, http.MethodGet, "/api/v1/labeling/labels", bearer(t, "u"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 2, env.Meta.Total)

	svc.listLabelsErr = &domain.GatewayAuthError{Op: "list_labels", Err: errors.New("revoked")}
	resp, env = do(t, app, http.MethodGet, "/api/v1/labeling/labels", bearer(t, "u"), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "GATEWAY_AUTH", env.Error.Code)
}

func TestLabelingHandler_ApplyLabel(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc, LabelingHandlerConfig{})

	resp, _ := do(t, app, http.MethodPost, "/api/v1/labeling/messages/m7/labels", bearer(t, "u"), fiber.Map{"name": " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, env := do(t, app, http.MethodPost, "/api/v1/labeling/messages/m7/labels", bearer(t, "u"), fiber.Map{"name": "Receipts"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var o domain.Outcome
	require.NoError(t, json.Unmarshal(env.Data, &o))
	assert.Equal(t, domain.OutcomeApplied, o.State)
	assert.Equal(t, "m7", svc.appliedMessage)
	assert.Equal(t, "Receipts", svc.appliedName)

	svc.applyErr = &domain.LabelCreationError{Name: "INBOX", Reason: "reserved"}
	resp, env = do(t, app, http.MethodPost, "/api/v1/labeling/messages/m7/labels", bearer(t, "u"), fiber.Map{"name": "INBOX"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "LABEL_CREATION", env.Error.Code)
}

func TestLabelingHandler_ListRuns(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc, LabelingHandlerConfig{})

	resp, env := do(t, app, http.MethodGet, "/api/v1/labeling/runs?limit=5", bearer(t, "user-3"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, svc.runsLimit)
	assert.Equal(t, 1, env.Meta.Total)
}

func TestHealthHandler(t *testing.T) {
	latency := metrics.NewLatencyRegistry(10)
	app := fiber.New()
	app.Use(middleware.RequestLogger(latency))

	h := NewHealthHandler(nil, latency)
	healthy := true
	h.AddCheck("redis", func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("connection refused")
	})
	h.Register(app)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthy = false
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "latency")
}

func TestOAuthHandler_ConnectAndCallback(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "auth-code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	conf := &oauth2.Config{
		ClientID:    "client",
		RedirectURL: "http://localhost/callback",
		Endpoint:    oauth2.Endpoint{AuthURL: "https://accounts.example/auth", TokenURL: tokenSrv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}
	tokens := &memTokens{}
	h := NewOAuthHandler(conf, tokens, testSecret)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
	api := app.Group("/api/v1")
	h.RegisterPublic(api)
	api.Use(middleware.JWTAuth(testSecret))
	h.Register(api)

	resp, env := do(t, app, http.MethodGet, "/api/v1/oauth/google/connect", bearer(t, "user-9"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data struct {
		AuthURL string `json:"auth_url"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	u, err := url.Parse(data.AuthURL)
	require.NoError(t, err)
	assert.Equal(t, "offline", u.Query().Get("access_type"))
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	resp, _ = do(t, app, http.MethodGet, "/api/v1/oauth/google/callback?code=auth-code&state=forged", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, app, http.MethodGet, "/api/v1/oauth/google/callback?code=auth-code&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, tokens.saved, "user-9")
	assert.Equal(t, "rt", tokens.saved["user-9"].RefreshToken)

	h.now = func() time.Time { return time.Now().Add(OAuthStateTTL + time.Minute) }
	_, err = h.verifyState(state)
	assert.Error(t, err, "state expires")
}
