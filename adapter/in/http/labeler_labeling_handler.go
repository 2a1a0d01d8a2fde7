// Package http exposes the labeling service over fiber.
package http

import (
	"errors"
	"strings"

	"labeler_server/core/domain"
	"labeler_server/core/port/in"
	"labeler_server/core/port/out"
	"labeler_server/infra/middleware"
	"labeler_server/pkg/apperr"
	"labeler_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const (
	maxRequestIDs    = 500
	maxRequestResult = 500
)

// LabelingHandler handles labeling HTTP requests.
type LabelingHandler struct {
	svc          in.LabelingService
	tokens       out.TokenProvider
	defaultQuery string
	defaultMax   int64
	reconcileMW  []fiber.Handler
}

// LabelingHandlerConfig configures request defaults.
type LabelingHandlerConfig struct {
	DefaultQuery string
	DefaultMax   int64
	// ReconcileMiddleware runs before POST /reconcile, e.g. a per-user limiter.
	ReconcileMiddleware []fiber.Handler
}

// NewLabelingHandler creates a new labeling handler.
func NewLabelingHandler(svc in.LabelingService, tokens out.TokenProvider, cfg LabelingHandlerConfig) *LabelingHandler {
	if cfg.DefaultMax <= 0 {
		cfg.DefaultMax = 50
	}
	return &LabelingHandler{
		svc:          svc,
		tokens:       tokens,
		defaultQuery: cfg.DefaultQuery,
		defaultMax:   cfg.DefaultMax,
		reconcileMW:  cfg.ReconcileMiddleware,
	}
}

// Register registers labeling routes.
func (h *LabelingHandler) Register(router fiber.Router) {
	labeling := router.Group("/labeling")

	reconcile := append(append([]fiber.Handler{}, h.reconcileMW...), h.Reconcile)
	labeling.Post("/reconcile", reconcile...)

	labeling.Post("/ledger/check", h.CheckLedger)
	labeling.Delete("/ledger/:messageId", h.DeleteLedgerEntry)

	labeling.Get("/labels", h.ListLabels)
	labeling.Post("/messages/:id/labels", h.ApplyLabel)

	labeling.Get("/runs", h.ListRuns)
}

func (h *LabelingHandler) session(c *fiber.Ctx) (*out.Session, error) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return nil, err
	}
	return &out.Session{UserID: userID, Tokens: h.tokens}, nil
}

type reconcileRequest struct {
	MessageIDs []string `json:"message_ids"`
	Query      string   `json:"query"`
	MaxResults int64    `json:"max_results"`
}

// Reconcile labels the given messages, or the messages matching a query.
// POST /api/v1/labeling/reconcile
func (h *LabelingHandler) Reconcile(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}

	var req reconcileRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperr.BadRequest("invalid request body")
		}
	}
	if len(req.MessageIDs) > maxRequestIDs {
		return apperr.InvalidInput("message_ids", "at most 500 ids per request")
	}
	if req.MaxResults < 0 || req.MaxResults > maxRequestResult {
		return apperr.InvalidInput("max_results", "must be between 1 and 500")
	}

	var result *domain.BatchResult
	if len(req.MessageIDs) > 0 {
		ctx := in.WithRunOptions(c.UserContext(), in.RunOptions{Trigger: "api"})
		result, err = h.svc.ReconcileIDs(ctx, sess, req.MessageIDs)
	} else {
		query := strings.TrimSpace(req.Query)
		if query == "" {
			query = h.defaultQuery
		}
		maxResults := req.MaxResults
		if maxResults == 0 {
			maxResults = h.defaultMax
		}
		ctx := in.WithRunOptions(c.UserContext(), in.RunOptions{Trigger: "api", Query: query})
		result, err = h.svc.ReconcileRecent(ctx, sess, query, maxResults)
	}
	if err != nil {
		return err
	}

	return response.OK(c, result)
}

type ledgerCheckRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// CheckLedger partitions message IDs into labeled and unlabeled.
// POST /api/v1/labeling/ledger/check
func (h *LabelingHandler) CheckLedger(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}

	var req ledgerCheckRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if len(req.MessageIDs) == 0 {
		return apperr.MissingField("message_ids")
	}
	if len(req.MessageIDs) > maxRequestIDs {
		return apperr.InvalidInput("message_ids", "at most 500 ids per request")
	}

	return response.OK(c, h.svc.CheckLedger(c.UserContext(), userID, req.MessageIDs))
}

// DeleteLedgerEntry forgets one message so it is labeled again.
// DELETE /api/v1/labeling/ledger/:messageId
func (h *LabelingHandler) DeleteLedgerEntry(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}

	err = h.svc.DeleteLedgerEntry(c.UserContext(), userID, c.Params("messageId"))
	if errors.Is(err, domain.ErrLedgerEntryNotFound) {
		return apperr.NotFound("ledger entry")
	}
	if err != nil {
		return err
	}
	return response.NoContent(c)
}

// ListLabels returns the mailbox's labels.
// GET /api/v1/labeling/labels
func (h *LabelingHandler) ListLabels(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}

	labels, err := h.svc.ListLabels(c.UserContext(), sess)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, labels, &response.Meta{Total: len(labels)})
}

type applyLabelRequest struct {
	Name string `json:"name"`
}

// ApplyLabel applies one label by name, creating it if needed.
// POST /api/v1/labeling/messages/:id/labels
func (h *LabelingHandler) ApplyLabel(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}

	var req applyLabelRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return apperr.MissingField("name")
	}

	outcome, err := h.svc.ApplyLabel(c.UserContext(), sess, c.Params("id"), req.Name)
	if err != nil {
		return err
	}
	return response.OK(c, outcome)
}

// ListRuns returns recent reconciliation runs.
// GET /api/v1/labeling/runs?limit=20
func (h *LabelingHandler) ListRuns(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}

	runs, err := h.svc.ListRuns(c.UserContext(), userID, c.QueryInt("limit", 20))
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, runs, &response.Meta{Total: len(runs)})
}
