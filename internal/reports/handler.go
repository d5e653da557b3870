package reports

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/screenbug/backend/internal/models"
	"github.com/screenbug/backend/pkg/response"
)

// Store is the report persistence the handler needs.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.BugReport, error)
	List(ctx context.Context, limit, offset int) ([]models.BugReportSummary, error)
	Update(ctx context.Context, id uuid.UUID, u models.BugReportUpdate) (*models.BugReport, error)
	SetExternalRef(ctx context.Context, id uuid.UUID, tracker string, ref json.RawMessage) (*models.BugReport, error)
}

// Handler handles bug report HTTP endpoints, including the integration read/write-back surface.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a reports handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// List handles GET /reports.
func (h *Handler) List(c *gin.Context) {
	limit, offset := response.Page(c)
	list, err := h.store.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list reports failed", zap.Error(err))
		response.Internal(c, "failed to list reports")
		return
	}
	response.OK(c, list)
}

// Get handles GET /reports/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rep, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, id, "get report")
		return
	}
	response.OK(c, rep)
}

type updateRequest struct {
	Title       *string `json:"title"`
	RawMarkdown *string `json:"raw_markdown"`
	Severity    *string `json:"severity"`
}

// Update handles PATCH /reports/:id. Only provided fields change.
func (h *Handler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid body")
		return
	}
	var u models.BugReportUpdate
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		if t == "" {
			response.BadRequest(c, "title must not be empty")
			return
		}
		u.Title = &t
	}
	u.RawMarkdown = req.RawMarkdown
	if req.Severity != nil {
		sev, ok := models.ParseSeverity(*req.Severity)
		if !ok {
			response.BadRequest(c, "severity must be Critical, Major or Minor")
			return
		}
		u.Severity = &sev
	}
	if u.Title == nil && u.RawMarkdown == nil && u.Severity == nil {
		response.BadRequest(c, "nothing to update")
		return
	}
	rep, err := h.store.Update(c.Request.Context(), id, u)
	if err != nil {
		h.fail(c, err, id, "update report")
		return
	}
	response.OK(c, rep)
}

type externalRefRequest struct {
	Tracker string          `json:"tracker" binding:"required"`
	Ref     json.RawMessage `json:"ref" binding:"required"`
}

// SetExternalRef handles PUT /reports/:id/external-refs. An integration records the issue it created;
// the ref is stored as given under the tracker key.
func (h *Handler) SetExternalRef(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req externalRefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "tracker and ref are required")
		return
	}
	tracker := strings.ToLower(strings.TrimSpace(req.Tracker))
	if tracker == "" || string(req.Ref) == "null" || !json.Valid(req.Ref) {
		response.BadRequest(c, "tracker and ref are required")
		return
	}
	rep, err := h.store.SetExternalRef(c.Request.Context(), id, tracker, req.Ref)
	if err != nil {
		h.fail(c, err, id, "set external ref")
		return
	}
	h.logger.Info("external ref recorded", zap.String("report_id", id.String()), zap.String("tracker", tracker))
	response.OK(c, rep)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid report id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(c *gin.Context, err error, id uuid.UUID, op string) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "report not found")
		return
	}
	h.logger.Error(op+" failed", zap.Error(err), zap.String("report_id", id.String()))
	response.Internal(c, "failed to "+op)
}
