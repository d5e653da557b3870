package runs

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/screenbug/backend/pkg/response"
)

// Handler serves run status over HTTP.
type Handler struct {
	tracker *Tracker
	logger  *zap.Logger
}

// NewHandler creates a run status handler.
func NewHandler(tracker *Tracker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tracker: tracker, logger: logger}
}

// Get returns the latest event of a run.
func (h *Handler) Get(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid run id")
		return
	}
	ev, err := h.tracker.Get(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "run not found")
			return
		}
		h.logger.Error("get run", zap.String("run_id", runID.String()), zap.Error(err))
		response.Internal(c, "failed to get run")
		return
	}
	response.OK(c, ev)
}
