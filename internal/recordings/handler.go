package recordings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/screenbug/backend/internal/capture"
	"github.com/screenbug/backend/internal/models"
	"github.com/screenbug/backend/internal/pipeline"
	"github.com/screenbug/backend/pkg/queue"
	"github.com/screenbug/backend/pkg/response"
)

const (
	// ModeSync runs the whole pipeline inside the upload request.
	ModeSync = "sync"
	// ModeAsync stores the recording and hands analysis to the worker.
	ModeAsync = "async"
)

// Store reads recordings.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	List(ctx context.Context, limit, offset int) ([]models.Recording, error)
}

// Pipeline is the part of the orchestrator the upload endpoint drives.
type Pipeline interface {
	Ingest(ctx context.Context, title string, blob capture.Blob) (*models.Recording, error)
	Process(ctx context.Context, title string, blob capture.Blob) (*pipeline.Result, error)
}

// Enqueuer hands analysis jobs to the worker.
type Enqueuer interface {
	EnqueueAnalysis(ctx context.Context, payload queue.AnalyzePayload) (*queue.Job, error)
}

// Presigner produces download URLs for stored recordings.
type Presigner interface {
	PresignedURL(ctx context.Context, key string) (string, error)
	PresignExpire() time.Duration
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	store     Store
	pipeline  Pipeline
	jobs      Enqueuer
	presigner Presigner
	maxUpload int64
	logger    *zap.Logger
}

// NewHandler creates a recordings handler. maxUpload bounds the uploaded file in bytes.
func NewHandler(store Store, p Pipeline, jobs Enqueuer, presigner Presigner, maxUpload int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, pipeline: p, jobs: jobs, presigner: presigner, maxUpload: maxUpload, logger: logger}
}

// Upload handles POST /recordings (multipart: file, title, mode).
func (h *Handler) Upload(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)
	}
	mode := strings.ToLower(c.DefaultPostForm("mode", ModeAsync))
	if mode != ModeSync && mode != ModeAsync {
		response.BadRequest(c, "mode must be sync or async")
		return
	}
	title := strings.TrimSpace(c.PostForm("title"))

	blob, err := h.readBlob(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, errTooLarge) {
			response.TooLarge(c, "recording too large")
			return
		}
		response.BadRequest(c, err.Error())
		return
	}

	runID := uuid.New()
	// the run outlives a client that disconnects mid-upload
	ctx := pipeline.WithRunID(context.WithoutCancel(c.Request.Context()), runID)

	if mode == ModeSync {
		res, err := h.pipeline.Process(ctx, title, blob)
		if err != nil {
			h.runFailed(c, runID, err)
			return
		}
		response.Created(c, gin.H{
			"run_id":    runID,
			"recording": res.Recording,
			"report":    res.Report,
			"delivery":  res.Delivery,
		})
		return
	}

	rec, err := h.pipeline.Ingest(ctx, title, blob)
	if err != nil {
		h.runFailed(c, runID, err)
		return
	}
	job, err := h.jobs.EnqueueAnalysis(ctx, queue.AnalyzePayload{RecordingID: rec.ID, RunID: runID})
	if err != nil {
		h.logger.Error("enqueue analysis failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		response.Internal(c, "recording stored but analysis could not be queued")
		return
	}
	response.Accepted(c, gin.H{"run_id": runID, "job_id": job.ID, "recording": rec})
}

var errTooLarge = errors.New("recording too large")

func (h *Handler) readBlob(c *gin.Context) (capture.Blob, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return capture.Blob{}, err
		}
		return capture.Blob{}, errors.New("file is required")
	}
	if h.maxUpload > 0 && fh.Size > h.maxUpload {
		return capture.Blob{}, errTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return capture.Blob{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return capture.Blob{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return capture.Blob{}, errors.New("file is empty")
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "video/") {
		return capture.Blob{}, fmt.Errorf("unsupported content type %q", contentType)
	}
	return capture.Blob{Data: data, MIMEType: contentType}, nil
}

func (h *Handler) runFailed(c *gin.Context, runID uuid.UUID, err error) {
	stage, _ := pipeline.FailedStage(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrAlreadyFinalized), errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrCapture):
		status = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrTransport), errors.Is(err, pipeline.ErrDelivery), errors.Is(err, pipeline.ErrAnalysis):
		status = http.StatusBadGateway
	}
	h.logger.Error("pipeline run failed", zap.String("run_id", runID.String()), zap.String("stage", string(stage)), zap.Error(err))
	response.StageFailed(c, status, string(stage), err.Error())
}

// Get handles GET /recordings/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrInternal(c, err, id)
		return
	}
	response.OK(c, rec)
}

// List handles GET /recordings?limit=&offset=.
func (h *Handler) List(c *gin.Context) {
	limit, offset := response.Page(c)
	list, err := h.store.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err))
		response.Internal(c, "failed to list recordings")
		return
	}
	response.OK(c, list)
}

// GenerateDownloadURL handles GET /recordings/:id/download-url. Returns a presigned URL.
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrInternal(c, err, id)
		return
	}
	if h.presigner == nil {
		response.ServiceUnavailable(c, "S3 not configured")
		return
	}
	url, err := h.presigner.PresignedURL(c.Request.Context(), rec.StoragePath)
	if err != nil {
		h.logger.Error("presign recording download failed", zap.Error(err), zap.String("recording_id", id.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(h.presigner.PresignExpire().Seconds())})
}

// Analyze handles POST /recordings/:id/analyze: a manual re-run after a failed run.
func (h *Handler) Analyze(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrInternal(c, err, id)
		return
	}
	if rec.Status == models.RecordingStatusReportFinalized {
		response.Conflict(c, "recording already has a report")
		return
	}
	runID := uuid.New()
	job, err := h.jobs.EnqueueAnalysis(c.Request.Context(), queue.AnalyzePayload{RecordingID: id, RunID: runID})
	if err != nil {
		h.logger.Error("enqueue analysis failed", zap.Error(err), zap.String("recording_id", id.String()))
		response.Internal(c, "failed to queue analysis")
		return
	}
	response.Accepted(c, gin.H{"run_id": runID, "job_id": job.ID})
}

func (h *Handler) notFoundOrInternal(c *gin.Context, err error, id uuid.UUID) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "recording not found")
		return
	}
	h.logger.Error("get recording failed", zap.Error(err), zap.String("recording_id", id.String()))
	response.Internal(c, "failed to load recording")
}
