package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screenbug/backend/internal/capture"
	"github.com/screenbug/backend/internal/delivery"
	"github.com/screenbug/backend/internal/models"
	"github.com/screenbug/backend/internal/pipeline"
	"github.com/screenbug/backend/pkg/queue"
)

type fakeStore struct {
	recs map[uuid.UUID]*models.Recording
	err  error
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) List(_ context.Context, limit, offset int) ([]models.Recording, error) {
	out := []models.Recording{}
	for _, r := range f.recs {
		out = append(out, *r)
	}
	return out, f.err
}

type fakePipeline struct {
	blob    capture.Blob
	title   string
	runID   uuid.UUID
	err     error
	process bool
}

func (f *fakePipeline) Ingest(ctx context.Context, title string, blob capture.Blob) (*models.Recording, error) {
	f.blob, f.title = blob, title
	f.runID, _ = pipeline.RunIDFromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Recording{ID: uuid.New(), Status: models.RecordingStatusPendingCaptureUpload, ContentType: blob.MIMEType}, nil
}

func (f *fakePipeline) Process(ctx context.Context, title string, blob capture.Blob) (*pipeline.Result, error) {
	f.process = true
	rec, err := f.Ingest(ctx, title, blob)
	if err != nil {
		return nil, err
	}
	rec.Status = models.RecordingStatusReportFinalized
	sev := models.SeverityMajor
	return &pipeline.Result{RunID: f.runID, Recording: rec, Report: &models.BugReport{ID: uuid.New(), RecordingID: rec.ID, Severity: &sev}, Delivery: delivery.KindInline}, nil
}

type fakeJobs struct {
	payloads []queue.AnalyzePayload
	err      error
}

func (f *fakeJobs) EnqueueAnalysis(_ context.Context, p queue.AnalyzePayload) (*queue.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, p)
	return &queue.Job{ID: fmt.Sprintf("job-%d", len(f.payloads))}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignedURL(_ context.Context, key string) (string, error) {
	return "https://signed.example/" + key, nil
}
func (fakePresigner) PresignExpire() time.Duration { return 15 * time.Minute }

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/recordings", h.Upload)
	r.GET("/recordings", h.List)
	r.GET("/recordings/:id", h.Get)
	r.GET("/recordings/:id/download-url", h.GenerateDownloadURL)
	r.POST("/recordings/:id/analyze", h.Analyze)
	return r
}

func uploadRequest(t *testing.T, fields map[string]string, data []byte, contentType string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if data != nil {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="file"; filename="recording.webm"`)
		hdr.Set("Content-Type", contentType)
		part, err := w.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/recordings", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Stage   string          `json:"stage"`
}

func serve(r *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestUploadAsyncEnqueues(t *testing.T) {
	p := &fakePipeline{}
	jobs := &fakeJobs{}
	r := newRouter(NewHandler(&fakeStore{}, p, jobs, fakePresigner{}, 1<<20, nil))

	w, env := serve(r, uploadRequest(t, map[string]string{"title": " Crash on save "}, []byte("webm-bytes"), "video/webm"))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, "Crash on save", p.title)
	assert.Equal(t, "video/webm", p.blob.MIMEType)
	assert.Equal(t, []byte("webm-bytes"), p.blob.Data)
	assert.False(t, p.process)

	require.Len(t, jobs.payloads, 1)
	assert.Equal(t, p.runID, jobs.payloads[0].RunID)
	var data struct {
		RunID uuid.UUID `json:"run_id"`
		JobID string    `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, p.runID, data.RunID)
	assert.Equal(t, "job-1", data.JobID)
}

func TestUploadSyncRunsPipeline(t *testing.T) {
	p := &fakePipeline{}
	jobs := &fakeJobs{}
	r := newRouter(NewHandler(&fakeStore{}, p, jobs, nil, 1<<20, nil))

	w, env := serve(r, uploadRequest(t, map[string]string{"mode": "sync"}, []byte("webm"), "video/webm"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, p.process)
	assert.Empty(t, jobs.payloads)
	assert.Contains(t, string(env.Data), `"delivery":"inline"`)
}

func TestUploadSyncStageFailure(t *testing.T) {
	p := &fakePipeline{err: &pipeline.StageError{Stage: pipeline.StateAnalyzing, Err: fmt.Errorf("%w: empty", pipeline.ErrAnalysis)}}
	r := newRouter(NewHandler(&fakeStore{}, p, &fakeJobs{}, nil, 1<<20, nil))

	w, env := serve(r, uploadRequest(t, map[string]string{"mode": "sync"}, []byte("webm"), "video/webm"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "analyzing", env.Stage)
	assert.Contains(t, env.Error, "analysis error")
}

func TestUploadRejects(t *testing.T) {
	r := newRouter(NewHandler(&fakeStore{}, &fakePipeline{}, &fakeJobs{}, nil, 16, nil))
	tests := []struct {
		name string
		req  *http.Request
		code int
	}{
		{"missing file", uploadRequest(t, nil, nil, ""), http.StatusBadRequest},
		{"empty file", uploadRequest(t, nil, []byte{}, "video/webm"), http.StatusBadRequest},
		{"not video", uploadRequest(t, nil, []byte("hello"), "text/plain"), http.StatusBadRequest},
		{"bad mode", uploadRequest(t, map[string]string{"mode": "later"}, []byte("v"), "video/webm"), http.StatusBadRequest},
		{"too large", uploadRequest(t, nil, bytes.Repeat([]byte("v"), 32), "video/webm"), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := serve(r, tt.req)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestUploadQueueDown(t *testing.T) {
	r := newRouter(NewHandler(&fakeStore{}, &fakePipeline{}, &fakeJobs{err: errors.New("redis down")}, nil, 1<<20, nil))
	w, _ := serve(r, uploadRequest(t, nil, []byte("v"), "video/webm"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetAndDownloadURL(t *testing.T) {
	rec := &models.Recording{ID: uuid.New(), StoragePath: "recordings/a.webm", Status: models.RecordingStatusAnalysisStarted}
	store := &fakeStore{recs: map[uuid.UUID]*models.Recording{rec.ID: rec}}
	r := newRouter(NewHandler(store, &fakePipeline{}, &fakeJobs{}, fakePresigner{}, 0, nil))

	w, env := serve(r, httptest.NewRequest(http.MethodGet, "/recordings/"+rec.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"status":"analysis_started"`)

	w, env = serve(r, httptest.NewRequest(http.MethodGet, "/recordings/"+rec.ID.String()+"/download-url", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "https://signed.example/recordings/a.webm")
	assert.Contains(t, string(env.Data), `"expires_in":900`)

	w, _ = serve(r, httptest.NewRequest(http.MethodGet, "/recordings/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = serve(r, httptest.NewRequest(http.MethodGet, "/recordings/nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRecordings(t *testing.T) {
	rec := &models.Recording{ID: uuid.New()}
	r := newRouter(NewHandler(&fakeStore{recs: map[uuid.UUID]*models.Recording{rec.ID: rec}}, &fakePipeline{}, &fakeJobs{}, nil, 0, nil))
	w, env := serve(r, httptest.NewRequest(http.MethodGet, "/recordings?limit=500", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), rec.ID.String())
}

func TestAnalyzeRerun(t *testing.T) {
	stuck := &models.Recording{ID: uuid.New(), Status: models.RecordingStatusAnalysisStarted}
	done := &models.Recording{ID: uuid.New(), Status: models.RecordingStatusReportFinalized}
	jobs := &fakeJobs{}
	store := &fakeStore{recs: map[uuid.UUID]*models.Recording{stuck.ID: stuck, done.ID: done}}
	r := newRouter(NewHandler(store, &fakePipeline{}, jobs, nil, 0, nil))

	w, _ := serve(r, httptest.NewRequest(http.MethodPost, "/recordings/"+stuck.ID.String()+"/analyze", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, jobs.payloads, 1)
	assert.Equal(t, stuck.ID, jobs.payloads[0].RecordingID)

	w, _ = serve(r, httptest.NewRequest(http.MethodPost, "/recordings/"+done.ID.String()+"/analyze", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Len(t, jobs.payloads, 1)
}
