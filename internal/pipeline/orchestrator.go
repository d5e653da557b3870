// Package pipeline sequences capture, upload, delivery, analysis and persistence for one recording
// and owns the run state machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/screenbug/backend/internal/capture"
	"github.com/screenbug/backend/internal/delivery"
	"github.com/screenbug/backend/internal/extract"
	"github.com/screenbug/backend/internal/models"
	"github.com/screenbug/backend/internal/reports"
)

// ArtifactStore holds raw recordings.
type ArtifactStore interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
	PublicURL(path string) string
}

// RecordingLedger persists recordings and their status.
type RecordingLedger interface {
	Create(ctx context.Context, in models.NewRecording) (*models.Recording, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	AdvanceStatus(ctx context.Context, id uuid.UUID, next models.RecordingStatus) error
}

// ReportLedger persists bug reports. GetByRecordingID returns reports.ErrNotFound when the recording has none.
type ReportLedger interface {
	Insert(ctx context.Context, in models.NewBugReport) (*models.BugReport, error)
	GetByRecordingID(ctx context.Context, recordingID uuid.UUID) (*models.BugReport, error)
}

// Deliverer hands media to the model endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, data []byte, mimeType string) (*delivery.Payload, error)
}

// Analyzer runs the single inference call.
type Analyzer interface {
	Analyze(ctx context.Context, media *delivery.Payload) (string, error)
}

// Recorder produces one finalized capture.
type Recorder interface {
	Record(ctx context.Context) (capture.Blob, error)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context) (capture.Blob, error)

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context) (capture.Blob, error) { return f(ctx) }

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store      ArtifactStore
	Recordings RecordingLedger
	Reports    ReportLedger
	Transport  Deliverer
	Analyzer   Analyzer
	Observer   Observer
	Logger     *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs the pipeline. It holds no per-run state and is safe for concurrent use.
type Orchestrator struct {
	store      ArtifactStore
	recordings RecordingLedger
	reports    ReportLedger
	transport  Deliverer
	analyzer   Analyzer
	observer   Observer
	log        *zap.Logger
	now        func() time.Time
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		store:      d.Store,
		recordings: d.Recordings,
		reports:    d.Reports,
		transport:  d.Transport,
		analyzer:   d.Analyzer,
		observer:   d.Observer,
		log:        d.Logger,
		now:        d.Now,
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.observer == nil {
		o.observer = ObserverFunc(func(context.Context, Event) {})
	}
	return o
}

// Result is the outcome of a successful run.
type Result struct {
	RunID     uuid.UUID
	Recording *models.Recording
	Report    *models.BugReport
	Delivery  delivery.Kind
}

// run tracks one pass through the state machine.
type run struct {
	o           *Orchestrator
	id          uuid.UUID
	state       State
	recordingID *uuid.UUID
	log         *zap.Logger
}

func (o *Orchestrator) newRun(ctx context.Context, from State) *run {
	id, ok := RunIDFromContext(ctx)
	if !ok {
		id = uuid.New()
	}
	return &run{o: o, id: id, state: from, log: o.log.With(zap.String("run_id", id.String()))}
}

func (r *run) setRecording(id uuid.UUID) {
	r.recordingID = &id
	r.log = r.log.With(zap.String("recording_id", id.String()))
}

func (r *run) to(ctx context.Context, next State) {
	if !r.state.CanTransition(next) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", r.state, next))
	}
	r.state = next
	r.log.Debug("run state", zap.String("state", string(next)))
	r.o.observer.Observe(ctx, Event{RunID: r.id, RecordingID: r.recordingID, State: next, At: r.o.now()})
}

func (r *run) fail(ctx context.Context, kind, err error) error {
	se := stageErr(r.state, kind, err)
	r.log.Error("run failed", zap.String("stage", string(se.Stage)), zap.Error(se.Err))
	stage := r.state
	r.state = StateError
	r.o.observer.Observe(ctx, Event{
		RunID: r.id, RecordingID: r.recordingID, State: StateError,
		Stage: stage, Error: se.Err.Error(), At: r.o.now(),
	})
	return se
}

func (r *run) succeed(ctx context.Context, rep *models.BugReport) {
	r.state = StateSuccess
	id := rep.ID
	r.log.Info("run succeeded", zap.String("report_id", id.String()))
	r.o.observer.Observe(ctx, Event{RunID: r.id, RecordingID: r.recordingID, ReportID: &id, State: StateSuccess, At: r.o.now()})
}

// Run executes a whole run from Idle: capture, then everything Process does.
// Canceling ctx stops a capture in progress; once uploading starts the run completes or fails.
func (o *Orchestrator) Run(ctx context.Context, title string, rec Recorder) (*Result, error) {
	r := o.newRun(ctx, StateIdle)
	r.to(ctx, StateCapturing)
	blob, err := rec.Record(ctx)
	if err != nil {
		return nil, r.fail(ctx, ErrCapture, err)
	}
	r.log.Info("capture finalized", zap.Int64("bytes", blob.Size()), zap.Duration("duration", blob.Duration))
	ctx = context.WithoutCancel(ctx)
	return r.process(ctx, title, blob)
}

// Process stores a finalized blob and analyzes it in the same run.
func (o *Orchestrator) Process(ctx context.Context, title string, blob capture.Blob) (*Result, error) {
	return o.newRun(ctx, StateIdle).process(ctx, title, blob)
}

// Ingest stores a finalized blob and creates its recording, leaving the run in Uploading
// for a later Analyze with the same run id.
func (o *Orchestrator) Ingest(ctx context.Context, title string, blob capture.Blob) (*models.Recording, error) {
	r := o.newRun(ctx, StateIdle)
	return r.ingest(ctx, title, blob)
}

// Analyze delivers, analyzes and saves a report for a recording that was already ingested.
// A recording left at analysis_started by a failed run is analyzed again without re-advancing,
// unless its report was already saved: then the run only finalizes it, without a model call.
func (o *Orchestrator) Analyze(ctx context.Context, recordingID uuid.UUID) (*Result, error) {
	r := o.newRun(ctx, StateUploading)
	r.setRecording(recordingID)
	r.to(ctx, StateDelivering)

	rec, err := o.recordings.GetByID(ctx, recordingID)
	if err != nil {
		return nil, r.fail(ctx, ErrPersistence, err)
	}
	if rec.Status == models.RecordingStatusReportFinalized {
		return nil, r.fail(ctx, ErrPersistence, ErrAlreadyFinalized)
	}
	if rec.Status == models.RecordingStatusAnalysisStarted {
		rep, err := o.reports.GetByRecordingID(ctx, rec.ID)
		switch {
		case err == nil:
			r.log.Info("report already saved; finalizing", zap.String("report_id", rep.ID.String()))
			r.to(ctx, StateSaving)
			return r.finalize(ctx, rec, rep, "")
		case !errors.Is(err, reports.ErrNotFound):
			return nil, r.fail(ctx, ErrPersistence, err)
		}
	}
	data, err := o.store.Get(ctx, rec.StoragePath)
	if err != nil {
		return nil, r.fail(ctx, ErrTransport, err)
	}
	return r.analyze(ctx, rec, data)
}

func (r *run) process(ctx context.Context, title string, blob capture.Blob) (*Result, error) {
	rec, err := r.ingest(ctx, title, blob)
	if err != nil {
		return nil, err
	}
	r.to(ctx, StateDelivering)
	return r.analyze(ctx, rec, blob.Data)
}

func (r *run) ingest(ctx context.Context, title string, blob capture.Blob) (*models.Recording, error) {
	r.to(ctx, StateUploading)
	if len(blob.Data) == 0 {
		return nil, r.fail(ctx, ErrCapture, capture.ErrSourceEnded)
	}
	contentType := blob.MIMEType
	if contentType == "" {
		contentType = capture.WebMMIMEType
	}
	path, err := r.o.store.Put(ctx, blob.Data, contentType)
	if err != nil {
		return nil, r.fail(ctx, ErrTransport, err)
	}
	rec, err := r.o.recordings.Create(ctx, models.NewRecording{
		Title:       title,
		StoragePath: path,
		ContentType: contentType,
		SizeBytes:   blob.Size(),
	})
	if err != nil {
		return nil, r.fail(ctx, ErrPersistence, err)
	}
	r.setRecording(rec.ID)
	r.log.Info("recording ingested", zap.String("storage_path", path))
	r.o.observer.Observe(ctx, Event{RunID: r.id, RecordingID: r.recordingID, State: StateUploading, At: r.o.now()})
	return rec, nil
}

// analyze runs Delivering through Success. The run must already be in Delivering.
func (r *run) analyze(ctx context.Context, rec *models.Recording, data []byte) (*Result, error) {
	if err := r.markAnalysisStarted(ctx, rec); err != nil {
		return nil, r.fail(ctx, ErrPersistence, err)
	}

	payload, err := r.o.transport.Deliver(ctx, data, rec.ContentType)
	if err != nil {
		return nil, r.fail(ctx, ErrDelivery, err)
	}

	r.to(ctx, StateAnalyzing)
	text, err := r.o.analyzer.Analyze(ctx, payload)
	if err != nil {
		return nil, r.fail(ctx, ErrAnalysis, err)
	}

	r.to(ctx, StateSaving)
	out := extract.Extract(text, r.o.store.PublicURL(rec.StoragePath))
	rep, err := r.o.reports.Insert(ctx, models.NewBugReport{
		RecordingID: rec.ID,
		Title:       extract.Title(rec.Title),
		RawMarkdown: out.Markdown,
		Severity:    out.Severity,
	})
	if err != nil {
		return nil, r.fail(ctx, ErrPersistence, err)
	}
	return r.finalize(ctx, rec, rep, payload.Kind)
}

// finalize advances a recording whose report is saved. The run must be in Saving.
func (r *run) finalize(ctx context.Context, rec *models.Recording, rep *models.BugReport, kind delivery.Kind) (*Result, error) {
	if err := r.o.recordings.AdvanceStatus(ctx, rec.ID, models.RecordingStatusReportFinalized); err != nil {
		return nil, r.fail(ctx, ErrPersistence, err)
	}
	rec.Status = models.RecordingStatusReportFinalized
	r.succeed(ctx, rep)
	return &Result{RunID: r.id, Recording: rec, Report: rep, Delivery: kind}, nil
}

// markAnalysisStarted advances a pending recording. A recording another run already advanced
// is left as is; the report's uniqueness settles which run wins.
func (r *run) markAnalysisStarted(ctx context.Context, rec *models.Recording) error {
	if rec.Status == models.RecordingStatusAnalysisStarted {
		r.log.Info("re-running analysis")
		return nil
	}
	err := r.o.recordings.AdvanceStatus(ctx, rec.ID, models.RecordingStatusAnalysisStarted)
	if err == nil {
		rec.Status = models.RecordingStatusAnalysisStarted
		return nil
	}
	if !errors.Is(err, models.ErrInvalidTransition) {
		return err
	}
	cur, gerr := r.o.recordings.GetByID(ctx, rec.ID)
	if gerr != nil || cur.Status != models.RecordingStatusAnalysisStarted {
		return err
	}
	rec.Status = cur.Status
	return nil
}
