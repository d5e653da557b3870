package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/screenbug/backend/internal/delivery"
	"github.com/screenbug/backend/internal/models"
	"github.com/screenbug/backend/internal/reports"
)

var errRecordingNotFound = errors.New("recording not found")

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
	getErr  error
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *fakeStore) Put(_ context.Context, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return "", s.putErr
	}
	path := fmt.Sprintf("recordings/recording-%d.webm", s.puts)
	s.objects[path] = append([]byte(nil), data...)
	s.types[path] = contentType
	return path, nil
}

func (s *fakeStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	data, ok := s.objects[path]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return data, nil
}

func (s *fakeStore) PublicURL(path string) string { return "https://cdn.test/" + path }

// fakeLedger is an in-memory ledger that enforces compare-and-set status advances
// and one report per recording.
type fakeLedger struct {
	mu        sync.Mutex
	recs      map[uuid.UUID]*models.Recording
	history   map[uuid.UUID][]models.RecordingStatus
	reports   []*models.BugReport
	createErr error
	insertErr error
	// finalizeErr fails the next advance to report_finalized, once.
	finalizeErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{recs: map[uuid.UUID]*models.Recording{}, history: map[uuid.UUID][]models.RecordingStatus{}}
}

func (l *fakeLedger) Create(_ context.Context, in models.NewRecording) (*models.Recording, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.createErr != nil {
		return nil, l.createErr
	}
	rec := &models.Recording{
		ID: uuid.New(), StoragePath: in.StoragePath, ContentType: in.ContentType, SizeBytes: in.SizeBytes,
		Status: models.RecordingStatusPendingCaptureUpload, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if in.Title != "" {
		t := in.Title
		rec.Title = &t
	}
	l.recs[rec.ID] = rec
	l.history[rec.ID] = []models.RecordingStatus{rec.Status}
	cp := *rec
	return &cp, nil
}

// seed stores a recording at the given status.
func (l *fakeLedger) seed(path string, status models.RecordingStatus) *models.Recording {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := &models.Recording{ID: uuid.New(), StoragePath: path, ContentType: "video/webm", Status: status}
	l.recs[rec.ID] = rec
	l.history[rec.ID] = []models.RecordingStatus{status}
	cp := *rec
	return &cp
}

func (l *fakeLedger) GetByID(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.recs[id]
	if !ok {
		return nil, errRecordingNotFound
	}
	cp := *rec
	return &cp, nil
}

func (l *fakeLedger) AdvanceStatus(_ context.Context, id uuid.UUID, next models.RecordingStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.recs[id]
	if !ok {
		return errRecordingNotFound
	}
	if err := models.ValidateTransition(rec.Status, next); err != nil {
		return err
	}
	if next == models.RecordingStatusReportFinalized && l.finalizeErr != nil {
		err := l.finalizeErr
		l.finalizeErr = nil
		return err
	}
	rec.Status = next
	l.history[id] = append(l.history[id], next)
	return nil
}

func (l *fakeLedger) Insert(_ context.Context, in models.NewBugReport) (*models.BugReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.insertErr != nil {
		return nil, l.insertErr
	}
	for _, r := range l.reports {
		if r.RecordingID == in.RecordingID {
			return nil, fmt.Errorf("%w: %s", reports.ErrDuplicateReport, in.RecordingID)
		}
	}
	sev := in.Severity
	rep := &models.BugReport{ID: uuid.New(), RecordingID: in.RecordingID, Title: in.Title, RawMarkdown: in.RawMarkdown, Severity: &sev}
	l.reports = append(l.reports, rep)
	return rep, nil
}

func (l *fakeLedger) GetByRecordingID(_ context.Context, recordingID uuid.UUID) (*models.BugReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.reports {
		if r.RecordingID == recordingID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, reports.ErrNotFound
}

func (l *fakeLedger) recordingIDs() []uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(l.recs))
	for id := range l.recs {
		ids = append(ids, id)
	}
	return ids
}

func (l *fakeLedger) status(id uuid.UUID) models.RecordingStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recs[id].Status
}

func (l *fakeLedger) reportCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reports)
}

type fakeTransport struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (t *fakeTransport) Deliver(_ context.Context, data []byte, mimeType string) (*delivery.Payload, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	return &delivery.Payload{Kind: delivery.KindInline, MIMEType: mimeType, Data: data}, nil
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	// gate, when set, holds every call until it is released.
	gate *sync.WaitGroup
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ *delivery.Payload) (string, error) {
	a.mu.Lock()
	a.calls++
	gate := a.gate
	a.mu.Unlock()
	if gate != nil {
		gate.Done()
		gate.Wait()
	}
	return a.text, a.err
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) Observe(_ context.Context, ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) states() []State {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]State, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.State)
	}
	return out
}

func (e *eventLog) last() Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[len(e.events)-1]
}

type instantTimer struct{ c chan time.Time }

func (t *instantTimer) Start(time.Duration) { t.c <- time.Time{} }
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }
