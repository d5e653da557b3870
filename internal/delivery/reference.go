package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// FileState is the processing state reported by the file-staging endpoint.
type FileState string

const (
	FileStateProcessing FileState = "PROCESSING"
	FileStateActive     FileState = "ACTIVE"
	FileStateFailed     FileState = "FAILED"
)

// StagedFile is a file held by the model provider's staging endpoint.
type StagedFile struct {
	Name     string
	URI      string
	MIMEType string
	State    FileState
}

// FileStager uploads media to the model provider and reports its processing state.
type FileStager interface {
	Upload(ctx context.Context, data []byte, mimeType string) (*StagedFile, error)
	Get(ctx context.Context, name string) (*StagedFile, error)
}

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollCap      = 30 * time.Second
)

// PollPolicy bounds readiness polling: one initial check, then Cap/Interval re-checks Interval apart.
// Timer is nil in production; tests inject one to avoid waiting.
type PollPolicy struct {
	Interval time.Duration
	Cap      time.Duration
	Timer    backoff.Timer
}

// DefaultPollPolicy polls every 2s for up to 30s.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Interval: DefaultPollInterval, Cap: DefaultPollCap}
}

// Rechecks returns how many checks follow the initial one.
func (p PollPolicy) Rechecks() uint64 {
	if p.Interval <= 0 || p.Cap <= 0 {
		return 0
	}
	return uint64(p.Cap / p.Interval)
}

func (p PollPolicy) backOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), p.Rechecks()), ctx)
}

// ReferenceStrategy uploads media to the file-staging endpoint and waits for it to become active.
// It never retries the upload.
type ReferenceStrategy struct {
	stager FileStager
	policy PollPolicy
	log    *zap.Logger
}

// NewReferenceStrategy creates a reference strategy over stager.
func NewReferenceStrategy(stager FileStager, policy PollPolicy, log *zap.Logger) *ReferenceStrategy {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReferenceStrategy{stager: stager, policy: policy, log: log}
}

// Name implements Strategy.
func (s *ReferenceStrategy) Name() Kind { return KindReference }

// Deliver implements Strategy.
func (s *ReferenceStrategy) Deliver(ctx context.Context, data []byte, mimeType string) (*Payload, error) {
	file, err := s.stager.Upload(ctx, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	s.log.Info("media staged", zap.String("file", file.Name), zap.String("state", string(file.State)))

	checks := 0
	poll := func() error {
		if file.State != FileStateActive {
			checks++
			f, err := s.stager.Get(ctx, file.Name)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("get file state: %w", err))
			}
			file = f
		}
		switch file.State {
		case FileStateActive:
			return nil
		case FileStateProcessing:
			return ErrNotReady
		default:
			return backoff.Permanent(fmt.Errorf("%w: state %s", ErrFileFailed, file.State))
		}
	}
	notify := func(err error, wait time.Duration) {
		s.log.Debug("staged file not active yet", zap.String("file", file.Name), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotifyWithTimer(poll, s.policy.backOff(ctx), notify, s.policy.Timer); err != nil {
		s.log.Warn("reference delivery abandoned", zap.String("file", file.Name), zap.Int("checks", checks), zap.Error(err))
		return nil, err
	}
	return &Payload{Kind: KindReference, MIMEType: mimeType, URI: file.URI, Name: file.Name}, nil
}
