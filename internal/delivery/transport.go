package delivery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Transport delivers media with the strategies selected by its mode.
// In fallback mode the reference strategy runs first and inline runs at most once after it is abandoned.
type Transport struct {
	strategies []Strategy
	log        *zap.Logger
}

// NewTransport builds a transport for mode.
func NewTransport(mode Mode, reference, inline Strategy, log *zap.Logger) (*Transport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var list []Strategy
	switch mode {
	case ModeFallback, "":
		list = []Strategy{reference, inline}
	case ModeReference:
		list = []Strategy{reference}
	case ModeInline:
		list = []Strategy{inline}
	default:
		return nil, fmt.Errorf("unknown delivery mode %q", mode)
	}
	for _, s := range list {
		if s == nil {
			return nil, fmt.Errorf("delivery mode %s: missing strategy", mode)
		}
	}
	return &Transport{strategies: list, log: log}, nil
}

// Deliver returns the first payload produced. When every strategy is abandoned the error wraps ErrDelivery
// and each *StrategyError.
func (t *Transport) Deliver(ctx context.Context, data []byte, mimeType string) (*Payload, error) {
	var errs []error
	for _, s := range t.strategies {
		p, err := s.Deliver(ctx, data, mimeType)
		if err == nil {
			t.log.Info("media delivered", zap.String("strategy", string(s.Name())), zap.Int("bytes", len(data)))
			return p, nil
		}
		errs = append(errs, &StrategyError{Strategy: s.Name(), Err: err})
		if ctx.Err() != nil {
			break
		}
		t.log.Warn("delivery strategy abandoned", zap.String("strategy", string(s.Name())), zap.Error(err))
	}
	return nil, fmt.Errorf("%w: %w", ErrDelivery, errors.Join(errs...))
}
