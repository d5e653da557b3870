// Package capture records the screen into a single in-memory media blob.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxDuration is the hard wall-clock limit of one capture.
const DefaultMaxDuration = 5 * time.Minute

var (
	// ErrAcquire means the capture source could not be opened (missing device, permission denied).
	ErrAcquire = errors.New("capture source unavailable")
	// ErrSourceEnded means the source stopped with an error or produced no media.
	ErrSourceEnded = errors.New("capture source ended unexpectedly")
	// ErrCanceled means the capture was abandoned before a blob was finalized.
	ErrCanceled = errors.New("capture canceled")
	// ErrState is returned for Start after Start, or Stop without Start.
	ErrState = errors.New("capture controller in wrong state")
)

// Blob is one finalized, immutable recording.
type Blob struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
}

// Size returns the blob length in bytes.
func (b Blob) Size() int64 { return int64(len(b.Data)) }

// Source acquires a media stream from a user-granted device.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired capture. Read yields encoded media and returns io.EOF once the
// source has ended; a source that fails on its own returns an error wrapping ErrSourceEnded.
type Stream interface {
	io.Reader
	MIMEType() string
	// Finish asks the source to flush and end; pending data stays readable.
	Finish() error
	// Close releases every resource held by the stream. It is safe to call more than once.
	Close() error
}

// Controller drives a single capture: Start arms the deadline, Stop finalizes the blob.
type Controller struct {
	source      Source
	maxDuration time.Duration
	log         *zap.Logger

	mu        sync.Mutex
	stream    Stream
	buf       bytes.Buffer
	startedAt time.Time
	timer     *time.Timer
	copied    chan struct{} // closed when the stream reached EOF or failed
	ended     chan struct{} // closed on source end or deadline
	endOnce   sync.Once
	finOnce   sync.Once
	readErr   error
	finished  bool
}

// NewController creates a capture controller; maxDuration <= 0 uses DefaultMaxDuration.
func NewController(source Source, maxDuration time.Duration, log *zap.Logger) *Controller {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{source: source, maxDuration: maxDuration, log: log}
}

// MaxDuration returns the armed deadline length.
func (c *Controller) MaxDuration() time.Duration { return c.maxDuration }

// Start opens the source and arms the hard deadline. At the deadline the source is finished,
// so nothing is recorded past it even if Stop comes later.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil || c.finished {
		return fmt.Errorf("%w: already started", ErrState)
	}
	stream, err := c.source.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrAcquire) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrAcquire, err)
	}
	c.stream = stream
	c.startedAt = time.Now()
	c.copied = make(chan struct{})
	c.ended = make(chan struct{})
	c.timer = time.AfterFunc(c.maxDuration, func() {
		c.log.Info("capture deadline reached", zap.Duration("max_duration", c.maxDuration))
		c.finish(stream)
		c.end()
	})
	go c.copy(stream)
	c.log.Info("capture started", zap.String("mime_type", stream.MIMEType()), zap.Duration("max_duration", c.maxDuration))
	return nil
}

func (c *Controller) copy(stream Stream) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := stream.Read(chunk)
		if n > 0 {
			c.mu.Lock()
			c.buf.Write(chunk[:n])
			c.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
			}
			break
		}
	}
	close(c.copied)
	c.end()
}

// finish asks the source to end at most once; the deadline and Stop both call it.
func (c *Controller) finish(stream Stream) {
	c.finOnce.Do(func() {
		if err := stream.Finish(); err != nil {
			c.log.Warn("capture finish failed", zap.Error(err))
		}
	})
}

func (c *Controller) end() {
	c.endOnce.Do(func() { close(c.ended) })
}

// Ended is closed when the capture should be finalized without a user stop:
// the source ended itself or the deadline expired. It is nil before Start.
func (c *Controller) Ended() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// Stop finalizes the capture and returns the recorded blob. Resources are released
// whether or not a blob could be produced.
func (c *Controller) Stop() (Blob, error) {
	c.mu.Lock()
	stream := c.stream
	if stream == nil || c.finished {
		c.mu.Unlock()
		return Blob{}, fmt.Errorf("%w: not started", ErrState)
	}
	c.mu.Unlock()

	defer c.release()

	c.finish(stream)
	<-c.copied

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return Blob{}, fmt.Errorf("%w: %v", ErrSourceEnded, c.readErr)
	}
	if c.buf.Len() == 0 {
		return Blob{}, fmt.Errorf("%w: no media recorded", ErrSourceEnded)
	}
	data := make([]byte, c.buf.Len())
	copy(data, c.buf.Bytes())
	blob := Blob{
		Data:     data,
		MIMEType: stream.MIMEType(),
		Duration: time.Since(c.startedAt),
	}
	c.log.Info("capture finalized", zap.Int64("size", blob.Size()), zap.Duration("duration", blob.Duration))
	return blob, nil
}

// Abort discards the capture and releases its resources.
func (c *Controller) Abort() {
	c.mu.Lock()
	started := c.stream != nil && !c.finished
	c.mu.Unlock()
	if started {
		c.release()
		c.log.Info("capture aborted")
	}
}

func (c *Controller) release() {
	c.mu.Lock()
	stream, timer := c.stream, c.timer
	c.finished = true
	c.buf.Reset()
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			c.log.Warn("capture release failed", zap.Error(err))
		}
	}
	c.end()
}

// Record starts a capture and finalizes it on the first of: a value (or close) on stop,
// the source ending itself, or the deadline. Canceling ctx aborts with ErrCanceled.
func (c *Controller) Record(ctx context.Context, stop <-chan struct{}) (Blob, error) {
	if err := c.Start(ctx); err != nil {
		return Blob{}, err
	}
	select {
	case <-stop:
	case <-c.Ended():
	case <-ctx.Done():
		c.Abort()
		return Blob{}, fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
	}
	return c.Stop()
}
