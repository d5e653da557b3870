package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// WebMMIMEType is the container produced by FFmpegSource.
	WebMMIMEType = "video/webm"
	// stopGrace is how long ffmpeg gets to flush after SIGINT before it is killed.
	stopGrace      = 10 * time.Second
	maxStderrBytes = 4096
)

// FFmpegConfig selects the capture device. Empty fields use per-OS defaults.
type FFmpegConfig struct {
	Binary      string // ffmpeg executable; looked up on PATH when empty
	InputFormat string // x11grab, avfoundation, gdigrab
	Input       string // display / device name
	FrameRate   int
}

// FFmpegSource captures the desktop through an ffmpeg child process encoding WebM (VP8, no audio) to a pipe.
type FFmpegSource struct {
	cfg FFmpegConfig
	log *zap.Logger
}

// NewFFmpegSource creates a screen source, filling unset device fields for the current OS.
func NewFFmpegSource(cfg FFmpegConfig, log *zap.Logger) *FFmpegSource {
	if log == nil {
		log = zap.NewNop()
	}
	def := defaultDevice(runtime.GOOS)
	if cfg.InputFormat == "" {
		cfg.InputFormat = def.InputFormat
	}
	if cfg.Input == "" {
		cfg.Input = def.Input
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 15
	}
	return &FFmpegSource{cfg: cfg, log: log}
}

func defaultDevice(goos string) FFmpegConfig {
	switch goos {
	case "darwin":
		return FFmpegConfig{InputFormat: "avfoundation", Input: "1:none"}
	case "windows":
		return FFmpegConfig{InputFormat: "gdigrab", Input: "desktop"}
	default:
		display := os.Getenv("DISPLAY")
		if display == "" {
			display = ":0.0"
		}
		return FFmpegConfig{InputFormat: "x11grab", Input: display}
	}
}

// Args returns the ffmpeg argument list for this source.
func (s *FFmpegSource) Args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", s.cfg.InputFormat,
		"-framerate", strconv.Itoa(s.cfg.FrameRate),
		"-i", s.cfg.Input,
		"-an",
		"-c:v", "libvpx", "-deadline", "realtime", "-b:v", "1M",
		"-f", "webm", "pipe:1",
	}
}

// Open starts ffmpeg. The process is not bound to ctx; it ends through Finish or Close.
func (s *FFmpegSource) Open(_ context.Context) (Stream, error) {
	bin := s.cfg.Binary
	if bin == "" {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg not found on PATH", ErrAcquire)
		}
		bin = path
	}

	// os.Pipe rather than StdoutPipe so cmd.Wait can run while reads are still in progress.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: pipe: %v", ErrAcquire, err)
	}
	stderr := &tailBuffer{max: maxStderrBytes}
	cmd := exec.Command(bin, s.Args()...)
	cmd.Stdout = pw
	cmd.Stderr = stderr
	detach(cmd)
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("%w: %s", ErrAcquire, classifyStartError(err))
	}
	_ = pw.Close()

	st := &ffmpegStream{cmd: cmd, out: pr, stderr: stderr, exited: make(chan struct{}), log: s.log}
	go func() {
		st.waitErr = cmd.Wait()
		close(st.exited)
	}()
	s.log.Info("ffmpeg capture started", zap.String("input_format", s.cfg.InputFormat), zap.String("input", s.cfg.Input), zap.Int("pid", cmd.Process.Pid))
	return st, nil
}

func classifyStartError(err error) string {
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return "command_not_found"
	}
	if errors.Is(err, os.ErrPermission) {
		return "permission_denied"
	}
	return "start_failed: " + err.Error()
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	out    *os.File
	stderr *tailBuffer
	log    *zap.Logger

	exited  chan struct{}
	waitErr error

	mu        sync.Mutex
	finishing bool
	closeOnce sync.Once
}

func (s *ffmpegStream) MIMEType() string { return WebMMIMEType }

func (s *ffmpegStream) Read(p []byte) (int, error) {
	n, err := s.out.Read(p)
	if err == io.EOF {
		<-s.exited
		s.mu.Lock()
		finishing := s.finishing
		s.mu.Unlock()
		// ffmpeg exits 255 after SIGINT; only an unrequested exit is a failure.
		if s.waitErr != nil && !finishing {
			return n, fmt.Errorf("%w: ffmpeg: %v: %s", ErrSourceEnded, s.waitErr, s.stderr.String())
		}
	}
	return n, err
}

func (s *ffmpegStream) Finish() error {
	s.mu.Lock()
	if s.finishing {
		s.mu.Unlock()
		return nil
	}
	s.finishing = true
	s.mu.Unlock()

	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		// Interrupt is unsupported on Windows.
		_ = s.cmd.Process.Kill()
	}
	go func() {
		select {
		case <-s.exited:
		case <-time.After(stopGrace):
			s.log.Warn("ffmpeg did not exit after interrupt; killing", zap.Int("pid", s.cmd.Process.Pid))
			_ = s.cmd.Process.Kill()
		}
	}()
	return nil
}

func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.finishing = true
		s.mu.Unlock()
		select {
		case <-s.exited:
		default:
			_ = s.cmd.Process.Kill()
			<-s.exited
		}
		_ = s.out.Close()
	})
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
