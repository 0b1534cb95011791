// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recorder runs ffmpeg to cut a live source into numbered segment
// files in the capture directory.
package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ManuGH/camanchor/internal/metrics"
	"github.com/ManuGH/camanchor/internal/procgroup"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotRunning is returned when stopping a handle this recorder did not start.
	ErrNotRunning = errors.New("recorder not running")
	// ErrInvalidSource rejects unsupported source URIs.
	ErrInvalidSource = errors.New("invalid source uri")
)

// MaxSegmentSeconds bounds the segment length accepted by Start.
const MaxSegmentSeconds = 3600

var allowedSchemes = map[string]bool{
	"rtsp": true, "rtsps": true, "rtmp": true, "rtmps": true,
	"http": true, "https": true, "srt": true, "udp": true,
}

// Handle is a running (or exited) recording process.
type Handle interface {
	ID() string
	Done() <-chan struct{}
	// Err is the process exit error; valid once Done is closed.
	Err() error
}

// Config configures the ffmpeg invocation.
type Config struct {
	Bin        string
	Dir        string
	Template   string // e.g. segment_%03d.mp4
	VideoCodec string
	AudioCodec string
	KillGrace  time.Duration
}

// FFmpegRecorder starts one ffmpeg process per session.
type FFmpegRecorder struct {
	cfg    Config
	logger zerolog.Logger
}

// New returns a recorder writing into cfg.Dir.
func New(cfg Config) *FFmpegRecorder {
	if cfg.Bin == "" {
		cfg.Bin = "ffmpeg"
	}
	if cfg.Template == "" {
		cfg.Template = "segment_%03d.mp4"
	}
	if cfg.VideoCodec == "" {
		cfg.VideoCodec = "libx264"
	}
	if cfg.AudioCodec == "" {
		cfg.AudioCodec = "aac"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	return &FFmpegRecorder{cfg: cfg, logger: log.WithComponent("recorder")}
}

// ValidateSource checks that source is an absolute URI with a streaming scheme.
func ValidateSource(source string) error {
	u, err := url.Parse(strings.TrimSpace(source))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if !allowedSchemes[strings.ToLower(u.Scheme)] || u.Host == "" {
		return fmt.Errorf("%w: unsupported scheme or missing host", ErrInvalidSource)
	}
	return nil
}

// RedactSource removes credentials from a source URI for logs and status.
func RedactSource(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return "invalid-source"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// Args builds the ffmpeg command line for one session.
func (r *FFmpegRecorder) Args(source string, segmentSeconds int) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "warning"}
	if strings.HasPrefix(strings.ToLower(source), "rtsp") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", source,
		"-c:v", r.cfg.VideoCodec,
		"-c:a", r.cfg.AudioCodec,
		"-f", "segment",
		"-segment_time", strconv.Itoa(segmentSeconds),
		"-segment_start_number", "1",
		"-segment_format_options", "movflags=+faststart",
		"-reset_timestamps", "1",
		filepath.Join(r.cfg.Dir, r.cfg.Template),
	)
	return args
}

// Start launches ffmpeg in its own process group. The process is not tied
// to ctx; it runs until Stop or until it exits on its own.
func (r *FFmpegRecorder) Start(ctx context.Context, source string, segmentSeconds int) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateSource(source); err != nil {
		return nil, err
	}
	if segmentSeconds < 1 || segmentSeconds > MaxSegmentSeconds {
		return nil, fmt.Errorf("segment seconds %d out of range [1,%d]", segmentSeconds, MaxSegmentSeconds)
	}
	if err := os.MkdirAll(r.cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}

	// #nosec G204 -- binary from configuration; source validated above
	cmd := exec.Command(r.cfg.Bin, r.Args(source, segmentSeconds)...)
	procgroup.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		metrics.RecordSessionEvent("start_failed")
		return nil, fmt.Errorf("exec start failed: %w", err)
	}

	p := &process{
		id:        uuid.NewString(),
		source:    RedactSource(source),
		startedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
		ring:      newRingBuffer(100),
	}
	logger := r.logger.With().Str(log.FieldHandle, p.id).Logger()
	go p.monitor(stderr, logger)

	metrics.SetRecorderActive(true)
	metrics.RecordSessionEvent("started")
	logger.Info().
		Str(log.FieldEvent, "recorder.started").
		Str(log.FieldSourceURI, p.source).
		Int("segment_seconds", segmentSeconds).
		Int("pid", cmd.Process.Pid).
		Msg("recorder started")
	return p, nil
}

// Stop terminates the process group: SIGTERM, then SIGKILL after the grace
// period. Stopping an exited process is a no-op.
func (r *FFmpegRecorder) Stop(h Handle) error {
	p, ok := h.(*process)
	if !ok || p == nil {
		return ErrNotRunning
	}
	p.stopRequested.Store(true)

	select {
	case <-p.done:
		return nil
	default:
	}

	waitCh := make(chan error, 1)
	go func() {
		<-p.done
		waitCh <- p.err
	}()
	err := procgroup.Terminate(p.cmd, waitCh, r.cfg.KillGrace)
	metrics.RecordSessionEvent("stopped")
	r.logger.Info().
		Str(log.FieldEvent, "recorder.stopped").
		Str(log.FieldHandle, p.id).
		Dur("uptime", time.Since(p.startedAt)).
		Msg("recorder stopped")
	if err != nil && isSignalExit(err) {
		return nil
	}
	return err
}

// isSignalExit reports whether err is ffmpeg exiting on our own signal.
func isSignalExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	// ffmpeg exits 255 on SIGTERM; a killed process reports -1.
	code := exitErr.ExitCode()
	return code == 255 || code == -1
}

type process struct {
	id        string
	source    string
	startedAt time.Time
	cmd       *exec.Cmd

	done          chan struct{}
	err           error
	stopRequested atomic.Bool
	ring          *ringBuffer
}

func (p *process) ID() string            { return p.id }
func (p *process) Done() <-chan struct{} { return p.done }
func (p *process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Diagnostics returns the last stderr lines of the process.
func (p *process) Diagnostics() []string { return p.ring.all() }

func (p *process) monitor(stderr io.Reader, logger zerolog.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		p.ring.add(line)
		logger.Debug().Str("ffmpeg", line).Msg("recorder output")
	}

	p.err = p.cmd.Wait()
	close(p.done)
	metrics.SetRecorderActive(false)

	if p.err != nil && !p.stopRequested.Load() {
		metrics.RecordSessionEvent("crashed")
		logger.Error().
			Err(p.err).
			Str(log.FieldEvent, "recorder.exited").
			Strs("stderr_tail", p.ring.all()).
			Msg("recorder exited unexpectedly")
		return
	}
	logger.Info().Str(log.FieldEvent, "recorder.exited").Msg("recorder exited")
}

type ringBuffer struct {
	mu    sync.Mutex
	lines []string
	pos   int
	full  bool
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{lines: make([]string, size)}
}

func (r *ringBuffer) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % len(r.lines)
	if r.pos == 0 {
		r.full = true
	}
}

func (r *ringBuffer) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.pos]...)
	}
	res := make([]string, len(r.lines))
	copy(res, r.lines[r.pos:])
	copy(res[len(r.lines)-r.pos:], r.lines[:r.pos])
	return res
}
