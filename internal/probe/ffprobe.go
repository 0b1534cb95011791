// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package probe reads media durations with ffprobe.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/ManuGH/camanchor/internal/log"
)

// ErrNoDuration means ffprobe answered but reported no usable duration.
var ErrNoDuration = errors.New("no usable duration")

const maxStderr = 4096

// FFprobe implements the media probe using the ffprobe binary.
type FFprobe struct {
	Bin     string
	Timeout time.Duration
}

// New returns a prober; an empty bin means "ffprobe" from PATH.
func New(bin string, timeout time.Duration) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFprobe{Bin: bin, Timeout: timeout}
}

// Duration returns the media duration of path in seconds. The container
// duration is preferred; the longest stream duration is the fallback.
func (p *FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	// #nosec G204 -- binary comes from configuration; path is opaque
	cmd := exec.CommandContext(ctx, p.Bin, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	d, parseErr := parseDuration(out)
	if parseErr == nil {
		if err != nil {
			// A partially written file can exit non-zero with usable JSON.
			logger := log.WithComponent("probe")
			logger.Warn().
				Err(err).
				Str(log.FieldPath, path).
				Str("stderr", truncate(stderr.String())).
				Msg("ffprobe non-zero exit but duration accepted")
		}
		return d, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, truncate(stderr.String()))
	}
	return 0, parseErr
}

type probeData struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Duration  string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func parseDuration(out []byte) (float64, error) {
	if len(bytes.TrimSpace(out)) == 0 {
		return 0, fmt.Errorf("%w: empty ffprobe output", ErrNoDuration)
	}
	var data probeData
	if err := json.Unmarshal(out, &data); err != nil {
		return 0, fmt.Errorf("json decode: %w", err)
	}

	if d, ok := positive(data.Format.Duration); ok {
		return d, nil
	}
	var longest float64
	for _, s := range data.Streams {
		if d, ok := positive(s.Duration); ok && d > longest {
			longest = d
		}
	}
	if longest > 0 {
		return longest, nil
	}
	return 0, ErrNoDuration
}

func positive(s string) (float64, bool) {
	if s == "" || s == "N/A" {
		return 0, false
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func truncate(s string) string {
	if len(s) > maxStderr {
		return s[:maxStderr] + "..."
	}
	return s
}
