package media

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandRunner executes an external command. Tests replace it.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Cutter extracts time windows from source audio as mono 16kHz WAV.
type Cutter struct {
	ffmpegBinary string
	runner       CommandRunner
}

func NewCutter(ffmpegBinary string) *Cutter {
	return &Cutter{ffmpegBinary: ffmpegBinary, runner: runCommand}
}

// WithRunner replaces the command runner.
func (c *Cutter) WithRunner(runner CommandRunner) *Cutter {
	c.runner = runner
	return c
}

// Cut writes [startSec, startSec+durationSec) of source to dest.
func (c *Cutter) Cut(ctx context.Context, source string, startSec, durationSec float64, dest string) error {
	if durationSec <= 0 {
		return fmt.Errorf("cut window: invalid duration %g", durationSec)
	}
	if startSec < 0 {
		return fmt.Errorf("cut window: invalid start %g", startSec)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", formatSeconds(startSec),
		"-t", formatSeconds(durationSec),
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
	if err := c.runner(ctx, c.ffmpegBinary, args...); err != nil {
		return fmt.Errorf("ffmpeg cut window: %w", err)
	}
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
