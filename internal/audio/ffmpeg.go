package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Toolchain probes and transcodes audio files.
type Toolchain interface {
	// Duration returns the playback length of the file in seconds.
	Duration(ctx context.Context, path string) (float64, error)
	// Convert transcodes in to a mono 16 kHz WAV file at out.
	Convert(ctx context.Context, in, out string) error
}

// FFmpeg drives the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpeg returns an FFmpeg toolchain, defaulting empty paths to the
// binaries on PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// Check verifies both binaries can be found. Call once at startup.
func (f *FFmpeg) Check() error {
	for _, bin := range []string{f.FFmpegPath, f.FFprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found: %w", bin, err)
		}
	}
	return nil
}

func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbeDuration(string(out))
}

func (f *FFmpeg) Convert(ctx context.Context, in, out string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-y", "-v", "error",
		"-i", in,
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		out,
	)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(out)
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// parseProbeDuration reads ffprobe's bare "format=duration" output.
func parseProbeDuration(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("ffprobe: no duration reported")
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: parse duration %q: %w", s, err)
	}
	return d, nil
}
