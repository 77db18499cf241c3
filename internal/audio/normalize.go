package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidFormat = errors.New("invalid file format")
	ErrTooLong       = errors.New("audio exceeds maximum duration")
	ErrTooLarge      = errors.New("audio file too large")
)

// allowedExtensions are the upload formats accepted for analysis.
var allowedExtensions = map[string]bool{
	"wav":  true,
	"mp3":  true,
	"m4a":  true,
	"webm": true,
	"ogg":  true,
}

// AllowedFile reports whether filename carries an accepted audio extension.
func AllowedFile(filename string) bool {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return false
	}
	return allowedExtensions[strings.ToLower(filename[i+1:])]
}

// SecureFilename reduces an uploaded filename to a safe base name made of
// ASCII letters, digits, '_', '.' and '-'.
func SecureFilename(name string) string {
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._")
}

// Limits bounds what Prepare accepts.
type Limits struct {
	MaxDuration        time.Duration
	MaxNormalizedBytes int64
}

// Normalized is a transcoded upload ready for transcription. The caller
// owns Path and must remove it.
type Normalized struct {
	Path     string
	Size     int64
	Duration float64 // seconds, probed before transcoding
}

// Normalizer turns an uploaded recording into a mono 16 kHz WAV file in dir.
type Normalizer struct {
	tools  Toolchain
	dir    string
	limits Limits
	log    zerolog.Logger
}

func NewNormalizer(tools Toolchain, dir string, limits Limits, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		tools:  tools,
		dir:    dir,
		limits: limits,
		log:    log.With().Str("component", "normalizer").Logger(),
	}
}

// Dir returns the working directory for uploads.
func (n *Normalizer) Dir() string { return n.dir }

// Tools returns the underlying toolchain.
func (n *Normalizer) Tools() Toolchain { return n.tools }

// Save writes r to a new file in the upload directory named
// "<stamp>_<random>_<filename>" and returns its path. Concurrent saves of the
// same filename within one stamp never share a file.
func (n *Normalizer) Save(r io.Reader, filename, stamp string) (string, error) {
	if err := os.MkdirAll(n.dir, 0755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	safe := SecureFilename(filename)
	if safe == "" || !AllowedFile(safe) {
		safe = "audio" + strings.ToLower(filepath.Ext(filename))
	}
	pattern := "*_" + safe
	if stamp != "" {
		pattern = stamp + "_" + pattern
	}

	f, err := os.CreateTemp(n.dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	path := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return path, nil
}

// Prepare validates, saves and normalizes an upload. On any error no file
// produced by Prepare is left behind.
func (n *Normalizer) Prepare(ctx context.Context, r io.Reader, filename, stamp string) (*Normalized, error) {
	if !AllowedFile(filename) {
		return nil, ErrInvalidFormat
	}

	path, err := n.Save(r, filename, stamp)
	if err != nil {
		return nil, err
	}
	return n.Normalize(ctx, path)
}

// Normalize checks the duration of the file at path, transcodes it to
// "<base>_compressed.wav" and checks the result's size. The source file is
// consumed: it is removed on success and on failure.
func (n *Normalizer) Normalize(ctx context.Context, path string) (*Normalized, error) {
	duration, err := n.tools.Duration(ctx, path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("probe duration: %w", err)
	}
	if n.limits.MaxDuration > 0 && duration > n.limits.MaxDuration.Seconds() {
		os.Remove(path)
		return nil, ErrTooLong
	}

	wavPath := strings.TrimSuffix(path, filepath.Ext(path)) + "_compressed.wav"
	if err := n.tools.Convert(ctx, path, wavPath); err != nil {
		os.Remove(path)
		os.Remove(wavPath)
		return nil, fmt.Errorf("convert to wav: %w", err)
	}
	if wavPath != path {
		os.Remove(path)
	}

	info, err := os.Stat(wavPath)
	if err != nil {
		os.Remove(wavPath)
		return nil, fmt.Errorf("stat normalized audio: %w", err)
	}
	if n.limits.MaxNormalizedBytes > 0 && info.Size() > n.limits.MaxNormalizedBytes {
		os.Remove(wavPath)
		return nil, ErrTooLarge
	}

	n.log.Debug().
		Str("path", wavPath).
		Float64("duration", duration).
		Int64("bytes", info.Size()).
		Msg("audio normalized")

	return &Normalized{Path: wavPath, Size: info.Size(), Duration: duration}, nil
}
