package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/notmtri/necspeaking/internal/config"
)

// MediaStore hosts sample recordings and hands back a URL clients can play.
type MediaStore interface {
	// Upload copies the file at localPath to the store under key
	// (e.g. "sample_20240102_150405.mp3") and returns its public URL.
	Upload(ctx context.Context, key, localPath, contentType string) (string, error)

	// Type returns "local" or "s3".
	Type() string
}

// New creates a MediaStore based on config. S3 is verified with a HeadBucket
// call so bad credentials fail at startup rather than on the first upload.
func New(cfg config.MediaConfig, log zerolog.Logger) (MediaStore, error) {
	if !cfg.S3Enabled() {
		return NewLocalStore(cfg.Dir, cfg.Prefix), nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	return s3store, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
