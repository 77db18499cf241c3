package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/notmtri/necspeaking/internal/metrics"
)

// Sweeper removes stray upload files that outlived their request, e.g.
// after a crash mid-analysis.
type Sweeper struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a sweeper that deletes files in dir older than maxAge.
func NewSweeper(dir string, maxAge, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{
		dir:      dir,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "upload-sweeper").Logger(),
		stop:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.loop()
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Sweeper) loop() {
	// Run once on startup to clear leftovers from before a restart
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// Sweep deletes regular files directly inside the upload directory whose
// modification time is older than maxAge. Errors are logged, not returned.
func (s *Sweeper) Sweep() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Msg("sweep: read dir failed")
		}
		return 0
	}

	cutoff := s.now().Add(-s.maxAge)
	var removed int
	var freed int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.log.Warn().Err(err).Str("file", e.Name()).Msg("sweep: remove failed")
			continue
		}
		removed++
		freed += info.Size()
	}

	if removed > 0 {
		metrics.SweptFilesTotal.Add(float64(removed))
		s.log.Info().
			Int("removed", removed).
			Str("freed", humanizeBytes(freed)).
			Msg("stale uploads swept")
	}
	return removed
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
