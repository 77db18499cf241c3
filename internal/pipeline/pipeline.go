// Package pipeline runs one speech analysis end to end: normalize the
// upload, transcribe it, grade the transcript and render the report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/notmtri/necspeaking/internal/audio"
	"github.com/notmtri/necspeaking/internal/grading"
	"github.com/notmtri/necspeaking/internal/metrics"
	"github.com/notmtri/necspeaking/internal/report"
	"github.com/notmtri/necspeaking/internal/transcribe"
)

// Normalizer validates an upload and produces a transcodable WAV file.
type Normalizer interface {
	Prepare(ctx context.Context, r io.Reader, filename, stamp string) (*audio.Normalized, error)
}

// Grader scores a transcript.
type Grader interface {
	Grade(ctx context.Context, topic, transcript string, duration float64) (*grading.Result, error)
}

// Request is one analysis submission.
type Request struct {
	Topic    string
	Filename string
	Audio    io.Reader
}

// Result is the outcome of a successful analysis.
type Result struct {
	Transcript       string
	Duration         float64
	Grading          grading.Result
	Document         []byte
	DocumentFilename string
}

// Analyzer runs analyses synchronously in the caller's goroutine.
type Analyzer struct {
	normalizer  Normalizer
	transcriber transcribe.Provider
	grader      Grader
	now         func() time.Time
	inFlight    atomic.Int64
	log         zerolog.Logger
}

func NewAnalyzer(n Normalizer, t transcribe.Provider, g Grader, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		normalizer:  n,
		transcriber: t,
		grader:      g,
		now:         time.Now,
		log:         log.With().Str("component", "analyzer").Logger(),
	}
}

// InFlight reports how many analyses are running.
func (a *Analyzer) InFlight() int {
	return int(a.inFlight.Load())
}

// Analyze runs the full pipeline. The normalized audio file is removed
// before Analyze returns, whatever the outcome. Errors are the typed errors
// of the failing stage: audio.ErrInvalidFormat, audio.ErrTooLong,
// audio.ErrTooLarge, *transcribe.TranscriptionError, *grading.GradingError.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (res *Result, err error) {
	a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	defer func() { metrics.AnalysesTotal.WithLabelValues(outcome(err)).Inc() }()

	now := a.now()
	stamp := now.Format("20060102_150405")
	log := a.log.With().Str("stamp", stamp).Str("upload", req.Filename).Logger()

	start := time.Now()
	norm, err := a.normalizer.Prepare(ctx, req.Audio, req.Filename, stamp)
	if err != nil {
		log.Info().Err(err).Msg("upload rejected")
		return nil, err
	}
	defer func() {
		if rmErr := os.Remove(norm.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn().Err(rmErr).Str("path", norm.Path).Msg("failed to remove normalized audio")
		}
	}()
	metrics.ObserveStage("normalize", start)
	metrics.AudioDuration.Observe(norm.Duration)

	start = time.Now()
	transcript, err := a.transcriber.Transcribe(ctx, norm.Path)
	if err != nil {
		log.Error().Err(err).Msg("transcription failed")
		return nil, err
	}
	metrics.ObserveStage("transcribe", start)

	start = time.Now()
	graded, err := a.grader.Grade(ctx, req.Topic, transcript.Text, transcript.Duration)
	if err != nil {
		log.Error().Err(err).Msg("grading failed")
		return nil, err
	}
	metrics.ObserveStage("grade", start)

	start = time.Now()
	doc, err := report.Render(report.Feedback{
		Topic:      req.Topic,
		Transcript: transcript.Text,
		Result:     *graded,
		Generated:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	metrics.ObserveStage("render", start)

	log.Info().
		Float64("duration", transcript.Duration).
		Float64("total", float64(graded.Scores.Total)).
		Int("doc_bytes", len(doc)).
		Msg("analysis complete")

	return &Result{
		Transcript:       transcript.Text,
		Duration:         transcript.Duration,
		Grading:          *graded,
		Document:         doc,
		DocumentFilename: report.Filename(now),
	}, nil
}

// IsRejection reports whether err is an input validation failure that
// should be answered with 400.
func IsRejection(err error) bool {
	return errors.Is(err, audio.ErrInvalidFormat) ||
		errors.Is(err, audio.ErrTooLong) ||
		errors.Is(err, audio.ErrTooLarge)
}

func outcome(err error) string {
	var te *transcribe.TranscriptionError
	var ge *grading.GradingError
	switch {
	case err == nil:
		return "ok"
	case IsRejection(err):
		return "rejected"
	case errors.As(err, &te):
		return "transcription_failed"
	case errors.As(err, &ge):
		return "grading_failed"
	default:
		return "error"
	}
}
