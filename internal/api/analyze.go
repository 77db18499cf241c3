package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/notmtri/necspeaking/internal/audio"
	"github.com/notmtri/necspeaking/internal/grading"
	"github.com/notmtri/necspeaking/internal/mqttclient"
	"github.com/notmtri/necspeaking/internal/pipeline"
	"github.com/notmtri/necspeaking/internal/ratelimit"
)

// Analyzer runs one speech analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// AnalyzeResponse is the body of a successful analysis.
type AnalyzeResponse struct {
	Success          bool             `json:"success"`
	Transcript       string           `json:"transcript"`
	Duration         float64          `json:"duration"`
	Scores           grading.Scores   `json:"scores"`
	Feedback         grading.Feedback `json:"feedback"`
	SampleResponse   grading.Text     `json:"sample_response"`
	DocumentBase64   string           `json:"document_base64"`
	DocumentFilename string           `json:"document_filename"`
}

type AnalyzeHandler struct {
	analyzer  Analyzer
	limiter   ratelimit.Limiter
	events    EventPublisher
	maxUpload int64
	log       zerolog.Logger
}

func NewAnalyzeHandler(a Analyzer, limiter ratelimit.Limiter, events EventPublisher, maxUpload int64, log zerolog.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		analyzer:  a,
		limiter:   limiter,
		events:    events,
		maxUpload: maxUpload,
		log:       log.With().Str("handler", "analyze").Logger(),
	}
}

func (h *AnalyzeHandler) Routes(r chi.Router) {
	r.With(RateLimit(h.limiter, ratelimit.AnalyzePolicy, h.log)).Post("/analyze", h.Analyze)
}

// Analyze handles POST /api/analyze: multipart "audio" file plus "topic".
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			WriteError(w, http.StatusBadRequest, "Audio file too large")
			return
		}
		WriteError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer r.MultipartForm.RemoveAll()

	// An empty file input arrives as a plain value with no filename.
	file, header, err := r.FormFile("audio")
	_, emptyInput := r.MultipartForm.Value["audio"]
	if err != nil && !emptyInput {
		WriteError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	if file != nil {
		defer file.Close()
	}

	topic, ok := FormValue(r, "topic")
	if !ok {
		WriteError(w, http.StatusBadRequest, "No topic provided")
		return
	}
	if err != nil || strings.TrimSpace(header.Filename) == "" {
		WriteError(w, http.StatusBadRequest, "No file selected")
		return
	}

	res, err := h.analyzer.Analyze(r.Context(), pipeline.Request{
		Topic:    topic,
		Filename: header.Filename,
		Audio:    file,
	})
	if err != nil {
		status, msg := analyzeError(err)
		if status >= 500 {
			h.log.Error().Err(err).Str("file", header.Filename).Msg("analysis failed")
			publish(h.events, mqttclient.KindAnalysisFailed, map[string]string{"topic": topic, "error": msg})
		}
		WriteError(w, status, msg)
		return
	}

	publish(h.events, mqttclient.KindAnalysisCompleted, map[string]any{
		"topic":    topic,
		"duration": res.Duration,
		"total":    res.Grading.Scores.Total,
	})

	WriteJSON(w, http.StatusOK, AnalyzeResponse{
		Success:          true,
		Transcript:       res.Transcript,
		Duration:         res.Duration,
		Scores:           res.Grading.Scores,
		Feedback:         res.Grading.Feedback,
		SampleResponse:   res.Grading.SampleResponse,
		DocumentBase64:   base64.StdEncoding.EncodeToString(res.Document),
		DocumentFilename: res.DocumentFilename,
	})
}

// analyzeError maps pipeline errors to a status and user-facing message.
func analyzeError(err error) (int, string) {
	switch {
	case errors.Is(err, audio.ErrInvalidFormat):
		return http.StatusBadRequest, "Invalid file format"
	case errors.Is(err, audio.ErrTooLong):
		return http.StatusBadRequest, "Audio file exceeds 5 minute limit"
	case errors.Is(err, audio.ErrTooLarge):
		return http.StatusBadRequest, "Audio file too large"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
