package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/notmtri/necspeaking/internal/audio"
	"github.com/notmtri/necspeaking/internal/database"
	"github.com/notmtri/necspeaking/internal/mqttclient"
	"github.com/notmtri/necspeaking/internal/ratelimit"
	"github.com/notmtri/necspeaking/internal/storage"
)

// SampleStore persists curated samples.
type SampleStore interface {
	ListSamples(ctx context.Context) ([]database.Sample, error)
	CreateSample(ctx context.Context, in database.SampleInput) (int, error)
	UpdateSample(ctx context.Context, id int, p database.SamplePatch) error
	DeleteSample(ctx context.Context, id int) error
}

// UploadSaver writes an upload to the scratch directory.
type UploadSaver interface {
	Save(r io.Reader, filename, stamp string) (string, error)
}

// DurationProber measures an audio file in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

type SamplesHandler struct {
	store     SampleStore
	saver     UploadSaver
	prober    DurationProber
	media     storage.MediaStore
	auth      AdminChecker
	limiter   ratelimit.Limiter
	events    EventPublisher
	maxUpload int64
	now       func() time.Time
	log       zerolog.Logger
}

type SamplesDeps struct {
	Store     SampleStore
	Saver     UploadSaver
	Prober    DurationProber
	Media     storage.MediaStore
	Auth      AdminChecker
	Limiter   ratelimit.Limiter
	Events    EventPublisher
	MaxUpload int64
}

func NewSamplesHandler(d SamplesDeps, log zerolog.Logger) *SamplesHandler {
	return &SamplesHandler{
		store:     d.Store,
		saver:     d.Saver,
		prober:    d.Prober,
		media:     d.Media,
		auth:      d.Auth,
		limiter:   d.Limiter,
		events:    d.Events,
		maxUpload: d.MaxUpload,
		now:       time.Now,
		log:       log.With().Str("handler", "samples").Logger(),
	}
}

func (h *SamplesHandler) Routes(r chi.Router) {
	r.Get("/samples", h.List)
	r.Group(func(r chi.Router) {
		r.Use(RequireAdmin(h.auth))
		r.With(RateLimit(h.limiter, ratelimit.SampleUploadPolicy, h.log)).Post("/samples/upload", h.Upload)
		r.Put("/samples/{id}", h.Update)
		r.Delete("/samples/{id}", h.Delete)
	})
}

// List handles GET /api/samples.
func (h *SamplesHandler) List(w http.ResponseWriter, r *http.Request) {
	samples, err := h.store.ListSamples(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list samples failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"samples": samples})
}

// Upload handles POST /api/samples/upload. The recording is hosted on the
// media store and the row records its URL.
func (h *SamplesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			WriteError(w, http.StatusBadRequest, "Audio file too large")
			return
		}
		WriteError(w, http.StatusBadRequest, "No audio file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "No audio file")
		return
	}
	defer file.Close()

	score, err := FormFloat(r, "score", database.DefaultSampleScore)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	topic, _ := FormValue(r, "topic")
	question, _ := FormValue(r, "question")
	speaker, _ := FormValue(r, "speaker")
	transcript, _ := FormValue(r, "transcript")
	feedback, _ := FormValue(r, "feedback")

	in := database.SampleInput{
		Filename:   audio.SecureFilename(header.Filename),
		Topic:      topic,
		Question:   question,
		Speaker:    speaker,
		Score:      score,
		Transcript: transcript,
		Feedback:   feedback,
	}
	if err := in.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if !audio.AllowedFile(header.Filename) {
		WriteError(w, http.StatusBadRequest, "Invalid file format")
		return
	}

	stamp := h.now().Format("20060102_150405")
	path, err := h.saver.Save(file, header.Filename, stamp)
	if err != nil {
		h.log.Error().Err(err).Msg("save sample upload failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.log.Warn().Err(err).Str("path", path).Msg("failed to remove sample upload")
		}
	}()

	if d, err := h.prober.Duration(r.Context(), path); err != nil {
		h.log.Warn().Err(err).Msg("sample duration probe failed, recording 0")
	} else {
		in.Duration = int(d)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	url, err := h.media.Upload(r.Context(), sampleKey(stamp, ext), path, contentType(header.Header.Get("Content-Type"), ext))
	if err != nil {
		h.log.Error().Err(err).Str("media", h.media.Type()).Msg("media upload failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	in.AudioURL = url

	id, err := h.store.CreateSample(r.Context(), in)
	if err != nil {
		h.log.Error().Err(err).Msg("create sample failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.Info().Int("id", id).Str("url", url).Msg("sample uploaded")
	publish(h.events, mqttclient.KindSampleCreated, map[string]any{"id": id, "topic": in.Topic, "audioUrl": url})
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, ID: id})
}

// Update handles PUT /api/samples/{id}. Only fields present in the form
// are changed.
func (h *SamplesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid sample id")
		return
	}
	if err := parseForm(r, 1<<20); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	var p database.SamplePatch
	p.Topic = optionalForm(r, "topic")
	p.Question = optionalForm(r, "question")
	p.Speaker = optionalForm(r, "speaker")
	p.Transcript = optionalForm(r, "transcript")
	p.Feedback = optionalForm(r, "feedback")
	if _, ok := FormValue(r, "score"); ok {
		score, err := FormFloat(r, "score", database.DefaultSampleScore)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		p.Score = &score
	}

	if err := h.store.UpdateSample(r.Context(), id, p); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		h.log.Error().Err(err).Int("id", id).Msg("update sample failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	publish(h.events, mqttclient.KindSampleUpdated, map[string]int{"id": id})
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Delete handles DELETE /api/samples/{id}.
func (h *SamplesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid sample id")
		return
	}
	if err := h.store.DeleteSample(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		h.log.Error().Err(err).Int("id", id).Msg("delete sample failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	publish(h.events, mqttclient.KindSampleDeleted, map[string]int{"id": id})
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func optionalForm(r *http.Request, name string) *string {
	v, ok := FormValue(r, name)
	if !ok {
		return nil
	}
	return &v
}

func contentType(declared, ext string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// sampleKey names a hosted sample recording. The uuid keeps uploads made in
// the same second from overwriting each other.
func sampleKey(stamp, ext string) string {
	return "sample_" + stamp + "_" + uuid.NewString() + ext
}
