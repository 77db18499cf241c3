package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/notmtri/necspeaking/internal/config"
	"github.com/notmtri/necspeaking/internal/metrics"
	"github.com/notmtri/necspeaking/internal/ratelimit"
	"github.com/notmtri/necspeaking/internal/storage"
)

// APIVersion is reported by GET /api.
const APIVersion = "2.0"

// EventPublisher receives domain events. It may be nil.
type EventPublisher interface {
	Publish(kind string, data any)
}

func publish(p EventPublisher, kind string, data any) {
	if p != nil {
		p.Publish(kind, data)
	}
}

// Deps are the collaborators the HTTP layer is wired to.
type Deps struct {
	DB        HealthChecker
	Questions QuestionStore
	Samples   SampleStore
	Analyzer  Analyzer
	Saver     UploadSaver
	Prober    DurationProber
	Media     storage.MediaStore
	Auth      Authenticator
	Limiter   ratelimit.Limiter
	Events    EventPublisher
	MQTT      ConnectionChecker
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, version string, startTime time.Time, log zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(cfg, deps, version, startTime, log),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// NewRouter builds the full HTTP handler tree.
func NewRouter(cfg *config.Config, deps Deps, version string, startTime time.Time, log zerolog.Logger) http.Handler {
	responseLog = log.With().Str("component", "api").Logger()

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORSWithOrigins(cfg.AllowedOrigins))
	r.Use(metrics.InstrumentHandler)

	r.Handle("/metrics", promhttp.Handler())

	if local, ok := deps.Media.(*storage.LocalStore); ok {
		fs := http.StripPrefix(storage.MediaURLPrefix, http.FileServer(http.Dir(local.Dir())))
		r.Handle(storage.MediaURLPrefix+"*", fs)
	}

	mediaType := ""
	if deps.Media != nil {
		mediaType = deps.Media.Type()
	}
	health := NewHealthHandler(deps.DB, deps.MQTT, mediaType, version, startTime)

	r.Route("/api", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]string{
				"message":  "necs. API is running!",
				"version":  APIVersion,
				"security": "enabled",
			})
		})
		r.Get("/health", health.ServeHTTP)

		NewAdminHandler(deps.Auth, deps.Limiter, log).Routes(r)
		NewAnalyzeHandler(deps.Analyzer, deps.Limiter, deps.Events, cfg.Audio.MaxUploadBytes, log).Routes(r)
		NewSamplesHandler(SamplesDeps{
			Store:     deps.Samples,
			Saver:     deps.Saver,
			Prober:    deps.Prober,
			Media:     deps.Media,
			Auth:      deps.Auth,
			Limiter:   deps.Limiter,
			Events:    deps.Events,
			MaxUpload: cfg.Audio.MaxUploadBytes,
		}, log).Routes(r)
		NewQuestionsHandler(deps.Questions, deps.Auth, deps.Events, log).Routes(r)

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, http.StatusNotFound, "API endpoint not found")
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		})
	})

	if cfg.StaticDir != "" {
		r.NotFound(SPAHandler(cfg.StaticDir))
	}

	return r
}

// SPAHandler serves files from dir, falling back to index.html for any
// path that is not a file so client-side routes resolve.
func SPAHandler(dir string) http.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	return func(w http.ResponseWriter, r *http.Request) {
		clean := filepath.Clean("/" + r.URL.Path)
		if clean != "/" {
			if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(clean))); err == nil && !info.IsDir() {
				files.ServeHTTP(w, r)
				return
			}
		}
		if strings.HasPrefix(clean, "/api/") {
			WriteError(w, http.StatusNotFound, "API endpoint not found")
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
