package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/notmtri/necspeaking/internal/metrics"
	"github.com/notmtri/necspeaking/internal/ratelimit"
)

// Authenticator manages admin sessions.
type Authenticator interface {
	AdminChecker
	CheckPassword(password string) bool
	Login(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

type AdminHandler struct {
	auth    Authenticator
	limiter ratelimit.Limiter
	log     zerolog.Logger
}

func NewAdminHandler(auth Authenticator, limiter ratelimit.Limiter, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		auth:    auth,
		limiter: limiter,
		log:     log.With().Str("handler", "admin").Logger(),
	}
}

// Login handles POST /api/admin/login.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.auth.CheckPassword(req.Password) {
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		h.log.Warn().Str("ip", ClientIP(r)).Msg("admin login failed")
		WriteError(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	if err := h.auth.Login(r.Context(), w, r); err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		h.log.Error().Err(err).Msg("session save failed")
		WriteError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	h.log.Info().Str("ip", ClientIP(r)).Msg("admin logged in")
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Login successful"})
}

// Logout handles POST /api/admin/logout. It succeeds with or without a
// session.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), w, r); err != nil {
		h.log.Warn().Err(err).Msg("session revoke failed")
	}
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Logged out"})
}

// Check handles GET /api/admin/check.
func (h *AdminHandler) Check(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]bool{"authenticated": h.auth.IsAdmin(r)})
}

// Routes registers admin routes on the given router.
func (h *AdminHandler) Routes(r chi.Router) {
	r.With(RateLimit(h.limiter, ratelimit.LoginPolicy, h.log)).Post("/admin/login", h.Login)
	r.Post("/admin/logout", h.Logout)
	r.Get("/admin/check", h.Check)
}
