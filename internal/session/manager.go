// Package session implements the single-flag admin session: a signed
// cookie naming a server-side session record.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// CookieName is the name of the session cookie.
const CookieName = "necs_session"

// Options configure a Manager.
type Options struct {
	// PasswordHash is the bcrypt hash of the admin password. When empty
	// every login attempt fails.
	PasswordHash string
	// Secret signs cookie values. When empty a random per-process secret is
	// generated, which invalidates sessions on restart.
	Secret       string
	TTL          time.Duration
	CookieSecure bool
}

// Manager issues, validates and revokes admin sessions.
type Manager struct {
	store  Store
	hash   []byte
	secret []byte
	ttl    time.Duration
	secure bool
	log    zerolog.Logger
}

func NewManager(store Store, opts Options, log zerolog.Logger) *Manager {
	log = log.With().Str("component", "session").Logger()

	secret := []byte(opts.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		rand.Read(secret)
		log.Warn().Msg("SESSION_SECRET not set, using a random secret; sessions end on restart")
	}
	if opts.PasswordHash == "" {
		log.Warn().Msg("ADMIN_PASSWORD_HASH not set, admin login is disabled")
	}
	if opts.TTL == 0 {
		opts.TTL = 2 * time.Hour
	}

	return &Manager{
		store:  store,
		hash:   []byte(opts.PasswordHash),
		secret: secret,
		ttl:    opts.TTL,
		secure: opts.CookieSecure,
		log:    log,
	}
}

// HashPassword returns a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword reports whether password matches the configured hash.
func (m *Manager) CheckPassword(password string) bool {
	if len(m.hash) == 0 || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(m.hash, []byte(password)) == nil
}

// Login starts a fresh admin session and sets its cookie. Any session the
// request already carried is revoked first.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if id, ok := m.sessionID(r); ok {
		if err := m.store.Delete(ctx, id); err != nil {
			m.log.Warn().Err(err).Msg("failed to revoke previous session")
		}
	}

	id := uuid.NewString()
	if err := m.store.Save(ctx, id, Session{Admin: true, CreatedAt: time.Now().UTC()}, m.ttl); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id + "." + m.sign(id),
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		Expires:  time.Now().Add(m.ttl),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Logout revokes the request's session, if any, and clears the cookie.
func (m *Manager) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var err error
	if id, ok := m.sessionID(r); ok {
		err = m.store.Delete(ctx, id)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return err
}

// IsAdmin reports whether the request carries a live admin session.
func (m *Manager) IsAdmin(r *http.Request) bool {
	id, ok := m.sessionID(r)
	if !ok {
		return false
	}
	s, err := m.store.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			m.log.Error().Err(err).Msg("session lookup failed")
		}
		return false
	}
	return s.Admin
}

// sessionID extracts and verifies the id from the session cookie.
func (m *Manager) sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	id, sig, ok := strings.Cut(c.Value, ".")
	if !ok || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(m.sign(id))) {
		return "", false
	}
	return id, true
}

func (m *Manager) sign(id string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
