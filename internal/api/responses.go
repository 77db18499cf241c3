package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// responseLog reports bodies that cannot be encoded. NewRouter points it at
// the server logger.
var responseLog = zerolog.New(os.Stderr).With().Timestamp().Str("component", "api").Logger()

// WriteJSON writes a JSON response with the given status code. The body is
// encoded before the header is sent, so a value that cannot be encoded
// becomes a 500 instead of an empty 2xx.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		responseLog.Error().Err(err).Int("status", status).Msg("failed to encode response")
		status = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorResponse{Error: "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// SuccessResponse is the body of mutations that return nothing else.
type SuccessResponse struct {
	Success bool   `json:"success"`
	ID      int    `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// PathInt extracts an integer from a chi URL parameter.
func PathInt(r *http.Request, name string) (int, error) {
	v := chi.URLParam(r, name)
	if v == "" {
		return 0, fmt.Errorf("missing path parameter: %s", name)
	}
	return strconv.Atoi(v)
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// FormValue returns a posted form field and whether it was sent at all.
// Call after ParseForm or ParseMultipartForm.
func FormValue(r *http.Request, name string) (string, bool) {
	vs, ok := r.PostForm[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// FormFloat parses an optional float form field. A missing field returns
// def; a malformed or non-finite one returns an error.
func FormFloat(r *http.Request, name string, def float64) (float64, error) {
	v, ok := FormValue(r, name)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid %s %q: must be a number", name, v)
	}
	return f, nil
}

// parseForm parses multipart and urlencoded bodies alike.
func parseForm(r *http.Request, maxMemory int64) error {
	err := r.ParseMultipartForm(maxMemory)
	if err == http.ErrNotMultipart {
		return r.ParseForm()
	}
	return err
}
