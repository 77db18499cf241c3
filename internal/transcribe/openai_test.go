package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fixedProber struct {
	seconds float64
	err     error
}

func (f fixedProber) Duration(ctx context.Context, path string) (float64, error) {
	return f.seconds, f.err
}

func writeTempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip_compressed.wav")
	if err := os.WriteFile(path, []byte("RIFF0000WAVE"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenAIProvider_Transcribe(t *testing.T) {
	var gotModel, gotFormat, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"text": "Technology shapes how we learn."})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{
		APIKey:  "gsk_test",
		BaseURL: srv.URL + "/v1",
		Model:   "whisper-large-v3-turbo",
	}, fixedProber{seconds: 42.5}, zerolog.Nop())

	got, err := p.Transcribe(context.Background(), writeTempAudio(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "Technology shapes how we learn." {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Duration != 42.5 {
		t.Errorf("Duration = %v, want probed 42.5", got.Duration)
	}
	if gotModel != "whisper-large-v3-turbo" {
		t.Errorf("model = %q", gotModel)
	}
	if gotFormat != "json" {
		t.Errorf("response_format = %q, want json", gotFormat)
	}
	if gotAuth != "Bearer gsk_test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestOpenAIProvider_ProviderError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"}, fixedProber{seconds: 1}, zerolog.Nop())
	_, err := p.Transcribe(context.Background(), writeTempAudio(t))

	var te *TranscriptionError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TranscriptionError", err)
	}
	if !strings.HasPrefix(err.Error(), "Transcription failed: ") {
		t.Errorf("message = %q", err.Error())
	}
	if calls != 1 {
		t.Errorf("provider called %d times, want exactly 1", calls)
	}
}

func TestOpenAIProvider_ProbeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hi"}`))
	}))
	defer srv.Close()

	probeErr := errors.New("unreadable")
	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"}, fixedProber{err: probeErr}, zerolog.Nop())
	_, err := p.Transcribe(context.Background(), writeTempAudio(t))
	if !errors.Is(err, probeErr) {
		t.Fatalf("err = %v, want wrapped probe error", err)
	}
}

func TestNewOpenAIProvider_Defaults(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k"}, fixedProber{}, zerolog.Nop())
	if p.Model() != "whisper-large-v3-turbo" {
		t.Errorf("Model = %q", p.Model())
	}
	if p.Name() != "openai" {
		t.Errorf("Name = %q", p.Name())
	}
}
