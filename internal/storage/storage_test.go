package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/notmtri/necspeaking/internal/config"
)

func TestLocalStoreUpload(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "in.mp3")
	if err := os.WriteFile(src, []byte("ID3 fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewLocalStore(root, "necs_samples")
	url, err := store.Upload(context.Background(), "sample_20240301_120000.mp3", src, "audio/mpeg")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "/media/necs_samples/sample_20240301_120000.mp3" {
		t.Errorf("url = %q", url)
	}

	got, err := os.ReadFile(filepath.Join(root, "necs_samples", "sample_20240301_120000.mp3"))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(got) != "ID3 fake" {
		t.Errorf("stored content = %q", got)
	}

	// no temp files left behind
	entries, _ := os.ReadDir(filepath.Join(root, "necs_samples"))
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
	if store.Type() != "local" {
		t.Errorf("Type = %q", store.Type())
	}
}

func TestLocalStoreUploadMissingSource(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "")
	if _, err := store.Upload(context.Background(), "a.wav", "/does/not/exist.wav", "audio/wav"); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestNewPicksLocalWithoutBucket(t *testing.T) {
	store, err := New(config.MediaConfig{Dir: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Type() != "local" {
		t.Errorf("Type = %q, want local", store.Type())
	}
}

func TestPublicBaseURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MediaConfig
		want string
	}{
		{"public_url_wins", config.MediaConfig{Bucket: "b", Endpoint: "http://minio:9000", PublicURL: "https://cdn.example/"}, "https://cdn.example"},
		{"custom_endpoint_path_style", config.MediaConfig{Bucket: "b", Endpoint: "http://minio:9000/"}, "http://minio:9000/b"},
		{"aws_virtual_host", config.MediaConfig{Bucket: "b", Region: "ap-southeast-1"}, "https://b.s3.ap-southeast-1.amazonaws.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := publicBaseURL(tt.cfg); got != tt.want {
				t.Errorf("publicBaseURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestS3ObjectKey(t *testing.T) {
	s := &S3Store{prefix: "necs_samples"}
	if got := s.objectKey("sample_1.mp3"); got != "necs_samples/sample_1.mp3" {
		t.Errorf("objectKey = %q", got)
	}
	s.prefix = ""
	if got := s.objectKey("sample_1.mp3"); got != "sample_1.mp3" {
		t.Errorf("objectKey without prefix = %q", got)
	}
}

func TestSweeper(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	write := func(name string, age time.Duration) {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		mt := now.Add(-age)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	write("old_compressed.wav", 2*time.Hour)
	write("fresh_compressed.wav", 5*time.Minute)
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	s := NewSweeper(dir, time.Hour, time.Minute, zerolog.Nop())
	s.now = func() time.Time { return now }

	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "old_compressed.wav")); !os.IsNotExist(err) {
		t.Error("old file still present")
	}
	if _, err := os.Stat(filepath.Join(dir, "fresh_compressed.wav")); err != nil {
		t.Error("fresh file removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "subdir")); err != nil {
		t.Error("subdirectory removed")
	}
}

func TestSweeperMissingDir(t *testing.T) {
	s := NewSweeper(filepath.Join(t.TempDir(), "gone"), time.Hour, 0, zerolog.Nop())
	if n := s.Sweep(); n != 0 {
		t.Errorf("Sweep = %d, want 0", n)
	}
	s.Stop()
	s.Stop() // idempotent
}

func TestHumanizeBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := humanizeBytes(tt.in); got != tt.want {
			t.Errorf("humanizeBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
