package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/notmtri/necspeaking/internal/audio"
	"github.com/notmtri/necspeaking/internal/grading"
	"github.com/notmtri/necspeaking/internal/transcribe"
)

type fakeTools struct {
	duration float64
	outBytes int
}

func (f fakeTools) Duration(ctx context.Context, path string) (float64, error) {
	return f.duration, nil
}

func (f fakeTools) Convert(ctx context.Context, in, out string) error {
	return os.WriteFile(out, make([]byte, f.outBytes), 0644)
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
	path  string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (*transcribe.Transcript, error) {
	f.calls++
	f.path = path
	if _, err := os.Stat(path); err != nil {
		return nil, &transcribe.TranscriptionError{Err: err}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &transcribe.Transcript{Text: f.text, Duration: 61.5}, nil
}

func (f *fakeTranscriber) Name() string  { return "fake" }
func (f *fakeTranscriber) Model() string { return "fake-1" }

type fakeGrader struct {
	err    error
	calls  int
	topic  string
	result grading.Result
}

func (f *fakeGrader) Grade(ctx context.Context, topic, transcript string, duration float64) (*grading.Result, error) {
	f.calls++
	f.topic = topic
	if f.err != nil {
		return nil, f.err
	}
	r := f.result
	return &r, nil
}

type harness struct {
	analyzer    *Analyzer
	dir         string
	transcriber *fakeTranscriber
	grader      *fakeGrader
}

func newHarness(t *testing.T, tools fakeTools) *harness {
	t.Helper()
	dir := t.TempDir()
	n := audio.NewNormalizer(tools, dir, audio.Limits{
		MaxDuration:        320 * time.Second,
		MaxNormalizedBytes: 1 << 20,
	}, zerolog.Nop())
	tr := &fakeTranscriber{text: "phones help students learn"}
	g := &fakeGrader{result: grading.Result{
		Scores:         grading.Scores{Content: 0.8, Accuracy: 0.5, Delivery: 0.4, Total: 1.7},
		Feedback:       grading.Feedback{Content: "c", Accuracy: "a", Delivery: "d"},
		SampleResponse: "sample",
	}}
	a := NewAnalyzer(n, tr, g, zerolog.Nop())
	a.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return &harness{analyzer: a, dir: dir, transcriber: tr, grader: g}
}

func (h *harness) assertEmptyDir(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("temp files left behind: %v", names)
	}
}

func request(filename string) Request {
	return Request{Topic: "Phones in class", Filename: filename, Audio: strings.NewReader("audio-bytes")}
}

func TestAnalyze_Success(t *testing.T) {
	h := newHarness(t, fakeTools{duration: 61.5, outBytes: 256})

	res, err := h.analyzer.Analyze(context.Background(), request("answer.webm"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Transcript != "phones help students learn" {
		t.Errorf("Transcript = %q", res.Transcript)
	}
	if res.Duration != 61.5 {
		t.Errorf("Duration = %v", res.Duration)
	}
	if res.Grading.Scores.Total != 1.7 {
		t.Errorf("Total = %v", res.Grading.Scores.Total)
	}
	if res.DocumentFilename != "necs_feedback_20240506_070809.docx" {
		t.Errorf("DocumentFilename = %q", res.DocumentFilename)
	}
	if len(res.Document) < 4 || string(res.Document[:2]) != "PK" {
		t.Error("Document is not a zip package")
	}
	if base := filepath.Base(h.transcriber.path); !strings.HasPrefix(base, "20240506_070809_") || !strings.HasSuffix(base, "_answer_compressed.wav") {
		t.Errorf("transcribed %q, want the normalized wav", h.transcriber.path)
	}
	if h.grader.topic != "Phones in class" {
		t.Errorf("grader topic = %q", h.grader.topic)
	}
	if h.analyzer.InFlight() != 0 {
		t.Errorf("InFlight = %d after return", h.analyzer.InFlight())
	}
	h.assertEmptyDir(t)
}

func TestAnalyze_InvalidFormatBeforeTranscription(t *testing.T) {
	h := newHarness(t, fakeTools{duration: 10, outBytes: 10})

	_, err := h.analyzer.Analyze(context.Background(), request("notes.pdf"))
	if !errors.Is(err, audio.ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
	if !IsRejection(err) {
		t.Error("IsRejection = false")
	}
	if h.transcriber.calls != 0 {
		t.Errorf("transcriber called %d times", h.transcriber.calls)
	}
	h.assertEmptyDir(t)
}

func TestAnalyze_TooLong(t *testing.T) {
	h := newHarness(t, fakeTools{duration: 400, outBytes: 10})

	_, err := h.analyzer.Analyze(context.Background(), request("long.mp3"))
	if !errors.Is(err, audio.ErrTooLong) {
		t.Fatalf("err = %v, want ErrTooLong", err)
	}
	if h.transcriber.calls != 0 {
		t.Errorf("transcriber called %d times", h.transcriber.calls)
	}
	h.assertEmptyDir(t)
}

func TestAnalyze_TooLarge(t *testing.T) {
	h := newHarness(t, fakeTools{duration: 30, outBytes: 2 << 20})

	_, err := h.analyzer.Analyze(context.Background(), request("big.wav"))
	if !errors.Is(err, audio.ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	h.assertEmptyDir(t)
}

func TestAnalyze_TranscriptionFailureCleansUp(t *testing.T) {
	h := newHarness(t, fakeTools{duration: 30, outBytes: 10})
	h.transcriber.err = &transcribe.TranscriptionError{Err: errors.New("503")}

	_, err := h.analyzer.Analyze(context.Background(), request("a.ogg"))
	var te *transcribe.TranscriptionError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TranscriptionError", err)
	}
	if IsRejection(err) {
		t.Error("transcription failure classified as rejection")
	}
	if h.grader.calls != 0 {
		t.Error("grader called after transcription failure")
	}
	h.assertEmptyDir(t)
}

func TestAnalyze_GradingFailureCleansUp(t *testing.T) {
	h := newHarness(t, fakeTools{duration: 30, outBytes: 10})
	h.grader.err = &grading.GradingError{Err: errors.New("invalid character")}

	_, err := h.analyzer.Analyze(context.Background(), request("a.m4a"))
	var ge *grading.GradingError
	if !errors.As(err, &ge) {
		t.Fatalf("err = %v, want *GradingError", err)
	}
	h.assertEmptyDir(t)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{audio.ErrTooLong, "rejected"},
		{&transcribe.TranscriptionError{Err: errors.New("x")}, "transcription_failed"},
		{&grading.GradingError{Err: errors.New("x")}, "grading_failed"},
		{errors.New("disk full"), "error"},
	}
	for _, tt := range tests {
		if got := outcome(tt.err); got != tt.want {
			t.Errorf("outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
