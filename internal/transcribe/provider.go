package transcribe

import "context"

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string) (*Transcript, error)
	Name() string  // "openai"
	Model() string // model identifier for logs
}

// Transcript is the text of a recording and its locally probed duration.
type Transcript struct {
	Text     string
	Duration float64 // seconds
}

// DurationProber measures the playback length of an audio file.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// TranscriptionError wraps any failure to obtain a transcript.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return "Transcription failed: " + e.Err.Error()
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}
