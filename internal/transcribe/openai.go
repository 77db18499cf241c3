package transcribe

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultBaseURL is Groq's OpenAI-compatible API root.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// OpenAIConfig configures an OpenAI-compatible transcription endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIProvider transcribes audio through the /audio/transcriptions
// endpoint of any OpenAI-compatible API. The reported duration comes from
// probing the file locally, never from the provider.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	prober DurationProber
	log    zerolog.Logger
}

func NewOpenAIProvider(cfg OpenAIConfig, prober DurationProber, log zerolog.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3-turbo"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		prober: prober,
		log:    log.With().Str("component", "transcribe").Logger(),
	}
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

// Transcribe uploads the file once. There is no retry.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audioPath string) (*Transcript, error) {
	start := time.Now()
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return nil, &TranscriptionError{Err: err}
	}

	duration, err := p.prober.Duration(ctx, audioPath)
	if err != nil {
		return nil, &TranscriptionError{Err: err}
	}

	p.log.Debug().
		Str("model", p.model).
		Int("chars", len(resp.Text)).
		Float64("duration", duration).
		Dur("elapsed", time.Since(start)).
		Msg("transcription complete")

	return &Transcript{Text: resp.Text, Duration: duration}, nil
}
