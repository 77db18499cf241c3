package grading

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// ChatCompleter is the subset of the OpenAI client the grader needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// GradingError wraps any failure to obtain or parse a grading reply.
type GradingError struct {
	Err error
}

func (e *GradingError) Error() string {
	return "Grading failed: " + e.Err.Error()
}

func (e *GradingError) Unwrap() error {
	return e.Err
}

// Options tune the grading call.
type Options struct {
	Model string
	// Temperature is sent as given; zero means deterministic sampling.
	// LLM_TEMPERATURE supplies the 0.3 default.
	Temperature float32
	Sanitizer   ResponseSanitizer
}

// Grader scores transcripts against the speaking rubric with one chat
// completion per transcript.
type Grader struct {
	client    ChatCompleter
	model     string
	temp      float32
	sanitizer ResponseSanitizer
	log       zerolog.Logger
}

func NewGrader(client ChatCompleter, opts Options, log zerolog.Logger) *Grader {
	if opts.Model == "" {
		opts.Model = "llama-3.3-70b-versatile"
	}
	if opts.Sanitizer == nil {
		opts.Sanitizer = ASCIISanitizer{}
	}
	return &Grader{
		client:    client,
		model:     opts.Model,
		temp:      opts.Temperature,
		sanitizer: opts.Sanitizer,
		log:       log.With().Str("component", "grader").Logger(),
	}
}

// NewOpenAIClient builds a chat client for an OpenAI-compatible endpoint.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(cfg)
}

// wireTemperature maps zero to the smallest positive float32, which the
// server reads as zero. go-openai drops a zero temperature from the request
// and the endpoint would then apply its own default.
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// Model returns the chat model identifier.
func (g *Grader) Model() string { return g.model }

// Grade builds the rubric prompt, asks the model once and parses its reply.
// All failures are returned as *GradingError; nothing is retried or repaired.
func (g *Grader) Grade(ctx context.Context, topic, transcript string, duration float64) (*Result, error) {
	metrics := ComputeMetrics(transcript, duration)
	prompt := BuildPrompt(topic, transcript, metrics)

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: wireTemperature(g.temp),
	})
	if err != nil {
		return nil, &GradingError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &GradingError{Err: errors.New("model returned no choices")}
	}

	raw := resp.Choices[0].Message.Content
	result, err := ParseResult(g.sanitizer.Sanitize(raw))
	if err != nil {
		g.log.Warn().Err(err).Int("reply_chars", len(raw)).Msg("unparseable grading reply")
		return nil, &GradingError{Err: err}
	}

	g.log.Debug().
		Int("words", metrics.Words).
		Float64("wpm", metrics.WordsPerMinute).
		Float64("total", float64(result.Scores.Total)).
		Dur("elapsed", time.Since(start)).
		Msg("grading complete")

	return result, nil
}
