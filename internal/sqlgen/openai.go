package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIOptions configures an OpenAI generator.
type OpenAIOptions struct {
	APIKey string

	// Model defaults to gpt-4.
	Model string

	// BaseURL defaults to https://api.openai.com/v1.
	BaseURL string

	// Timeout bounds each request. Zero means 60 seconds.
	Timeout time.Duration

	// MaxRPS caps requests per second (0 = unlimited).
	MaxRPS float64
}

// OpenAI calls the chat completions API.
type OpenAI struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

var _ Generator = (*OpenAI)(nil)

// zeroTemperature is sent for temperature 0: the client omits a literal
// zero from the request, which the API reads as its default of 1.
const zeroTemperature = math.SmallestNonzeroFloat32

// NewOpenAI validates opts and builds a generator.
func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("openai: invalid base URL %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = base.String()
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	g := &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  opts.Model,
	}
	if opts.MaxRPS > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}
	return g, nil
}

// GenerateSQL sends the question with the system prompt for req.Backend at
// temperature 0 and parses the reply.
func (g *OpenAI) GenerateSQL(ctx context.Context, req Request) (Generation, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Generation{}, errors.New("openai: question is required")
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Generation{}, fmt.Errorf("openai: rate limiter: %w", err)
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(req.Backend)},
			{Role: openai.ChatMessageRoleUser, Content: userInput(req)},
		},
		Temperature: zeroTemperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return Generation{}, fmt.Errorf("openai: %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return Generation{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Generation{}, errors.New("openai: response contained no choices")
	}

	return ParseResponse(resp.Choices[0].Message.Content), nil
}
