package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiOptions configures a Gemini generator.
type GeminiOptions struct {
	APIKey string

	// Model defaults to gemini-2.0-flash.
	Model string

	// BaseURL overrides the Gemini API endpoint.
	BaseURL string

	// Timeout bounds each request. Zero means 60 seconds.
	Timeout time.Duration

	// MaxRPS caps requests per second (0 = unlimited).
	MaxRPS float64
}

// Gemini calls the Gemini generateContent API.
type Gemini struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

var _ Generator = (*Gemini)(nil)

// NewGemini validates opts and builds a generator.
func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      opts.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: opts.Timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: opts.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	g := &Gemini{client: client, model: opts.Model}
	if opts.MaxRPS > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}
	return g, nil
}

// GenerateSQL sends the question with the system prompt for req.Backend as
// the system instruction at temperature 0 and parses the reply.
func (g *Gemini) GenerateSQL(ctx context.Context, req Request) (Generation, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Generation{}, errors.New("gemini: question is required")
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Generation{}, fmt.Errorf("gemini: rate limiter: %w", err)
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(userInput(req)), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: SystemPrompt(req.Backend)}}},
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return Generation{}, fmt.Errorf("gemini: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return Generation{}, errors.New("gemini: response contained no text")
	}
	return ParseResponse(text), nil
}
