package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/parley/internal/config"
	"github.com/TobiSchelling/parley/internal/models"
)

var (
	// ErrNoProvider is returned when no LLM backend is configured.
	ErrNoProvider = errors.New("no LLM provider configured")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("empty LLM response")
	// ErrSchema marks a response that does not match the expected shape.
	ErrSchema = errors.New("response does not match schema")
)

// Request is one generation or scoring call.
type Request struct {
	UseCase     string
	Prompt      string
	Options     Options
	Timeout     time.Duration
	Attribution models.Attribution
}

// RequestFor builds a request from the configured profile of a use case.
func RequestFor(cfg *config.Config, useCase, prompt string, attr models.Attribution) Request {
	p := cfg.Profile(useCase)
	return Request{
		UseCase: useCase,
		Prompt:  prompt,
		Options: Options{
			Model:           p.Model,
			MaxTokens:       p.MaxTokens,
			ReasoningEffort: p.ReasoningEffort,
			Verbosity:       p.Verbosity,
		},
		Timeout:     p.Timeout.Std(),
		Attribution: attr,
	}
}

// UsageEvent is one metered LLM call.
type UsageEvent struct {
	Timestamp     time.Time
	Attribution   models.Attribution
	UseCase       string
	Provider      string
	Model         string
	PromptChars   int
	ResponseChars int
	Duration      time.Duration
	Err           string
}

// EstimatedTokens approximates token usage at four characters per token.
func (u UsageEvent) EstimatedTokens() int {
	return (u.PromptChars + u.ResponseChars + 3) / 4
}

// UsageRecorder persists usage events for downstream accounting.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ev UsageEvent) error
}

// Client wraps a Provider with timeouts, attribution and usage accounting.
// A nil provider is allowed: every call fails fast with ErrNoProvider.
type Client struct {
	provider Provider
	usage    UsageRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewClient creates a client. usage may be nil.
func NewClient(provider Provider, usage UsageRecorder, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{provider: provider, usage: usage, logger: logger, now: time.Now}
}

// Available reports whether a provider is configured.
func (c *Client) Available() bool {
	return c != nil && c.provider != nil
}

// Generate runs a text generation call under the request timeout.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if !c.Available() {
		return "", ErrNoProvider
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := c.now()
	text, err := c.provider.Generate(ctx, req.Prompt, req.Options)
	c.record(ctx, req, start, text, err)
	if err != nil {
		return "", fmt.Errorf("%s generation: %w", req.UseCase, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Score runs a structured call: the response must be a JSON object valid
// against schema. Malformed or empty responses return an error wrapping
// ErrSchema or ErrEmptyResponse; callers treat those as "no result".
func (c *Client) Score(ctx context.Context, req Request, schema *Schema) (map[string]any, error) {
	req.Options.JSON = true
	text, err := c.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	payload, err := ParseJSONResponse(text)
	if err != nil {
		return nil, err
	}
	if schema != nil {
		if violations := schema.Validate(payload); len(violations) > 0 {
			return nil, fmt.Errorf("%w: %s: %s", ErrSchema, schema.Name(), strings.Join(violations, "; "))
		}
	}
	return payload, nil
}

func (c *Client) record(ctx context.Context, req Request, start time.Time, text string, callErr error) {
	if c.usage == nil {
		return
	}
	ev := UsageEvent{
		Timestamp:     start,
		Attribution:   req.Attribution,
		UseCase:       req.UseCase,
		Provider:      c.provider.Name(),
		Model:         req.Options.Model,
		PromptChars:   len(req.Prompt),
		ResponseChars: len(text),
		Duration:      c.now().Sub(start),
	}
	if callErr != nil {
		ev.Err = callErr.Error()
	}
	// Usage is recorded even when the call context has expired.
	if err := c.usage.RecordUsage(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Warn("recording LLM usage failed", zap.String("use_case", req.UseCase), zap.Error(err))
	}
}
