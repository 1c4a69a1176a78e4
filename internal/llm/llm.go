package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Options are the per-call knobs of a generation request.
type Options struct {
	Model           string
	MaxTokens       int
	ReasoningEffort string
	Verbosity       string
	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// Provider is the interface for LLM providers.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	IsConfigured() bool
}

// Embedder is the interface for generating embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// OllamaProvider talks to a local Ollama server.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OllamaProvider) Name() string { return "ollama" }

// IsConfigured reports whether the server answers on /api/tags.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Generate sends a prompt to Ollama's chat endpoint.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model := o.Model
	if opts.Model != "" {
		model = opts.Model
	}
	body := map[string]any{
		"model":    model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
		"stream":   false,
		"options":  map[string]any{"num_predict": opts.MaxTokens, "temperature": 0.3},
	}
	if opts.JSON {
		body["format"] = "json"
	}

	var out struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := postJSON(ctx, o.client, "ollama", o.BaseURL+"/api/chat", "", body, &out); err != nil {
		return "", err
	}
	return out.Message.Content, nil
}

// OllamaEmbedder generates embeddings via the Ollama API.
type OllamaEmbedder struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaEmbedder creates a new Ollama embedder.
func NewOllamaEmbedder(model, baseURL string) *OllamaEmbedder {
	return &OllamaEmbedder{Model: model, BaseURL: baseURL, client: &http.Client{Timeout: 120 * time.Second}}
}

// Embed returns one vector per text, in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	var out struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	body := map[string]any{"model": e.Model, "input": texts}
	if err := postJSON(ctx, e.client, "ollama embed", e.BaseURL+"/api/embed", "", body, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed returned %d vectors for %d texts", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

// OpenAIProvider talks to an OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenAIProvider reads the API key from apiKeyEnv.
func NewOpenAIProvider(model, apiKeyEnv string) *OpenAIProvider {
	return &OpenAIProvider{
		Model:   model,
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: "https://api.openai.com/v1",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) IsConfigured() bool { return o.APIKey != "" }

// Generate sends a single user message and returns the first choice.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("openai: API key not configured")
	}
	model := o.Model
	if opts.Model != "" {
		model = opts.Model
	}
	body := map[string]any{
		"model":    model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	}
	if opts.MaxTokens > 0 {
		body["max_completion_tokens"] = opts.MaxTokens
	}
	if opts.ReasoningEffort != "" {
		body["reasoning_effort"] = opts.ReasoningEffort
	}
	if opts.Verbosity != "" {
		body["verbosity"] = opts.Verbosity
	}
	if opts.JSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	url := strings.TrimRight(o.BaseURL, "/") + "/chat/completions"
	if err := postJSON(ctx, o.client, "openai", url, o.APIKey, body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// postJSON posts in as JSON and decodes a 200 response into out. A non-empty
// bearer is sent as the Authorization header.
func postJSON(ctx context.Context, c *http.Client, name, url, bearer string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshaling request: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", name, err)
	}
	return nil
}

// ProviderConfig carries what CreateProvider needs to pick a backend.
type ProviderConfig struct {
	Provider     string
	DefaultModel string
	OllamaURL    string
	APIKeyEnv    string
	GeminiKeyEnv string
}

// CreateProvider creates an LLM provider based on configuration. The
// preferred provider is tried first, then ollama, openai and gemini in that
// order. Returns nil when nothing is available.
func CreateProvider(ctx context.Context, pc ProviderConfig, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}

	order := []string{"ollama", "openai", "gemini"}
	preferred := strings.ToLower(pc.Provider)
	candidates := []string{preferred}
	for _, name := range order {
		if name != preferred {
			candidates = append(candidates, name)
		}
	}

	for _, name := range candidates {
		var p Provider
		switch name {
		case "ollama":
			p = NewOllamaProvider(pc.DefaultModel, pc.OllamaURL)
		case "openai":
			p = NewOpenAIProvider(pc.DefaultModel, pc.APIKeyEnv)
		case "gemini":
			g, err := NewGeminiProvider(ctx, pc.DefaultModel, pc.GeminiKeyEnv)
			if err != nil {
				logger.Debug("gemini unavailable", zap.Error(err))
				continue
			}
			p = g
		default:
			continue
		}
		if p.IsConfigured() {
			logger.Info("using LLM provider", zap.String("provider", p.Name()), zap.String("model", pc.DefaultModel))
			return p
		}
		logger.Info("LLM provider not available, trying next", zap.String("provider", name))
	}

	logger.Warn("no LLM provider available; check Ollama is running or set an API key")
	return nil
}
