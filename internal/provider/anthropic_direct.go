package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// anthropicMessagesEndpoint is the direct Anthropic Messages API endpoint,
// used when no override is configured.
const anthropicMessagesEndpoint = "https://api.anthropic.com/v1/messages"

// anthropicAPIVersion is the required anthropic-version header value.
const anthropicAPIVersion = "2023-06-01"

// AnthropicProvider talks to the Anthropic Messages API directly, as opposed
// to ZenProvider's opencode.ai-proxied dispatch. It is selected by
// provider config `type = "anthropic"`.
type AnthropicProvider struct {
	name        string
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	model       string
	temperature float64
	thinking    bool
}

// NewAnthropic creates a direct Anthropic Messages API provider. endpoint
// overrides the base URL (e.g. for an Anthropic-compatible gateway); leave
// empty for api.anthropic.com.
func NewAnthropic(name, endpoint, model, apiKey string, opts Options) *AnthropicProvider {
	baseURL := strings.TrimRight(endpoint, "/")
	if baseURL == "" {
		baseURL = anthropicMessagesEndpoint
	}
	return &AnthropicProvider{
		name:        name,
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		model:       model,
		temperature: opts.Temperature,
		thinking:    opts.Thinking,
	}
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	system, msgs := toAnthropicMessages(messages)

	req := anthropicRequest{
		Model:       p.model,
		Messages:    msgs,
		System:      system,
		MaxTokens:   8192,
		Temperature: p.temperature,
		Stream:      true,
		Tools:       toAnthropicTools(tools),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      p.baseURL,
		body:     body,
		headers:  p.authHeaders(),
		provider: p.name,
		model:    p.model,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer reader.Close()
		parseAnthropicSSEStream(ctx, reader, ch)
	}()
	return ch, nil
}

// authHeaders builds the Anthropic-specific auth headers: x-api-key,
// anthropic-version, and (when extended thinking is enabled)
// anthropic-beta.
func (p *AnthropicProvider) authHeaders() map[string]string {
	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}
	if p.thinking {
		headers["anthropic-beta"] = "interleaved-thinking-2025-05-14"
	}
	return headers
}

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]Model, error) {
	// Anthropic has no public unauthenticated models-list endpoint that
	// matches the Model shape used elsewhere; callers configure the model
	// id directly in provider config.
	return nil, nil
}

func (p *AnthropicProvider) Close() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}

// AnthropicFactory builds AnthropicProvider instances for the direct
// Anthropic Messages API.
type AnthropicFactory struct {
	name     string
	endpoint string
	apiKey   string
}

func NewAnthropicFactory(name, endpoint, apiKey string) *AnthropicFactory {
	return &AnthropicFactory{name: name, endpoint: endpoint, apiKey: apiKey}
}

func (f *AnthropicFactory) Name() string { return f.name }

func (f *AnthropicFactory) Create(model string, opts Options) Provider {
	return NewAnthropic(f.name, f.endpoint, model, f.apiKey, opts)
}
