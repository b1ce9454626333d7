package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenCodeProvider talks to the opencode.ai Zen gateway directly. Zen
// multiplexes several wire shapes behind one base URL, keyed by model: some
// models speak OpenAI chat completions, some speak Anthropic Messages, some
// speak the OpenAI Responses API. opencodeEndpointForModel picks the shape;
// the matching request builder and SSE parser from anthropic.go /
// openai_common.go handle the rest.
type OpenCodeProvider struct {
	name        string
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	model       string
	temperature float64
}

const (
	opencodeChatCompletionsEndpoint = "/chat/completions"
	opencodeMessagesEndpoint        = "/messages"
	opencodeResponsesEndpoint       = "/responses"
)

var opencodeModelEndpoints = map[string]string{
	"big-pickle":                opencodeChatCompletionsEndpoint,
	"gemini-3-pro":               opencodeChatCompletionsEndpoint,
	"gemini-3-flash":             opencodeChatCompletionsEndpoint,
	"glm-4.7-free":               opencodeChatCompletionsEndpoint,
	"gpt-5-nano":                 opencodeChatCompletionsEndpoint, // docs say /responses but it 500s
	"kimi-k2.5-free":             opencodeChatCompletionsEndpoint,
	"minimax-m2.1-free":          opencodeMessagesEndpoint,
	"trinity-large-preview-free": opencodeChatCompletionsEndpoint,
}

// NewOpenCode creates a new OpenCode Zen provider.
func NewOpenCode(endpoint, model, apiKey string) *OpenCodeProvider {
	return NewOpenCodeWithTemp("opencode_zen", endpoint, model, apiKey, 0.7)
}

func NewOpenCodeWithTemp(name string, endpoint, model, apiKey string, temperature float64) *OpenCodeProvider {
	return &OpenCodeProvider{
		name:        name,
		baseURL:     strings.TrimRight(endpoint, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		model:       model,
		temperature: temperature,
	}
}

// Name returns the provider identifier.
func (p *OpenCodeProvider) Name() string {
	return p.name
}

// ChatStream sends messages and tools through the wire shape opencode.ai
// expects for the configured model, and emits a uniform StreamEvent channel.
func (p *OpenCodeProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	switch opencodeEndpointForModel(p.model) {
	case opencodeMessagesEndpoint:
		return p.chatStreamAnthropic(ctx, messages, tools)
	case opencodeResponsesEndpoint:
		return p.chatStreamResponses(ctx, messages, tools)
	default:
		return p.chatStreamCompletions(ctx, messages, tools)
	}
}

func (p *OpenCodeProvider) chatStreamCompletions(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	req := openCodeRequest{
		Model:       p.model,
		Messages:    mergeSystemMessagesOpenAI(toOpenAIMessages(messages)),
		Tools:       toOpenAITools(tools),
		Temperature: float32(p.temperature),
		Stream:      true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      p.baseURL + opencodeChatCompletionsEndpoint,
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
		parseSSEStream(ctx, reader, ch)
	}()
	return ch, nil
}

func (p *OpenCodeProvider) chatStreamAnthropic(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
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
	headers := p.authHeaders()
	headers["anthropic-version"] = anthropicAPIVersion
	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      p.baseURL + opencodeMessagesEndpoint,
		body:     body,
		headers:  headers,
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

func (p *OpenCodeProvider) chatStreamResponses(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	req := responsesRequest{
		Model:  p.model,
		Input:  toResponsesInput(messages),
		Tools:  toResponsesTools(tools),
		Stream: true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      p.baseURL + opencodeResponsesEndpoint,
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
		parseResponsesSSEStream(ctx, reader, ch)
	}()
	return ch, nil
}

func (p *OpenCodeProvider) authHeaders() map[string]string {
	headers := make(map[string]string)
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	return headers
}

// ListModels returns the fixed set of models opencode.ai Zen currently
// advertises; Zen has no public unauthenticated model-list endpoint.
func (p *OpenCodeProvider) ListModels(ctx context.Context) ([]Model, error) {
	models := make([]Model, 0, len(opencodeModelEndpoints))
	for name := range opencodeModelEndpoints {
		models = append(models, Model{Name: name})
	}
	return models, nil
}

func opencodeEndpointForModel(model string) string {
	if endpoint, ok := opencodeModelEndpoints[model]; ok {
		return endpoint
	}

	switch {
	case strings.HasPrefix(model, "gpt-"):
		return opencodeResponsesEndpoint
	case strings.HasPrefix(model, "claude-"):
		return opencodeMessagesEndpoint
	default:
		return opencodeChatCompletionsEndpoint
	}
}

// Close closes idle HTTP connections
func (p *OpenCodeProvider) Close() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}

// openCodeRequest mirrors openai.ChatCompletionRequest's streaming shape,
// trimmed to the fields Zen's chat/completions endpoint needs.
type openCodeRequest struct {
	Model       string                         `json:"model"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	Tools       []openai.Tool                  `json:"tools,omitempty"`
	Temperature float32                        `json:"temperature,omitempty"`
	Stream      bool                           `json:"stream"`
}
