package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// openaiChatCompletionsEndpoint is the default OpenAI-compatible chat
// completions endpoint. Overriding the endpoint is how this same provider
// also reaches OpenRouter, Groq, and Moonshot: all three speak the
// identical wire shape.
const openaiChatCompletionsEndpoint = "https://api.openai.com/v1"

type openaiChatRequest struct {
	Model         string                         `json:"model"`
	Messages      []openai.ChatCompletionMessage `json:"messages"`
	Tools         []openai.Tool                  `json:"tools,omitempty"`
	Temperature   float32                        `json:"temperature,omitempty"`
	TopP          float32                        `json:"top_p,omitempty"`
	MaxTokens     int                            `json:"max_tokens,omitempty"`
	Stream        bool                           `json:"stream"`
	StreamOptions *chatStreamOptions             `json:"stream_options,omitempty"`
}

// OpenAIProvider speaks plain OpenAI chat completions directly, with an
// api_key bearer token, as opposed to ZenProvider's proxied dispatch or
// ChatGPTProvider's subscription OAuth. Selected by provider config
// `type = "openai"`; endpoint override covers OpenRouter/Groq/Moonshot.
type OpenAIProvider struct {
	name        string
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	model       string
	temperature float64
	topP        float64
	maxTokens   int
}

// NewOpenAI creates a new direct OpenAI-compatible provider.
func NewOpenAI(endpoint, model, apiKey string) *OpenAIProvider {
	return NewOpenAIWithOpts("openai", endpoint, model, apiKey, Options{Temperature: 0.7})
}

func NewOpenAIWithOpts(name, endpoint, model, apiKey string, opts Options) *OpenAIProvider {
	baseURL := strings.TrimRight(endpoint, "/")
	if baseURL == "" {
		baseURL = openaiChatCompletionsEndpoint
	}
	return &OpenAIProvider{
		name:        name,
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		model:       model,
		temperature: opts.Temperature,
		topP:        opts.TopP,
		maxTokens:   opts.MaxTokens,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	req := openaiChatRequest{
		Model:         p.model,
		Messages:      mergeSystemMessagesOpenAI(toOpenAIMessages(messages)),
		Tools:         toOpenAITools(tools),
		Temperature:   float32(p.temperature),
		TopP:          float32(p.topP),
		MaxTokens:     p.maxTokens,
		Stream:        true,
		StreamOptions: &chatStreamOptions{IncludeUsage: true},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      p.baseURL + "/chat/completions",
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

func (p *OpenAIProvider) authHeaders() map[string]string {
	headers := make(map[string]string)
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	return headers
}

// ListModels queries the OpenAI-compatible GET /v1/models endpoint.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	for k, v := range p.authHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list models status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var listResp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, err
	}

	models := make([]Model, len(listResp.Data))
	for i, m := range listResp.Data {
		models[i] = Model{Name: m.ID}
	}
	return models, nil
}

func (p *OpenAIProvider) Close() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}

// OpenAIFactory builds OpenAIProvider instances for the direct OpenAI-
// compatible backend.
type OpenAIFactory struct {
	name     string
	endpoint string
	apiKey   string
}

func NewOpenAIFactory(name, endpoint, apiKey string) *OpenAIFactory {
	return &OpenAIFactory{name: name, endpoint: endpoint, apiKey: apiKey}
}

func (f *OpenAIFactory) Name() string { return f.name }

func (f *OpenAIFactory) Create(model string, opts Options) Provider {
	return NewOpenAIWithOpts(f.name, f.endpoint, model, f.apiKey, opts)
}
