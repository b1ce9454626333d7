package provider

import (
	"context"
	"encoding/json"
	"net/http"
)

// chatgptResponsesEndpoint is the ChatGPT/Codex subscription Responses API
// endpoint. Distinct from the plain OpenAI API host: this is the
// account-scoped backend Codex CLI itself talks to.
const chatgptResponsesEndpoint = "https://chatgpt.com/backend-api/codex/responses"

// ChatGPTProvider talks to the OpenAI Responses API through a ChatGPT/Codex
// subscription OAuth token, as opposed to AnthropicProvider/OpenAIProvider's
// plain-API-key auth. Selected by provider config `type = "openai-responses"`.
type ChatGPTProvider struct {
	name       string
	baseURL    string
	httpClient *http.Client
	model      string

	// tokens resolves the current access token and account id on every
	// request, so a mid-session refresh in the credential store is picked
	// up without rebuilding the provider.
	tokens func() (accessToken, accountID string, err error)
}

// NewChatGPT creates a direct ChatGPT/Codex Responses API provider from a
// fixed token pair. accessToken and accountID come from the OpenAI OAuth
// credential store (auth.GetCredentials, auth.ExtractChatGPTAccountID).
func NewChatGPT(name, endpoint, model, accessToken, accountID string) *ChatGPTProvider {
	return NewChatGPTWithSource(name, endpoint, model, func() (string, string, error) {
		return accessToken, accountID, nil
	})
}

// NewChatGPTWithSource creates the provider with a live token source,
// consulted on every request.
func NewChatGPTWithSource(name, endpoint, model string, tokens func() (string, string, error)) *ChatGPTProvider {
	baseURL := endpoint
	if baseURL == "" {
		baseURL = chatgptResponsesEndpoint
	}
	return &ChatGPTProvider{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{},
		model:      model,
		tokens:     tokens,
	}
}

func (p *ChatGPTProvider) Name() string { return p.name }

func (p *ChatGPTProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
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

	headers, err := p.authHeaders()
	if err != nil {
		return nil, err
	}
	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      p.baseURL,
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
		parseResponsesSSEStream(ctx, reader, ch)
	}()
	return ch, nil
}

// authHeaders builds the ChatGPT subscription auth headers: a Bearer OAuth
// access token plus the chatgpt-account-id extracted from its id_token.
func (p *ChatGPTProvider) authHeaders() (map[string]string, error) {
	accessToken, accountID, err := p.tokens()
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	if accountID != "" {
		headers["chatgpt-account-id"] = accountID
	}
	return headers, nil
}

func (p *ChatGPTProvider) ListModels(ctx context.Context) ([]Model, error) {
	// The Codex subscription backend does not expose a models-list endpoint;
	// available models are fixed by the subscription tier.
	return nil, nil
}

func (p *ChatGPTProvider) Close() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}

// ChatGPTFactory builds ChatGPTProvider instances. Unlike the other
// factories, its credentials come from a live OAuth lookup per request
// rather than a fixed API key, since the access token can expire and refresh
// mid-session.
type ChatGPTFactory struct {
	name     string
	endpoint string
	tokens   func() (accessToken, accountID string, err error)
}

// NewChatGPTFactory builds a factory whose providers call tokens() to
// resolve a (possibly just-refreshed) access token and account id on every
// request.
func NewChatGPTFactory(name, endpoint string, tokens func() (string, string, error)) *ChatGPTFactory {
	return &ChatGPTFactory{name: name, endpoint: endpoint, tokens: tokens}
}

func (f *ChatGPTFactory) Name() string { return f.name }

func (f *ChatGPTFactory) Create(model string, opts Options) Provider {
	return NewChatGPTWithSource(f.name, f.endpoint, model, f.tokens)
}
