package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aristath/arena-engine/internal/domain"
)

// defaultProviderURLs are the well-known OpenAI-compatible chat-completions
// base URLs for each supported provider, overridable per
// config.Config.LLMBaseURLByProvider.
var defaultProviderURLs = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"qwen":     "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"moonshot": "https://api.moonshot.cn/v1",
}

// LLMClient is a thin OpenAI-compatible chat-completions client: one model,
// one API key, one base URL. It implements domain.LLMClient; retries and
// quota handling live one layer up in internal/llm.
type LLMClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewLLMClient builds a client for one agent's model. baseURL, if empty,
// falls back to provider's well-known default (anthropic is not an
// OpenAI-compatible chat endpoint and must set baseURL explicitly).
func NewLLMClient(provider, model, apiKey, baseURL string) *LLMClient {
	if baseURL == "" {
		baseURL = defaultProviderURLs[provider]
	}
	return &LLMClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: requestTimeout * 3},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

// Complete sends prompt as a single user message and returns the model's
// text reply.
func (c *LLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.NewArenaError(domain.ErrTransient, "llm.complete", err)
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", domain.NewArenaError(domain.ErrMalformed, "llm.complete", err)
	}

	if parsed.Error != nil {
		kind := domain.ErrTransient
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired {
			kind = domain.ErrQuotaExhausted
		}
		return "", domain.NewArenaError(kind, "llm.complete", fmt.Errorf("%v: %s", parsed.Error.Code, parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", domain.NewArenaError(domain.ErrMalformed, "llm.complete", fmt.Errorf("empty choices in response"))
	}
	return parsed.Choices[0].Message.Content, nil
}
