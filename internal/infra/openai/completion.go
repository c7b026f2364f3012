package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voice-code/internal/domain"
	"voice-code/internal/infra"
)

const maxResponseBytes = 4 << 20

// CompletionClient generates code through the Chat Completions API.
type CompletionClient struct {
	httpClient *http.Client
	baseURL    string
	opts       infra.GenerationOptions
}

func NewCompletionClient(opts infra.GenerationOptions) *CompletionClient {
	return NewCompletionClientWithURL(opts, "https://api.openai.com/v1")
}

func NewCompletionClientWithURL(opts infra.GenerationOptions, baseURL string) *CompletionClient {
	return &CompletionClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		opts:       opts.WithDefaults("gpt-4o-mini"),
	}
}

func (c *CompletionClient) Name() string {
	return "openai"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *CompletionClient) Generate(ctx context.Context, utterance string, cred domain.Credential) (string, error) {
	if cred.Secret == "" {
		return "", fmt.Errorf("openai: missing API key: %w", domain.ErrProviderAuth)
	}

	reqBody := chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: infra.SystemPrompt(c.opts.Language)},
			{Role: "user", Content: utterance},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+cred.Secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", infra.RequestError("openai", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", infra.RequestError("openai", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", infra.StatusError("openai", resp.StatusCode, respBody)
	}

	var result chatResponse
	if err = json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding openai response: %w: %w", domain.ErrProviderRequest, err)
	}

	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty response from openai: %w", domain.ErrProviderRequest)
	}

	return infra.ExtractCode(result.Choices[0].Message.Content), nil
}
