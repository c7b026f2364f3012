package anthropic

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

type ClaudeClient struct {
	httpClient *http.Client
	baseURL    string
	opts       infra.GenerationOptions
}

func NewClaudeClient(opts infra.GenerationOptions) *ClaudeClient {
	return NewClaudeClientWithURL(opts, "https://api.anthropic.com/v1")
}

func NewClaudeClientWithURL(opts infra.GenerationOptions, baseURL string) *ClaudeClient {
	return &ClaudeClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		opts:       opts.WithDefaults("claude-sonnet-4-20250514"),
	}
}

func (c *ClaudeClient) Name() string {
	return "anthropic"
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *ClaudeClient) Generate(ctx context.Context, utterance string, cred domain.Credential) (string, error) {
	if cred.Secret == "" {
		return "", fmt.Errorf("claude: missing API key: %w", domain.ErrProviderAuth)
	}

	reqBody := request{
		Model:     c.opts.Model,
		MaxTokens: c.opts.MaxTokens,
		System:    infra.SystemPrompt(c.opts.Language),
		Messages: []message{
			{Role: "user", Content: utterance},
		},
		Temperature: c.opts.Temperature,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", cred.Secret)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", infra.RequestError("claude", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", infra.RequestError("claude", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", infra.StatusError("claude", resp.StatusCode, respBody)
	}

	var result response
	if err = json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding claude response: %w: %w", domain.ErrProviderRequest, err)
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("empty response from claude: %w", domain.ErrProviderRequest)
	}

	return infra.ExtractCode(text.String()), nil
}
