package gemini

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

type Client struct {
	httpClient *http.Client
	baseURL    string
	opts       infra.GenerationOptions
}

func NewClient(opts infra.GenerationOptions) *Client {
	return NewClientWithURL(opts, "https://generativelanguage.googleapis.com/v1beta")
}

func NewClientWithURL(opts infra.GenerationOptions, baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		opts:       opts.WithDefaults("gemini-2.0-flash"),
	}
}

func (c *Client) Name() string {
	return "gemini"
}

type content struct {
	Parts []part `json:"parts"`
	Role  string `json:"role,omitempty"`
}

type part struct {
	Text string `json:"text"`
}

type request struct {
	Contents         []content        `json:"contents"`
	SystemInstruct   *content         `json:"systemInstruction,omitempty"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

type response struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func (c *Client) Generate(ctx context.Context, utterance string, cred domain.Credential) (string, error) {
	if cred.Secret == "" {
		return "", fmt.Errorf("gemini: missing API key: %w", domain.ErrProviderAuth)
	}

	reqBody := request{
		SystemInstruct: &content{
			Parts: []part{{Text: infra.SystemPrompt(c.opts.Language)}},
		},
		Contents: []content{
			{
				Role:  "user",
				Parts: []part{{Text: utterance}},
			},
		},
		GenerationConfig: generationConfig{
			MaxOutputTokens: c.opts.MaxTokens,
			Temperature:     c.opts.Temperature,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	// The key travels in a header so transport errors, which quote the URL,
	// cannot leak it.
	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.opts.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", cred.Secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", infra.RequestError("gemini", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", infra.RequestError("gemini", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", infra.StatusError("gemini", resp.StatusCode, respBody)
	}

	var result response
	if err = json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding gemini response: %w: %w", domain.ErrProviderRequest, err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("gemini error: %s: %w", result.Error.Message, infra.ClassifyStatus(result.Error.Code, []byte(result.Error.Status)))
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini: %w", domain.ErrProviderRequest)
	}

	var text strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	return infra.ExtractCode(text.String()), nil
}
