package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Client talks to an OpenAI-compatible chat completions endpoint
type Client struct {
	baseURL string
	apiKey  string
	client  *resty.Client
}

// Ensure Client implements Oracle
var _ Oracle = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewClient creates a new judgment service client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "Nuance-Validator/1.0"),
	}
}

// Query sends a single user prompt and returns the trimmed completion text
func (c *Client) Query(ctx context.Context, prompt string, params Params) (string, error) {
	body := chatRequest{
		Model:       params.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if c.apiKey != "" {
		req.SetAuthToken(c.apiKey)
	}

	resp, err := req.Post(c.baseURL + "/chat/completions")
	if err != nil {
		return "", fmt.Errorf("%w: request failed: %v", ErrOracle, err)
	}

	if resp.StatusCode() != 200 {
		logrus.Debugf("Oracle error response: %s", string(resp.Body()))
		return "", fmt.Errorf("%w: status %d", ErrOracle, resp.StatusCode())
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %v", ErrOracle, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrOracle)
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
