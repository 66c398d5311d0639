package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quorum/internal/logger"

	"github.com/go-resty/resty/v2"
)

// OpenAIChatClient 兼容 OpenAI / DeepSeek / Qwen 的聊天补全接口（/v1/chat/completions）。
// 429/5xx 会按 Retry-After 或指数退避重试。
type OpenAIChatClient struct {
	id         string
	model      string
	expectJSON bool
	endpoint   string
	apiKey     string
	headers    map[string]string
	http       *resty.Client
}

type ClientOptions struct {
	ID         string
	BaseURL    string
	APIKey     string
	Model      string
	Headers    map[string]string
	ExpectJSON bool
	Timeout    time.Duration
	MaxRetries int
}

func NewOpenAIChatClient(opts ClientOptions) *OpenAIChatClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 2
	}
	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(800 * time.Millisecond).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil || resp == nil {
				return false
			}
			return retryableStatus(resp.StatusCode())
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp == nil {
				return 0, nil
			}
			if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second, nil
			}
			return 0, nil
		})
	return &OpenAIChatClient{
		id:         strings.TrimSpace(opts.ID),
		model:      strings.TrimSpace(opts.Model),
		expectJSON: opts.ExpectJSON,
		endpoint:   chatEndpoint(opts.BaseURL),
		apiKey:     opts.APIKey,
		headers:    opts.Headers,
		http:       rc,
	}
}

func (c *OpenAIChatClient) ID() string        { return c.id }
func (c *OpenAIChatClient) Model() string     { return c.model }
func (c *OpenAIChatClient) Enabled() bool     { return c != nil && c.model != "" }
func (c *OpenAIChatClient) ExpectsJSON() bool { return c.expectJSON }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAIChatClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if payload.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: payload.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: payload.User})
	body := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: payload.Temperature,
		MaxTokens:   payload.MaxTokens,
	}
	if payload.ExpectJSON || c.expectJSON {
		body.ResponseFormat = map[string]any{"type": "json_object"}
	}

	var out chatResponse
	var apiErr chatError
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr)
	if c.apiKey != "" {
		req.SetAuthToken(c.apiKey)
	}
	for k, v := range c.headers {
		req.SetHeader(k, v)
	}
	logger.Debugf("[AI] 请求: POST %s model=%s headers=%v", c.endpoint, c.model, maskHeaders(c.apiKey, c.headers))

	resp, err := req.Post(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.id, err)
	}
	if resp.IsError() {
		msg := strings.TrimSpace(apiErr.Error.Message)
		if msg == "" {
			msg = resp.Status()
		}
		return "", fmt.Errorf("%s: status=%d: %s", c.id, resp.StatusCode(), msg)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", c.id)
	}
	return out.Choices[0].Message.Content, nil
}

// chatEndpoint 规范化 BaseURL，避免配置中已包含 /chat/completions 时重复拼接。
func chatEndpoint(base string) string {
	url := strings.TrimRight(strings.TrimSpace(base), "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func maskHeaders(apiKey string, extra map[string]string) map[string]string {
	out := map[string]string{"Content-Type": "application/json"}
	if apiKey != "" {
		out["Authorization"] = "Bearer " + maskSecret(apiKey)
	}
	for k, v := range extra {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			v = maskSecret(v)
		}
		out[k] = v
	}
	return out
}

func maskSecret(v string) string {
	if len(v) > 4 {
		return "****" + v[len(v)-4:]
	}
	return "****"
}
