// Package llm is a minimal chat-completions client: bearer auth, bounded
// retries with capped exponential backoff, and SSE streaming.
package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	backoffBase    = 1 * time.Second
	backoffCap     = 10 * time.Second
)

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return &ConfigurationError{Message: "model is required"}
	}
	if len(r.Messages) == 0 {
		return &ConfigurationError{Message: "at least one message is required"}
	}
	return nil
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client talks to one chat-completions endpoint.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger

	// sleep is replaceable in tests.
	sleep func(context.Context, time.Duration) error
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: 0},
		log:   log,
		sleep: sleepCtx,
	}
}

func (c *Client) Model() string { return c.cfg.Model }

// Complete sends the messages and returns the assistant's reply. Connection
// errors and 5xx responses are retried up to maxRetries with exponential
// backoff; 4xx responses are returned immediately.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Stream = false

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := delayForAttempt(attempt, fmt.Sprintf("%s#%d", req.Model, attempt))
			c.log.Debug("retrying llm call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		resp, err := c.do(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("llm request failed after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(cctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewConnectionError(err.Error())
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if err != nil {
		return nil, NewConnectionError(err.Error())
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		ra := ParseRetryAfter(httpResp.Header.Get("Retry-After"), time.Now())
		return nil, ErrorFromHTTPStatus(httpResp.StatusCode, firstLine(string(raw)), ra)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode chat.completions response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat.completions response carried no choices")
	}
	return &Response{Content: parsed.Choices[0].Message.Content, Usage: parsed.Usage}, nil
}

// delayForAttempt computes capped exponential backoff with deterministic
// jitter of at most 10% derived from the seed.
func delayForAttempt(attempt int, seed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(backoffBase) * math.Pow(2, float64(attempt-1))
	base = math.Min(base, float64(backoffCap))
	base *= 1 + 0.1*jitterUnit(seed)
	return time.Duration(base)
}

// jitterUnit maps a seed to [0,1] deterministically.
func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / float64(^uint64(0))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
