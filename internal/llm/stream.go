package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StreamFunc receives each content delta as it arrives.
type StreamFunc func(delta string) error

// StreamComplete sends the request in streaming mode and invokes fn per
// content delta. The assembled response is returned when the server closes
// the stream with the [DONE] sentinel. Streaming calls are not retried; the
// caller falls back to Complete when resumability matters.
func (c *Client) StreamComplete(ctx context.Context, req Request, fn StreamFunc) (*Response, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Stream = true

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
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, NewConnectionError(err.Error())
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		ra := ParseRetryAfter(httpResp.Header.Get("Retry-After"), time.Now())
		return nil, ErrorFromHTTPStatus(httpResp.StatusCode, firstLine(string(raw)), ra)
	}

	var out Response
	var b strings.Builder
	err = parseSSE(httpResp.Body, func(payload string) error {
		if payload == "[DONE]" {
			return io.EOF
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *Usage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Usage != nil {
			out.Usage = *chunk.Usage
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			b.WriteString(chunk.Choices[0].Delta.Content)
			if fn != nil {
				return fn(chunk.Choices[0].Delta.Content)
			}
		}
		return nil
	})
	if err != nil && err != io.EOF {
		return nil, err
	}
	out.Content = b.String()
	return &out, nil
}

// parseSSE reads `data: ...` framed events until EOF or the handler stops it.
func parseSSE(r io.Reader, handle func(payload string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		if err := handle(strings.TrimSpace(payload)); err != nil {
			return err
		}
	}
	return scanner.Err()
}
