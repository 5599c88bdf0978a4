package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sender pushes one outbound text message to a provider chat user. The bulk
// pipeline treats every failure uniformly and never retries within a run;
// a bounded-retry implementation can be substituted here without touching
// pacing or checkpointing.
type Sender interface {
	Push(ctx context.Context, accessToken, to, text string) error
}

type LineClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewLineClient(endpoint string, timeout time.Duration) *LineClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LineClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type linePushRequest struct {
	To       string            `json:"to"`
	Messages []linePushMessage `json:"messages"`
}

type linePushMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (c *LineClient) Push(ctx context.Context, accessToken, to, text string) error {
	payload := linePushRequest{
		To:       to,
		Messages: []linePushMessage{{Type: "text", Text: text}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push message: status %d", resp.StatusCode)
	}
	return nil
}
