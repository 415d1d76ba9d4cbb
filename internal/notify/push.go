package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blacknout/nomada-backend-sub000/pkg/config"
)

// ExpoClient talks to an Expo-compatible push endpoint. Transient failures
// are retried with capped exponential backoff; client errors are not.
type ExpoClient struct {
	endpoint   string
	client     *http.Client
	maxRetries uint64
	logger     *slog.Logger
}

func NewExpoClient(cfg config.PushConfig, logger *slog.Logger) *ExpoClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExpoClient{
		endpoint:   cfg.Endpoint,
		client:     &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		logger:     logger.With(slog.String("component", "expo_push")),
	}
}

var _ PushSender = (*ExpoClient)(nil)

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound"`
}

type expoResponse struct {
	Data []Ticket `json:"data"`
}

func (c *ExpoClient) SendPush(ctx context.Context, token, title, body string, data map[string]string) ([]Ticket, error) {
	payload, err := json.Marshal([]expoMessage{{
		To:    token,
		Title: title,
		Body:  body,
		Data:  data,
		Sound: "default",
	}})
	if err != nil {
		return nil, fmt.Errorf("marshal push message: %w", err)
	}

	var tickets []Ticket
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(fmt.Errorf("push endpoint rejected request: %d", resp.StatusCode))
		}

		var parsed expoResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode push response: %w", err))
		}
		tickets = parsed.Data
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return tickets, nil
}
