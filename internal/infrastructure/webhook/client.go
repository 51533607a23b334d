package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fraruiz/pgmb/internal/logger"
)

const defaultTimeout = 30 * time.Second

// Client posts message bodies to worker endpoints. It reports HTTP status
// codes only; reading or interpreting response bodies is the worker's
// business, not the broker's.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		log:  logger.Logger.With().Str("component", "webhook").Logger(),
	}
}

// Deliver posts body to endpoint and returns the response status. Transport
// failures (refused connection, timeout, canceled context) come back as a
// synthetic 500 so the caller resolves them like any other failed attempt.
func (c *Client) Deliver(ctx context.Context, endpoint string, body []byte) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		c.log.Error().Err(err).Str("endpoint", endpoint).Msg("failed to build delivery request")
		return http.StatusInternalServerError
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("endpoint", endpoint).Msg("delivery transport error")
		return http.StatusInternalServerError
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode
}
