// Package httpclient is the shared transport for remote model endpoints.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/types"
)

const maxErrorBody = 2048

// Client sends requests to one provider. Network errors and 5xx responses are
// retried with exponential backoff for up to MaxRetryTime; zero disables
// retries. 4xx responses are never retried.
type Client struct {
	Provider     string
	APIKey       string
	MaxRetryTime time.Duration
	// Timeout bounds one Do call, retries included. Zero leaves it to ctx.
	Timeout time.Duration

	http *http.Client
	log  *logger.Logger
}

func New(provider string, hc *http.Client, apiKey string, maxRetry time.Duration, log *logger.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		Provider:     provider,
		APIKey:       apiKey,
		MaxRetryTime: maxRetry,
		http:         hc,
		log:          log.Component(provider),
	}
}

// Do builds a fresh request per attempt and returns the 2xx body. Failures are
// *types.ProviderError.
func (c *Client) Do(ctx context.Context, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	var bo backoff.BackOff = &backoff.StopBackOff{}
	if c.MaxRetryTime > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = c.MaxRetryTime
		bo = eb
	}

	var (
		lastErr error
		out     []byte
		attempt int
	)
	op := func() error {
		attempt++
		req, err := newReq(ctx)
		if err != nil {
			lastErr = &types.ProviderError{Provider: c.Provider, Err: err}
			return backoff.Permanent(lastErr)
		}
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = &types.ProviderError{Provider: c.Provider, Err: err}
			if ctx.Err() != nil {
				return backoff.Permanent(lastErr)
			}
			return lastErr
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			lastErr = &types.ProviderError{Provider: c.Provider, Code: resp.StatusCode, Err: err}
			return lastErr
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = &types.ProviderError{Provider: c.Provider, Code: resp.StatusCode, Body: truncate(body)}
			if resp.StatusCode >= 500 {
				return lastErr
			}
			return backoff.Permanent(lastErr)
		}
		out = body
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.WithError(err).WithField("attempt", attempt).WithField("retry_in", wait.String()).Warn("provider call failed, retrying")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		if lastErr == nil {
			lastErr = &types.ProviderError{Provider: c.Provider, Err: err}
		}
		return nil, lastErr
	}
	return out, nil
}

// Get issues a bare GET and reports the status code. Used for liveness probes.
func (c *Client) Get(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// CloseIdle releases pooled connections.
func (c *Client) CloseIdle() { c.http.CloseIdleConnections() }

// DecodeText extracts the generated text from {"data": [text, ...]} or
// {"text": text}. A missing or blank value is types.ErrEmptyResult.
func DecodeText(provider string, body []byte) (string, error) {
	var env struct {
		Data json.RawMessage `json:"data"`
		Text any             `json:"text"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", &types.ProviderError{Provider: provider, Code: http.StatusOK, Body: truncate(body), Err: err}
	}

	var text string
	var list []any
	if json.Unmarshal(env.Data, &list) == nil && list != nil {
		if len(list) > 0 {
			text, _ = list[0].(string)
		}
	} else {
		text, _ = env.Text.(string)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s: %w", provider, types.ErrEmptyResult)
	}
	return text, nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
