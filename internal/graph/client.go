package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the Graph API v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Retry and backoff parameters.
const (
	maxAttempts    = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.20
	userAgent      = "spmirror/0.1"
)

// TokenSource supplies bearer tokens for Graph requests. The production
// implementation is the client-credentials source in auth.go; tests inject
// static tokens.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for the Microsoft Graph API. It owns request
// construction, authentication, bounded retry with exponential backoff,
// Retry-After handling, and error classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger

	// sleepFunc waits between attempts. Tests replace it to avoid delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Graph client. Pass an empty baseURL for the production
// endpoint; tests point it at an httptest server.
func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		sleepFunc:  ctxSleep,
	}
}

// Do executes a Graph request with retry. The path is appended to the base
// URL. On success the caller owns the response body.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return c.retryLoop(ctx, method+" "+path, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("graph: creating request: %w", err)
		}

		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("graph: obtaining token: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("User-Agent", userAgent)

		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		return req, nil
	})
}

// getJSON performs a GET and decodes the response body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("graph: decoding %s response: %w", path, err)
	}

	return nil
}

// doPreAuth fetches a pre-authenticated URL (content download) with the same
// retry policy but no Authorization header. The URL is never logged because
// it embeds an access token.
func (c *Client) doPreAuth(ctx context.Context, op, url string) (*http.Response, error) {
	return c.retryLoop(ctx, op, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("graph: creating %s request: %w", op, err)
		}

		req.Header.Set("User-Agent", userAgent)

		return req, nil
	})
}

// retryLoop drives request attempts until success, a non-retryable error,
// or the attempt budget is exhausted. newReq is called per attempt so each
// retry carries fresh headers (and a fresh token if the source rotated).
func (c *Client) retryLoop(ctx context.Context, op string, newReq func() (*http.Request, error)) (*http.Response, error) {
	for attempt := 1; ; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("graph: %s canceled: %w", op, ctx.Err())
			}

			if attempt >= maxAttempts {
				return nil, fmt.Errorf("graph: %s failed after %d attempts: %w", op, attempt, err)
			}

			backoff := c.calcBackoff(attempt)
			c.logger.Warn("retrying after network error",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("graph: %s canceled: %w", op, sleepErr)
			}

			continue
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxAttempts {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("graph: %s canceled: %w", op, err)
			}

			continue
		}

		return nil, &Error{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("request-id"),
			Message:    strings.TrimSpace(string(errBody)),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// retryBackoff picks the wait before the next attempt. Throttling responses
// (429, 503) carry a Retry-After the service expects us to honor.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±20% jitter for the given
// 1-based attempt number.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	backoff += backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter needs no crypto rand

	return time.Duration(backoff)
}

// ctxSleep waits for d or until ctx is canceled.
func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// stripBaseURL converts an absolute Graph URL (nextLink, deltaLink) into a
// path relative to the client's base URL so it can be passed back to Do.
func (c *Client) stripBaseURL(link string) string {
	if rest, ok := strings.CutPrefix(link, c.baseURL); ok {
		return rest
	}

	// Links from a different deployment ring still share the path shape.
	if i := strings.Index(link, "/v1.0/"); i >= 0 {
		return link[i+len("/v1.0"):]
	}

	return link
}
