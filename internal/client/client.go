// Package client talks to a running newsdesk server over its admin API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/newsdesk/internal/auth"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/process"
	"reddot-watch/newsdesk/internal/server/api"
)

const (
	requestTimeout = 30 * time.Second
	limitPerPage   = 100

	// Retry configuration
	maxRetries     = 3                      // Maximum number of retry attempts
	initialBackoff = 500 * time.Millisecond // Initial backoff duration
	maxBackoff     = 5 * time.Second        // Maximum backoff duration
	backoffFactor  = 2.0                    // Exponential factor for backoff
)

// APIError is a non-2xx answer of the server.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.Status, e.Message)
}

// Client calls the admin API with the shared admin token.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client

	initialBackoff time.Duration
}

// New creates a client for the server at baseURL.
func New(baseURL, token string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base API URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:        u,
		token:          token,
		httpClient:     httpClient,
		initialBackoff: initialBackoff,
	}, nil
}

// PullResult is the summary of a pull run reported by the server.
type PullResult struct {
	OK bool `json:"ok"`
	process.Summary
}

// Pull asks the server to run one feed pull. Pulls are never retried: a
// second request while the first is still running is rejected by the server.
func (c *Client) Pull(ctx context.Context) (*PullResult, error) {
	var res PullResult
	if err := c.do(ctx, http.MethodPost, "/rss_pull", nil, &res, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

// WalkIncoming fetches incoming items page by page, newest first, and calls
// fn for each one. status may be empty to list every item.
func (c *Client) WalkIncoming(ctx context.Context, status string, fn func(models.IncomingItem) error) (int, error) {
	var (
		cursor string
		total  int
	)
	for {
		query := url.Values{}
		query.Set("action", "list")
		query.Set("limit", strconv.Itoa(limitPerPage))
		if status != "" {
			query.Set("status", status)
		}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var (
			page   []models.IncomingItem
			header http.Header
		)
		err := c.retryWithBackoff(ctx, func() error {
			page = nil
			return c.do(ctx, http.MethodGet, "/incoming?"+query.Encode(), nil, &page, &header)
		})
		if err != nil {
			return total, fmt.Errorf("failed to fetch incoming page: %w", err)
		}

		for _, item := range page {
			if err := fn(item); err != nil {
				return total, err
			}
			total++
		}

		cursor = header.Get(api.HeaderNextCursor)
		if cursor == "" {
			return total, nil
		}
	}
}

// do executes a single request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any, header *http.Header) error {
	reqURL, err := c.baseURL.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid endpoint path: %w", err)
	}

	reqCtx, cancelReq := context.WithTimeout(ctx, requestTimeout)
	defer cancelReq()

	req, err := http.NewRequestWithContext(reqCtx, method, reqURL.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set(auth.HeaderAdminToken, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: string(bodyBytes)}
		var envelope struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(bodyBytes, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
			apiErr.Kind = envelope.Kind
		}
		return apiErr
	}

	if header != nil {
		*header = resp.Header
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return nil
}

// retryWithBackoff executes fn with exponential backoff on transient failures.
func (c *Client) retryWithBackoff(ctx context.Context, fn func() error) error {
	var err error
	backoff := c.initialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		if !isRetriableError(err) {
			return err
		}

		retryDelay := time.Duration(float64(backoff) * (1.0 + 0.2*rand.Float64())) // Add jitter
		log.Warn().
			Err(err).
			Dur("retry_in", retryDelay.Round(time.Millisecond)).
			Int("attempt", attempt+1).
			Msg("Transient error, retrying")

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return err
}

// isRetriableError reports whether err is worth another attempt.
func isRetriableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
