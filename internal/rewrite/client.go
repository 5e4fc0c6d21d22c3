// Package rewrite drives the external rewriting capability: a signed HTTP
// transport and the orchestrator that records outcomes on incoming items.
package rewrite

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/newsdesk/internal/apperr"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/store"
)

// Signing headers sent with every request.
const (
	HeaderTimestamp = "X-Newsdesk-Timestamp"
	HeaderSignature = "X-Newsdesk-Signature"
)

// Request actions understood by the rewrite endpoint.
const (
	ActionRewrite = "rewrite_incoming"
	ActionHealth  = "health"
	ActionTest    = "test"
)

const maxResponseBytes = 4 << 20

// Request is the payload sent to the rewrite endpoint.
type Request struct {
	Action      string   `json:"action"`
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Text        string   `json:"text,omitempty"`
	SourceName  string   `json:"sourceName,omitempty"`
	SourceURL   string   `json:"sourceUrl,omitempty"`
	Category    string   `json:"category,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Temperature float64  `json:"temperature"`
}

type response struct {
	OK     bool                  `json:"ok"`
	Result *models.RewriteResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// Transformer turns a request into a structured result.
type Transformer interface {
	Transform(ctx context.Context, req Request) (*models.RewriteResult, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(ctx context.Context, req Request) (*models.RewriteResult, error)

func (f TransformerFunc) Transform(ctx context.Context, req Request) (*models.RewriteResult, error) {
	return f(ctx, req)
}

// SecretReader is the read-only view of the secrets the client needs.
type SecretReader interface {
	GetSecret(ctx context.Context, name string) (string, bool, error)
}

// Client calls the rewrite endpoint. Endpoint and signing key are read from
// the secret store on every call so rotated secrets apply immediately.
type Client struct {
	secrets SecretReader
	http    *http.Client
	now     func() time.Time
}

func NewClient(secrets SecretReader, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		secrets: secrets,
		http:    httpClient,
		now:     time.Now,
	}
}

// Sign computes the signature header value for body at timestamp ts.
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign.
func Verify(secret, ts string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, ts, body)), []byte(signature))
}

func (c *Client) Transform(ctx context.Context, req Request) (*models.RewriteResult, error) {
	resp, _, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = "rewrite endpoint reported failure"
		}
		return nil, apperr.New(apperr.ExternalFailure, "%s", msg)
	}
	if resp.Result == nil {
		return nil, apperr.New(apperr.ValidationFailure, "rewrite response has no result")
	}
	return resp.Result, nil
}

// call posts req and returns the decoded envelope and the HTTP status, which
// is zero when no response was received.
func (c *Client) call(ctx context.Context, req Request) (*response, int, error) {
	endpoint, secret, err := c.credentials(ctx)
	if err != nil {
		return nil, 0, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode rewrite request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.ExternalFailure, err, "invalid rewrite endpoint")
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderTimestamp, ts)
	if secret != "" {
		httpReq.Header.Set(HeaderSignature, Sign(secret, ts, body))
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, transportError(ctx, err)
	}
	defer httpResp.Body.Close()
	status := httpResp.StatusCode

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, status, transportError(ctx, err)
	}
	if status < 200 || status > 299 {
		return nil, status, apperr.New(apperr.ExternalFailure, "rewrite endpoint returned HTTP %d", status)
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, status, apperr.Wrap(apperr.ValidationFailure, err, "malformed rewrite response")
	}
	return &resp, status, nil
}

func (c *Client) credentials(ctx context.Context) (string, string, error) {
	endpoint, ok, err := c.secrets.GetSecret(ctx, store.SecretRewriteEndpoint)
	if err != nil {
		return "", "", err
	}
	if !ok || endpoint == "" {
		return "", "", apperr.New(apperr.ExternalFailure, "rewrite endpoint is not configured")
	}
	secret, _, err := c.secrets.GetSecret(ctx, store.SecretRewriteKey)
	if err != nil {
		return "", "", err
	}
	return endpoint, secret, nil
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.ExternalTimeout, err, "rewrite call timed out")
	}
	return apperr.Wrap(apperr.ExternalFailure, err, "rewrite call failed")
}

// HealthReport describes the rewrite endpoint as seen from this process.
type HealthReport struct {
	EndpointSet bool   `json:"endpointSet"`
	SecretSet   bool   `json:"secretSet"`
	Reachable   bool   `json:"reachable"`
	Healthy     bool   `json:"healthy"`
	LatencyMs   int64  `json:"latencyMs"`
	Error       string `json:"error,omitempty"`
}

// Health probes the endpoint with a signed health request.
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	endpoint, endpointSet, err := c.secrets.GetSecret(ctx, store.SecretRewriteEndpoint)
	if err != nil {
		return nil, err
	}
	_, secretSet, err := c.secrets.GetSecret(ctx, store.SecretRewriteKey)
	if err != nil {
		return nil, err
	}
	report := &HealthReport{
		EndpointSet: endpointSet && endpoint != "",
		SecretSet:   secretSet,
	}
	if !report.EndpointSet {
		report.Error = "rewrite endpoint is not configured"
		return report, nil
	}

	start := time.Now()
	resp, status, err := c.call(ctx, Request{Action: ActionHealth})
	report.LatencyMs = time.Since(start).Milliseconds()
	report.Reachable = status != 0
	if err != nil {
		report.Error = err.Error()
		return report, nil
	}
	report.Healthy = resp.OK
	if !resp.OK {
		report.Error = resp.Error
	}
	return report, nil
}

// Test runs a sample transformation and validates the result against the
// allowed categories. Nothing is stored.
func (c *Client) Test(ctx context.Context, categories []string, temperature float64) (*models.RewriteResult, error) {
	req := Request{
		Action:      ActionTest,
		Title:       "City council approves new budget",
		Summary:     "The council voted on the budget for next year.",
		Text:        "The city council on Tuesday approved next year's budget by seven votes to two. Spending on schools and roads rises.",
		Categories:  categories,
		Temperature: temperature,
	}
	start := time.Now()
	result, err := c.Transform(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := result.Validate(categories); err != nil {
		return nil, err
	}
	log.Info().
		Dur("duration", time.Since(start)).
		Msg("Rewrite test succeeded")
	return result, nil
}
