// Package crisp talks to the Crisp REST API and its real-time event socket.
package crisp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
)

// DefaultBaseURL is the public REST endpoint.
const DefaultBaseURL = "https://api.crisp.chat/v1"

// APIError is an error envelope or unexpected status returned by Crisp.
type APIError struct {
	StatusCode int
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("crisp api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("crisp api: status %d: %s", e.StatusCode, e.Reason)
}

// IsNotFound reports whether err means the requested resource does not exist upstream.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.Reason == "not_found"
}

// Config holds REST client settings.
type Config struct {
	BaseURL    string
	Identifier string
	Key        string
	Tier       string
	Timeout    time.Duration
	MaxRetries int
}

// Client is a Crisp REST client authenticated with a plugin token.
type Client struct {
	baseURL    string
	identifier string
	key        string
	tier       string
	httpClient *http.Client
	maxRetries uint64
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient creates a client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	tier := cfg.Tier
	if tier == "" {
		tier = "plugin"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL:    baseURL,
		identifier: cfg.Identifier,
		key:        cfg.Key,
		tier:       tier,
		httpClient: httpClient,
		maxRetries: uint64(maxRetries),
		baseDelay:  200 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}
}

// ListConversations returns one page of conversations. An empty slice means there are no more.
func (c *Client) ListConversations(ctx context.Context, websiteID string, page, perPage int) ([]model.ConversationRaw, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	path := fmt.Sprintf("/website/%s/conversations/%d?%s", url.PathEscape(websiteID), page, q.Encode())

	var out []model.ConversationRaw
	if err := c.get(ctx, "list_conversations", path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation fetches one conversation.
func (c *Client) GetConversation(ctx context.Context, websiteID, sessionID string) (*model.ConversationRaw, error) {
	path := fmt.Sprintf("/website/%s/conversation/%s", url.PathEscape(websiteID), url.PathEscape(sessionID))

	var out *model.ConversationRaw
	if err := c.get(ctx, "get_conversation", path, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, &APIError{StatusCode: http.StatusOK, Reason: "empty conversation payload"}
	}
	return out, nil
}

// ListMessages fetches the messages of one conversation.
func (c *Client) ListMessages(ctx context.Context, websiteID, sessionID string) ([]model.MessageRaw, error) {
	path := fmt.Sprintf("/website/%s/conversation/%s/messages", url.PathEscape(websiteID), url.PathEscape(sessionID))

	var out []model.MessageRaw
	if err := c.get(ctx, "list_messages", path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type envelope struct {
	Error  bool            `json:"error"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data"`
}

func (c *Client) get(ctx context.Context, operation, requestPath string, out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.baseDelay
	policy.MaxInterval = c.maxDelay

	op := func() error {
		return c.do(ctx, operation, requestPath, out)
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
}

// do performs one attempt. Errors wrapped in backoff.Permanent are not retried.
func (c *Client) do(ctx context.Context, operation, requestPath string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.SetBasicAuth(c.identifier, c.key)
	req.Header.Set("X-Crisp-Tier", c.tier)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstream(operation, "error", time.Since(start).Seconds())
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("failed to call crisp %s: %w", operation, err)
	}
	defer resp.Body.Close()
	metrics.RecordUpstream(operation, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read crisp %s response: %w", operation, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(payload, &env)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &APIError{StatusCode: resp.StatusCode, Reason: env.Reason}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Reason: env.Reason})
	}
	if decodeErr != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode crisp %s response: %w", operation, decodeErr))
	}
	if env.Error {
		return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Reason: env.Reason})
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode crisp %s data: %w", operation, err))
	}
	return nil
}
