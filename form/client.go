package form

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"notification_relay/relay"
)

// Client submits drafts to a relay's /api/notifications endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	username   string
	password   string
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBasicAuth sets the credentials presented to the admin gate.
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{endpoint: endpoint, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts the draft as form fields and decodes the outcome. It never
// returns an error: anything below the outcome layer becomes a failed outcome.
func (c *Client) Submit(ctx context.Context, draft relay.Draft) relay.Outcome {
	out, err := c.doRequest(ctx, draft)
	if err != nil {
		return relay.Failed(err.Error())
	}
	return out
}

func (c *Client) doRequest(ctx context.Context, draft relay.Draft) (relay.Outcome, error) {
	form := url.Values{}
	form.Set("title", draft.Title)
	form.Set("body", draft.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return relay.Outcome{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return relay.Outcome{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return relay.Outcome{}, fmt.Errorf("failed to read response: %w", err)
	}

	var out relay.Outcome
	if resp.StatusCode >= 400 || json.Unmarshal(body, &out) != nil || out.Message == "" {
		return relay.Outcome{}, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return out, nil
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}
