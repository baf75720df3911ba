// Package client is a small HTTP client for hacpd.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hacp-router/pkg/audit"
	"github.com/hacp-router/pkg/hacp"
)

type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from hacpd.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("hacpd: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("hacpd: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func (c *Client) Analyze(ctx context.Context, req hacp.Request) (*hacp.AnalysisResult, error) {
	var result hacp.AnalysisResult
	if err := c.do(ctx, http.MethodPost, "/v1/analyze", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Tiers(ctx context.Context) ([]hacp.Tier, error) {
	var out struct {
		Tiers []hacp.Tier `json:"tiers"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/tiers", nil, &out); err != nil {
		return nil, err
	}
	return out.Tiers, nil
}

// RecentActions returns up to limit audit records, newest first.
func (c *Client) RecentActions(ctx context.Context, limit int) ([]audit.Record, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/actions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Actions []audit.Record `json:"actions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
