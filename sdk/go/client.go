// Package aocrsdk is a small client for the AOCR HTTP API.
package aocrsdk

import (
	"bytes"
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
)

// Client is a minimal AOCR HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Request is the API request model.
type Request struct {
	ID           int64   `json:"id"`
	Number       string  `json:"number"`
	Type         string  `json:"type"`
	Title        string  `json:"title,omitempty"`
	OwnerID      string  `json:"owner_id"`
	State        string  `json:"state"`
	Version      int64   `json:"version"`
	TechnicianID *string `json:"technician_id,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
	DeletedAt    *string `json:"deleted_at,omitempty"`
}

// Record is one ledger entry.
type Record struct {
	ID        int64   `json:"id"`
	RequestID int64   `json:"request_id"`
	From      *string `json:"from,omitempty"`
	To        string  `json:"to"`
	ActorID   string  `json:"actor_id"`
	Reason    string  `json:"reason,omitempty"`
	TS        string  `json:"ts"`
}

type TransitionResult struct {
	Request Request `json:"request"`
	Record  Record  `json:"record"`
}

// Option is a transition the caller may request now.
type Option struct {
	Target  string   `json:"target"`
	Gates   []string `json:"gates,omitempty"`
	Machine bool     `json:"machine"`
	Ready   bool     `json:"ready"`
	Blocked string   `json:"blocked,omitempty"`
}

type TriggerResult struct {
	Kind      string `json:"kind"`
	RequestID int64  `json:"request_id"`
	Outcome   string `json:"outcome"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

type RequestPage struct {
	Items      []Request `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ListOptions filter ListRequests.
type ListOptions struct {
	State   string
	OwnerID string
	Type    string
	Limit   int
	Cursor  string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	RetryAfter time.Duration
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsConflict reports whether err is a lost optimistic-concurrency race worth retrying.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "concurrent_modification"
}

// CreateRequest creates a request in Draft. ownerID may be empty.
func (c *Client) CreateRequest(ctx context.Context, reqType, title, ownerID string) (Request, error) {
	body := map[string]any{"type": reqType}
	if title != "" {
		body["title"] = title
	}
	if ownerID != "" {
		body["owner_id"] = ownerID
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, "requests", body, &resp)
	return resp, err
}

func (c *Client) GetRequest(ctx context.Context, id int64) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("requests/%d", id), nil, &resp)
	return resp, err
}

func (c *Client) GetRequestByNumber(ctx context.Context, number string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, "requests/by-number/"+url.PathEscape(number), nil, &resp)
	return resp, err
}

// ListRequests returns one page of requests, newest first.
func (c *Client) ListRequests(ctx context.Context, opts ListOptions) (RequestPage, error) {
	q := url.Values{}
	for k, v := range map[string]string{"state": opts.State, "owner_id": opts.OwnerID, "type": opts.Type, "cursor": opts.Cursor} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	endpoint := "requests"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp RequestPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition requests one state change.
func (c *Client) Transition(ctx context.Context, id int64, target, reason string) (TransitionResult, error) {
	body := map[string]any{"target": target}
	if reason != "" {
		body["reason"] = reason
	}
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("requests/%d/transitions", id), body, &resp)
	return resp, err
}

func (c *Client) History(ctx context.Context, id int64) ([]Record, error) {
	var resp []Record
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("requests/%d/history", id), nil, &resp)
	return resp, err
}

func (c *Client) Available(ctx context.Context, id int64) ([]Option, error) {
	var resp struct {
		Options []Option `json:"options"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("requests/%d/transitions/available", id), nil, &resp)
	return resp.Options, err
}

func (c *Client) AssignTechnician(ctx context.Context, id int64, technicianID string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("requests/%d/assign", id), map[string]any{"technician_id": technicianID}, &resp)
	return resp, err
}

// Notify delivers a subordinate event for the request.
func (c *Client) Notify(ctx context.Context, id int64, kind string) (TriggerResult, error) {
	var resp TriggerResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("requests/%d/events", id), map[string]any{"kind": kind}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
