package codebluesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Code Blue HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Member is one on-call roster entry.
type Member struct {
	Phone     string `json:"phone"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// Entry tracks one recipient's contact attempts within an incident.
type Entry struct {
	Phone       string  `json:"phone"`
	Status      string  `json:"status"`
	AttemptTier int     `json:"attempt_tier"`
	DispatchRef *string `json:"dispatch_ref,omitempty"`
}

// Incident is one escalation run.
type Incident struct {
	ID         string  `json:"id"`
	CreatedAt  string  `json:"created_at"`
	ReportedAt *string `json:"reported_at,omitempty"`
	Entries    []Entry `json:"entries"`
}

// ReportRow is one line of the call status report.
type ReportRow struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Status string `json:"status"`
	Tier   int    `json:"tier"`
}

// Report is the joined report for one incident.
type Report struct {
	IncidentID string      `json:"incident_id"`
	CreatedAt  string      `json:"created_at"`
	Rows       []ReportRow `json:"rows"`
}

// Event is an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	IncidentID string         `json:"incident_id,omitempty"`
	Contact    string         `json:"contact,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// ServiceStatus is the cached health snapshot.
type ServiceStatus struct {
	Server      string `json:"server"`
	Telephony   string `json:"telephony"`
	LastChecked string `json:"last_checked,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartHotline starts an escalation run and returns the incident id.
func (c *Client) StartHotline(ctx context.Context) (string, error) {
	var resp struct {
		IncidentID string `json:"incident_id"`
	}
	err := c.do(ctx, http.MethodPost, "v1/hotline", nil, &resp)
	return resp.IncidentID, err
}

// Incident fetches one incident by id.
func (c *Client) Incident(ctx context.Context, id string) (Incident, error) {
	var resp Incident
	err := c.do(ctx, http.MethodGet, "v1/incidents/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// LatestIncident fetches the most recently started incident.
func (c *Client) LatestIncident(ctx context.Context) (Incident, error) {
	var resp Incident
	err := c.do(ctx, http.MethodGet, "v1/incidents/latest", nil, &resp)
	return resp, err
}

// Report fetches the latest incident's call status report.
func (c *Client) Report(ctx context.Context) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, "v1/report", nil, &resp)
	return resp, err
}

// Members lists the on-call roster.
func (c *Client) Members(ctx context.Context) ([]Member, error) {
	var resp []Member
	err := c.do(ctx, http.MethodGet, "v1/members", nil, &resp)
	return resp, err
}

// AddMember upserts a roster member.
func (c *Client) AddMember(ctx context.Context, phone, name string) (Member, error) {
	body := map[string]any{"phone": phone, "name": name}
	var resp Member
	err := c.do(ctx, http.MethodPost, "v1/members", body, &resp)
	return resp, err
}

// RemoveMember deletes a roster member.
func (c *Client) RemoveMember(ctx context.Context, phone string) error {
	return c.do(ctx, http.MethodDelete, "v1/members/"+url.PathEscape(phone), nil, nil)
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Status returns the cached service status.
func (c *Client) Status(ctx context.Context) (ServiceStatus, error) {
	var resp ServiceStatus
	err := c.do(ctx, http.MethodGet, "v1/status", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
