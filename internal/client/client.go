// Package client is a Go client for the jobs service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"jobengine/internal/job"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Code       string // machine-readable code, e.g. "validation_failed"
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jobs service returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one jobs service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for the service at baseURL. An empty apiKey sends
// no Authorization header.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Create submits a job or a sweep.
func (c *Client) Create(ctx context.Context, spec *job.Spec) (*job.CreateResult, error) {
	var result job.CreateResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/jobs", spec, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Get returns one job.
func (c *Client) Get(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// List returns one page of jobs. Zero Page or Size use the service defaults.
func (c *Client) List(ctx context.Context, params job.ListParams) (*job.ListResult, error) {
	query := url.Values{}
	if params.Page > 0 {
		query.Set("page", strconv.Itoa(params.Page))
	}
	if params.Size > 0 {
		query.Set("size", strconv.Itoa(params.Size))
	}
	if params.Status != "" {
		query.Set("status", params.Status)
	}
	if params.CreatedBy != "" {
		query.Set("created_by", params.CreatedBy)
	}
	if params.ParentJobID != "" {
		query.Set("parent_job_id", params.ParentJobID)
	}

	path := "/v1/jobs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var result job.ListResult
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel cancels a queued or running job and returns its record.
func (c *Client) Cancel(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.doJSON(ctx, http.MethodDelete, "/v1/jobs/"+url.PathEscape(jobID), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Stats returns aggregate job statistics.
func (c *Client) Stats(ctx context.Context) (*job.Stats, error) {
	var stats job.Stats
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Logs returns the captured output of a job.
func (c *Client) Logs(ctx context.Context, jobID string) (*job.LogsView, error) {
	var logs job.LogsView
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/logs", nil, &logs); err != nil {
		return nil, err
	}
	return &logs, nil
}

// DownloadResult streams a job's result into w and returns the file name
// suggested by the service.
func (c *Client) DownloadResult(ctx context.Context, jobID string, w io.Writer) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/result", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("failed to download result: %w", err)
	}

	name := jobID + "_result"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return name, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	resp, err := c.do(ctx, method, path, reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do sends a request and turns non-2xx responses into an *APIError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach jobs service: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Code = payload.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return nil, apiErr
}
