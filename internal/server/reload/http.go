package reload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// ErrDisabled indicates no reload endpoint is configured.
var ErrDisabled = errors.New("reload endpoint not configured")

// APIError captures error responses returned by the data plane.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("data plane returned status %d", e.Status)
}

// HTTP posts reload requests to a data plane's control endpoint.
type HTTP struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
}

var _ Trigger = (*HTTP)(nil)

// NewHTTP creates a client for the control endpoint at endpoint. An empty
// endpoint yields ErrDisabled.
func NewHTTP(endpoint, apiKey string, client *http.Client) (*HTTP, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, ErrDisabled
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse reload endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("reload endpoint must include scheme and host")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := *parsed
	base.Path = strings.TrimRight(parsed.Path, "/")
	return &HTTP{baseURL: &base, apiKey: strings.TrimSpace(apiKey), httpClient: client}, nil
}

// Reload sends POST {endpoint}/reload.
func (h *HTTP) Reload(ctx context.Context) error {
	req, err := h.newRequest(ctx, http.MethodPost, "/reload", nil)
	if err != nil {
		return err
	}
	return h.do(req)
}

// Health sends GET {endpoint}/healthz.
func (h *HTTP) Health(ctx context.Context) error {
	req, err := h.newRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	return h.do(req)
}

func (h *HTTP) newRequest(ctx context.Context, method, suffix string, body io.Reader) (*http.Request, error) {
	full := *h.baseURL
	full.Path = path.Clean(h.baseURL.Path + suffix)
	req, err := http.NewRequestWithContext(ctx, method, full.String(), body)
	if err != nil {
		return nil, err
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	return req, nil
}

func (h *HTTP) do(req *http.Request) error {
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	}
	return apiErr
}
