// Package remote is the HTTP client of the authority's sync API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
	"go.uber.org/zap"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 16 << 20
	pushPath         = "/sync/push"
	pullPath         = "/sync/pull"
	streamPath       = "/sync/stream"
)

var (
	// ErrTransport wraps failures to reach the authority or to read its answer.
	ErrTransport = errors.New("remote: transport failure")

	errMissingBaseURL = errors.New("remote: base url is required")
)

// Error is a rejection reported by the authority in a failed envelope.
type Error struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote rejected request: %s (status %d)", e.Code, e.StatusCode)
	}
	return e.Message
}

// ConditionCode exposes the authority's condition code, such as OVER_SIZE_LIMIT.
func (e *Error) ConditionCode() string {
	return e.Code
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the authority over HTTP.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: invalid base url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("remote: base url must be http or https, got %q", baseURL.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Pull requests every change after since.
func (c *Client) Pull(ctx context.Context, since equipment.Timestamp) (equipment.PullResult, error) {
	request := equipment.PullRequest{}
	if !since.IsZero() {
		request.LastSyncTime = &since
	}
	var response equipment.PullResponse
	if err := c.post(ctx, pullPath, request, &response, &response.Envelope); err != nil {
		return equipment.PullResult{}, err
	}
	return response.PullResult, nil
}

// Push sends one batch.
func (c *Client) Push(ctx context.Context, request equipment.PushRequest) (equipment.PushResult, error) {
	var response equipment.PushResponse
	if err := c.post(ctx, pushPath, request, &response, &response.Envelope); err != nil {
		return equipment.PushResult{}, err
	}
	return response.PushResult, nil
}

// post sends payload and decodes the answer into out; envelope must point into out.
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}, envelope *equipment.Envelope) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("remote: encode %s request: %w", path, err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("remote: build %s request: %w", path, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("authority unreachable", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", ErrTransport, path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		if response.StatusCode >= http.StatusBadRequest {
			return &Error{Code: statusCode(response.StatusCode), Message: http.StatusText(response.StatusCode), StatusCode: response.StatusCode}
		}
		return fmt.Errorf("%w: decode %s response: %v", ErrTransport, path, err)
	}
	if !envelope.Success {
		c.logger.Warn("authority rejected request",
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.String("code", envelope.Code))
		return &Error{Code: envelope.Code, Message: envelope.Message, StatusCode: response.StatusCode}
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// statusCode derives a condition code for error responses that carry no envelope.
func statusCode(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return equipment.CodeUnauthorized
	case http.StatusRequestEntityTooLarge:
		return equipment.CodeOverSizeLimit
	case http.StatusBadRequest:
		return equipment.CodeInvalidRequest
	default:
		return equipment.CodeInternal
	}
}
