// HTTP client for the platform sidecar
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/postmate/internal/shared"
)

const sessionHeader = "X-Session-ID"

// APIError is a non-2xx sidecar response.
//
// Error returns the platform's message unchanged so it can be recorded verbatim.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("platform returned status %d", e.StatusCode)
}

// Unwrap maps sidecar error codes onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "bad_password", "invalid_credentials":
		return ErrBadPassword
	case "challenge_required", "checkpoint_required":
		return ErrChallengeRequired
	case "login_required":
		return ErrLoginRequired
	}
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrLoginRequired
	case http.StatusConflict:
		return ErrChallengeRequired
	}
	return shared.ErrAPIRequest
}

// APIResponse represents a raw sidecar response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type loginBody struct {
	Username string          `json:"username"`
	Password string          `json:"password"`
	Proxy    string          `json:"proxy,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

type sessionBody struct {
	SessionID string          `json:"session_id"`
	Settings  json.RawMessage `json:"settings"`
}

// HTTPClient implements [Client] against a sidecar process that wraps the platform's private API library.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	proxy      string
	logger     *log.Logger

	username  string
	sessionID string
	settings  json.RawMessage
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new sidecar client instance.
func NewHTTPClient(baseURL string, client *http.Client, opts Options) *HTTPClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		proxy:      opts.Proxy,
		logger:     opts.Logger,
	}
}

// NewHTTPFactory returns a [Factory] producing sidecar clients that share one [http.Client].
func NewHTTPFactory(baseURL string, client *http.Client) Factory {
	return func(opts Options) Client {
		return NewHTTPClient(baseURL, client, opts)
	}
}

// Login implements [Client].
func (c *HTTPClient) Login(ctx context.Context, username, password string) error {
	c.username = username

	resp, err := c.post(ctx, "/auth/login", loginBody{
		Username: username,
		Password: password,
		Proxy:    c.proxy,
		Settings: c.settings,
	})
	if err != nil {
		return err
	}

	// A challenge response still carries the pending session so the code can be submitted on it.
	if id := resp.Headers.Get(sessionHeader); id != "" {
		c.sessionID = id
	}
	if err := checkStatus(resp); err != nil {
		return err
	}

	return c.adoptSession(resp)
}

// RestoreSettings implements [Client].
func (c *HTTPClient) RestoreSettings(settings json.RawMessage) error {
	if len(settings) == 0 || !json.Valid(settings) {
		return fmt.Errorf("%w: settings are not valid JSON", shared.ErrInvalidInput)
	}
	c.settings = append(json.RawMessage(nil), settings...)
	return nil
}

// Settings implements [Client].
func (c *HTTPClient) Settings() (json.RawMessage, error) {
	if c.sessionID == "" || len(c.settings) == 0 {
		return nil, ErrLoginRequired
	}
	return c.settings, nil
}

// ProbeLiveness implements [Client].
func (c *HTTPClient) ProbeLiveness(ctx context.Context) error {
	if c.sessionID == "" {
		return ErrLoginRequired
	}
	resp, err := c.do(ctx, http.MethodGet, "/auth/check", nil)
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

// Publish implements [Client].
func (c *HTTPClient) Publish(ctx context.Context, req PublishRequest) (string, error) {
	if c.sessionID == "" {
		return "", ErrLoginRequired
	}

	resp, err := c.post(ctx, "/media/"+string(req.Kind), req)
	if err != nil {
		return "", err
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		MediaID string `json:"media_id"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("%w: failed to decode publish response: %v", shared.ErrAPIRequest, err)
	}
	if out.MediaID == "" {
		return "", fmt.Errorf("%w: publish response missing media_id", shared.ErrAPIRequest)
	}
	return out.MediaID, nil
}

// Logout implements [Client].
func (c *HTTPClient) Logout(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}
	resp, err := c.post(ctx, "/auth/logout", nil)
	c.sessionID = ""
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

// RequestChallengeCode implements [Client].
func (c *HTTPClient) RequestChallengeCode(ctx context.Context) error {
	resp, err := c.post(ctx, "/challenge/request", map[string]string{"username": c.username})
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

// SubmitChallengeCode implements [Client].
func (c *HTTPClient) SubmitChallengeCode(ctx context.Context, code string) error {
	resp, err := c.post(ctx, "/challenge/submit", map[string]string{"username": c.username, "code": code})
	if err != nil {
		return err
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	return c.adoptSession(resp)
}

func (c *HTTPClient) adoptSession(resp *APIResponse) error {
	var body sessionBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return fmt.Errorf("%w: failed to decode session: %v", shared.ErrAPIRequest, err)
	}
	if body.SessionID != "" {
		c.sessionID = body.SessionID
	}
	if c.sessionID == "" {
		return fmt.Errorf("%w: sidecar returned no session id", shared.ErrAPIRequest)
	}
	if len(body.Settings) > 0 {
		c.settings = body.Settings
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) (*APIResponse, error) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, data)
}

// do performs a request against the sidecar and returns the raw response.
func (c *HTTPClient) do(ctx context.Context, method, path string, data []byte) (*APIResponse, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sessionID != "" {
		req.Header.Set(sessionHeader, c.sessionID)
	}

	c.logger.Debug("platform request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &APIResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: raw}, nil
}

func checkStatus(resp *APIResponse) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body errorBody
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(resp.Body))
	}
	return apiErr
}

// IsAuthError reports whether err means the platform rejected the session or credentials.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrBadPassword) || errors.Is(err, ErrChallengeRequired) || errors.Is(err, ErrLoginRequired)
}
