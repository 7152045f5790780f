package popchat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// Session Client
// ============================================================================

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second

	// SessionCookieName is the cookie carrying the session token.
	SessionCookieName = "_popchat_auth"
)

// SessionClient talks to the HTTP session endpoints. It implements SessionSource.
type SessionClient struct {
	baseURL    string
	session    string
	httpClient *http.Client
}

type ClientOption func(*SessionClient)

func WithBaseURL(url string) ClientOption {
	return func(c *SessionClient) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *SessionClient) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *SessionClient) { c.httpClient = client }
}

// WithSessionCookie sets the session token sent with every request.
func WithSessionCookie(token string) ClientOption {
	return func(c *SessionClient) { c.session = token }
}

// NewSessionClient creates a session client.
func NewSessionClient(opts ...ClientOption) *SessionClient {
	c := &SessionClient{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL the client talks to.
func (c *SessionClient) BaseURL() string {
	return c.baseURL
}

// CurrentUser returns the signed-in user, or nil when the server does not
// recognise the session.
func (c *SessionClient) CurrentUser(ctx context.Context) (*User, error) {
	status, body, err := c.doRequest(ctx, http.MethodGet, "/api/auth/is_authenticated")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, nil
	}

	// The user comes either wrapped in a data field or as the whole body.
	wrapped, err := decodeJSON[struct {
		Data *User `json:"data"`
	}](body)
	if err != nil {
		return nil, err
	}
	if wrapped.Data != nil && wrapped.Data.Username != "" {
		return wrapped.Data, nil
	}
	u, err := decodeJSON[User](body)
	if err != nil {
		return nil, err
	}
	if u.Username == "" {
		return nil, nil
	}
	return u, nil
}

// Logout ends the session on the server.
func (c *SessionClient) Logout(ctx context.Context) error {
	status, body, err := c.doRequest(ctx, http.MethodGet, "/api/auth/logout")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &APIError{Event: "logout", StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return nil
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *SessionClient) doRequest(ctx context.Context, method, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: c.session})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}
