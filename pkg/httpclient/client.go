package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// Client provides HTTP access to a relay. It satisfies the role host and time
// source contracts used by the client runtime.
type Client struct {
	config     Config
	httpClient *http.Client
	baseURL    *url.URL

	mu    sync.RWMutex
	token string
}

// NewClient creates a new relay HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate logs in with the configured client id and roles and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	req := AuthRequest{ClientID: c.config.ClientID, Roles: c.config.Roles}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", req, &authResp, false); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.SetToken(authResp.Token)
	return nil
}

// ListClients returns the session roster
func (c *Client) ListClients(ctx context.Context) ([]Member, error) {
	var resp ClientsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/clients", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return resp.Clients, nil
}

// GetClientRoles returns the roles of clientID, or liveevent.ErrClientNotFound.
func (c *Client) GetClientRoles(ctx context.Context, clientID string) ([]liveevent.Role, error) {
	path := fmt.Sprintf("/api/v1/clients/%s/roles", url.PathEscape(clientID))

	var resp RolesResponse
	err := c.doRequest(ctx, http.MethodGet, path, nil, &resp, true)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", liveevent.ErrClientNotFound, clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get roles of %s: %w", clientID, err)
	}
	return resp.Roles, nil
}

// GetServerTime returns the relay clock in milliseconds since the Unix epoch
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	var resp TimeResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/time", nil, &resp, false); err != nil {
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}
	return resp.Timestamp, nil
}

// GetHealth returns the health status of the relay
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false); err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// Admin Methods (require admin token)

// AdminListClients returns all connected clients (admin only)
func (c *Client) AdminListClients(ctx context.Context) (*ClientsResponse, error) {
	var resp ClientsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/clients", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return &resp, nil
}

// AdminGetStats returns relay statistics (admin only)
func (c *Client) AdminGetStats(ctx context.Context) (*AdminStatsResponse, error) {
	var resp AdminStatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// doRequest performs an HTTP request with optional authentication. GETs are
// retried on transport errors and 5xx responses.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any, respBody any, requireAuth bool) error {
	token := c.GetToken()
	if requireAuth && token == "" {
		return ErrNotAuthenticated
	}

	var body []byte
	if reqBody != nil {
		var err error
		if body, err = json.Marshal(reqBody); err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += c.config.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}

		retry, err := c.once(ctx, method, path, body, respBody, token, requireAuth)
		if err == nil || !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, respBody any, token string, requireAuth bool) (retry bool, err error) {
	fullURL := c.baseURL.ResolveReference(&url.URL{Path: path})

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(bodyBytes))}
		var errResp ErrorResponse
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Message != "" {
			apiErr.Message = errResp.Message
		}
		return resp.StatusCode >= 500, apiErr
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return false, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return false, nil
}

// IsAuthenticated returns whether the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.GetToken() != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}
