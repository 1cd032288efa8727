package chatsync

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

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Collaborator is the request/response surface the Session needs for one-shot
// resource operations. Each call returns a full snapshot.
type Collaborator interface {
	AvailableRooms(ctx context.Context) ([]Room, error)
	MyRooms(ctx context.Context) ([]Room, error)
	Conversations(ctx context.Context) ([]DirectConversation, error)
	CreateRoom(ctx context.Context, opts CreateRoomOptions) (*Room, error)
	JoinRoom(ctx context.Context, roomID string) error
}

// APIClient talks to the REST collaborator with bearer auth. Calls go through
// a circuit breaker that opens after consecutive transport or 5xx failures.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewAPIClient creates a client for config.BaseURL.
func NewAPIClient(config *Config) *APIClient {
	cfg := *config
	cfg.defaults()
	log := cfg.Logger.Named("api")

	st := gobreaker.Settings{
		Name:        "collaborator",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &APIClient{
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		breaker:    gobreaker.NewCircuitBreaker(st),
		log:        log,
	}
}

// SetToken sets or replaces the bearer token.
func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *APIClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, method, path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		return nil, err
	}
	return out.([]byte), nil
}

func (c *APIClient) roundTrip(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.log.Debug("api error", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func getList[T any](ctx context.Context, c *APIClient, path string) ([]T, error) {
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	list, err := decodeJSON[[]T](data)
	if err != nil {
		return nil, err
	}
	if *list == nil {
		return []T{}, nil
	}
	return *list, nil
}

// ============================================================================
// Rooms & conversations
// ============================================================================

// AvailableRooms lists the rooms the user can join.
func (c *APIClient) AvailableRooms(ctx context.Context) ([]Room, error) {
	return getList[Room](ctx, c, "/rooms")
}

// MyRooms lists the rooms the user is a member of.
func (c *APIClient) MyRooms(ctx context.Context) ([]Room, error) {
	return getList[Room](ctx, c, "/rooms/my-rooms")
}

// Conversations lists direct conversation summaries.
func (c *APIClient) Conversations(ctx context.Context) ([]DirectConversation, error) {
	return getList[DirectConversation](ctx, c, "/messages/conversations")
}

// CreateRoom creates a room owned by the current user.
func (c *APIClient) CreateRoom(ctx context.Context, opts CreateRoomOptions) (*Room, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/rooms", opts)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Room](data)
}

// JoinRoom adds the current user to the room's members.
func (c *APIClient) JoinRoom(ctx context.Context, roomID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/join", nil)
	return err
}

// ============================================================================
// Auth
// ============================================================================

// Login exchanges email and password for an access token.
func (c *APIClient) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	return decodeJSON[LoginResult](data)
}

// Register creates an account and returns its access token.
func (c *APIClient) Register(ctx context.Context, username, email, password, displayName string) (*LoginResult, error) {
	if displayName == "" {
		displayName = username
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/auth/register", map[string]string{
		"username":    username,
		"email":       email,
		"password":    password,
		"displayName": displayName,
	})
	if err != nil {
		return nil, err
	}
	return decodeJSON[LoginResult](data)
}
