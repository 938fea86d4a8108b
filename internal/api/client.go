// Package api is the REST client for the user, relationship and session
// endpoints that back the gateway cache.
package api

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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/parsascontentcorner/discordliteclient/internal/config"
	"github.com/parsascontentcorner/discordliteclient/internal/models"
	"github.com/parsascontentcorner/discordliteclient/internal/ratelimit"
)

const (
	tracerName   = "discordliteclient/api"
	maxBodyBytes = 1 << 20
)

var (
	// ErrNotFound is returned when the requested resource does not exist
	ErrNotFound = errors.New("api: not found")
	// ErrNoToken is returned for authenticated calls made without a token
	ErrNoToken = errors.New("api: no token")
	// ErrRateLimited is returned when the server answered 429
	ErrRateLimited = errors.New("api: rate limited")
)

// Error is a failure reported by the server as {error} or {errors}
type Error struct {
	StatusCode int
	Messages   []string
}

func (e *Error) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

type errorResponse struct {
	Error  *string  `json:"error"`
	Errors []string `json:"errors"`
}

// Session is an issued login session
type Session struct {
	ID    string `json:"sessionId"`
	Token string `json:"token"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Client talks to the REST API. Authenticated calls carry the current
// token as a bearer credential.
type Client struct {
	baseURL     string
	authed      *http.Client
	anonymous   *http.Client
	rateLimiter *ratelimit.Limiter
	tracer      trace.Tracer
	logger      *zap.Logger

	tokenMu sync.RWMutex
	token   string
}

// NewClient creates an API client for cfg.BaseURL
func NewClient(cfg config.APIConfig, logger *zap.Logger) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tracer:  otel.Tracer(tracerName),
		logger:  logger.Named("api"),
	}

	c.anonymous = &http.Client{Timeout: cfg.Timeout}
	c.authed = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &oauth2.Transport{
			Source: tokenSource{client: c},
			Base:   http.DefaultTransport,
		},
	}
	return c
}

// tokenSource hands the client's current token to the oauth2 transport.
// It is consulted on every request so token changes apply immediately.
type tokenSource struct {
	client *Client
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	token := s.client.Token()
	if token == "" {
		return nil, ErrNoToken
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

// SetToken replaces the bearer token
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

// Token returns the bearer token
func (c *Client) Token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// SetRateLimiter enables per-route rate limiting
func (c *Client) SetRateLimiter(rl *ratelimit.Limiter) {
	c.rateLimiter = rl
}

// SetBaseURL sets the API base URL (used for testing)
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// GetFriends returns the ids of the current user's friends
func (c *Client) GetFriends(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.request(ctx, http.MethodGet, "/users/@me/friends", "/users/@me/friends", nil, true, &ids); err != nil {
		return nil, fmt.Errorf("failed to fetch friends: %w", err)
	}
	return ids, nil
}

// GetRequests returns the current user's pending friend requests
func (c *Client) GetRequests(ctx context.Context) ([]models.FriendRequest, error) {
	var requests []models.FriendRequest
	if err := c.request(ctx, http.MethodGet, "/users/@me/requests", "/users/@me/requests", nil, true, &requests); err != nil {
		return nil, fmt.Errorf("failed to fetch friend requests: %w", err)
	}
	return requests, nil
}

// GetBlocked returns the ids of users the current user blocked
func (c *Client) GetBlocked(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.request(ctx, http.MethodGet, "/users/@me/blocked", "/users/@me/blocked", nil, true, &ids); err != nil {
		return nil, fmt.Errorf("failed to fetch blocked users: %w", err)
	}
	return ids, nil
}

// GetUser looks up a user by id. A server-reported error maps to ErrNotFound.
func (c *Client) GetUser(ctx context.Context, id string) (models.RawUser, error) {
	var user models.RawUser
	err := c.request(ctx, http.MethodGet, "/users/{id}", "/users/"+url.PathEscape(id), nil, true, &user)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode < 300) {
			return models.RawUser{}, fmt.Errorf("%w: user %s: %v", ErrNotFound, id, apiErr)
		}
		return models.RawUser{}, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}
	return user, nil
}

// GetCurrentUser returns the account the token belongs to
func (c *Client) GetCurrentUser(ctx context.Context) (models.Account, error) {
	var account models.Account
	if err := c.request(ctx, http.MethodGet, "/users/@me", "/users/@me", nil, true, &account); err != nil {
		return models.Account{}, fmt.Errorf("failed to fetch current user: %w", err)
	}
	return account, nil
}

// CreateSession logs in with email and password
func (c *Client) CreateSession(ctx context.Context, email, password string) (Session, error) {
	var session Session
	body := credentials{Email: email, Password: password}
	if err := c.request(ctx, http.MethodPost, "/sessions", "/sessions", body, false, &session); err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	if session.Token == "" || session.ID == "" {
		return Session{}, fmt.Errorf("failed to create session: response is missing sessionId or token")
	}
	return session, nil
}

// DeleteSession invalidates a session
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	if err := c.request(ctx, http.MethodDelete, "/sessions/{id}", "/sessions/"+url.PathEscape(id), nil, true, nil); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// request performs one call. route names the rate limit bucket and span;
// path is the concrete URL path.
func (c *Client) request(ctx context.Context, method, route, path string, body interface{}, authed bool, out interface{}) (err error) {
	ctx, span := c.tracer.Start(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if authed && c.Token() == "" {
		return ErrNoToken
	}

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, route); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.anonymous
	if authed {
		client = c.authed
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("failed to close response body", zap.Error(cerr))
		}
	}()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeaders(route, resp.Header)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: retry after %v", ErrRateLimited, c.retryAfter(route, resp.Header))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if apiErr := parseError(resp.StatusCode, data); apiErr != nil {
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("api request completed",
		zap.String("method", method),
		zap.String("route", route),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}

func (c *Client) retryAfter(route string, headers http.Header) time.Duration {
	if c.rateLimiter != nil {
		return c.rateLimiter.HandleTooManyRequests(route, headers)
	}
	seconds, err := strconv.Atoi(headers.Get("Retry-After"))
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// parseError recognizes {error} and {errors} bodies and non-2xx statuses
func parseError(status int, data []byte) *Error {
	var resp errorResponse
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		_ = json.Unmarshal(trimmed, &resp)
	}

	switch {
	case len(resp.Errors) > 0:
		return &Error{StatusCode: status, Messages: resp.Errors}
	case resp.Error != nil:
		return &Error{StatusCode: status, Messages: []string{*resp.Error}}
	case status < 200 || status >= 300:
		return &Error{StatusCode: status}
	default:
		return nil
	}
}
