// Package rest is the bearer-token client for the messaging backend's
// request/response API: identity lookup, conversation list, history,
// fallback send, deletes and user search.
package rest

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

	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/wire"
)

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:8080/api".
	BaseURL string
	// Token is sent as a bearer token on every request.
	Token string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("rest: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("rest: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger.Named("rest"),
	}, nil
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Me resolves the identity behind the client's token.
func (c *Client) Me(ctx context.Context) (wire.User, error) {
	var u wire.User
	if err := c.getJSON(ctx, "/auth/me", nil, &u); err != nil {
		return wire.User{}, fmt.Errorf("rest: resolve identity: %w", err)
	}
	if u.ID == "" {
		return wire.User{}, errors.New("rest: resolve identity: response without id")
	}
	return u, nil
}

// Conversations lists the caller's conversations.
func (c *Client) Conversations(ctx context.Context) ([]wire.Conversation, error) {
	var out []wire.Conversation
	if err := c.getJSON(ctx, "/conversations", nil, &out); err != nil {
		return nil, fmt.Errorf("rest: list conversations: %w", err)
	}
	return out, nil
}

// History returns the ordered message history shared with partnerID.
func (c *Client) History(ctx context.Context, partnerID string) ([]wire.Message, error) {
	var out []wire.Message
	if err := c.getJSON(ctx, "/messages/"+url.PathEscape(partnerID), nil, &out); err != nil {
		return nil, fmt.Errorf("rest: history with %s: %w", partnerID, err)
	}
	return out, nil
}

// PostMessage stores a message without the push channel. The response is
// the stored copy.
func (c *Client) PostMessage(ctx context.Context, req wire.SendMessage) (wire.Message, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/messages", nil, req)
	if err != nil {
		return wire.Message{}, fmt.Errorf("rest: post message: %w", err)
	}
	var m wire.Message
	if err := json.Unmarshal(body, &m); err != nil {
		return wire.Message{}, fmt.Errorf("rest: parse posted message: %w", err)
	}
	return m, nil
}

// DeleteMessage deletes one message server-side.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("rest: delete message %s: %w", id, err)
	}
	return nil
}

// DeleteConversation deletes the conversation with partnerID server-side.
func (c *Client) DeleteConversation(ctx context.Context, partnerID string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(partnerID), nil, nil); err != nil {
		return fmt.Errorf("rest: delete conversation with %s: %w", partnerID, err)
	}
	return nil
}

// SearchUsers finds users whose name matches term.
func (c *Client) SearchUsers(ctx context.Context, term string) ([]wire.User, error) {
	var out []wire.User
	if err := c.getJSON(ctx, "/users/search", url.Values{"term": {term}}, &out); err != nil {
		return nil, fmt.Errorf("rest: search users: %w", err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse %s response: %w", path, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, requestBody any) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	c.logger.Debug("request", zap.String("method", method), zap.String("path", path), zap.Int("status", response.StatusCode))

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	apiErr := &APIError{StatusCode: response.StatusCode, Method: method, Path: path}
	if jsonErr := json.Unmarshal(responseBody, apiErr); jsonErr != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(responseBody))
	}
	return nil, apiErr
}
