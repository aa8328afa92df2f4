// Package gateway holds the kiosk-side HTTP clients for the backend
// persistence API. All calls are stateless request/response; errors are
// mapped onto a small sentinel set so callers can branch on failure class
// without inspecting status codes.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/wire"
)

var (
	// ErrRemoteUnavailable covers network failures and backend 5xx; the
	// caller is expected to fall back to the local cache.
	ErrRemoteUnavailable = errors.New("gateway: backend unavailable")
	// ErrConflict is the expected-version rejection from an edit.
	ErrConflict = errors.New("gateway: version conflict")
	// ErrNotFound means the id is unknown to the backend.
	ErrNotFound = errors.New("gateway: not found")
)

// Client is the shared HTTP transport for all backend calls.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// envelope is the backend's uniform response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrConflict
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrRemoteUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("gateway: status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// EntityClient is the per-entity-type RemoteGateway. The prefix selects the
// backend route group ("avatars", "cohorts", "personas").
type EntityClient[T any] struct {
	c      *Client
	prefix string
}

func NewEntityClient[T any](c *Client, prefix string) *EntityClient[T] {
	return &EntityClient[T]{c: c, prefix: prefix}
}

func (e *EntityClient[T]) Create(ctx context.Context, ent T) (int64, error) {
	raw, err := json.Marshal(ent)
	if err != nil {
		return 0, err
	}
	var out wire.AddResponse
	if err := e.c.do(ctx, http.MethodPost, "/"+e.prefix+"/add", wire.AddRequest{Entity: raw}, &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

func (e *EntityClient[T]) Edit(ctx context.Context, id string, ent T, expectedVersion int64) (int64, error) {
	raw, err := json.Marshal(ent)
	if err != nil {
		return 0, err
	}
	req := wire.EditRequest{ID: id, Entity: raw, ExpectedVersion: expectedVersion}
	var out wire.EditResponse
	if err := e.c.do(ctx, http.MethodPost, "/"+e.prefix+"/edit", req, &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

func (e *EntityClient[T]) Fetch(ctx context.Context, id string) (T, int64, error) {
	var zero T
	var out wire.FetchResponse
	if err := e.c.do(ctx, http.MethodGet, "/"+e.prefix+"/get?id="+url.QueryEscape(id), nil, &out); err != nil {
		return zero, 0, err
	}
	var ent T
	if err := json.Unmarshal(out.Entity, &ent); err != nil {
		return zero, 0, fmt.Errorf("gateway: decode entity %s: %w", id, err)
	}
	return ent, out.Version, nil
}

func (e *EntityClient[T]) Delete(ctx context.Context, id string) error {
	return e.c.do(ctx, http.MethodPost, "/"+e.prefix+"/delete", wire.DeleteRequest{ID: id}, nil)
}

// Sync submits the last-seen server versions and returns the backend's view
// of which ids are stale plus the full manifest entry map.
func (e *EntityClient[T]) Sync(ctx context.Context, localVersions map[string]int64) (wire.SyncResponse, error) {
	var out wire.SyncResponse
	if err := e.c.do(ctx, http.MethodPost, "/"+e.prefix+"/sync", wire.SyncRequest{LocalVersions: localVersions}, &out); err != nil {
		return wire.SyncResponse{}, err
	}
	return out, nil
}

// ChatClient talks to the chat archive endpoints.
type ChatClient struct {
	c *Client
}

func NewChatClient(c *Client) *ChatClient {
	return &ChatClient{c: c}
}

func (cc *ChatClient) Save(ctx context.Context, req wire.ChatSaveRequest) error {
	return cc.c.do(ctx, http.MethodPost, "/chat/save", req, nil)
}

func (cc *ChatClient) Get(ctx context.Context, sessionID string) (wire.ChatSession, error) {
	var out wire.ChatSession
	if err := cc.c.do(ctx, http.MethodGet, "/chat/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return wire.ChatSession{}, err
	}
	return out, nil
}

func (cc *ChatClient) Delete(ctx context.Context, sessionID string) error {
	return cc.c.do(ctx, http.MethodPost, "/chat/delete", map[string]string{"sessionId": sessionID}, nil)
}

// List filters archived sessions server-side via the session index.
func (cc *ChatClient) List(ctx context.Context, q url.Values) ([]wire.ChatSessionMetadata, error) {
	path := "/chat/sessions"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out struct {
		Sessions []wire.ChatSessionMetadata `json:"sessions"`
	}
	if err := cc.c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}
