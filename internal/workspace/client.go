// Package workspace talks to the workspace management HTTP API:
// creating, listing, and deleting workspaces, and fetching persisted
// conversation history. The WebSocket session is separate; this client
// only covers the CRUD surface.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wpagent/workbench/internal/errors"
)

// Workspace is one workspace as reported by the management API.
type Workspace struct {
	ID        string    `json:"workspaceId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HistoryMessage is one persisted conversation entry.
type HistoryMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Thinking  string `json:"thinking,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Client is a workspace management API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the given API base URL, e.g.
// "https://host/api". token may be empty for unauthenticated setups.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Create provisions a new workspace and returns its id.
func (c *Client) Create(ctx context.Context, name string) (Workspace, error) {
	body, _ := json.Marshal(map[string]string{"name": name})

	var ws Workspace
	if err := c.do(ctx, http.MethodPost, "/workspaces", bytes.NewReader(body), &ws); err != nil {
		return Workspace{}, errors.Wrap("workspace.create_failed", "failed to create workspace", err)
	}
	if ws.ID == "" {
		return Workspace{}, errors.New("workspace.create_failed", "server returned no workspace id")
	}
	return ws, nil
}

// List returns all workspaces visible to the caller.
func (c *Client) List(ctx context.Context) ([]Workspace, error) {
	var out struct {
		Workspaces []Workspace `json:"workspaces"`
	}
	if err := c.do(ctx, http.MethodGet, "/workspaces", nil, &out); err != nil {
		return nil, errors.Wrap("workspace.list_failed", "failed to list workspaces", err)
	}
	return out.Workspaces, nil
}

// History fetches the persisted conversation for a workspace, oldest
// first.
func (c *Client) History(ctx context.Context, workspaceID string) ([]HistoryMessage, error) {
	if workspaceID == "" {
		return nil, errors.InvalidWorkspace(workspaceID)
	}
	var out struct {
		Messages []HistoryMessage `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, "/workspaces/"+workspaceID+"/messages", nil, &out)
	if err != nil {
		return nil, errors.Wrap("workspace.history_failed", "failed to fetch history", err)
	}
	return out.Messages, nil
}

// Delete removes a workspace and its persisted state.
func (c *Client) Delete(ctx context.Context, workspaceID string) error {
	if workspaceID == "" {
		return errors.InvalidWorkspace(workspaceID)
	}
	err := c.do(ctx, http.MethodDelete, "/workspaces/"+workspaceID, nil, nil)
	if err != nil {
		return errors.Wrap("workspace.delete_failed", "failed to delete workspace", err)
	}
	return nil
}

// do runs one request and decodes a JSON response into out, if out is
// non-nil. Non-2xx responses become errors carrying the status and a
// truncated body excerpt.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.New("workspace.not_found", "workspace not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
