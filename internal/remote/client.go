// Package remote is the stateless wire client for the sync server. It
// maps each endpoint to one request/response call and holds no caching
// logic; everything cache-shaped lives above it.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"inkbook/internal/model"
)

const (
	defaultTimeout = 30 * time.Second
	healthTimeout  = 5 * time.Second
)

// Credentials is the static device pair sent on every call.
type Credentials struct {
	DeviceID    string
	DeviceToken string
}

func (c Credentials) Valid() bool {
	return c.DeviceID != "" && c.DeviceToken != ""
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      Credentials
}

func NewClient(baseURL string, creds Credentials) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		creds:      creds,
	}
}

// Registered reports whether device credentials are configured.
func (c *Client) Registered() bool {
	return c.creds.Valid()
}

// DeviceID returns the configured device identifier.
func (c *Client) DeviceID() string {
	return c.creds.DeviceID
}

// Health probes the application-level health endpoint with a short
// deadline. Interface-up does not imply server-reachable; this is the
// check that actually decides the offline flag.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func notePath(bookID, eventID string) string {
	return "/books/" + url.PathEscape(bookID) + "/events/" + url.PathEscape(eventID) + "/note"
}

func drawingPath(bookID, day, viewMode string) string {
	return "/books/" + url.PathEscape(bookID) + "/drawings/" + url.PathEscape(day) + "/" + url.PathEscape(viewMode)
}

func (c *Client) GetNote(ctx context.Context, bookID, eventID string) (*model.NotePayload, error) {
	if !c.Registered() {
		return nil, ErrNotRegistered
	}
	var out model.NotePayload
	if err := c.do(ctx, http.MethodGet, notePath(bookID, eventID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveNote pushes a note and returns the server-assigned version.
func (c *Client) SaveNote(ctx context.Context, p model.NotePayload) (int64, error) {
	if !c.Registered() {
		return 0, ErrNotRegistered
	}
	var out saveResult
	if err := c.do(ctx, http.MethodPost, notePath(p.BookID, p.EventID), p, &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

func (c *Client) DeleteNote(ctx context.Context, bookID, eventID string) error {
	if !c.Registered() {
		return ErrNotRegistered
	}
	return c.do(ctx, http.MethodDelete, notePath(bookID, eventID), nil, nil)
}

func (c *Client) GetDrawing(ctx context.Context, bookID, day, viewMode string) (*model.DrawingPayload, error) {
	if !c.Registered() {
		return nil, ErrNotRegistered
	}
	var out model.DrawingPayload
	if err := c.do(ctx, http.MethodGet, drawingPath(bookID, day, viewMode), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveDrawing pushes a drawing and returns the server-assigned version.
func (c *Client) SaveDrawing(ctx context.Context, p model.DrawingPayload) (int64, error) {
	if !c.Registered() {
		return 0, ErrNotRegistered
	}
	var out saveResult
	if err := c.do(ctx, http.MethodPost, drawingPath(p.BookID, p.Day, p.ViewMode), p, &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

func (c *Client) DeleteDrawing(ctx context.Context, bookID, day, viewMode string) error {
	if !c.Registered() {
		return ErrNotRegistered
	}
	return c.do(ctx, http.MethodDelete, drawingPath(bookID, day, viewMode), nil, nil)
}

// FullSync pushes a change batch with the last-sync cursor and returns
// applied counts, conflicts, and server-side changes since the cursor.
func (c *Client) FullSync(ctx context.Context, req model.SyncRequest) (*model.SyncResponse, error) {
	if !c.Registered() {
		return nil, ErrNotRegistered
	}
	var out model.SyncResponse
	if err := c.do(ctx, http.MethodPost, "/sync/full", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type saveResult struct {
	Version int64 `json:"version"`
}

type errorBody struct {
	Error         string          `json:"error"`
	ServerVersion int64           `json:"server_version"`
	ServerPayload json.RawMessage `json:"server_payload"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", c.creds.DeviceID)
	req.Header.Set("X-Device-Token", c.creds.DeviceToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return &ConflictError{ServerVersion: eb.ServerVersion, ServerPayload: eb.ServerPayload}
	default:
		return &StatusError{Code: resp.StatusCode, Message: eb.Error}
	}
}
