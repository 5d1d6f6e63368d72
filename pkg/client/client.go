// Package client is a Go SDK for the roadmap-engine API. Presentation
// layers use it to fetch projections, mutate the overlay, and follow
// overlay changes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/roadmap-engine/internal/models"
	"github.com/terra-clan/roadmap-engine/internal/notify"
)

// Client is a Go SDK for roadmap-engine API
type Client struct {
	baseURL    string
	apiKey     string
	actorID    string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithActor sets the acting user forwarded on every request
func WithActor(actorID string) Option {
	return func(c *Client) {
		c.actorID = actorID
	}
}

// NewClient creates a new roadmap-engine client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// apiResponse mirrors the server's response envelope
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIError is returned when the server rejects a request
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// do issues a request and decodes the response envelope into out
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(payload)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.actorID != "" {
		req.Header.Set("X-Actor-ID", c.actorID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if !envelope.Success {
		apiErr := &APIError{Status: resp.StatusCode, Code: "unknown"}
		if envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}

	return nil
}

func projectPath(projectID, suffix string) string {
	return "/api/v1/projects/" + url.PathEscape(projectID) + suffix
}

// Projection

// GetProjection fetches the current projection for a project
func (c *Client) GetProjection(ctx context.Context, projectID string) (*models.ProjectionResult, error) {
	var result models.ProjectionResult
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "/projection"), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RefreshProjection asks the engine to rebuild the projection
func (c *Client) RefreshProjection(ctx context.Context, projectID string) error {
	return c.do(ctx, http.MethodPost, projectPath(projectID, "/projection/refresh"), nil, nil)
}

// Overlay

// GetOverlay fetches the project's overlay state
func (c *Client) GetOverlay(ctx context.Context, projectID string) (*models.OverlayState, error) {
	var state models.OverlayState
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "/overlay"), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ResetOverlay returns the project's overlay to defaults
func (c *Client) ResetOverlay(ctx context.Context, projectID string) (*models.OverlayState, error) {
	var state models.OverlayState
	if err := c.do(ctx, http.MethodDelete, projectPath(projectID, "/overlay"), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) overlayPost(ctx context.Context, projectID, suffix string, body interface{}) (*models.OverlayState, error) {
	var state models.OverlayState
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "/overlay"+suffix), body, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ToggleTrackCollapsed flips a track's explicit collapse state
func (c *Client) ToggleTrackCollapsed(ctx context.Context, projectID, trackID string) (*models.OverlayState, error) {
	return c.overlayPost(ctx, projectID, "/tracks/"+url.PathEscape(trackID)+"/collapse", nil)
}

// SetTrackCollapsed records an explicit collapse or expand of a track
func (c *Client) SetTrackCollapsed(ctx context.Context, projectID, trackID string, collapsed bool) (*models.OverlayState, error) {
	body := map[string]bool{"collapsed": collapsed}
	return c.overlayPost(ctx, projectID, "/tracks/"+url.PathEscape(trackID)+"/collapse", body)
}

// ToggleSubtrackCollapsed flips a subtrack's explicit collapse state
func (c *Client) ToggleSubtrackCollapsed(ctx context.Context, projectID, subtrackID string) (*models.OverlayState, error) {
	return c.overlayPost(ctx, projectID, "/subtracks/"+url.PathEscape(subtrackID)+"/collapse", nil)
}

// SetTrackHighlighted adds or removes a track highlight
func (c *Client) SetTrackHighlighted(ctx context.Context, projectID, trackID string, highlighted bool) (*models.OverlayState, error) {
	body := map[string]bool{"highlighted": highlighted}
	return c.overlayPost(ctx, projectID, "/tracks/"+url.PathEscape(trackID)+"/highlight", body)
}

// SetFocusedTrack focuses a track; an empty id clears focus
func (c *Client) SetFocusedTrack(ctx context.Context, projectID, trackID string) (*models.OverlayState, error) {
	body := map[string]string{"track_id": trackID}
	return c.overlayPost(ctx, projectID, "/focus", body)
}

// SetViewMode switches the timeline zoom level
func (c *Client) SetViewMode(ctx context.Context, projectID string, mode models.ViewMode) (*models.OverlayState, error) {
	body := map[string]string{"mode": string(mode)}
	return c.overlayPost(ctx, projectID, "/view", body)
}

// EnterDayView zooms into one day, saving the week anchor for the return
func (c *Client) EnterDayView(ctx context.Context, projectID string, day time.Time) (*models.OverlayState, error) {
	body := map[string]string{"anchor": day.Format("2006-01-02")}
	return c.overlayPost(ctx, projectID, "/view/day", body)
}

// ReturnToWeekView leaves day view, restoring the saved week anchor
func (c *Client) ReturnToWeekView(ctx context.Context, projectID string) (*models.OverlayState, error) {
	return c.overlayPost(ctx, projectID, "/view/week", nil)
}

// SetAnchorDate moves the timeline anchor to a specific date
func (c *Client) SetAnchorDate(ctx context.Context, projectID string, date time.Time) (*models.OverlayState, error) {
	body := map[string]string{"date": date.Format("2006-01-02")}
	return c.overlayPost(ctx, projectID, "/anchor", body)
}

// NavigateWeeks moves the anchor by n weeks
func (c *Client) NavigateWeeks(ctx context.Context, projectID string, n int) (*models.OverlayState, error) {
	return c.overlayPost(ctx, projectID, "/navigate", map[string]int{"weeks": n})
}

// NavigateMonths moves the anchor by n months
func (c *Client) NavigateMonths(ctx context.Context, projectID string, n int) (*models.OverlayState, error) {
	return c.overlayPost(ctx, projectID, "/navigate", map[string]int{"months": n})
}

// NavigateToToday re-anchors the timeline on the current date
func (c *Client) NavigateToToday(ctx context.Context, projectID string) (*models.OverlayState, error) {
	return c.overlayPost(ctx, projectID, "/navigate", map[string]bool{"today": true})
}

// ExpandAll clears every explicit collapse
func (c *Client) ExpandAll(ctx context.Context, projectID string) (*models.OverlayState, error) {
	return c.overlayPost(ctx, projectID, "/expand-all", nil)
}

// CollapseTracks collapses the given tracks in one call
func (c *Client) CollapseTracks(ctx context.Context, projectID string, trackIDs []string) (*models.OverlayState, error) {
	body := map[string][]string{"track_ids": trackIDs}
	return c.overlayPost(ctx, projectID, "/collapse-many", body)
}

// Events

// FollowChanges opens the overlay events websocket and delivers changes on
// the returned channel until the context ends or the server closes
func (c *Client) FollowChanges(ctx context.Context, projectID string) (<-chan notify.Change, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + projectPath(projectID, "/overlay/events")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)
	if c.actorID != "" {
		header.Set("X-Actor-ID", c.actorID)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open events stream (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to open events stream: %w", err)
	}

	changes := make(chan notify.Change, 16)

	go func() {
		defer close(changes)
		defer conn.Close()

		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			var change notify.Change
			if err := conn.ReadJSON(&change); err != nil {
				return
			}
			select {
			case changes <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return changes, nil
}
