package mattermost

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
	"time"

	"golang.org/x/time/rate"
)

type Client struct {
	baseURL    string
	botToken   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient returns a REST client limited to rps requests per second. A
// non-positive rps disables the limit.
func NewClient(baseURL, botToken string, rps float64) *Client {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		botToken:   botToken,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Post represents a Mattermost post.
type Post struct {
	ID        string `json:"id,omitempty"`
	ChannelID string `json:"channel_id"`
	RootID    string `json:"root_id,omitempty"`
	Message   string `json:"message"`
	Props     Props  `json:"props,omitempty"`
}

// Props holds post properties including attachments.
type Props struct {
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a Mattermost message attachment.
type Attachment struct {
	Text    string   `json:"text,omitempty"`
	Color   string   `json:"color,omitempty"`
	Actions []Action `json:"actions,omitempty"`
	Fields  []Field  `json:"fields,omitempty"`
}

// Action represents an interactive button.
type Action struct {
	ID          string      `json:"id,omitempty"`
	Name        string      `json:"name"`
	Type        string      `json:"type,omitempty"` // "button" or "select"
	Style       string      `json:"style,omitempty"`
	Integration Integration `json:"integration"`
}

// Integration defines what happens when the action is triggered.
type Integration struct {
	URL     string         `json:"url"`
	Context map[string]any `json:"context,omitempty"`
}

type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// DialogRequest is used to open an interactive dialog.
type DialogRequest struct {
	TriggerID string `json:"trigger_id"`
	URL       string `json:"url"`
	Dialog    Dialog `json:"dialog"`
}

type Dialog struct {
	Title       string          `json:"title"`
	CallbackID  string          `json:"callback_id,omitempty"`
	Elements    []DialogElement `json:"elements"`
	SubmitLabel string          `json:"submit_label,omitempty"`
	State       string          `json:"state,omitempty"`
}

// DialogElement represents a form field in a dialog.
type DialogElement struct {
	DisplayName string         `json:"display_name"`
	Name        string         `json:"name"`
	Type        string         `json:"type"` // "text", "textarea", "select"
	SubType     string         `json:"subtype,omitempty"`
	Default     string         `json:"default,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	HelpText    string         `json:"help_text,omitempty"`
	Optional    bool           `json:"optional"`
	Options     []SelectOption `json:"options,omitempty"`
}

type SelectOption struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// User is the subset of a Mattermost user profile the tracker keeps.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Position  string `json:"position"`
	Roles     string `json:"roles"`
	Locale    string `json:"locale"`
	IsBot     bool   `json:"is_bot"`
}

// FullName joins first and last name, falling back to the username.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// IsAdmin reports whether the user holds the system admin role.
func (u *User) IsAdmin() bool {
	return strings.Contains(u.Roles, "system_admin")
}

// Status is a user's presence as reported by the server.
type Status struct {
	UserID         string `json:"user_id"`
	Status         string `json:"status"` // online, away, dnd, offline
	Manual         bool   `json:"manual"`
	LastActivityAt int64  `json:"last_activity_at"`
}

// ChannelInfo holds basic channel information.
type ChannelInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	TeamID string `json:"team_id"`
}

// CreatePost creates a new post in a channel.
func (c *Client) CreatePost(ctx context.Context, post *Post) (*Post, error) {
	var result Post
	if err := c.doJSON(ctx, http.MethodPost, "/api/v4/posts", post, &result); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &result, nil
}

// UpdatePost updates an existing post.
func (c *Client) UpdatePost(ctx context.Context, postID string, post *Post) (*Post, error) {
	post.ID = postID
	var result Post
	if err := c.doJSON(ctx, http.MethodPut, "/api/v4/posts/"+url.PathEscape(postID), post, &result); err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	return &result, nil
}

// DirectChannel returns the id of the DM channel between the bot and userID,
// creating it if needed.
func (c *Client) DirectChannel(ctx context.Context, userID string) (string, error) {
	var me struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v4/users/me", nil, &me); err != nil {
		return "", fmt.Errorf("get bot user: %w", err)
	}
	var channel struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v4/channels/direct", []string{me.ID, userID}, &channel); err != nil {
		return "", fmt.Errorf("create dm channel: %w", err)
	}
	return channel.ID, nil
}

// SendDM sends a direct message to a user.
func (c *Client) SendDM(ctx context.Context, userID, message string) error {
	_, err := c.SendDMPost(ctx, userID, &Post{Message: message})
	return err
}

// SendDMPost posts to the DM channel with userID and returns the created post.
func (c *Client) SendDMPost(ctx context.Context, userID string, post *Post) (*Post, error) {
	channelID, err := c.DirectChannel(ctx, userID)
	if err != nil {
		return nil, err
	}
	post.ChannelID = channelID
	return c.CreatePost(ctx, post)
}

// OpenDialog opens an interactive dialog for the user.
func (c *Client) OpenDialog(ctx context.Context, req *DialogRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v4/actions/dialogs/open", req, nil)
}

// GetChannelByName looks up a channel by team ID and name.
func (c *Client) GetChannelByName(ctx context.Context, teamID, channelName string) (string, error) {
	var channel struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/api/v4/teams/%s/channels/name/%s", url.PathEscape(teamID), url.PathEscape(channelName))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &channel); err != nil {
		return "", fmt.Errorf("get channel by name: %w", err)
	}
	return channel.ID, nil
}

// GetChannel retrieves channel info by ID.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*ChannelInfo, error) {
	var info ChannelInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v4/channels/"+url.PathEscape(channelID), nil, &info); err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &info, nil
}

// GetUser retrieves a user profile by ID.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	if err := c.doJSON(ctx, http.MethodGet, "/api/v4/users/"+url.PathEscape(userID), nil, &u); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserStatuses returns the presence of the given users.
func (c *Client) GetUserStatuses(ctx context.Context, userIDs []string) ([]Status, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var statuses []Status
	if err := c.doJSON(ctx, http.MethodPost, "/api/v4/users/status/ids", userIDs, &statuses); err != nil {
		return nil, fmt.Errorf("get user statuses: %w", err)
	}
	return statuses, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
