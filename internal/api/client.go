// internal/api/client.go
// REST client for the conversation endpoints. Responses use the standard
// {success, data, error} envelope; a false success or a non-2xx status
// surfaces as *APIError carrying the server's reason.

package api

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "mime/multipart"
    "net/http"
    "net/url"
    "time"

    "github.com/Henry1610/social-app-client-sub000/internal/chat"
)

// APIError is a server-side rejection with the specific reason from the
// response body.
type APIError struct {
    Status int
    Reason string
}

func (e *APIError) Error() string {
    return fmt.Sprintf("api: %d %s", e.Status, e.Reason)
}

type envelope struct {
    Success bool            `json:"success"`
    Data    json.RawMessage `json:"data,omitempty"`
    Error   string          `json:"error,omitempty"`
    Message string          `json:"message,omitempty"`
}

// Client talks to the REST API with a bearer token.
type Client struct {
    baseURL string
    token   string
    http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
    if timeout <= 0 {
        timeout = 15 * time.Second
    }
    return &Client{
        baseURL: baseURL,
        token:   token,
        http:    &http.Client{Timeout: timeout},
    }
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
    var reader io.Reader
    if body != nil {
        payload, err := json.Marshal(body)
        if err != nil {
            return fmt.Errorf("encode request: %w", err)
        }
        reader = bytes.NewReader(payload)
    }

    req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
    if err != nil {
        return err
    }
    req.Header.Set("Authorization", "Bearer "+c.token)
    if body != nil {
        req.Header.Set("Content-Type", "application/json")
    }

    resp, err := c.http.Do(req)
    if err != nil {
        return fmt.Errorf("request %s %s: %w", method, path, err)
    }
    defer resp.Body.Close()

    var env envelope
    if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
        return fmt.Errorf("decode response for %s: %w", path, err)
    }
    if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
        reason := env.Error
        if reason == "" {
            reason = env.Message
        }
        if reason == "" {
            reason = http.StatusText(resp.StatusCode)
        }
        return &APIError{Status: resp.StatusCode, Reason: reason}
    }
    if out != nil && len(env.Data) > 0 {
        if err := json.Unmarshal(env.Data, out); err != nil {
            return fmt.Errorf("decode data for %s: %w", path, err)
        }
    }
    return nil
}

// GetConversation fetches conversation metadata.
func (c *Client) GetConversation(ctx context.Context, conversationID int64) (*chat.Conversation, error) {
    var conv chat.Conversation
    if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d", conversationID), nil, &conv); err != nil {
        return nil, err
    }
    return &conv, nil
}

// GetMembers fetches conversation membership.
func (c *Client) GetMembers(ctx context.Context, conversationID int64) ([]*chat.Member, error) {
    var members []*chat.Member
    if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d/members", conversationID), nil, &members); err != nil {
        return nil, err
    }
    return members, nil
}

// GetMessages fetches the newest message page. The cache re-sorts into
// ascending order when filling.
func (c *Client) GetMessages(ctx context.Context, conversationID int64, limit int) ([]*chat.Message, error) {
    var msgs []*chat.Message
    path := fmt.Sprintf("/conversations/%d/messages?limit=%d", conversationID, limit)
    if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
        return nil, err
    }
    return msgs, nil
}

// GetMessagesBefore fetches the page of messages older than beforeID, for
// scroll-back pagination.
func (c *Client) GetMessagesBefore(ctx context.Context, conversationID int64, beforeID string, limit int) ([]*chat.Message, error) {
    var msgs []*chat.Message
    path := fmt.Sprintf("/conversations/%d/messages?limit=%d&before=%s",
        conversationID, limit, url.QueryEscape(beforeID))
    if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
        return nil, err
    }
    return msgs, nil
}

// GetEditHistory fetches the append-only revision list for a message.
func (c *Client) GetEditHistory(ctx context.Context, conversationID int64, messageID string) ([]chat.EditHistoryEntry, error) {
    var entries []chat.EditHistoryEntry
    path := fmt.Sprintf("/conversations/%d/messages/%s/history", conversationID, messageID)
    if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
        return nil, err
    }
    return entries, nil
}

// MarkRead marks the whole conversation read for the viewer.
func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
    return c.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/read", conversationID), nil, nil)
}

// SendMessage posts a new message and returns the confirmed entity.
func (c *Client) SendMessage(ctx context.Context, req *chat.SendRequest) (*chat.Message, error) {
    var msg chat.Message
    path := fmt.Sprintf("/conversations/%d/messages", req.ConversationID)
    if err := c.do(ctx, http.MethodPost, path, req, &msg); err != nil {
        return nil, err
    }
    return &msg, nil
}

// EditMessage rewrites message content. The server re-validates the edit
// window regardless of the client-side check.
func (c *Client) EditMessage(ctx context.Context, conversationID int64, messageID, content string) (*chat.Message, error) {
    var msg chat.Message
    path := fmt.Sprintf("/conversations/%d/messages/%s", conversationID, messageID)
    body := map[string]string{"content": content}
    if err := c.do(ctx, http.MethodPatch, path, body, &msg); err != nil {
        return nil, err
    }
    return &msg, nil
}

// RecallMessage tombstones a message.
func (c *Client) RecallMessage(ctx context.Context, conversationID int64, messageID string) error {
    path := fmt.Sprintf("/conversations/%d/messages/%s/recall", conversationID, messageID)
    return c.do(ctx, http.MethodPost, path, nil, nil)
}

// TogglePin toggles a message pin; the response carries the authoritative
// new state.
func (c *Client) TogglePin(ctx context.Context, conversationID int64, messageID string) (*chat.PinState, error) {
    var state chat.PinState
    path := fmt.Sprintf("/conversations/%d/messages/%s/pin", conversationID, messageID)
    if err := c.do(ctx, http.MethodPost, path, nil, &state); err != nil {
        return nil, err
    }
    return &state, nil
}

// React toggles the viewer's reaction; the response carries the confirmed
// boolean+counter pair.
func (c *Client) React(ctx context.Context, conversationID int64, messageID, reaction string) (*chat.ToggleState, error) {
    var state chat.ToggleState
    path := fmt.Sprintf("/conversations/%d/messages/%s/reactions", conversationID, messageID)
    body := map[string]string{"reaction": reaction}
    if err := c.do(ctx, http.MethodPost, path, body, &state); err != nil {
        return nil, err
    }
    return &state, nil
}

// AddMember adds a user to a group conversation.
func (c *Client) AddMember(ctx context.Context, conversationID, userID int64) error {
    path := fmt.Sprintf("/conversations/%d/members", conversationID)
    body := map[string]int64{"user_id": userID}
    return c.do(ctx, http.MethodPost, path, body, nil)
}

// RemoveMember removes a user from a group conversation.
func (c *Client) RemoveMember(ctx context.Context, conversationID, userID int64) error {
    path := fmt.Sprintf("/conversations/%d/members/%d", conversationID, userID)
    return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// LeaveConversation exits a group conversation.
func (c *Client) LeaveConversation(ctx context.Context, conversationID int64) error {
    return c.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/leave", conversationID), nil, nil)
}

// Upload is one file handed to UploadMedia.
type Upload struct {
    Filename string
    Reader   io.Reader
}

// UploadMedia posts attachments as multipart form data and returns the
// stored url, mime kind, size and filename per file.
func (c *Client) UploadMedia(ctx context.Context, files []Upload) ([]chat.Media, error) {
    var buf bytes.Buffer
    writer := multipart.NewWriter(&buf)
    for _, f := range files {
        part, err := writer.CreateFormFile("files", f.Filename)
        if err != nil {
            return nil, err
        }
        if _, err := io.Copy(part, f.Reader); err != nil {
            return nil, fmt.Errorf("read upload %s: %w", f.Filename, err)
        }
    }
    if err := writer.Close(); err != nil {
        return nil, err
    }

    req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/media", &buf)
    if err != nil {
        return nil, err
    }
    req.Header.Set("Authorization", "Bearer "+c.token)
    req.Header.Set("Content-Type", writer.FormDataContentType())

    resp, err := c.http.Do(req)
    if err != nil {
        return nil, fmt.Errorf("upload media: %w", err)
    }
    defer resp.Body.Close()

    var env envelope
    if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
        return nil, fmt.Errorf("decode upload response: %w", err)
    }
    if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
        reason := env.Error
        if reason == "" {
            reason = http.StatusText(resp.StatusCode)
        }
        return nil, &APIError{Status: resp.StatusCode, Reason: reason}
    }
    var media []chat.Media
    if err := json.Unmarshal(env.Data, &media); err != nil {
        return nil, fmt.Errorf("decode media list: %w", err)
    }
    return media, nil
}
