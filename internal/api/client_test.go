package api

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/Henry1610/social-app-client-sub000/internal/chat"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
    t.Helper()
    srv := httptest.NewServer(handler)
    t.Cleanup(srv.Close)
    return srv, NewClient(srv.URL, "test-token", 5*time.Second)
}

func ok(w http.ResponseWriter, data interface{}) {
    payload, _ := json.Marshal(data)
    json.NewEncoder(w).Encode(map[string]interface{}{
        "success": true,
        "data":    json.RawMessage(payload),
    })
}

func TestGetConversationDecodesEnvelope(t *testing.T) {
    _, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, http.MethodGet, r.Method)
        assert.Equal(t, "/conversations/42", r.URL.Path)
        assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
        name := "team"
        ok(w, &chat.Conversation{ID: 42, Kind: chat.KindGroup, Name: &name})
    })

    conv, err := client.GetConversation(context.Background(), 42)
    require.NoError(t, err)
    assert.Equal(t, int64(42), conv.ID)
    assert.Equal(t, chat.KindGroup, conv.Kind)
    require.NotNil(t, conv.Name)
    assert.Equal(t, "team", *conv.Name)
}

func TestGetMessagesPassesLimit(t *testing.T) {
    _, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, "/conversations/7/messages", r.URL.Path)
        assert.Equal(t, "25", r.URL.Query().Get("limit"))
        content := "hello"
        ok(w, []*chat.Message{{ID: "m1", ConversationID: 7, SenderID: 2, Content: &content, Type: chat.TypeText}})
    })

    msgs, err := client.GetMessages(context.Background(), 7, 25)
    require.NoError(t, err)
    require.Len(t, msgs, 1)
    assert.Equal(t, "m1", msgs[0].ID)
}

func TestGetMessagesBeforePassesCursor(t *testing.T) {
    _, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, "/conversations/7/messages", r.URL.Path)
        assert.Equal(t, "50", r.URL.Query().Get("limit"))
        assert.Equal(t, "m1", r.URL.Query().Get("before"))
        ok(w, []*chat.Message{})
    })

    msgs, err := client.GetMessagesBefore(context.Background(), 7, "m1", 50)
    require.NoError(t, err)
    assert.Empty(t, msgs)
}

func TestEnvelopeFailureBecomesAPIError(t *testing.T) {
    _, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusForbidden)
        json.NewEncoder(w).Encode(map[string]interface{}{
            "success": false,
            "error":   "not a member of this conversation",
        })
    })

    _, err := client.GetConversation(context.Background(), 99)
    require.Error(t, err)
    var apiErr *APIError
    require.True(t, errors.As(err, &apiErr))
    assert.Equal(t, http.StatusForbidden, apiErr.Status)
    assert.Equal(t, "not a member of this conversation", apiErr.Reason)
}

func TestFalseSuccessWithOKStatusIsStillAnError(t *testing.T) {
    _, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
        json.NewEncoder(w).Encode(map[string]interface{}{
            "success": false,
            "message": "edit window has expired",
        })
    })

    _, err := client.EditMessage(context.Background(), 7, "m1", "new text")
    var apiErr *APIError
    require.True(t, errors.As(err, &apiErr))
    assert.Equal(t, "edit window has expired", apiErr.Reason)
}

func TestSendMessageEncodesRequestBody(t *testing.T) {
    _, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, http.MethodPost, r.Method)
        assert.Equal(t, "/conversations/7/messages", r.URL.Path)
        assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

        var req chat.SendRequest
        require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
        assert.Equal(t, "hi there", req.Content)
        assert.Equal(t, "temp-abc", req.ClientRef)

        content := req.Content
        ok(w, &chat.Message{ID: "100", ConversationID: 7, SenderID: 1, Content: &content, Type: chat.TypeText})
    })

    msg, err := client.SendMessage(context.Background(), &chat.SendRequest{
        ConversationID: 7,
        Content:        "hi there",
        Type:           chat.TypeText,
        ClientRef:      "temp-abc",
    })
    require.NoError(t, err)
    assert.Equal(t, "100", msg.ID)
}

func TestEditMessageUsesPatch(t *testing.T) {
    _, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, http.MethodPatch, r.Method)
        assert.Equal(t, "/conversations/7/messages/m1", r.URL.Path)

        var body map[string]string
        require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
        content := body["content"]
        now := time.Now()
        ok(w, &chat.Message{ID: "m1", ConversationID: 7, Content: &content, EditedAt: &now, Type: chat.TypeText})
    })

    msg, err := client.EditMessage(context.Background(), 7, "m1", "edited")
    require.NoError(t, err)
    require.NotNil(t, msg.Content)
    assert.Equal(t, "edited", *msg.Content)
    assert.NotNil(t, msg.EditedAt)
}

func TestTogglePinReturnsAuthoritativeState(t *testing.T) {
    _, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, "/conversations/7/messages/m1/pin", r.URL.Path)
        at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
        ok(w, &chat.PinState{Pinned: true, PinnedAt: &at})
    })

    state, err := client.TogglePin(context.Background(), 7, "m1")
    require.NoError(t, err)
    assert.True(t, state.Pinned)
    require.NotNil(t, state.PinnedAt)
}

func TestReactReturnsConfirmedPair(t *testing.T) {
    _, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, "/conversations/7/messages/m1/reactions", r.URL.Path)
        var body map[string]string
        require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
        assert.Equal(t, "heart", body["reaction"])
        ok(w, &chat.ToggleState{Active: true, Count: 4})
    })

    state, err := client.React(context.Background(), 7, "m1", "heart")
    require.NoError(t, err)
    assert.True(t, state.Active)
    assert.Equal(t, 4, state.Count)
}

func TestRecallAndReadAreBareSuccesses(t *testing.T) {
    var mu sync.Mutex
    var paths []string
    _, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
        mu.Lock()
        paths = append(paths, r.URL.Path)
        mu.Unlock()
        ok(w, nil)
    })

    require.NoError(t, client.RecallMessage(context.Background(), 7, "m1"))
    require.NoError(t, client.MarkRead(context.Background(), 7))
    require.NoError(t, client.LeaveConversation(context.Background(), 7))
    mu.Lock()
    defer mu.Unlock()
    assert.Equal(t, []string{
        "/conversations/7/messages/m1/recall",
        "/conversations/7/read",
        "/conversations/7/leave",
    }, paths)
}

func TestUploadMediaPostsMultipart(t *testing.T) {
    _, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, "/media", r.URL.Path)
        require.NoError(t, r.ParseMultipartForm(1<<20))
        files := r.MultipartForm.File["files"]
        require.Len(t, files, 1)
        assert.Equal(t, "cat.png", files[0].Filename)
        ok(w, []chat.Media{{URL: "https://cdn.example/cat.png", Kind: "image", Filename: "cat.png", Size: 9}})
    })

    media, err := client.UploadMedia(context.Background(), []Upload{
        {Filename: "cat.png", Reader: strings.NewReader("not a png")},
    })
    require.NoError(t, err)
    require.Len(t, media, 1)
    assert.Equal(t, "image", media[0].Kind)
    assert.Equal(t, int64(9), media[0].Size)
}

func TestMalformedEnvelopeSurfacesDecodeError(t *testing.T) {
    _, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
        w.Write([]byte("<html>gateway timeout</html>"))
    })

    _, err := client.GetMembers(context.Background(), 7)
    require.Error(t, err)
    var apiErr *APIError
    assert.False(t, errors.As(err, &apiErr), "decode failures are not server rejections")
}
