package transport

import (
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/gorilla/websocket"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/Henry1610/social-app-client-sub000/internal/chat"
    "github.com/Henry1610/social-app-client-sub000/internal/events"
)

var upgrader = websocket.Upgrader{
    CheckOrigin: func(*http.Request) bool { return true },
}

// wsServer is a scripted peer: it records inbound frames and pushes whatever
// the test hands to push().
type wsServer struct {
    t   *testing.T
    srv *httptest.Server

    mu       sync.Mutex
    received []Envelope
    auth     string

    conns chan *websocket.Conn
}

func newWSServer(t *testing.T) (*wsServer, string) {
    t.Helper()
    s := &wsServer{t: t, conns: make(chan *websocket.Conn, 4)}
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        s.mu.Lock()
        s.auth = r.Header.Get("Authorization")
        s.mu.Unlock()

        ws, err := upgrader.Upgrade(w, r, nil)
        if err != nil {
            return
        }
        s.conns <- ws
        for {
            var env Envelope
            if err := ws.ReadJSON(&env); err != nil {
                return
            }
            s.mu.Lock()
            s.received = append(s.received, env)
            s.mu.Unlock()
        }
    }))
    s.srv = srv
    t.Cleanup(srv.Close)
    return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// shutdown closes the listener so later dials fail. The already-accepted
// connections are left to the individual tests.
func (s *wsServer) shutdown() {
    s.srv.Listener.Close()
}

// push writes one frame on the most recent connection.
func (s *wsServer) push(eventType string, payload interface{}) {
    s.t.Helper()
    var ws *websocket.Conn
    select {
    case ws = <-s.conns:
    case <-time.After(2 * time.Second):
        s.t.Fatal("no websocket connection to push on")
    }
    // Put it back so consecutive pushes reuse the same connection.
    s.conns <- ws

    data, err := json.Marshal(payload)
    require.NoError(s.t, err)
    require.NoError(s.t, ws.WriteJSON(Envelope{Type: eventType, Data: data, Timestamp: time.Now()}))
}

func (s *wsServer) pushRaw(raw string) {
    s.t.Helper()
    var ws *websocket.Conn
    select {
    case ws = <-s.conns:
    case <-time.After(2 * time.Second):
        s.t.Fatal("no websocket connection to push on")
    }
    s.conns <- ws
    require.NoError(s.t, ws.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (s *wsServer) frames() []Envelope {
    s.mu.Lock()
    defer s.mu.Unlock()
    out := make([]Envelope, len(s.received))
    copy(out, s.received)
    return out
}

func dialTest(t *testing.T, url string, bus *events.Bus) *Conn {
    t.Helper()
    conn, err := Dial(context.Background(), Config{
        URL:                  url,
        Token:                "test-token",
        ReconnectBaseDelay:   10 * time.Millisecond,
        ReconnectMaxDelay:    50 * time.Millisecond,
        MaxReconnectAttempts: 3,
    }, bus)
    require.NoError(t, err)
    t.Cleanup(conn.Close)
    return conn
}

func TestDialSendsBearerToken(t *testing.T) {
    srv, url := newWSServer(t)
    bus := events.New()
    t.Cleanup(bus.Close)
    dialTest(t, url, bus)

    require.Eventually(t, func() bool {
        srv.mu.Lock()
        defer srv.mu.Unlock()
        return srv.auth == "Bearer test-token"
    }, 2*time.Second, 10*time.Millisecond)
}

func TestInboundFramesArePublishedTyped(t *testing.T) {
    srv, url := newWSServer(t)
    bus := events.New()
    t.Cleanup(bus.Close)

    var mu sync.Mutex
    var got []*chat.MessageEvent
    bus.Subscribe(chat.EventMessageNew, func(payload interface{}) {
        ev, ok := payload.(*chat.MessageEvent)
        if !ok {
            t.Errorf("payload published as %T, want *chat.MessageEvent", payload)
            return
        }
        mu.Lock()
        got = append(got, ev)
        mu.Unlock()
    })

    dialTest(t, url, bus)
    content := "over the wire"
    srv.push(chat.EventMessageNew, &chat.MessageEvent{
        ConversationID: 10,
        Message: &chat.Message{
            ID: "m9", ConversationID: 10, SenderID: 2,
            Content: &content, Type: chat.TypeText, CreatedAt: time.Now(),
        },
        ClientRef: "temp-xyz",
    })

    require.Eventually(t, func() bool {
        mu.Lock()
        defer mu.Unlock()
        return len(got) == 1
    }, 2*time.Second, 10*time.Millisecond)

    mu.Lock()
    defer mu.Unlock()
    assert.Equal(t, int64(10), got[0].ConversationID)
    assert.Equal(t, "temp-xyz", got[0].ClientRef)
    require.NotNil(t, got[0].Message)
    assert.Equal(t, "m9", got[0].Message.ID)
}

func TestStatusFrameDecodesToStatusEvent(t *testing.T) {
    srv, url := newWSServer(t)
    bus := events.New()
    t.Cleanup(bus.Close)

    statuses := make(chan *chat.StatusEvent, 1)
    bus.Subscribe(chat.EventStatusUpdate, func(payload interface{}) {
        if ev, ok := payload.(*chat.StatusEvent); ok {
            statuses <- ev
        }
    })

    dialTest(t, url, bus)
    srv.push(chat.EventStatusUpdate, &chat.StatusEvent{
        ConversationID: 10, MessageID: "m1", UserID: 2, Status: chat.StatusRead,
    })

    select {
    case ev := <-statuses:
        assert.Equal(t, chat.StatusRead, ev.Status)
        assert.Equal(t, "m1", ev.MessageID)
    case <-time.After(2 * time.Second):
        t.Fatal("status event never published")
    }
}

func TestMalformedFramesAreDroppedNotFatal(t *testing.T) {
    srv, url := newWSServer(t)
    bus := events.New()
    t.Cleanup(bus.Close)

    typed := make(chan *chat.TypingEvent, 1)
    bus.Subscribe(chat.EventTyping, func(payload interface{}) {
        if ev, ok := payload.(*chat.TypingEvent); ok {
            typed <- ev
        }
    })

    dialTest(t, url, bus)
    srv.pushRaw("this is not json")
    srv.pushRaw(`{"type":"no-such-event","data":{}}`)
    srv.pushRaw(`{"type":"typing","data":"not an object"}`)

    // The connection survives the garbage and keeps decoding.
    srv.push(chat.EventTyping, &chat.TypingEvent{ConversationID: 10, UserID: 2, Started: true})

    select {
    case ev := <-typed:
        assert.True(t, ev.Started)
        assert.Equal(t, int64(2), ev.UserID)
    case <-time.After(2 * time.Second):
        t.Fatal("typing event never arrived after malformed frames")
    }
}

func TestOutboundActionsAreFramed(t *testing.T) {
    srv, url := newWSServer(t)
    bus := events.New()
    t.Cleanup(bus.Close)
    conn := dialTest(t, url, bus)

    require.NoError(t, conn.JoinConversation(10))
    require.NoError(t, conn.SendTyping(10, true))
    require.NoError(t, conn.SendSeen(10))
    require.NoError(t, conn.Do("message:reaction", map[string]string{"message_id": "m1", "reaction": "heart"}))
    require.NoError(t, conn.LeaveConversation(10))

    require.Eventually(t, func() bool {
        return len(srv.frames()) == 5
    }, 2*time.Second, 10*time.Millisecond)

    frames := srv.frames()
    assert.Equal(t, ActionJoin, frames[0].Type)
    assert.Equal(t, ActionTyping, frames[1].Type)
    assert.Equal(t, ActionSeen, frames[2].Type)
    assert.Equal(t, "message:reaction", frames[3].Type)
    assert.Equal(t, ActionLeave, frames[4].Type)

    var join map[string]int64
    require.NoError(t, json.Unmarshal(frames[0].Data, &join))
    assert.Equal(t, int64(10), join["conversation_id"])

    var typing map[string]interface{}
    require.NoError(t, json.Unmarshal(frames[1].Data, &typing))
    assert.Equal(t, true, typing["started"])
}

func TestEnqueueAfterCloseReturnsErrClosed(t *testing.T) {
    _, url := newWSServer(t)
    bus := events.New()
    t.Cleanup(bus.Close)
    conn := dialTest(t, url, bus)

    conn.Close()
    assert.ErrorIs(t, conn.JoinConversation(10), ErrClosed)
    assert.ErrorIs(t, conn.SendSeen(10), ErrClosed)
}

func TestReconnectRejoinsActiveConversation(t *testing.T) {
    srv, url := newWSServer(t)
    bus := events.New()
    t.Cleanup(bus.Close)

    notices := make(chan *chat.NoticeEvent, 4)
    bus.Subscribe(chat.EventWarning, func(payload interface{}) {
        if ev, ok := payload.(*chat.NoticeEvent); ok {
            notices <- ev
        }
    })

    conn := dialTest(t, url, bus)
    require.NoError(t, conn.JoinConversation(10))

    require.Eventually(t, func() bool {
        return len(srv.frames()) == 1
    }, 2*time.Second, 10*time.Millisecond)

    // Kill the server side of the first connection to force a reconnect.
    var first *websocket.Conn
    select {
    case first = <-srv.conns:
    case <-time.After(2 * time.Second):
        t.Fatal("first connection not captured")
    }
    first.Close()

    // The new connection re-enters the conversation scope on its own.
    require.Eventually(t, func() bool {
        frames := srv.frames()
        return len(frames) >= 2 && frames[len(frames)-1].Type == ActionJoin
    }, 5*time.Second, 10*time.Millisecond)

    select {
    case ev := <-notices:
        assert.Equal(t, "connection restored", ev.Message)
    case <-time.After(2 * time.Second):
        t.Fatal("restore notice never published")
    }
}

func TestExhaustedReconnectsPublishTerminalError(t *testing.T) {
    srv, url := newWSServer(t)
    bus := events.New()
    t.Cleanup(bus.Close)

    fatal := make(chan *chat.NoticeEvent, 1)
    bus.Subscribe(chat.EventError, func(payload interface{}) {
        if ev, ok := payload.(*chat.NoticeEvent); ok {
            fatal <- ev
        }
    })

    conn := dialTest(t, url, bus)
    var ws *websocket.Conn
    select {
    case ws = <-srv.conns:
    case <-time.After(2 * time.Second):
        t.Fatal("connection not captured")
    }

    // Take the endpoint away entirely so every reconnect attempt fails.
    srv.shutdown()
    ws.Close()

    select {
    case ev := <-fatal:
        assert.Equal(t, "error", ev.Level)
    case <-time.After(5 * time.Second):
        t.Fatal("terminal error never published")
    }
    conn.Close()
}
