// internal/transport/ws.go
// WebSocket transport adapter. The read pump decodes push envelopes and
// publishes typed payloads on the event bus; it is the only publisher.
// Outbound actions are serialized through a buffered send queue. The
// connection reconnects with exponential backoff and rejoins the active
// conversation scope afterwards.

package transport

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "math"
    "math/rand"
    "net/http"
    "sync"
    "time"

    "github.com/gorilla/websocket"

    "github.com/Henry1610/social-app-client-sub000/internal/chat"
    "github.com/Henry1610/social-app-client-sub000/internal/events"
)

// WebSocket configuration constants
const (
    // Time allowed to write a message to the peer
    writeWait = 10 * time.Second

    // Time allowed to read the next pong message from the peer
    pongWait = 60 * time.Second

    // Send pings to peer with this period (must be less than pongWait)
    pingPeriod = (pongWait * 9) / 10

    // Maximum message size allowed from peer
    maxMessageSize = 512 * 1024 // 512KB
)

// Outbound action names.
const (
    ActionJoin   = "conversation:join"
    ActionLeave  = "conversation:leave"
    ActionTyping = "typing"
    ActionSeen   = "conversation:seen"
)

var ErrClosed = errors.New("transport closed")

// Envelope is the wire format in both directions.
type Envelope struct {
    Type      string          `json:"type"`
    Data      json.RawMessage `json:"data,omitempty"`
    Timestamp time.Time       `json:"timestamp"`
}

// Config controls dialing and reconnection.
type Config struct {
    URL                  string
    Token                string
    ReconnectBaseDelay   time.Duration
    ReconnectMaxDelay    time.Duration
    MaxReconnectAttempts int
}

func (c *Config) defaults() {
    if c.ReconnectBaseDelay <= 0 {
        c.ReconnectBaseDelay = time.Second
    }
    if c.ReconnectMaxDelay <= 0 {
        c.ReconnectMaxDelay = 30 * time.Second
    }
    if c.MaxReconnectAttempts <= 0 {
        c.MaxReconnectAttempts = 10
    }
}

// Conn is the reconnecting duplex channel handed to the controller.
type Conn struct {
    cfg Config
    bus *events.Bus

    send chan Envelope
    stop chan struct{}
    wg   sync.WaitGroup

    mu         sync.Mutex
    activeConv int64
    closed     bool
}

// Dial establishes the connection and starts the pumps. The initial dial is
// synchronous so a bad endpoint fails fast; later drops reconnect in the
// background.
func Dial(ctx context.Context, cfg Config, bus *events.Bus) (*Conn, error) {
    cfg.defaults()
    c := &Conn{
        cfg:  cfg,
        bus:  bus,
        send: make(chan Envelope, 64),
        stop: make(chan struct{}),
    }
    ws, err := c.dial(ctx)
    if err != nil {
        return nil, err
    }
    c.wg.Add(1)
    go c.supervise(ws)
    return c, nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
    header := http.Header{}
    header.Set("Authorization", "Bearer "+c.cfg.Token)
    ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
    if err != nil {
        return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
    }
    return ws, nil
}

// supervise owns one connection at a time: run the pumps until the
// connection drops, then reconnect with backoff.
func (c *Conn) supervise(ws *websocket.Conn) {
    defer c.wg.Done()
    for {
        c.runConnection(ws)
        select {
        case <-c.stop:
            return
        default:
        }

        next, ok := c.reconnect()
        if !ok {
            c.bus.Publish(chat.EventError, &chat.NoticeEvent{
                Level:   "error",
                Message: "connection lost; please refresh",
            })
            return
        }
        ws = next
    }
}

func (c *Conn) reconnect() (*websocket.Conn, bool) {
    for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
        delay := c.backoff(attempt)
        log.Printf("transport: reconnect attempt %d in %s", attempt, delay)
        select {
        case <-time.After(delay):
        case <-c.stop:
            return nil, false
        }

        ws, err := c.dial(context.Background())
        if err != nil {
            log.Printf("transport: reconnect failed: %v", err)
            continue
        }
        reconnectsTotal.Inc()

        // Re-enter the conversation scope we were in before the drop.
        c.mu.Lock()
        conv := c.activeConv
        c.mu.Unlock()
        if conv != 0 {
            c.enqueue(ActionJoin, map[string]int64{"conversation_id": conv})
        }
        c.bus.Publish(chat.EventWarning, &chat.NoticeEvent{
            Level:   "warning",
            Message: "connection restored",
        })
        return ws, true
    }
    return nil, false
}

// backoff is exponential with +-20% jitter, capped at ReconnectMaxDelay.
func (c *Conn) backoff(attempt int) time.Duration {
    d := float64(c.cfg.ReconnectBaseDelay) * math.Pow(2, float64(attempt-1))
    if max := float64(c.cfg.ReconnectMaxDelay); d > max {
        d = max
    }
    jitter := 0.8 + 0.4*rand.Float64()
    return time.Duration(d * jitter)
}

// runConnection blocks until the connection fails or Close is called.
func (c *Conn) runConnection(ws *websocket.Conn) {
    done := make(chan struct{})
    go c.writePump(ws, done)
    go func() {
        // Unblock the read pump when Close is called mid-read.
        select {
        case <-c.stop:
            ws.Close()
        case <-done:
        }
    }()
    c.readPump(ws)
    close(done)
    ws.Close()
}

func (c *Conn) readPump(ws *websocket.Conn) {
    ws.SetReadLimit(maxMessageSize)
    ws.SetReadDeadline(time.Now().Add(pongWait))
    ws.SetPongHandler(func(string) error {
        ws.SetReadDeadline(time.Now().Add(pongWait))
        return nil
    })

    for {
        _, raw, err := ws.ReadMessage()
        if err != nil {
            if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
                log.Printf("transport: read error: %v", err)
            }
            return
        }
        c.dispatch(raw)
    }
}

// dispatch decodes one push frame and publishes it under its event name.
// Malformed frames are dropped and logged, never fatal.
func (c *Conn) dispatch(raw []byte) {
    var env Envelope
    if err := json.Unmarshal(raw, &env); err != nil {
        malformedPayloadsTotal.Inc()
        log.Printf("transport: dropped malformed frame: %v", err)
        return
    }
    payload, err := decodePayload(env)
    if err != nil {
        malformedPayloadsTotal.Inc()
        log.Printf("transport: dropped %s payload: %v", env.Type, err)
        return
    }
    framesTotal.WithLabelValues(env.Type).Inc()
    c.bus.Publish(env.Type, payload)
}

func decodePayload(env Envelope) (interface{}, error) {
    unmarshal := func(v interface{}) (interface{}, error) {
        if err := json.Unmarshal(env.Data, v); err != nil {
            return nil, err
        }
        return v, nil
    }
    switch env.Type {
    case chat.EventMessageNew, chat.EventMessageEdited:
        return unmarshal(&chat.MessageEvent{})
    case chat.EventMessageRecalled:
        return unmarshal(&chat.RecallEvent{})
    case chat.EventMessagePinned:
        return unmarshal(&chat.PinEvent{})
    case chat.EventReactionUpdated:
        return unmarshal(&chat.ReactionEvent{})
    case chat.EventStatusUpdate:
        return unmarshal(&chat.StatusEvent{})
    case chat.EventTyping:
        return unmarshal(&chat.TypingEvent{})
    case chat.EventConversationUpdated:
        return unmarshal(&chat.ConversationEvent{})
    case chat.EventPresence:
        return unmarshal(&chat.PresenceEvent{})
    case chat.EventError, chat.EventWarning:
        return unmarshal(&chat.NoticeEvent{})
    }
    return nil, fmt.Errorf("unknown event type %q", env.Type)
}

func (c *Conn) writePump(ws *websocket.Conn, done chan struct{}) {
    ticker := time.NewTicker(pingPeriod)
    defer ticker.Stop()

    for {
        select {
        case env := <-c.send:
            ws.SetWriteDeadline(time.Now().Add(writeWait))
            if err := ws.WriteJSON(env); err != nil {
                log.Printf("transport: write error: %v", err)
                return
            }
        case <-ticker.C:
            ws.SetWriteDeadline(time.Now().Add(writeWait))
            if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
                return
            }
        case <-done:
            return
        case <-c.stop:
            ws.SetWriteDeadline(time.Now().Add(writeWait))
            ws.WriteMessage(websocket.CloseMessage,
                websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
            return
        }
    }
}

func (c *Conn) enqueue(action string, payload interface{}) error {
    c.mu.Lock()
    closed := c.closed
    c.mu.Unlock()
    if closed {
        return ErrClosed
    }

    data, err := json.Marshal(payload)
    if err != nil {
        return fmt.Errorf("encode %s: %w", action, err)
    }
    env := Envelope{Type: action, Data: data, Timestamp: time.Now()}
    select {
    case c.send <- env:
        return nil
    default:
        return fmt.Errorf("send queue full, dropped %s", action)
    }
}

// JoinConversation subscribes the connection to a conversation's push scope.
func (c *Conn) JoinConversation(conversationID int64) error {
    c.mu.Lock()
    c.activeConv = conversationID
    c.mu.Unlock()
    return c.enqueue(ActionJoin, map[string]int64{"conversation_id": conversationID})
}

// LeaveConversation abandons the conversation's push scope.
func (c *Conn) LeaveConversation(conversationID int64) error {
    c.mu.Lock()
    if c.activeConv == conversationID {
        c.activeConv = 0
    }
    c.mu.Unlock()
    return c.enqueue(ActionLeave, map[string]int64{"conversation_id": conversationID})
}

// SendTyping signals typing started/stopped in the conversation.
func (c *Conn) SendTyping(conversationID int64, started bool) error {
    return c.enqueue(ActionTyping, map[string]interface{}{
        "conversation_id": conversationID,
        "started":         started,
    })
}

// SendSeen marks the conversation as seen by the viewer.
func (c *Conn) SendSeen(conversationID int64) error {
    return c.enqueue(ActionSeen, map[string]int64{"conversation_id": conversationID})
}

// Do sends an arbitrary outbound action. Used for the less common actions
// (member add/remove, reactions over the socket) without widening the
// interface the controller depends on.
func (c *Conn) Do(action string, payload interface{}) error {
    return c.enqueue(action, payload)
}

// Close shuts the connection down and stops reconnecting.
func (c *Conn) Close() {
    c.mu.Lock()
    if c.closed {
        c.mu.Unlock()
        return
    }
    c.closed = true
    c.mu.Unlock()
    close(c.stop)
    c.wg.Wait()
}
