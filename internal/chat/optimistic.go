// internal/chat/optimistic.go
// Optimistic mutation coordination: every user-initiated change lands in the
// cache immediately and is confirmed or rolled back against the server
// afterwards. All mutations funnel through one three-phase record
// (apply, confirm, rollback) executed in issuance order.

package chat

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/go-playground/validator/v10"
    "github.com/google/uuid"
)

var (
    ErrMessageNotFound   = errors.New("message not found")
    ErrNotSender         = errors.New("only the sender can modify this message")
    ErrEditWindowExpired = errors.New("edit window has expired")
    ErrNoActiveChat      = errors.New("no active conversation")
    ErrDeclined          = errors.New("action not confirmed by the viewer")
)

// EditWindow is how long after sending a message may still be edited. The
// check here only gates the affordance; the server re-validates it.
const EditWindow = 10 * time.Minute

// SendRequest describes an outbound message.
type SendRequest struct {
    ConversationID int64       `json:"conversation_id" validate:"required"`
    Content        string      `json:"content" validate:"required_without=Media"`
    Type           MessageType `json:"type" validate:"required,oneof=text image video file"`
    Media          *Media      `json:"media,omitempty"`
    ReplyToID      string      `json:"reply_to_id,omitempty"`
    ClientRef      string      `json:"client_ref,omitempty"`
}

// PinState is the authoritative pin state returned by a toggle, trusted over
// the client's prior assumption so concurrent pins by other members converge.
type PinState struct {
    Pinned   bool       `json:"pinned"`
    PinnedAt *time.Time `json:"pinned_at,omitempty"`
}

// ToggleState is a boolean plus its counter, confirmed or rolled back as a
// pair. Shared by react/save/repost-style actions.
type ToggleState struct {
    Active bool `json:"active"`
    Count  int  `json:"count"`
}

// MutationAPI is the slice of the REST surface the coordinator issues
// mutations against.
type MutationAPI interface {
    SendMessage(ctx context.Context, req *SendRequest) (*Message, error)
    EditMessage(ctx context.Context, conversationID int64, messageID, content string) (*Message, error)
    RecallMessage(ctx context.Context, conversationID int64, messageID string) error
    TogglePin(ctx context.Context, conversationID int64, messageID string) (*PinState, error)
    React(ctx context.Context, conversationID int64, messageID, reaction string) (*ToggleState, error)
    AddMember(ctx context.Context, conversationID, userID int64) error
    RemoveMember(ctx context.Context, conversationID, userID int64) error
    LeaveConversation(ctx context.Context, conversationID int64) error
}

// Confirmer asks the viewer to approve a destructive or state-reducing
// action before any optimistic change is applied. Additive actions skip it.
type Confirmer func(action string) bool

// ComposerRestorer puts failed-send content back into the input so typed
// text is never lost.
type ComposerRestorer func(conversationID int64, content string)

// FailureNotifier surfaces a rolled-back mutation to the viewer.
type FailureNotifier func(kind string, err error)

// mutation is the uniform three-phase record. apply has already run by the
// time the record is enqueued; call/confirm/rollback run on the worker in
// issuance order.
type mutation struct {
    kind     string
    call     func(ctx context.Context) error
    confirm  func()
    rollback func(err error)
}

// Coordinator serializes optimistic mutations for the active conversation.
type Coordinator struct {
    cache    *Cache
    api      MutationAPI
    viewerID int64
    validate *validator.Validate

    confirm Confirmer
    restore ComposerRestorer
    notify  FailureNotifier
    now     func() time.Time

    ops  chan func()
    done chan struct{}

    mu           sync.Mutex
    pendingSends map[string]string // temp id -> composer content at send time
}

func NewCoordinator(cache *Cache, api MutationAPI, viewerID int64, confirm Confirmer, restore ComposerRestorer, notify FailureNotifier) *Coordinator {
    c := &Coordinator{
        cache:        cache,
        api:          api,
        viewerID:     viewerID,
        validate:     validator.New(),
        confirm:      confirm,
        restore:      restore,
        notify:       notify,
        now:          time.Now,
        ops:          make(chan func(), 64),
        done:         make(chan struct{}),
        pendingSends: make(map[string]string),
    }
    go c.worker()
    return c
}

func (c *Coordinator) worker() {
    defer close(c.done)
    for op := range c.ops {
        op()
    }
}

// Close drains outstanding mutations and stops the worker.
func (c *Coordinator) Close() {
    close(c.ops)
    <-c.done
}

func (c *Coordinator) enqueue(ctx context.Context, m mutation) {
    mutationsTotal.WithLabelValues(m.kind, "applied").Inc()
    c.ops <- func() {
        if err := m.call(ctx); err != nil {
            mutationsTotal.WithLabelValues(m.kind, "rolled_back").Inc()
            m.rollback(err)
            if c.notify != nil {
                c.notify(m.kind, err)
            }
            return
        }
        mutationsTotal.WithLabelValues(m.kind, "confirmed").Inc()
        if m.confirm != nil {
            m.confirm()
        }
    }
}

// barrier waits until every previously enqueued mutation has completed.
func (c *Coordinator) barrier() {
    flushed := make(chan struct{})
    c.ops <- func() { close(flushed) }
    <-flushed
}

// Send appends a provisional message and issues the network send. The
// returned temp id identifies the placeholder until confirmation. On failure
// the placeholder is removed and the composer content restored.
func (c *Coordinator) Send(ctx context.Context, req SendRequest) (string, error) {
    if err := c.validate.Struct(&req); err != nil {
        return "", fmt.Errorf("invalid send request: %w", err)
    }
    if active, ok := c.cache.ActiveID(); !ok || active != req.ConversationID {
        return "", ErrNoActiveChat
    }

    tempID := "temp-" + uuid.NewString()
    req.ClientRef = tempID

    var content *string
    if req.Content != "" {
        s := req.Content
        content = &s
    }
    provisional := &Message{
        ID:             tempID,
        ConversationID: req.ConversationID,
        SenderID:       c.viewerID,
        Content:        content,
        Type:           req.Type,
        Media:          req.Media,
        ReplyToID:      req.ReplyToID,
        CreatedAt:      c.now(),
        Provisional:    true,
    }
    c.cache.Insert(provisional)

    c.mu.Lock()
    c.pendingSends[tempID] = req.Content
    c.mu.Unlock()

    c.enqueue(ctx, mutation{
        kind: "send",
        call: func(ctx context.Context) error {
            confirmed, err := c.api.SendMessage(ctx, &req)
            if err != nil {
                return err
            }
            c.ConfirmSend(tempID, confirmed)
            return nil
        },
        rollback: func(err error) {
            c.cache.Remove(tempID)
            c.mu.Lock()
            text, ok := c.pendingSends[tempID]
            delete(c.pendingSends, tempID)
            c.mu.Unlock()
            if ok && text != "" && c.restore != nil {
                c.restore(req.ConversationID, text)
            }
        },
    })
    return tempID, nil
}

// ConfirmSend replaces the provisional entry with the server-confirmed
// message. Safe to call from both the REST response and the push echo; the
// second caller finds the temp id gone and does nothing, so exactly one
// message with the confirmed id ever exists.
func (c *Coordinator) ConfirmSend(tempID string, confirmed *Message) bool {
    if confirmed == nil {
        return false
    }
    if !c.cache.ReplaceProvisional(tempID, confirmed) {
        return false
    }
    c.mu.Lock()
    delete(c.pendingSends, tempID)
    c.mu.Unlock()
    return true
}

// CanEdit reports whether the affordance should be enabled: viewer's own
// message, within the edit window, not recalled.
func (c *Coordinator) CanEdit(msg *Message) bool {
    return msg != nil &&
        msg.SenderID == c.viewerID &&
        !msg.Recalled &&
        c.now().Sub(msg.CreatedAt) <= EditWindow
}

// Edit applies a content change optimistically and confirms it server-side.
// A server rejection (including an expired window the client missed)
// restores the original content.
func (c *Coordinator) Edit(ctx context.Context, messageID, newContent string) error {
    msg, ok := c.cache.Message(messageID)
    if !ok {
        return ErrMessageNotFound
    }
    if msg.SenderID != c.viewerID {
        return ErrNotSender
    }
    if c.now().Sub(msg.CreatedAt) > EditWindow {
        return ErrEditWindowExpired
    }

    priorContent := msg.Content
    priorEditedAt := msg.EditedAt
    editedAt := c.now()
    updated := newContent
    c.cache.SetContent(messageID, &updated, &editedAt)

    c.enqueue(ctx, mutation{
        kind: "edit",
        call: func(ctx context.Context) error {
            confirmed, err := c.api.EditMessage(ctx, msg.ConversationID, messageID, newContent)
            if err != nil {
                return err
            }
            if confirmed != nil {
                c.cache.SetContent(messageID, confirmed.Content, confirmed.EditedAt)
            }
            return nil
        },
        rollback: func(err error) {
            c.cache.SetContent(messageID, priorContent, priorEditedAt)
        },
    })
    return nil
}

// Recall tombstones the viewer's message. Recalling an already-recalled
// message is a no-op, not an error.
func (c *Coordinator) Recall(ctx context.Context, messageID string) error {
    msg, ok := c.cache.Message(messageID)
    if !ok {
        return ErrMessageNotFound
    }
    if msg.Recalled {
        return nil
    }
    if msg.SenderID != c.viewerID {
        return ErrNotSender
    }

    c.cache.SetRecalled(messageID, true)
    c.enqueue(ctx, mutation{
        kind: "recall",
        call: func(ctx context.Context) error {
            return c.api.RecallMessage(ctx, msg.ConversationID, messageID)
        },
        rollback: func(err error) {
            c.cache.SetRecalled(messageID, false)
        },
    })
    return nil
}

// TogglePin flips the pin derived from the current record and adopts the
// server's explicit state on confirmation, tolerating concurrent toggles by
// other members.
func (c *Coordinator) TogglePin(ctx context.Context, messageID string) error {
    msg, ok := c.cache.Message(messageID)
    if !ok {
        return ErrMessageNotFound
    }
    wasPinned := msg.IsPinned(msg.ConversationID)
    priorAt := c.now()
    for _, p := range msg.Pins {
        if p.ConversationID == msg.ConversationID {
            priorAt = p.PinnedAt
        }
    }
    c.cache.SetPinned(messageID, !wasPinned, c.now())

    c.enqueue(ctx, mutation{
        kind: "pin",
        call: func(ctx context.Context) error {
            state, err := c.api.TogglePin(ctx, msg.ConversationID, messageID)
            if err != nil {
                return err
            }
            pinnedAt := c.now()
            if state.PinnedAt != nil {
                pinnedAt = *state.PinnedAt
            }
            c.cache.SetPinned(messageID, state.Pinned, pinnedAt)
            return nil
        },
        rollback: func(err error) {
            c.cache.SetPinned(messageID, wasPinned, priorAt)
        },
    })
    return nil
}

// Toggle flips a boolean+counter pair optimistically. The pair is confirmed
// or rolled back together; turning a toggle off is state-reducing and runs
// through the confirmer first.
func (c *Coordinator) Toggle(ctx context.Context, kind string, state *ToggleState, call func(ctx context.Context) (*ToggleState, error)) error {
    if state.Active && c.confirm != nil && !c.confirm(kind) {
        mutationsTotal.WithLabelValues(kind, "declined").Inc()
        return ErrDeclined
    }

    prior := *state
    if state.Active {
        state.Active = false
        state.Count--
    } else {
        state.Active = true
        state.Count++
    }

    c.enqueue(ctx, mutation{
        kind: kind,
        call: func(ctx context.Context) error {
            confirmed, err := call(ctx)
            if err != nil {
                return err
            }
            if confirmed != nil {
                *state = *confirmed
            }
            return nil
        },
        rollback: func(err error) {
            *state = prior
        },
    })
    return nil
}

// React toggles the viewer's reaction on a message.
func (c *Coordinator) React(ctx context.Context, messageID, reaction string, state *ToggleState) error {
    msg, ok := c.cache.Message(messageID)
    if !ok {
        return ErrMessageNotFound
    }
    return c.Toggle(ctx, "react", state, func(ctx context.Context) (*ToggleState, error) {
        return c.api.React(ctx, msg.ConversationID, messageID, reaction)
    })
}

// AddMember invites a user into a group conversation. Additive, so no
// confirmation gate; the membership list refreshes when the
// conversation:updated event comes back.
func (c *Coordinator) AddMember(ctx context.Context, conversationID, userID int64) error {
    c.enqueue(ctx, mutation{
        kind: "member_add",
        call: func(ctx context.Context) error {
            return c.api.AddMember(ctx, conversationID, userID)
        },
        rollback: func(err error) {},
    })
    return nil
}

// RemoveMember removes a user from a group conversation. State-reducing, so
// it runs through the confirmer first.
func (c *Coordinator) RemoveMember(ctx context.Context, conversationID, userID int64) error {
    if c.confirm != nil && !c.confirm("member_remove") {
        mutationsTotal.WithLabelValues("member_remove", "declined").Inc()
        return ErrDeclined
    }
    c.enqueue(ctx, mutation{
        kind: "member_remove",
        call: func(ctx context.Context) error {
            return c.api.RemoveMember(ctx, conversationID, userID)
        },
        rollback: func(err error) {},
    })
    return nil
}

// Leave exits a group conversation. Destructive, so it requires explicit
// confirmation before anything is issued; the eviction itself happens when
// the conversation:updated removal event comes back.
func (c *Coordinator) Leave(ctx context.Context, conversationID int64) error {
    if c.confirm != nil && !c.confirm("leave") {
        mutationsTotal.WithLabelValues("leave", "declined").Inc()
        return ErrDeclined
    }
    c.enqueue(ctx, mutation{
        kind: "leave",
        call: func(ctx context.Context) error {
            return c.api.LeaveConversation(ctx, conversationID)
        },
        rollback: func(err error) {},
    })
    return nil
}
