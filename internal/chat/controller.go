// internal/chat/controller.go
// The Synchronization Controller is the only component that subscribes to
// conversation-scoped bus topics. It keeps the cache convergent against the
// initial REST fetch, local optimistic mutations and the push stream by
// refetching the authoritative message page on mutating events, with
// coalescing so event bursts cost one trailing fetch.

package chat

import (
    "context"
    "fmt"
    "log"
    "time"

    "github.com/Henry1610/social-app-client-sub000/internal/events"
)

// SyncAPI is the read slice of the REST surface the controller consumes.
type SyncAPI interface {
    GetConversation(ctx context.Context, conversationID int64) (*Conversation, error)
    GetMembers(ctx context.Context, conversationID int64) ([]*Member, error)
    GetMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)
    GetMessagesBefore(ctx context.Context, conversationID int64, beforeID string, limit int) ([]*Message, error)
    GetEditHistory(ctx context.Context, conversationID int64, messageID string) ([]EditHistoryEntry, error)
    MarkRead(ctx context.Context, conversationID int64) error
}

// Transport is the outbound conversation-scoped signal surface.
type Transport interface {
    JoinConversation(conversationID int64) error
    LeaveConversation(conversationID int64) error
    SendTyping(conversationID int64, started bool) error
    SendSeen(conversationID int64) error
}

// View is the consolidated state handed to the presentation layer.
type View struct {
    Conversation *Conversation
    Messages     []*Message
    Pinned       []*Message
    Typists      []int64
}

// Controller orchestrates the conversation synchronization engine.
type Controller struct {
    bus         *events.Bus
    api         SyncAPI
    transport   Transport
    cache       *Cache
    coord       *Coordinator
    typists     *TypistSet
    broadcaster *TypingBroadcaster
    viewerID    int64
    pageSize    int

    cmds    chan func()
    stop    chan struct{}
    stopped chan struct{}

    // Loop-owned state; touched only from run().
    active          int64
    epoch           uint64
    subs            []*events.Subscription
    refetchInFlight bool
    refetchQueued   bool

    // OnEvicted fires when the active conversation is deleted server-side or
    // the viewer is removed; the app navigates away in response.
    OnEvicted func(conversationID int64, reason string)
    // OnNotice relays transport errors/warnings and recovery notices to the
    // viewer. Never nil after NewController.
    OnNotice func(level, message string)
}

func NewController(bus *events.Bus, api SyncAPI, transport Transport, cache *Cache, coord *Coordinator, typists *TypistSet, broadcaster *TypingBroadcaster, viewerID int64, pageSize int) *Controller {
    if pageSize <= 0 {
        pageSize = 50
    }
    c := &Controller{
        bus:         bus,
        api:         api,
        transport:   transport,
        cache:       cache,
        coord:       coord,
        typists:     typists,
        broadcaster: broadcaster,
        viewerID:    viewerID,
        pageSize:    pageSize,
        cmds:        make(chan func(), 256),
        stop:        make(chan struct{}),
        stopped:     make(chan struct{}),
        OnNotice:    func(level, message string) { log.Printf("chat: %s: %s", level, message) },
    }
    go c.run()
    return c
}

// run is the single control flow. REST completions, bus events and local
// actions all execute here, so loop state needs no locking.
func (c *Controller) run() {
    defer close(c.stopped)
    sweep := time.NewTicker(time.Second)
    defer sweep.Stop()
    for {
        select {
        case fn := <-c.cmds:
            fn()
        case <-sweep.C:
            c.typists.Sweep()
        case <-c.stop:
            c.cancelSubs()
            return
        }
    }
}

func (c *Controller) post(fn func()) {
    select {
    case c.cmds <- fn:
    case <-c.stop:
    }
}

// postWait runs fn on the loop and blocks until it finishes. For callers
// that need the loop-owned state settled before returning.
func (c *Controller) postWait(fn func()) {
    done := make(chan struct{})
    c.post(func() {
        defer close(done)
        fn()
    })
    select {
    case <-done:
    case <-c.stop:
    }
}

// Close leaves the active conversation and stops the loop.
func (c *Controller) Close() {
    c.postWait(func() {
        if c.active != 0 {
            c.leaveLocked("shutdown")
        }
    })
    close(c.stop)
    <-c.stopped
}

func (c *Controller) cancelSubs() {
    for _, sub := range c.subs {
        sub.Cancel()
    }
    c.subs = nil
}

// Select makes conversationID the active conversation: REST-fill the cache,
// join the push scope and register handlers. Any previously active
// conversation is left first.
func (c *Controller) Select(ctx context.Context, conversationID int64) {
    c.postWait(func() {
        if c.active == conversationID {
            return
        }
        if c.active != 0 {
            c.leaveLocked("switched")
        }

        c.epoch++
        c.active = conversationID
        c.cache.ClearSummary(conversationID)

        if err := c.transport.JoinConversation(conversationID); err != nil {
            c.OnNotice("warning", fmt.Sprintf("could not join conversation stream: %v", err))
        }
        c.registerHandlers(c.epoch)
        c.startInitialFetch(ctx, c.epoch, conversationID)
    })
}

// Leave detaches from the active conversation: unsubscribe everything, evict
// the cache and tell the server we left the scope.
func (c *Controller) Leave() {
    c.postWait(func() {
        if c.active != 0 {
            c.leaveLocked("left")
        }
    })
}

func (c *Controller) leaveLocked(reason string) {
    prev := c.active
    c.cancelSubs()
    if err := c.transport.LeaveConversation(prev); err != nil {
        log.Printf("chat: leave signal for conversation %d failed: %v", prev, err)
    }
    c.broadcaster.Stop()
    c.typists.Clear(prev)
    c.cache.Evict()
    c.active = 0
    c.epoch++
    c.refetchInFlight = false
    c.refetchQueued = false
    log.Printf("chat: conversation %d evicted (%s)", prev, reason)
}

func (c *Controller) startInitialFetch(ctx context.Context, epoch uint64, conversationID int64) {
    go func() {
        conv, err := c.api.GetConversation(ctx, conversationID)
        if err != nil {
            c.completeFetch(epoch, conversationID, func() {
                c.OnNotice("warning", fmt.Sprintf("could not load conversation: %v", err))
            })
            return
        }
        members, err := c.api.GetMembers(ctx, conversationID)
        if err == nil {
            conv.Members = members
        }
        msgs, err := c.api.GetMessages(ctx, conversationID, c.pageSize)
        if err != nil {
            c.completeFetch(epoch, conversationID, func() {
                c.OnNotice("warning", fmt.Sprintf("could not load messages: %v", err))
            })
            return
        }
        c.completeFetch(epoch, conversationID, func() {
            conv.UnreadCount = 0
            c.cache.Fill(conv, msgs)
            c.markSeen(ctx, conversationID)
        })
    }()
}

// completeFetch applies a REST completion on the loop unless the response
// has gone stale: a switch away bumps the epoch, and the late response for
// the abandoned conversation must be discarded, not applied.
func (c *Controller) completeFetch(epoch uint64, conversationID int64, apply func()) {
    c.post(func() {
        if epoch != c.epoch || conversationID != c.active {
            staleResponsesDropped.Inc()
            log.Printf("chat: discarded stale response for conversation %d", conversationID)
            return
        }
        apply()
    })
}

// markSeen clears the viewer's unread state optimistically and signals it.
func (c *Controller) markSeen(ctx context.Context, conversationID int64) {
    if err := c.transport.SendSeen(conversationID); err != nil {
        log.Printf("chat: seen signal failed: %v", err)
    }
    go func() {
        if err := c.api.MarkRead(ctx, conversationID); err != nil {
            log.Printf("chat: mark read failed: %v", err)
        }
    }()
}

// scheduleRefetch triggers the authoritative message page fetch, coalescing:
// events arriving while a fetch is in flight are absorbed into exactly one
// trailing fetch.
func (c *Controller) scheduleRefetch(ctx context.Context) {
    if c.refetchInFlight {
        c.refetchQueued = true
        refetchesCoalesced.Inc()
        return
    }
    c.refetchInFlight = true
    refetchesTotal.Inc()

    epoch := c.epoch
    conversationID := c.active
    go func() {
        msgs, err := c.api.GetMessages(ctx, conversationID, c.pageSize)
        c.completeFetch(epoch, conversationID, func() {
            c.refetchInFlight = false
            if err != nil {
                c.OnNotice("warning", fmt.Sprintf("conversation refresh failed: %v", err))
            } else {
                c.cache.Refill(conversationID, msgs)
            }
            if c.refetchQueued {
                c.refetchQueued = false
                c.scheduleRefetch(ctx)
            }
        })
    }()
}

// refetchMetadata refreshes conversation metadata and membership.
func (c *Controller) refetchMetadata(ctx context.Context) {
    epoch := c.epoch
    conversationID := c.active
    go func() {
        conv, err := c.api.GetConversation(ctx, conversationID)
        if err != nil {
            return
        }
        members, merr := c.api.GetMembers(ctx, conversationID)
        c.completeFetch(epoch, conversationID, func() {
            c.cache.SetConversationMeta(conv.Name, conv.AvatarURL)
            if merr == nil {
                c.cache.SetMembers(members)
            }
        })
    }()
}

func (c *Controller) registerHandlers(epoch uint64) {
    ctx := context.Background()

    c.subscribe(epoch, EventMessageNew, func(payload interface{}) {
        ev, ok := payload.(*MessageEvent)
        if !ok || ev.Message == nil {
            c.dropPayload(EventMessageNew, payload)
            return
        }
        if ev.ConversationID != c.active {
            c.cache.MarkDirty(ev.ConversationID, previewOf(ev.Message), ev.Message.CreatedAt)
            return
        }
        if ev.ClientRef != "" && c.coord.ConfirmSend(ev.ClientRef, ev.Message) {
            // Push echo reconciled the provisional entry; the page is
            // already consistent with what the server will return.
            return
        }
        c.scheduleRefetch(ctx)
    })

    c.subscribe(epoch, EventMessageEdited, func(payload interface{}) {
        ev, ok := payload.(*MessageEvent)
        if !ok {
            c.dropPayload(EventMessageEdited, payload)
            return
        }
        if ev.ConversationID == c.active {
            c.scheduleRefetch(ctx)
        }
    })

    c.subscribe(epoch, EventMessageRecalled, func(payload interface{}) {
        ev, ok := payload.(*RecallEvent)
        if !ok {
            c.dropPayload(EventMessageRecalled, payload)
            return
        }
        if ev.ConversationID == c.active {
            c.cache.SetRecalled(ev.MessageID, true)
            c.scheduleRefetch(ctx)
        }
    })

    c.subscribe(epoch, EventMessagePinned, func(payload interface{}) {
        ev, ok := payload.(*PinEvent)
        if !ok {
            c.dropPayload(EventMessagePinned, payload)
            return
        }
        if ev.ConversationID == c.active {
            c.scheduleRefetch(ctx)
        }
    })

    c.subscribe(epoch, EventReactionUpdated, func(payload interface{}) {
        ev, ok := payload.(*ReactionEvent)
        if !ok {
            c.dropPayload(EventReactionUpdated, payload)
            return
        }
        if ev.ConversationID == c.active {
            c.scheduleRefetch(ctx)
        }
    })

    c.subscribe(epoch, EventStatusUpdate, func(payload interface{}) {
        ev, ok := payload.(*StatusEvent)
        if !ok {
            c.dropPayload(EventStatusUpdate, payload)
            return
        }
        if ev.ConversationID == c.active {
            // Patch immediately so the indicator moves without waiting a
            // round trip; the coalesced refetch remains the source of truth
            // and the monotonic guard keeps the patch safe.
            c.cache.SetDelivery(ev.MessageID, ev.UserID, ev.Status)
            c.scheduleRefetch(ctx)
        }
    })

    c.subscribe(epoch, EventTyping, func(payload interface{}) {
        ev, ok := payload.(*TypingEvent)
        if !ok {
            c.dropPayload(EventTyping, payload)
            return
        }
        c.typists.Apply(*ev, c.viewerID)
    })

    c.subscribe(epoch, EventConversationUpdated, func(payload interface{}) {
        ev, ok := payload.(*ConversationEvent)
        if !ok {
            c.dropPayload(EventConversationUpdated, payload)
            return
        }
        if ev.ConversationID != c.active {
            return
        }
        if ev.Action == ConversationActionDelete || removedContains(ev.RemovedUserIDs, c.viewerID) {
            prev := c.active
            c.leaveLocked("removed")
            if c.OnEvicted != nil {
                c.OnEvicted(prev, ev.Action)
            }
            return
        }
        c.refetchMetadata(ctx)
    })

    c.subscribe(epoch, EventPresence, func(payload interface{}) {
        ev, ok := payload.(*PresenceEvent)
        if !ok {
            c.dropPayload(EventPresence, payload)
            return
        }
        c.cache.SetMemberPresence(ev.UserID, ev.Online, ev.LastSeenAt)
    })

    c.subscribe(epoch, EventError, func(payload interface{}) {
        c.notice("error", payload)
    })
    c.subscribe(epoch, EventWarning, func(payload interface{}) {
        c.notice("warning", payload)
    })
}

// subscribe registers a bus handler bound to one conversation epoch. A stale
// handler firing after a switch is a bug we want visible, not silent.
func (c *Controller) subscribe(epoch uint64, event string, fn func(payload interface{})) {
    sub := c.bus.Subscribe(event, func(payload interface{}) {
        c.post(func() {
            if epoch != c.epoch {
                staleHandlerFirings.Inc()
                log.Printf("chat: BUG: handler for %s fired for a stale conversation epoch", event)
                return
            }
            pushEventsTotal.WithLabelValues(event).Inc()
            fn(payload)
        })
    })
    c.subs = append(c.subs, sub)
}

// dropPayload handles malformed/unexpected payloads: drop and log, never
// crash the controller.
func (c *Controller) dropPayload(event string, payload interface{}) {
    log.Printf("chat: dropped malformed payload for %s (%T)", event, payload)
}

func (c *Controller) notice(level string, payload interface{}) {
    ev, ok := payload.(*NoticeEvent)
    if !ok {
        c.dropPayload(level, payload)
        return
    }
    c.OnNotice(level, ev.Message)
}

func removedContains(ids []int64, id int64) bool {
    for _, v := range ids {
        if v == id {
            return true
        }
    }
    return false
}

func previewOf(msg *Message) string {
    if msg.Recalled {
        return "Message recalled"
    }
    if msg.Content != nil && *msg.Content != "" {
        return *msg.Content
    }
    switch msg.Type {
    case TypeImage:
        return "Sent an image"
    case TypeVideo:
        return "Sent a video"
    case TypeFile:
        return "Sent a file"
    }
    return "Sent a message"
}

// ----- presentation-facing surface -----

// CurrentView snapshots the consolidated state for rendering.
func (c *Controller) CurrentView() View {
    conv := c.cache.Conversation()
    v := View{
        Conversation: conv,
        Messages:     c.cache.Messages(),
        Pinned:       c.cache.Pinned(),
    }
    if conv != nil {
        v.Typists = c.typists.Typists(conv.ID)
    }
    return v
}

// StatusFor resolves the display indicator for one message in the active
// conversation.
func (c *Controller) StatusFor(msg *Message) Indicator {
    conv := c.cache.Conversation()
    if conv == nil {
        return Indicator{Kind: IndicatorReceived}
    }
    return ResolveStatus(msg, c.viewerID, conv, c.cache.LatestOwnID())
}

// Keystroke records local typing in the active conversation.
func (c *Controller) Keystroke() {
    if id, ok := c.cache.ActiveID(); ok {
        c.broadcaster.Keystroke(id)
    }
}

// SendText sends a text message from the composer. The outstanding typing
// signal is closed out first, matching the debounce contract.
func (c *Controller) SendText(ctx context.Context, content, replyToID string) (string, error) {
    id, ok := c.cache.ActiveID()
    if !ok {
        return "", ErrNoActiveChat
    }
    c.broadcaster.Stop()
    return c.coord.Send(ctx, SendRequest{
        ConversationID: id,
        Content:        content,
        Type:           TypeText,
        ReplyToID:      replyToID,
    })
}

// SendMedia sends an uploaded attachment, with optional caption.
func (c *Controller) SendMedia(ctx context.Context, media *Media, msgType MessageType, caption string) (string, error) {
    id, ok := c.cache.ActiveID()
    if !ok {
        return "", ErrNoActiveChat
    }
    c.broadcaster.Stop()
    return c.coord.Send(ctx, SendRequest{
        ConversationID: id,
        Content:        caption,
        Type:           msgType,
        Media:          media,
    })
}

// LoadOlder fetches the page of messages preceding the oldest one cached,
// for scroll-back. Stale responses after a conversation switch are discarded
// like any other fetch.
func (c *Controller) LoadOlder(ctx context.Context) {
    c.post(func() {
        if c.active == 0 {
            return
        }
        msgs := c.cache.Messages()
        if len(msgs) == 0 {
            return
        }
        oldest := msgs[0].ID
        epoch := c.epoch
        conversationID := c.active
        go func() {
            page, err := c.api.GetMessagesBefore(ctx, conversationID, oldest, c.pageSize)
            c.completeFetch(epoch, conversationID, func() {
                if err != nil {
                    c.OnNotice("warning", fmt.Sprintf("could not load older messages: %v", err))
                    return
                }
                c.cache.MergeOlder(conversationID, page)
            })
        }()
    })
}

// EditHistory fetches the append-only revision list for a message.
func (c *Controller) EditHistory(ctx context.Context, messageID string) ([]EditHistoryEntry, error) {
    id, ok := c.cache.ActiveID()
    if !ok {
        return nil, ErrNoActiveChat
    }
    return c.api.GetEditHistory(ctx, id, messageID)
}
