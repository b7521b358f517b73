// internal/chat/cache.go

package chat

import (
    "sort"
    "sync"
    "time"
)

// Summary is the list-surface view kept for conversations that are not
// materialized: unread count and last-message preview only. Detailed message
// lists exist solely for the active conversation.
type Summary struct {
    UnreadCount   int
    LastMessageAt time.Time
    LastPreview   string
}

// Cache owns the materialized view of the currently active conversation:
// ordered message list, membership and pins. At most one conversation is
// materialized at a time; every other conversation is represented only by a
// Summary invalidation marker.
//
// Only the Synchronization Controller and the Optimistic Mutation Coordinator
// write to the cache.
type Cache struct {
    mu       sync.RWMutex
    viewerID int64

    conv        *Conversation
    messages    []*Message // ascending by created_at, ties broken by id
    byID        map[string]*Message
    latestOwnID string

    summaries map[int64]*Summary
}

func NewCache(viewerID int64) *Cache {
    return &Cache{
        viewerID:  viewerID,
        byID:      make(map[string]*Message),
        summaries: make(map[int64]*Summary),
    }
}

// deliveryRank orders statuses for the monotonicity guard.
func deliveryRank(s DeliveryStatus) int {
    switch s {
    case StatusDelivered:
        return 1
    case StatusRead:
        return 2
    }
    return 0
}

// messageLess is the total order: creation time, ties broken by id.
func messageLess(a, b *Message) bool {
    if a.CreatedAt.Equal(b.CreatedAt) {
        return a.ID < b.ID
    }
    return a.CreatedAt.Before(b.CreatedAt)
}

func sortMessages(msgs []*Message) {
    sort.SliceStable(msgs, func(i, j int) bool {
        return messageLess(msgs[i], msgs[j])
    })
}

// cloneMessage deep-copies the mutable parts of a message. The read surface
// hands out clones only: the cache keeps mutating its own entries in place
// under the lock, and a caller holding an alias would race those writes.
// Content/EditedAt pointers are replaced wholesale on mutation, never written
// through, so sharing them is safe.
func cloneMessage(m *Message) *Message {
    clone := *m
    if len(m.Deliveries) > 0 {
        clone.Deliveries = make([]*DeliveryState, len(m.Deliveries))
        for i, d := range m.Deliveries {
            dc := *d
            clone.Deliveries[i] = &dc
        }
    }
    if len(m.Pins) > 0 {
        clone.Pins = make([]*PinRecord, len(m.Pins))
        for i, p := range m.Pins {
            pc := *p
            clone.Pins[i] = &pc
        }
    }
    if m.Media != nil {
        mc := *m.Media
        clone.Media = &mc
    }
    return &clone
}

func cloneConversation(conv *Conversation) *Conversation {
    clone := *conv
    if len(conv.Members) > 0 {
        clone.Members = make([]*Member, len(conv.Members))
        for i, m := range conv.Members {
            mc := *m
            clone.Members[i] = &mc
        }
    }
    return &clone
}

// Fill materializes conv with its initial message page, replacing whatever
// was active before.
func (c *Cache) Fill(conv *Conversation, msgs []*Message) {
    c.mu.Lock()
    defer c.mu.Unlock()

    c.conv = conv
    c.messages = make([]*Message, len(msgs))
    copy(c.messages, msgs)
    sortMessages(c.messages)
    c.byID = make(map[string]*Message, len(c.messages))
    for _, m := range c.messages {
        c.byID[m.ID] = m
    }
    c.recomputeLatestOwnLocked()
    delete(c.summaries, conv.ID)
}

// Refill replaces the authoritative message list after a reconciliation
// refetch. Unconfirmed provisional messages survive the refill, older pages
// already loaded via scroll-back stay in place, and delivery statuses
// already observed never regress even if the fetched page is stale.
func (c *Cache) Refill(conversationID int64, msgs []*Message) {
    c.mu.Lock()
    defer c.mu.Unlock()

    if c.conv == nil || c.conv.ID != conversationID {
        return
    }

    merged := make([]*Message, 0, len(msgs)+4)
    seen := make(map[string]bool, len(msgs))
    var oldest *Message
    for _, m := range msgs {
        if prev, ok := c.byID[m.ID]; ok {
            c.mergeDeliveries(m, prev)
        }
        merged = append(merged, m)
        seen[m.ID] = true
        if oldest == nil || messageLess(m, oldest) {
            oldest = m
        }
    }
    for _, m := range c.messages {
        if seen[m.ID] {
            continue
        }
        if m.Provisional || (oldest != nil && messageLess(m, oldest)) {
            merged = append(merged, m)
        }
    }

    sortMessages(merged)
    c.messages = merged
    c.byID = make(map[string]*Message, len(merged))
    for _, m := range merged {
        c.byID[m.ID] = m
    }
    c.recomputeLatestOwnLocked()
}

func (c *Cache) mergeDeliveries(next, prev *Message) {
    for _, pd := range prev.Deliveries {
        found := false
        for _, nd := range next.Deliveries {
            if nd.UserID == pd.UserID {
                found = true
                if deliveryRank(pd.Status) > deliveryRank(nd.Status) {
                    nd.Status = pd.Status
                }
            }
        }
        if !found {
            next.Deliveries = append(next.Deliveries, pd)
        }
    }
}

func (c *Cache) recomputeLatestOwnLocked() {
    c.latestOwnID = ""
    for i := len(c.messages) - 1; i >= 0; i-- {
        if c.messages[i].SenderID == c.viewerID {
            c.latestOwnID = c.messages[i].ID
            return
        }
    }
}

// ActiveID returns the materialized conversation id, if any.
func (c *Cache) ActiveID() (int64, bool) {
    c.mu.RLock()
    defer c.mu.RUnlock()
    if c.conv == nil {
        return 0, false
    }
    return c.conv.ID, true
}

// Conversation returns a copy of the active conversation, or nil.
func (c *Cache) Conversation() *Conversation {
    c.mu.RLock()
    defer c.mu.RUnlock()
    if c.conv == nil {
        return nil
    }
    return cloneConversation(c.conv)
}

// Messages returns a snapshot of the ordered message list.
func (c *Cache) Messages() []*Message {
    c.mu.RLock()
    defer c.mu.RUnlock()
    out := make([]*Message, len(c.messages))
    for i, m := range c.messages {
        out[i] = cloneMessage(m)
    }
    return out
}

// Message looks up one message by id. The returned copy is detached from
// later cache writes.
func (c *Cache) Message(id string) (*Message, bool) {
    c.mu.RLock()
    defer c.mu.RUnlock()
    m, ok := c.byID[id]
    if !ok {
        return nil, false
    }
    return cloneMessage(m), true
}

// LatestOwnID is the id of the viewer's most recently sent message, kept
// current on every fill, insert and replace.
func (c *Cache) LatestOwnID() string {
    c.mu.RLock()
    defer c.mu.RUnlock()
    return c.latestOwnID
}

// Insert adds a message in order. Inserting an id that is already present is
// a no-op, which makes push echo after refetch harmless.
func (c *Cache) Insert(msg *Message) bool {
    c.mu.Lock()
    defer c.mu.Unlock()

    if c.conv == nil || c.conv.ID != msg.ConversationID {
        return false
    }
    if _, exists := c.byID[msg.ID]; exists {
        return false
    }
    c.messages = append(c.messages, msg)
    sortMessages(c.messages)
    c.byID[msg.ID] = msg
    if msg.SenderID == c.viewerID {
        c.recomputeLatestOwnLocked()
    }
    return true
}

// ReplaceProvisional swaps the provisional entry tempID for the confirmed
// message. Returns false when tempID is no longer present, so confirmation
// via the REST response and via the push echo can race without duplicating.
func (c *Cache) ReplaceProvisional(tempID string, msg *Message) bool {
    c.mu.Lock()
    defer c.mu.Unlock()

    prev, ok := c.byID[tempID]
    if !ok || !prev.Provisional {
        return false
    }
    delete(c.byID, tempID)
    for i, m := range c.messages {
        if m.ID == tempID {
            c.messages = append(c.messages[:i], c.messages[i+1:]...)
            break
        }
    }
    if _, dup := c.byID[msg.ID]; !dup {
        c.messages = append(c.messages, msg)
        sortMessages(c.messages)
        c.byID[msg.ID] = msg
    }
    c.recomputeLatestOwnLocked()
    return true
}

// Remove drops a message outright. Used to roll back failed provisional sends.
func (c *Cache) Remove(id string) bool {
    c.mu.Lock()
    defer c.mu.Unlock()

    if _, ok := c.byID[id]; !ok {
        return false
    }
    delete(c.byID, id)
    for i, m := range c.messages {
        if m.ID == id {
            c.messages = append(c.messages[:i], c.messages[i+1:]...)
            break
        }
    }
    c.recomputeLatestOwnLocked()
    return true
}

// MarkFailed flags a provisional send that could not be delivered.
func (c *Cache) MarkFailed(id string) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if m, ok := c.byID[id]; ok {
        m.Failed = true
    }
}

// SetContent rewrites a message's content and edited timestamp. Used both to
// apply optimistic edits and to roll them back.
func (c *Cache) SetContent(id string, content *string, editedAt *time.Time) bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    m, ok := c.byID[id]
    if !ok {
        return false
    }
    m.Content = content
    m.EditedAt = editedAt
    return true
}

// SetRecalled sets or clears the tombstone flag. The message keeps its slot.
func (c *Cache) SetRecalled(id string, recalled bool) bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    m, ok := c.byID[id]
    if !ok {
        return false
    }
    m.Recalled = recalled
    return true
}

// SetPinned applies an authoritative pin state for the active conversation.
func (c *Cache) SetPinned(id string, pinned bool, at time.Time) bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    m, ok := c.byID[id]
    if !ok || c.conv == nil {
        return false
    }
    for i, p := range m.Pins {
        if p.ConversationID == c.conv.ID {
            if !pinned {
                m.Pins = append(m.Pins[:i], m.Pins[i+1:]...)
            }
            return true
        }
    }
    if pinned {
        m.Pins = append(m.Pins, &PinRecord{
            MessageID:      id,
            ConversationID: c.conv.ID,
            PinnedAt:       at,
        })
    }
    return true
}

// Pinned returns the pinned messages of the active conversation in order.
func (c *Cache) Pinned() []*Message {
    c.mu.RLock()
    defer c.mu.RUnlock()
    if c.conv == nil {
        return nil
    }
    var out []*Message
    for _, m := range c.messages {
        if m.IsPinned(c.conv.ID) {
            out = append(out, cloneMessage(m))
        }
    }
    return out
}

// SetDelivery applies a per-recipient delivery status. Regressions are
// ignored: sent -> delivered -> read never runs backwards.
func (c *Cache) SetDelivery(messageID string, userID int64, status DeliveryStatus) bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    m, ok := c.byID[messageID]
    if !ok {
        return false
    }
    for _, d := range m.Deliveries {
        if d.UserID == userID {
            if deliveryRank(status) > deliveryRank(d.Status) {
                d.Status = status
            }
            return true
        }
    }
    m.Deliveries = append(m.Deliveries, &DeliveryState{
        MessageID: messageID,
        UserID:    userID,
        Status:    status,
    })
    return true
}

// SetConversationMeta updates the active conversation's display fields after
// a metadata refetch.
func (c *Cache) SetConversationMeta(name, avatarURL *string) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.conv == nil {
        return
    }
    c.conv.Name = name
    c.conv.AvatarURL = avatarURL
}

// SetMembers replaces the active conversation's membership.
func (c *Cache) SetMembers(members []*Member) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.conv != nil {
        c.conv.Members = members
    }
}

// SetMemberPresence updates one member's online flag and last-seen stamp.
func (c *Cache) SetMemberPresence(userID int64, online bool, lastSeen *time.Time) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.conv == nil {
        return
    }
    for _, member := range c.conv.Members {
        if member.UserID == userID {
            member.IsOnline = online
            if lastSeen != nil {
                member.LastSeenAt = lastSeen
            }
            return
        }
    }
}

// MergeOlder folds an older history page into the materialized list. Ids
// already present keep their cached entry; the page never overwrites newer
// local state.
func (c *Cache) MergeOlder(conversationID int64, msgs []*Message) {
    c.mu.Lock()
    defer c.mu.Unlock()

    if c.conv == nil || c.conv.ID != conversationID {
        return
    }
    added := false
    for _, m := range msgs {
        if _, exists := c.byID[m.ID]; exists {
            continue
        }
        c.messages = append(c.messages, m)
        c.byID[m.ID] = m
        added = true
    }
    if added {
        sortMessages(c.messages)
        c.recomputeLatestOwnLocked()
    }
}

// Evict drops the materialized conversation entirely.
func (c *Cache) Evict() {
    c.mu.Lock()
    defer c.mu.Unlock()
    c.conv = nil
    c.messages = nil
    c.byID = make(map[string]*Message)
    c.latestOwnID = ""
}

// MarkDirty records list-surface churn for an inactive conversation: bump the
// unread count and refresh the preview. The detailed message list is never
// touched for inactive conversations.
func (c *Cache) MarkDirty(conversationID int64, preview string, at time.Time) {
    c.mu.Lock()
    defer c.mu.Unlock()
    s, ok := c.summaries[conversationID]
    if !ok {
        s = &Summary{}
        c.summaries[conversationID] = s
    }
    s.UnreadCount++
    s.LastPreview = preview
    s.LastMessageAt = at
}

// Summary returns the invalidation marker for conversationID, if any.
func (c *Cache) Summary(conversationID int64) (Summary, bool) {
    c.mu.RLock()
    defer c.mu.RUnlock()
    s, ok := c.summaries[conversationID]
    if !ok {
        return Summary{}, false
    }
    return *s, true
}

// ClearSummary resets a marker, typically when its conversation is selected.
func (c *Cache) ClearSummary(conversationID int64) {
    c.mu.Lock()
    defer c.mu.Unlock()
    delete(c.summaries, conversationID)
}
