// internal/chat/typing.go

package chat

import (
    "sort"
    "sync"
    "time"
)

// Defaults for the typing lifecycle. Overridable through config.
const (
    DefaultTypingIdle = 1000 * time.Millisecond
    DefaultTypingTTL  = 5 * time.Second
)

// TypingSender emits a typing started/stopped signal on the transport.
type TypingSender func(conversationID int64, started bool)

// TypingBroadcaster collapses local keystroke bursts into at most one
// "typing started" signal per idle window. A stop is emitted when the idle
// timer fires or the message is sent, whichever comes first.
type TypingBroadcaster struct {
    mu        sync.Mutex
    idle      time.Duration
    send      TypingSender
    signaling bool
    convID    int64
    timer     *time.Timer
}

func NewTypingBroadcaster(idle time.Duration, send TypingSender) *TypingBroadcaster {
    if idle <= 0 {
        idle = DefaultTypingIdle
    }
    return &TypingBroadcaster{idle: idle, send: send}
}

// Keystroke records local typing activity in conversationID. The first
// keystroke of a burst emits "started"; every keystroke resets the idle timer.
func (t *TypingBroadcaster) Keystroke(conversationID int64) {
    t.mu.Lock()
    defer t.mu.Unlock()

    if t.signaling && t.convID == conversationID {
        t.timer.Reset(t.idle)
        return
    }
    if t.signaling {
        // Switched conversations mid-burst: close out the old signal first.
        t.stopLocked()
    }

    t.signaling = true
    t.convID = conversationID
    t.timer = time.AfterFunc(t.idle, t.expire)
    t.send(conversationID, true)
}

func (t *TypingBroadcaster) expire() {
    t.mu.Lock()
    defer t.mu.Unlock()
    t.stopLocked()
}

// Stop immediately emits "typing stopped" if a signal is outstanding.
// Called on send and on conversation switch. Idempotent.
func (t *TypingBroadcaster) Stop() {
    t.mu.Lock()
    defer t.mu.Unlock()
    t.stopLocked()
}

func (t *TypingBroadcaster) stopLocked() {
    if !t.signaling {
        return
    }
    t.signaling = false
    if t.timer != nil {
        t.timer.Stop()
    }
    t.send(t.convID, false)
}

// TypistSet tracks which remote users are currently typing, per conversation.
// Entries expire after ttl even if no explicit "stopped" signal arrives, so a
// peer that disconnects mid-keystroke cannot leave a stuck indicator. A set
// rather than a flag allows several simultaneous typists in groups.
type TypistSet struct {
    mu      sync.Mutex
    ttl     time.Duration
    now     func() time.Time
    entries map[int64]map[int64]time.Time // conversation id -> user id -> expires at
}

func NewTypistSet(ttl time.Duration) *TypistSet {
    if ttl <= 0 {
        ttl = DefaultTypingTTL
    }
    return &TypistSet{
        ttl:     ttl,
        now:     time.Now,
        entries: make(map[int64]map[int64]time.Time),
    }
}

// Apply folds one remote typing event into the set. Events from the viewer's
// own id are ignored; the local echo is not a remote typist.
func (s *TypistSet) Apply(ev TypingEvent, viewerID int64) {
    if ev.UserID == viewerID {
        return
    }
    s.mu.Lock()
    defer s.mu.Unlock()

    if !ev.Started {
        if users, ok := s.entries[ev.ConversationID]; ok {
            delete(users, ev.UserID)
            if len(users) == 0 {
                delete(s.entries, ev.ConversationID)
            }
        }
        return
    }

    users, ok := s.entries[ev.ConversationID]
    if !ok {
        users = make(map[int64]time.Time)
        s.entries[ev.ConversationID] = users
    }
    users[ev.UserID] = s.now().Add(s.ttl)
}

// Typists returns the ids of users currently typing in conversationID,
// sweeping any entry whose TTL has lapsed. Result is sorted for stable
// rendering.
func (s *TypistSet) Typists(conversationID int64) []int64 {
    s.mu.Lock()
    defer s.mu.Unlock()

    users, ok := s.entries[conversationID]
    if !ok {
        return nil
    }
    now := s.now()
    ids := make([]int64, 0, len(users))
    for id, expires := range users {
        if now.After(expires) {
            delete(users, id)
            typingEvictionsTotal.Inc()
            continue
        }
        ids = append(ids, id)
    }
    if len(users) == 0 {
        delete(s.entries, conversationID)
    }
    sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
    return ids
}

// Sweep evicts expired entries across all conversations. The controller runs
// it on a ticker so indicators clear even while the view is idle.
func (s *TypistSet) Sweep() {
    s.mu.Lock()
    defer s.mu.Unlock()

    now := s.now()
    for convID, users := range s.entries {
        for id, expires := range users {
            if now.After(expires) {
                delete(users, id)
                typingEvictionsTotal.Inc()
            }
        }
        if len(users) == 0 {
            delete(s.entries, convID)
        }
    }
}

// Clear drops all entries for conversationID. Used on eviction.
func (s *TypistSet) Clear(conversationID int64) {
    s.mu.Lock()
    defer s.mu.Unlock()
    delete(s.entries, conversationID)
}
