package chat

import (
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

type typingRecorder struct {
    mu      sync.Mutex
    signals []bool
    convs   []int64
}

func (r *typingRecorder) send(conversationID int64, started bool) {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.signals = append(r.signals, started)
    r.convs = append(r.convs, conversationID)
}

func (r *typingRecorder) snapshot() []bool {
    r.mu.Lock()
    defer r.mu.Unlock()
    out := make([]bool, len(r.signals))
    copy(out, r.signals)
    return out
}

func TestKeystrokeBurstEmitsOneStartedSignal(t *testing.T) {
    rec := &typingRecorder{}
    b := NewTypingBroadcaster(time.Hour, rec.send)
    defer b.Stop()

    for i := 0; i < 20; i++ {
        b.Keystroke(10)
    }
    assert.Equal(t, []bool{true}, rec.snapshot())
}

func TestIdleTimerEmitsStopped(t *testing.T) {
    rec := &typingRecorder{}
    b := NewTypingBroadcaster(30*time.Millisecond, rec.send)

    b.Keystroke(10)
    require.Eventually(t, func() bool {
        s := rec.snapshot()
        return len(s) == 2 && !s[1]
    }, time.Second, 5*time.Millisecond)

    // A fresh keystroke after expiry starts a new burst.
    b.Keystroke(10)
    assert.Equal(t, []bool{true, false, true}, rec.snapshot())
    b.Stop()
}

func TestStopOnSendEmitsStoppedOnce(t *testing.T) {
    rec := &typingRecorder{}
    b := NewTypingBroadcaster(time.Hour, rec.send)

    b.Keystroke(10)
    b.Stop()
    b.Stop() // idempotent

    assert.Equal(t, []bool{true, false}, rec.snapshot())
}

func TestSwitchingConversationClosesOldSignal(t *testing.T) {
    rec := &typingRecorder{}
    b := NewTypingBroadcaster(time.Hour, rec.send)
    defer b.Stop()

    b.Keystroke(10)
    b.Keystroke(20)

    rec.mu.Lock()
    defer rec.mu.Unlock()
    assert.Equal(t, []bool{true, false, true}, rec.signals)
    assert.Equal(t, []int64{10, 10, 20}, rec.convs)
}

func TestTypistSetTracksMultipleTypists(t *testing.T) {
    s := NewTypistSet(time.Minute)

    s.Apply(TypingEvent{ConversationID: 10, UserID: alice, Started: true}, viewer)
    s.Apply(TypingEvent{ConversationID: 10, UserID: bob, Started: true}, viewer)
    s.Apply(TypingEvent{ConversationID: 99, UserID: carol, Started: true}, viewer)

    assert.Equal(t, []int64{alice, bob}, s.Typists(10))
    assert.Equal(t, []int64{carol}, s.Typists(99))
}

func TestTypistSetIgnoresViewerOwnEcho(t *testing.T) {
    s := NewTypistSet(time.Minute)
    s.Apply(TypingEvent{ConversationID: 10, UserID: viewer, Started: true}, viewer)
    assert.Empty(t, s.Typists(10))
}

func TestStoppedSignalRemovesTypist(t *testing.T) {
    s := NewTypistSet(time.Minute)
    s.Apply(TypingEvent{ConversationID: 10, UserID: alice, Started: true}, viewer)
    s.Apply(TypingEvent{ConversationID: 10, UserID: alice, Started: false}, viewer)
    assert.Empty(t, s.Typists(10))
}

func TestTypistEvictedByTTLWithoutStoppedSignal(t *testing.T) {
    now := time.Now()
    s := NewTypistSet(5 * time.Second)
    s.now = func() time.Time { return now }

    s.Apply(TypingEvent{ConversationID: 10, UserID: alice, Started: true}, viewer)
    assert.Equal(t, []int64{alice}, s.Typists(10))

    now = now.Add(6 * time.Second)
    assert.Empty(t, s.Typists(10), "entry past TTL must be evicted autonomously")
}

func TestStartedRefreshesTTL(t *testing.T) {
    now := time.Now()
    s := NewTypistSet(5 * time.Second)
    s.now = func() time.Time { return now }

    s.Apply(TypingEvent{ConversationID: 10, UserID: alice, Started: true}, viewer)
    now = now.Add(4 * time.Second)
    s.Apply(TypingEvent{ConversationID: 10, UserID: alice, Started: true}, viewer)
    now = now.Add(4 * time.Second)

    assert.Equal(t, []int64{alice}, s.Typists(10), "refresh extends the window")
}

func TestSweepClearsExpiredEntries(t *testing.T) {
    now := time.Now()
    s := NewTypistSet(time.Second)
    s.now = func() time.Time { return now }

    s.Apply(TypingEvent{ConversationID: 10, UserID: alice, Started: true}, viewer)
    now = now.Add(2 * time.Second)
    s.Sweep()

    s.mu.Lock()
    defer s.mu.Unlock()
    assert.Empty(t, s.entries)
}
