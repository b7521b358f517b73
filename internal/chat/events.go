// internal/chat/events.go

package chat

import (
    "time"
)

// Push event names. The transport adapter publishes decoded payloads under
// these names; only the Synchronization Controller subscribes to the
// conversation-scoped ones.
const (
    EventMessageNew          = "message:new"
    EventMessageEdited       = "message:edited"
    EventMessageRecalled     = "message:recalled"
    EventMessagePinned       = "message:pinned"
    EventReactionUpdated     = "message:reaction_updated"
    EventStatusUpdate        = "message:status_update"
    EventTyping              = "typing"
    EventConversationUpdated = "conversation:updated"
    EventPresence            = "presence"
    EventError               = "error"
    EventWarning             = "warning"
)

// MessageEvent is the payload for message:new and message:edited.
type MessageEvent struct {
    ConversationID int64    `json:"conversation_id"`
    Message        *Message `json:"message"`
    // ClientRef echoes the sender's provisional id on message:new so the
    // originating client can replace its placeholder instead of duplicating.
    ClientRef string `json:"client_ref,omitempty"`
}

// RecallEvent is the payload for message:recalled.
type RecallEvent struct {
    ConversationID int64  `json:"conversation_id"`
    MessageID      string `json:"message_id"`
}

// PinEvent is the payload for message:pinned. Pinned carries the
// authoritative new state, not a toggle.
type PinEvent struct {
    ConversationID int64      `json:"conversation_id"`
    MessageID      string     `json:"message_id"`
    Pinned         bool       `json:"pinned"`
    PinnedAt       *time.Time `json:"pinned_at,omitempty"`
}

// ReactionEvent is the payload for message:reaction_updated.
type ReactionEvent struct {
    ConversationID int64  `json:"conversation_id"`
    MessageID      string `json:"message_id"`
    UserID         int64  `json:"user_id"`
    Reaction       string `json:"reaction"`
    Added          bool   `json:"added"`
    Count          int    `json:"count"`
}

// StatusEvent is the payload for message:status_update.
type StatusEvent struct {
    ConversationID int64          `json:"conversation_id"`
    MessageID      string         `json:"message_id"`
    UserID         int64          `json:"user_id"`
    Status         DeliveryStatus `json:"status"`
}

// TypingEvent is the payload for typing.
type TypingEvent struct {
    ConversationID int64 `json:"conversation_id"`
    UserID         int64 `json:"user_id"`
    Started        bool  `json:"started"`
}

// Conversation update actions.
const (
    ConversationActionUpdate = "update"
    ConversationActionDelete = "delete"
)

// ConversationEvent is the payload for conversation:updated.
type ConversationEvent struct {
    ConversationID int64         `json:"conversation_id"`
    Action         string        `json:"action"`
    Conversation   *Conversation `json:"conversation,omitempty"`
    AddedMembers   []*Member     `json:"added_members,omitempty"`
    RemovedUserIDs []int64       `json:"removed_user_ids,omitempty"`
}

// PresenceEvent is the payload for presence.
type PresenceEvent struct {
    UserID     int64      `json:"user_id"`
    Online     bool       `json:"online"`
    LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// NoticeEvent is the payload for error and warning. Always relayed to the
// viewer, never only logged.
type NoticeEvent struct {
    Level   string `json:"level"`
    Message string `json:"message"`
}
