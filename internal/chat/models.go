// internal/chat/models.go

package chat

import (
    "time"
)

// ConversationKind distinguishes one-to-one chats from group chats.
type ConversationKind string

const (
    KindDirect ConversationKind = "direct"
    KindGroup  ConversationKind = "group"
)

// MemberRole is only meaningful for group conversations.
type MemberRole string

const (
    RoleMember MemberRole = "member"
    RoleAdmin  MemberRole = "admin"
)

// Conversation represents a chat conversation
type Conversation struct {
    ID                 int64            `json:"id"`
    Kind               ConversationKind `json:"kind"`
    Name               *string          `json:"name,omitempty"`
    AvatarURL          *string          `json:"avatar_url,omitempty"`
    CreatedAt          time.Time        `json:"created_at"`
    LastMessageAt      *time.Time       `json:"last_message_at,omitempty"`
    LastMessagePreview *string          `json:"last_message_preview,omitempty"`

    // Computed fields
    Members     []*Member `json:"members,omitempty"`
    UnreadCount int       `json:"unread_count,omitempty"`
}

// IsDirect reports whether the conversation has exactly two participants.
func (c *Conversation) IsDirect() bool {
    return c.Kind == KindDirect
}

// Member represents a conversation participant
type Member struct {
    ConversationID int64      `json:"conversation_id"`
    UserID         int64      `json:"user_id"`
    Role           MemberRole `json:"role"`
    DisplayName    string     `json:"display_name"`
    AvatarURL      *string    `json:"avatar_url,omitempty"`
    IsOnline       bool       `json:"is_online"`
    LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
    JoinedAt       time.Time  `json:"joined_at"`
}

// MessageType identifies the message payload kind.
type MessageType string

const (
    TypeText  MessageType = "text"
    TypeImage MessageType = "image"
    TypeVideo MessageType = "video"
    TypeFile  MessageType = "file"
)

// Media describes an uploaded attachment.
type Media struct {
    URL      string `json:"url"`
    Kind     string `json:"kind"`
    Filename string `json:"filename"`
    Size     int64  `json:"size"`
}

// Message represents a chat message.
//
// Message ids are strings: server-assigned ids are opaque, and provisional
// messages carry a client-generated temp id until the server confirms them.
type Message struct {
    ID             string         `json:"id"`
    ConversationID int64          `json:"conversation_id"`
    SenderID       int64          `json:"sender_id"`
    Content        *string        `json:"content,omitempty"`
    Type           MessageType    `json:"type"`
    Media          *Media         `json:"media,omitempty"`
    ReplyToID      string         `json:"reply_to_id,omitempty"`
    CreatedAt      time.Time      `json:"created_at"`
    EditedAt       *time.Time     `json:"edited_at,omitempty"`
    Recalled       bool           `json:"recalled"`
    Deliveries     []*DeliveryState `json:"deliveries,omitempty"`
    Pins           []*PinRecord     `json:"pins,omitempty"`

    // Client-side state, never sent to the server.
    Provisional bool `json:"-"`
    Failed      bool `json:"-"`
}

// RenderedContent hides tombstoned content. A recalled message keeps its slot
// in the sequence but its content must never reach the presentation layer.
func (m *Message) RenderedContent() *string {
    if m.Recalled {
        return nil
    }
    return m.Content
}

// IsPinned reports whether the message carries a pin record for conversationID.
func (m *Message) IsPinned(conversationID int64) bool {
    for _, p := range m.Pins {
        if p.ConversationID == conversationID {
            return true
        }
    }
    return false
}

// DeliveryStatus for a single recipient. Monotonic: sent -> delivered -> read.
type DeliveryStatus string

const (
    StatusSent      DeliveryStatus = "sent"
    StatusDelivered DeliveryStatus = "delivered"
    StatusRead      DeliveryStatus = "read"
)

// DeliveryState represents message delivery/read state for one recipient
type DeliveryState struct {
    MessageID string         `json:"message_id"`
    UserID    int64          `json:"user_id"`
    Status    DeliveryStatus `json:"status"`
}

// PinRecord marks a message as pinned in its conversation.
// Unpinning removes the record; there is no inactive flag.
type PinRecord struct {
    MessageID      string    `json:"message_id"`
    ConversationID int64     `json:"conversation_id"`
    PinnedAt       time.Time `json:"pinned_at"`
}

// TypingEntry is an ephemeral per-user typing signal. Never persisted.
type TypingEntry struct {
    ConversationID int64     `json:"conversation_id"`
    UserID         int64     `json:"user_id"`
    ExpiresAt      time.Time `json:"expires_at"`
}

// EditHistoryEntry is one prior revision of an edited message. Append-only.
type EditHistoryEntry struct {
    MessageID    string    `json:"message_id"`
    PriorContent string    `json:"prior_content"`
    Timestamp    time.Time `json:"timestamp"`
}
