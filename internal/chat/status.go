// internal/chat/status.go
// Pure message status resolution. No component state is read or written here
// so the direct/group semantics stay independently testable.

package chat

// IndicatorKind is the outward delivery indicator for one message.
type IndicatorKind string

const (
    // IndicatorReceived is the neutral indicator for messages the viewer did
    // not author; no outward status is shown for those.
    IndicatorReceived  IndicatorKind = "received"
    IndicatorSent      IndicatorKind = "sent"
    IndicatorDelivered IndicatorKind = "delivered"
    IndicatorRead      IndicatorKind = "read"
    IndicatorSeenBy    IndicatorKind = "seen_by"
)

// Maximum reader avatars rendered before collapsing into an overflow count.
const maxSeenByAvatars = 3

// Indicator is the resolved display status for a message.
type Indicator struct {
    Kind IndicatorKind
    // SeenBy holds up to maxSeenByAvatars reader ids for the group seen-by
    // indicator, in delivery-state order; Overflow counts the rest.
    SeenBy   []int64
    Overflow int
}

// ResolveStatus computes the indicator for one message as seen by viewerID.
//
// latestOwnID is the id of the viewer's most recently sent message in the
// conversation; the cache maintains it incrementally (see Cache.LatestOwnID)
// so resolution does not rescan history. Passing the value in keeps this
// function referentially transparent.
func ResolveStatus(msg *Message, viewerID int64, conv *Conversation, latestOwnID string) Indicator {
    if msg.SenderID != viewerID {
        return Indicator{Kind: IndicatorReceived}
    }
    if len(msg.Deliveries) == 0 {
        return Indicator{Kind: IndicatorSent}
    }

    if conv.IsDirect() {
        return resolveDirect(msg)
    }
    return resolveGroup(msg, latestOwnID)
}

func resolveDirect(msg *Message) Indicator {
    for _, d := range msg.Deliveries {
        if d.UserID == msg.SenderID {
            continue
        }
        switch d.Status {
        case StatusRead:
            return Indicator{Kind: IndicatorRead}
        case StatusDelivered:
            return Indicator{Kind: IndicatorDelivered}
        }
        return Indicator{Kind: IndicatorSent}
    }
    return Indicator{Kind: IndicatorSent}
}

func resolveGroup(msg *Message, latestOwnID string) Indicator {
    var readers []int64
    anyDelivered := false
    for _, d := range msg.Deliveries {
        if d.UserID == msg.SenderID {
            continue
        }
        switch d.Status {
        case StatusRead:
            readers = append(readers, d.UserID)
            anyDelivered = true
        case StatusDelivered:
            anyDelivered = true
        }
    }

    // The seen-by avatar stack is shown only on the viewer's most recent own
    // message; older messages keep the plain delivered indicator no matter
    // how many readers they accumulate.
    if len(readers) > 0 && msg.ID == latestOwnID {
        ind := Indicator{Kind: IndicatorSeenBy, SeenBy: readers}
        if len(readers) > maxSeenByAvatars {
            ind.SeenBy = readers[:maxSeenByAvatars]
            ind.Overflow = len(readers) - maxSeenByAvatars
        }
        return ind
    }
    if anyDelivered {
        return Indicator{Kind: IndicatorDelivered}
    }
    return Indicator{Kind: IndicatorSent}
}
