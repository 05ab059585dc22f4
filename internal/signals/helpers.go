package signals

import (
	"sort"
	"strings"
	"time"

	"playline/internal/domain"
)

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
	System   Direction = "system"
)

// ResolveDirection classifies a signal. Explicit actor metadata wins over
// sender fields in the payload, and both win over the catalog origin, since
// trigger-fired signals may reuse a participant channel name.
func ResolveDirection(channel, actorType string, payload map[string]any) Direction {
	switch strings.ToLower(actorType) {
	case domain.ActorHost:
		return Outgoing
	case domain.ActorParticipant:
		return Incoming
	case domain.ActorTrigger, domain.ActorSystem:
		return System
	}
	if present(payload, "sender_user_id") {
		return Outgoing
	}
	if present(payload, "sender_participant_id") {
		return Incoming
	}
	if c, ok := Lookup(channel); ok {
		switch c.Origin {
		case OriginDirector:
			return Outgoing
		case OriginParticipant:
			return Incoming
		}
	}
	return System
}

func present(payload map[string]any, key string) bool {
	v, ok := payload[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}

// Meta is the normalized view of a signal event.
type Meta struct {
	EventID   int64     `json:"event_id"`
	Channel   string    `json:"channel"`
	Label     string    `json:"label"`
	Sender    string    `json:"sender,omitempty"`
	Message   string    `json:"message,omitempty"`
	Direction Direction `json:"direction"`
	Severity  Severity  `json:"severity"`
	ActorType string    `json:"actor_type,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// ExtractMeta normalizes a signal event regardless of whether it came from
// the server audit log or a client broadcast.
func ExtractMeta(evt domain.SessionEvent) Meta {
	channel := firstString(evt.Payload, "channel", "targetName")
	if channel == "" {
		channel = evt.Type
	}
	sender := evt.ActorName
	if sender == "" {
		sender = firstString(evt.Payload, "participant_name", "sender")
	}
	return Meta{
		EventID:   evt.ID,
		Channel:   channel,
		Label:     Label(channel),
		Sender:    sender,
		Message:   firstString(evt.Payload, "message"),
		Direction: ResolveDirection(channel, evt.ActorType, evt.Payload),
		Severity:  SeverityOf(channel),
		ActorType: evt.ActorType,
		Timestamp: evt.Timestamp,
	}
}

func firstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// IsSignal reports whether an event type counts as a signal.
func IsSignal(evt domain.SessionEvent) bool {
	return strings.Contains(evt.Type, "signal")
}

// Sorted returns signal events newest first. Ties on timestamp fall back to
// the event id so the order is stable across reconnects.
func Sorted(events []domain.SessionEvent) []domain.SessionEvent {
	out := make([]domain.SessionEvent, 0, len(events))
	for _, evt := range events {
		if IsSignal(evt) {
			out = append(out, evt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := parseTS(out[i].Timestamp), parseTS(out[j].Timestamp)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// LatestUnhandled returns the newest signal whose id is not in handled.
func LatestUnhandled(events []domain.SessionEvent, handled map[int64]bool) *domain.SessionEvent {
	for _, evt := range Sorted(events) {
		if !handled[evt.ID] {
			evt := evt
			return &evt
		}
	}
	return nil
}

// CountUnhandled counts signal events whose id is not in handled.
func CountUnhandled(events []domain.SessionEvent, handled map[int64]bool) int {
	n := 0
	for _, evt := range events {
		if IsSignal(evt) && !handled[evt.ID] {
			n++
		}
	}
	return n
}

func parseTS(ts string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t
	}
	return time.Time{}
}
