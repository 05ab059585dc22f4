package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"playline/internal/domain"
	"playline/internal/events"
	"playline/internal/repo"
	"playline/internal/signals"
)

const SignalEventType = "signal_sent"

type SignalOptions struct {
	SessionID string
	Channel   string
	Message   string
	Actor     events.Actor
}

// SendSignal records a signal event. Host signals carry sender_user_id,
// participant signals sender_participant_id, so direction can be resolved
// from the payload alone.
func (e Engine) SendSignal(ctx context.Context, opts SignalOptions) (domain.SessionEvent, error) {
	var evt domain.SessionEvent
	_, err := e.mutate(ctx, opts.SessionID, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		var err error
		evt, err = e.sendSignal(ctx, tx, s, opts.Channel, opts.Message, opts.Actor)
		if err != nil {
			return nil, err
		}
		if opts.Actor.Type == domain.ActorTrigger {
			return nil, nil
		}
		return []domain.Condition{{Type: "signal_received", Params: map[string]any{"channel": evt.Payload["channel"]}}}, nil
	})
	return evt, err
}

func (e Engine) sendSignal(ctx context.Context, tx *sql.Tx, s *domain.Session, channel, message string, actor events.Actor) (domain.SessionEvent, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return domain.SessionEvent{}, errors.New("channel is required")
	}
	if _, known := signals.Lookup(channel); !known && !e.config().Signals.AllowCustomChannels {
		return domain.SessionEvent{}, fmt.Errorf("unknown signal channel %q", channel)
	}
	payload := events.EventPayload{
		"channel":  channel,
		"message":  message,
		"severity": string(signals.SeverityOf(channel)),
	}
	switch actor.Type {
	case domain.ActorHost:
		payload["sender_user_id"] = actor.ID
	case domain.ActorParticipant:
		payload["sender_participant_id"] = actor.ID
		payload["participant_name"] = actor.Name
	}
	id, err := e.writer().Append(ctx, tx, s.ID, SignalEventType, actor, payload)
	if err != nil {
		return domain.SessionEvent{}, err
	}
	return domain.SessionEvent{
		ID:        id,
		SessionID: s.ID,
		Timestamp: e.nowString(),
		Type:      SignalEventType,
		ActorType: actor.Type,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Payload:   payload,
	}, nil
}

// ListSignals returns signal events newest first, optionally after a cursor.
func (e Engine) ListSignals(ctx context.Context, sessionID string, afterID int64, limit int) ([]domain.SessionEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	evts, err := e.Repo.ListEvents(ctx, repo.EventFilters{SessionID: sessionID, AfterID: afterID, TypeContains: "signal", Limit: limit, Newest: true})
	if err != nil {
		return nil, err
	}
	return signals.Sorted(evts), nil
}
