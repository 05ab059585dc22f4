package signals

import (
	"testing"

	"playline/internal/domain"
)

func TestCatalogDurations(t *testing.T) {
	for _, id := range []string{"pause", "sos"} {
		c, ok := Lookup(id)
		if !ok || !c.Persistent() {
			t.Fatalf("%s should be persistent: %+v", id, c)
		}
	}
	hint, _ := Lookup("HINT")
	if hint.Persistent() || hint.Origin != OriginDirector {
		t.Fatalf("unexpected hint entry: %+v", hint)
	}
	if SeverityOf("sos") != SeverityUrgent || SeverityOf("custom") != SeverityInfo {
		t.Fatalf("unexpected severities")
	}
	if len(Catalog()) != 7 {
		t.Fatalf("expected 7 channels")
	}
}

func TestLabelFallsBackToTitleCase(t *testing.T) {
	if Label("found") != "Found it" {
		t.Fatalf("catalog label expected")
	}
	if got := Label("door_open"); got != "Door Open" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveDirectionActorTypeWins(t *testing.T) {
	payload := map[string]any{"sender_participant_id": "p1"}
	if d := ResolveDirection("sos", "host", payload); d != Outgoing {
		t.Fatalf("host must be outgoing, got %s", d)
	}
	if d := ResolveDirection("hint", "participant", map[string]any{"sender_user_id": "u1"}); d != Incoming {
		t.Fatalf("participant must be incoming, got %s", d)
	}
	if d := ResolveDirection("sos", "trigger", nil); d != System {
		t.Fatalf("trigger must be system, got %s", d)
	}
}

func TestResolveDirectionFallbacks(t *testing.T) {
	if d := ResolveDirection("hint", "", map[string]any{"sender_participant_id": "p1"}); d != Incoming {
		t.Fatalf("participant sender field should win over catalog, got %s", d)
	}
	if d := ResolveDirection("sos", "", map[string]any{"sender_user_id": "u1"}); d != Outgoing {
		t.Fatalf("user sender field should win over catalog, got %s", d)
	}
	if d := ResolveDirection("ready", "", nil); d != Incoming {
		t.Fatalf("catalog participant origin expected, got %s", d)
	}
	if d := ResolveDirection("pause", "", map[string]any{"sender_user_id": ""}); d != Outgoing {
		t.Fatalf("catalog director origin expected, got %s", d)
	}
	if d := ResolveDirection("custom", "", nil); d != System {
		t.Fatalf("default system expected, got %s", d)
	}
}

func TestExtractMeta(t *testing.T) {
	evt := domain.SessionEvent{
		ID:        7,
		Type:      "signal_sent",
		Timestamp: "2024-01-01T00:00:00Z",
		Payload:   map[string]any{"sender_participant_id": "p1", "participant_name": "Kim", "targetName": "found", "message": "here"},
	}
	meta := ExtractMeta(evt)
	if meta.Direction != Incoming {
		t.Fatalf("expected incoming, got %s", meta.Direction)
	}
	if meta.Channel != "found" || meta.Sender != "Kim" || meta.Message != "here" {
		t.Fatalf("unexpected meta %+v", meta)
	}

	evt = domain.SessionEvent{ID: 8, Type: "signal_received", ActorName: "Host A", Payload: map[string]any{"channel": "hint", "sender": "ignored"}}
	meta = ExtractMeta(evt)
	if meta.Channel != "hint" || meta.Sender != "Host A" || meta.Direction != Outgoing {
		t.Fatalf("unexpected meta %+v", meta)
	}

	evt = domain.SessionEvent{ID: 9, Type: "signal_sent", Payload: map[string]any{}}
	meta = ExtractMeta(evt)
	if meta.Channel != "signal_sent" || meta.Sender != "" || meta.Direction != System {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestSortedAndUnhandled(t *testing.T) {
	events := []domain.SessionEvent{
		{ID: 1, Type: "signal_sent", Timestamp: "2024-01-01T00:00:01Z"},
		{ID: 2, Type: "step_changed", Timestamp: "2024-01-01T00:00:05Z"},
		{ID: 3, Type: "signal_sent", Timestamp: "2024-01-01T00:00:03Z"},
		{ID: 4, Type: "signal_received", Timestamp: "2024-01-01T00:00:03Z"},
	}
	sorted := Sorted(events)
	if len(sorted) != 3 {
		t.Fatalf("expected 3 signals, got %d", len(sorted))
	}
	if sorted[0].ID != 4 || sorted[1].ID != 3 || sorted[2].ID != 1 {
		t.Fatalf("unexpected order %v %v %v", sorted[0].ID, sorted[1].ID, sorted[2].ID)
	}

	handled := map[int64]bool{4: true}
	latest := LatestUnhandled(events, handled)
	if latest == nil || latest.ID != 3 {
		t.Fatalf("expected latest unhandled 3, got %+v", latest)
	}
	if n := CountUnhandled(events, handled); n != 2 {
		t.Fatalf("expected 2 unhandled, got %d", n)
	}
	all := map[int64]bool{1: true, 3: true, 4: true}
	if LatestUnhandled(events, all) != nil {
		t.Fatalf("expected nil when all handled")
	}
	if CountUnhandled(events, all) != 0 {
		t.Fatalf("expected zero unhandled")
	}
}
