// Package signals holds the signal channel catalog and the helpers every
// signal consumer uses to classify, label and order session events.
package signals

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityWarn   Severity = "warn"
	SeverityUrgent Severity = "urgent"
)

type Origin string

const (
	OriginDirector    Origin = "director"
	OriginParticipant Origin = "participant"
)

type Presentation string

const (
	PresentToast   Presentation = "toast"
	PresentOverlay Presentation = "overlay"
	PresentSound   Presentation = "sound"
	PresentHaptic  Presentation = "haptic"
)

// Channel describes a known signal channel. DurationMs of 0 means the signal
// stays up until it is acknowledged.
type Channel struct {
	ID           string         `json:"id"`
	Label        string         `json:"label"`
	Severity     Severity       `json:"severity"`
	Origin       Origin         `json:"origin"`
	Presentation []Presentation `json:"presentation"`
	DurationMs   int            `json:"duration_ms"`
}

// Persistent reports whether the signal needs explicit dismissal.
func (c Channel) Persistent() bool {
	return c.DurationMs == 0
}

var catalog = []Channel{
	{ID: "pause", Label: "Pause", Severity: SeverityWarn, Origin: OriginDirector, Presentation: []Presentation{PresentOverlay, PresentSound}, DurationMs: 0},
	{ID: "hint", Label: "Hint", Severity: SeverityInfo, Origin: OriginDirector, Presentation: []Presentation{PresentToast}, DurationMs: 8000},
	{ID: "attention", Label: "Attention", Severity: SeverityWarn, Origin: OriginDirector, Presentation: []Presentation{PresentToast, PresentSound, PresentHaptic}, DurationMs: 5000},
	{ID: "flash", Label: "Flash", Severity: SeverityInfo, Origin: OriginDirector, Presentation: []Presentation{PresentOverlay}, DurationMs: 3000},
	{ID: "ready", Label: "Ready", Severity: SeverityInfo, Origin: OriginParticipant, Presentation: []Presentation{PresentToast}, DurationMs: 5000},
	{ID: "found", Label: "Found it", Severity: SeverityInfo, Origin: OriginParticipant, Presentation: []Presentation{PresentToast, PresentSound}, DurationMs: 5000},
	{ID: "sos", Label: "SOS", Severity: SeverityUrgent, Origin: OriginParticipant, Presentation: []Presentation{PresentOverlay, PresentSound, PresentHaptic}, DurationMs: 0},
}

var byID = func() map[string]Channel {
	m := make(map[string]Channel, len(catalog))
	for _, c := range catalog {
		m[c.ID] = c
	}
	return m
}()

// Catalog returns a copy of the known channels in display order.
func Catalog() []Channel {
	out := make([]Channel, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a channel by id, case-insensitively.
func Lookup(channel string) (Channel, bool) {
	c, ok := byID[strings.ToLower(strings.TrimSpace(channel))]
	return c, ok
}

// SeverityOf falls back to info for unknown channels.
func SeverityOf(channel string) Severity {
	if c, ok := Lookup(channel); ok {
		return c.Severity
	}
	return SeverityInfo
}

var titler = cases.Title(language.Und)

// Label is the catalog label, or the channel id title-cased.
func Label(channel string) string {
	if c, ok := Lookup(channel); ok {
		return c.Label
	}
	channel = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(channel))
	if channel == "" {
		return "Signal"
	}
	return titler.String(channel)
}
