package domain

import (
	"encoding/json"
	"sort"
)

type Game struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenant_id"`
	GameKey          string         `json:"game_key"`
	Name             string         `json:"name"`
	ShortDescription string         `json:"short_description,omitempty"`
	Description      string         `json:"description,omitempty"`
	PlayMode         string         `json:"play_mode"`
	Status           string         `json:"status"`
	Locale           string         `json:"locale,omitempty"`
	BoardConfig      map[string]any `json:"board_config,omitempty"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	UpdatedAt        string         `json:"updated_at" format:"date-time"`
}

type Phase struct {
	ID              string `json:"id"`
	GameID          string `json:"game_id"`
	Order           int    `json:"phase_order"`
	Name            string `json:"name"`
	PhaseType       string `json:"phase_type,omitempty"`
	Description     string `json:"description,omitempty"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
	BoardMessage    string `json:"board_message,omitempty"`
}

type Step struct {
	ID              string  `json:"id"`
	GameID          string  `json:"game_id"`
	PhaseID         *string `json:"phase_id,omitempty"`
	Order           int     `json:"step_order"`
	Title           string  `json:"title"`
	Body            string  `json:"body,omitempty"`
	BoardText       string  `json:"board_text,omitempty"`
	LeaderScript    string  `json:"leader_script,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
}

type Role struct {
	ID          string `json:"id"`
	GameID      string `json:"game_id"`
	Order       int    `json:"role_order"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MinCount    int    `json:"min_count"`
	MaxCount    *int   `json:"max_count,omitempty"`
}

type Materials struct {
	Items       []string `json:"items"`
	SafetyNotes string   `json:"safety_notes,omitempty"`
	Preparation string   `json:"preparation,omitempty"`
}

type Artifact struct {
	ID          string            `json:"id"`
	GameID      string            `json:"game_id"`
	Order       int               `json:"artifact_order"`
	Title       string            `json:"title"`
	Type        string            `json:"artifact_type"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Variants    []ArtifactVariant `json:"variants"`
}

const (
	VisibilityPublic      = "public"
	VisibilityLeaderOnly  = "leader_only"
	VisibilityRolePrivate = "role_private"
)

type ArtifactVariant struct {
	ID              string  `json:"id"`
	ArtifactID      string  `json:"artifact_id"`
	Order           int     `json:"variant_order"`
	Title           string  `json:"title,omitempty"`
	Body            string  `json:"body,omitempty"`
	Visibility      string  `json:"visibility" enum:"public,leader_only,role_private"`
	VisibleToRoleID *string `json:"visible_to_role_id,omitempty"`
}

type Trigger struct {
	ID           string    `json:"id"`
	GameID       string    `json:"game_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Enabled      bool      `json:"enabled"`
	Condition    Condition `json:"condition"`
	Actions      []Action  `json:"actions"`
	ExecuteOnce  bool      `json:"execute_once"`
	DelaySeconds int       `json:"delay_seconds"`
	SortOrder    int       `json:"sort_order"`
}

// Condition is a discriminated union keyed by Type. Params holds the
// type-specific fields and is flattened next to "type" on the wire:
// {"type":"keypad_correct","keypadId":"..."}.
type Condition struct {
	Type   string
	Params map[string]any
}

// Action has the same wire shape as Condition.
type Action struct {
	Type   string
	Params map[string]any
}

func (c Condition) MarshalJSON() ([]byte, error) { return marshalTagged(c.Type, c.Params) }
func (a Action) MarshalJSON() ([]byte, error)    { return marshalTagged(a.Type, a.Params) }

func (c *Condition) UnmarshalJSON(data []byte) error {
	typ, params, err := unmarshalTagged(data)
	if err != nil {
		return err
	}
	c.Type, c.Params = typ, params
	return nil
}

func (a *Action) UnmarshalJSON(data []byte) error {
	typ, params, err := unmarshalTagged(data)
	if err != nil {
		return err
	}
	a.Type, a.Params = typ, params
	return nil
}

// String returns a string param or "".
func (c Condition) String(key string) string { return stringParam(c.Params, key) }
func (a Action) String(key string) string    { return stringParam(a.Params, key) }

// Int returns an integer param, accepting any JSON number shape.
func (a Action) Int(key string) (int, bool) { return intParam(a.Params, key) }

func marshalTagged(typ string, params map[string]any) ([]byte, error) {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["type"] = typ
	return json.Marshal(out)
}

func unmarshalTagged(data []byte) (string, map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", nil, err
	}
	typ, _ := raw["type"].(string)
	delete(raw, "type")
	if len(raw) == 0 {
		raw = nil
	}
	return typ, raw, nil
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}

// ParamKeys returns the sorted param names, used for stable error output.
func ParamKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GameContent is the full payload committed by a single content write.
type GameContent struct {
	Game      Game       `json:"game"`
	Phases    []Phase    `json:"phases"`
	Steps     []Step     `json:"steps"`
	Roles     []Role     `json:"roles"`
	Materials *Materials `json:"materials,omitempty"`
	Artifacts []Artifact `json:"artifacts"`
	Triggers  []Trigger  `json:"triggers"`
}

type ContentCounts struct {
	Steps     int `json:"steps"`
	Phases    int `json:"phases"`
	Roles     int `json:"roles"`
	Artifacts int `json:"artifacts"`
	Variants  int `json:"variants"`
	Triggers  int `json:"triggers"`
}

// Counts reports how many rows the content will write per table.
func (c GameContent) Counts() ContentCounts {
	counts := ContentCounts{
		Steps:     len(c.Steps),
		Phases:    len(c.Phases),
		Roles:     len(c.Roles),
		Artifacts: len(c.Artifacts),
		Triggers:  len(c.Triggers),
	}
	for _, a := range c.Artifacts {
		counts.Variants += len(a.Variants)
	}
	return counts
}
