package gameimport

// ParsedGame is one game as authored in an import file. References between
// content kinds use order numbers or names; ids are assigned during preflight.
type ParsedGame struct {
	GameKey          string           `json:"game_key" yaml:"game_key"`
	Name             string           `json:"name" yaml:"name"`
	ShortDescription string           `json:"short_description,omitempty" yaml:"short_description,omitempty"`
	Description      string           `json:"description,omitempty" yaml:"description,omitempty"`
	PlayMode         string           `json:"play_mode,omitempty" yaml:"play_mode,omitempty"`
	Status           string           `json:"status,omitempty" yaml:"status,omitempty"`
	Locale           string           `json:"locale,omitempty" yaml:"locale,omitempty"`
	BoardConfig      map[string]any   `json:"board_config,omitempty" yaml:"board_config,omitempty"`
	Phases           []ParsedPhase    `json:"phases,omitempty" yaml:"phases,omitempty"`
	Steps            []ParsedStep     `json:"steps,omitempty" yaml:"steps,omitempty"`
	Roles            []ParsedRole     `json:"roles,omitempty" yaml:"roles,omitempty"`
	Materials        *ParsedMaterials `json:"materials,omitempty" yaml:"materials,omitempty"`
	Artifacts        []ParsedArtifact `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Triggers         []TriggerSpec    `json:"triggers,omitempty" yaml:"triggers,omitempty"`
}

type ParsedPhase struct {
	PhaseOrder      *int   `json:"phase_order,omitempty" yaml:"phase_order,omitempty"`
	Name            string `json:"name" yaml:"name"`
	PhaseType       string `json:"phase_type,omitempty" yaml:"phase_type,omitempty"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	DurationSeconds *int   `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
	BoardMessage    string `json:"board_message,omitempty" yaml:"board_message,omitempty"`
}

// ParsedStep may name its phase by phase_id or phase_order, not both.
type ParsedStep struct {
	StepOrder       *int    `json:"step_order,omitempty" yaml:"step_order,omitempty"`
	Title           string  `json:"title" yaml:"title"`
	Body            string  `json:"body,omitempty" yaml:"body,omitempty"`
	BoardText       string  `json:"board_text,omitempty" yaml:"board_text,omitempty"`
	LeaderScript    string  `json:"leader_script,omitempty" yaml:"leader_script,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
	PhaseID         *string `json:"phase_id,omitempty" yaml:"phase_id,omitempty"`
	PhaseOrder      *int    `json:"phase_order,omitempty" yaml:"phase_order,omitempty"`
}

type ParsedRole struct {
	RoleOrder   *int   `json:"role_order,omitempty" yaml:"role_order,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	MinCount    int    `json:"min_count,omitempty" yaml:"min_count,omitempty"`
	MaxCount    *int   `json:"max_count,omitempty" yaml:"max_count,omitempty"`
}

type ParsedMaterials struct {
	Items       []string `json:"items" yaml:"items"`
	SafetyNotes string   `json:"safety_notes,omitempty" yaml:"safety_notes,omitempty"`
	Preparation string   `json:"preparation,omitempty" yaml:"preparation,omitempty"`
}

type ParsedArtifact struct {
	ArtifactOrder *int            `json:"artifact_order,omitempty" yaml:"artifact_order,omitempty"`
	Title         string          `json:"title" yaml:"title"`
	ArtifactType  string          `json:"artifact_type,omitempty" yaml:"artifact_type,omitempty"`
	Description   string          `json:"description,omitempty" yaml:"description,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Variants      []ParsedVariant `json:"variants,omitempty" yaml:"variants,omitempty"`
}

// ParsedVariant restricts visibility to a role by order or by name.
type ParsedVariant struct {
	VariantOrder       *int   `json:"variant_order,omitempty" yaml:"variant_order,omitempty"`
	Title              string `json:"title,omitempty" yaml:"title,omitempty"`
	Body               string `json:"body,omitempty" yaml:"body,omitempty"`
	Visibility         string `json:"visibility,omitempty" yaml:"visibility,omitempty"`
	VisibleToRoleOrder *int   `json:"visible_to_role_order,omitempty" yaml:"visible_to_role_order,omitempty"`
	VisibleToRoleName  string `json:"visible_to_role_name,omitempty" yaml:"visible_to_role_name,omitempty"`
}

// TriggerSpec accepts both the canonical shape, where Condition carries its
// own "type", and the legacy flat shape with ConditionType and
// ConditionConfig. NormalizeLegacyTrigger converts the latter.
type TriggerSpec struct {
	Name            string           `json:"name" yaml:"name"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled         *bool            `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Condition       map[string]any   `json:"condition,omitempty" yaml:"condition,omitempty"`
	ConditionType   string           `json:"condition_type,omitempty" yaml:"condition_type,omitempty"`
	ConditionConfig map[string]any   `json:"condition_config,omitempty" yaml:"condition_config,omitempty"`
	Actions         []map[string]any `json:"actions" yaml:"actions"`
	ExecuteOnce     *bool            `json:"execute_once,omitempty" yaml:"execute_once,omitempty"`
	DelaySeconds    *int             `json:"delay_seconds,omitempty" yaml:"delay_seconds,omitempty"`
	SortOrder       *int             `json:"sort_order,omitempty" yaml:"sort_order,omitempty"`
}

func orderOr(v *int, index int) int {
	if v != nil {
		return *v
	}
	return index + 1
}
