package domain

import "sort"

// RefKind names the content table a trigger reference points into.
type RefKind string

const (
	RefStep     RefKind = "step"
	RefPhase    RefKind = "phase"
	RefArtifact RefKind = "artifact"
)

// RefField describes one reference-carrying field of a condition or action.
// Canonical is the field that holds the resolved UUID after import.
type RefField struct {
	Kind      RefKind
	Canonical string
}

func stepRef() map[string]RefField {
	return map[string]RefField{
		"stepId":    {RefStep, "stepId"},
		"stepOrder": {RefStep, "stepId"},
	}
}

func phaseRef() map[string]RefField {
	return map[string]RefField{
		"phaseId":    {RefPhase, "phaseId"},
		"phaseOrder": {RefPhase, "phaseId"},
	}
}

func artifactRef(canonical string) map[string]RefField {
	return map[string]RefField{
		canonical:       {RefArtifact, canonical},
		"artifactOrder": {RefArtifact, canonical},
	}
}

func single(field string) map[string]RefField {
	return map[string]RefField{field: {RefArtifact, field}}
}

// ConditionRefFields maps each known condition type to its reference fields.
// Types with no references map to an empty set.
var ConditionRefFields = map[string]map[string]RefField{
	"manual":                     {},
	"timer_ended":                {},
	"signal_received":            {},
	"decision_resolved":          {},
	"step_started":               stepRef(),
	"step_completed":             stepRef(),
	"phase_started":              phaseRef(),
	"phase_completed":            phaseRef(),
	"artifact_unlocked":          artifactRef("artifactId"),
	"keypad_correct":             artifactRef("keypadId"),
	"keypad_failed":              artifactRef("keypadId"),
	"riddle_correct":             single("riddleId"),
	"audio_acknowledged":         single("audioId"),
	"multi_answer_complete":      single("multiAnswerId"),
	"scan_verified":              single("scanGateId"),
	"hotspot_found":              single("hotspotHuntId"),
	"hotspot_hunt_complete":      single("hotspotHuntId"),
	"tile_puzzle_complete":       single("tilePuzzleId"),
	"cipher_decoded":             single("cipherId"),
	"prop_confirmed":             single("propId"),
	"prop_rejected":              single("propId"),
	"location_verified":          single("locationId"),
	"logic_grid_solved":          single("gridId"),
	"sound_level_triggered":      single("soundMeterId"),
	"time_bank_expired":          single("timeBankId"),
	"signal_generator_triggered": single("signalGeneratorId"),
}

// ActionRefFields maps each known action type to its reference fields.
var ActionRefFields = map[string]map[string]RefField{
	"reveal_artifact":    artifactRef("artifactId"),
	"hide_artifact":      artifactRef("artifactId"),
	"highlight_artifact": artifactRef("artifactId"),
	"advance_step":       {},
	"advance_phase":      {},
	"goto_step":          stepRef(),
	"send_signal":        {},
	"start_timer":        {},
	"pause_timer":        {},
	"set_board_message":  {},
	"show_leader_script": {"stepId": {RefStep, "stepId"}},
	"reset_keypad":       single("keypadId"),
	"reset_riddle":       single("riddleId"),
	"reset_scan_gate":    single("scanGateId"),
	"reset_hotspot_hunt": single("hotspotHuntId"),
	"reset_tile_puzzle":  single("tilePuzzleId"),
	"reset_cipher":       single("cipherId"),
	"reset_prop":         single("propId"),
	"reset_location":     single("locationId"),
	"reset_logic_grid":   single("gridId"),
	"reset_sound_meter":  single("soundMeterId"),
	"trigger_signal":     single("signalGeneratorId"),
	"time_bank_pause":    single("timeBankId"),
}

// ConditionRefKeys returns the canonical reference fields of a condition type,
// which are the fields a fired condition must match on.
func ConditionRefKeys(condType string) []string {
	seen := map[string]bool{}
	var keys []string
	for _, f := range ConditionRefFields[condType] {
		if !seen[f.Canonical] {
			seen[f.Canonical] = true
			keys = append(keys, f.Canonical)
		}
	}
	sort.Strings(keys)
	return keys
}
