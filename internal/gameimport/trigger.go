package gameimport

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"

	"playline/internal/domain"
)

var ErrMissingCondition = errors.New("trigger has neither condition nor condition_type")

// NormalizeLegacyTrigger converts the flat condition_type/condition_config
// shape into a canonical condition object. A canonical trigger is returned
// unchanged. When both shapes are present the canonical condition wins and
// the legacy fields are dropped.
func NormalizeLegacyTrigger(t TriggerSpec) (TriggerSpec, error) {
	if t.Condition != nil {
		if t.ConditionType != "" || t.ConditionConfig != nil {
			t.ConditionType = ""
			t.ConditionConfig = nil
		}
		return t, nil
	}
	if t.ConditionType == "" {
		return t, ErrMissingCondition
	}
	cond := make(map[string]any, len(t.ConditionConfig)+1)
	for k, v := range t.ConditionConfig {
		cond[k] = v
	}
	cond["type"] = t.ConditionType
	t.Condition = cond
	t.ConditionType = ""
	t.ConditionConfig = nil
	return t, nil
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func isUUID(s string) bool { return uuidPattern.MatchString(s) }

// IDMap is the symbol table built in the first preflight phase. Name keys
// are case folded.
type IDMap struct {
	StepByOrder     map[int]string
	PhaseByOrder    map[int]string
	ArtifactByOrder map[int]string
	StepByName      map[string]string
	PhaseByName     map[string]string
	ArtifactByName  map[string]string
	Batch           map[string]bool
}

func newIDMap() *IDMap {
	return &IDMap{
		StepByOrder:     map[int]string{},
		PhaseByOrder:    map[int]string{},
		ArtifactByOrder: map[int]string{},
		StepByName:      map[string]string{},
		PhaseByName:     map[string]string{},
		ArtifactByName:  map[string]string{},
		Batch:           map[string]bool{},
	}
}

func (m *IDMap) byOrder(kind domain.RefKind) map[int]string {
	switch kind {
	case domain.RefStep:
		return m.StepByOrder
	case domain.RefPhase:
		return m.PhaseByOrder
	default:
		return m.ArtifactByOrder
	}
}

func (m *IDMap) byName(kind domain.RefKind) map[string]string {
	switch kind {
	case domain.RefStep:
		return m.StepByName
	case domain.RefPhase:
		return m.PhaseByName
	default:
		return m.ArtifactByName
	}
}

// asOrder accepts the integer shapes JSON and YAML decoding produce.
func asOrder(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func issue(path, msg, severity string) domain.ImportIssue {
	return domain.ImportIssue{Column: path, Message: msg, Severity: severity}
}

// resolveRef turns an order number, a name or a UUID into a UUID. The
// returned issue is nil on success; a warning issue still resolves.
func resolveRef(kind domain.RefKind, value any, ids *IDMap, path string) (string, *domain.ImportIssue) {
	if order, ok := asOrder(value); ok {
		id, found := ids.byOrder(kind)[order]
		if !found {
			iss := issue(path, fmt.Sprintf("Missing %s mapping for order %d", kind, order), "error")
			return "", &iss
		}
		return id, nil
	}
	s, ok := value.(string)
	if !ok || s == "" {
		iss := issue(path, fmt.Sprintf("Unsupported %s reference %v", kind, value), "error")
		return "", &iss
	}
	if id, found := ids.byName(kind)[foldName(s)]; found {
		return id, nil
	}
	if isUUID(s) {
		if !ids.Batch[s] {
			iss := issue(path, fmt.Sprintf("UUID %s not in import batch - may reference external entity", s), "warning")
			return s, &iss
		}
		return s, nil
	}
	iss := issue(path, fmt.Sprintf("Missing %s mapping for source ID %q", kind, s), "error")
	return "", &iss
}

// rewriteParams resolves every reference field in params in place.
func rewriteParams(params map[string]any, fields map[string]domain.RefField, ids *IDMap, basePath string) (errs, warns []domain.ImportIssue) {
	for _, field := range domain.ParamKeys(params) {
		ref, ok := fields[field]
		if !ok || params[field] == nil {
			continue
		}
		id, iss := resolveRef(ref.Kind, params[field], ids, basePath+"."+field)
		if iss != nil {
			if iss.Severity == "error" {
				errs = append(errs, *iss)
				continue
			}
			warns = append(warns, *iss)
		}
		if field != ref.Canonical {
			delete(params, field)
		}
		params[ref.Canonical] = id
	}
	return errs, warns
}

func copyParams(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		if k == "type" {
			continue
		}
		out[k] = v
	}
	return out
}

// rewriteTrigger validates a normalized trigger and resolves its references
// against ids without touching storage.
func rewriteTrigger(t TriggerSpec, index int, ids *IDMap) (domain.Trigger, []domain.ImportIssue, []domain.ImportIssue) {
	var errs, warns []domain.ImportIssue
	base := fmt.Sprintf("triggers[%d]", index)
	out := domain.Trigger{
		Name:        t.Name,
		Description: t.Description,
		Enabled:     true,
		SortOrder:   index,
	}
	if t.Enabled != nil {
		out.Enabled = *t.Enabled
	}
	if t.ExecuteOnce != nil {
		out.ExecuteOnce = *t.ExecuteOnce
	}
	if t.DelaySeconds != nil {
		if *t.DelaySeconds < 0 {
			errs = append(errs, issue(base+".delay_seconds", "delay_seconds must not be negative", "error"))
		} else {
			out.DelaySeconds = *t.DelaySeconds
		}
	}
	if t.SortOrder != nil {
		out.SortOrder = *t.SortOrder
	}
	if out.Name == "" {
		out.Name = fmt.Sprintf("Trigger %d", index+1)
	}

	condType, _ := t.Condition["type"].(string)
	condPath := base + ".condition"
	switch fields, known := domain.ConditionRefFields[condType]; {
	case condType == "":
		errs = append(errs, issue(condPath+".type", "Condition missing type field", "error"))
	case !known:
		errs = append(errs, issue(condPath+".type", fmt.Sprintf("Unknown condition type: %q (unknown types are blocked)", condType), "error"))
	default:
		params := copyParams(t.Condition)
		e, w := rewriteParams(params, fields, ids, condPath)
		errs, warns = append(errs, e...), append(warns, w...)
		if len(params) == 0 {
			params = nil
		}
		out.Condition = domain.Condition{Type: condType, Params: params}
	}

	if len(t.Actions) == 0 {
		errs = append(errs, issue(base+".actions", "Trigger has no actions", "error"))
	}
	for i, raw := range t.Actions {
		path := fmt.Sprintf("%s.actions[%d]", base, i)
		actType, _ := raw["type"].(string)
		if actType == "" {
			errs = append(errs, issue(path+".type", "Action missing type field", "error"))
			continue
		}
		fields, known := domain.ActionRefFields[actType]
		if !known {
			errs = append(errs, issue(path+".type", fmt.Sprintf("Unknown action type: %q (unknown types are blocked)", actType), "error"))
			continue
		}
		params := copyParams(raw)
		e, w := rewriteParams(params, fields, ids, path)
		errs, warns = append(errs, e...), append(warns, w...)
		if len(params) == 0 {
			params = nil
		}
		out.Actions = append(out.Actions, domain.Action{Type: actType, Params: params})
	}
	for i := range errs {
		errs[i].Row = index + 1
	}
	for i := range warns {
		warns[i].Row = index + 1
	}
	return out, errs, warns
}
