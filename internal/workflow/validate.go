package workflow

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Finding codes, stable across releases.
const (
	CodeSchemaParse     = "V-S-001"
	CodeSchemaViolation = "V-S-002"

	CodeUnknownStatus    = "V-SM-001"
	CodeUnknownStage     = "V-SM-002"
	CodeDuplicateState   = "V-SM-003"
	CodeUnknownFrom      = "V-SM-004"
	CodeUnknownTo        = "V-SM-005"
	CodeUnknownInitial   = "V-SM-006"
	CodeUnknownTerminal  = "V-SM-007"
	CodeUnreachableState = "V-SM-008"
	CodeDeadEndState     = "V-SM-009"

	CodeDuplicateInvariant = "V-I-001"
	CodeUnknownInvariant   = "V-I-002"
	CodeInvariantWhen      = "V-I-003"

	CodeUnknownActor  = "V-R-001"
	CodeDuplicateRole = "V-R-002"

	CodeDelegatePre    = "V-D-001"
	CodeClosePre       = "V-D-002"
	CodeAuditFailPre   = "V-D-003"
	CodeEscalateReason = "V-D-004"
	CodeDelegateActor  = "V-D-005"
)

// Finding is one validator diagnosis.
type Finding struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s [%s] %s", f.Severity, f.Code, f.Message)
}

// Result accumulates findings across all check families.
type Result struct {
	Findings []Finding `json:"findings"`
}

func (r *Result) add(code string, sev Severity, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{
		Code:     code,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Errors returns the error-severity findings.
func (r *Result) Errors() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			out = append(out, f)
		}
	}
	return out
}

// Warnings returns the warning-severity findings.
func (r *Result) Warnings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityWarning {
			out = append(out, f)
		}
	}
	return out
}

// OK reports whether no error-severity findings were recorded.
func (r *Result) OK() bool { return len(r.Errors()) == 0 }

// ValidateFile reads a descriptor file and validates it. A read failure is
// returned as err, distinct from validation findings; callers map it to its
// own exit code.
func ValidateFile(path string) (*Descriptor, *Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read workflow descriptor: %w", err)
	}
	desc, result := Validate(data)
	return desc, result, nil
}

// Validate runs all five check families against a descriptor document.
// The returned descriptor is nil when the document does not parse.
func Validate(data []byte) (*Descriptor, *Result) {
	result := &Result{}

	generic, err := parseGeneric(data)
	if err != nil {
		result.add(CodeSchemaParse, SeverityError, "%v", err)
		return nil, result
	}
	validateSchema(generic, result)

	desc, err := Parse(data)
	if err != nil {
		result.add(CodeSchemaParse, SeverityError, "%v", err)
		return nil, result
	}

	desc.validateStateMachine(result)
	desc.validateInvariantRefs(result)
	desc.validateRoles(result)
	desc.validateDelegationRules(result)
	return desc, result
}

// validateSchema is the V-S family: JSON-schema checks on the raw document.
func validateSchema(doc map[string]any, result *Result) {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	docLoader := gojsonschema.NewGoLoader(doc)

	res, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		result.add(CodeSchemaParse, SeverityError, "schema validation: %v", err)
		return
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, schemaErr := range res.Errors() {
		msgs = append(msgs, schemaErr.String())
	}
	sort.Strings(msgs)
	for _, msg := range msgs {
		result.add(CodeSchemaViolation, SeverityError, "%s", msg)
	}
}

// validateStateMachine is the V-SM family: declared-value resolution,
// tuple uniqueness, reachability, and dead-end detection.
func (d *Descriptor) validateStateMachine(result *Result) {
	aliases := sortedKeys(d.States)

	seen := map[State]string{}
	for _, alias := range aliases {
		state := d.States[alias]
		if !d.HasStatus(state.Status) {
			result.add(CodeUnknownStatus, SeverityError,
				"state %q references undeclared status %q", alias, state.Status)
		}
		if !d.HasStage(state.Stage) {
			result.add(CodeUnknownStage, SeverityError,
				"state %q references undeclared stage %q", alias, state.Stage)
		}
		if prev, dup := seen[state]; dup {
			result.add(CodeDuplicateState, SeverityError,
				"states %q and %q both resolve to (%s, %s)", prev, alias, state.Status, state.Stage)
		} else {
			seen[state] = alias
		}
	}

	if _, ok := d.States[d.InitialState]; !ok && d.InitialState != "" {
		result.add(CodeUnknownInitial, SeverityError,
			"initial_state %q is not a declared state", d.InitialState)
	}
	for _, alias := range d.TerminalStates {
		if _, ok := d.States[alias]; !ok {
			result.add(CodeUnknownTerminal, SeverityError,
				"terminal_states entry %q is not a declared state", alias)
		}
	}

	targeted := map[string]bool{}
	outbound := map[string]bool{}
	for _, name := range sortedKeys(d.Commands) {
		cmd := d.Commands[name]
		for _, from := range cmd.From {
			if _, ok := d.States[from]; !ok {
				result.add(CodeUnknownFrom, SeverityError,
					"command %q from %q is not a declared state", name, from)
			}
			outbound[from] = true
		}
		if _, ok := d.States[cmd.To]; !ok {
			result.add(CodeUnknownTo, SeverityError,
				"command %q to %q is not a declared state", name, cmd.To)
		}
		targeted[cmd.To] = true
	}

	for _, alias := range aliases {
		if alias != d.InitialState && !targeted[alias] {
			result.add(CodeUnreachableState, SeverityError,
				"state %q is not the initial state and no command transitions to it", alias)
		}
		if !d.IsTerminal(alias) && !outbound[alias] {
			result.add(CodeDeadEndState, SeverityError,
				"state %q is not terminal and has no outbound command", alias)
		}
	}
}

// validateInvariantRefs is the V-I family: declaration uniqueness, reference
// resolution, and pre/post timing consistency.
func (d *Descriptor) validateInvariantRefs(result *Result) {
	byName := map[string]Invariant{}
	for _, inv := range d.Invariants {
		if _, dup := byName[inv.Name]; dup {
			result.add(CodeDuplicateInvariant, SeverityError,
				"invariant %q declared more than once", inv.Name)
			continue
		}
		byName[inv.Name] = inv
	}

	check := func(cmdName, list string, names []string, wantWhen string) {
		for _, name := range names {
			inv, ok := byName[name]
			if !ok {
				result.add(CodeUnknownInvariant, SeverityError,
					"command %q %s references undeclared invariant %q", cmdName, list, name)
				continue
			}
			if inv.When != WhenBoth && inv.When != wantWhen {
				result.add(CodeInvariantWhen, SeverityWarning,
					"command %q uses invariant %q (declared when=%s) in its %s list", cmdName, name, inv.When, list)
			}
		}
	}
	for _, name := range sortedKeys(d.Commands) {
		cmd := d.Commands[name]
		check(name, "pre", cmd.Pre, WhenPre)
		check(name, "post", cmd.Post, WhenPost)
	}
}

// validateRoles is the V-R family.
func (d *Descriptor) validateRoles(result *Result) {
	seen := map[string]bool{}
	for _, role := range d.Metadata.Roles {
		if seen[role] {
			result.add(CodeDuplicateRole, SeverityError, "role %q declared more than once", role)
		}
		seen[role] = true
	}
	for _, name := range sortedKeys(d.Commands) {
		cmd := d.Commands[name]
		if !seen[cmd.Actor] {
			result.add(CodeUnknownActor, SeverityError,
				"command %q actor %q is not a declared role", name, cmd.Actor)
		}
	}
}

// validateDelegationRules is the V-D family: the contract the delegation
// engine and audit runner rely on at runtime.
func (d *Descriptor) validateDelegationRules(result *Result) {
	requirePre := func(cmdName, code string, required ...string) {
		cmd, ok := d.Commands[cmdName]
		if !ok {
			result.add(code, SeverityError, "command %q is not declared", cmdName)
			return
		}
		have := map[string]bool{}
		for _, name := range cmd.Pre {
			have[name] = true
		}
		for _, name := range required {
			if !have[name] {
				result.add(code, SeverityError,
					"command %q pre list must include %q", cmdName, name)
			}
		}
	}

	requirePre("delegate", CodeDelegatePre,
		"requires_work_item_context", "requires_acceptance_criteria", "no_in_progress_items")
	requirePre("close_with_audit", CodeClosePre, "audit_recommends_closure")
	requirePre("audit_fail", CodeAuditFailPre, "audit_does_not_recommend_closure")

	if esc, ok := d.Commands["escalate"]; ok {
		reason, has := esc.Inputs["reason"]
		if !has || !reason.Required {
			result.add(CodeEscalateReason, SeverityError,
				"command \"escalate\" must declare a required \"reason\" input")
		}
	} else {
		result.add(CodeEscalateReason, SeverityError, "command \"escalate\" is not declared")
	}

	if del, ok := d.Commands["delegate"]; ok && del.Actor != "PM" {
		result.add(CodeDelegateActor, SeverityError,
			"command \"delegate\" actor must be PM, got %q", del.Actor)
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
