// Package workflow loads and validates the workflow descriptor: the
// declarative state machine that names statuses, stages, state aliases,
// transition commands, and the invariants gating them.
package workflow

// Invariant timing classes.
const (
	WhenPre  = "pre"
	WhenPost = "post"
	WhenBoth = "both"
)

// Input type names allowed in command input declarations.
var InputTypes = []string{"string", "number", "boolean", "array", "object"}

// State maps an alias to a concrete (status, stage) pair.
type State struct {
	Status string `yaml:"status" json:"status"`
	Stage  string `yaml:"stage" json:"stage"`
}

// Invariant declares a named predicate and when it may gate a command.
type Invariant struct {
	Name        string `yaml:"name" json:"name"`
	When        string `yaml:"when" json:"when"`
	Expression  string `yaml:"expression" json:"expression"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Input declares one command input field.
type Input struct {
	Type        string `yaml:"type" json:"type"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Effects lists the side effects a command applies on success.
type Effects struct {
	SetAssignee            string   `yaml:"set_assignee,omitempty" json:"set_assignee,omitempty"`
	AddTags                []string `yaml:"add_tags,omitempty" json:"add_tags,omitempty"`
	RemoveTags             []string `yaml:"remove_tags,omitempty" json:"remove_tags,omitempty"`
	SetNeedsProducerReview *bool    `yaml:"set_needs_producer_review,omitempty" json:"set_needs_producer_review,omitempty"`
	Notifications          []string `yaml:"notifications,omitempty" json:"notifications,omitempty"`
}

// Command declares one transition of the state machine.
type Command struct {
	Description string           `yaml:"description" json:"description"`
	From        []string         `yaml:"from" json:"from"`
	To          string           `yaml:"to" json:"to"`
	Actor       string           `yaml:"actor" json:"actor"`
	Pre         []string         `yaml:"pre,omitempty" json:"pre,omitempty"`
	Post        []string         `yaml:"post,omitempty" json:"post,omitempty"`
	Inputs      map[string]Input `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Effects     Effects          `yaml:"effects,omitempty" json:"effects,omitempty"`
}

// Metadata carries descriptor-level annexes; only roles are interpreted.
type Metadata struct {
	Roles []string `yaml:"roles" json:"roles"`
}

// Descriptor is the complete workflow document.
type Descriptor struct {
	Version        string             `yaml:"version" json:"version"`
	Status         []string           `yaml:"status" json:"status"`
	Stage          []string           `yaml:"stage" json:"stage"`
	States         map[string]State   `yaml:"states" json:"states"`
	InitialState   string             `yaml:"initial_state" json:"initial_state"`
	TerminalStates []string           `yaml:"terminal_states" json:"terminal_states"`
	Invariants     []Invariant        `yaml:"invariants" json:"invariants"`
	Commands       map[string]Command `yaml:"commands" json:"commands"`
	Metadata       Metadata           `yaml:"metadata" json:"metadata"`
}

// StateOf resolves a state alias.
func (d *Descriptor) StateOf(alias string) (State, bool) {
	s, ok := d.States[alias]
	return s, ok
}

// Command returns the named transition.
func (d *Descriptor) Command(name string) (Command, bool) {
	c, ok := d.Commands[name]
	return c, ok
}

// InvariantByName returns the declared invariant with the given name.
func (d *Descriptor) InvariantByName(name string) (Invariant, bool) {
	for _, inv := range d.Invariants {
		if inv.Name == name {
			return inv, true
		}
	}
	return Invariant{}, false
}

// IsTerminal reports whether the alias appears in terminal_states.
func (d *Descriptor) IsTerminal(alias string) bool {
	for _, t := range d.TerminalStates {
		if t == alias {
			return true
		}
	}
	return false
}

// HasRole reports whether the role is declared in metadata.roles.
func (d *Descriptor) HasRole(role string) bool {
	for _, r := range d.Metadata.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasStatus reports whether the status value is declared.
func (d *Descriptor) HasStatus(status string) bool {
	for _, s := range d.Status {
		if s == status {
			return true
		}
	}
	return false
}

// HasStage reports whether the stage value is declared.
func (d *Descriptor) HasStage(stage string) bool {
	for _, s := range d.Stage {
		if s == stage {
			return true
		}
	}
	return false
}

// AliasFor finds the state alias matching a (status, stage) pair.
func (d *Descriptor) AliasFor(status, stage string) (string, bool) {
	for alias, s := range d.States {
		if s.Status == status && s.Stage == stage {
			return alias, true
		}
	}
	return "", false
}
