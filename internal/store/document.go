package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandType tags the built-in handlers a scheduled command routes to.
type CommandType string

const (
	TypeTriageAudit CommandType = "triage-audit"
	TypeDelegation  CommandType = "delegation"
	TypeCustom      CommandType = "custom"
)

// Valid reports whether the type is a known variant.
func (t CommandType) Valid() bool {
	switch t {
	case TypeTriageAudit, TypeDelegation, TypeCustom:
		return true
	}
	return false
}

// Priority orders eligible commands within a tick: triage-audit first,
// delegation next, custom last.
func (t CommandType) Priority() int {
	switch t {
	case TypeTriageAudit:
		return 0
	case TypeDelegation:
		return 1
	default:
		return 2
	}
}

// Duration wraps time.Duration with a human-readable JSON form ("15m", "6h").
// Bare numbers decode as seconds for forward compatibility.
type Duration time.Duration

// MarshalJSON renders the duration as its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("parse duration: want string or number, got %s", string(data))
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Timestamp is a time.Time persisted as RFC3339 in UTC.
type Timestamp struct {
	time.Time
}

// At builds a Timestamp truncated to whole seconds in UTC.
func At(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Second)}
}

// MarshalJSON renders RFC3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// UnmarshalJSON parses RFC3339 (fractional seconds tolerated).
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// Command is a persisted recurring job configuration.
type Command struct {
	CommandID  string         `json:"command_id"`
	Type       CommandType    `json:"command_type"`
	Interval   Duration       `json:"interval"`
	Invocation []string       `json:"invocation,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// CommandRun is one immutable execution record.
type CommandRun struct {
	CommandID     string    `json:"command_id"`
	StartedAt     Timestamp `json:"started_at"`
	FinishedAt    Timestamp `json:"finished_at"`
	ExitCode      int       `json:"exit_code"`
	StdoutExcerpt string    `json:"stdout_excerpt,omitempty"`
	StderrExcerpt string    `json:"stderr_excerpt,omitempty"`
	Note          string    `json:"note,omitempty"`
}

// InFlight is the store-resident claim preventing overlapping runs.
type InFlight struct {
	PID       int       `json:"pid"`
	StartedAt Timestamp `json:"started_at"`
}

// historyLimit bounds the per-command run ring.
const historyLimit = 50

// State is the mutable scheduler bookkeeping subtree.
type State struct {
	LastRunAt         map[string]Timestamp    `json:"last_run_at"`
	LastAuditAtByItem map[string]Timestamp    `json:"last_audit_at_by_item"`
	InFlight          map[string]InFlight     `json:"in_flight"`
	History           map[string][]CommandRun `json:"history"`

	extra map[string]json.RawMessage
}

// Document is the SchedulerStore file contents. Unknown keys read from disk
// are carried through Save untouched, at both the document and state levels.
type Document struct {
	Commands        map[string]Command `json:"commands"`
	State           State              `json:"state"`
	LastGlobalStart *Timestamp         `json:"last_global_start_ts"`

	extra map[string]json.RawMessage
}

// NewDocument returns an empty document with all subtrees initialized.
func NewDocument() *Document {
	doc := &Document{}
	doc.ensure()
	return doc
}

func (d *Document) ensure() {
	if d.Commands == nil {
		d.Commands = make(map[string]Command)
	}
	if d.State.LastRunAt == nil {
		d.State.LastRunAt = make(map[string]Timestamp)
	}
	if d.State.LastAuditAtByItem == nil {
		d.State.LastAuditAtByItem = make(map[string]Timestamp)
	}
	if d.State.InFlight == nil {
		d.State.InFlight = make(map[string]InFlight)
	}
	if d.State.History == nil {
		d.State.History = make(map[string][]CommandRun)
	}
}

// Claim marks command_id as in flight. It reports false when a claim already
// exists.
func (d *Document) Claim(commandID string, pid int, now time.Time) bool {
	d.ensure()
	if _, busy := d.State.InFlight[commandID]; busy {
		return false
	}
	d.State.InFlight[commandID] = InFlight{PID: pid, StartedAt: At(now)}
	return true
}

// Release removes the in-flight claim for command_id.
func (d *Document) Release(commandID string) {
	d.ensure()
	delete(d.State.InFlight, commandID)
}

// SetLastRun records when a command was started.
func (d *Document) SetLastRun(commandID string, t time.Time) {
	d.ensure()
	d.State.LastRunAt[commandID] = At(t)
}

// LastRun returns the last recorded start for a command.
func (d *Document) LastRun(commandID string) (time.Time, bool) {
	ts, ok := d.State.LastRunAt[commandID]
	return ts.Time, ok
}

// SetLastAudit records an audit hand-off for a work item. Entries are
// monotonically non-decreasing: an earlier timestamp never overwrites a
// later one.
func (d *Document) SetLastAudit(itemID string, t time.Time) {
	d.ensure()
	if prev, ok := d.State.LastAuditAtByItem[itemID]; ok && prev.After(t) {
		return
	}
	d.State.LastAuditAtByItem[itemID] = At(t)
}

// LastAudit returns the last audit hand-off time for a work item.
func (d *Document) LastAudit(itemID string) (time.Time, bool) {
	ts, ok := d.State.LastAuditAtByItem[itemID]
	return ts.Time, ok
}

// AppendRun appends a run record, trimming the ring to the most recent
// entries.
func (d *Document) AppendRun(run CommandRun) {
	d.ensure()
	history := append(d.State.History[run.CommandID], run)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	d.State.History[run.CommandID] = history
}

// MarshalJSON writes the known fields plus any unknown keys captured at load.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.extra)+3)
	for k, v := range d.extra {
		out[k] = v
	}
	var err error
	if out["commands"], err = json.Marshal(d.Commands); err != nil {
		return nil, err
	}
	if out["state"], err = json.Marshal(d.State); err != nil {
		return nil, err
	}
	if out["last_global_start_ts"], err = json.Marshal(d.LastGlobalStart); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the known fields and stashes unknown keys for
// round-trip preservation.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		switch key {
		case "commands":
			if err := json.Unmarshal(value, &d.Commands); err != nil {
				return fmt.Errorf("commands: %w", err)
			}
		case "state":
			if err := json.Unmarshal(value, &d.State); err != nil {
				return fmt.Errorf("state: %w", err)
			}
		case "last_global_start_ts":
			if string(value) != "null" {
				var ts Timestamp
				if err := json.Unmarshal(value, &ts); err != nil {
					return fmt.Errorf("last_global_start_ts: %w", err)
				}
				d.LastGlobalStart = &ts
			}
		default:
			if d.extra == nil {
				d.extra = make(map[string]json.RawMessage)
			}
			d.extra[key] = value
		}
	}
	d.ensure()
	return nil
}

// MarshalJSON writes the known subtrees plus unknown keys captured at load.
func (s State) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.extra)+4)
	for k, v := range s.extra {
		out[k] = v
	}
	var err error
	if out["last_run_at"], err = json.Marshal(s.LastRunAt); err != nil {
		return nil, err
	}
	if out["last_audit_at_by_item"], err = json.Marshal(s.LastAuditAtByItem); err != nil {
		return nil, err
	}
	if out["in_flight"], err = json.Marshal(s.InFlight); err != nil {
		return nil, err
	}
	if out["history"], err = json.Marshal(s.History); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the known subtrees and stashes unknown keys.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		switch key {
		case "last_run_at":
			if err := json.Unmarshal(value, &s.LastRunAt); err != nil {
				return fmt.Errorf("last_run_at: %w", err)
			}
		case "last_audit_at_by_item":
			if err := json.Unmarshal(value, &s.LastAuditAtByItem); err != nil {
				return fmt.Errorf("last_audit_at_by_item: %w", err)
			}
		case "in_flight":
			if err := json.Unmarshal(value, &s.InFlight); err != nil {
				return fmt.Errorf("in_flight: %w", err)
			}
		case "history":
			if err := json.Unmarshal(value, &s.History); err != nil {
				return fmt.Errorf("history: %w", err)
			}
		default:
			if s.extra == nil {
				s.extra = make(map[string]json.RawMessage)
			}
			s.extra[key] = value
		}
	}
	return nil
}
