package delegate

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Settings are the per-command knobs carried in ScheduledCommand metadata.
// Each invocation override replaces the built-in argv template for one
// action; {id} placeholders are expanded at dispatch.
type Settings struct {
	InvocationIntake    []string `mapstructure:"invocation_intake"`
	InvocationPlan      []string `mapstructure:"invocation_plan"`
	InvocationImplement []string `mapstructure:"invocation_implement"`
}

// Invocation returns the override argv for an action, or nil.
func (s Settings) Invocation(action string) []string {
	switch action {
	case ActionIntake:
		return s.InvocationIntake
	case ActionPlan:
		return s.InvocationPlan
	case ActionImplement:
		return s.InvocationImplement
	}
	return nil
}

// DecodeSettings reads the recognized metadata keys, tolerating stringly
// typed values. Unknown keys are ignored.
func DecodeSettings(meta map[string]any) (Settings, error) {
	var s Settings
	if len(meta) == 0 {
		return s, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return s, fmt.Errorf("build metadata decoder: %w", err)
	}
	if err := dec.Decode(meta); err != nil {
		return s, fmt.Errorf("decode command metadata: %w", err)
	}
	return s, nil
}
