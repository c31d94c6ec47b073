package audit

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Defaults for the recognized triage-audit metadata keys.
const (
	DefaultCooldown      = 6 * time.Hour
	DefaultTruncateChars = 65536
)

// Settings are the per-command knobs carried in ScheduledCommand metadata.
type Settings struct {
	AuditCooldownHours float64 `mapstructure:"audit_cooldown_hours"`
	TruncateChars      int     `mapstructure:"truncate_chars"`
	VerifyPRWithGH     *bool   `mapstructure:"verify_pr_with_gh"`
	AuditOnly          bool    `mapstructure:"audit_only"`
}

// Cooldown returns the per-item audit cooldown window.
func (s Settings) Cooldown() time.Duration {
	if s.AuditCooldownHours <= 0 {
		return DefaultCooldown
	}
	return time.Duration(s.AuditCooldownHours * float64(time.Hour))
}

// Truncate returns the comment-body size limit in bytes.
func (s Settings) Truncate() int {
	if s.TruncateChars <= 0 {
		return DefaultTruncateChars
	}
	return s.TruncateChars
}

// Verify resolves the effective PR-verification flag: the metadata value if
// present, the global default otherwise.
func (s Settings) Verify(def bool) bool {
	if s.VerifyPRWithGH != nil {
		return *s.VerifyPRWithGH
	}
	return def
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
