package notify

import "regexp"

// Pattern is a compiled secret-masking rule.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// Masker redacts credential-shaped substrings before a notification leaves
// the process.
type Masker struct {
	patterns []Pattern
}

// NewMasker builds a masker with the built-in pattern set.
func NewMasker() *Masker {
	return &Masker{patterns: []Pattern{
		{
			Name:        "bearer_token",
			Regex:       regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`),
			Replacement: "Bearer ***",
		},
		{
			Name:        "api_key",
			Regex:       regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{8,}`),
			Replacement: "sk-***",
		},
		{
			Name:        "github_token",
			Regex:       regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{16,}`),
			Replacement: "gh*_***",
		},
		{
			Name:        "discord_webhook",
			Regex:       regexp.MustCompile(`https://discord(?:app)?\.com/api/webhooks/\S+`),
			Replacement: "https://discord.com/api/webhooks/***",
		},
		{
			Name:        "env_credential",
			Regex:       regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:TOKEN|SECRET|PASSWORD|APIKEY|API_KEY)[A-Z0-9_]*)=\S+`),
			Replacement: "$1=***",
		},
	}}
}

// Mask applies every pattern to s. A nil masker passes text through.
func (m *Masker) Mask(s string) string {
	if m == nil {
		return s
	}
	for _, p := range m.patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// MaskNotification returns a copy with title, body, and field values masked.
func (m *Masker) MaskNotification(n Notification) Notification {
	if m == nil {
		return n
	}
	n.Title = m.Mask(n.Title)
	n.Body = m.Mask(n.Body)
	if len(n.Fields) > 0 {
		fields := make([]Field, len(n.Fields))
		for i, f := range n.Fields {
			f.Value = m.Mask(f.Value)
			fields[i] = f
		}
		n.Fields = fields
	}
	return n
}
