// Package notify formats and delivers chat notifications. Delivery is best
// effort: failures are logged by callers, never fatal to the flow that
// produced the notification.
package notify

import "context"

// Severity drives the embed color and is carried for filtering.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Discord embed colors per severity.
var severityColors = map[Severity]int{
	SeverityInfo:    0x3498db,
	SeveritySuccess: 0x2ecc71,
	SeverityWarning: 0xe67e22,
	SeverityError:   0xe74c3c,
}

// Color returns the embed color for the severity, defaulting to info.
func (s Severity) Color() int {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return severityColors[SeverityInfo]
}

// Field is one name/value pair attached to a notification.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Notification is the transport-independent message shape.
type Notification struct {
	Channel  string   `json:"channel,omitempty"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Fields   []Field  `json:"fields,omitempty"`
	Severity Severity `json:"severity,omitempty"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop swallows notifications; used when no credentials are configured.
type Nop struct{}

// Notify discards the notification.
func (Nop) Notify(context.Context, Notification) error { return nil }

// MaxBodyBytes caps notification bodies.
const MaxBodyBytes = 1000

// Truncate cuts s to at most limit bytes without splitting a UTF-8 rune,
// appending an ellipsis when anything was dropped.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	const ellipsis = "..."
	if limit <= len(ellipsis) {
		return s[:limit]
	}
	cut := limit - len(ellipsis)
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
