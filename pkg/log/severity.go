package log

import (
	"fmt"
	"strings"
)

// Severity is the level of a diagnostic message.
type Severity uint8

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity parses a severity name (case-insensitive).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "debug":
		return SeverityDebug, nil
	case "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarn, nil
	case "error":
		return SeverityError, nil
	default:
		return 0, fmt.Errorf("invalid severity: %s (must be debug, info, warn, or error)", s)
	}
}

// SeverityFunc receives diagnostic messages.
type SeverityFunc func(severity Severity, message string)

// SeverityAdapter renders protocol events as one-line diagnostics and passes
// them to a SeverityFunc. Errors and fatal alerts are reported at
// SeverityError, state changes at SeverityInfo, everything else at
// SeverityDebug.
type SeverityAdapter struct {
	fn  SeverityFunc
	min Severity
}

// NewSeverityAdapter creates an adapter delivering events at or above min.
func NewSeverityAdapter(fn SeverityFunc, min Severity) *SeverityAdapter {
	return &SeverityAdapter{fn: fn, min: min}
}

// Log formats the event and delivers it.
func (a *SeverityAdapter) Log(event Event) {
	sev, msg := Summarize(event)
	if sev < a.min {
		return
	}
	a.fn(sev, msg)
}

// Summarize returns the severity and a one-line description of event.
func Summarize(event Event) (Severity, string) {
	prefix := fmt.Sprintf("[%s] %s %s", shortID(event.ConnectionID), event.Direction, event.Layer)
	switch {
	case event.Record != nil:
		r := event.Record
		return SeverityDebug, fmt.Sprintf("%s record type=%d version=0x%04x seq=%d len=%d",
			prefix, r.ContentType, r.Version, r.Sequence, r.Size)
	case event.Handshake != nil:
		h := event.Handshake
		msg := fmt.Sprintf("%s %s len=%d", prefix, h.Name, h.Length)
		if h.Retransmit {
			msg += " (retransmit)"
		}
		return SeverityDebug, msg
	case event.StateChange != nil:
		sc := event.StateChange
		msg := fmt.Sprintf("%s %s %s -> %s", prefix, sc.Entity, sc.OldState, sc.NewState)
		if sc.Reason != "" {
			msg += ": " + sc.Reason
		}
		return SeverityInfo, msg
	case event.Alert != nil:
		sev := SeverityWarn
		if event.Alert.Level == 2 {
			sev = SeverityError
		}
		return sev, fmt.Sprintf("%s alert %s (%d)", prefix, event.Alert.Name, event.Alert.Description)
	case event.Error != nil:
		return SeverityError, fmt.Sprintf("%s %s: %s", prefix, event.Error.Context, event.Error.Message)
	}
	return SeverityDebug, prefix
}

func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// Compile-time interface satisfaction check.
var _ Logger = (*SeverityAdapter)(nil)
