package log

import "github.com/sirupsen/logrus"

// LogrusAdapter writes protocol events to a logrus logger. Error events and
// fatal alerts are logged at Error level, everything else at Debug.
type LogrusAdapter struct {
	logger *logrus.Logger
}

// NewLogrusAdapter creates a LogrusAdapter.
func NewLogrusAdapter(logger *logrus.Logger) *LogrusAdapter {
	return &LogrusAdapter{logger: logger}
}

// Log writes the event with its identifying fields.
func (a *LogrusAdapter) Log(event Event) {
	fields := logrus.Fields{
		"conn_id":   event.ConnectionID,
		"direction": event.Direction.String(),
		"layer":     event.Layer.String(),
		"category":  event.Category.String(),
	}
	if event.RemoteAddr != "" {
		fields["remote"] = event.RemoteAddr
	}
	sev, msg := Summarize(event)
	a.logger.WithFields(fields).Log(logrusLevel(sev), msg)
}

// LogrusSink returns a SeverityFunc that writes diagnostics to logger.
func LogrusSink(logger *logrus.Logger) SeverityFunc {
	return func(sev Severity, msg string) {
		logger.Log(logrusLevel(sev), msg)
	}
}

func logrusLevel(sev Severity) logrus.Level {
	switch sev {
	case SeverityError:
		return logrus.ErrorLevel
	case SeverityWarn:
		return logrus.WarnLevel
	case SeverityInfo:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

var _ Logger = (*LogrusAdapter)(nil)
