package session

import (
	"fmt"

	"github.com/sslkit/sslkit-go/pkg/handshake"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/record"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// event stamps e with the session identity and hands it to the logger.
func (s *Session) event(e log.Event) {
	if s.cfg.logger == nil {
		return
	}
	e.Timestamp = s.cfg.clock.Now()
	e.ConnectionID = s.id
	if s.role == version.RoleServer {
		e.LocalRole = log.RoleServer
	} else {
		e.LocalRole = log.RoleClient
	}
	if s.peerAddr != nil {
		e.RemoteAddr = s.peerAddr.String()
	}
	if s.vers != 0 {
		e.Protocol = s.vers.String()
	}
	if s.suite != nil {
		e.CipherSuite = s.suite.Name
	}
	s.cfg.logger.Log(e)
}

func (s *Session) logRecord(dir log.Direction, h record.Header, size int) {
	s.event(log.Event{
		Direction: dir,
		Layer:     log.LayerRecord,
		Category:  log.CategoryMessage,
		Record: &log.RecordEvent{
			ContentType: uint8(h.Type),
			Version:     uint16(h.Version),
			Epoch:       h.Epoch,
			Sequence:    h.Seq,
			Size:        size,
		},
	})
}

func (s *Session) logHandshake(dir log.Direction, typ handshake.Type, length int, seq uint16, retransmit bool) {
	s.event(log.Event{
		Direction: dir,
		Layer:     log.LayerHandshake,
		Category:  log.CategoryMessage,
		Handshake: &log.HandshakeEvent{
			Type:       uint8(typ),
			Name:       typ.String(),
			Length:     length,
			MessageSeq: seq,
			Retransmit: retransmit,
		},
	})
}

func (s *Session) logAlert(dir log.Direction, level record.AlertLevel, desc record.Alert) {
	s.event(log.Event{
		Direction: dir,
		Layer:     log.LayerRecord,
		Category:  log.CategoryAlert,
		Alert: &log.AlertEvent{
			Level:       uint8(level),
			Description: uint8(desc),
			Name:        desc.String(),
		},
	})
}

func (s *Session) logError(e status.Error, err error) {
	code := int(e.Code)
	s.event(log.Event{
		Layer:    log.LayerSession,
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerSession,
			Message: err.Error(),
			Code:    &code,
			Context: s.hsContext(),
			Kind:    e.Kind.String(),
		},
	})
	s.diagf(log.SeverityError, "session %s: %s error %d: %v", shortID(s.id), e.Kind, int(e.Code), err)
}

func (s *Session) hsContext() string {
	if s.hs == nil {
		return s.state.String()
	}
	return "handshake " + s.hs.state.String()
}

// diagf delivers a diagnostic to the Logging callback, falling back to the
// Context's logrus logger.
func (s *Session) diagf(sev log.Severity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if fn := s.cfg.callbacks.Logging(); fn != nil {
		fn(sev, msg)
		return
	}
	if s.owner.logrus != nil {
		log.LogrusSink(s.owner.logrus)(sev, msg)
	}
}
