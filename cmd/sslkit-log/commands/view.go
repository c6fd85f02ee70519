// Package commands implements the sslkit-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/sslkit/sslkit-go/pkg/handshake"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/record"
)

const timeFormat = "2006-01-02T15:04:05.000000Z"

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
}

func (f ViewFilter) logFilter() log.Filter {
	return log.Filter{Layer: f.Layer, Direction: f.Direction, Category: f.Category}
}

// eventLabel names the payload of an event.
func eventLabel(event log.Event) string {
	switch {
	case event.Record != nil:
		return record.ContentType(event.Record.ContentType).String()
	case event.Handshake != nil:
		if event.Handshake.Name != "" {
			return event.Handshake.Name
		}
		return handshake.Type(event.Handshake.Type).String()
	case event.StateChange != nil:
		return "State"
	case event.Alert != nil:
		return "Alert"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] ROLE DIRECTION LAYER label
	ts := event.Timestamp.UTC().Format(timeFormat)
	fmt.Fprintf(w, "%s [conn:%s] %s %-3s %s %s\n",
		ts, shortenConnID(event.ConnectionID), event.LocalRole, event.Direction, event.Layer, eventLabel(event))

	if event.Protocol != "" {
		fmt.Fprintf(w, "  Protocol: %s", event.Protocol)
		if event.CipherSuite != "" {
			fmt.Fprintf(w, "  Suite: %s", event.CipherSuite)
		}
		fmt.Fprintln(w)
	}

	switch {
	case event.Record != nil:
		formatRecordDetails(w, event.Record)
	case event.Handshake != nil:
		formatHandshakeDetails(w, event.Handshake)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Alert != nil:
		formatAlertDetails(w, event.Alert)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatRecordDetails(w io.Writer, rec *log.RecordEvent) {
	fmt.Fprintf(w, "  Version: 0x%04x  Epoch: %d  Seq: %d\n", rec.Version, rec.Epoch, rec.Sequence)
	fmt.Fprintf(w, "  Size: %d bytes\n", rec.Size)
	if len(rec.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(rec.Data))
		if rec.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatHandshakeDetails(w io.Writer, hs *log.HandshakeEvent) {
	fmt.Fprintf(w, "  Type: %d  Length: %d\n", hs.Type, hs.Length)
	if hs.MessageSeq > 0 || hs.Retransmit {
		fmt.Fprintf(w, "  MessageSeq: %d", hs.MessageSeq)
		if hs.Retransmit {
			fmt.Fprint(w, " (retransmit)")
		}
		fmt.Fprintln(w)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatAlertDetails(w io.Writer, a *log.AlertEvent) {
	level := "warning"
	if record.AlertLevel(a.Level) == record.AlertLevelFatal {
		level = "fatal"
	}
	name := a.Name
	if name == "" {
		name = record.Alert(a.Description).String()
	}
	fmt.Fprintf(w, "  Level: %s  Description: %s (%d)\n", level, name, a.Description)
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d", *err.Code)
		if err.Kind != "" {
			fmt.Fprintf(w, " (%s)", err.Kind)
		}
		fmt.Fprintln(w)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "record":
		return log.LayerRecord, nil
	case "handshake":
		return log.LayerHandshake, nil
	case "session":
		return log.LayerSession, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be record, handshake, or session)", s)
	}
}

// ParseDirectionFlag parses a direction string (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "alert":
		return log.CategoryAlert, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, alert, state, or error)", s)
	}
}

// ParseRoleFlag parses a role string (case-insensitive).
func ParseRoleFlag(s string) (log.Role, error) {
	switch strings.ToLower(s) {
	case "client":
		return log.RoleClient, nil
	case "server":
		return log.RoleServer, nil
	default:
		return 0, fmt.Errorf("invalid role: %s (must be client or server)", s)
	}
}

// RunView writes every matching event in path to output.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.logFilter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
}
