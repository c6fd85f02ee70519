package log

import "time"

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the session (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether this side is the client or the server.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address, when the transport knows it.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Protocol is the negotiated protocol version name.
	Protocol string `cbor:"8,keyasint,omitempty"`

	// CipherSuite is the negotiated suite name.
	CipherSuite string `cbor:"9,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Record      *RecordEvent      `cbor:"10,keyasint,omitempty"`
	Handshake   *HandshakeEvent   `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Alert       *AlertEvent       `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerRecord is the record layer (protected fragments).
	LayerRecord Layer = 0
	// LayerHandshake is the handshake message layer.
	LayerHandshake Layer = 1
	// LayerSession is the session state machine.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerRecord:
		return "RECORD"
	case LayerHandshake:
		return "HANDSHAKE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a record or handshake message.
	CategoryMessage Category = 0
	// CategoryAlert indicates an alert.
	CategoryAlert Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryAlert:
		return "ALERT"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates whether the local endpoint is a client or a server.
type Role uint8

const (
	// RoleClient indicates the connecting side.
	RoleClient Role = 0
	// RoleServer indicates the accepting side.
	RoleServer Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "CLIENT"
	case RoleServer:
		return "SERVER"
	default:
		return "UNKNOWN"
	}
}

// RecordEvent captures a record at the record layer.
type RecordEvent struct {
	// ContentType is the record content type (20-23).
	ContentType uint8 `cbor:"1,keyasint"`

	// Version is the record-layer wire version.
	Version uint16 `cbor:"2,keyasint"`

	// Epoch is the DTLS epoch.
	Epoch uint16 `cbor:"3,keyasint,omitempty"`

	// Sequence is the record sequence number.
	Sequence uint64 `cbor:"4,keyasint"`

	// Size is the fragment length on the wire.
	Size int `cbor:"5,keyasint"`

	// Data is the raw fragment (may be truncated for large records).
	Data []byte `cbor:"6,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"7,keyasint,omitempty"`
}

// HandshakeEvent captures a handshake message.
type HandshakeEvent struct {
	// Type is the handshake message type.
	Type uint8 `cbor:"1,keyasint"`

	// Name is the handshake message name.
	Name string `cbor:"2,keyasint"`

	// Length is the body length.
	Length int `cbor:"3,keyasint"`

	// MessageSeq is the DTLS message sequence number.
	MessageSeq uint16 `cbor:"4,keyasint,omitempty"`

	// Retransmit marks a DTLS flight retransmission.
	Retransmit bool `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures session and handshake lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntitySession indicates a session state change.
	StateEntitySession StateEntity = 0
	// StateEntityHandshake indicates a handshake state change.
	StateEntityHandshake StateEntity = 1
	// StateEntityContext indicates a context state change.
	StateEntityContext StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySession:
		return "SESSION"
	case StateEntityHandshake:
		return "HANDSHAKE"
	case StateEntityContext:
		return "CONTEXT"
	default:
		return "UNKNOWN"
	}
}

// AlertEvent captures a sent or received alert.
type AlertEvent struct {
	// Level is 1 for warning, 2 for fatal.
	Level uint8 `cbor:"1,keyasint"`

	// Description is the alert description code.
	Description uint8 `cbor:"2,keyasint"`

	// Name is the alert description name.
	Name string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the status code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`

	// Kind is the error taxonomy kind.
	Kind string `cbor:"5,keyasint,omitempty"`
}
