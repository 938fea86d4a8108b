package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Opcode selects the control meaning of a frame
type Opcode int

// Gateway opcodes
const (
	OpEvent        Opcode = 0 // Receive/Send: application event
	OpHello        Opcode = 1 // Receive: heartbeat interval and jitter
	OpIdentify     Opcode = 2 // Send: authenticate with a token
	OpReady        Opcode = 3 // Receive: session established, initial snapshot
	OpHeartbeat    Opcode = 4 // Send: heartbeat
	OpHeartbeatAck Opcode = 5 // Receive: heartbeat acknowledged
	OpResume       Opcode = 6 // Send: resume a session
	OpResumed      Opcode = 7 // Receive: session resumed
	OpError        Opcode = 8 // Receive: server-side error with a numeric code
)

// String returns the opcode name
func (o Opcode) String() string {
	switch o {
	case OpEvent:
		return "EVENT"
	case OpHello:
		return "HELLO"
	case OpIdentify:
		return "IDENTIFY"
	case OpReady:
		return "READY"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpHeartbeatAck:
		return "HEARTBEAT_ACK"
	case OpResume:
		return "RESUME"
	case OpResumed:
		return "RESUMED"
	case OpError:
		return "ERROR"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(o)) + ")"
	}
}

// CloseCode is a WebSocket close status used by the gateway
type CloseCode int

// Gateway close codes
const (
	CloseNormalClosure         CloseCode = 1000
	CloseGoingAway             CloseCode = 1001
	CloseAbnormal              CloseCode = 1006 // no close frame, transport dropped
	CloseUnknown               CloseCode = 4000
	CloseInvalidEncoding       CloseCode = 4001
	CloseInvalidPayload        CloseCode = 4002
	CloseDecodeError           CloseCode = 4003
	CloseRateLimited           CloseCode = 4004
	CloseNotAuthenticated      CloseCode = 4005
	CloseInvalidAuthentication CloseCode = 4006
	CloseAlreadyAuthenticated  CloseCode = 4007
	CloseSessionTimedOut       CloseCode = 4008
	CloseIdentifyTimedOut      CloseCode = 4009
	CloseResumeTimedOut        CloseCode = 4010
)

// String returns the close code name
func (c CloseCode) String() string {
	switch c {
	case CloseNormalClosure:
		return "NORMAL_CLOSURE"
	case CloseGoingAway:
		return "GOING_AWAY"
	case CloseAbnormal:
		return "ABNORMAL_CLOSURE"
	case CloseUnknown:
		return "UNKNOWN"
	case CloseInvalidEncoding:
		return "INVALID_ENCODING"
	case CloseInvalidPayload:
		return "INVALID_PAYLOAD"
	case CloseDecodeError:
		return "DECODE_ERROR"
	case CloseRateLimited:
		return "RATE_LIMITED"
	case CloseNotAuthenticated:
		return "NOT_AUTHENTICATED"
	case CloseInvalidAuthentication:
		return "INVALID_AUTHENTICATION"
	case CloseAlreadyAuthenticated:
		return "ALREADY_AUTHENTICATED"
	case CloseSessionTimedOut:
		return "SESSION_TIMED_OUT"
	case CloseIdentifyTimedOut:
		return "IDENTIFY_TIMED_OUT"
	case CloseResumeTimedOut:
		return "RESUME_TIMED_OUT"
	default:
		return strconv.Itoa(int(c))
	}
}

// Resumable reports whether a session closed with this code may be resumed.
// Timeouts, authentication failures, client bugs and normal closures are not.
func (c CloseCode) Resumable() bool {
	switch c {
	case CloseGoingAway, CloseAbnormal, CloseUnknown, CloseRateLimited:
		return true
	default:
		return false
	}
}

// Fatal reports whether reconnecting with the same credentials cannot succeed
func (c CloseCode) Fatal() bool {
	switch c {
	case CloseNotAuthenticated, CloseInvalidAuthentication, CloseAlreadyAuthenticated:
		return true
	default:
		return false
	}
}

// Frame is one protocol message. Event, Data and Seq are only populated for
// application events.
type Frame struct {
	Op    Opcode          `json:"op"`
	Event string          `json:"ev,omitempty"`
	Data  json.RawMessage `json:"dt,omitempty"`
	Seq   *int64          `json:"seq,omitempty"`
}

// NewFrame builds a frame, marshalling data into the payload
func NewFrame(op Opcode, event string, data interface{}) (Frame, error) {
	frame := Frame{Op: op, Event: event}
	if data == nil {
		return frame, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s payload: %w", op, err)
	}
	frame.Data = raw
	return frame, nil
}

// HasPayload reports whether the frame carries a non-null payload
func (f Frame) HasPayload() bool {
	return len(f.Data) > 0 && string(f.Data) != "null"
}

// Codec converts frames to and from their wire representation
type Codec interface {
	Name() string
	Encode(frame Frame) ([]byte, error)
	Decode(data []byte) (Frame, error)
}

// JSONCodec is the textual codec selected by encoding=json
type JSONCodec struct{}

// Name returns the encoding selector value
func (JSONCodec) Name() string {
	return "json"
}

// Encode serializes a frame
func (JSONCodec) Encode(frame Frame) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}

// Decode deserializes a frame
func (JSONCodec) Decode(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	return frame, nil
}

// CodecFor returns the codec for an encoding selector
func CodecFor(encoding string) (Codec, error) {
	switch encoding {
	case "json", "":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported gateway encoding: %s", encoding)
	}
}
