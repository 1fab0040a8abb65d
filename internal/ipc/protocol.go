// Package ipc carries the session protocol between the IBus engine process
// and the conversion server.
//
// The protocol is designed for:
// - Request/response pattern, one session per connection
// - Binary efficiency with MessagePack serialization (JSON when FlagJSON is set)
// - Protocol versioning for compatibility
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"henkan/internal/session"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x484b4e31 // "HKN1"
)

// ErrProtocol reports a malformed frame or payload.
var ErrProtocol = errors.New("ipc: protocol error")

// MaxPayload bounds a single frame.
const MaxPayload = 4 * 1024 * 1024

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005

	// Session operations (0x02xx)
	MsgSendKey         MessageType = 0x0200
	MsgSendKeyResp     MessageType = 0x0201
	MsgSendCommand     MessageType = 0x0202
	MsgSendCommandResp MessageType = 0x0203
	MsgSyncData        MessageType = 0x0204
	MsgSyncDataResp    MessageType = 0x0205
	MsgLaunchTool      MessageType = 0x0206
	MsgLaunchToolResp  MessageType = 0x0207

	// Configuration (0x04xx)
	MsgGetConfig     MessageType = 0x0400
	MsgGetConfigResp MessageType = 0x0401
	MsgSetConfig     MessageType = 0x0402
	MsgSetConfigResp MessageType = 0x0403
)

var messageNames = map[MessageType]string{
	MsgPing:            "ping",
	MsgPong:            "pong",
	MsgHandshake:       "handshake",
	MsgHandshakeAck:    "handshake_ack",
	MsgError:           "error",
	MsgSendKey:         "send_key",
	MsgSendKeyResp:     "send_key_resp",
	MsgSendCommand:     "send_command",
	MsgSendCommandResp: "send_command_resp",
	MsgSyncData:        "sync_data",
	MsgSyncDataResp:    "sync_data_resp",
	MsgLaunchTool:      "launch_tool",
	MsgLaunchToolResp:  "launch_tool_resp",
	MsgGetConfig:       "get_config",
	MsgGetConfigResp:   "get_config_resp",
	MsgSetConfig:       "set_config",
	MsgSetConfigResp:   "set_config_resp",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// Header flags
const (
	FlagJSON uint8 = 0x04 // Use JSON instead of MessagePack
)

// Encoding selects the payload serialization.
type Encoding string

const (
	EncodingMsgpack Encoding = "msgpack"
	EncodingJSON    Encoding = "json"
)

// ParseEncoding parses an encoding name. Empty means msgpack.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingMsgpack:
		return EncodingMsgpack, nil
	case EncodingJSON:
		return EncodingJSON, nil
	default:
		return "", fmt.Errorf("unknown encoding %q", s)
	}
}

func (e Encoding) flags() uint8 {
	if e == EncodingJSON {
		return FlagJSON
	}
	return 0
}

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, flags uint8, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     flags,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

func (h *Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	return buf
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	_, err := w.Write(h.marshal())
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("%w: invalid magic number: %x", ErrProtocol, h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("%w: unsupported protocol version: %d", ErrProtocol, h.Version)
	}
	return h, nil
}

// Write writes the whole frame with one Write call.
func (m *Message) Write(w io.Writer) error {
	_, err := w.Write(append(m.Header.marshal(), m.Payload...))
	return err
}

// ReadMessage reads one frame.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("%w: payload too large: %d bytes", ErrProtocol, h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// HandshakeRequest opens a session.
type HandshakeRequest struct {
	ClientName      string `json:"client_name" msgpack:"client_name"`
	ClientVersion   string `json:"client_version" msgpack:"client_version"`
	ProtocolVersion uint8  `json:"protocol_version" msgpack:"protocol_version"`
}

// HandshakeResponse carries the server-assigned connection id.
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version" msgpack:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version" msgpack:"protocol_version"`
	ConnectionID    string `json:"connection_id" msgpack:"connection_id"`
}

type SendKeyRequest struct {
	Key session.KeyEvent `json:"key" msgpack:"key"`
}

type SendCommandRequest struct {
	Command session.SessionCommand `json:"command" msgpack:"command"`
}

// OutputResponse answers SendKey and SendCommand.
type OutputResponse struct {
	Output *session.Output `json:"output" msgpack:"output"`
}

type ConfigResponse struct {
	Config *session.Config `json:"config" msgpack:"config"`
}

type SetConfigRequest struct {
	Config *session.Config `json:"config" msgpack:"config"`
}

type LaunchToolRequest struct {
	Name string `json:"name" msgpack:"name"`
	Arg  string `json:"arg,omitempty" msgpack:"arg,omitempty"`
}

// ErrorResponse is the payload of MsgError.
type ErrorResponse struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// Error codes
const (
	ErrCodeUnknown        = 1
	ErrCodeInvalidRequest = 2
	ErrCodeInternal       = 3
	ErrCodeToolNotFound   = 4
	ErrCodeClosed         = 5
	ErrCodeInvalidConfig  = 6
	ErrCodeNotInitialized = 7
)

// Encode serializes a payload. The returned flags describe the encoding.
func Encode(enc Encoding, v any) ([]byte, uint8, error) {
	if v == nil {
		return nil, enc.flags(), nil
	}
	var (
		data []byte
		err  error
	)
	if enc == EncodingJSON {
		data, err = json.Marshal(v)
	} else {
		data, err = msgpack.Marshal(v)
	}
	return data, enc.flags(), err
}

// Decode deserializes a message payload according to its flags.
func Decode(m *Message, v any) error {
	var err error
	if m.Header.Flags&FlagJSON != 0 {
		err = json.Unmarshal(m.Payload, v)
	} else {
		err = msgpack.Unmarshal(m.Payload, v)
	}
	if err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrProtocol, m.Header.Type, err)
	}
	return nil
}

func encodingOf(m *Message) Encoding {
	if m.Header.Flags&FlagJSON != 0 {
		return EncodingJSON
	}
	return EncodingMsgpack
}

// NewErrorMessage creates an error reply in the request's encoding.
func NewErrorMessage(req *Message, code int, message string) *Message {
	payload, flags, _ := Encode(encodingOf(req), &ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, req.Header.RequestID, flags, payload)
}

// NewResponse creates a reply in the request's encoding.
func NewResponse(req *Message, msgType MessageType, v any) (*Message, error) {
	payload, flags, err := Encode(encodingOf(req), v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, req.Header.RequestID, flags, payload), nil
}

// RemoteError is an error reported by the server.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// Unwrap maps error codes onto session errors so callers can use errors.Is.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case ErrCodeToolNotFound:
		return session.ErrToolNotFound
	case ErrCodeClosed:
		return session.ErrClosed
	case ErrCodeInvalidConfig:
		return session.ErrTypeMismatch
	default:
		return nil
	}
}

// errorCode classifies a session error for the wire.
func errorCode(err error) int {
	switch {
	case errors.Is(err, session.ErrToolNotFound):
		return ErrCodeToolNotFound
	case errors.Is(err, session.ErrClosed):
		return ErrCodeClosed
	case errors.Is(err, session.ErrUnknownField),
		errors.Is(err, session.ErrTypeMismatch),
		errors.Is(err, session.ErrUnknownEnumValue),
		errors.Is(err, session.ErrOutOfRange):
		return ErrCodeInvalidConfig
	default:
		return ErrCodeInternal
	}
}
