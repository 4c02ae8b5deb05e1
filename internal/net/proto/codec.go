package proto

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Format selects the frame encoding. Text frames carry JSON, binary frames
// carry MessagePack with the same field names.
type Format int

const (
	FormatText Format = iota
	FormatBinary
)

func (f Format) String() string {
	if f == FormatBinary {
		return "msgpack"
	}
	return "json"
}

// ParseFormat maps a query value onto a Format. Unknown values fall back to
// text.
func ParseFormat(value string) Format {
	switch value {
	case "msgpack", "binary":
		return FormatBinary
	default:
		return FormatText
	}
}

// DecodeClientMessage converts a raw websocket payload into a structured
// message.
func DecodeClientMessage(format Format, payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	switch format {
	case FormatBinary:
		dec := msgpack.NewDecoder(bytes.NewReader(payload))
		dec.SetCustomStructTag("json")
		if err := dec.Decode(&msg); err != nil {
			return msg, fmt.Errorf("decode msgpack: %w", err)
		}
	default:
		if err := json.Unmarshal(payload, &msg); err != nil {
			return msg, fmt.Errorf("decode json: %w", err)
		}
	}
	if err := msg.checkVersion(); err != nil {
		return msg, err
	}
	return msg, nil
}

// EncodeClientMessage renders a client message. It is used by test clients
// and tools.
func EncodeClientMessage(format Format, msg ClientMessage) ([]byte, error) {
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	return marshal(format, msg)
}

// Encode renders a server message, stamping its version and type.
func Encode(format Format, msg any) ([]byte, error) {
	return marshal(format, stamp(msg))
}

func marshal(format Format, v any) ([]byte, error) {
	if format != FormatBinary {
		return json.Marshal(v)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode msgpack: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a server message produced by Encode. It is the client
// half of the codec.
func Unmarshal(format Format, payload []byte, v any) error {
	if format != FormatBinary {
		return json.Unmarshal(payload, v)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// PeekType reports the type field of an encoded server message.
func PeekType(format Format, payload []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := Unmarshal(format, payload, &envelope); err != nil {
		return "", err
	}
	return envelope.Type, nil
}

func stamp(msg any) any {
	switch m := msg.(type) {
	case StateSnapshot:
		m.Ver = Version
		if m.Type == "" {
			m.Type = TypeState
		}
		return m
	case HitResult:
		m.Ver = Version
		m.Type = TypeHitResult
		return m
	case TimeSyncReply:
		m.Ver = Version
		m.Type = TypeTimeSyncReply
		return m
	case Heartbeat:
		m.Ver = Version
		m.Type = TypeHeartbeat
		return m
	case CommandReject:
		m.Ver = Version
		m.Type = TypeCommandReject
		return m
	case JoinResponse:
		m.Ver = Version
		return m
	default:
		return msg
	}
}
