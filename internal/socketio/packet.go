// Package socketio implements the subset of Socket.IO v5 (over Engine.IO v4
// websocket transport) used by the StreamParticles realtime gateway: the
// namespace handshake, named events with a single JSON argument, and
// ping/pong keepalive.
package socketio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Engine.IO packet types, the first byte of every websocket frame.
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineUpgrade byte = '5'
	engineNoop    byte = '6'
)

// PacketType is a Socket.IO packet type, carried inside an Engine.IO message.
type PacketType byte

const (
	PacketConnect      PacketType = 0
	PacketDisconnect   PacketType = 1
	PacketEvent        PacketType = 2
	PacketAck          PacketType = 3
	PacketConnectError PacketType = 4
)

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketEvent:
		return "EVENT"
	case PacketAck:
		return "ACK"
	case PacketConnectError:
		return "CONNECT_ERROR"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
	}
}

// Lifecycle events raised locally, never sent on the wire.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

var (
	ErrEmptyPacket   = errors.New("socketio: empty packet")
	ErrInvalidPacket = errors.New("socketio: invalid packet")
)

// Packet is a decoded Socket.IO packet.
//
// For EVENT packets Event holds the event name and Data the first argument
// (nil when the event has none). For CONNECT and CONNECT_ERROR Data holds the
// packet payload.
type Packet struct {
	Type      PacketType
	Namespace string
	ID        *int
	Event     string
	Data      json.RawMessage
}

// openPayload is the body of the Engine.IO open packet
type openPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// EncodePacket returns the websocket frame (Engine.IO message) for p.
func EncodePacket(p Packet) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(engineMessage)
	buf.WriteString(strconv.Itoa(int(p.Type)))

	if p.Namespace != "" && p.Namespace != "/" {
		buf.WriteString(p.Namespace)
		buf.WriteByte(',')
	}
	if p.ID != nil {
		buf.WriteString(strconv.Itoa(*p.ID))
	}

	switch p.Type {
	case PacketEvent, PacketAck:
		args := []json.RawMessage{}
		if p.Type == PacketEvent {
			name, err := json.Marshal(p.Event)
			if err != nil {
				return nil, err
			}
			args = append(args, name)
		}
		if p.Data != nil {
			args = append(args, p.Data)
		}
		body, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("socketio: failed to encode %s: %w", p.Type, err)
		}
		buf.Write(body)
	default:
		if p.Data != nil {
			buf.Write(p.Data)
		}
	}

	return buf.Bytes(), nil
}

// EncodeEvent returns the frame emitting event with payload on the root namespace.
func EncodeEvent(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("socketio: failed to marshal %q payload: %w", event, err)
		}
		data = b
	}
	return EncodePacket(Packet{Type: PacketEvent, Event: event, Data: data})
}

// DecodePacket decodes a Socket.IO packet, without the leading Engine.IO
// message type byte.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) == 0 {
		return Packet{}, ErrEmptyPacket
	}

	var p Packet
	if b[0] < '0' || b[0] > '6' {
		return p, fmt.Errorf("%w: unknown type %q", ErrInvalidPacket, b[0])
	}
	p.Type = PacketType(b[0] - '0')
	rest := b[1:]

	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			p.Namespace = string(rest)
			rest = nil
		} else {
			p.Namespace = string(rest[:end])
			rest = rest[end+1:]
		}
	} else {
		p.Namespace = "/"
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.Atoi(string(rest[:i]))
		if err != nil {
			return p, fmt.Errorf("%w: bad ack id: %v", ErrInvalidPacket, err)
		}
		p.ID = &id
		rest = rest[i:]
	}

	switch p.Type {
	case PacketEvent, PacketAck:
		var args []json.RawMessage
		if err := json.Unmarshal(rest, &args); err != nil {
			return p, fmt.Errorf("%w: %s payload: %v", ErrInvalidPacket, p.Type, err)
		}
		if p.Type == PacketEvent {
			if len(args) == 0 {
				return p, fmt.Errorf("%w: event without name", ErrInvalidPacket)
			}
			if err := json.Unmarshal(args[0], &p.Event); err != nil {
				return p, fmt.Errorf("%w: event name: %v", ErrInvalidPacket, err)
			}
			args = args[1:]
		}
		if len(args) > 0 {
			p.Data = args[0]
		}
	default:
		if len(rest) > 0 {
			if !json.Valid(rest) {
				return p, fmt.Errorf("%w: %s payload is not JSON", ErrInvalidPacket, p.Type)
			}
			p.Data = json.RawMessage(rest)
		}
	}

	return p, nil
}
