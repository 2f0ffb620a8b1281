package message

// Wire protocol: one Envelope per line, body tagged by its "type" field.
// Keeps encoding/decoding isolated from the node and the gossip scheduler.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type Type string

const (
	TypeInit        Type = "init"
	TypeInitOk      Type = "init_ok"
	TypeBroadcast   Type = "broadcast"
	TypeBroadcastOk Type = "broadcast_ok"
	TypeGossip      Type = "gossip"
	TypeGossipOk    Type = "gossip_ok"
	TypeRead        Type = "read"
	TypeReadOk      Type = "read_ok"
	TypeTopology    Type = "topology"
	TypeTopologyOk  Type = "topology_ok"
	TypeEcho        Type = "echo"
	TypeEchoOk      Type = "echo_ok"
	TypeError       Type = "error"
)

var ErrMissingType = errors.New("message: body has no type")

// Body is one variant of the tagged union carried in an Envelope.
type Body interface {
	Kind() Type
}

// Envelope is the unit exchanged on the bus, in both directions.
type Envelope struct {
	Src  string
	Dest string
	Body Body
}

type Init struct {
	MsgID   uint64   `json:"msg_id"`
	NodeID  string   `json:"node_id"`
	NodeIDs []string `json:"node_ids"`
}

type InitOk struct {
	InReplyTo uint64 `json:"in_reply_to"`
}

type Broadcast struct {
	MsgID   uint64 `json:"msg_id"`
	Message uint64 `json:"message"`
}

type BroadcastOk struct {
	MsgID     uint64 `json:"msg_id"`
	InReplyTo uint64 `json:"in_reply_to"`
}

// Gossip carries values between peers. It has no msg_id: the ack echoes the
// values instead of correlating by id.
type Gossip struct {
	Messages []uint64 `json:"messages"`
}

type GossipOk struct {
	Messages []uint64 `json:"messages"`
}

type Read struct {
	MsgID uint64 `json:"msg_id"`
}

type ReadOk struct {
	MsgID     uint64   `json:"msg_id"`
	InReplyTo uint64   `json:"in_reply_to"`
	Messages  []uint64 `json:"messages"`
}

type Topology struct {
	MsgID    uint64              `json:"msg_id"`
	Topology map[string][]string `json:"topology"`
}

type TopologyOk struct {
	MsgID     uint64 `json:"msg_id"`
	InReplyTo uint64 `json:"in_reply_to"`
}

type Echo struct {
	MsgID uint64          `json:"msg_id"`
	Echo  json.RawMessage `json:"echo"`
}

type EchoOk struct {
	MsgID     uint64          `json:"msg_id"`
	InReplyTo uint64          `json:"in_reply_to"`
	Echo      json.RawMessage `json:"echo"`
}

type Error struct {
	InReplyTo uint64 `json:"in_reply_to"`
	Code      uint64 `json:"code"`
	Text      string `json:"text"`
}

// Unknown holds a body whose type this node does not speak.
type Unknown struct {
	Type Type
	Raw  json.RawMessage
}

func (Init) Kind() Type        { return TypeInit }
func (InitOk) Kind() Type      { return TypeInitOk }
func (Broadcast) Kind() Type   { return TypeBroadcast }
func (BroadcastOk) Kind() Type { return TypeBroadcastOk }
func (Gossip) Kind() Type      { return TypeGossip }
func (GossipOk) Kind() Type    { return TypeGossipOk }
func (Read) Kind() Type        { return TypeRead }
func (ReadOk) Kind() Type      { return TypeReadOk }
func (Topology) Kind() Type    { return TypeTopology }
func (TopologyOk) Kind() Type  { return TypeTopologyOk }
func (Echo) Kind() Type        { return TypeEcho }
func (EchoOk) Kind() Type      { return TypeEchoOk }
func (Error) Kind() Type       { return TypeError }
func (u Unknown) Kind() Type   { return u.Type }

type wireEnvelope struct {
	Src  string          `json:"src"`
	Dest string          `json:"dest"`
	Body json.RawMessage `json:"body"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Body == nil {
		return nil, ErrMissingType
	}
	body, err := marshalBody(e.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Src: e.Src, Dest: e.Dest, Body: body})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	body, err := unmarshalBody(w.Body)
	if err != nil {
		return err
	}
	*e = Envelope{Src: w.Src, Dest: w.Dest, Body: body}
	return nil
}

// Parse decodes a single line from the bus.
func Parse(line []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	return e, nil
}

// Format encodes an envelope as one line, without the trailing newline.
func Format(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// marshalBody splices the type tag in front of the variant's own fields.
func marshalBody(b Body) (json.RawMessage, error) {
	if u, ok := b.(Unknown); ok {
		if len(u.Raw) > 0 {
			return u.Raw, nil
		}
		return json.Marshal(map[string]Type{"type": u.Type})
	}
	fields, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", b.Kind(), err)
	}
	if len(fields) < 2 || fields[0] != '{' {
		return nil, fmt.Errorf("marshal %T body: encoded as %.32s, not an object", b, fields)
	}
	tag, _ := json.Marshal(b.Kind())

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if inner := bytes.TrimSpace(fields[1 : len(fields)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func unmarshalBody(raw json.RawMessage) (Body, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if head.Type == "" {
		return nil, ErrMissingType
	}

	switch head.Type {
	case TypeInit:
		return decode[Init](raw)
	case TypeInitOk:
		return decode[InitOk](raw)
	case TypeBroadcast:
		return decode[Broadcast](raw)
	case TypeBroadcastOk:
		return decode[BroadcastOk](raw)
	case TypeGossip:
		return decode[Gossip](raw)
	case TypeGossipOk:
		return decode[GossipOk](raw)
	case TypeRead:
		return decode[Read](raw)
	case TypeReadOk:
		return decode[ReadOk](raw)
	case TypeTopology:
		return decode[Topology](raw)
	case TypeTopologyOk:
		return decode[TopologyOk](raw)
	case TypeEcho:
		return decode[Echo](raw)
	case TypeEchoOk:
		return decode[EchoOk](raw)
	case TypeError:
		return decode[Error](raw)
	default:
		return Unknown{Type: head.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decode[T Body](raw json.RawMessage) (Body, error) {
	var b T
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", b.Kind(), err)
	}
	return b, nil
}
