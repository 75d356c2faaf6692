package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	KindRequest = "request"
	KindValues  = "values"
	KindSet     = "set"
	KindRemove  = "remove"
	KindClear   = "clear"
)

var ErrUnknownKind = errors.New("protocol: unknown message type")

// Message is one replication protocol message. Only the fields relevant to
// Kind are meaningful.
type Message struct {
	Kind    string
	Key     string
	Value   string
	Entries map[string]string
}

func Request() Message { return Message{Kind: KindRequest} }

func Clear() Message { return Message{Kind: KindClear} }

func Set(key, value string) Message {
	return Message{Kind: KindSet, Key: key, Value: value}
}

func Remove(key string) Message {
	return Message{Kind: KindRemove, Key: key}
}

// Values copies entries so the message stays immutable after construction.
func Values(entries map[string]string) Message {
	out := make(map[string]string, len(entries))
	for key, value := range entries {
		out[key] = value
	}
	return Message{Kind: KindValues, Entries: out}
}

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type setPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Encode renders msg in the wire format shared by every replica:
//
//	{"type":"request"}
//	{"type":"values","payload":{"k":"v"}}
//	{"type":"clear"}
//	{"type":"set","payload":{"key":"k","value":"v"}}
//	{"type":"remove","payload":"k"}
func Encode(msg Message) ([]byte, error) {
	var payload any
	switch msg.Kind {
	case KindRequest, KindClear:
	case KindValues:
		entries := msg.Entries
		if entries == nil {
			entries = map[string]string{}
		}
		payload = entries
	case KindSet:
		payload = setPayload{Key: msg.Key, Value: msg.Value}
	case KindRemove:
		payload = msg.Key
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}

	wire := wireMessage{Type: msg.Kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s payload: %w", msg.Kind, err)
		}
		wire.Payload = raw
	}
	return json.Marshal(wire)
}

func Decode(data []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, fmt.Errorf("protocol: decode message: %w", err)
	}

	msg := Message{Kind: wire.Type}
	switch wire.Type {
	case KindRequest, KindClear:
		return msg, nil
	case KindValues:
		entries := map[string]string{}
		if len(wire.Payload) > 0 {
			if err := json.Unmarshal(wire.Payload, &entries); err != nil {
				return Message{}, fmt.Errorf("protocol: decode values payload: %w", err)
			}
		}
		if entries == nil {
			entries = map[string]string{}
		}
		msg.Entries = entries
	case KindSet:
		var p setPayload
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return Message{}, fmt.Errorf("protocol: decode set payload: %w", err)
		}
		if p.Key == "" {
			return Message{}, fmt.Errorf("protocol: set with empty key")
		}
		msg.Key, msg.Value = p.Key, p.Value
	case KindRemove:
		if err := json.Unmarshal(wire.Payload, &msg.Key); err != nil {
			return Message{}, fmt.Errorf("protocol: decode remove payload: %w", err)
		}
		if msg.Key == "" {
			return Message{}, fmt.Errorf("protocol: remove with empty key")
		}
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, wire.Type)
	}
	return msg, nil
}
