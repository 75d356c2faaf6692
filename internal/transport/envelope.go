package transport

import (
	"bytes"
	"encoding/gob"
	"errors"
)

// ErrClosed is returned when a channel handle is used after Close.
var ErrClosed = errors.New("transport: channel is closed")

// Envelope wraps a frame for transports that multiplex several channel
// names over one connection or echo frames back to their sender.
type Envelope struct {
	Channel string
	Sender  string
	Payload []byte
}

func EncodeEnvelope(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
