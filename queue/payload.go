package queue

import (
	"encoding/json"

	"github.com/parcelforge/conveyor/errors"
)

// Payload is the invocation parameter mapping: string keys to nullable
// string values, serialized as a compact JSON object. Round-trips are
// stable: keys preserved, nulls preserved, values are literal strings.
type Payload map[string]*string

// NewPayload builds a payload from plain string pairs.
func NewPayload(pairs map[string]string) Payload {
	p := make(Payload, len(pairs))
	for k, v := range pairs {
		value := v
		p[k] = &value
	}
	return p
}

// Set assigns a non-null value.
func (p Payload) Set(key, value string) {
	p[key] = &value
}

// SetNull assigns an explicit null value.
func (p Payload) SetNull(key string) {
	p[key] = nil
}

// Get returns the value for key. ok is false when the key is absent or
// its value is null.
func (p Payload) Get(key string) (value string, ok bool) {
	v, present := p[key]
	if !present || v == nil {
		return "", false
	}
	return *v, true
}

// Clone returns a deep copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		if v == nil {
			out[k] = nil
			continue
		}
		value := *v
		out[k] = &value
	}
	return out
}

// EncodePayload serializes the payload to its wire form. A nil payload
// encodes as the empty string.
func EncodePayload(p Payload) (string, error) {
	if p == nil {
		return "", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode payload")
	}
	return string(data), nil
}

// DecodePayload parses the wire form. Empty input yields a nil payload.
func DecodePayload(data string) (Payload, error) {
	if data == "" {
		return nil, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidPayload, err.Error())
	}
	return p, nil
}
