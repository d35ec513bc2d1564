package jobs

import (
	"encoding/json"
	"sync"
)

// Payload is implemented by every job payload type. Each queue registers the
// concrete kinds it carries, so handlers can type-switch exhaustively
// instead of probing loose maps.
type Payload interface {
	Kind() string
}

// RawPayload wraps a payload whose kind has no registered decoder.
type RawPayload struct {
	Type string
	Data json.RawMessage
}

// Kind returns the original payload kind.
func (p RawPayload) Kind() string { return p.Type }

// Codec decodes payloads by kind.
type Codec struct {
	mu        sync.RWMutex
	factories map[string]func() Payload
}

// NewCodec creates an empty payload codec.
func NewCodec() *Codec {
	return &Codec{factories: make(map[string]func() Payload)}
}

// Register binds a payload kind to its constructor.
// The constructor must return a pointer for JSON decoding.
func (c *Codec) Register(kind string, factory func() Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[kind] = factory
}

// Decode turns an encoded payload back into its registered type.
// Unknown kinds and undecodable data come back as RawPayload.
func (c *Codec) Decode(kind string, data json.RawMessage) Payload {
	c.mu.RLock()
	factory := c.factories[kind]
	c.mu.RUnlock()
	if factory == nil {
		return RawPayload{Type: kind, Data: data}
	}
	payload := factory()
	if err := json.Unmarshal(data, payload); err != nil {
		return RawPayload{Type: kind, Data: data}
	}
	return payload
}
