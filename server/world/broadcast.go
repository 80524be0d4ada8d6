package world

import (
	"github.com/google/uuid"
)

// PayloadEncoder turns a packaged chunk into the bytes that are sent to
// players, such as a compressed network packet.
type PayloadEncoder interface {
	EncodePayload(p *Payload) ([]byte, error)
}

// RawEncoder is a PayloadEncoder that returns the packaged data unchanged.
type RawEncoder struct{}

func (RawEncoder) EncodePayload(p *Payload) ([]byte, error) { return p.Data, nil }

// Broadcaster delivers chunk payloads to players. Broadcast is called on the
// simulation goroutine and must not block on network I/O.
type Broadcaster interface {
	Broadcast(p *Payload, players []uuid.UUID)
}

// NopBroadcaster is a Broadcaster that discards every payload.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(*Payload, []uuid.UUID) {}
