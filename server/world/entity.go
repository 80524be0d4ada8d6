package world

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Entity is an entity located in a chunk. Chunks only keep references to
// entities; their simulation is done by the EntityManager.
type Entity interface {
	// RuntimeID returns the ID of the entity unique for the lifetime of the
	// server.
	RuntimeID() int64
	// Position returns the current position of the entity.
	Position() mgl64.Vec3
}

// EntityManager ticks the entities of a World.
type EntityManager interface {
	// Tick is called once every tick on the simulation goroutine.
	Tick(tx *Tx, now time.Time, delta time.Duration)
}

// NopEntityManager is an EntityManager that does nothing.
type NopEntityManager struct{}

func (NopEntityManager) Tick(*Tx, time.Time, time.Duration) {}
