package world

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brentp/intintmap"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

var (
	// ErrClosed is returned when a chunk is requested from a World that is
	// closing or closed.
	ErrClosed = errors.New("world closed")
	// ErrChunkUnavailable is returned by World.LoadChunkSync if the chunk
	// could not be loaded in time.
	ErrChunkUnavailable = errors.New("chunk unavailable")
)

// World holds the chunks of a voxel world and simulates them. Chunks are
// loaded and saved asynchronously by an I/O worker, while the chunks
// themselves are only ever mutated by the simulation goroutine of the World,
// which runs the transactions passed to Exec and the ticks of the World.
type World struct {
	conf    Config
	metrics *Metrics

	queue        chan transaction
	queueClosing chan struct{}
	queueing     sync.WaitGroup

	o sync.Once

	// cacheMu guards chunks, index, pending and cacheClosed. The chunks
	// themselves are only mutated on the simulation goroutine.
	cacheMu     sync.RWMutex
	chunks      []*Chunk
	index       *intintmap.Map
	pending     map[ChunkPos]*ChunkFuture
	cacheClosed bool

	worker   *worker
	payloads *payloadCache

	// packaging holds chunks waiting to be packaged and sent. packHead is the
	// request at the head of the queue that is waiting for its chunk to load.
	packaging *queue[packageRequest]
	packHead  *packageRequest

	scheduled TickQueue
	random    randomTicker

	// players maps every player in the world to the chunk it is in. It is
	// only used on the simulation goroutine.
	players map[uuid.UUID]ChunkPos

	currentTick atomic.Int64
	tps         atomic.Uint64
	lastTick    atomic.Int64

	closing chan struct{}
	running sync.WaitGroup
}

// transaction is a type that may be added to the transaction queue of a World.
// Its Run method is called when the transaction is taken out of the queue.
type transaction interface {
	Run(w *World)
}

// New creates a new World using a zero Config, meaning chunks are never
// loaded from or saved to storage and new chunks are empty.
func New() *World {
	var conf Config
	return conf.New()
}

// Name returns the name of the World.
func (w *World) Name() string {
	return w.conf.Name
}

// CurrentTick returns the amount of ticks the world performed.
func (w *World) CurrentTick() int64 {
	if w == nil {
		return 0
	}
	return w.currentTick.Load()
}

// TPS returns the current average ticks per second of the world. The value is
// averaged over the last tpsSampleSize ticks and may be zero if no samples have
// been recorded yet.
func (w *World) TPS() float64 {
	return math.Float64frombits(w.tps.Load())
}

// Metrics returns the metrics registry of the World.
func (w *World) Metrics() *Metrics {
	return w.metrics
}

// ScheduledUpdateCount returns the amount of block updates scheduled. It may
// only be called on the simulation goroutine.
func (w *World) ScheduledUpdateCount() int {
	return w.scheduled.Len()
}

// ExecFunc is a function that performs a synchronised transaction on a World.
type ExecFunc func(tx *Tx)

// Exec performs a synchronised transaction f on a World. Exec returns a channel
// that is closed once the transaction is complete.
func (w *World) Exec(f ExecFunc) <-chan struct{} {
	c := make(chan struct{})
	w.queue <- normalTransaction{c: c, f: f}
	return c
}

// handleTransactions continuously reads transactions from the queue and runs
// them.
func (w *World) handleTransactions() {
	for {
		select {
		case tx := <-w.queue:
			tx.Run(w)
		case <-w.queueClosing:
			w.queueing.Done()
			return
		}
	}
}

// Tick performs a single tick of the World at the time passed and blocks
// until it is finished. It is used to drive Worlds created with a negative
// TickInterval.
func (w *World) Tick(now time.Time, delta time.Duration) {
	w.lastTick.Store(now.UnixNano())
	<-w.Exec(func(tx *Tx) {
		w.tick(tx, now, delta)
	})
}

// LoadChunkSync returns the chunk at the position passed, loading it and
// blocking until it is installed if it is not resident. The wait is bounded by
// ctx and Config.ForceLoadTimeout. LoadChunkSync must only be called on the
// simulation goroutine.
func (w *World) LoadChunkSync(ctx context.Context, pos ChunkPos, generate bool) (*Chunk, error) {
	if c, ok := w.Chunk(pos); ok {
		return c, nil
	}
	if w.conf.ForceLoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.conf.ForceLoadTimeout)
		defer cancel()
	}
	f := w.LoadChunk(pos, generate)
	select {
	case <-f.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("load chunk %v: %w: %w", pos, ErrChunkUnavailable, ctx.Err())
	}
	if _, err := f.Result(); err != nil {
		return nil, err
	}
	c := w.settle(f)
	if c == nil {
		return nil, fmt.Errorf("load chunk %v: %w", pos, ErrChunkUnavailable)
	}
	return c, nil
}

// PrepareSpawnRegion loads and generates all chunks within radius chunks of
// the centre passed, blocking until they are resident.
func (w *World) PrepareSpawnRegion(ctx context.Context, centre ChunkPos, radius int32) error {
	var err error
	<-w.Exec(func(tx *Tx) {
		start := w.conf.Clock()
		for x := centre[0] - radius; x <= centre[0]+radius; x++ {
			for z := centre[1] - radius; z <= centre[1]+radius; z++ {
				if _, err = w.LoadChunkSync(ctx, ChunkPos{x, z}, true); err != nil {
					return
				}
			}
		}
		w.conf.Log.Debug("Prepared spawn region.", "X", centre[0], "Z", centre[1], "radius", radius, "duration", w.conf.Clock().Sub(start))
	})
	return err
}

// AddPlayer adds a player to the World at the position passed. All chunks
// within Config.SpawnSendRadius of the position are sent to the player and
// the player is added to the chunk it is in.
func (w *World) AddPlayer(id uuid.UUID, pos mgl64.Vec3) {
	<-w.Exec(func(tx *Tx) {
		centre := ChunkPosFromVec3(pos)
		for _, p := range chunksAround(centre, int32(w.conf.SpawnSendRadius)) {
			w.requestPackage(p, []uuid.UUID{id})
		}
		w.movePlayer(id, centre)
	})
}

// MovePlayerToChunk moves a player already in the World to the chunk passed,
// loading the chunk if needed.
func (w *World) MovePlayerToChunk(id uuid.UUID, pos ChunkPos) {
	<-w.Exec(func(tx *Tx) {
		w.movePlayer(id, pos)
	})
}

// RemovePlayer removes a player from the World and from the chunk it was in.
func (w *World) RemovePlayer(id uuid.UUID) {
	<-w.Exec(func(tx *Tx) {
		pos, ok := w.players[id]
		if !ok {
			return
		}
		delete(w.players, id)
		if c, ok := w.Chunk(pos); ok {
			c.RemovePlayer(id, w.conf.Clock())
		}
	})
}

// PlayerChunk returns the chunk position the player with the UUID passed is
// in. It may only be called on the simulation goroutine.
func (w *World) PlayerChunk(id uuid.UUID) (ChunkPos, bool) {
	pos, ok := w.players[id]
	return pos, ok
}

// movePlayer moves a player to the chunk passed.
func (w *World) movePlayer(id uuid.UUID, pos ChunkPos) {
	if old, ok := w.players[id]; ok {
		if old == pos {
			return
		}
		if c, ok := w.Chunk(old); ok {
			c.RemovePlayer(id, w.conf.Clock())
		}
	}
	w.players[id] = pos
	w.GetOrLoad(pos, true, func(c *Chunk) {
		if p, ok := w.players[id]; ok && p == pos {
			c.AddPlayer(id)
		}
	})
}

// chunksAround returns the positions of all chunks within radius of the centre
// passed, ordered by their distance to the centre.
func chunksAround(centre ChunkPos, radius int32) []ChunkPos {
	positions := make([]ChunkPos, 0, (2*radius+1)*(2*radius+1))
	for d := int32(0); d <= radius; d++ {
		for x := -d; x <= d; x++ {
			for z := -d; z <= d; z++ {
				if max(abs(x), abs(z)) != d {
					continue
				}
				positions = append(positions, ChunkPos{centre[0] + x, centre[1] + z})
			}
		}
	}
	return positions
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// EntitiesWithin returns all entities in resident chunks whose position is
// within the box spanned by min and max, except the entity passed.
func (w *World) EntitiesWithin(min, max mgl64.Vec3, except Entity) []Entity {
	var entities []Entity
	<-w.Exec(func(tx *Tx) {
		for e := range w.entitiesWithin(min, max, except) {
			entities = append(entities, e)
		}
	})
	return entities
}

// entitiesWithin returns an iterator over the entities in resident chunks
// within the box spanned by min and max.
func (w *World) entitiesWithin(min, max mgl64.Vec3, except Entity) iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		minPos, maxPos := ChunkPosFromVec3(min), ChunkPosFromVec3(max)
		for x := minPos[0]; x <= maxPos[0]; x++ {
			for z := minPos[1]; z <= maxPos[1]; z++ {
				c, ok := w.Chunk(ChunkPos{x, z})
				if !ok {
					continue
				}
				for e := range c.Entities() {
					if except != nil && e.RuntimeID() == except.RuntimeID() {
						continue
					}
					if p := e.Position(); !within(p, min, max) {
						continue
					}
					if !yield(e) {
						return
					}
				}
			}
		}
	}
}

func within(p, min, max mgl64.Vec3) bool {
	return p[0] >= min[0] && p[0] <= max[0] &&
		p[1] >= min[1] && p[1] <= max[1] &&
		p[2] >= min[2] && p[2] <= max[2]
}

// SaveChunkAsync queues the chunk passed for saving if it was modified since
// it was last saved. SaveChunkAsync must only be called on the simulation
// goroutine.
func (w *World) SaveChunkAsync(c *Chunk) {
	w.saveChunk(c, w.conf.Clock())
}

// Save queues all modified resident chunks for saving.
func (w *World) Save() {
	<-w.Exec(w.save)
}

// save queues all modified resident chunks for saving.
func (w *World) save(*Tx) {
	if w.conf.ReadOnly {
		return
	}
	w.conf.Log.Debug("Saving chunks in memory to disk...")
	now := w.conf.Clock()
	for _, c := range w.residentChunks() {
		w.saveChunk(c, now)
	}
}

// autoSave runs until the world is closed, periodically saving the chunks
// that were modified.
func (w *World) autoSave() {
	save := &time.Ticker{C: make(<-chan time.Time)}
	if w.conf.SaveInterval > 0 {
		save = time.NewTicker(w.conf.SaveInterval)
		defer save.Stop()
	}
	for {
		select {
		case <-save.C:
			w.Save()
		case <-w.closing:
			w.running.Done()
			return
		}
	}
}

// Close closes the world and saves all chunks currently loaded.
func (w *World) Close() error {
	w.o.Do(w.close)
	return nil
}

// close stops the World from ticking, saves all chunks to the Provider and
// closes the Provider.
func (w *World) close() {
	<-w.Exec(func(tx *Tx) {
		w.save(tx)
		w.cacheMu.Lock()
		w.cacheClosed = true
		w.cacheMu.Unlock()
	})

	close(w.closing)
	w.running.Wait()

	close(w.queueClosing)
	w.queueing.Wait()

	w.conf.Log.Debug("Waiting for pending chunk saves...")
	w.worker.close()

	w.conf.Log.Debug("Closing provider...")
	if err := w.conf.Provider.Close(); err != nil {
		w.conf.Log.Error("close world provider: " + err.Error())
	}
}
