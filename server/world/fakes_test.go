package world

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testClock is a manually advanced clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// memProvider stores chunks in memory. If gate is non-nil, loads block until
// a value is received from it. If waiting is non-nil, a value is sent on it
// when a load starts waiting on gate, unless it is full.
type memProvider struct {
	mu      sync.Mutex
	chunks  map[ChunkPos]*Chunk
	loads   map[ChunkPos]int
	saves   map[ChunkPos]int
	gate    chan struct{}
	waiting chan struct{}
	panics  bool
	closed  bool
}

func newMemProvider() *memProvider {
	return &memProvider{chunks: make(map[ChunkPos]*Chunk), loads: make(map[ChunkPos]int), saves: make(map[ChunkPos]int)}
}

func (p *memProvider) LoadChunk(pos ChunkPos) (*Chunk, error) {
	if p.gate != nil {
		select {
		case p.waiting <- struct{}{}:
		default:
		}
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads[pos]++
	if p.panics {
		panic("provider exploded")
	}
	c, ok := p.chunks[pos]
	if !ok {
		return nil, ErrChunkNotFound
	}
	return c.Clone(), nil
}

func (p *memProvider) SaveChunk(pos ChunkPos, c *Chunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves[pos]++
	p.chunks[pos] = c
	return nil
}

func (p *memProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *memProvider) store(c *Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks[c.Pos()] = c
}

func (p *memProvider) loadCount(pos ChunkPos) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads[pos]
}

func (p *memProvider) saveCount(pos ChunkPos) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves[pos]
}

func (p *memProvider) stored(pos ChunkPos) (*Chunk, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chunks[pos]
	return c, ok
}

// recordingBroadcaster records every payload broadcast.
type recordingBroadcaster struct {
	mu       sync.Mutex
	payloads []*Payload
	players  [][]uuid.UUID
}

func (b *recordingBroadcaster) Broadcast(p *Payload, players []uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, p)
	b.players = append(b.players, players)
}

func (b *recordingBroadcaster) positions() []ChunkPos {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ChunkPos, 0, len(b.payloads))
	for _, p := range b.payloads {
		out = append(out, p.Pos)
	}
	return out
}

// recordingBlock is a BlockBehaviour that records every update.
type recordingBlock struct {
	mu      sync.Mutex
	random  bool
	next    time.Duration
	updates []blockUpdate
}

type blockUpdate struct {
	pos    BlockPos
	reason UpdateReason
}

func (b *recordingBlock) RandomTicks() bool { return b.random }

func (b *recordingBlock) Update(_ *Tx, bl Block, reason UpdateReason, now time.Time, _ time.Duration) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, blockUpdate{pos: bl.Pos, reason: reason})
	if b.next > 0 {
		return now.Add(b.next)
	}
	return time.Time{}
}

func (b *recordingBlock) recorded() []blockUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]blockUpdate(nil), b.updates...)
}

// newTestWorld creates a World that is only ticked manually and closes it
// when the test finishes.
func newTestWorld(t *testing.T, conf Config) *World {
	t.Helper()
	if conf.TickInterval == 0 {
		conf.TickInterval = -1
	}
	if conf.SaveInterval == 0 {
		conf.SaveInterval = -1
	}
	if conf.RandomSeed == nil {
		seed := int32(1)
		conf.RandomSeed = &seed
	}
	w := conf.New()
	t.Cleanup(func() {
		if err := w.Close(); err != nil {
			t.Fatalf("failed closing world: %v", err)
		}
	})
	return w
}

// loadSync loads a chunk synchronously on the simulation goroutine.
func loadSync(t *testing.T, w *World, pos ChunkPos, generate bool) *Chunk {
	t.Helper()
	var (
		c   *Chunk
		err error
	)
	<-w.Exec(func(tx *Tx) {
		c, err = tx.LoadChunk(t.Context(), pos, generate)
	})
	if err != nil {
		t.Fatalf("load chunk %v: %v", pos, err)
	}
	return c
}

// waitFor ticks the world until cond returns true or the deadline passes.
func waitFor(t *testing.T, w *World, now time.Time, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		w.Tick(now, time.Second/20)
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%v never happened", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
