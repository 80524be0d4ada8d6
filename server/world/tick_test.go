package world

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTickQueueOrdering(t *testing.T) {
	var q TickQueue
	base := time.Unix(0, 0)
	for _, ms := range []int64{50, 10, 30} {
		q.Add(base.Add(time.Duration(ms)*time.Millisecond), ms)
	}
	if _, ok := q.PopReady(base.Add(5 * time.Millisecond)); ok {
		t.Fatalf("nothing should be ready before the earliest update")
	}
	var got []int64
	for {
		loc, ok := q.PopReady(base.Add(100 * time.Millisecond))
		if !ok {
			break
		}
		got = append(got, loc)
	}
	if want := []int64{10, 30, 50}; !slices.Equal(got, want) {
		t.Fatalf("expected pop order %v, got %v", want, got)
	}
}

func TestTickQueueTiesKeepInsertionOrder(t *testing.T) {
	var q TickQueue
	at := time.Unix(10, 0)
	for loc := int64(1); loc <= 5; loc++ {
		q.Add(at, loc)
	}
	if next, ok := q.Peek(); !ok || !next.Equal(at) {
		t.Fatalf("expected peek to return %v, got %v", at, next)
	}
	for want := int64(1); want <= 5; want++ {
		loc, ok := q.PopReady(at)
		if !ok || loc != want {
			t.Fatalf("expected %v, got %v (%v)", want, loc, ok)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue")
	}
}

// candidates returns the local positions picked by one sample of a random
// ticker.
func candidates(r *randomTicker) [3][3]uint8 {
	var out [3][3]uint8
	h := r.next()
	for i := 0; i < 3; i, h = i+1, h>>10 {
		out[i] = [3]uint8{uint8(h & 0xf), uint8(h >> 8 & 0xf), uint8(h >> 16 & 0xf)}
	}
	return out
}

func TestRandomTickerDeterministic(t *testing.T) {
	a, b := randomTicker{state: 12345}, randomTicker{state: 12345}
	for i := 0; i < 1000; i++ {
		if ca, cb := candidates(&a), candidates(&b); ca != cb {
			t.Fatalf("sample %v differs: %v != %v", i, ca, cb)
		}
	}
	r := randomTicker{state: 0}
	if v := r.next(); v != 1013904223>>2 {
		t.Fatalf("unexpected first value %v", v)
	}
	if r.state != 1013904223 {
		t.Fatalf("unexpected state %v", r.state)
	}
	// The state wraps around like a 32-bit integer.
	prev := r.state
	r.next()
	if want := prev*3 + 1013904223; r.state != want {
		t.Fatalf("expected state %v, got %v", want, r.state)
	}
}

// sampleWorld runs ticks on a world with a fixed chunk layout and returns the
// positions of all random updates.
func sampleWorld(t *testing.T, seed int32) []BlockPos {
	prov := newMemProvider()
	for _, pos := range []ChunkPos{{0, 0}, {1, 0}} {
		c := NewChunk(pos)
		for y := int16(0); y < 32; y++ {
			for x := uint8(0); x < 16; x++ {
				for z := uint8(0); z < 16; z++ {
					c.SetBlock(x, y, z, 2)
				}
			}
		}
		prov.store(c)
	}
	grass := &recordingBlock{random: true}
	table := NewMapBlockTable()
	table.Register(2, grass)

	clock := newTestClock()
	w := newTestWorld(t, Config{Provider: prov, Blocks: table, RandomSeed: &seed, Clock: clock.Now})
	loadSync(t, w, ChunkPos{0, 0}, false)
	loadSync(t, w, ChunkPos{1, 0}, false)
	for i := 0; i < 20; i++ {
		w.Tick(clock.Now(), time.Second/20)
	}
	var out []BlockPos
	for _, u := range grass.recorded() {
		out = append(out, u.pos)
	}
	return out
}

func TestRandomTickingDeterministic(t *testing.T) {
	a, b := sampleWorld(t, 99), sampleWorld(t, 99)
	// 20 ticks, 2 chunks, 2 slices, 3 candidates.
	if len(a) != 240 {
		t.Fatalf("expected 240 random updates, got %v", len(a))
	}
	if !slices.Equal(a, b) {
		t.Fatalf("random updates differ between worlds with the same seed")
	}
	for _, pos := range a {
		if pos[1] >= 32 {
			t.Fatalf("random update outside of present slices: %v", pos)
		}
	}
}

// hits returns how often the first sample of a random ticker with the seed
// passed picks the target position.
func hits(seed int32, target [3]uint8) int {
	r := randomTicker{state: seed}
	n := 0
	for _, c := range candidates(&r) {
		if c == target {
			n++
		}
	}
	return n
}

func TestRandomTickSingleBlock(t *testing.T) {
	target := [3]uint8{3, 4, 2}
	// Find a seed that picks the target block on the first sample, and one
	// that does not.
	var hit, miss *int32
	for s := int32(0); (hit == nil || miss == nil) && s < 1<<24; s++ {
		seed := s
		if hits(seed, target) == 1 {
			if hit == nil {
				hit = &seed
			}
		} else if hits(seed, target) == 0 && miss == nil {
			miss = &seed
		}
	}
	if hit == nil || miss == nil {
		t.Fatalf("no seeds found")
	}

	for _, tc := range []struct {
		seed *int32
		want int
	}{{hit, 1}, {miss, 0}} {
		prov := newMemProvider()
		c := NewChunk(ChunkPos{5, 5})
		c.SetBlock(target[0], int16(target[1]), target[2], 9)
		prov.store(c)

		hook := &recordingBlock{random: true}
		table := NewMapBlockTable()
		table.Register(9, hook)

		clock := newTestClock()
		w := newTestWorld(t, Config{Provider: prov, Blocks: table, RandomSeed: tc.seed, Clock: clock.Now})
		loadSync(t, w, ChunkPos{5, 5}, false)
		w.Tick(clock.Now(), time.Second/20)

		updates := hook.recorded()
		if len(updates) != tc.want {
			t.Fatalf("seed %v: expected %v updates, got %v", *tc.seed, tc.want, len(updates))
		}
		for _, u := range updates {
			if u.reason != UpdateRandom {
				t.Fatalf("expected random update, got %v", u.reason)
			}
			if want := (BlockPos{83, 4, 82}); u.pos != want {
				t.Fatalf("expected update at %v, got %v", want, u.pos)
			}
		}
	}
}

func TestScheduledUpdates(t *testing.T) {
	hook := &recordingBlock{next: 100 * time.Millisecond}
	table := NewMapBlockTable()
	table.Register(5, hook)
	clock := newTestClock()
	w := newTestWorld(t, Config{Blocks: table, Clock: clock.Now})
	start := clock.Now()

	pos := BlockPos{-3, 64, 20}
	<-w.Exec(func(tx *Tx) {
		if _, err := tx.LoadChunk(context.Background(), pos.ChunkPos(), true); err != nil {
			t.Errorf("load chunk: %v", err)
			return
		}
		if !tx.SetBlock(pos, 5, 0) {
			t.Errorf("expected block to be set")
		}
		tx.ScheduleUpdate(pos, start.Add(50*time.Millisecond))
	})

	w.Tick(start.Add(40*time.Millisecond), 0)
	if n := len(hook.recorded()); n != 0 {
		t.Fatalf("update ran before it was due")
	}
	w.Tick(start.Add(50*time.Millisecond), 0)
	updates := hook.recorded()
	if len(updates) != 1 || updates[0].pos != pos || updates[0].reason != UpdateScheduled {
		t.Fatalf("expected one scheduled update at %v, got %v", pos, updates)
	}
	// The hook asked to be updated again 100ms later.
	w.Tick(start.Add(149*time.Millisecond), 0)
	if n := len(hook.recorded()); n != 1 {
		t.Fatalf("rescheduled update ran early")
	}
	w.Tick(start.Add(150*time.Millisecond), 0)
	if n := len(hook.recorded()); n != 2 {
		t.Fatalf("expected rescheduled update to run, got %v updates", n)
	}
}

func TestScheduledUpdateSkippedAfterEviction(t *testing.T) {
	hook := &recordingBlock{}
	table := NewMapBlockTable()
	table.Register(5, hook)
	clock := newTestClock()
	w := newTestWorld(t, Config{Blocks: table, Clock: clock.Now})
	start := clock.Now()

	pos := BlockPos{1, 1, 1}
	<-w.Exec(func(tx *Tx) {
		if _, err := tx.LoadChunk(context.Background(), pos.ChunkPos(), true); err != nil {
			t.Errorf("load chunk: %v", err)
			return
		}
		tx.SetBlock(pos, 5, 0)
		tx.ScheduleUpdate(pos, start.Add(2*time.Hour))
	})
	w.Tick(start.Add(time.Hour), 0)
	if _, ok := w.Chunk(pos.ChunkPos()); ok {
		t.Fatalf("expected chunk to be evicted")
	}
	w.Tick(start.Add(3*time.Hour), 0)
	if n := len(hook.recorded()); n != 0 {
		t.Fatalf("update of an evicted chunk must be skipped, got %v updates", n)
	}
	if n := w.Metrics().Snapshot().SkippedUpdates; n != 1 {
		t.Fatalf("expected 1 skipped update, got %v", n)
	}
}

type panickingBlock struct{}

func (panickingBlock) RandomTicks() bool { return false }
func (panickingBlock) Update(*Tx, Block, UpdateReason, time.Time, time.Duration) time.Time {
	panic("hook exploded")
}

type panickingEntities struct{ ticks int }

func (p *panickingEntities) Tick(*Tx, time.Time, time.Duration) {
	p.ticks++
	panic("entities exploded")
}

func TestTickRecoversFromPanics(t *testing.T) {
	table := NewMapBlockTable()
	table.Register(6, panickingBlock{})
	good7 := &recordingBlock{}
	table.Register(7, good7)
	ents := &panickingEntities{}
	bc := &recordingBroadcaster{}
	clock := newTestClock()
	w := newTestWorld(t, Config{Blocks: table, Entities: ents, Broadcaster: bc, Clock: clock.Now})
	start := clock.Now()

	bad, good := BlockPos{0, 10, 0}, BlockPos{0, 11, 0}
	<-w.Exec(func(tx *Tx) {
		if _, err := tx.LoadChunk(context.Background(), ChunkPos{0, 0}, true); err != nil {
			t.Errorf("load chunk: %v", err)
			return
		}
		tx.SetBlock(bad, 6, 0)
		tx.SetBlock(good, 7, 0)
		tx.ScheduleUpdate(bad, start)
		tx.ScheduleUpdate(good, start)
	})
	if err := w.SendChunk(ChunkPos{0, 0}, false, uuid.New()); err != nil {
		t.Fatalf("send chunk: %v", err)
	}
	w.Tick(start, 0)
	if n := len(good7.recorded()); n != 1 {
		t.Fatalf("update after a panicking hook should still run, got %v", n)
	}
	if ents.ticks != 1 {
		t.Fatalf("expected entities to be ticked once")
	}
	if got := bc.positions(); len(got) != 1 {
		t.Fatalf("chunks should be sent after a panicking step, got %v", got)
	}
	if n := w.Metrics().Snapshot().Panics; n != 2 {
		t.Fatalf("expected 2 recovered panics, got %v", n)
	}
	if w.CurrentTick() != 1 {
		t.Fatalf("expected tick counter 1, got %v", w.CurrentTick())
	}
}
