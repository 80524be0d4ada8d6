package world

import (
	"fmt"
	"math"
	"runtime/debug"
	"time"
)

// ticker implements World ticking methods.
type ticker struct {
	interval time.Duration
}

const (
	tpsSampleSize       = 20
	tpsWarningThreshold = 19.0
)

// tickLoop starts ticking the World every interval, loading and evicting
// chunks, updating blocks and entities and sending packaged chunks.
func (t ticker) tickLoop(w *World) {
	tc := time.NewTicker(t.interval)
	defer tc.Stop()
	lastTick := time.Now()
	var (
		durationSum time.Duration
		ticksCount  int
		warned      bool
	)
	for {
		select {
		case <-tc.C:
			tickStart := time.Now()
			duration := tickStart.Sub(lastTick)
			lastTick = tickStart
			if duration > 0 {
				durationSum += duration
				ticksCount++
				if ticksCount >= tpsSampleSize {
					avg := durationSum / time.Duration(ticksCount)
					if avg > 0 {
						tps := 1.0 / avg.Seconds()
						w.tps.Store(math.Float64bits(tps))
						if tps < tpsWarningThreshold {
							if !warned {
								w.conf.Log.Warn("TPS dropped below threshold.", "tps", tps)
								warned = true
							}
						} else if warned {
							warned = false
						}
					} else {
						w.tps.Store(math.Float64bits(0))
					}
					durationSum = 0
					ticksCount = 0
				}
			}
			now := w.conf.Clock()
			delta := time.Duration(now.UnixNano() - w.lastTick.Swap(now.UnixNano()))
			<-w.Exec(func(tx *Tx) {
				w.tick(tx, now, delta)
			})
		case <-w.closing:
			// World is being closed: Stop ticking and get rid of a task.
			w.running.Done()
			return
		}
	}
}

// tick performs a single tick of the World at the time now, delta being the
// time passed since the previous tick. Every step of the tick is isolated:
// a panic in one step is logged and does not prevent the steps after it.
func (w *World) tick(tx *Tx, now time.Time, delta time.Duration) {
	w.currentTick.Add(1)

	w.step("complete loads", w.drainCompletions)
	w.step("evict chunks", func() { w.evictChunks(now) })
	w.step("random ticks", func() { w.tickRandomBlocks(tx, now, delta) })
	w.step("scheduled ticks", func() { w.tickScheduledBlocks(tx, now, delta) })
	w.step("tick entities", func() { w.conf.Entities.Tick(tx, now, delta) })
	w.step("send chunks", w.drainPackaging)
}

// step runs a single step of a tick, recovering from any panic.
func (w *World) step(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.inc(metricPanics)
			w.conf.Log.Error("tick "+name+": panic", "error", fmt.Sprint(r), "tick", w.currentTick.Load(), "stack", string(debug.Stack()))
		}
	}()
	f()
}

// randomTicker picks the blocks updated by random ticking. Its output only
// depends on its initial state and the amount of times it was used.
type randomTicker struct {
	state int32
}

// next advances the state of the ticker and returns a value holding three
// block positions of 10 bits each.
func (r *randomTicker) next() int32 {
	r.state = r.state*3 + 1013904223
	return r.state >> 2
}

// tickRandomBlocks picks three random blocks in every slice of every resident
// chunk and updates the ones that are random-tickable. Absent slices are
// skipped and do not advance the random ticker.
func (w *World) tickRandomBlocks(tx *Tx, now time.Time, delta time.Duration) {
	if w.conf.Blocks == nil {
		return
	}
	for _, c := range w.residentChunks() {
		for i, s := range c.Slices() {
			h := w.random.next()
			for j := 0; j < 3; j, h = j+1, h>>10 {
				x, y, z := uint8(h&0xf), uint8(h>>8&0xf), uint8(h>>16&0xf)

				id := s.Block(x, y, z)
				beh, ok := w.conf.Blocks.Behaviour(id)
				if !ok || !beh.RandomTicks() {
					continue
				}
				pos := BlockPos{int(c.pos[0])<<4 | int(x), i<<4 | int(y), int(c.pos[1])<<4 | int(z)}
				w.metrics.inc(metricRandomUpdates)
				w.updateBlock(tx, beh, Block{Pos: pos, ID: id, Data: s.Data(x, y, z)}, UpdateRandom, now, delta)
			}
		}
	}
}

// tickScheduledBlocks runs every scheduled block update that is due at now.
// Updates of blocks in chunks that are no longer resident are dropped.
// Updates scheduled while draining are not run before the next tick, even if
// they are already due.
func (w *World) tickScheduledBlocks(tx *Tx, now time.Time, delta time.Duration) {
	for n := w.scheduled.Len(); n > 0; n-- {
		loc, ok := w.scheduled.PopReady(now)
		if !ok {
			return
		}
		pos := BlockPosFromHash(loc)
		c, ok := w.Chunk(pos.ChunkPos())
		if !ok || pos.OutOfBounds() {
			w.metrics.inc(metricSkippedUpdates)
			continue
		}
		x, y, z := pos.localPos()
		id := c.Block(x, int16(y), z)
		beh, ok := w.blockBehaviour(id)
		if !ok {
			w.metrics.inc(metricSkippedUpdates)
			continue
		}
		w.metrics.inc(metricScheduledUpdates)
		w.updateBlock(tx, beh, Block{Pos: pos, ID: id, Data: c.Data(x, int16(y), z)}, UpdateScheduled, now, delta)
	}
}

// blockBehaviour looks up the behaviour of a block ID.
func (w *World) blockBehaviour(id uint8) (BlockBehaviour, bool) {
	if w.conf.Blocks == nil {
		return nil, false
	}
	return w.conf.Blocks.Behaviour(id)
}

// updateBlock calls the update hook of a block and schedules another update
// if the hook returns a time after now. Panics in the hook are recovered and
// logged.
func (w *World) updateBlock(tx *Tx, beh BlockBehaviour, b Block, reason UpdateReason, now time.Time, delta time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.inc(metricPanics)
			w.conf.Log.Error("block update: panic", "error", fmt.Sprint(r), "reason", reason.String(), "X", b.Pos[0], "Y", b.Pos[1], "Z", b.Pos[2])
		}
	}()
	if next := beh.Update(tx, b, reason, now, delta); next.After(now) {
		w.scheduled.Add(next, b.Pos.Hash())
	}
}
