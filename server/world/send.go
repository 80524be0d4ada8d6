package world

import (
	"context"

	"github.com/google/uuid"
)

// packageRequest is a request to package a chunk and send it to players.
type packageRequest struct {
	pos ChunkPos
	// players are the players to send the chunk to. If empty, the chunk is
	// sent to the players in it.
	players []uuid.UUID
	// pinned is the chunk the request was made for if it was resident at
	// the time. The chunk is not evicted until the request was handled.
	pinned *Chunk
	future *ChunkFuture
}

// SendChunk packages the chunk at the position passed and sends it to the
// players passed, or to the players in the chunk if none are passed. If sync
// is false, the chunk is sent at the end of the next tick, loading it first if
// needed, and SendChunk may be called from any goroutine. Chunks sent this way
// are delivered in the order in which they were requested. If sync is true,
// the chunk is loaded, packaged and sent immediately, and SendChunk must be
// called on the simulation goroutine.
func (w *World) SendChunk(pos ChunkPos, sync bool, players ...uuid.UUID) error {
	if !sync {
		w.requestPackage(pos, players)
		return nil
	}
	c, err := w.LoadChunkSync(context.Background(), pos, true)
	if err != nil {
		return err
	}
	return w.sendPayload(c, players)
}

// requestPackage adds a request to package a chunk to the end of the
// packaging queue.
func (w *World) requestPackage(pos ChunkPos, players []uuid.UUID) {
	req := packageRequest{pos: pos, players: players}
	w.cacheMu.RLock()
	if c, ok := w.residentChunk(pos); ok {
		c.inflight.Add(1)
		req.pinned = c
	}
	w.cacheMu.RUnlock()
	w.packaging.push(req)
}

// drainPackaging handles the requests in the packaging queue in order. If the
// chunk of the request at the head of the queue is not resident, it is loaded
// and the queue is not drained further until the load finished.
func (w *World) drainPackaging() {
	for {
		var req packageRequest
		if w.packHead != nil {
			req, w.packHead = *w.packHead, nil
		} else {
			var ok bool
			if req, ok = w.packaging.tryPop(); !ok {
				return
			}
		}
		c, ok := w.Chunk(req.pos)
		if !ok {
			if c, ok = w.awaitPackageChunk(&req); !ok {
				if req.future != nil {
					// Still loading: retry the request next tick.
					w.packHead = &req
					return
				}
				continue
			}
		}
		if err := w.sendPayload(c, req.players); err != nil {
			w.conf.Log.Error(err.Error(), "X", req.pos[0], "Z", req.pos[1])
		}
		if req.pinned != nil {
			req.pinned.inflight.Add(-1)
		}
	}
}

// awaitPackageChunk checks if the chunk of a request whose chunk is not
// resident finished loading. If no load was requested yet, it is requested. If
// the load failed, req.future is set to nil and false is returned.
func (w *World) awaitPackageChunk(req *packageRequest) (*Chunk, bool) {
	if req.pinned != nil {
		req.pinned.inflight.Add(-1)
		req.pinned = nil
	}
	if req.future == nil {
		req.future = w.LoadChunk(req.pos, true)
	}
	select {
	case <-req.future.Done():
	default:
		return nil, false
	}
	if _, err := req.future.Result(); err != nil {
		w.conf.Log.Warn("send chunk: dropped request: "+err.Error(), "X", req.pos[0], "Z", req.pos[1])
		req.future = nil
		return nil, false
	}
	w.settle(req.future)
	if c, ok := w.Chunk(req.pos); ok {
		return c, true
	}
	// Settled earlier and evicted since: load it again.
	req.future = w.LoadChunk(req.pos, true)
	return nil, false
}

// sendPayload packages the chunk passed if it has no up-to-date payload and
// broadcasts the payload to the players passed, or to the players in the
// chunk if none are passed.
func (w *World) sendPayload(c *Chunk, players []uuid.UUID) error {
	p, ok := c.CachedPayload()
	if ok {
		w.metrics.inc(metricPayloadHits)
	} else {
		var err error
		if p, err = c.Package(w.conf.Encoder); err != nil {
			return err
		}
		w.metrics.incPackaged(c.pos)
	}
	w.payloads.touch(c)

	if len(players) == 0 {
		players = c.Players()
	}
	if len(players) == 0 {
		return nil
	}
	w.conf.Broadcaster.Broadcast(p, players)
	return nil
}
