package world

import "container/list"

// payloadCache bounds the amount of chunks that keep their packaged payload
// in memory. Chunks that fall off the end of the cache drop their payload and
// are packaged again the next time they are requested. It is only used on
// the simulation goroutine.
type payloadCache struct {
	capacity int
	order    *list.List
	elements map[*Chunk]*list.Element
}

// newPayloadCache returns a payloadCache holding at most capacity payloads. A
// capacity of 0 or lower means the cache is unbounded.
func newPayloadCache(capacity int) *payloadCache {
	return &payloadCache{capacity: capacity, order: list.New(), elements: make(map[*Chunk]*list.Element)}
}

// touch records that the payload of the chunk passed was just used, evicting
// the payload of the least recently used chunk if the cache is full.
func (p *payloadCache) touch(c *Chunk) {
	if e, ok := p.elements[c]; ok {
		p.order.MoveToFront(e)
		return
	}
	p.elements[c] = p.order.PushFront(c)
	if p.capacity <= 0 {
		return
	}
	for p.order.Len() > p.capacity {
		oldest := p.order.Back()
		victim := p.order.Remove(oldest).(*Chunk)
		delete(p.elements, victim)
		victim.dropPayload()
	}
}

// remove drops the payload of the chunk passed from the cache.
func (p *payloadCache) remove(c *Chunk) {
	if e, ok := p.elements[c]; ok {
		p.order.Remove(e)
		delete(p.elements, c)
	}
	c.dropPayload()
}

// len returns the amount of payloads held.
func (p *payloadCache) len() int {
	return p.order.Len()
}
