// Package pipeline provides the bounded single-producer single-consumer
// ring of motion blocks between the planner and the step actuator. The
// producer appends at the tail and may look back over recent blocks for
// speed planning; the consumer peeks and removes at the head from the tick
// context. No allocation happens after construction.
package pipeline

import (
	"sync/atomic"

	"github.com/cgreening/RBotFirmware/pkg/motion/block"
)

// DefaultLen gives the planner enough lookback for junction planning while
// keeping command latency bounded.
const DefaultLen = 32

// Pipeline is the block ring. put is written only by the producer, get only
// by the consumer; both are read by the other side with atomic loads. The
// counters increase monotonically and are masked into the slot array, so
// Count is simply put-get.
type Pipeline struct {
	slots []block.Block
	mask  uint32
	put   atomic.Uint32
	get   atomic.Uint32
}

// New creates a pipeline with at least the given capacity (rounded up to a
// power of two so the monotonic counters index correctly across wrap).
func New(capacity int) *Pipeline {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	p := &Pipeline{
		slots: make([]block.Block, size),
		mask:  uint32(size - 1),
	}
	for i := range p.slots {
		p.slots[i].Clear()
	}
	return p
}

// Count returns the number of blocks currently buffered.
func (p *Pipeline) Count() int {
	return int(p.put.Load() - p.get.Load())
}

// CanAccept reports whether one more block fits.
func (p *Pipeline) CanAccept() bool {
	return p.SlotsFree() >= 1
}

// SlotsFree returns the number of blocks that can still be appended.
func (p *Pipeline) SlotsFree() int {
	return len(p.slots) - p.Count()
}

// Append copies b into the ring. The slot contents are fully written before
// the put index advances, so a consumer that observes the new index sees a
// complete block. Returns false when full.
func (p *Pipeline) Append(b *block.Block) bool {
	put := p.put.Load()
	if put-p.get.Load() >= uint32(len(p.slots)) {
		return false
	}
	p.slots[put&p.mask] = *b
	p.put.Store(put + 1)
	return true
}

// PeekHead returns the oldest block, the one the actuator executes next, or
// nil when empty. Consumer side.
func (p *Pipeline) PeekHead() *block.Block {
	get := p.get.Load()
	if get == p.put.Load() {
		return nil
	}
	return &p.slots[get&p.mask]
}

// PeekNthFromTail returns the i-th newest block (i=0 is the most recently
// appended) or nil. Producer side, used for planning lookback.
func (p *Pipeline) PeekNthFromTail(i int) *block.Block {
	put := p.put.Load()
	get := p.get.Load()
	if i < 0 || uint32(i) >= put-get {
		return nil
	}
	return &p.slots[(put-1-uint32(i))&p.mask]
}

// RemoveHead drops the oldest block. Consumer side.
func (p *Pipeline) RemoveHead() bool {
	get := p.get.Load()
	if get == p.put.Load() {
		return false
	}
	// The slot is not cleared here: the producer may still be reading it
	// during a planning pass. Slots are cleared on reuse by Append.
	p.get.Store(get + 1)
	return true
}

// Clear drops every block the actuator has not started executing. Producer
// side. The executing head block, if any, is left to finish; callers that
// need a hard abort pause the actuator first.
func (p *Pipeline) Clear() {
	for {
		get := p.get.Load()
		put := p.put.Load()
		if get == put {
			return
		}
		newPut := get
		if p.slots[get&p.mask].IsExecuting() {
			newPut = get + 1
		}
		p.put.Store(newPut)
		// If the consumer finished the head meanwhile, take another pass.
		if p.get.Load() == get {
			return
		}
	}
}
