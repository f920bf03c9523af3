package devices

import "sync/atomic"

// MemPin is an in-memory Pin for hosts, simulators and tests. The value is
// atomic so one context may drive the pin while another samples it. Rising
// edges are counted, which lets a test tally step pulses without sampling
// between every transition.
type MemPin struct {
	value atomic.Bool
	rises atomic.Uint32
}

func NewMemPin() *MemPin {
	return &MemPin{}
}

func (p *MemPin) Get() bool {
	return p.value.Load()
}

func (p *MemPin) Set(value bool) {
	if value {
		p.High()
	} else {
		p.Low()
	}
}

func (p *MemPin) High() {
	if !p.value.Swap(true) {
		p.rises.Add(1)
	}
}

func (p *MemPin) Low() {
	p.value.Store(false)
}

// Rises returns the number of low-to-high transitions seen so far.
func (p *MemPin) Rises() uint32 {
	return p.rises.Load()
}

// ResetRises clears the rising edge counter.
func (p *MemPin) ResetRises() {
	p.rises.Store(0)
}
