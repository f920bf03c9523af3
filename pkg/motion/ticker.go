package motion

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cgreening/RBotFirmware/pkg/motion/block"
)

// Ticker binds an actuator tick function to a periodic timer. On bare-metal
// targets the tick is wired to a hardware timer instead; this binding is
// for hosts and simulation, and takes a clock so tests can drive it
// deterministically.
type Ticker struct {
	clk      clock.Clock
	interval time.Duration
	tick     func()
	stop     chan struct{}
	done     chan struct{}
}

// NewTicker prepares a ticker at the canonical tick interval.
func NewTicker(clk clock.Clock, tick func()) *Ticker {
	return &Ticker{
		clk:      clk,
		interval: time.Duration(block.TickIntervalNs) * time.Nanosecond,
		tick:     tick,
	}
}

// Start launches the tick loop. Ticks are never re-entered: a tick that
// overruns its interval delays the next one.
func (t *Ticker) Start() {
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	ticker := t.clk.Ticker(t.interval)
	go func() {
		defer close(t.done)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.tick()
			}
		}
	}()
}

// Stop halts the tick loop and waits for the in-flight tick to return.
func (t *Ticker) Stop() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.stop = nil
	t.done = nil
}
