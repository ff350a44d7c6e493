package sdhx_hand

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// deadlineSupervisor is a re-armable one-shot timer. Each arm gets a new
// generation so a callback that lost the race with stop or a re-arm can tell
// it is stale.
type deadlineSupervisor struct {
	clock clock.Clock
	fire  func(gen uint64)

	mu    sync.Mutex
	timer *clock.Timer
	gen   uint64
}

func newDeadlineSupervisor(clk clock.Clock, fire func(gen uint64)) *deadlineSupervisor {
	return &deadlineSupervisor{clock: clk, fire: fire}
}

func (d *deadlineSupervisor) arm(after time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(after, func() {
		d.fire(gen)
	})
}

func (d *deadlineSupervisor) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.gen++
}

func (d *deadlineSupervisor) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// current reports whether gen belongs to the armed timer.
func (d *deadlineSupervisor) current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil && d.gen == gen
}

func (d *deadlineSupervisor) armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
