package sdhx_hand

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	goutils "go.viam.com/utils"
)

// commandWatchdog calls tick on a fixed period while running. stop never
// waits for the loop; a tick already in flight sees its context cancelled.
type commandWatchdog struct {
	clock  clock.Clock
	period time.Duration
	tick   func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newCommandWatchdog(clk clock.Clock, period time.Duration, tick func(ctx context.Context)) *commandWatchdog {
	return &commandWatchdog{clock: clk, period: period, tick: tick}
}

func (w *commandWatchdog) start() {
	if w.period <= 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	ticker := w.clock.Ticker(w.period)
	goutils.PanicCapturingGo(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				w.tick(ctx)
			}
		}
	})
}

func (w *commandWatchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *commandWatchdog) running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}
