package sdhx_hand

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.viam.com/rdk/logging"
)

// BridgeFactory builds and starts a bridge for a config.
type BridgeFactory func(cfg *HandConfig, logger logging.Logger) (*Bridge, error)

func startBridge(cfg *HandConfig, logger logging.Logger) (*Bridge, error) {
	b, err := NewBridge(cfg, logger)
	if err != nil {
		return nil, err
	}
	b.Start()
	return b, nil
}

type bridgeEntry struct {
	bridge   *Bridge
	config   *HandConfig
	refCount int64
}

// BridgeRegistry shares one bridge per serial port between the resources
// configured on it.
type BridgeRegistry struct {
	factory BridgeFactory

	mu      sync.Mutex
	entries map[string]*bridgeEntry
}

func NewBridgeRegistry(factory BridgeFactory) *BridgeRegistry {
	return &BridgeRegistry{
		factory: factory,
		entries: make(map[string]*bridgeEntry),
	}
}

var globalRegistry = NewBridgeRegistry(startBridge)

// Acquire returns the bridge for cfg.Port, creating it on first use. A second
// caller must use a compatible config.
func (r *BridgeRegistry) Acquire(cfg *HandConfig, logger logging.Logger) (*Bridge, error) {
	if _, _, err := cfg.Validate("hand"); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[cfg.Port]; ok {
		if !configsEqual(entry.config, cfg) {
			return nil, fmt.Errorf("conflict: existing bridge on %s uses a different config (refCount: %d)", cfg.Port, entry.refCount)
		}
		entry.refCount++
		return entry.bridge, nil
	}

	b, err := r.factory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge for %s: %w", cfg.Port, err)
	}
	r.entries[cfg.Port] = &bridgeEntry{bridge: b, config: cfg, refCount: 1}
	logger.Infof("created bridge for port %s", cfg.Port)
	return b, nil
}

// Release drops one reference and closes the bridge with the last one.
func (r *BridgeRegistry) Release(ctx context.Context, port string) error {
	r.mu.Lock()
	entry, ok := r.entries[port]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	entry.refCount--
	if entry.refCount > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, port)
	r.mu.Unlock()

	return entry.bridge.Close(ctx)
}

// Status reports the reference count and config summary for port.
func (r *BridgeRegistry) Status(port string) (int64, bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[port]
	if !ok {
		return 0, false, ""
	}
	summary := fmt.Sprintf("Serial: %s@%d, Driver: %s, Joints: %v",
		entry.config.Port, entry.config.Baudrate, entry.config.Driver, entry.config.JointNames)
	return entry.refCount, true, summary
}

// configsEqual compares the settings that shape the bridge itself.
func configsEqual(a, b *HandConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Port == b.Port &&
		a.Baudrate == b.Baudrate &&
		a.Driver == b.Driver &&
		slices.Equal(a.JointNames, b.JointNames) &&
		slices.Equal(a.ServoIDs, b.ServoIDs)
}
