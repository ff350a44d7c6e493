package sdhx_hand

import (
	"context"

	"github.com/pkg/errors"
)

// RequestResult answers an init, halt or recover request.
type RequestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (r RequestResult) AsMap() map[string]any {
	return map[string]any{"success": r.Success, "message": r.Message}
}

// Init builds and opens a motor link unless one exists. Must be called without
// the state lock held. A link that fails to open is discarded so init can be
// retried.
func (b *Bridge) Init(ctx context.Context) error {
	b.state.mu.Lock()
	if b.state.link != nil {
		b.state.mu.Unlock()
		return ErrLinkExists
	}
	if b.state.initializing {
		b.state.mu.Unlock()
		return ErrInitInProgress
	}
	b.state.initializing = true
	b.state.mu.Unlock()

	link := b.newLink(b.logger)
	err := link.Init(ctx, b.cfg.linkParams())

	b.state.mu.Lock()
	b.state.initializing = false
	if err == nil && b.isClosed() {
		err = ErrBridgeClosed
	}
	if err != nil {
		b.state.mu.Unlock()
		if cerr := link.Close(); cerr != nil {
			b.logger.Debugf("closing discarded link: %v", cerr)
		}
		return errors.Wrap(err, "initializing motor link")
	}
	defer b.state.mu.Unlock()
	b.state.link = link
	if st := b.state.status; st != nil {
		st.RC = 0
		if st.Flag == FlagError {
			st.Flag = FlagNotInitialized
		}
	}
	b.logger.Infof("motor link initialized on %s", b.cfg.Port)
	return nil
}

// Halt stops the controller. Must be called without the state lock held.
func (b *Bridge) Halt() error {
	b.state.mu.Lock()
	link := b.state.link
	b.state.mu.Unlock()

	if link == nil {
		b.logger.Errorf("halt did not succeed: %v", ErrNoLink)
		return ErrNoLink
	}
	if err := link.Halt(); err != nil {
		b.logger.Errorf("halt did not succeed: %v", err)
		return errors.Wrap(err, "halting controller")
	}
	return nil
}

// Recover rebuilds the link after a hardware error. It succeeds right away
// when there is no error to recover from.
func (b *Bridge) Recover(ctx context.Context) error {
	b.state.mu.Lock()
	link := b.state.link
	switch {
	case b.state.status == nil:
		b.state.mu.Unlock()
		return ErrNotConnected
	case link == nil:
		b.state.mu.Unlock()
		return ErrNoLink
	case !b.state.hasErrorLocked():
		b.state.mu.Unlock()
		return nil
	case !link.IsInitialized():
		b.state.mu.Unlock()
		return ErrLinkNotReady
	}
	b.state.link = nil
	b.state.status.RC = 0
	b.state.mu.Unlock()

	b.logger.Infof("recovering motor link on %s", b.cfg.Port)
	if err := link.Close(); err != nil {
		b.logger.Warnf("error closing motor link during recover: %v", err)
	}
	if err := b.Init(ctx); err != nil {
		return errors.Wrap(err, "recover")
	}
	return nil
}

// InitRequest initializes the controller and opens goal intake.
func (b *Bridge) InitRequest(ctx context.Context) RequestResult {
	b.state.mu.Lock()
	switch {
	case b.state.status == nil:
		b.state.mu.Unlock()
		return RequestResult{Message: ErrNotConnected.Error()}

	case b.state.initializing:
		b.state.mu.Unlock()
		return RequestResult{Message: ErrInitInProgress.Error()}

	case b.state.status.Flag == FlagNotInitialized && b.state.linkStateLocked() != LinkInitialized:
		b.state.mu.Unlock()
		err := b.Init(ctx)

		b.state.mu.Lock()
		b.state.initialized = err == nil
		if err != nil {
			b.state.mu.Unlock()
			b.logger.Warnf("init request failed: %v", err)
			return RequestResult{Message: "not initialized: " + err.Error()}
		}
		b.state.goalIntake = true
		b.state.mu.Unlock()
		return RequestResult{Success: true}

	case !b.state.initialized:
		b.state.goalIntake = true
		b.state.mu.Unlock()
		err := b.Recover(ctx)

		b.state.mu.Lock()
		b.state.initialized = err == nil
		b.state.mu.Unlock()
		if err != nil {
			b.logger.Warnf("restarting controller failed: %v", err)
		}
		return RequestResult{Success: true, Message: "finger already initialized, restarting the controller"}

	default:
		b.state.mu.Unlock()
		return RequestResult{Success: true, Message: "already initialized"}
	}
}

// HaltRequest stops the controller on request.
func (b *Bridge) HaltRequest() RequestResult {
	if !b.connected() {
		return RequestResult{Message: ErrNotConnected.Error()}
	}
	if err := b.Halt(); err != nil {
		return RequestResult{Message: err.Error()}
	}
	return RequestResult{Success: true}
}

// RecoverRequest recovers the controller on request.
func (b *Bridge) RecoverRequest(ctx context.Context) RequestResult {
	if !b.connected() {
		return RequestResult{Message: ErrNotConnected.Error()}
	}
	if err := b.Recover(ctx); err != nil {
		return RequestResult{Message: err.Error()}
	}
	return RequestResult{Success: true}
}

// Lifecycle returns the current lifecycle state.
func (b *Bridge) Lifecycle() LifecycleState {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()
	return b.state.lifecycleLocked()
}

func (b *Bridge) connected() bool {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()
	return b.state.status != nil
}
