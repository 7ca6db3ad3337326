package services

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/worldland/miner-fleet/internal/domain"
	"github.com/worldland/miner-fleet/internal/fleet"
	"github.com/worldland/miner-fleet/internal/logging"
	"github.com/worldland/miner-fleet/internal/schedule"
)

// AddOutcome is the result of an add request
type AddOutcome string

const (
	AddAccepted       AddOutcome = "accepted"
	AddDuplicate      AddOutcome = "duplicate"
	AddInvalidAddress AddOutcome = "invalid-address"
)

// RemoveOutcome is the result of a remove request
type RemoveOutcome string

const (
	RemoveAccepted     RemoveOutcome = "accepted"
	RemoveNotFound     RemoveOutcome = "not-found"
	RemoveLogoutFailed RemoveOutcome = "logout-failed"
)

// Sessions is the token lifecycle the controller drives on add and remove
type Sessions interface {
	Login(ctx context.Context, address string) (domain.TokenRecord, error)
	Logout(ctx context.Context, address string) error
	Forget(address string)
}

// WindowApplier drives a miner into a window's target state
type WindowApplier interface {
	ApplyWindow(ctx context.Context, address string, w schedule.Window) error
}

// FleetController coordinates fleet membership with the session ledger and
// runs the transition scheduler.
//
// Registry and ledger entries for one miner are added and dropped together
// under membershipMu. No network call is made while it is held.
type FleetController struct {
	registry  *fleet.Registry
	sessions  Sessions
	operator  WindowApplier
	scheduler *schedule.Scheduler
	timeout   time.Duration
	logger    *logging.Logger

	membershipMu sync.Mutex
	removing     map[string]chan struct{} // in-flight removes, guarded by membershipMu
	removeHooks  []func(address string)

	runMu   sync.Mutex
	running bool
	done    chan struct{}
}

// NewFleetController creates a controller. timeout bounds login and logout.
func NewFleetController(
	registry *fleet.Registry,
	sessions Sessions,
	operator WindowApplier,
	scheduler *schedule.Scheduler,
	timeout time.Duration,
	logger *logging.Logger,
) *FleetController {
	return &FleetController{
		registry:  registry,
		sessions:  sessions,
		operator:  operator,
		scheduler: scheduler,
		timeout:   timeout,
		logger:    logger.With("component", "controller"),
		removing:  make(map[string]chan struct{}),
	}
}

// OnRemove registers fn to run after a miner has been removed.
// Must be called before Start.
func (c *FleetController) OnRemove(fn func(address string)) {
	c.removeHooks = append(c.removeHooks, fn)
}

// Start adds every configured miner, each initialised to the window in force
// now, then starts the scheduler. Initialisation failures are logged and the
// miner is kept; the next trigger retries it.
func (c *FleetController) Start(ctx context.Context, addresses []string) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return fmt.Errorf("fleet controller already started")
	}
	c.running = true
	c.done = make(chan struct{})
	c.runMu.Unlock()

	for _, address := range addresses {
		outcome, err := c.AddDevice(ctx, address)
		switch {
		case outcome != AddAccepted:
			c.logger.Warn("configured device skipped", "address", address, "outcome", outcome)
		case err != nil:
			c.logger.Warn("configured device not initialised", "address", address, "error", err)
		}
	}

	c.logger.Info("fleet controller started",
		"devices", c.registry.Len(),
		"window", c.scheduler.Current().String(),
	)

	go func() {
		defer close(c.done)
		c.scheduler.Run(ctx)
	}()
	return nil
}

// AddDevice admits a miner, logs it in and drives it into the current window.
// A miner whose login or initialisation fails stays a member; the error is
// returned alongside AddAccepted. Rejections carry ErrInvalidAddress or
// ErrDuplicateMember.
func (c *FleetController) AddDevice(ctx context.Context, address string) (AddOutcome, error) {
	addr, ok := normalizeAddress(address)
	if !ok {
		return AddInvalidAddress, fmt.Errorf("%q: %w", address, domain.ErrInvalidAddress)
	}

	c.membershipMu.Lock()
	added := c.registry.Add(addr)
	c.membershipMu.Unlock()
	if !added {
		return AddDuplicate, fmt.Errorf("%s: %w", addr, domain.ErrDuplicateMember)
	}
	c.logger.Info("device added", "address", addr)

	loginCtx, cancel := context.WithTimeout(ctx, c.timeout)
	_, err := c.sessions.Login(loginCtx, addr)
	cancel()

	// Removed while the login was in flight
	c.membershipMu.Lock()
	if !c.registry.Contains(addr) {
		c.sessions.Forget(addr)
	}
	c.membershipMu.Unlock()

	if err != nil {
		c.logger.Warn("device login failed", "address", addr, "error", err)
		return AddAccepted, err
	}

	window := c.scheduler.Current()
	if err := c.operator.ApplyWindow(ctx, addr, window); err != nil {
		c.logger.Warn("device initialisation failed", "address", addr, "window", window.String(), "error", err)
		return AddAccepted, fmt.Errorf("initialise %s: %w", addr, err)
	}
	c.logger.Info("device initialised", "address", addr, "window", window.String())
	return AddAccepted, nil
}

// RemoveDevice logs a miner out and drops it from the fleet. When logout
// fails the miner remains a full member and RemoveLogoutFailed is returned
// together with the cause.
func (c *FleetController) RemoveDevice(ctx context.Context, address string) (RemoveOutcome, error) {
	addr, ok := normalizeAddress(address)
	if !ok {
		return RemoveNotFound, nil
	}

	done := c.beginRemove(addr)
	defer done()

	if !c.registry.Contains(addr) {
		return RemoveNotFound, nil
	}

	logoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.sessions.Logout(logoutCtx, addr)
	cancel()
	if err != nil {
		c.membershipMu.Lock()
		member := c.registry.Contains(addr)
		c.membershipMu.Unlock()
		if !member {
			return RemoveNotFound, nil
		}
		c.logger.Warn("device logout failed", "address", addr, "error", err)
		return RemoveLogoutFailed, err
	}

	c.membershipMu.Lock()
	removed := c.registry.Remove(addr)
	c.sessions.Forget(addr)
	c.membershipMu.Unlock()

	if !removed {
		return RemoveNotFound, nil
	}
	c.logger.Info("device removed", "address", addr)
	for _, fn := range c.removeHooks {
		fn(addr)
	}
	return RemoveAccepted, nil
}

// beginRemove waits until no other remove of addr is in flight and claims
// it. The returned func releases the claim.
func (c *FleetController) beginRemove(addr string) func() {
	for {
		c.membershipMu.Lock()
		busy, ok := c.removing[addr]
		if !ok {
			done := make(chan struct{})
			c.removing[addr] = done
			c.membershipMu.Unlock()
			return func() {
				c.membershipMu.Lock()
				delete(c.removing, addr)
				c.membershipMu.Unlock()
				close(done)
			}
		}
		c.membershipMu.Unlock()
		<-busy
	}
}

// ListDevices returns every member with its last acknowledged state
func (c *FleetController) ListDevices() []domain.DeviceStatus {
	return c.registry.Snapshot()
}

// Resync re-applies the window in force now to every member
func (c *FleetController) Resync(ctx context.Context) []schedule.Outcome {
	return c.scheduler.Fire(ctx, c.scheduler.Now())
}

// Stop halts the scheduler and waits for its loop to exit
func (c *FleetController) Stop() {
	c.scheduler.Stop()

	c.runMu.Lock()
	done := c.done
	c.runMu.Unlock()
	if done != nil {
		<-done
	}
	c.logger.Info("fleet controller stopped")
}

// normalizeAddress returns the canonical form of an IPv4 or IPv6 literal
func normalizeAddress(address string) (string, bool) {
	addr, err := netip.ParseAddr(address)
	if err != nil || addr.Zone() != "" {
		return "", false
	}
	return addr.Unmap().String(), true
}
