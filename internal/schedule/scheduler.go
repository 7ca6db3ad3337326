package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/worldland/miner-fleet/internal/clock"
	"github.com/worldland/miner-fleet/internal/logging"
)

// Lister returns the current fleet membership snapshot
type Lister interface {
	List() []string
}

// Applier drives one miner into a window's target state
type Applier interface {
	ApplyWindow(ctx context.Context, address string, w Window) error
}

// Outcome is the result of applying a window to one miner
type Outcome struct {
	Address string
	Window  Window
	Err     error
}

// Scheduler re-applies the operating table to every fleet member at each
// window start.
type Scheduler struct {
	fleet   Lister
	applier Applier
	clock   clock.Clock
	loc     *time.Location
	logger  *logging.Logger

	// OnFire, if set, receives the outcomes of every trigger
	OnFire func(at time.Time, outcomes []Outcome)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewScheduler creates a scheduler. Trigger instants are computed in loc.
func NewScheduler(fleet Lister, applier Applier, clk clock.Clock, loc *time.Location, logger *logging.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		fleet:   fleet,
		applier: applier,
		clock:   clk,
		loc:     loc,
		logger:  logger.With("component", "scheduler"),
		stopCh:  make(chan struct{}),
	}
}

// Now returns the current time in the scheduler's location
func (s *Scheduler) Now() time.Time {
	return s.clock.Now().In(s.loc)
}

// Current returns the window that applies right now
func (s *Scheduler) Current() Window {
	return WindowAt(s.Now())
}

// Run fires at every window start until ctx is cancelled or Stop is called.
// A trigger that is overtaken by the following one while the process was
// suspended is skipped, not replayed.
func (s *Scheduler) Run(ctx context.Context) {
	var last time.Time
	for {
		now := s.Now()
		// A wall clock slewed back behind the trigger just fired must not re-arm it
		from := now
		if from.Before(last) {
			from = last
		}
		next := NextTrigger(from)
		s.logger.Debug("next trigger armed", "at", next, "window", WindowAt(next).String())

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.clock.After(next.Sub(now)):
		}

		woke := s.Now()
		if !woke.Before(NextTrigger(next)) {
			s.logger.Warn("trigger missed, skipping", "trigger", next, "woke", woke)
			continue
		}
		s.Fire(ctx, next)
		last = next
	}
}

// Fire applies the window starting at at to every miner in the membership
// snapshot taken now. Miners are driven concurrently and a failure on one
// never affects another. Outcomes are returned in snapshot order.
func (s *Scheduler) Fire(ctx context.Context, at time.Time) []Outcome {
	window := WindowAt(at.In(s.loc))
	addresses := s.fleet.List()

	outcomes := make([]Outcome, len(addresses))
	var wg sync.WaitGroup
	for i, address := range addresses {
		wg.Add(1)
		go func(i int, address string) {
			defer wg.Done()
			err := s.applier.ApplyWindow(ctx, address, window)
			outcomes[i] = Outcome{Address: address, Window: window, Err: err}
		}(i, address)
	}
	wg.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			s.logger.Warn("transition failed", "address", o.Address, "window", window.String(), "error", o.Err)
		}
	}
	s.logger.Info("trigger fired",
		"at", at,
		"window", window.String(),
		"devices", len(outcomes),
		"failed", failed,
	)

	if s.OnFire != nil {
		s.OnFire(at, outcomes)
	}
	return outcomes
}

// Stop ends Run. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
