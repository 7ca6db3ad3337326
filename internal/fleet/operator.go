package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/worldland/miner-fleet/internal/clock"
	"github.com/worldland/miner-fleet/internal/domain"
	"github.com/worldland/miner-fleet/internal/logging"
	"github.com/worldland/miner-fleet/internal/schedule"
)

// TokenSource hands out tokens that are valid at the time of the call
type TokenSource interface {
	EnsureFresh(ctx context.Context, address string) (domain.TokenRecord, error)
	Forget(address string)
}

// Operator performs authenticated state changes on fleet members.
// Registry state is only written after the miner acknowledges a change.
type Operator struct {
	registry  *Registry
	tokens    TokenSource
	client    domain.DeviceClient
	clock     clock.Clock
	timeout   time.Duration // per remote call
	observers []domain.TransitionObserver
	logger    *logging.Logger
}

// NewOperator creates an operator. timeout bounds each remote call.
func NewOperator(registry *Registry, tokens TokenSource, client domain.DeviceClient, clk clock.Clock, timeout time.Duration, logger *logging.Logger) *Operator {
	return &Operator{
		registry: registry,
		tokens:   tokens,
		client:   client,
		clock:    clk,
		timeout:  timeout,
		logger:   logger.With("component", "operator"),
	}
}

// AddObserver registers an observer for every attempted transition.
// Must be called before the operator is shared between goroutines.
func (o *Operator) AddObserver(obs domain.TransitionObserver) {
	o.observers = append(o.observers, obs)
}

// SetProfile changes the miner's performance profile
func (o *Operator) SetProfile(ctx context.Context, address string, profile domain.Profile) error {
	return o.apply(ctx, address, domain.FieldProfile, string(profile),
		func(s domain.OperationState) string { return string(s.Profile) },
		func(ctx context.Context, token string) (string, error) {
			return o.client.SetProfile(ctx, token, profile)
		},
		func() error { return o.registry.SetProfile(address, profile) },
	)
}

// SetCurtailment changes the miner's curtailment mode
func (o *Operator) SetCurtailment(ctx context.Context, address string, mode domain.Curtailment) error {
	return o.apply(ctx, address, domain.FieldCurtailment, string(mode),
		func(s domain.OperationState) string { return string(s.Curtailment) },
		func(ctx context.Context, token string) (string, error) {
			return o.client.SetCurtailment(ctx, token, mode)
		},
		func() error { return o.registry.SetCurtailment(address, mode) },
	)
}

// ApplyWindow drives the miner into w's target: curtailment first, then the
// profile when the window sets one. Both are attempted; failures are joined.
func (o *Operator) ApplyWindow(ctx context.Context, address string, w schedule.Window) error {
	errCurtail := o.SetCurtailment(ctx, address, w.Curtailment)
	if errors.Is(errCurtail, domain.ErrNotFound) {
		return errCurtail
	}

	var errProfile error
	if w.SetsProfile() {
		errProfile = o.SetProfile(ctx, address, w.Profile)
	}
	return errors.Join(errCurtail, errProfile)
}

func (o *Operator) apply(
	ctx context.Context,
	address string,
	field domain.TransitionField,
	value string,
	current func(domain.OperationState) string,
	call func(ctx context.Context, token string) (string, error),
	commit func() error,
) error {
	state, ok := o.registry.Get(address)
	if !ok {
		return fmt.Errorf("%s: %w", address, domain.ErrNotFound)
	}

	transition := domain.Transition{
		Address:  address,
		Field:    field,
		Value:    value,
		Previous: current(state),
	}

	// A token minted for a miner that left the fleet mid-operation is dropped
	defer func() {
		if !o.registry.Contains(address) {
			o.tokens.Forget(address)
		}
	}()

	authCtx, cancel := context.WithTimeout(ctx, o.timeout)
	rec, err := o.tokens.EnsureFresh(authCtx, address)
	cancel()
	if err != nil {
		transition.Err = err
		o.notify(transition)
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	msg, err := call(callCtx, rec.Token)
	cancel()
	if err != nil {
		err = fmt.Errorf("set %s %s=%s: %w: %w", address, field, value, domain.ErrRemoteOperation, err)
		transition.Err = err
		o.notify(transition)
		return err
	}

	// A concurrent remove between lookup and commit is benign
	if err := commit(); err != nil {
		o.logger.Info("device removed during transition", "address", address, "field", field)
		return err
	}

	transition.Message = msg
	o.notify(transition)
	o.logger.Info("transition applied", "address", address, "field", field, "value", value, "message", msg)
	return nil
}

func (o *Operator) notify(t domain.Transition) {
	t.At = o.clock.Now()
	for _, obs := range o.observers {
		obs.ObserveTransition(t)
	}
}
