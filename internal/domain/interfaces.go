package domain

import "context"

// DeviceClient abstracts the miner control API for testing
type DeviceClient interface {
	// Login opens a session for the miner at address
	Login(ctx context.Context, address string) (LoginResult, error)
	// Logout closes the miner's session
	Logout(ctx context.Context, address string) error
	// SetProfile applies a performance profile using a session token
	SetProfile(ctx context.Context, token string, profile Profile) (string, error)
	// SetCurtailment applies a curtailment mode using a session token
	SetCurtailment(ctx context.Context, token string, mode Curtailment) (string, error)
}

// TransitionObserver is notified after every attempted state transition.
// Implementations must not block for long; they run on the caller's goroutine.
type TransitionObserver interface {
	ObserveTransition(t Transition)
}

