package domain

import "time"

// Profile is the performance tier applied to a miner
type Profile string

const (
	ProfileUnset      Profile = "unset"
	ProfileOverclock  Profile = "overclock"
	ProfileNormal     Profile = "normal"
	ProfileUnderclock Profile = "underclock"
)

// Curtailment is the power-gating mode applied to a miner
type Curtailment string

const (
	CurtailmentUnset  Curtailment = "unset"
	CurtailmentActive Curtailment = "active"
	CurtailmentSleep  Curtailment = "sleep"
)

// OperationState is the last state acknowledged by a miner
type OperationState struct {
	Profile     Profile     `json:"profile"`
	Curtailment Curtailment `json:"curtailment"`
}

// DefaultOperationState is assigned to a miner when it joins the fleet
func DefaultOperationState() OperationState {
	return OperationState{Profile: ProfileUnset, Curtailment: CurtailmentUnset}
}

// TokenRecord is a session token and the instant it stops being valid
type TokenRecord struct {
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the token is unusable at now.
// The boundary instant counts as expired.
func (r TokenRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// LoginResult is the raw login response from a miner
type LoginResult struct {
	Token string `json:"token"`
	TTL   string `json:"ttl"`
}

// DeviceStatus is one row of the fleet listing
type DeviceStatus struct {
	Address     string      `json:"address"`
	Profile     Profile     `json:"profile"`
	Curtailment Curtailment `json:"curtailment"`
}

// TransitionField names which half of the operation state changed
type TransitionField string

const (
	FieldProfile     TransitionField = "profile"
	FieldCurtailment TransitionField = "curtailment"
)

// Transition records one attempted state change on a miner
type Transition struct {
	Address  string          `json:"address"`
	Field    TransitionField `json:"field"`
	Value    string          `json:"value"`
	Previous string          `json:"previous"`
	Message  string          `json:"message,omitempty"` // Miner's acknowledgment text
	Err      error           `json:"-"`
	At       time.Time       `json:"timestamp"`
}

// OK reports whether the transition was acknowledged by the miner
func (t Transition) OK() bool {
	return t.Err == nil
}
