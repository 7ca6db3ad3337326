package schedule

import (
	"fmt"
	"time"

	"github.com/worldland/miner-fleet/internal/domain"
)

// Window is one row of the daily operating table. It starts at StartHour
// local time and lasts until the next window's start.
type Window struct {
	StartHour   int
	Profile     domain.Profile // ProfileUnset leaves the miner's profile unchanged
	Curtailment domain.Curtailment
}

// SetsProfile reports whether entering the window changes the profile
func (w Window) SetsProfile() bool {
	return w.Profile != domain.ProfileUnset
}

func (w Window) String() string {
	profile := string(w.Profile)
	if !w.SetsProfile() {
		profile = "unchanged"
	}
	return fmt.Sprintf("%02d:00 %s/%s", w.StartHour, profile, w.Curtailment)
}

// Windows is the daily operating table, ordered by start hour
var Windows = []Window{
	{StartHour: 0, Profile: domain.ProfileOverclock, Curtailment: domain.CurtailmentActive},
	{StartHour: 6, Profile: domain.ProfileNormal, Curtailment: domain.CurtailmentActive},
	{StartHour: 12, Profile: domain.ProfileUnderclock, Curtailment: domain.CurtailmentActive},
	{StartHour: 18, Profile: domain.ProfileUnset, Curtailment: domain.CurtailmentSleep},
}

// WindowAt returns the window that applies at t, in t's location.
// Every instant of the day maps to exactly one window.
func WindowAt(t time.Time) Window {
	hour := t.Hour()
	current := Windows[0]
	for _, w := range Windows {
		if hour >= w.StartHour {
			current = w
		}
	}
	return current
}

// NextTrigger returns the first window start strictly after t, in t's location
func NextTrigger(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	for _, w := range Windows {
		candidate := time.Date(y, m, d, w.StartHour, 0, 0, 0, loc)
		if candidate.After(t) {
			return candidate
		}
	}
	return time.Date(y, m, d+1, Windows[0].StartHour, 0, 0, 0, loc)
}
