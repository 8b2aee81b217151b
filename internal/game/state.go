package game

import (
	"errors"
	"fmt"
)

// State is the session's top-level phase.
type State string

const (
	StateWaiting   State = "waiting"
	StateCountdown State = "countdown"
	StatePlaying   State = "playing"
	StateWinner    State = "winner"
)

// Trigger drives a state transition.
type Trigger string

const (
	TriggerStart         Trigger = "start"
	TriggerCountdownDone Trigger = "countdown_done"
	TriggerGraceElapsed  Trigger = "grace_elapsed"
	TriggerReset         Trigger = "reset"
)

var (
	// ErrInvalidTransition is returned when a trigger does not apply to the
	// current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrModelsNotReady is returned by Start while the landmark models are
	// still loading.
	ErrModelsNotReady = errors.New("landmark models are still loading")
)

// Next is the transition function of the session state machine.
// Reset is accepted from every state.
func Next(s State, t Trigger) (State, error) {
	switch {
	case t == TriggerReset:
		return StateWaiting, nil
	case s == StateWaiting && t == TriggerStart:
		return StateCountdown, nil
	case s == StateCountdown && t == TriggerCountdownDone:
		return StatePlaying, nil
	case s == StatePlaying && t == TriggerGraceElapsed:
		return StateWinner, nil
	}
	return s, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, t, s)
}
