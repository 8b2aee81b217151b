package game

import (
	"sync"
	"time"
)

// Image is a captured still of the winning moment.
type Image struct {
	Data        []byte `json:"-"`
	ContentType string `json:"content_type"`
}

// Winner records the face that touched first in a round.
type Winner struct {
	Face       int       `json:"face"`
	Round      string    `json:"round"`
	DeclaredAt time.Time `json:"declared_at"`
	Image      *Image    `json:"image,omitempty"`
}

// WinEvaluator keeps at most one winner per round. The first touch signal
// after Arm wins; every later signal is dropped until the next Arm.
type WinEvaluator struct {
	mu     sync.Mutex
	round  string
	armed  bool
	winner *Winner
	now    func() time.Time
}

// NewWinEvaluator creates a disarmed evaluator.
func NewWinEvaluator(now func() time.Time) *WinEvaluator {
	if now == nil {
		now = time.Now
	}
	return &WinEvaluator{now: now}
}

// Arm clears any winner and starts accepting signals for round.
func (e *WinEvaluator) Arm(round string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.round = round
	e.armed = true
	e.winner = nil
}

// Reset clears the winner and stops accepting signals.
func (e *WinEvaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.round = ""
	e.armed = false
	e.winner = nil
}

// Signal reports a touch for face. It returns true only for the signal that
// becomes the winner.
func (e *WinEvaluator) Signal(face int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.armed || e.winner != nil {
		return false
	}
	e.winner = &Winner{
		Face:       face,
		Round:      e.round,
		DeclaredAt: e.now(),
	}
	return true
}

// Winner returns a copy of the current winner.
func (e *WinEvaluator) Winner() (Winner, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.winner == nil {
		return Winner{}, false
	}
	return *e.winner, true
}

// Attach stores img on the winner of round. It is a no-op when the round has
// been reset or replaced since the win.
func (e *WinEvaluator) Attach(round string, img *Image) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.winner == nil || e.winner.Round != round || e.winner.Image != nil {
		return false
	}
	e.winner.Image = img
	return true
}
