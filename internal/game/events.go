package game

import "time"

// EventKind identifies what an Event reports.
type EventKind string

const (
	EventState       EventKind = "state"
	EventTick        EventKind = "tick"
	EventPlayers     EventKind = "players"
	EventWinner      EventKind = "winner"
	EventWinnerImage EventKind = "winner_image"
	EventAdvisory    EventKind = "advisory"
)

// Cue is the audio cue that accompanies a countdown tick.
type Cue string

const (
	CueBeep Cue = "beep"
	CueGo   Cue = "go"
)

// Hz is the tone frequency for the cue.
func (c Cue) Hz() int {
	if c == CueGo {
		return 800
	}
	return 400
}

// Event is pushed to listeners after every session change.
type Event struct {
	Kind      EventKind `json:"type"`
	Round     string    `json:"round,omitempty"`
	State     State     `json:"state"`
	Countdown int       `json:"countdown"`
	Cue       Cue       `json:"cue,omitempty"`
	Players   []Player  `json:"players,omitempty"`
	Touches   int       `json:"touches,omitempty"`
	Winner    *Winner   `json:"winner,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Listener receives session events. Listeners run outside the session lock
// and may call back into the session.
type Listener func(Event)
