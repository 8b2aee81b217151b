package tray

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ayusman/nosegoes/internal/game"
)

func TestPlayItem(t *testing.T) {
	tests := []struct {
		state   game.State
		title   string
		enabled bool
	}{
		{game.StateWaiting, "Start Game", true},
		{game.StateCountdown, "Round in progress...", false},
		{game.StatePlaying, "Round in progress...", false},
		{game.StateWinner, "Play Again", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			title, enabled := playItem(tt.state)
			assert.Equal(t, tt.title, title)
			assert.Equal(t, tt.enabled, enabled)
		})
	}
}

func TestListen(t *testing.T) {
	tr := New()

	tr.Listen(game.Event{Kind: game.EventState, State: game.StateCountdown})
	assert.Equal(t, game.StateCountdown, tr.State())
	assert.Equal(t, "Get ready...", tr.Status())

	tr.Listen(game.Event{Kind: game.EventTick, Countdown: 2, Cue: game.CueBeep})
	assert.Equal(t, "Starting in 2", tr.Status())

	tr.Listen(game.Event{Kind: game.EventTick, Countdown: 0, Cue: game.CueGo})
	assert.Equal(t, "GO!", tr.Status())

	tr.Listen(game.Event{Kind: game.EventPlayers, State: game.StatePlaying})
	assert.Equal(t, "GO!", tr.Status(), "per-frame events leave the status alone")

	tr.Listen(game.Event{Kind: game.EventWinner, Winner: &game.Winner{Face: 1}})
	assert.Equal(t, "Player 2 wins!", tr.Status())
}

func TestHandlePlay(t *testing.T) {
	tr := New()

	starts, resets := 0, 0
	tr.OnStart(func() error { starts++; return nil })
	tr.OnReset(func() { resets++ })

	tr.handlePlay()
	assert.Equal(t, 1, starts)

	tr.Listen(game.Event{Kind: game.EventState, State: game.StatePlaying})
	tr.handlePlay()
	assert.Equal(t, 1, starts, "ignored while a round runs")
	assert.Zero(t, resets)

	tr.Listen(game.Event{Kind: game.EventState, State: game.StateWinner})
	tr.handlePlay()
	assert.Equal(t, 1, resets)
}

func TestHandlePlay_StartError(t *testing.T) {
	tr := New()
	tr.OnStart(func() error { return errors.New("landmark models are still loading") })

	tr.handlePlay()
	assert.Equal(t, "landmark models are still loading", tr.Status())
}
