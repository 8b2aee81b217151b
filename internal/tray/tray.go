// Package tray provides a system tray menu for running the game from the
// desktop: start a round, play again, open the game screen.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/nosegoes/internal/game"
)

// Tray represents the system tray application.
type Tray struct {
	onStart func() error
	onReset func()
	onOpen  func()
	onQuit  func()
	state   game.State
	status  string
	mu      sync.RWMutex

	// Menu items stored for later updates
	menuStatus *systray.MenuItem
	menuPlay   *systray.MenuItem
}

// New creates a new Tray showing the waiting state.
func New() *Tray {
	return &Tray{
		state:  game.StateWaiting,
		status: "Waiting for players",
	}
}

// OnStart sets the callback run by Start Game.
func (t *Tray) OnStart(fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStart = fn
}

// OnReset sets the callback run by Play Again.
func (t *Tray) OnReset(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReset = fn
}

// OnOpen sets the callback run by Open Game Screen.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Nose Goes")
	systray.SetTooltip("Nose Goes party game")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(t.status, "Game status")
	t.menuStatus.Disable()
	systray.AddSeparator()

	title, enabled := playItem(t.state)
	t.menuPlay = systray.AddMenuItem(title, "Start or restart a round")
	if !enabled {
		t.menuPlay.Disable()
	}
	t.mu.Unlock()

	menuOpen := systray.AddMenuItem("Open Game Screen...", "Open the game in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Nose Goes")

	go func() {
		for {
			select {
			case <-t.menuPlay.ClickedCh:
				t.handlePlay()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// playItem returns the title of the play button for s and whether it is
// clickable.
func playItem(s game.State) (string, bool) {
	switch s {
	case game.StateWaiting:
		return "Start Game", true
	case game.StateWinner:
		return "Play Again", true
	default:
		return "Round in progress...", false
	}
}

// statusLine describes e for the status item, or "" when e does not change it.
func statusLine(e game.Event) string {
	switch e.Kind {
	case game.EventState:
		switch e.State {
		case game.StateWaiting:
			return "Waiting for players"
		case game.StateCountdown:
			return "Get ready..."
		case game.StatePlaying:
			return "Touch your nose!"
		}
	case game.EventTick:
		if e.Cue == game.CueGo {
			return "GO!"
		}
		return fmt.Sprintf("Starting in %d", e.Countdown)
	case game.EventWinner:
		if e.Winner != nil {
			return fmt.Sprintf("Player %d wins!", e.Winner.Face+1)
		}
	case game.EventAdvisory:
		return e.Message
	}
	return ""
}

// Listen updates the menu from a session event. It can be subscribed
// directly as a session listener.
func (t *Tray) Listen(e game.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.Kind == game.EventState {
		t.state = e.State
		if t.menuPlay != nil {
			title, enabled := playItem(e.State)
			t.menuPlay.SetTitle(title)
			if enabled {
				t.menuPlay.Enable()
			} else {
				t.menuPlay.Disable()
			}
		}
	}

	if line := statusLine(e); line != "" {
		t.status = line
		if t.menuStatus != nil {
			t.menuStatus.SetTitle(line)
		}
	}
}

// handlePlay starts a round from waiting and resets from the winner screen.
func (t *Tray) handlePlay() {
	t.mu.RLock()
	state := t.state
	start, reset := t.onStart, t.onReset
	t.mu.RUnlock()

	switch state {
	case game.StateWaiting:
		if start == nil {
			return
		}
		if err := start(); err != nil {
			t.Listen(game.Event{Kind: game.EventAdvisory, Message: err.Error()})
		}
	case game.StateWinner:
		if reset != nil {
			reset()
		}
	}
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// State returns the last session state seen.
func (t *Tray) State() game.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Status returns the current status line.
func (t *Tray) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}
