package game

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/nosegoes/internal/detector"
)

var epoch = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kind(k EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	session *Session
	clock   *ManualClock
	events  *recorder
}

func newHarness(t *testing.T, collab Collaborators) *harness {
	t.Helper()

	clock := NewManualClock(epoch)
	rounds := 0
	s := NewSession(Config{
		Clock:         clock,
		Collaborators: collab,
		NewRound: func() string {
			rounds++
			return fmt.Sprintf("round-%d", rounds)
		},
		Spawn: func(f func()) { f() },
	})
	rec := &recorder{}
	s.Subscribe(rec.listen)
	return &harness{session: s, clock: clock, events: rec}
}

// play starts a round and runs the countdown through to playing.
func (h *harness) play(t *testing.T) uint64 {
	t.Helper()
	require.NoError(t, h.session.Start())
	h.clock.Advance(4 * time.Second)
	gen, ok := h.session.Playing()
	require.True(t, ok)
	return gen
}

func touching(face int) detector.Observation {
	faces := make([]detector.FaceLandmarks, face+1)
	for i := range faces {
		faces[i] = faceAt(float64(200+200*i), 360)
	}
	x := float64(200 + 200*face)
	return detector.Observation{
		Faces: faces,
		Hands: []detector.HandLandmarks{handAt(x+60, 400, x+2, 362)},
	}
}

func TestSession_Countdown(t *testing.T) {
	h := newHarness(t, Collaborators{})

	require.NoError(t, h.session.Start())
	assert.Equal(t, StateCountdown, h.session.View().State)
	assert.Equal(t, "round-1", h.session.View().Round)

	for want := 3; want >= 1; want-- {
		assert.Equal(t, want, h.session.View().Countdown)
		h.clock.Advance(time.Second)
	}
	assert.Equal(t, 0, h.session.View().Countdown, "Go shown")
	assert.Equal(t, StateCountdown, h.session.View().State)

	h.clock.Advance(999 * time.Millisecond)
	assert.Equal(t, StateCountdown, h.session.View().State)
	h.clock.Advance(time.Millisecond)
	assert.Equal(t, StatePlaying, h.session.View().State)

	ticks := h.events.kind(EventTick)
	require.Len(t, ticks, 4)
	for i, want := range []struct {
		n   int
		cue Cue
		at  time.Duration
	}{
		{3, CueBeep, 0},
		{2, CueBeep, time.Second},
		{1, CueBeep, 2 * time.Second},
		{0, CueGo, 3 * time.Second},
	} {
		assert.Equal(t, want.n, ticks[i].Countdown)
		assert.Equal(t, want.cue, ticks[i].Cue)
		assert.Equal(t, epoch.Add(want.at), ticks[i].At)
	}

	states := h.events.kind(EventState)
	require.Len(t, states, 2)
	assert.Equal(t, StateCountdown, states[0].State)
	assert.Equal(t, StatePlaying, states[1].State)
	assert.Equal(t, epoch.Add(4*time.Second), states[1].At)
}

func TestSession_StartRejected(t *testing.T) {
	t.Run("models not ready", func(t *testing.T) {
		ready := false
		cameraStarted := false
		h := newHarness(t, Collaborators{
			ModelsReady: func() bool { return ready },
			StartCamera: func() error { cameraStarted = true; return nil },
		})

		err := h.session.Start()
		assert.ErrorIs(t, err, ErrModelsNotReady)
		assert.Equal(t, StateWaiting, h.session.View().State)
		assert.False(t, cameraStarted)
		assert.Zero(t, h.clock.Pending())

		advisories := h.events.kind(EventAdvisory)
		require.Len(t, advisories, 1)
		assert.Contains(t, advisories[0].Message, "loading")

		ready = true
		require.NoError(t, h.session.Start())
		assert.True(t, cameraStarted)
		assert.Empty(t, h.session.View().Advisory)
	})

	t.Run("already running", func(t *testing.T) {
		h := newHarness(t, Collaborators{})
		require.NoError(t, h.session.Start())

		err := h.session.Start()
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, "round-1", h.session.View().Round)

		h.clock.Advance(4 * time.Second)
		assert.ErrorIs(t, h.session.Start(), ErrInvalidTransition)
	})

	t.Run("running while models reload", func(t *testing.T) {
		ready := true
		asked := 0
		h := newHarness(t, Collaborators{ModelsReady: func() bool { asked++; return ready }})
		require.NoError(t, h.session.Start())

		ready = false
		asked = 0
		assert.ErrorIs(t, h.session.Start(), ErrInvalidTransition)
		assert.Zero(t, asked)
		assert.Empty(t, h.events.kind(EventAdvisory))
	})

	t.Run("models check does not hold the session", func(t *testing.T) {
		release := make(chan struct{})
		checking := make(chan struct{})
		h := newHarness(t, Collaborators{ModelsReady: func() bool {
			close(checking)
			<-release
			return false
		}})

		done := make(chan error, 1)
		go func() { done <- h.session.Start() }()
		<-checking

		viewed := make(chan State, 1)
		go func() { viewed <- h.session.View().State }()
		select {
		case st := <-viewed:
			assert.Equal(t, StateWaiting, st)
		case <-time.After(time.Second):
			t.Fatal("View blocked while models were checked")
		}

		close(release)
		assert.ErrorIs(t, <-done, ErrModelsNotReady)
	})
}

func TestSession_ObserveGated(t *testing.T) {
	h := newHarness(t, Collaborators{})

	gen, ok := h.session.Playing()
	assert.False(t, ok)
	_, ok = h.session.Observe(gen, touching(0), hd)
	assert.False(t, ok, "waiting ignores frames")

	require.NoError(t, h.session.Start())
	gen, _ = h.session.Playing()
	_, ok = h.session.Observe(gen, touching(0), hd)
	assert.False(t, ok, "countdown ignores frames")

	h.clock.Advance(4 * time.Second)
	gen, ok = h.session.Playing()
	require.True(t, ok)

	_, ok = h.session.Observe(gen-1, touching(0), hd)
	assert.False(t, ok, "stale generation is discarded")
	assert.Empty(t, h.events.kind(EventWinner))

	players, ok := h.session.Observe(gen, detector.Observation{}, hd)
	assert.True(t, ok)
	assert.Empty(t, players)
	assert.Len(t, h.events.kind(EventPlayers), 1)
}

func TestSession_Winner(t *testing.T) {
	h := newHarness(t, Collaborators{})
	gen := h.play(t)

	players, ok := h.session.Observe(gen, touching(1), hd)
	require.True(t, ok)
	require.Len(t, players, 2)
	assert.True(t, players[1].TouchingNose)

	v := h.session.View()
	assert.Equal(t, StatePlaying, v.State, "winner is shown after the grace delay")
	require.NotNil(t, v.Winner)
	assert.Equal(t, 1, v.Winner.Face)
	assert.Equal(t, "round-1", v.Winner.Round)

	winners := h.events.kind(EventWinner)
	require.Len(t, winners, 1)
	assert.Equal(t, 1, winners[0].Winner.Face)

	players, ok = h.session.Observe(gen, touching(0), hd)
	assert.True(t, ok, "frames are still consumed during the grace delay")
	assert.True(t, players[0].TouchingNose)
	assert.Len(t, h.events.kind(EventWinner), 1, "later touches never replace the winner")

	h.clock.Advance(3*time.Second - time.Millisecond)
	assert.Equal(t, StatePlaying, h.session.View().State)
	h.clock.Advance(time.Millisecond)

	v = h.session.View()
	assert.Equal(t, StateWinner, v.State)
	assert.Equal(t, 1, v.Winner.Face)

	_, ok = h.session.Observe(gen, touching(0), hd)
	assert.False(t, ok, "winner state ignores frames")
}

func TestSession_SimultaneousTouches(t *testing.T) {
	h := newHarness(t, Collaborators{})
	gen := h.play(t)

	obs := detector.Observation{
		Faces: []detector.FaceLandmarks{faceAt(300, 360), faceAt(900, 360)},
		Hands: []detector.HandLandmarks{
			handAt(950, 400, 900, 362),
			handAt(350, 400, 300, 362),
		},
	}
	_, ok := h.session.Observe(gen, obs, hd)
	require.True(t, ok)

	winners := h.events.kind(EventWinner)
	require.Len(t, winners, 1)
	assert.Equal(t, 0, winners[0].Winner.Face)

	frames := h.events.kind(EventPlayers)
	require.Len(t, frames, 1)
	assert.Equal(t, 2, frames[0].Touches)
}

func TestSession_Reset(t *testing.T) {
	states := []struct {
		name  string
		setup func(t *testing.T, h *harness)
	}{
		{"waiting", func(t *testing.T, h *harness) {}},
		{"countdown", func(t *testing.T, h *harness) {
			require.NoError(t, h.session.Start())
			h.clock.Advance(1500 * time.Millisecond)
		}},
		{"playing", func(t *testing.T, h *harness) { h.play(t) }},
		{"grace", func(t *testing.T, h *harness) {
			gen := h.play(t)
			h.session.Observe(gen, touching(0), hd)
		}},
		{"winner", func(t *testing.T, h *harness) {
			gen := h.play(t)
			h.session.Observe(gen, touching(0), hd)
			h.clock.Advance(3 * time.Second)
		}},
	}

	for _, tt := range states {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Collaborators{})
			tt.setup(t, h)

			h.session.Reset()

			v := h.session.View()
			assert.Equal(t, StateWaiting, v.State)
			assert.Equal(t, 3, v.Countdown)
			assert.Nil(t, v.Winner)
			assert.Empty(t, v.Players)
			assert.Empty(t, v.Round)
			assert.Zero(t, h.clock.Pending(), "no timer survives a reset")

			h.events.reset()
			h.clock.Advance(time.Minute)
			assert.Empty(t, h.events.events)
			assert.Equal(t, StateWaiting, h.session.View().State)
		})
	}
}

func TestSession_StaleTimersAfterRestart(t *testing.T) {
	h := newHarness(t, Collaborators{})
	gen := h.play(t)
	h.session.Observe(gen, touching(0), hd)

	// Reset during the grace delay and start again right away: the old grace
	// timer must not declare a winner for the new round.
	h.session.Reset()
	require.NoError(t, h.session.Start())
	h.clock.Advance(4 * time.Second)

	v := h.session.View()
	assert.Equal(t, StatePlaying, v.State)
	assert.Equal(t, "round-2", v.Round)
	assert.Nil(t, v.Winner)

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, StatePlaying, h.session.View().State)

	_, ok := h.session.Observe(gen, touching(0), hd)
	assert.False(t, ok, "frames from the first round are discarded")
}

func TestSession_StaleTimerCallbacksAreNoops(t *testing.T) {
	h := newHarness(t, Collaborators{})
	gen := h.play(t)

	h.session.graceElapsed(gen)
	assert.Equal(t, StatePlaying, h.session.View().State, "no winner yet")

	h.session.tick(gen)
	h.session.countdownDone(gen - 1)
	assert.Equal(t, StatePlaying, h.session.View().State)
}

func TestSession_WinnerImage(t *testing.T) {
	img := &Image{Data: []byte("jpeg"), ContentType: "image/jpeg"}
	h := newHarness(t, Collaborators{
		Capture: func() (*Image, error) { return img, nil },
	})
	gen := h.play(t)

	_, ok := h.session.WinnerImage()
	assert.False(t, ok)

	h.session.Observe(gen, touching(0), hd)

	got, ok := h.session.WinnerImage()
	require.True(t, ok)
	assert.Same(t, img, got)

	images := h.events.kind(EventWinnerImage)
	require.Len(t, images, 1)
	assert.Same(t, img, images[0].Winner.Image)

	h.session.Reset()
	_, ok = h.session.WinnerImage()
	assert.False(t, ok)
}

func TestSession_CaptureFailure(t *testing.T) {
	h := newHarness(t, Collaborators{
		Capture: func() (*Image, error) { return nil, errors.New("no frame") },
	})
	gen := h.play(t)

	h.session.Observe(gen, touching(0), hd)

	advisories := h.events.kind(EventAdvisory)
	require.Len(t, advisories, 1)
	assert.NotEmpty(t, advisories[0].Message)

	h.clock.Advance(3 * time.Second)
	v := h.session.View()
	assert.Equal(t, StateWinner, v.State, "the winner stands without a picture")
	require.NotNil(t, v.Winner)
	assert.Nil(t, v.Winner.Image)
}

func TestSession_CaptureAfterReset(t *testing.T) {
	var pending func()
	img := &Image{Data: []byte("jpeg"), ContentType: "image/jpeg"}

	clock := NewManualClock(epoch)
	s := NewSession(Config{
		Clock: clock,
		Collaborators: Collaborators{
			Capture: func() (*Image, error) { return img, nil },
		},
		Spawn: func(f func()) { pending = f },
	})
	require.NoError(t, s.Start())
	clock.Advance(4 * time.Second)
	gen, _ := s.Playing()
	s.Observe(gen, touching(0), hd)
	require.NotNil(t, pending)

	s.Reset()
	pending()

	_, ok := s.WinnerImage()
	assert.False(t, ok, "a late picture does not leak into the next round")
}

func TestSession_CameraDenied(t *testing.T) {
	h := newHarness(t, Collaborators{
		StartCamera: func() error { return errors.New("permission denied") },
	})

	require.NoError(t, h.session.Start())

	v := h.session.View()
	assert.Equal(t, StateCountdown, v.State, "the countdown keeps running")
	assert.Equal(t, "Camera access denied. Please allow camera access and try again.", v.Advisory)

	advisories := h.events.kind(EventAdvisory)
	require.Len(t, advisories, 1)
	assert.Equal(t, v.Advisory, advisories[0].Message)

	h.clock.Advance(4 * time.Second)
	assert.Equal(t, StatePlaying, h.session.View().State)
}

func TestSession_SettingsApplyNextRound(t *testing.T) {
	h := newHarness(t, Collaborators{})

	custom := DefaultSettings()
	custom.CountdownFrom = 5
	custom.GraceDelay = time.Second
	require.NoError(t, h.session.SetSettings(custom))
	assert.Equal(t, 5, h.session.View().Countdown)

	assert.Error(t, h.session.SetSettings(Settings{}))
	assert.Equal(t, custom, h.session.Settings())

	require.NoError(t, h.session.Start())
	assert.Equal(t, 5, h.session.View().Countdown)

	// Changing settings mid-round does not touch the active countdown.
	require.NoError(t, h.session.SetSettings(DefaultSettings()))
	h.clock.Advance(6 * time.Second)
	assert.Equal(t, StatePlaying, h.session.View().State)

	gen, _ := h.session.Playing()
	h.session.Observe(gen, touching(0), hd)
	h.clock.Advance(time.Second)
	assert.Equal(t, StateWinner, h.session.View().State)
}

func TestSession_ListenerMayCallBack(t *testing.T) {
	h := newHarness(t, Collaborators{})
	var seen []State
	h.session.Subscribe(func(e Event) {
		if e.Kind == EventState {
			seen = append(seen, h.session.View().State)
		}
	})

	h.play(t)
	h.session.Reset()

	assert.Equal(t, []State{StateCountdown, StatePlaying, StateWaiting}, seen)
}

func TestSession_ConcurrentResetKeepsEventOrder(t *testing.T) {
	h := newHarness(t, Collaborators{})

	entered := make(chan struct{})
	release := make(chan struct{})
	h.session.Subscribe(func(e Event) {
		if e.Kind == EventState && e.State == StatePlaying {
			close(entered)
			<-release
		}
	})
	late := &recorder{}
	h.session.Subscribe(late.listen)

	require.NoError(t, h.session.Start())
	h.clock.Advance(3 * time.Second)

	advanced := make(chan struct{})
	go func() {
		defer close(advanced)
		h.clock.Advance(time.Second)
	}()
	<-entered

	reset := make(chan struct{})
	go func() {
		defer close(reset)
		h.session.Reset()
	}()
	select {
	case <-reset:
	case <-time.After(time.Second):
		t.Fatal("Reset waited on a listener")
	}

	close(release)
	<-advanced

	var states []State
	for _, e := range late.kind(EventState) {
		states = append(states, e.State)
	}
	assert.Equal(t, []State{StateCountdown, StatePlaying, StateWaiting}, states)
	assert.Equal(t, StateWaiting, h.session.View().State)
}
