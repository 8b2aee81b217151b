package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/nosegoes/internal/detector"
)

// Settings tune a round. Changes take effect on the next Start.
type Settings struct {
	Thresholds    Thresholds
	CountdownFrom int
	TickInterval  time.Duration
	GoHold        time.Duration
	GraceDelay    time.Duration
}

// DefaultSettings returns 3-2-1-Go at one second per tick, one second
// after Go before play, and a three second grace delay.
func DefaultSettings() Settings {
	return Settings{
		Thresholds:    DefaultThresholds(),
		CountdownFrom: 3,
		TickInterval:  time.Second,
		GoHold:        time.Second,
		GraceDelay:    3 * time.Second,
	}
}

type settingsJSON struct {
	Thresholds     Thresholds `json:"thresholds"`
	CountdownFrom  int        `json:"countdown_from"`
	TickIntervalMs int64      `json:"tick_interval_ms"`
	GoHoldMs       int64      `json:"go_hold_ms"`
	GraceDelayMs   int64      `json:"grace_delay_ms"`
}

// MarshalJSON writes durations as whole milliseconds.
func (s Settings) MarshalJSON() ([]byte, error) {
	return json.Marshal(settingsJSON{
		Thresholds:     s.Thresholds,
		CountdownFrom:  s.CountdownFrom,
		TickIntervalMs: s.TickInterval.Milliseconds(),
		GoHoldMs:       s.GoHold.Milliseconds(),
		GraceDelayMs:   s.GraceDelay.Milliseconds(),
	})
}

// UnmarshalJSON reads the form written by MarshalJSON. Missing fields keep
// their current value.
func (s *Settings) UnmarshalJSON(data []byte) error {
	in := settingsJSON{
		Thresholds:     s.Thresholds,
		CountdownFrom:  s.CountdownFrom,
		TickIntervalMs: s.TickInterval.Milliseconds(),
		GoHoldMs:       s.GoHold.Milliseconds(),
		GraceDelayMs:   s.GraceDelay.Milliseconds(),
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Settings{
		Thresholds:    in.Thresholds,
		CountdownFrom: in.CountdownFrom,
		TickInterval:  time.Duration(in.TickIntervalMs) * time.Millisecond,
		GoHold:        time.Duration(in.GoHoldMs) * time.Millisecond,
		GraceDelay:    time.Duration(in.GraceDelayMs) * time.Millisecond,
	}
	return nil
}

// Validate rejects settings that would stall or skip the round.
func (s Settings) Validate() error {
	var errs []error
	if s.Thresholds.AssignRadius <= 0 {
		errs = append(errs, errors.New("assign radius must be positive"))
	}
	if s.Thresholds.TouchRadius <= 0 {
		errs = append(errs, errors.New("touch radius must be positive"))
	}
	if s.CountdownFrom < 1 {
		errs = append(errs, errors.New("countdown must start at 1 or more"))
	}
	if s.TickInterval <= 0 || s.GoHold < 0 || s.GraceDelay < 0 {
		errs = append(errs, errors.New("durations must not be negative and tick interval must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
	}
	return nil
}

// Collaborators are the outside capabilities a session drives. Any of them
// may be nil.
type Collaborators struct {
	// ModelsReady guards Start.
	ModelsReady func() bool
	// StartCamera is called concurrently with the countdown.
	StartCamera func() error
	// Capture takes a still of the current frame for the winner.
	Capture func() (*Image, error)
}

// Config configures a Session.
type Config struct {
	Settings      Settings
	Clock         Clock
	Logger        logrus.FieldLogger
	Collaborators Collaborators
	// NewRound returns a fresh round ID. Defaults to a random UUID.
	NewRound func() string
	// Spawn runs collaborator calls off the session lock. Defaults to a new
	// goroutine.
	Spawn func(func())
}

// View is a read-only copy of the session for rendering.
type View struct {
	State     State    `json:"state"`
	Countdown int      `json:"countdown"`
	Round     string   `json:"round,omitempty"`
	Players   []Player `json:"players"`
	Winner    *Winner  `json:"winner,omitempty"`
	Advisory  string   `json:"advisory,omitempty"`
}

// Session is the state holder of one game screen. All mutation goes through
// its mutex and every write re-checks state and generation, so timer
// callbacks from a previous round become no-ops after Start or Reset.
type Session struct {
	mu        sync.Mutex
	settings  Settings
	active    Settings
	clock     Clock
	log       logrus.FieldLogger
	collab    Collaborators
	newRound  func() string
	spawn     func(func())
	eval      *WinEvaluator
	state     State
	countdown int
	round     string
	gen       uint64
	players   []Player
	advisory  string
	timers    []Timer
	listeners []Listener

	// pending holds events in mutation order until one goroutine delivers
	// them. delivering is set while that goroutine runs listeners.
	pending    []Event
	delivering bool
}

// NewSession creates a session in the waiting state.
func NewSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		cfg.Logger = l
	}
	if cfg.NewRound == nil {
		cfg.NewRound = func() string { return uuid.NewString() }
	}
	if cfg.Spawn == nil {
		cfg.Spawn = func(f func()) { go f() }
	}
	if cfg.Settings == (Settings{}) {
		cfg.Settings = DefaultSettings()
	}

	return &Session{
		settings:  cfg.Settings,
		active:    cfg.Settings,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		collab:    cfg.Collaborators,
		newRound:  cfg.NewRound,
		spawn:     cfg.Spawn,
		eval:      NewWinEvaluator(cfg.Clock.Now),
		state:     StateWaiting,
		countdown: cfg.Settings.CountdownFrom,
	}
}

// Subscribe registers a listener for all future events.
func (s *Session) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Settings returns the settings the next round will use.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetSettings replaces the settings used from the next Start on.
func (s *Session) SetSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	if s.state == StateWaiting {
		s.countdown = settings.CountdownFrom
	}
	return nil
}

// View returns a copy of the current session for rendering.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		State:     s.state,
		Countdown: s.countdown,
		Round:     s.round,
		Players:   s.players,
		Advisory:  s.advisory,
	}
	if w, ok := s.eval.Winner(); ok {
		v.Winner = &w
	}
	return v
}

// Playing reports whether frames are being consumed and, if so, the
// generation a detection pass must hand back to Observe.
func (s *Session) Playing() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen, s.state == StatePlaying
}

// Start moves waiting to countdown. It is rejected with ErrModelsNotReady
// while the landmark models are loading.
func (s *Session) Start() error {
	s.mu.Lock()
	_, err := Next(s.state, TriggerStart)
	ready := s.collab.ModelsReady
	s.mu.Unlock()
	if err != nil {
		return err
	}

	// ModelsReady runs unlocked.
	if ready != nil && !ready() {
		s.mu.Lock()
		s.advisory = "Models are still loading, please wait..."
		out := s.eventLocked(EventAdvisory)
		out.Message = s.advisory
		s.queueLocked(out)
		s.mu.Unlock()
		s.flush()
		return ErrModelsNotReady
	}

	s.mu.Lock()
	next, err := Next(s.state, TriggerStart)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.cancelTimersLocked()
	s.gen++
	gen := s.gen
	s.active = s.settings
	s.state = next
	s.countdown = s.active.CountdownFrom
	s.round = s.newRound()
	s.players = nil
	s.advisory = ""
	s.eval.Reset()

	s.log.WithFields(logrus.Fields{"round": s.round, "state": s.state}).Info("round started")

	s.queueLocked(s.eventLocked(EventState), s.tickEventLocked())
	s.scheduleLocked(s.active.TickInterval, func() { s.tick(gen) })
	camera := s.collab.StartCamera
	s.mu.Unlock()

	s.flush()
	if camera != nil {
		s.spawn(func() { s.startCamera(gen, camera) })
	}
	return nil
}

// Reset returns to waiting from any state, clearing the winner, players and
// countdown and cancelling every pending timer.
func (s *Session) Reset() {
	s.mu.Lock()

	next, _ := Next(s.state, TriggerReset)
	s.cancelTimersLocked()
	s.gen++
	prev := s.state
	s.state = next
	s.countdown = s.settings.CountdownFrom
	s.round = ""
	s.players = nil
	s.advisory = ""
	s.eval.Reset()

	s.log.WithField("from", prev).Info("session reset")

	s.queueLocked(s.eventLocked(EventState))
	s.mu.Unlock()
	s.flush()
}

// Observe consumes one frame's landmarks. It does nothing unless the session
// is playing and gen is the generation returned by Playing, so a detection
// pass that straddles a transition is discarded.
func (s *Session) Observe(gen uint64, obs detector.Observation, size FrameSize) ([]Player, bool) {
	s.mu.Lock()

	if gen != s.gen || s.state != StatePlaying {
		s.mu.Unlock()
		return nil, false
	}

	assoc := Associate(obs, size, s.active.Thresholds)
	s.players = assoc.Players

	frame := s.eventLocked(EventPlayers)
	frame.Touches = len(assoc.Touches)
	events := []Event{frame}

	var won *Winner
	for _, face := range assoc.Touches {
		if !s.eval.Signal(face) {
			continue
		}
		w, _ := s.eval.Winner()
		won = &w
		s.log.WithFields(logrus.Fields{"round": s.round, "face": face}).Info("nose touched, winner declared")
		s.scheduleLocked(s.active.GraceDelay, func() { s.graceElapsed(gen) })

		out := s.eventLocked(EventWinner)
		out.Winner = won
		events = append(events, out)
	}

	round := s.round
	capture := s.collab.Capture
	players := assoc.Players
	s.queueLocked(events...)
	s.mu.Unlock()

	s.flush()
	if won != nil && capture != nil {
		s.spawn(func() { s.captureWinner(gen, round, capture) })
	}
	return players, true
}

func (s *Session) tick(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateCountdown || s.countdown <= 0 {
		s.mu.Unlock()
		return
	}

	s.countdown--
	out := s.tickEventLocked()
	if s.countdown > 0 {
		s.scheduleLocked(s.active.TickInterval, func() { s.tick(gen) })
	} else {
		s.scheduleLocked(s.active.GoHold, func() { s.countdownDone(gen) })
	}
	s.queueLocked(out)
	s.mu.Unlock()
	s.flush()
}

func (s *Session) countdownDone(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	next, err := Next(s.state, TriggerCountdownDone)
	if err != nil {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.eval.Arm(s.round)
	s.log.WithField("round", s.round).Info("playing")

	s.queueLocked(s.eventLocked(EventState))
	s.mu.Unlock()
	s.flush()
}

func (s *Session) graceElapsed(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if _, ok := s.eval.Winner(); !ok {
		s.mu.Unlock()
		return
	}
	next, err := Next(s.state, TriggerGraceElapsed)
	if err != nil {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.log.WithField("round", s.round).Info("showing winner")

	s.queueLocked(s.eventLocked(EventState))
	s.mu.Unlock()
	s.flush()
}

func (s *Session) startCamera(gen uint64, start func() error) {
	err := start()
	if err == nil {
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.log.WithError(err).WithField("round", s.round).Warn("camera unavailable")
	s.advisory = "Camera access denied. Please allow camera access and try again."
	out := s.eventLocked(EventAdvisory)
	out.Message = s.advisory
	s.queueLocked(out)
	s.mu.Unlock()
	s.flush()
}

func (s *Session) captureWinner(gen uint64, round string, capture func() (*Image, error)) {
	img, err := capture()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	var out Event
	switch {
	case err != nil:
		s.log.WithError(err).WithField("round", round).Warn("winner screenshot failed")
		out = s.eventLocked(EventAdvisory)
		out.Message = "Could not capture the winning moment."
	case img == nil || !s.eval.Attach(round, img):
		s.mu.Unlock()
		return
	default:
		w, _ := s.eval.Winner()
		out = s.eventLocked(EventWinnerImage)
		out.Winner = &w
	}
	s.queueLocked(out)
	s.mu.Unlock()
	s.flush()
}

// WinnerImage returns the captured image of the current winner, if any.
func (s *Session) WinnerImage() (*Image, bool) {
	w, ok := s.eval.Winner()
	if !ok || w.Image == nil {
		return nil, false
	}
	return w.Image, true
}

func (s *Session) scheduleLocked(d time.Duration, f func()) {
	s.timers = append(s.timers, s.clock.AfterFunc(d, f))
}

func (s *Session) cancelTimersLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

func (s *Session) eventLocked(kind EventKind) Event {
	e := Event{
		Kind:      kind,
		Round:     s.round,
		State:     s.state,
		Countdown: s.countdown,
		At:        s.clock.Now(),
	}
	if kind == EventPlayers {
		e.Players = s.players
	}
	if w, ok := s.eval.Winner(); ok && kind == EventState {
		e.Winner = &w
	}
	return e
}

func (s *Session) tickEventLocked() Event {
	e := s.eventLocked(EventTick)
	e.Cue = CueBeep
	if s.countdown == 0 {
		e.Cue = CueGo
	}
	return e
}

func (s *Session) queueLocked(events ...Event) {
	s.pending = append(s.pending, events...)
}

// flush delivers pending events to listeners in the order they were queued.
// Only one goroutine delivers at a time; a caller that finds delivery in
// progress leaves its events to that goroutine. Listeners run unlocked and
// may call back into the session.
func (s *Session) flush() {
	s.mu.Lock()
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	for len(s.pending) > 0 {
		batch := s.pending
		s.pending = nil
		listeners := make([]Listener, len(s.listeners))
		copy(listeners, s.listeners)
		s.mu.Unlock()

		for _, e := range batch {
			for _, l := range listeners {
				l(e)
			}
		}

		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}
