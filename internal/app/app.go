// Package app wires the camera, the landmark models and the game session
// together and drives per-frame detection while a round is being played.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ayusman/nosegoes/internal/capture"
	"github.com/ayusman/nosegoes/internal/detector"
	"github.com/ayusman/nosegoes/internal/game"
	"github.com/ayusman/nosegoes/internal/logging"
	"github.com/ayusman/nosegoes/internal/metrics"
	"github.com/ayusman/nosegoes/internal/plugin"
	"github.com/ayusman/nosegoes/internal/store"
)

// DefaultRefreshRate is how many detection passes run per second at most.
const DefaultRefreshRate = 30

// SettingsKey is where game tuning lives in the settings table.
const SettingsKey = "game"

// Config holds the collaborators and options for an App.
type Config struct {
	Camera capture.Camera
	Faces  detector.FaceLandmarker
	Hands  detector.HandLandmarker

	// Store persists game settings and plugin bindings. Optional.
	Store *store.Store
	// PluginDir is scanned for feedback plugins. Empty disables plugins.
	PluginDir string
	Metrics   *metrics.Metrics
	Logger    logrus.FieldLogger

	Clock       game.Clock
	RefreshRate float64
	// Spawn overrides how the session runs camera start and screenshots.
	Spawn func(func())
}

// Status reports what the game still waits for before a round can be useful.
type Status struct {
	ModelsReady bool   `json:"models_ready"`
	CameraReady bool   `json:"camera_ready"`
	VideoReady  bool   `json:"video_ready"`
	Message     string `json:"message"`
}

// App is the main application that orchestrates detection and the game.
type App struct {
	config     Config
	camera     capture.Camera
	faces      detector.FaceLandmarker
	hands      detector.HandLandmarker
	frames     *capture.FrameBuffer
	session    *game.Session
	pluginMgr  *plugin.Manager
	dispatcher *plugin.Dispatcher
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
	limiter    *rate.Limiter
	inFlight   atomic.Bool

	mu         sync.Mutex
	loopCancel context.CancelFunc
	loops      sync.WaitGroup
	closed     bool
}

// New creates an App. The session starts in the waiting state; call
// LoadModels to warm the landmark models.
func New(config Config) (*App, error) {
	if config.Camera == nil || config.Faces == nil || config.Hands == nil {
		return nil, errors.New("app: camera, face and hand landmarkers are required")
	}
	if config.RefreshRate <= 0 {
		config.RefreshRate = DefaultRefreshRate
	}
	if config.Metrics == nil {
		config.Metrics = metrics.New()
	}

	a := &App{
		config:  config,
		camera:  config.Camera,
		faces:   config.Faces,
		hands:   config.Hands,
		frames:  capture.NewFrameBuffer(),
		metrics: config.Metrics,
		log:     logging.Component(config.Logger, "app"),
		limiter: rate.NewLimiter(rate.Limit(config.RefreshRate), 1),
	}

	a.session = game.NewSession(game.Config{
		Settings: a.loadSettings(),
		Clock:    config.Clock,
		Logger:   logging.Component(config.Logger, "game"),
		Spawn:    config.Spawn,
		Collaborators: game.Collaborators{
			ModelsReady: a.ModelsReady,
			StartCamera: a.startCamera,
			Capture:     a.captureWinner,
		},
	})

	a.session.Subscribe(a.onEvent)
	a.session.Subscribe(a.metrics.Observe)

	if config.PluginDir != "" {
		a.pluginMgr = plugin.NewManager(config.PluginDir)
		if err := a.pluginMgr.Discover(); err != nil {
			a.log.WithError(err).Warn("plugin discovery failed")
		} else {
			a.log.WithField("count", len(a.pluginMgr.List())).Info("plugins discovered")
		}
		dc := plugin.DispatcherConfig{
			Manager: a.pluginMgr,
			Logger:  logging.Component(config.Logger, "plugin"),
		}
		if config.Store != nil {
			dc.Bindings = storeBindings{repo: config.Store.Bindings()}
		}
		a.dispatcher = plugin.NewDispatcher(dc)
		a.session.Subscribe(a.dispatcher.Handle)
	}

	return a, nil
}

func (a *App) loadSettings() game.Settings {
	settings := game.DefaultSettings()
	if a.config.Store == nil {
		return settings
	}

	var stored game.Settings
	err := a.config.Store.Settings().GetJSON(SettingsKey, &stored)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return settings
	case err != nil:
		a.log.WithError(err).Warn("stored game settings unreadable, using defaults")
		return settings
	}
	if err := stored.Validate(); err != nil {
		a.log.WithError(err).Warn("stored game settings invalid, using defaults")
		return settings
	}
	return stored
}

// Session returns the game session.
func (a *App) Session() *game.Session {
	return a.session
}

// Camera returns the camera instance.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// Metrics returns the metrics collectors.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// PluginManager returns the plugin manager, or nil when plugins are off.
func (a *App) PluginManager() *plugin.Manager {
	return a.pluginMgr
}

// View returns the current session for rendering.
func (a *App) View() game.View {
	return a.session.View()
}

// Subscribe registers a listener for session events.
func (a *App) Subscribe(l game.Listener) {
	a.session.Subscribe(l)
}

// Start begins a round.
func (a *App) Start() error {
	return a.session.Start()
}

// Reset abandons the current round.
func (a *App) Reset() {
	a.session.Reset()
}

// Settings returns the tuning the next round will use.
func (a *App) Settings() game.Settings {
	return a.session.Settings()
}

// UpdateSettings validates, persists and applies settings from the next
// round on.
func (a *App) UpdateSettings(s game.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if a.config.Store != nil {
		if err := a.config.Store.Settings().SetJSON(SettingsKey, s); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}
	return a.session.SetSettings(s)
}

// LoadModels warms both landmark models concurrently. Models that need no
// warm-up are skipped.
func (a *App) LoadModels(ctx context.Context) error {
	type loader interface{ Load() error }

	g, ctx := errgroup.WithContext(ctx)
	for name, m := range map[string]any{"face": a.faces, "hand": a.hands} {
		l, ok := m.(loader)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := l.Load(); err != nil {
				return fmt.Errorf("load %s model: %w", name, err)
			}
			a.log.WithField("model", name).Info("landmark model loaded")
			return nil
		})
	}
	return g.Wait()
}

// ModelsReady reports whether both landmark models are loaded.
func (a *App) ModelsReady() bool {
	return a.faces.Ready() && a.hands.Ready()
}

// Status reports model, camera and video readiness.
func (a *App) Status() Status {
	w, h := a.camera.Size()
	s := Status{
		ModelsReady: a.ModelsReady(),
		CameraReady: a.camera.IsOpen(),
		VideoReady:  game.FrameSize{Width: w, Height: h}.Valid(),
	}
	switch {
	case !s.ModelsReady:
		s.Message = "Loading AI models..."
	case !s.CameraReady:
		s.Message = "Click Start Game to enable camera"
	case !s.VideoReady:
		s.Message = "Camera ready, waiting for video..."
	default:
		s.Message = "All systems ready!"
	}
	return s
}

// WinnerImage returns the JPEG of the winning moment, if captured.
func (a *App) WinnerImage() (*game.Image, bool) {
	return a.session.WinnerImage()
}

// Preview returns the latest camera frame as JPEG. While a round is being
// played it is the frame the detection loop last consumed; otherwise a fresh
// frame is read when the camera is open.
func (a *App) Preview() ([]byte, error) {
	if _, playing := a.session.Playing(); !playing && a.camera.IsOpen() {
		frame, err := a.camera.ReadFrame()
		if err == nil {
			a.frames.Store(frame)
			frame.Close()
		}
	}
	return a.frames.Snapshot()
}

func (a *App) startCamera() error {
	if err := a.camera.Open(); err != nil {
		return err
	}
	w, h := a.camera.Size()
	a.log.WithFields(logrus.Fields{"width": w, "height": h}).Info("camera started")
	return nil
}

func (a *App) captureWinner() (*game.Image, error) {
	data, err := a.frames.Snapshot()
	if err != nil {
		return nil, err
	}
	return &game.Image{Data: data, ContentType: capture.JPEGContentType}, nil
}

func (a *App) onEvent(e game.Event) {
	if e.Kind != game.EventState {
		return
	}
	switch e.State {
	case game.StateCountdown:
		a.warmModels()
	case game.StatePlaying:
		if _, ok := a.session.Playing(); ok {
			a.startLoop()
			return
		}
	}
	a.stopLoop()
}

// warmModels restarts landmark services that were stopped while idle so the
// first frame of the round does not pay for it.
func (a *App) warmModels() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.loops.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.loops.Done()
		if err := a.LoadModels(context.Background()); err != nil {
			a.log.WithError(err).Warn("model warm-up failed")
		}
	}()
}

// Close stops detection and releases the camera, models and plugins.
func (a *App) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.session.Reset()
	a.stopLoop()
	a.loops.Wait()

	var errs []error
	if a.dispatcher != nil {
		errs = append(errs, a.dispatcher.Close())
	}
	errs = append(errs,
		a.camera.Close(),
		a.faces.Close(),
		a.hands.Close(),
		a.frames.Close(),
	)
	if err := errors.Join(errs...); err != nil {
		a.log.WithError(err).Warn("shutdown incomplete")
		return err
	}
	a.log.Info("stopped")
	return nil
}

// storeBindings serves plugin bindings from the sqlite store.
type storeBindings struct {
	repo *store.BindingRepository
}

func (s storeBindings) BindingsFor(event string) ([]plugin.Binding, error) {
	rows, err := s.repo.ListEnabled(event)
	if err != nil {
		return nil, err
	}
	out := make([]plugin.Binding, 0, len(rows))
	for _, b := range rows {
		out = append(out, plugin.Binding{Plugin: b.PluginName, Action: b.ActionName, Config: b.Config})
	}
	return out, nil
}
