package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/nosegoes/internal/game"
)

// DefaultTimeout bounds one plugin call.
const DefaultTimeout = 5 * time.Second

// Binding routes an event to one plugin action.
type Binding struct {
	Plugin string
	Action string
	Config json.RawMessage
}

// BindingSource looks up the enabled bindings for an event.
type BindingSource interface {
	BindingsFor(event string) ([]Binding, error)
}

// Target is one plugin call resolved for an event.
type Target struct {
	Plugin *Plugin
	Action string
	Config json.RawMessage
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Manager  *Manager
	Executor *Executor
	// Bindings may be nil, in which case manifests alone decide.
	Bindings BindingSource
	Logger   logrus.FieldLogger
	// MaxConcurrent caps plugin processes running at once.
	MaxConcurrent int
}

// Dispatcher runs feedback plugins for session events. Calls never block the
// session: each target runs on its own goroutine.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	bindings BindingSource
	log      logrus.FieldLogger
	sem      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Executor == nil {
		cfg.Executor = NewExecutor(DefaultTimeout)
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		cfg.Logger = l
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		manager:  cfg.Manager,
		executor: cfg.Executor,
		bindings: cfg.Bindings,
		log:      cfg.Logger,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Targets resolves the plugin calls for event. Explicit bindings take
// precedence over manifest subscriptions.
func (d *Dispatcher) Targets(event string) ([]Target, error) {
	if d.manager == nil {
		return nil, nil
	}

	if d.bindings != nil {
		bindings, err := d.bindings.BindingsFor(event)
		if err != nil {
			return nil, fmt.Errorf("load bindings for %s: %w", event, err)
		}
		if len(bindings) > 0 {
			var targets []Target
			var errs []error
			for _, b := range bindings {
				p, err := d.manager.Get(b.Plugin)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", b.Plugin, err))
					continue
				}
				targets = append(targets, Target{Plugin: p, Action: b.Action, Config: b.Config})
			}
			return targets, errors.Join(errs...)
		}
	}

	var targets []Target
	for _, p := range d.manager.Subscribers(event) {
		targets = append(targets, Target{Plugin: p, Action: event})
	}
	return targets, nil
}

// Handle is a game.Listener. Per-frame player updates are not forwarded.
func (d *Dispatcher) Handle(e game.Event) {
	if e.Kind == game.EventPlayers || d.ctx.Err() != nil {
		return
	}

	event := string(e.Kind)
	targets, err := d.Targets(event)
	if err != nil {
		d.log.WithError(err).WithField("event", event).Warn("some plugin bindings could not be resolved")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for _, t := range targets {
		req := NewRequest(e, t.Action, t.Config)
		d.wg.Add(1)
		go d.run(t.Plugin, req)
	}
}

func (d *Dispatcher) run(p *Plugin, req *Request) {
	defer d.wg.Done()

	select {
	case d.sem <- struct{}{}:
	case <-d.ctx.Done():
		return
	}
	defer func() { <-d.sem }()

	log := d.log.WithFields(logrus.Fields{"plugin": p.Manifest.Name, "action": req.Action, "round": req.Round})
	resp, err := d.executor.Execute(d.ctx, p, req)
	if err != nil {
		log.WithError(err).Warn("plugin failed")
		return
	}
	if !resp.Success {
		log.WithField("error", resp.Error).Warn("plugin reported failure")
		return
	}
	log.Debug("plugin ran")
}

// Wait blocks until every dispatched call has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels running plugin calls and waits for them to exit.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	return nil
}

// NewRequest builds the plugin request for a session event.
func NewRequest(e game.Event, action string, config json.RawMessage) *Request {
	req := &Request{
		Action:    action,
		Event:     string(e.Kind),
		Round:     e.Round,
		State:     string(e.State),
		Countdown: e.Countdown,
		Message:   e.Message,
		Config:    config,
	}
	if e.Cue != "" {
		req.Cue = string(e.Cue)
		req.Hz = e.Cue.Hz()
	}
	if e.Winner != nil {
		face := e.Winner.Face
		req.Face = &face
	}
	return req
}
