package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ayusman/nosegoes/internal/detector"
	"github.com/ayusman/nosegoes/internal/game"
)

// startLoop launches the detection loop unless one is already running.
func (a *App) startLoop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.loopCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.loopCancel = cancel
	a.loops.Add(1)
	go a.runPipeline(ctx)

	a.log.Debug("detection loop started")
}

// stopLoop cancels the detection loop. A pass already in flight finishes on
// its own and its result is discarded by the session.
func (a *App) stopLoop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loopCancel == nil {
		return
	}
	a.loopCancel()
	a.loopCancel = nil

	a.log.Debug("detection loop stopped")
}

// runPipeline paces detection passes with the refresh-rate limiter until ctx
// is cancelled.
func (a *App) runPipeline(ctx context.Context) {
	defer a.loops.Done()

	for {
		if err := a.limiter.Wait(ctx); err != nil {
			return
		}
		a.Step(ctx)
	}
}

// Step runs one detection pass: read a frame, detect faces and hands
// concurrently, and hand the result to the session tagged with the
// generation current when the pass began. It returns false without doing
// anything when a pass is already in flight or the session is not playing.
func (a *App) Step(ctx context.Context) bool {
	if !a.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer a.inFlight.Store(false)

	gen, playing := a.session.Playing()
	if !playing {
		return false
	}

	start := time.Now()
	obs, size, err := a.detect(ctx)
	a.metrics.ObservePass(time.Since(start), err)
	if err != nil {
		a.log.WithError(err).Debug("detection pass failed")
	}

	a.session.Observe(gen, obs, size)
	return true
}

// detect reads one frame and runs both landmark models on it. Any failure
// yields an empty observation so the round keeps running.
func (a *App) detect(ctx context.Context) (detector.Observation, game.FrameSize, error) {
	frame, err := a.camera.ReadFrame()
	if err != nil {
		return detector.Observation{}, game.FrameSize{}, fmt.Errorf("read frame: %w", err)
	}
	defer frame.Close()

	a.frames.Store(frame)
	size := game.FrameSize{Width: frame.Cols(), Height: frame.Rows()}

	var obs detector.Observation
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		faces, err := a.faces.DetectFaces(frame)
		if err != nil {
			return fmt.Errorf("detect faces: %w", err)
		}
		obs.Faces = faces
		return ctx.Err()
	})
	g.Go(func() error {
		hands, err := a.hands.DetectHands(frame)
		if err != nil {
			return fmt.Errorf("detect hands: %w", err)
		}
		obs.Hands = hands
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		return detector.Observation{}, size, err
	}

	return obs, size, nil
}
