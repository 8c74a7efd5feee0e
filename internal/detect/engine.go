package detect

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beaconsoft/botgate/internal/bus"
	"github.com/beaconsoft/botgate/internal/metrics"
	"github.com/beaconsoft/botgate/pkg/config"
)

// Horizon action tags attached to timed detection cycles.
const (
	ActionTimedShort  = "timed_short"
	ActionTimedMedium = "timed_medium"
	ActionTimedLong   = "timed_long"
)

// Capturer triggers an out-of-schedule snapshot capture tagged with an
// action type. The tracker implements it.
type Capturer interface {
	CaptureAction(ctx context.Context, actionType string) error
}

// Scores holds the latest timed-horizon bot scores. Nil means the horizon
// has not produced a result yet.
type Scores struct {
	Short  *float64 `json:"short,omitempty"`
	Medium *float64 `json:"medium,omitempty"`
	Long   *float64 `json:"long,omitempty"`
}

// Engine runs timed multi-horizon detection after page load and serves
// on-demand checks for gated actions. At most one detection executes at a
// time; a horizon firing while another check runs is skipped, not queued.
type Engine struct {
	capture Capturer
	results *bus.Bus[Result]
	cfg     config.EngineConfig

	isExecuting atomic.Bool

	mu      sync.Mutex
	timers  []*time.Timer
	scores  Scores
	stopped bool
}

func NewEngine(capture Capturer, results *bus.Bus[Result], cfg config.EngineConfig) *Engine {
	return &Engine{
		capture: capture,
		results: results,
		cfg:     cfg,
	}
}

// StartTimers arms the three detection horizons. Safe to call once per
// engine; timers that fire after Stop are no-ops.
func (e *Engine) StartTimers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || len(e.timers) > 0 {
		return
	}
	e.timers = []*time.Timer{
		time.AfterFunc(e.cfg.ShortHorizon, func() { e.runTimed(ActionTimedShort) }),
		time.AfterFunc(e.cfg.MediumHorizon, func() { e.runTimed(ActionTimedMedium) }),
		time.AfterFunc(e.cfg.LongHorizon, func() { e.runTimed(ActionTimedLong) }),
	}
}

// Stop cancels pending horizons. Results already in flight are dropped by
// the stopped check in runTimed.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
}

// TimedScores returns a copy of the latest horizon scores.
func (e *Engine) TimedScores() Scores {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scores
}

func (e *Engine) runTimed(action string) {
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return
	}
	if !e.isExecuting.CompareAndSwap(false, true) {
		log.Printf("[detect] horizon %s skipped: detection already executing", action)
		metrics.DetectionsSkipped.Inc()
		return
	}
	defer e.isExecuting.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WaitTimeout+time.Second)
	defer cancel()
	outcome := e.check(ctx, action)

	e.mu.Lock()
	if !e.stopped {
		score := outcome.BotScore
		switch action {
		case ActionTimedShort:
			e.scores.Short = &score
		case ActionTimedMedium:
			e.scores.Medium = &score
		case ActionTimedLong:
			e.scores.Long = &score
		}
	}
	e.mu.Unlock()
	metrics.ObserveDetection(action, outcome.Allowed, outcome.NeedsChallenge)
}

// CheckDetection runs an on-demand detection for a gated action. It always
// returns an outcome: when no result arrives within the wait timeout the
// check fails open so a slow detector never blocks navigation.
func (e *Engine) CheckDetection(ctx context.Context, actionType string) Outcome {
	// Gated actions run even when a timed horizon is mid-flight; only the
	// schedule yields, never the caller.
	if e.isExecuting.CompareAndSwap(false, true) {
		defer e.isExecuting.Store(false)
	}
	outcome := e.check(ctx, actionType)
	metrics.ObserveDetection(actionType, outcome.Allowed, outcome.NeedsChallenge)
	return outcome
}

func (e *Engine) check(ctx context.Context, actionType string) Outcome {
	// Subscribe before triggering capture so the result cannot slip past.
	ch, unsubscribe := e.results.SubscribeChan(func(r Result) bool {
		return r.ActionType == "" || r.ActionType == actionType
	}, 1)
	defer unsubscribe()

	if err := e.capture.CaptureAction(ctx, actionType); err != nil {
		log.Printf("[detect] capture for %s failed, failing open: %v", actionType, err)
		return FailOpenOutcome()
	}

	timer := time.NewTimer(e.cfg.WaitTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return Classify(res, e.cfg.ChallengeThreshold, e.cfg.BlockThreshold)
	case <-timer.C:
		log.Printf("[detect] no result for %s within %s, failing open", actionType, e.cfg.WaitTimeout)
		metrics.DetectionTimeouts.Inc()
		return FailOpenOutcome()
	case <-ctx.Done():
		return FailOpenOutcome()
	}
}
