// Package tracker is the per-session facade: it owns the event collector,
// the fingerprint registry, the snapshot schedule, and the detection engine
// wiring for one tracked page session.
package tracker

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beaconsoft/botgate/internal/behavior"
	"github.com/beaconsoft/botgate/internal/bus"
	"github.com/beaconsoft/botgate/internal/collect"
	"github.com/beaconsoft/botgate/internal/detect"
	"github.com/beaconsoft/botgate/internal/fingerprint"
	"github.com/beaconsoft/botgate/internal/metrics"
	"github.com/beaconsoft/botgate/internal/netsig"
)

// ActionScheduled tags snapshots captured by the periodic schedule rather
// than a gated action.
const ActionScheduled = "scheduled"

// Options configures a session tracker.
type Options struct {
	SessionID        string
	Transport        detect.Transport
	ScheduleInterval time.Duration
	MaxRecentActions int
	// PageLoadTime is the client-reported load instant in milliseconds.
	PageLoadTime int64
	PageContext  detect.Context
	// Audit receives every detection result for the audit pipeline. May be
	// nil.
	Audit func(detect.Result)
}

// Tracker drives capture and detection for a single session.
type Tracker struct {
	sessionID string
	transport detect.Transport
	audit     func(detect.Result)

	collector *collect.Collector
	registry  *fingerprint.Registry
	agg       behavior.Aggregator

	// Actions recorded by the collector and detection results, both
	// session-scoped.
	Actions *bus.Bus[collect.ActionEvent]
	Results *bus.Bus[detect.Result]

	scheduleIvl time.Duration

	mu      sync.Mutex
	pageCtx detect.Context
	sig     *netsig.Signature
	ip      string

	probe      atomic.Pointer[fingerprint.EnvironmentProbe]
	probeReady chan struct{}
	probeOnce  sync.Once

	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	wg       sync.WaitGroup
}

func New(opts Options) *Tracker {
	t := &Tracker{
		sessionID:   opts.SessionID,
		transport:   opts.Transport,
		audit:       opts.Audit,
		Actions:     bus.New[collect.ActionEvent](),
		Results:     bus.New[detect.Result](),
		scheduleIvl: opts.ScheduleInterval,
		pageCtx:     opts.PageContext,
		probeReady:  make(chan struct{}),
		stopCh:      make(chan struct{}),
	}
	t.collector = collect.New(opts.SessionID, t.Actions, collect.Options{
		MaxRecentActions: opts.MaxRecentActions,
		PageLoadTime:     opts.PageLoadTime,
	})
	// The registry blocks until the page delivers its environment probe,
	// then memoizes; concurrent resolvers share the one computation.
	t.registry = fingerprint.NewRegistry(fingerprint.ProbeFunc(t.awaitProbe))
	return t
}

func (t *Tracker) SessionID() string { return t.sessionID }

// Start begins collection and the periodic snapshot schedule.
func (t *Tracker) Start() {
	t.collector.Start()
	if t.scheduleIvl > 0 {
		t.wg.Add(1)
		go t.scheduleLoop()
	}
}

// Stop halts collection and the schedule. Results still in flight are
// dropped, not delivered to a stopped session.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		close(t.stopCh)
		t.collector.Stop()
		t.wg.Wait()
	})
}

// Ingest feeds one raw page event into the collector.
func (t *Tracker) Ingest(ev collect.RawEvent) {
	t.collector.Ingest(ev)
}

// SetProbe stores the client environment probe. Only the first probe per
// session counts; the fingerprint is immutable after resolution.
func (t *Tracker) SetProbe(p fingerprint.EnvironmentProbe) {
	t.probeOnce.Do(func() {
		t.probe.Store(&p)
		close(t.probeReady)
	})
}

func (t *Tracker) awaitProbe(ctx context.Context) (*fingerprint.EnvironmentProbe, error) {
	select {
	case <-t.probeReady:
		return t.probe.Load(), nil
	case <-t.stopCh:
		return nil, errors.New("tracker: session stopped before probe")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetNetworkSignature records the latest server-observed request signature
// for this session. Called by the ingest handler on every beacon.
func (t *Tracker) SetNetworkSignature(sig netsig.Signature, clientIP string) {
	t.mu.Lock()
	t.sig = &sig
	t.ip = clientIP
	t.mu.Unlock()
}

// UpdateContext replaces the forwarded page context.
func (t *Tracker) UpdateContext(ctx detect.Context) {
	t.mu.Lock()
	t.pageCtx = ctx
	t.mu.Unlock()
}

// CaptureAction records the action, snapshots current behavior, and sends
// it to the detector asynchronously. The result, when it arrives, is
// published on Results and handed to the audit pipeline.
func (t *Tracker) CaptureAction(ctx context.Context, actionType string) error {
	if t.stopped.Load() {
		return errors.New("tracker: session stopped")
	}
	if actionType != ActionScheduled {
		t.collector.RecordRecentAction(actionType, nil, time.Now().UnixMilli())
	}

	snap, err := t.buildSnapshot(ctx, actionType)
	if err != nil {
		return err
	}

	// Fire and forget: a stopped session drops the result instead of
	// delaying Stop on the detector round trip.
	go func() {
		res, err := t.transport.Send(context.Background(), snap)
		if err != nil {
			log.Printf("[tracker] %s: detection send for %s failed: %v", t.sessionID, actionType, err)
			return
		}
		if t.stopped.Load() {
			return
		}
		t.Results.Publish(res)
		if t.audit != nil {
			t.audit(res)
		}
	}()
	return nil
}

func (t *Tracker) buildSnapshot(ctx context.Context, actionType string) (detect.Snapshot, error) {
	state := t.collector.State()

	// Bound the fingerprint wait so a page that never sends its probe does
	// not stall captures for the full caller deadline.
	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	fp, err := t.registry.Resolve(rctx)
	if err != nil {
		// No probe yet; send the degraded placeholder rather than nothing.
		fp = fingerprint.Placeholder()
	}

	t.mu.Lock()
	pageCtx := t.pageCtx
	sig := t.sig
	ip := t.ip
	t.mu.Unlock()

	detect.MergeNetworkSignature(&fp, sig)

	pageCtx.ActionType = actionType
	pageCtx.PageLoadTime = state.PageLoadTime
	if state.FirstInteractionTime != 0 {
		pageCtx.FirstInteractionTime = state.FirstInteractionTime
		pageCtx.FirstInteractionDelay = state.FirstInteractionDelay
	}

	return detect.Snapshot{
		SessionID:         t.sessionID,
		Timestamp:         time.Now().UnixMilli(),
		DeviceFingerprint: fp,
		BehavioralData:    t.agg.Compute(state),
		RecentActions:     state.RecentActions,
		Context:           pageCtx,
		ClientIP:          ip,
	}, nil
}

func (t *Tracker) scheduleLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.scheduleIvl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.SnapshotCycles.Inc()
			ctx, cancel := context.WithTimeout(context.Background(), t.scheduleIvl)
			if err := t.CaptureAction(ctx, ActionScheduled); err != nil {
				log.Printf("[tracker] %s: scheduled capture failed: %v", t.sessionID, err)
			}
			cancel()
		case <-t.stopCh:
			return
		}
	}
}
