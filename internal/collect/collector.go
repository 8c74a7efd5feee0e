// Package collect buffers raw browser interaction events for one session and
// derives the online statistics the aggregator reads at snapshot time.
package collect

import (
	"math"
	"sync"

	"github.com/beaconsoft/botgate/internal/bus"
)

// Buffer capacities per event kind. Mouse movement dominates event volume,
// clicks and scrolls arrive an order of magnitude slower.
const (
	mouseBufferCap  = 1000
	clickBufferCap  = 100
	keyBufferCap    = 500
	scrollBufferCap = 100

	defaultMaxRecentActions = 120

	// Throttle windows for high-frequency sources.
	mouseThrottleMS  = 50
	scrollThrottleMS = 100

	doubleClickWindowMS = 500
	scrollPauseMS       = 500

	// Every Nth retained mouse sample is mirrored into recent actions.
	mouseRecentSampleEvery = 4
)

var modifierKeys = map[string]bool{
	"Shift":   true,
	"Control": true,
	"Alt":     true,
	"Meta":    true,
}

// ActionEvent is published on the bus whenever a discrete action is recorded.
type ActionEvent struct {
	SessionID string
	Action    string
	Timestamp int64
}

type Options struct {
	MaxRecentActions int
	// PageLoadTime anchors dwell-time features; client milliseconds.
	PageLoadTime int64
}

// Collector is the single writer of its buffers; Ingest and the action
// recorder mutate state under one mutex, State returns copies.
type Collector struct {
	mu sync.Mutex

	sessionID        string
	actions          *bus.Bus[ActionEvent]
	maxRecentActions int
	started          bool

	pageLoadTime          int64
	firstInteractionTime  int64
	firstInteractionDelay int64

	lastMouseRetained  int64
	lastMouseX         float64
	lastMouseY         float64
	haveMousePos       bool
	mouseRecentCounter int

	lastClickTime int64
	haveLastClick bool

	lastScrollRetained int64
	lastScrollTop      float64
	lastScrollLeft     float64
	lastScrollTime     int64
	haveLastScroll     bool

	keyDownAt map[string]int64

	mouseEvents   []MouseMove
	clickEvents   []Click
	keyEvents     []KeyEvent
	scrollEvents  []ScrollEvent
	recentActions []RecentAction

	scrollPauses     int
	scrollTotal      int
	totalClickCount  int
	doubleClickCount int
	pasteEvents      int
	inputEvents      int
	formInteractions int
}

func New(sessionID string, actions *bus.Bus[ActionEvent], opts Options) *Collector {
	max := opts.MaxRecentActions
	if max <= 0 {
		max = defaultMaxRecentActions
	}
	return &Collector{
		sessionID:        sessionID,
		actions:          actions,
		maxRecentActions: max,
		pageLoadTime:     opts.PageLoadTime,
		keyDownAt:        make(map[string]int64),
	}
}

// Start makes the collector accept events. Calling it again while started is
// a no-op.
func (c *Collector) Start() {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
}

// Stop makes the instance inert. Safe to call repeatedly; buffered state is
// retained for a final State read.
func (c *Collector) Stop() {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
}

func (c *Collector) SessionID() string { return c.sessionID }

// Ingest routes one raw event. Events arriving while stopped are dropped.
func (c *Collector) Ingest(ev RawEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	switch ev.Kind {
	case KindMouseMove:
		c.ingestMouseMove(ev)
	case KindClick:
		c.ingestClick(ev)
	case KindKeyDown:
		c.ingestKeyDown(ev)
	case KindKeyUp:
		c.ingestKeyUp(ev)
	case KindScroll:
		c.ingestScroll(ev)
	case KindInput:
		c.ingestInput(ev)
	case KindFocus:
		if formField(ev) {
			c.formInteractions++
			c.recordActionLocked("focus", map[string]string{"id": ev.Target}, ev.Timestamp)
		}
	case KindBlur:
		if formField(ev) {
			c.recordActionLocked("blur", map[string]string{"id": ev.Target}, ev.Timestamp)
		}
	case KindVisibility:
		c.recordActionLocked(ev.Visibility, nil, ev.Timestamp)
	}
}

func formField(ev RawEvent) bool {
	return ev.Target != "" && !ev.Password
}

func (c *Collector) ingestMouseMove(ev RawEvent) {
	// One retained sample per throttle window.
	if c.lastMouseRetained != 0 && ev.Timestamp-c.lastMouseRetained < mouseThrottleMS {
		return
	}
	c.latchFirstInteraction(ev.Timestamp)

	velocity := 0.0
	if c.haveMousePos {
		dx := ev.X - c.lastMouseX
		dy := ev.Y - c.lastMouseY
		distance := math.Sqrt(dx*dx + dy*dy)
		var prev int64
		if n := len(c.mouseEvents); n > 0 {
			prev = c.mouseEvents[n-1].Timestamp
		} else {
			prev = ev.Timestamp
		}
		elapsed := ev.Timestamp - prev
		if elapsed < 1 {
			elapsed = 1
		}
		velocity = distance / float64(elapsed)
	}

	c.mouseEvents = append(c.mouseEvents, MouseMove{
		Timestamp: ev.Timestamp,
		X:         ev.X,
		Y:         ev.Y,
		Velocity:  velocity,
	})
	if len(c.mouseEvents) > mouseBufferCap {
		c.mouseEvents = c.mouseEvents[1:]
	}
	c.lastMouseRetained = ev.Timestamp
	c.lastMouseX, c.lastMouseY = ev.X, ev.Y
	c.haveMousePos = true

	// Coarse downsample into the discrete-action log.
	c.mouseRecentCounter++
	if c.mouseRecentCounter%mouseRecentSampleEvery == 0 {
		c.recordActionLocked("mouse_move", nil, ev.Timestamp)
	}
}

func (c *Collector) ingestClick(ev RawEvent) {
	c.latchFirstInteraction(ev.Timestamp)

	// Time proximity only; spatial distance is irrelevant here.
	isDouble := c.haveLastClick && ev.Timestamp-c.lastClickTime < doubleClickWindowMS
	if isDouble {
		c.doubleClickCount++
	}

	target := ev.Target
	if target == "" {
		target = "unknown"
	}
	c.clickEvents = append(c.clickEvents, Click{
		Timestamp:   ev.Timestamp,
		X:           ev.X,
		Y:           ev.Y,
		Target:      target,
		DoubleClick: isDouble,
	})
	if len(c.clickEvents) > clickBufferCap {
		c.clickEvents = c.clickEvents[1:]
	}
	c.lastClickTime = ev.Timestamp
	c.haveLastClick = true
	c.totalClickCount++
	c.recordActionLocked("click", map[string]string{"target": target}, ev.Timestamp)
}

func (c *Collector) ingestKeyDown(ev RawEvent) {
	// Password fields never produce key events: no identity, no timing.
	if ev.Password {
		return
	}
	c.latchFirstInteraction(ev.Timestamp)
	c.keyDownAt[ev.Key] = ev.Timestamp
	c.keyEvents = append(c.keyEvents, KeyEvent{
		Timestamp:  ev.Timestamp,
		Key:        ev.Key,
		IsModifier: modifierKeys[ev.Key],
	})
	if len(c.keyEvents) > keyBufferCap {
		c.keyEvents = c.keyEvents[1:]
	}
}

func (c *Collector) ingestKeyUp(ev RawEvent) {
	if ev.Password {
		return
	}
	downAt, ok := c.keyDownAt[ev.Key]
	if !ok {
		// Key was held before collection started; hold time stays unset.
		return
	}
	hold := float64(ev.Timestamp - downAt)
	for i := len(c.keyEvents) - 1; i >= 0; i-- {
		if c.keyEvents[i].Key == ev.Key && c.keyEvents[i].Timestamp == downAt {
			c.keyEvents[i].HoldTime = &hold
			break
		}
	}
	delete(c.keyDownAt, ev.Key)
}

func (c *Collector) ingestScroll(ev RawEvent) {
	if c.lastScrollRetained != 0 && ev.Timestamp-c.lastScrollRetained < scrollThrottleMS {
		return
	}
	c.latchFirstInteraction(ev.Timestamp)

	speed := 0.0
	if c.haveLastScroll {
		diffTop := math.Abs(ev.ScrollTop - c.lastScrollTop)
		diffLeft := math.Abs(ev.ScrollLeft - c.lastScrollLeft)
		diff := math.Sqrt(diffTop*diffTop + diffLeft*diffLeft)
		elapsed := ev.Timestamp - c.lastScrollTime
		if elapsed > 0 {
			speed = diff / float64(elapsed)
		}
		if diff == 0 && elapsed > scrollPauseMS {
			c.scrollPauses++
		}
		c.scrollTotal++
	}

	c.scrollEvents = append(c.scrollEvents, ScrollEvent{
		Timestamp:  ev.Timestamp,
		ScrollTop:  ev.ScrollTop,
		ScrollLeft: ev.ScrollLeft,
		Speed:      speed,
	})
	if len(c.scrollEvents) > scrollBufferCap {
		c.scrollEvents = c.scrollEvents[1:]
	}
	c.lastScrollRetained = ev.Timestamp
	c.lastScrollTop, c.lastScrollLeft = ev.ScrollTop, ev.ScrollLeft
	c.lastScrollTime = ev.Timestamp
	c.haveLastScroll = true
}

func (c *Collector) ingestInput(ev RawEvent) {
	c.inputEvents++
	if ev.InputType == "insertFromPaste" {
		c.pasteEvents++
		c.recordActionLocked("paste", nil, ev.Timestamp)
	}
}

// RecordRecentAction appends a discrete action tag and publishes it on the
// action bus.
func (c *Collector) RecordRecentAction(action string, metadata map[string]string, ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordActionLocked(action, metadata, ts)
}

func (c *Collector) recordActionLocked(action string, metadata map[string]string, ts int64) {
	c.recentActions = append(c.recentActions, RecentAction{
		Action:    action,
		Timestamp: ts,
		Metadata:  metadata,
	})
	if len(c.recentActions) > c.maxRecentActions {
		c.recentActions = c.recentActions[1:]
	}
	if c.actions != nil {
		c.actions.Publish(ActionEvent{SessionID: c.sessionID, Action: action, Timestamp: ts})
	}
}

func (c *Collector) latchFirstInteraction(ts int64) {
	if c.firstInteractionTime == 0 {
		c.firstInteractionTime = ts
		c.firstInteractionDelay = ts - c.pageLoadTime
	}
}

// State snapshots all buffers and counters. The returned slices are copies.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		SessionID:             c.sessionID,
		PageLoadTime:          c.pageLoadTime,
		FirstInteractionTime:  c.firstInteractionTime,
		FirstInteractionDelay: c.firstInteractionDelay,
		MouseEvents:           make([]MouseMove, len(c.mouseEvents)),
		ClickEvents:           make([]Click, len(c.clickEvents)),
		KeyEvents:             make([]KeyEvent, len(c.keyEvents)),
		ScrollEvents:          make([]ScrollEvent, len(c.scrollEvents)),
		RecentActions:         make([]RecentAction, len(c.recentActions)),
		ScrollPauses:          c.scrollPauses,
		ScrollTotal:           c.scrollTotal,
		TotalClickCount:       c.totalClickCount,
		DoubleClickCount:      c.doubleClickCount,
		PasteEvents:           c.pasteEvents,
		InputEvents:           c.inputEvents,
		FormInteractions:      c.formInteractions,
	}
	copy(st.MouseEvents, c.mouseEvents)
	copy(st.ClickEvents, c.clickEvents)
	copy(st.KeyEvents, c.keyEvents)
	copy(st.ScrollEvents, c.scrollEvents)
	copy(st.RecentActions, c.recentActions)
	return st
}
