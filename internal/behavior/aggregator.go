// Package behavior reduces a collector snapshot into the behavioral feature
// record sent to the detector.
package behavior

import (
	"sort"
	"time"

	"github.com/beaconsoft/botgate/internal/collect"
)

// The emitted record keeps a longer movement window so a minute or two of
// manual interaction stays visible to the model.
const maxMouseMovements = 200

type ClickPatterns struct {
	AvgClickInterval float64 `json:"avg_click_interval"`
	ClickPrecision   float64 `json:"click_precision"`
	DoubleClickRate  float64 `json:"double_click_rate"`
}

type KeystrokeDynamics struct {
	TypingSpeedCPM      float64 `json:"typing_speed_cpm"`
	KeyHoldTimeMS       float64 `json:"key_hold_time_ms"`
	KeyIntervalVariance float64 `json:"key_interval_variance"`
}

type ScrollBehavior struct {
	ScrollSpeed        float64 `json:"scroll_speed"`
	ScrollAcceleration float64 `json:"scroll_acceleration"`
	PauseFrequency     float64 `json:"pause_frequency"`
}

type PageInteraction struct {
	SessionDurationMS       float64  `json:"session_duration_ms"`
	PageDwellTimeMS         float64  `json:"page_dwell_time_ms"`
	FirstInteractionDelayMS *float64 `json:"first_interaction_delay_ms"`
	NavigationPattern       string   `json:"navigation_pattern"`
	FormFillSpeedCPM        float64  `json:"form_fill_speed_cpm"`
	PasteRatio              float64  `json:"paste_ratio"`
}

type Data struct {
	MouseMovements    []collect.MouseMove `json:"mouse_movements"`
	ClickPatterns     ClickPatterns       `json:"click_patterns"`
	KeystrokeDynamics KeystrokeDynamics   `json:"keystroke_dynamics"`
	ScrollBehavior    ScrollBehavior      `json:"scroll_behavior"`
	PageInteraction   PageInteraction     `json:"page_interaction"`
}

// Aggregator is a stateless transform; the zero value uses the wall clock.
type Aggregator struct {
	// NowMillis is injectable for tests.
	NowMillis func() int64
}

func (a Aggregator) now() int64 {
	if a.NowMillis != nil {
		return a.NowMillis()
	}
	return time.Now().UnixMilli()
}

// Compute derives features from a snapshot. Every ratio degrades to 0 on an
// empty denominator; no field is ever NaN.
func (a Aggregator) Compute(state collect.State) Data {
	clicks := computeClickStats(state.ClickEvents, state.TotalClickCount, state.DoubleClickCount)
	keys := computeKeyStats(state.KeyEvents)
	scrolls := computeScrollStats(state.ScrollEvents, state.ScrollPauses, state.ScrollTotal)

	sessionDurationMS := float64(a.now() - state.PageLoadTime)
	if sessionDurationMS < 0 {
		sessionDurationMS = 0
	}
	minutesSinceLoad := sessionDurationMS / 60000

	formFillSpeed := 0.0
	if minutesSinceLoad > 0 {
		formFillSpeed = float64(state.FormInteractions) / minutesSinceLoad
	}
	pasteRatio := 0.0
	if state.InputEvents > 0 {
		pasteRatio = float64(state.PasteEvents) / float64(state.InputEvents)
	}
	var firstDelay *float64
	if state.FirstInteractionTime != 0 {
		d := float64(state.FirstInteractionDelay)
		firstDelay = &d
	}

	movements := state.MouseEvents
	if len(movements) > maxMouseMovements {
		movements = movements[len(movements)-maxMouseMovements:]
	}

	return Data{
		MouseMovements:    movements,
		ClickPatterns:     clicks,
		KeystrokeDynamics: keys,
		ScrollBehavior:    scrolls,
		PageInteraction: PageInteraction{
			SessionDurationMS:       sessionDurationMS,
			PageDwellTimeMS:         sessionDurationMS,
			FirstInteractionDelayMS: firstDelay,
			NavigationPattern:       "linear",
			FormFillSpeedCPM:        formFillSpeed,
			PasteRatio:              pasteRatio,
		},
	}
}

func computeClickStats(clicks []collect.Click, totalClicks, doubleClicks int) ClickPatterns {
	if len(clicks) == 0 {
		return ClickPatterns{}
	}

	timestamps := make([]int64, len(clicks))
	for i, c := range clicks {
		timestamps[i] = c.Timestamp
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	var intervalSum float64
	var intervalN int
	for i := 1; i < len(timestamps); i++ {
		if diff := timestamps[i] - timestamps[i-1]; diff >= 0 {
			intervalSum += float64(diff)
			intervalN++
		}
	}
	avgInterval := 0.0
	if intervalN > 0 {
		avgInterval = intervalSum / float64(intervalN)
	}

	// Concentration on the single most-clicked target.
	targetCounts := make(map[string]int)
	for _, c := range clicks {
		targetCounts[c.Target]++
	}
	dominant := 0
	for _, n := range targetCounts {
		if n > dominant {
			dominant = n
		}
	}
	precision := 0.0
	doubleRate := 0.0
	if totalClicks > 0 {
		precision = float64(dominant) / float64(totalClicks)
		doubleRate = float64(doubleClicks) / float64(totalClicks)
	}

	return ClickPatterns{
		AvgClickInterval: avgInterval,
		ClickPrecision:   precision,
		DoubleClickRate:  doubleRate,
	}
}

func computeKeyStats(events []collect.KeyEvent) KeystrokeDynamics {
	typing := events[:0:0]
	for _, e := range events {
		if !e.IsModifier {
			typing = append(typing, e)
		}
	}
	if len(typing) == 0 {
		return KeystrokeDynamics{}
	}

	first := typing[0].Timestamp
	last := typing[len(typing)-1].Timestamp
	durationMinutes := 0.0
	if last > first {
		durationMinutes = float64(last-first) / 60000
	}
	var speed float64
	if durationMinutes > 0 {
		speed = float64(len(typing)) / durationMinutes
	} else {
		// Zero span: flat estimate of one keystroke per second.
		speed = float64(len(typing)) * 60
	}

	var holdSum float64
	var holdN int
	for _, e := range typing {
		if e.HoldTime != nil {
			holdSum += *e.HoldTime
			holdN++
		}
	}
	avgHold := 0.0
	if holdN > 0 {
		avgHold = holdSum / float64(holdN)
	}

	timestamps := make([]int64, len(typing))
	for i, e := range typing {
		timestamps[i] = e.Timestamp
	}

	return KeystrokeDynamics{
		TypingSpeedCPM:      speed,
		KeyHoldTimeMS:       avgHold,
		KeyIntervalVariance: intervalVariance(timestamps),
	}
}

func computeScrollStats(events []collect.ScrollEvent, pauses, total int) ScrollBehavior {
	if len(events) == 0 {
		return ScrollBehavior{}
	}

	speeds := make([]float64, 0, len(events))
	for _, e := range events {
		if e.Speed >= 0 {
			speeds = append(speeds, e.Speed)
		} else {
			speeds = append(speeds, 0)
		}
	}
	var speedSum float64
	for _, s := range speeds {
		speedSum += s
	}
	avgSpeed := 0.0
	if len(speeds) > 0 {
		avgSpeed = speedSum / float64(len(speeds))
	}

	// Mean absolute speed delta as an acceleration proxy.
	var accelSum float64
	for i := 1; i < len(speeds); i++ {
		d := speeds[i] - speeds[i-1]
		if d < 0 {
			d = -d
		}
		accelSum += d
	}
	accel := 0.0
	if len(speeds) > 1 {
		accel = accelSum / float64(len(speeds)-1)
	}

	pauseFreq := 0.0
	if total > 0 {
		pauseFreq = float64(pauses) / float64(total)
	}

	return ScrollBehavior{
		ScrollSpeed:        avgSpeed,
		ScrollAcceleration: accel,
		PauseFrequency:     pauseFreq,
	}
}

// intervalVariance is the population variance of consecutive non-negative
// timestamp deltas.
func intervalVariance(timestamps []int64) float64 {
	if len(timestamps) < 2 {
		return 0
	}
	intervals := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		if diff := timestamps[i] - timestamps[i-1]; diff >= 0 {
			intervals = append(intervals, float64(diff))
		}
	}
	if len(intervals) == 0 {
		return 0
	}
	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / float64(len(intervals))
	var sq float64
	for _, iv := range intervals {
		d := iv - mean
		sq += d * d
	}
	return sq / float64(len(intervals))
}
