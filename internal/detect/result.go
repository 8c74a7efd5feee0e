// Package detect carries snapshots to the remote detector, normalizes its
// historically-evolved response shapes, and turns results into gate
// decisions on a timed schedule or on demand.
package detect

import (
	"strings"

	"github.com/beaconsoft/botgate/internal/behavior"
	"github.com/beaconsoft/botgate/internal/collect"
	"github.com/beaconsoft/botgate/internal/fingerprint"
)

// Context is supplied by the host page with each snapshot cycle. The core
// forwards it untouched; accuracy is the host's responsibility.
type Context struct {
	ActionType            string `json:"actionType"`
	URL                   string `json:"url"`
	SiteID                string `json:"siteId,omitempty"`
	PageLoadTime          int64  `json:"pageLoadTime"`
	FirstInteractionTime  int64  `json:"firstInteractionTime,omitempty"`
	FirstInteractionDelay int64  `json:"firstInteractionDelay,omitempty"`
	UserAgent             string `json:"userAgent"`
	Locale                string `json:"locale,omitempty"`
}

// Snapshot is the unit sent to the detector. Built immediately before
// transport and discarded after send.
type Snapshot struct {
	SessionID         string                        `json:"session_id"`
	RequestID         string                        `json:"request_id"`
	Timestamp         int64                         `json:"timestamp"`
	DeviceFingerprint fingerprint.DeviceFingerprint `json:"device_fingerprint"`
	BehavioralData    behavior.Data                 `json:"behavioral_data"`
	RecentActions     []collect.RecentAction        `json:"behavior_sequence"`
	Context           Context                       `json:"context"`
	ClientIP          string                        `json:"ip_address,omitempty"`
}

// PersonaDetection is the clustering sub-verdict carried by the composite
// response shape.
type PersonaDetection struct {
	IsProvided   bool    `json:"is_provided"`
	ClusterID    int     `json:"cluster_id"`
	AnomalyScore float64 `json:"anomaly_score"`
	Threshold    float64 `json:"threshold"`
	IsAnomaly    bool    `json:"is_anomaly"`
}

// Result is the canonical post-normalization detection record.
type Result struct {
	SessionID      string            `json:"session_id,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
	DetectionID    string            `json:"detection_id,omitempty"`
	BotScore       float64           `json:"bot_score"`
	HumanScore     float64           `json:"human_score"`
	RiskLevel      string            `json:"risk_level"`
	Recommendation string            `json:"recommendation"`
	Reasons        []string          `json:"reasons,omitempty"`
	Persona        *PersonaDetection `json:"persona_detection,omitempty"`
	// ActionType echoes the context that produced the result so bus
	// subscribers can filter.
	ActionType string `json:"action_type,omitempty"`
}

// Outcome is the classified gate decision handed to callers.
type Outcome struct {
	Allowed        bool    `json:"allowed"`
	BotScore       float64 `json:"botScore"`
	NeedsChallenge bool    `json:"needsChallenge"`
	Token          string  `json:"token,omitempty"`
}

// FailOpenOutcome is what on-demand detection resolves to when no result
// arrives in time. Navigation gating never blocks on detector availability.
func FailOpenOutcome() Outcome {
	return Outcome{Allowed: true, BotScore: 0, NeedsChallenge: false}
}

// Classify turns a result into an outcome using score thresholds.
func Classify(res Result, challengeThreshold, blockThreshold float64) Outcome {
	recommendation := strings.ToLower(res.Recommendation)
	allowed := recommendation != "block" && res.BotScore < blockThreshold
	needsChallenge := recommendation == "challenge" || res.BotScore >= challengeThreshold
	return Outcome{
		Allowed:        allowed,
		BotScore:       res.BotScore,
		NeedsChallenge: needsChallenge,
		Token:          res.DetectionID,
	}
}
