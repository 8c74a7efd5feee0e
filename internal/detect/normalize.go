package detect

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// ErrFailOpen marks a detector response that is a stand-in emitted by a
// degraded upstream rather than a real verdict.
var ErrFailOpen = errors.New("detect: detector responded fail_open")

// ErrUnknownShape is returned when a response matches none of the supported
// payload shapes.
var ErrUnknownShape = errors.New("detect: unrecognized detector response shape")

// rawResponse is the superset of every response shape the detector has
// shipped. Flat fields and the composite sub-objects never co-occur; the
// populated set decides which decoder runs.
type rawResponse struct {
	// Flat shape.
	BotScore       *float64 `json:"bot_score"`
	BotScoreCamel  *float64 `json:"botScore"`
	HumanScore     *float64 `json:"human_score"`
	RiskLevel      string   `json:"risk_level"`
	Recommendation string   `json:"recommendation"`
	DetectionID    string   `json:"detection_id"`
	Reasons        []string `json:"reasons"`

	// Composite shape.
	BrowserDetection *rawBrowserDetection `json:"browser_detection"`
	PersonaDetection *rawPersonaDetection `json:"persona_detection"`
	FinalDecision    *rawFinalDecision    `json:"final_decision"`

	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
}

type rawBrowserDetection struct {
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	IsBot      bool     `json:"is_bot"`
	Reasons    []string `json:"reasons"`
}

type rawPersonaDetection struct {
	IsProvided   bool    `json:"is_provided"`
	ClusterID    int     `json:"cluster_id"`
	AnomalyScore float64 `json:"anomaly_score"`
	Threshold    float64 `json:"threshold"`
	IsAnomaly    bool    `json:"is_anomaly"`
}

type rawFinalDecision struct {
	Action      string  `json:"action"`
	Reason      string  `json:"reason"`
	Score       float64 `json:"score"`
	DetectionID string  `json:"detection_id"`
}

// Normalize decodes a detector response body into the canonical Result.
// Two shapes are accepted: the flat bot_score/risk_level form and the
// composite browser_detection/persona_detection/final_decision form. A
// response whose reason is "fail_open" is reported as an error so callers
// run their own fallback instead of trusting a placeholder verdict.
func Normalize(body []byte) (Result, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Result{}, fmt.Errorf("detect: decode response: %w", err)
	}

	switch {
	case raw.BrowserDetection != nil || raw.FinalDecision != nil:
		return normalizeComposite(raw)
	case raw.BotScore != nil || raw.BotScoreCamel != nil || raw.HumanScore != nil || raw.Recommendation != "":
		return normalizeFlat(raw)
	default:
		return Result{}, ErrUnknownShape
	}
}

func normalizeFlat(raw rawResponse) (Result, error) {
	for _, reason := range raw.Reasons {
		if reason == "fail_open" {
			return Result{}, ErrFailOpen
		}
	}

	// First populated score field wins; older deployments sent camelCase.
	var bot float64
	switch {
	case raw.BotScore != nil:
		bot = *raw.BotScore
	case raw.BotScoreCamel != nil:
		bot = *raw.BotScoreCamel
	case raw.HumanScore != nil:
		bot = 1 - *raw.HumanScore
	}

	human := 1 - bot
	if raw.HumanScore != nil {
		human = *raw.HumanScore
	}

	risk := raw.RiskLevel
	if risk == "" {
		risk = riskFromScore(bot, raw.Recommendation)
	}

	return Result{
		SessionID:      raw.SessionID,
		RequestID:      raw.RequestID,
		DetectionID:    raw.DetectionID,
		BotScore:       bot,
		HumanScore:     human,
		RiskLevel:      risk,
		Recommendation: raw.Recommendation,
		Reasons:        raw.Reasons,
	}, nil
}

func normalizeComposite(raw rawResponse) (Result, error) {
	// browser_detection.score is the human-likeness probability.
	var human float64
	var reasons []string
	if raw.BrowserDetection != nil {
		human = raw.BrowserDetection.Score
		reasons = raw.BrowserDetection.Reasons
	}
	bot := 1 - human

	var recommendation, detectionID string
	if raw.FinalDecision != nil {
		recommendation = raw.FinalDecision.Action
		detectionID = raw.FinalDecision.DetectionID
		if raw.FinalDecision.Reason != "" {
			reasons = append(reasons, raw.FinalDecision.Reason)
		}
	}

	// Either sub-verdict may carry the degraded-upstream marker.
	for _, reason := range reasons {
		if reason == "fail_open" {
			return Result{}, ErrFailOpen
		}
	}

	res := Result{
		SessionID:      raw.SessionID,
		RequestID:      raw.RequestID,
		DetectionID:    detectionID,
		BotScore:       bot,
		HumanScore:     human,
		RiskLevel:      riskFromScore(bot, recommendation),
		Recommendation: recommendation,
		Reasons:        reasons,
	}
	if raw.PersonaDetection != nil {
		res.Persona = &PersonaDetection{
			IsProvided:   raw.PersonaDetection.IsProvided,
			ClusterID:    raw.PersonaDetection.ClusterID,
			AnomalyScore: raw.PersonaDetection.AnomalyScore,
			Threshold:    raw.PersonaDetection.Threshold,
			IsAnomaly:    raw.PersonaDetection.IsAnomaly,
		}
	}
	return res, nil
}

// riskFromScore maps the recommendation to a risk band when the detector
// sent one, otherwise falls back to score thresholds.
func riskFromScore(bot float64, recommendation string) string {
	switch recommendation {
	case "block":
		return "high"
	case "challenge":
		return "medium"
	case "allow":
		return "low"
	}
	switch {
	case bot >= 0.75:
		return "high"
	case bot >= 0.5:
		return "medium"
	case bot >= 0.25:
		return "low"
	default:
		return "low"
	}
}
