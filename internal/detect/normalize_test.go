package detect

import (
	"errors"
	"math"
	"strconv"
	"testing"
)

func TestNormalizeFlatShape(t *testing.T) {
	t.Run("snake case fields pass through", func(t *testing.T) {
		res, err := Normalize([]byte(`{
			"bot_score": 0.42,
			"human_score": 0.58,
			"risk_level": "medium",
			"recommendation": "challenge",
			"detection_id": "det-1",
			"reasons": ["irregular_cadence"]
		}`))
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if res.BotScore != 0.42 || res.HumanScore != 0.58 {
			t.Errorf("scores: got %v/%v", res.BotScore, res.HumanScore)
		}
		if res.RiskLevel != "medium" || res.Recommendation != "challenge" {
			t.Errorf("unexpected result: %+v", res)
		}
		if res.DetectionID != "det-1" {
			t.Errorf("expected detection id det-1, got %q", res.DetectionID)
		}
	})

	t.Run("legacy camel case score is read when snake case is absent", func(t *testing.T) {
		res, err := Normalize([]byte(`{"botScore": 0.9, "recommendation": "block"}`))
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if res.BotScore != 0.9 {
			t.Errorf("expected bot score 0.9, got %v", res.BotScore)
		}
	})

	t.Run("snake case wins over camel case", func(t *testing.T) {
		res, err := Normalize([]byte(`{"bot_score": 0.2, "botScore": 0.9}`))
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if res.BotScore != 0.2 {
			t.Errorf("expected first-match 0.2, got %v", res.BotScore)
		}
	})

	t.Run("bot score derives from human score alone", func(t *testing.T) {
		res, err := Normalize([]byte(`{"human_score": 0.75}`))
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if math.Abs(res.BotScore-0.25) > 1e-9 {
			t.Errorf("expected bot score 0.25, got %v", res.BotScore)
		}
	})

	t.Run("fail_open reason is an error", func(t *testing.T) {
		_, err := Normalize([]byte(`{"bot_score": 0, "reasons": ["fail_open"]}`))
		if !errors.Is(err, ErrFailOpen) {
			t.Fatalf("expected ErrFailOpen, got %v", err)
		}
	})
}

func TestNormalizeCompositeShape(t *testing.T) {
	t.Run("scores derive from browser detection", func(t *testing.T) {
		res, err := Normalize([]byte(`{
			"browser_detection": {"score": 0.82, "confidence": 0.9, "is_bot": false, "reasons": ["natural_mouse_path"]},
			"persona_detection": {"is_provided": true, "cluster_id": 3, "anomaly_score": 0.4, "threshold": -0.1, "is_anomaly": false},
			"final_decision": {"action": "allow", "reason": "clean", "score": 0.82, "detection_id": "det-9"}
		}`))
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if math.Abs(res.BotScore-0.18) > 1e-9 {
			t.Errorf("expected bot score 0.18, got %v", res.BotScore)
		}
		if math.Abs(res.HumanScore-0.82) > 1e-9 {
			t.Errorf("expected human score 0.82, got %v", res.HumanScore)
		}
		if res.Recommendation != "allow" || res.RiskLevel != "low" {
			t.Errorf("unexpected decision fields: %+v", res)
		}
		if res.Persona == nil || res.Persona.ClusterID != 3 {
			t.Errorf("expected persona passthrough, got %+v", res.Persona)
		}
		if res.DetectionID != "det-9" {
			t.Errorf("expected detection id det-9, got %q", res.DetectionID)
		}
	})

	t.Run("risk falls back to score thresholds without recommendation", func(t *testing.T) {
		cases := []struct {
			human float64
			risk  string
		}{
			{0.1, "high"},   // bot 0.9
			{0.4, "medium"}, // bot 0.6
			{0.7, "low"},    // bot 0.3
			{0.95, "low"},   // bot 0.05
		}
		for _, tc := range cases {
			body := []byte(`{"browser_detection": {"score": ` + strconv.FormatFloat(tc.human, 'f', -1, 64) + `}}`)
			res, err := Normalize(body)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if res.RiskLevel != tc.risk {
				t.Errorf("human %v: expected risk %q, got %q", tc.human, tc.risk, res.RiskLevel)
			}
		}
	})

	t.Run("fail_open final decision is an error", func(t *testing.T) {
		_, err := Normalize([]byte(`{
			"browser_detection": {"score": 0.5},
			"final_decision": {"action": "allow", "reason": "fail_open"}
		}`))
		if !errors.Is(err, ErrFailOpen) {
			t.Fatalf("expected ErrFailOpen, got %v", err)
		}
	})

	t.Run("fail_open in browser detection reasons is an error", func(t *testing.T) {
		_, err := Normalize([]byte(`{
			"browser_detection": {"score": 0.5, "reasons": ["fail_open"]},
			"final_decision": {"action": "allow"}
		}`))
		if !errors.Is(err, ErrFailOpen) {
			t.Fatalf("expected ErrFailOpen, got %v", err)
		}
	})
}

func TestNormalizeRejects(t *testing.T) {
	t.Run("unknown shape", func(t *testing.T) {
		_, err := Normalize([]byte(`{"something": "else"}`))
		if !errors.Is(err, ErrUnknownShape) {
			t.Fatalf("expected ErrUnknownShape, got %v", err)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := Normalize([]byte(`{`)); err == nil {
			t.Fatal("expected decode error")
		}
	})
}
