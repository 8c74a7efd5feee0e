package httpx

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/beaconsoft/botgate/internal/detect"
	"github.com/beaconsoft/botgate/internal/netsig"
	"github.com/beaconsoft/botgate/internal/purchase"
	"github.com/beaconsoft/botgate/internal/sink"
	"github.com/beaconsoft/botgate/internal/tracker"
	"github.com/beaconsoft/botgate/pkg/config"
)

// quietTransport answers every snapshot with a low score.
type quietTransport struct{}

func (quietTransport) Send(_ context.Context, snap detect.Snapshot) (detect.Result, error) {
	return detect.Result{
		SessionID:  snap.SessionID,
		BotScore:   0.1,
		HumanScore: 0.9,
		RiskLevel:  "low",
	}, nil
}

// scriptedScorer replays one verdict/error pair for every line.
type scriptedScorer struct {
	verdict purchase.Verdict
	err     error
}

func (s scriptedScorer) Score(context.Context, purchase.ClusterRequest) (purchase.Verdict, error) {
	return s.verdict, s.err
}

// countingTracker counts RecordRequest calls.
type countingTracker struct {
	records int
}

func (c *countingTracker) RecordRequest(string, time.Time) { c.records++ }

func (c *countingTracker) LastRequest(string) (time.Time, bool) { return time.Time{}, false }

type testEnv struct {
	Env
	registry *tracker.Registry
	audited  []sink.Record
}

func newTestEnv(t *testing.T, scorer purchase.Scorer) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			MaxBodyBytes: 1 << 20,
			CORSOrigins:  []string{"*"},
		},
		Engine: config.EngineConfig{
			ShortHorizon:       time.Hour, // keep timed horizons out of tests
			MediumHorizon:      time.Hour,
			LongHorizon:        time.Hour,
			WaitTimeout:        time.Second,
			ChallengeThreshold: 0.6,
			BlockThreshold:     0.85,
			ScheduleInterval:   time.Hour,
		},
		Collect: config.CollectConfig{MaxRecentActions: 120, SessionIdleTTL: time.Hour},
	}

	scores := tracker.NewScoreCache()
	registry := tracker.NewRegistry(quietTransport{}, scores, nil, cfg.Engine, cfg.Collect)
	t.Cleanup(registry.Close)

	te := &testEnv{registry: registry}
	te.Env = Env{
		Cfg:      cfg,
		Sessions: registry,
		Scores:   scores,
		Purchase: purchase.NewAggregator(scorer),
		Timing:   netsig.NewMemoryTracker(),
		Audit:    func(r sink.Record) { te.audited = append(te.audited, r) },
	}
	return te
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "203.0.113.5:40000"
	for _, opt := range opts {
		opt(r)
	}
	w := httptest.NewRecorder()
	handler(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return m
}

func TestCollect(t *testing.T) {
	t.Run("first beacon creates a session and sets the cookie", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{})
		w := postJSON(t, env.Collect, "/collect", map[string]any{
			"events": []map[string]any{
				{"kind": "mouse_move", "timestamp": 1000, "x": 10, "y": 20},
				{"kind": "click", "timestamp": 1100, "x": 10, "y": 20, "target": "#buy"},
			},
		})
		if w.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
		}

		body := decodeBody(t, w)
		if body["accepted"].(float64) != 2 {
			t.Errorf("expected 2 accepted events, got %v", body["accepted"])
		}
		sessionID, _ := body["session_id"].(string)
		if sessionID == "" {
			t.Fatal("expected a session id in the response")
		}

		var cookie *http.Cookie
		for _, c := range w.Result().Cookies() {
			if c.Name == SessionCookie {
				cookie = c
			}
		}
		if cookie == nil || cookie.Value != sessionID {
			t.Fatalf("expected session cookie %q, got %+v", sessionID, cookie)
		}
		if !cookie.HttpOnly {
			t.Error("session cookie must be http-only")
		}
		if env.registry.Get(sessionID) == nil {
			t.Error("session not registered")
		}
	})

	t.Run("cookie session is reused without a new cookie", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{})
		first := postJSON(t, env.Collect, "/collect", map[string]any{})
		sessionID := decodeBody(t, first)["session_id"].(string)

		second := postJSON(t, env.Collect, "/collect", map[string]any{}, func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: SessionCookie, Value: sessionID})
		})
		if got := decodeBody(t, second)["session_id"]; got != sessionID {
			t.Errorf("expected session %q reused, got %v", sessionID, got)
		}
		if len(second.Result().Cookies()) != 0 {
			t.Error("reused session should not set a new cookie")
		}
	})

	t.Run("invalid json is a 400", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{})
		r := httptest.NewRequest(http.MethodPost, "/collect", bytes.NewReader([]byte("{")))
		r.RemoteAddr = "203.0.113.5:40000"
		w := httptest.NewRecorder()
		env.Collect(w, r)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("each beacon records timing exactly once", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{})
		timing := &countingTracker{}
		env.Timing = timing

		postJSON(t, env.Collect, "/collect", map[string]any{})
		if timing.records != 1 {
			t.Errorf("expected 1 timing record per beacon, got %d", timing.records)
		}

		postJSON(t, env.Collect, "/collect", map[string]any{})
		if timing.records != 2 {
			t.Errorf("expected 2 timing records after second beacon, got %d", timing.records)
		}
	})
}

func TestDetect(t *testing.T) {
	t.Run("unknown session fails open", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{})
		w := postJSON(t, env.Detect, "/api/detect", map[string]any{
			"session_id":  "never-seen",
			"action_type": "purchase",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		body := decodeBody(t, w)
		if body["allowed"] != true {
			t.Errorf("expected fail-open allow, got %v", body)
		}
	})

	t.Run("tracked session returns the detector verdict", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{})
		first := postJSON(t, env.Collect, "/collect", map[string]any{})
		sessionID := decodeBody(t, first)["session_id"].(string)

		w := postJSON(t, env.Detect, "/api/detect", map[string]any{"action_type": "purchase"}, func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: SessionCookie, Value: sessionID})
		})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		body := decodeBody(t, w)
		if body["allowed"] != true || body["botScore"].(float64) != 0.1 {
			t.Errorf("unexpected outcome: %v", body)
		}
	})

	t.Run("missing action type is a 400", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{})
		w := postJSON(t, env.Detect, "/api/detect", map[string]any{"session_id": "x"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func validPurchase() map[string]any {
	return map[string]any{
		"user": map[string]any{"id": 7, "age": 34, "gender": 1, "prefecture": 13},
		"cart": []map[string]any{
			{"product_category": 2, "quantity": 1, "unit_price": 1500, "payment_method": 2, "manufacturer": 5},
		},
	}
}

func TestPurchaseCheck(t *testing.T) {
	t.Run("clean cart succeeds with an order id", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{verdict: purchase.Verdict{ClusterID: 3, AnomalyScore: 0.4, Threshold: -0.1}})
		w := postJSON(t, env.PurchaseCheck, "/api/purchase/check", validPurchase())
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		body := decodeBody(t, w)
		if body["status"] != "success" || body["orderId"] == "" {
			t.Errorf("unexpected body: %v", body)
		}
		if body["clusteringScore"].(float64) != 0.4 {
			t.Errorf("expected clusteringScore 0.4, got %v", body["clusteringScore"])
		}
		if len(env.audited) != 1 || env.audited[0].Decision != "allow" {
			t.Errorf("expected one allow audit record, got %+v", env.audited)
		}
	})

	t.Run("anomaly is a 403 with the score", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{
			verdict: purchase.Verdict{IsAnomaly: true, AnomalyScore: 0.05, Threshold: 0.12},
			err:     fmt.Errorf("%w: outlier", purchase.ErrAnomalyDetected),
		})
		w := postJSON(t, env.PurchaseCheck, "/api/purchase/check", validPurchase())
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
		body := decodeBody(t, w)
		if body["error_code"] != "ANOMALY_DETECTED" {
			t.Errorf("unexpected body: %v", body)
		}
		if body["clusteringScore"].(float64) != 0.05 {
			t.Errorf("expected clusteringScore 0.05, got %v", body["clusteringScore"])
		}
		if len(env.audited) != 1 || env.audited[0].Decision != "block" {
			t.Errorf("expected one block audit record, got %+v", env.audited)
		}
	})

	t.Run("detector outage is a 503", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{err: fmt.Errorf("%w: status 502", purchase.ErrDetectorUnavailable)})
		w := postJSON(t, env.PurchaseCheck, "/api/purchase/check", validPurchase())
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", w.Code)
		}
	})

	t.Run("anonymous user is a 401", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{})
		req := validPurchase()
		req["user"] = map[string]any{"id": 0}
		w := postJSON(t, env.PurchaseCheck, "/api/purchase/check", req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("empty cart is a 400", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{})
		req := validPurchase()
		req["cart"] = []map[string]any{}
		w := postJSON(t, env.PurchaseCheck, "/api/purchase/check", req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestScores(t *testing.T) {
	t.Run("unknown session is a 404", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{})
		router := NewRouter(env.Env)
		r := httptest.NewRequest(http.MethodGet, "/api/scores/never-seen", nil)
		r.RemoteAddr = "203.0.113.5:40000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("cached score is returned with horizons", func(t *testing.T) {
		env := newTestEnv(t, scriptedScorer{})
		first := postJSON(t, env.Collect, "/collect", map[string]any{})
		sessionID := decodeBody(t, first)["session_id"].(string)
		env.Scores.Put(detect.Result{SessionID: sessionID, BotScore: 0.3, HumanScore: 0.7, RiskLevel: "low"})

		router := NewRouter(env.Env)
		r := httptest.NewRequest(http.MethodGet, "/api/scores/"+sessionID, nil)
		r.RemoteAddr = "203.0.113.5:40000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		body := decodeBody(t, w)
		current, ok := body["current"].(map[string]any)
		if !ok || current["bot_score"].(float64) != 0.3 {
			t.Errorf("unexpected current score: %v", body)
		}
		if _, ok := body["horizons"]; !ok {
			t.Error("expected horizons for a live session")
		}
	})
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, scriptedScorer{})

	w := httptest.NewRecorder()
	env.Healthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", w.Code)
	}

	t.Run("readiness follows the probe", func(t *testing.T) {
		env.Ready = func() bool { return false }
		w := httptest.NewRecorder()
		env.Readyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503 when not ready, got %d", w.Code)
		}
	})
}
