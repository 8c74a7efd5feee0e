// Package httpx serves the botgate API: event ingest, on-demand detection,
// purchase checks, and session score reads.
package httpx

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/beaconsoft/botgate/internal/collect"
	"github.com/beaconsoft/botgate/internal/detect"
	"github.com/beaconsoft/botgate/internal/fingerprint"
	"github.com/beaconsoft/botgate/internal/metrics"
	"github.com/beaconsoft/botgate/internal/netsig"
	"github.com/beaconsoft/botgate/internal/purchase"
	"github.com/beaconsoft/botgate/internal/sink"
	"github.com/beaconsoft/botgate/internal/tracker"
	"github.com/beaconsoft/botgate/pkg/config"
)

// SessionCookie carries the tracked session id between beacons.
const SessionCookie = "botgate_session"

// Env is the handler environment, injected once at startup.
type Env struct {
	Cfg      *config.Config
	Sessions *tracker.Registry
	Scores   *tracker.ScoreCache
	Purchase *purchase.Aggregator
	Timing   netsig.Tracker
	Audit    func(sink.Record) // injected sink fan-out, may be nil
	Ready    func() bool       // readiness probe, nil means always ready
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Ready != nil && !e.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// collectRequest is the beacon payload. Events may be absent when the page
// only delivers its environment probe or context update.
type collectRequest struct {
	SessionID    string                        `json:"session_id,omitempty"`
	PageLoadTime int64                         `json:"page_load_time,omitempty"`
	Context      *detect.Context               `json:"context,omitempty"`
	Probe        *fingerprint.EnvironmentProbe `json:"probe,omitempty"`
	Events       []collect.RawEvent            `json:"events,omitempty"`
}

// POST /collect accepts a batch of raw interaction events plus optional
// probe and context payloads from the page.
func (e Env) Collect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.Cfg.Server.MaxBodyBytes))
	if err != nil {
		metrics.EventsDropped.WithLabelValues("batch", "oversize").Inc()
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var req collectRequest
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.EventsDropped.WithLabelValues("batch", "malformed").Inc()
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	sessionID, created := e.sessionID(r, req.SessionID)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	pageCtx := detect.Context{UserAgent: r.UserAgent()}
	if req.Context != nil {
		pageCtx = *req.Context
	}
	sess := e.Sessions.GetOrCreate(sessionID, pageCtx, req.PageLoadTime)

	// Every beacon refreshes the server-observed network signature. Analyze
	// records the request time for the next interval measurement.
	ip := netsig.ClientIP(r, e.Cfg.Server.TrustProxy)
	sess.Tracker.SetNetworkSignature(netsig.Analyze(r, e.Timing, ip), ip)

	if req.Probe != nil {
		sess.Tracker.SetProbe(*req.Probe)
	}
	if req.Context != nil {
		sess.Tracker.UpdateContext(*req.Context)
	}

	accepted := 0
	for _, ev := range req.Events {
		sess.Tracker.Ingest(ev)
		metrics.EventsIngested.WithLabelValues(ev.Kind).Inc()
		accepted++
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":   accepted,
		"session_id": sessionID,
		"status":     "ok",
	})
}

type detectRequest struct {
	SessionID  string `json:"session_id,omitempty"`
	ActionType string `json:"action_type"`
}

// POST /api/detect is the on-demand detection gate for a critical action. The
// response is always an outcome; detector trouble fails open here.
func (e Env) Detect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, e.Cfg.Server.MaxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ActionType == "" {
		http.Error(w, "action_type is required", http.StatusBadRequest)
		return
	}

	sessionID, _ := e.sessionID(r, req.SessionID)
	sess := e.Sessions.Get(sessionID)
	if sess == nil {
		// No tracked behavior to judge; same fail-open default as a
		// detection timeout.
		writeJSON(w, http.StatusOK, detect.FailOpenOutcome())
		return
	}

	outcome := sess.Engine.CheckDetection(r.Context(), req.ActionType)
	writeJSON(w, http.StatusOK, outcome)
}

type purchaseRequest struct {
	User purchase.User       `json:"user"`
	Cart []purchase.CartLine `json:"cart"`
}

// POST /api/purchase/check scores a checkout attempt. Unlike the detect
// path this fails closed: an unreachable detector is a 503, not an allow.
func (e Env) PurchaseCheck(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, e.Cfg.Server.MaxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.User.ID == 0 {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "authentication required"})
		return
	}
	if len(req.Cart) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "cart is empty"})
		return
	}

	sessionID, _ := e.sessionID(r, "")
	decision, err := e.Purchase.Check(r.Context(), req.User, req.Cart)
	switch {
	case errors.Is(err, purchase.ErrAnomalyDetected):
		e.auditPurchase(r, sessionID, req.User.ID, decision, "block")
		writeJSON(w, http.StatusForbidden, map[string]any{
			"status":              "error",
			"error_code":          "ANOMALY_DETECTED",
			"message":             "anomalous purchase behavior detected for this account",
			"clusteringScore":     decision.Worst.AnomalyScore,
			"clusteringThreshold": decision.Worst.Threshold,
		})
		return
	case err != nil:
		e.auditPurchase(r, sessionID, req.User.ID, decision, "error")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "detection service unavailable, try again later",
		})
		return
	}

	if !decision.Allowed {
		e.auditPurchase(r, sessionID, req.User.ID, decision, "block")
		writeJSON(w, http.StatusForbidden, map[string]any{
			"status":              "error",
			"error_code":          "ANOMALY_DETECTED",
			"message":             "anomalous purchase behavior detected for this account",
			"clusteringScore":     decision.Worst.AnomalyScore,
			"clusteringThreshold": decision.Worst.Threshold,
		})
		return
	}

	e.auditPurchase(r, sessionID, req.User.ID, decision, "allow")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"orderId": uuid.NewString(),
		"detectionResult": map[string]any{
			"cluster_id":    decision.Worst.ClusterID,
			"anomaly_score": decision.Worst.AnomalyScore,
			"threshold":     decision.Worst.Threshold,
			"is_anomaly":    decision.Worst.IsAnomaly,
		},
		"clusteringScore":     decision.Worst.AnomalyScore,
		"clusteringThreshold": decision.Worst.Threshold,
	})
}

// GET /api/scores/{sessionID} returns the current score plus timed horizon history.
func (e Env) ScoresHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}

	entry, ok := e.Scores.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	resp := map[string]any{"current": entry}
	if sess := e.Sessions.Get(sessionID); sess != nil {
		resp["horizons"] = sess.Engine.TimedScores()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e Env) auditPurchase(r *http.Request, sessionID string, userID int, d purchase.Decision, action string) {
	if e.Audit == nil {
		return
	}
	score := d.Worst.AnomalyScore
	threshold := d.Worst.Threshold
	e.Audit(sink.Record{
		RecordID:     uuid.NewString(),
		Kind:         sink.KindPurchase,
		SessionID:    sessionID,
		RequestID:    d.Worst.RequestID,
		Timestamp:    time.Now(),
		UserID:       userID,
		AnomalyScore: &score,
		Threshold:    &threshold,
		Decision:     action,
	})
}

// sessionID resolves the session id: cookie first, then the body-supplied
// value, else a generated one. The bool reports a fresh id.
func (e Env) sessionID(r *http.Request, fromBody string) (string, bool) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value, false
	}
	if fromBody != "" {
		return fromBody, false
	}
	return uuid.NewString(), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
