package detect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/beaconsoft/botgate/internal/fingerprint"
	"github.com/beaconsoft/botgate/internal/metrics"
	"github.com/beaconsoft/botgate/internal/netsig"
	"github.com/beaconsoft/botgate/pkg/config"
)

// PlaceholderSessionID is forwarded when a snapshot reaches transport
// before any session was established.
const PlaceholderSessionID = "session_unknown"

// ErrDetectorDown wraps transport-level failures, including an open breaker.
var ErrDetectorDown = errors.New("detect: detector unavailable")

// Transport delivers a snapshot to the detector and returns the
// normalized result.
type Transport interface {
	Send(ctx context.Context, snap Snapshot) (Result, error)
}

// HTTPTransport posts snapshots to the detector service behind a circuit
// breaker. It owns the last-mile enrichment: request id, session id
// placeholder, and the network signature merge into the fingerprint.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[Result]
}

func NewHTTPTransport(cfg config.DetectorConfig) *HTTPTransport {
	settings := gobreaker.Settings{
		Name:    "detector",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[detect] breaker %s: %s -> %s", name, from, to)
		},
	}
	return &HTTPTransport{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		breaker:  gobreaker.NewCircuitBreaker[Result](settings),
	}
}

// MergeNetworkSignature folds the server-observed request signature into
// the device fingerprint. The resolved fingerprint itself is never
// mutated; callers pass a copy inside the snapshot.
func MergeNetworkSignature(fp *fingerprint.DeviceFingerprint, sig *netsig.Signature) {
	if sig == nil {
		fp.HTTPSignatureState = fingerprint.SignatureMissing
		return
	}
	fp.HTTPSignature = sig.HeaderFingerprint
	fp.NetworkFPSource = "server"
	if sig.Valid() {
		fp.HTTPSignatureState = fingerprint.SignatureValid
	} else {
		fp.HTTPSignatureState = fingerprint.SignatureInvalid
	}
}

func (t *HTTPTransport) Send(ctx context.Context, snap Snapshot) (Result, error) {
	if snap.SessionID == "" {
		snap.SessionID = PlaceholderSessionID
	}
	if snap.RequestID == "" {
		snap.RequestID = uuid.NewString()
	}
	if snap.Timestamp == 0 {
		snap.Timestamp = time.Now().UnixMilli()
	}

	res, err := t.breaker.Execute(func() (Result, error) {
		return t.post(ctx, snap)
	})
	if err != nil {
		metrics.DetectorErrors.Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Result{}, fmt.Errorf("%w: circuit open", ErrDetectorDown)
		}
		return Result{}, err
	}
	res.SessionID = snap.SessionID
	res.RequestID = snap.RequestID
	res.ActionType = snap.Context.ActionType
	return res, nil
}

func (t *HTTPTransport) post(ctx context.Context, snap Snapshot) (Result, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return Result{}, fmt.Errorf("detect: encode snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/api/detect", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("detect: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", snap.RequestID)
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDetectorDown, err)
	}
	defer resp.Body.Close()
	metrics.DetectorLatency.Observe(time.Since(start).Seconds())

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read body: %v", ErrDetectorDown, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status %d", ErrDetectorDown, resp.StatusCode)
	}
	return Normalize(payload)
}
