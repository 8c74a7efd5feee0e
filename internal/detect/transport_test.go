package detect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/beaconsoft/botgate/internal/fingerprint"
	"github.com/beaconsoft/botgate/internal/netsig"
	"github.com/beaconsoft/botgate/pkg/config"
)

func newTestTransport(url string) *HTTPTransport {
	return NewHTTPTransport(config.DetectorConfig{
		Endpoint:       url,
		APIKey:         "detector-key",
		RequestTimeout: 2 * time.Second,
	})
}

func sampleSnapshot() Snapshot {
	return Snapshot{
		SessionID: "sess-1",
		Context:   Context{ActionType: "purchase", URL: "https://shop.example/checkout"},
	}
}

func TestHTTPTransportSend(t *testing.T) {
	t.Run("posts the snapshot and fills identity fields", func(t *testing.T) {
		var gotPath, gotAuth, gotReqID string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			gotReqID = r.Header.Get("X-Request-ID")
			w.Write([]byte(`{"bot_score": 0.35, "risk_level": "low", "recommendation": "allow"}`))
		}))
		defer srv.Close()

		res, err := newTestTransport(srv.URL).Send(context.Background(), sampleSnapshot())
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if gotPath != "/api/detect" {
			t.Errorf("unexpected path %q", gotPath)
		}
		if gotAuth != "Bearer detector-key" {
			t.Errorf("unexpected auth %q", gotAuth)
		}
		if gotReqID == "" {
			t.Error("expected a generated request id")
		}
		if res.SessionID != "sess-1" || res.ActionType != "purchase" {
			t.Errorf("identity fields not filled: %+v", res)
		}
		if res.BotScore != 0.35 {
			t.Errorf("unexpected score %v", res.BotScore)
		}
	})

	t.Run("empty session id gets the placeholder", func(t *testing.T) {
		var gotSession string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var snap Snapshot
			decodeSnapshot(t, r, &snap)
			gotSession = snap.SessionID
			w.Write([]byte(`{"bot_score": 0}`))
		}))
		defer srv.Close()

		if _, err := newTestTransport(srv.URL).Send(context.Background(), Snapshot{}); err != nil {
			t.Fatalf("send: %v", err)
		}
		if gotSession != PlaceholderSessionID {
			t.Errorf("expected placeholder session id, got %q", gotSession)
		}
	})

	t.Run("non-200 is ErrDetectorDown", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := newTestTransport(srv.URL).Send(context.Background(), sampleSnapshot())
		if !errors.Is(err, ErrDetectorDown) {
			t.Fatalf("expected ErrDetectorDown, got %v", err)
		}
	})

	t.Run("breaker opens after consecutive failures", func(t *testing.T) {
		var hits atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		tr := newTestTransport(srv.URL)
		for i := 0; i < 3; i++ {
			if _, err := tr.Send(context.Background(), sampleSnapshot()); err == nil {
				t.Fatalf("call %d: expected failure", i)
			}
		}
		before := hits.Load()

		_, err := tr.Send(context.Background(), sampleSnapshot())
		if !errors.Is(err, ErrDetectorDown) {
			t.Fatalf("expected ErrDetectorDown from open breaker, got %v", err)
		}
		if hits.Load() != before {
			t.Errorf("open breaker should not reach the server: %d -> %d", before, hits.Load())
		}
	})
}

func decodeSnapshot(t *testing.T, r *http.Request, snap *Snapshot) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(snap); err != nil {
		t.Errorf("decode snapshot: %v", err)
	}
}

func TestMergeNetworkSignature(t *testing.T) {
	t.Run("nil signature marks missing", func(t *testing.T) {
		fp := fingerprint.Placeholder()
		MergeNetworkSignature(&fp, nil)
		if fp.HTTPSignatureState != fingerprint.SignatureMissing {
			t.Errorf("expected missing state, got %q", fp.HTTPSignatureState)
		}
	})

	t.Run("clean signature marks valid", func(t *testing.T) {
		fp := fingerprint.Placeholder()
		sig := &netsig.Signature{HeaderFingerprint: "cafe0123"}
		MergeNetworkSignature(&fp, sig)
		if fp.HTTPSignatureState != fingerprint.SignatureValid {
			t.Errorf("expected valid state, got %q", fp.HTTPSignatureState)
		}
		if fp.HTTPSignature != "cafe0123" || fp.NetworkFPSource != "server" {
			t.Errorf("signature not merged: %+v", fp)
		}
	})

	t.Run("automation headers mark invalid", func(t *testing.T) {
		fp := fingerprint.Placeholder()
		sig := &netsig.Signature{
			HeaderFingerprint: "cafe0123",
			Headers:           netsig.HeaderAnalysis{AutomationHeaders: []string{"X-Custom: selenium"}},
		}
		MergeNetworkSignature(&fp, sig)
		if fp.HTTPSignatureState != fingerprint.SignatureInvalid {
			t.Errorf("expected invalid state, got %q", fp.HTTPSignatureState)
		}
	})
}
