// Package sink fans detection and purchase audit records out to the
// configured destinations.
package sink

import (
	"context"
	"log"
	"time"

	"github.com/beaconsoft/botgate/internal/metrics"
)

// Record is one audit entry: a detection verdict or a purchase decision.
type Record struct {
	RecordID  string    `json:"record_id"`
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Action         string   `json:"action,omitempty"`
	BotScore       *float64 `json:"bot_score,omitempty"`
	RiskLevel      string   `json:"risk_level,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Reasons        []string `json:"reasons,omitempty"`

	// Purchase fields.
	UserID       int      `json:"user_id,omitempty"`
	AnomalyScore *float64 `json:"anomaly_score,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
	Decision     string   `json:"decision,omitempty"`
}

// Record kinds.
const (
	KindDetection = "detection"
	KindPurchase  = "purchase"
)

type Sink interface {
	Start(ctx context.Context) error
	Enqueue(r Record) error
	Close() error
	Name() string // for metrics and logging
}

// Fanout forwards each record to every sink. A failing sink is counted
// and logged, never fatal for the others.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Start(ctx context.Context) error {
	for _, s := range f.sinks {
		if err := s.Start(ctx); err != nil {
			return err
		}
		log.Printf("sink: %s started", s.Name())
	}
	return nil
}

func (f *Fanout) Enqueue(r Record) {
	for _, s := range f.sinks {
		if err := s.Enqueue(r); err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name(), "enqueue").Inc()
			log.Printf("sink: %s enqueue failed: %v", s.Name(), err)
		}
	}
}

func (f *Fanout) Close() {
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			log.Printf("sink: %s close failed: %v", s.Name(), err)
		}
	}
}
