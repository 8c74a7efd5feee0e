package main

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/beaconsoft/botgate/internal/sink"
)

// generateTestRecords creates sample audit records for exercising sinks.
func generateTestRecords() []sink.Record {
	now := time.Now()
	f := func(v float64) *float64 { return &v }
	sessionID := "session-" + uuid.NewString()[:8]

	return []sink.Record{
		{
			RecordID:       uuid.NewString(),
			Kind:           sink.KindDetection,
			SessionID:      sessionID,
			RequestID:      uuid.NewString(),
			Timestamp:      now,
			Action:         "timed_short",
			BotScore:       f(0.12),
			RiskLevel:      "low",
			Recommendation: "allow",
		},
		{
			RecordID:       uuid.NewString(),
			Kind:           sink.KindDetection,
			SessionID:      sessionID,
			RequestID:      uuid.NewString(),
			Timestamp:      now.Add(2 * time.Second),
			Action:         "account_access",
			BotScore:       f(0.71),
			RiskLevel:      "medium",
			Recommendation: "challenge",
			Reasons:        []string{"irregular_typing_cadence"},
		},
		{
			RecordID:       uuid.NewString(),
			Kind:           sink.KindDetection,
			SessionID:      sessionID,
			RequestID:      uuid.NewString(),
			Timestamp:      now.Add(5 * time.Second),
			Action:         "timed_long",
			BotScore:       f(0.93),
			RiskLevel:      "high",
			Recommendation: "block",
			Reasons:        []string{"webdriver_present", "headless_user_agent"},
		},
		{
			RecordID:     uuid.NewString(),
			Kind:         sink.KindPurchase,
			SessionID:    sessionID,
			RequestID:    uuid.NewString(),
			Timestamp:    now.Add(8 * time.Second),
			UserID:       1042,
			AnomalyScore: f(-0.31),
			Threshold:    f(-0.12),
			Decision:     "block",
		},
		{
			RecordID:     uuid.NewString(),
			Kind:         sink.KindPurchase,
			SessionID:    "session-" + uuid.NewString()[:8],
			RequestID:    uuid.NewString(),
			Timestamp:    now.Add(9 * time.Second),
			UserID:       1043,
			AnomalyScore: f(0.44),
			Threshold:    f(-0.12),
			Decision:     "allow",
		},
	}
}

// runTestMode sends sample records through the configured sinks.
func runTestMode(emit func(sink.Record)) {
	log.Println("TEST MODE: sending sample audit records")

	records := generateTestRecords()
	for i, r := range records {
		outcome := r.Recommendation
		if r.Kind == sink.KindPurchase {
			outcome = r.Decision
		}
		log.Printf("sending test record %d/%d: %s %s (%s)", i+1, len(records), r.Kind, outcome, r.RecordID)
		emit(r)
		if i < len(records)-1 {
			time.Sleep(200 * time.Millisecond)
		}
	}

	log.Println("TEST MODE: all records sent")
}
