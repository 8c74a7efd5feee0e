package sink

import (
	"context"
	"errors"
	"testing"
	"time"
)

// memSink records enqueued entries and optionally fails.
type memSink struct {
	name     string
	failWith error
	records  []Record
	started  bool
	closed   bool
}

func (m *memSink) Start(context.Context) error { m.started = true; return nil }
func (m *memSink) Close() error                { m.closed = true; return nil }
func (m *memSink) Name() string                { return m.name }

func (m *memSink) Enqueue(r Record) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.records = append(m.records, r)
	return nil
}

func TestFanout(t *testing.T) {
	t.Run("delivers to every sink", func(t *testing.T) {
		a := &memSink{name: "a"}
		b := &memSink{name: "b"}
		f := NewFanout(a, b)
		if err := f.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}

		f.Enqueue(Record{RecordID: "rec-1", Kind: KindDetection, Timestamp: time.Now()})
		if len(a.records) != 1 || len(b.records) != 1 {
			t.Errorf("expected both sinks to receive the record: a=%d b=%d", len(a.records), len(b.records))
		}

		f.Close()
		if !a.closed || !b.closed {
			t.Error("expected both sinks closed")
		}
	})

	t.Run("a failing sink does not stop the others", func(t *testing.T) {
		bad := &memSink{name: "bad", failWith: errors.New("down")}
		good := &memSink{name: "good"}
		f := NewFanout(bad, good)

		f.Enqueue(Record{RecordID: "rec-1", Kind: KindPurchase, Timestamp: time.Now()})
		if len(good.records) != 1 {
			t.Errorf("healthy sink should still receive: got %d", len(good.records))
		}
	})
}

func TestLogSink(t *testing.T) {
	s := NewLogSink()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	score := 0.7
	rec := Record{
		RecordID:  "rec-1",
		Kind:      KindDetection,
		SessionID: "sess-1",
		Timestamp: time.Now(),
		BotScore:  &score,
	}
	if err := s.Enqueue(rec); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if s.Name() != "log" {
		t.Errorf("unexpected name %q", s.Name())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
