package sink

import (
	"context"
	"log"

	json "github.com/goccy/go-json"
)

type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) Start(ctx context.Context) error { return nil }

func (s *LogSink) Enqueue(r Record) error {
	b, _ := json.Marshal(r)
	log.Printf("audit %s", string(b))
	return nil
}

func (s *LogSink) Close() error { return nil }

func (s *LogSink) Name() string { return "log" }
