package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/beaconsoft/botgate/internal/metrics"
	"github.com/beaconsoft/botgate/pkg/config"
)

const insertRecordSQL = `INSERT INTO audit_records
	(record_id, kind, session_id, request_id, ts, action, bot_score, risk_level, recommendation, reasons, user_id, anomaly_score, threshold, decision)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (record_id) DO NOTHING`

// PGSink batches audit records into Postgres. Records queue in memory and
// flush on batch size or interval, whichever comes first.
type PGSink struct {
	dsn       string
	batchSize int
	flushIvl  time.Duration

	db    *sql.DB
	queue chan Record

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewPGSink(cfg config.SinkConfig) *PGSink {
	batch := cfg.PostgresBatchSize
	if batch <= 0 {
		batch = 100
	}
	ivl := cfg.PostgresFlushIvl
	if ivl <= 0 {
		ivl = 2 * time.Second
	}
	return &PGSink{
		dsn:       cfg.PostgresDSN,
		batchSize: batch,
		flushIvl:  ivl,
		queue:     make(chan Record, batch*4),
		done:      make(chan struct{}),
	}
}

func (s *PGSink) Start(ctx context.Context) error {
	db, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return fmt.Errorf("pg sink: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pg sink: ping: %w", err)
	}
	s.db = db

	s.wg.Add(1)
	go s.flushLoop()
	return nil
}

// StartWithDB injects an existing connection, used by tests.
func (s *PGSink) StartWithDB(db *sql.DB) {
	s.db = db
	s.wg.Add(1)
	go s.flushLoop()
}

func (s *PGSink) Enqueue(r Record) error {
	select {
	case s.queue <- r:
		metrics.QueueDepth.WithLabelValues(s.Name()).Set(float64(len(s.queue)))
		return nil
	default:
		return fmt.Errorf("pg sink: queue full")
	}
}

func (s *PGSink) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushIvl)
	defer ticker.Stop()

	batch := make([]Record, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.writeBatch(batch); err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name(), "flush").Inc()
			log.Printf("sink: postgres flush of %d records failed: %v", len(batch), err)
		}
		metrics.BatchFlushLatency.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
		batch = batch[:0]
	}

	for {
		select {
		case r := <-s.queue:
			batch = append(batch, r)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain whatever is queued, then do a final flush.
			for {
				select {
				case r := <-s.queue:
					batch = append(batch, r)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *PGSink) writeBatch(batch []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	stmt, err := tx.Prepare(insertRecordSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}

	for _, r := range batch {
		_, err := stmt.Exec(
			r.RecordID,
			r.Kind,
			nullString(r.SessionID),
			nullString(r.RequestID),
			r.Timestamp,
			nullString(r.Action),
			nullFloat(r.BotScore),
			nullString(r.RiskLevel),
			nullString(r.Recommendation),
			pq.Array(r.Reasons),
			nullInt(r.UserID),
			nullFloat(r.AnomalyScore),
			nullFloat(r.Threshold),
			nullString(r.Decision),
		)
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", r.RecordID, err)
		}
	}

	stmt.Close()
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i != 0}
}
