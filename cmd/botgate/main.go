package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/beaconsoft/botgate/internal/detect"
	httpx "github.com/beaconsoft/botgate/internal/http"
	"github.com/beaconsoft/botgate/internal/metrics"
	"github.com/beaconsoft/botgate/internal/netsig"
	"github.com/beaconsoft/botgate/internal/purchase"
	"github.com/beaconsoft/botgate/internal/sink"
	"github.com/beaconsoft/botgate/internal/tracker"
	"github.com/beaconsoft/botgate/pkg/config"
)

func main() {
	testEvents := flag.Bool("test-events", false, "send sample audit records through the sinks and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fanout, err := buildSinks(cfg)
	if err != nil {
		log.Fatalf("sinks: %v", err)
	}
	if err := fanout.Start(ctx); err != nil {
		log.Fatalf("sinks: %v", err)
	}
	defer fanout.Close()

	if *testEvents {
		runTestMode(fanout.Enqueue)
		return
	}

	metricsSrv := metrics.NewServer(cfg.Metrics)
	metricsSrv.Start()

	transport := detect.NewHTTPTransport(cfg.Detector)
	scores := tracker.NewScoreCache()
	auditResult := func(res detect.Result) {
		score := res.BotScore
		fanout.Enqueue(sink.Record{
			RecordID:       uuid.NewString(),
			Kind:           sink.KindDetection,
			SessionID:      res.SessionID,
			RequestID:      res.RequestID,
			Timestamp:      time.Now(),
			Action:         res.ActionType,
			BotScore:       &score,
			RiskLevel:      res.RiskLevel,
			Recommendation: res.Recommendation,
			Reasons:        res.Reasons,
		})
	}

	sessions := tracker.NewRegistry(transport, scores, auditResult, cfg.Engine, cfg.Collect)
	defer sessions.Close()

	env := httpx.Env{
		Cfg:      cfg,
		Sessions: sessions,
		Scores:   scores,
		Purchase: purchase.NewAggregator(purchase.NewClusterClient(cfg.Detector)),
		Timing:   netsig.NewMemoryTracker(),
		Audit:    fanout.Enqueue,
	}

	srv := httpx.NewServer(env)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func buildSinks(cfg *config.Config) (*sink.Fanout, error) {
	var sinks []sink.Sink
	for _, out := range cfg.Sinks.Outputs {
		switch out {
		case "log":
			sinks = append(sinks, sink.NewLogSink())
		case "kafka":
			sinks = append(sinks, sink.NewKafkaSink(cfg.Sinks))
		case "postgres":
			sinks = append(sinks, sink.NewPGSink(cfg.Sinks))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, sink.NewLogSink())
	}
	return sink.NewFanout(sinks...), nil
}
