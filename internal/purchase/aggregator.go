package purchase

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/beaconsoft/botgate/internal/metrics"
)

// Decision is the reduced outcome of a checkout attempt.
type Decision struct {
	Allowed bool    `json:"allowed"`
	Worst   Verdict `json:"worst"`
	// LinesScored counts lines actually sent before any early exit.
	LinesScored int `json:"lines_scored"`
}

// Aggregator scores cart lines sequentially and keeps a running worst
// verdict. Lines run in order to keep the early exit meaningful and to
// bound concurrent load on the detector.
type Aggregator struct {
	scorer Scorer
	// Now is injectable for tests.
	Now func() time.Time
}

func NewAggregator(scorer Scorer) *Aggregator {
	return &Aggregator{scorer: scorer}
}

func (a *Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Check scores every cart line and reduces the verdicts. An anomalous
// verdict replaces the running worst and stops scoring immediately; among
// clean verdicts the lower anomaly score is the more suspicious and
// becomes the new worst. The final decision is the negation of the worst
// verdict's anomaly flag.
//
// A 403 from the service is re-raised as ErrAnomalyDetected with the
// partial verdict in the decision. Any other failure aborts the whole
// check with ErrDetectorUnavailable; the checkout fails closed.
func (a *Aggregator) Check(ctx context.Context, user User, lines []CartLine) (Decision, error) {
	if len(lines) == 0 {
		return Decision{}, errors.New("purchase: empty cart")
	}

	now := a.now()
	var worst Verdict
	scored := 0

	for i, line := range lines {
		verdict, err := a.scorer.Score(ctx, BuildRequest(user, line, now))
		if err != nil {
			if errors.Is(err, ErrAnomalyDetected) {
				metrics.PurchaseChecks.WithLabelValues("block").Inc()
				return Decision{Allowed: false, Worst: verdict, LinesScored: i + 1}, err
			}
			log.Printf("[purchase] line %d scoring failed: %v", i, err)
			metrics.PurchaseChecks.WithLabelValues("unavailable").Inc()
			return Decision{}, err
		}
		scored = i + 1

		if verdict.IsAnomaly {
			worst = verdict
			break
		}
		if i == 0 || verdict.AnomalyScore < worst.AnomalyScore {
			worst = verdict
		}
	}

	decision := Decision{Allowed: !worst.IsAnomaly, Worst: worst, LinesScored: scored}
	if decision.Allowed {
		metrics.PurchaseChecks.WithLabelValues("allow").Inc()
	} else {
		metrics.PurchaseChecks.WithLabelValues("block").Inc()
	}
	return decision, nil
}
