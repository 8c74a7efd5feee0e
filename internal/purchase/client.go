package purchase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/beaconsoft/botgate/pkg/config"
)

// ClusterClient calls the clustering anomaly endpoint over HTTP.
type ClusterClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewClusterClient(cfg config.DetectorConfig) *ClusterClient {
	return &ClusterClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// clusterError is the service's error body shape. A 403 carries partial
// verdict details alongside the message.
type clusterError struct {
	Error        string   `json:"error"`
	Message      string   `json:"message"`
	ClusterID    *int     `json:"cluster_id"`
	AnomalyScore *float64 `json:"anomaly_score"`
	Threshold    *float64 `json:"threshold"`
	RequestID    string   `json:"request_id"`
}

// Score posts one line to the clustering endpoint. A 403 returns
// ErrAnomalyDetected together with the verdict details the service sent;
// any other failure is ErrDetectorUnavailable.
func (c *ClusterClient) Score(ctx context.Context, req ClusterRequest) (Verdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("purchase: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/detect_cluster_anomaly", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("purchase: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: read body: %v", ErrDetectorUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var v Verdict
		if err := json.Unmarshal(payload, &v); err != nil {
			return Verdict{}, fmt.Errorf("%w: decode verdict: %v", ErrDetectorUnavailable, err)
		}
		return v, nil
	case http.StatusForbidden:
		var ce clusterError
		_ = json.Unmarshal(payload, &ce)
		v := Verdict{IsAnomaly: true, RequestID: ce.RequestID}
		if ce.ClusterID != nil {
			v.ClusterID = *ce.ClusterID
		}
		if ce.AnomalyScore != nil {
			v.AnomalyScore = *ce.AnomalyScore
		}
		if ce.Threshold != nil {
			v.Threshold = *ce.Threshold
		}
		return v, fmt.Errorf("%w: %s", ErrAnomalyDetected, ce.Message)
	default:
		return Verdict{}, fmt.Errorf("%w: status %d", ErrDetectorUnavailable, resp.StatusCode)
	}
}
