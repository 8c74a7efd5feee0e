// Package purchase scores checkout attempts against the clustering anomaly
// service and reduces per-line verdicts to a single allow/deny decision.
package purchase

import (
	"context"
	"errors"
	"time"
)

// ErrAnomalyDetected marks a checkout rejected by the clustering model,
// either via verdict or a 403 from the service.
var ErrAnomalyDetected = errors.New("purchase: anomaly detected")

// ErrDetectorUnavailable marks a transport-level failure reaching the
// clustering service. The checkout path fails closed on it.
var ErrDetectorUnavailable = errors.New("purchase: detector unavailable")

// User carries the demographic fields the clustering model was trained
// on. Values are the database's numeric encodings, forwarded untouched.
type User struct {
	ID         int `json:"id"`
	Age        int `json:"age"`
	Gender     int `json:"gender"`
	Prefecture int `json:"prefecture"`
}

// CartLine is one product entry in a checkout attempt.
type CartLine struct {
	ProductCategory int  `json:"product_category"`
	Quantity        int  `json:"quantity"`
	UnitPrice       int  `json:"unit_price"`
	IsLimited       bool `json:"is_limited"`
	PaymentMethod   int  `json:"payment_method"`
	Manufacturer    int  `json:"manufacturer"`
}

// ClusterRequest is the wire shape of one per-line scoring call.
type ClusterRequest struct {
	Age             int `json:"age"`
	Gender          int `json:"gender"`
	Prefecture      int `json:"prefecture"`
	ProductCategory int `json:"product_category"`
	Quantity        int `json:"quantity"`
	Price           int `json:"price"`
	TotalAmount     int `json:"total_amount"`
	// PurchaseTime is the hour of day, 0-23.
	PurchaseTime  int `json:"purchase_time"`
	LimitedFlag   int `json:"limited_flag"`
	PaymentMethod int `json:"payment_method"`
	Manufacturer  int `json:"manufacturer"`
}

// Verdict is the clustering service's per-line response.
type Verdict struct {
	ClusterID    int      `json:"cluster_id"`
	Prediction   int      `json:"prediction"`
	AnomalyScore float64  `json:"anomaly_score"`
	IsAnomaly    bool     `json:"is_anomaly"`
	Threshold    float64  `json:"threshold"`
	ReasonCodes  []string `json:"reason_codes,omitempty"`
	RequestID    string   `json:"request_id"`
}

// Scorer scores one cart line. A Verdict may accompany ErrAnomalyDetected
// when the service rejected with a 403 carrying verdict details.
type Scorer interface {
	Score(ctx context.Context, req ClusterRequest) (Verdict, error)
}

// BuildRequest assembles the scoring call for one cart line.
func BuildRequest(user User, line CartLine, now time.Time) ClusterRequest {
	limited := 0
	if line.IsLimited {
		limited = 1
	}
	return ClusterRequest{
		Age:             user.Age,
		Gender:          user.Gender,
		Prefecture:      user.Prefecture,
		ProductCategory: line.ProductCategory,
		Quantity:        line.Quantity,
		Price:           line.UnitPrice,
		TotalAmount:     line.UnitPrice * line.Quantity,
		PurchaseTime:    now.Hour(),
		LimitedFlag:     limited,
		PaymentMethod:   line.PaymentMethod,
		Manufacturer:    line.Manufacturer,
	}
}
