// Package netsig derives a server-observed network signature from the HTTP
// request carrying a snapshot: header fingerprint, automation tells, and
// request timing. The proxy layer merges it into the device fingerprint
// before forwarding to the detector.
package netsig

import "net/http"

// Signature is the server-side counterpart of the client fingerprint.
type Signature struct {
	HeaderFingerprint string         `json:"header_fingerprint"`
	Headers           HeaderAnalysis `json:"header_analysis"`
	UserAgent         UAAnalysis     `json:"user_agent_analysis"`
	Timing            TimingAnalysis `json:"timing_analysis"`
}

// HeaderAnalysis contains header-based automation signals.
type HeaderAnalysis struct {
	MissingExpected    []string `json:"missing_expected"`
	AutomationHeaders  []string `json:"automation_headers"`
	InconsistentValues []string `json:"inconsistent_values"`
	HeaderCount        int      `json:"header_count"`
}

// UAAnalysis contains user-agent string analysis.
type UAAnalysis struct {
	Length             int      `json:"length"`
	ContainsAutomation bool     `json:"contains_automation"`
	AutomationKeywords []string `json:"automation_keywords"`
	Platform           string   `json:"platform"`
	Browser            string   `json:"browser"`
}

// TimingAnalysis contains request timing pattern analysis.
type TimingAnalysis struct {
	RequestIntervalMS  float64 `json:"request_interval_ms"`
	IntervalPrecision  int     `json:"interval_precision"`
	RequestsPerSecond  float64 `json:"requests_per_second"`
	HasPreviousRequest bool    `json:"has_previous_request"`
}

// Analyze derives the full signature for one request. clientIP must already
// be resolved by the caller with its configured proxy trust; timing is keyed
// and recorded under that address.
func Analyze(r *http.Request, tracker Tracker, clientIP string) Signature {
	return Signature{
		HeaderFingerprint: HeaderFingerprint(r.Header),
		Headers:           analyzeHeaders(r.Header),
		UserAgent:         analyzeUserAgent(r.UserAgent()),
		Timing:            analyzeTiming(clientIP, tracker),
	}
}

// Valid reports whether the request looks like an ordinary browser request:
// all expected headers present and no automation headers.
func (s Signature) Valid() bool {
	return len(s.Headers.MissingExpected) == 0 && len(s.Headers.AutomationHeaders) == 0
}
