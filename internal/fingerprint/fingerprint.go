// Package fingerprint resolves a once-per-session device fingerprint from the
// environment probe beaconed by the page.
package fingerprint

// BrowserInfo is the derived browser classification.
type BrowserInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	OS              string `json:"os"`
	Engine          string `json:"engine"`
	IsChromiumBased bool   `json:"is_chromium_based"`
	IsChrome        bool   `json:"is_chrome"`
	IsPureChromium  bool   `json:"is_pure_chromium"`
}

// HTTP signature validity states set by the proxy layer.
const (
	SignatureUnknown = "unknown"
	SignatureValid   = "valid"
	SignatureMissing = "missing"
	SignatureInvalid = "invalid"
)

// DeviceFingerprint is immutable once resolved, except for the network
// signature merge performed by the proxy layer before forwarding.
type DeviceFingerprint struct {
	ScreenResolution       string      `json:"screen_resolution"`
	Timezone               string      `json:"timezone"`
	UserAgent              string      `json:"user_agent"`
	UserAgentHash          string      `json:"user_agent_hash"`
	UserAgentBrands        []string    `json:"user_agent_brands"`
	Vendor                 string      `json:"vendor"`
	AppVersion             string      `json:"app_version"`
	Platform               string      `json:"platform"`
	BrowserInfo            BrowserInfo `json:"browser_info"`
	CanvasFingerprint      string      `json:"canvas_fingerprint"`
	WebGLFingerprint       string      `json:"webgl_fingerprint"`
	HTTPSignatureState     string      `json:"http_signature_state"`
	HTTPSignature          string      `json:"http_signature,omitempty"`
	TLSJA4                 string      `json:"tls_ja4,omitempty"`
	AntiFingerprintSignals []string    `json:"anti_fingerprint_signals"`
	NetworkFPSource        string      `json:"network_fingerprint_source,omitempty"`
}

// EnvironmentProbe is the raw client-side probe data. Zero values mean the
// probe was unavailable; the registry degrades per field, never fails.
type EnvironmentProbe struct {
	ScreenWidth    int      `json:"screen_width"`
	ScreenHeight   int      `json:"screen_height"`
	Timezone       string   `json:"timezone"`
	UserAgent      string   `json:"user_agent"`
	Vendor         string   `json:"vendor"`
	AppVersion     string   `json:"app_version"`
	Platform       string   `json:"platform"`
	Language       string   `json:"language"`
	Languages      []string `json:"languages"`
	Brands         []string `json:"brands"`
	PluginCount    *int     `json:"plugin_count"`
	MaxTouchPoints *int     `json:"max_touch_points"`
	Webdriver      *bool    `json:"webdriver"`
	ChromeRuntime  *bool    `json:"chrome_runtime"`
	// Canvas and WebGL probe payloads; the content hash is computed here so
	// the hash function stays in one place.
	CanvasDataURL string `json:"canvas_data_url"`
	WebGLVendor   string `json:"webgl_vendor"`
	WebGLRenderer string `json:"webgl_renderer"`
	CanvasError   bool   `json:"canvas_error"`
	WebGLError    bool   `json:"webgl_error"`
}
