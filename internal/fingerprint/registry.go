package fingerprint

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
)

// Signal tags emitted when a probe is unavailable or failed.
const (
	SignalNoEnvironment  = "no_environment"
	SignalCanvasError    = "canvas_error"
	SignalCanvasMissing  = "canvas_not_supported"
	SignalWebGLError     = "webgl_error"
	SignalWebGLMissing   = "webgl_not_supported"
	SignalWebdriver      = "navigator_webdriver_true"
	SignalHeadlessUA     = "headless_user_agent"
	SignalChromeMissing  = "chrome_runtime_missing"
	SignalLanguagesEmpty = "languages_empty"
	SignalLanguagesSkew  = "languages_mismatch"
	SignalPluginsEmpty   = "plugins_empty"
	SignalMobileNoTouch  = "mobile_ua_no_touch"
	SignalClean          = "no_anti_fingerprint_anomalies"
)

var (
	reHeadless     = regexp.MustCompile(`(?i)HeadlessChrome|PhantomJS|electron`)
	reHeadlessWord = regexp.MustCompile(`(?i)Headless`)
	reMobileUA     = regexp.MustCompile(`(?i)Mobi|Android|iPhone|iPad|iPod`)
)

// ProbeSource supplies the environment probe exactly once per session. It
// may block (the probe is beaconed by the page); a nil probe with a nil
// error means the session never produced one.
type ProbeSource interface {
	Probe(ctx context.Context) (*EnvironmentProbe, error)
}

// ProbeFunc adapts a function to ProbeSource.
type ProbeFunc func(ctx context.Context) (*EnvironmentProbe, error)

func (f ProbeFunc) Probe(ctx context.Context) (*EnvironmentProbe, error) { return f(ctx) }

// Registry memoizes the fingerprint computation. Concurrent callers before
// the first resolution share one in-flight computation; the probe runs at
// most once per registry lifetime.
type Registry struct {
	source ProbeSource

	once sync.Once
	done chan struct{}
	fp   DeviceFingerprint
}

func NewRegistry(source ProbeSource) *Registry {
	return &Registry{source: source, done: make(chan struct{})}
}

// Resolve returns the memoized fingerprint, computing it on first call.
// It never returns an error from the probes themselves; probe failure
// degrades to signal tags. Only context cancellation while the first
// computation is still in flight is surfaced.
//
// The computation is detached from the triggering caller's context: a
// caller timing out must not memoize a degraded fingerprint for everyone
// after it. The probe source is responsible for bounding its own lifetime.
func (r *Registry) Resolve(ctx context.Context) (DeviceFingerprint, error) {
	r.once.Do(func() {
		go func() {
			defer close(r.done)
			r.fp = r.compute(context.Background())
		}()
	})

	select {
	case <-r.done:
		return r.fp, nil
	case <-ctx.Done():
		return DeviceFingerprint{}, ctx.Err()
	}
}

func (r *Registry) compute(ctx context.Context) DeviceFingerprint {
	var probe *EnvironmentProbe
	if r.source != nil {
		p, err := r.source.Probe(ctx)
		if err == nil {
			probe = p
		}
	}
	if probe == nil {
		return Placeholder()
	}
	return FromProbe(*probe)
}

// Placeholder is the fixed fingerprint used when no environment probe is
// available. Tagged so downstream consumers can tell it apart from a real
// resolution.
func Placeholder() DeviceFingerprint {
	return DeviceFingerprint{
		ScreenResolution: "0x0",
		Timezone:         "UTC",
		UserAgent:        "unavailable",
		UserAgentHash:    "unavailable",
		UserAgentBrands:  []string{},
		Vendor:           "unknown",
		AppVersion:       "unknown",
		Platform:         "server",
		BrowserInfo: BrowserInfo{
			Name:    "server",
			Version: "0",
			OS:      "unknown",
			Engine:  "unknown",
		},
		CanvasFingerprint:      "unavailable",
		WebGLFingerprint:       "unavailable",
		HTTPSignatureState:     SignatureUnknown,
		AntiFingerprintSignals: []string{SignalNoEnvironment},
		NetworkFPSource:        "server",
	}
}

// FromProbe builds the fingerprint from a raw environment probe. Each probe
// field degrades independently to a signal tag; nothing here can fail.
func FromProbe(p EnvironmentProbe) DeviceFingerprint {
	ua := orUnknown(p.UserAgent)
	vendor := orUnknown(p.Vendor)
	info := ClassifyUserAgent(ua, vendor)

	canvasFP, canvasSignals := canvasFingerprint(p)
	webglFP, webglSignals := webglFingerprint(p)

	signals := append(canvasSignals, webglSignals...)
	signals = append(signals, antiFingerprintSignals(p, ua, info)...)

	brands := p.Brands
	if brands == nil {
		brands = []string{}
	}

	return DeviceFingerprint{
		ScreenResolution:       fmt.Sprintf("%dx%d", p.ScreenWidth, p.ScreenHeight),
		Timezone:               orDefault(p.Timezone, "unknown"),
		UserAgent:              ua,
		UserAgentHash:          HashString(ua),
		UserAgentBrands:        brands,
		Vendor:                 vendor,
		AppVersion:             orUnknown(p.AppVersion),
		Platform:               orUnknown(p.Platform),
		BrowserInfo:            info,
		CanvasFingerprint:      canvasFP,
		WebGLFingerprint:       webglFP,
		HTTPSignatureState:     SignatureUnknown,
		AntiFingerprintSignals: signals,
		NetworkFPSource:        "client",
	}
}

func canvasFingerprint(p EnvironmentProbe) (string, []string) {
	if p.CanvasError {
		return SignalCanvasError, []string{SignalCanvasError}
	}
	if p.CanvasDataURL == "" {
		return SignalCanvasMissing, []string{SignalCanvasMissing}
	}
	return HashString(p.CanvasDataURL), nil
}

func webglFingerprint(p EnvironmentProbe) (string, []string) {
	if p.WebGLError {
		return SignalWebGLError, []string{SignalWebGLError}
	}
	if p.WebGLVendor == "" && p.WebGLRenderer == "" {
		return SignalWebGLMissing, []string{SignalWebGLMissing}
	}
	return HashString(p.WebGLVendor + "_" + p.WebGLRenderer), nil
}

// antiFingerprintSignals inspects automation tells. A clean pass emits one
// explicit tag so "checked, clean" is distinguishable from "not checked".
func antiFingerprintSignals(p EnvironmentProbe, ua string, info BrowserInfo) []string {
	var signals []string

	if p.Webdriver != nil && *p.Webdriver {
		signals = append(signals, SignalWebdriver)
	}
	if reHeadless.MatchString(ua) {
		signals = append(signals, SignalHeadlessUA)
	}
	if info.IsChrome && p.ChromeRuntime != nil && !*p.ChromeRuntime {
		signals = append(signals, SignalChromeMissing)
	}
	if len(p.Languages) == 0 {
		signals = append(signals, SignalLanguagesEmpty)
	} else if p.Language != "" && p.Languages[0] != p.Language {
		signals = append(signals, SignalLanguagesSkew)
	}
	if p.PluginCount != nil && info.IsChromiumBased && *p.PluginCount == 0 && !reHeadlessWord.MatchString(ua) {
		signals = append(signals, SignalPluginsEmpty)
	}
	if reMobileUA.MatchString(ua) {
		touch := 0
		if p.MaxTouchPoints != nil {
			touch = *p.MaxTouchPoints
		}
		if touch == 0 {
			signals = append(signals, SignalMobileNoTouch)
		}
	}

	if len(signals) == 0 {
		signals = append(signals, SignalClean)
	}
	return signals
}

// HashString is the rolling 32-bit string hash used for content probes:
// h = (h<<5) - h + c with int32 wraparound, rendered as lowercase hex.
// Stability and cheapness matter here, not cryptographic strength.
func HashString(s string) string {
	var h int32
	for _, c := range s {
		h = (h << 5) - h + int32(c)
	}
	return strconv.FormatInt(int64(h), 16)
}

func orUnknown(s string) string { return orDefault(s, "unknown") }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
