package netsig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var automationKeywords = []string{
	"headless", "selenium", "webdriver", "puppeteer",
	"playwright", "phantom", "jsdom", "nightmare",
	"chrome-headless", "automated", "bot", "crawler",
}

// Headers whose presence (or specific values) indicate tooling rather than a
// person driving the browser.
var automationIndicators = map[string][]string{
	"X-Requested-With": {"xmlhttprequest"},
	"Purpose":          {"prefetch"},
	"X-Purpose":        {"preview"},
	"Chrome-Proxy":     {},
	"X-DevTools-Emulate-Network-Conditions-Client-Id": {},
}

var expectedHeaders = []string{"User-Agent", "Accept", "Accept-Language", "Accept-Encoding"}

func analyzeHeaders(headers http.Header) HeaderAnalysis {
	analysis := HeaderAnalysis{
		MissingExpected:    []string{},
		AutomationHeaders:  []string{},
		InconsistentValues: []string{},
		HeaderCount:        len(headers),
	}

	// Automation tool signatures can show up in any header value.
	for header, values := range headers {
		for _, value := range values {
			lower := strings.ToLower(value)
			for _, keyword := range []string{"headless", "selenium", "webdriver", "puppeteer", "playwright"} {
				if strings.Contains(lower, keyword) {
					analysis.AutomationHeaders = append(analysis.AutomationHeaders, fmt.Sprintf("%s: %s", header, value))
					break
				}
			}
		}
	}

	for header, suspicious := range automationIndicators {
		value := headers.Get(header)
		if value == "" {
			continue
		}
		if len(suspicious) == 0 {
			// Presence of the header is itself the signal.
			analysis.AutomationHeaders = append(analysis.AutomationHeaders, fmt.Sprintf("%s: %s", header, value))
			continue
		}
		lower := strings.ToLower(value)
		for _, s := range suspicious {
			if strings.Contains(lower, s) {
				analysis.AutomationHeaders = append(analysis.AutomationHeaders, fmt.Sprintf("%s: %s", header, value))
				break
			}
		}
	}

	for _, expected := range expectedHeaders {
		if headers.Get(expected) == "" {
			analysis.MissingExpected = append(analysis.MissingExpected, expected)
		}
	}

	ua := headers.Get("User-Agent")
	lang := headers.Get("Accept-Language")
	if ua != "" && lang != "" && isLanguageUAInconsistent(ua, lang) {
		analysis.InconsistentValues = append(analysis.InconsistentValues, "language-ua-mismatch")
	}

	return analysis
}

// HeaderFingerprint hashes the sorted header names and value prefixes into a
// short stable signature.
func HeaderFingerprint(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, strings.ToLower(key))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := headers.Get(key)
		if len(value) > 20 {
			value = value[:20] + "..."
		}
		parts = append(parts, key+":"+value)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}

func isLanguageUAInconsistent(userAgent, acceptLanguage string) bool {
	ua := strings.ToLower(userAgent)
	lang := strings.ToLower(acceptLanguage)

	// Full locale tags only; short codes false-positive on UA tokens like
	// "like Gecko".
	if strings.Contains(ua, "zh-cn") && !strings.Contains(lang, "zh") {
		return true
	}
	if strings.Contains(ua, "ja-jp") && !strings.Contains(lang, "ja") {
		return true
	}
	if strings.Contains(ua, "ko-kr") && !strings.Contains(lang, "ko") {
		return true
	}
	return false
}

func analyzeUserAgent(userAgent string) UAAnalysis {
	analysis := UAAnalysis{
		Length:             len(userAgent),
		AutomationKeywords: []string{},
	}

	lower := strings.ToLower(userAgent)
	for _, keyword := range automationKeywords {
		if strings.Contains(lower, keyword) {
			analysis.ContainsAutomation = true
			analysis.AutomationKeywords = append(analysis.AutomationKeywords, keyword)
		}
	}

	analysis.Platform = extractPlatform(lower)
	analysis.Browser = extractBrowser(lower)
	return analysis
}

func extractPlatform(lowerUA string) string {
	// Mobile platforms first: iOS UAs contain "Mac OS X".
	switch {
	case strings.Contains(lowerUA, "iphone") || strings.Contains(lowerUA, "ipad"):
		return "iOS"
	case strings.Contains(lowerUA, "android"):
		return "Android"
	case strings.Contains(lowerUA, "windows"):
		return "Windows"
	case strings.Contains(lowerUA, "mac"):
		return "macOS"
	case strings.Contains(lowerUA, "linux"):
		return "Linux"
	}
	return ""
}

func extractBrowser(lowerUA string) string {
	switch {
	case strings.Contains(lowerUA, "chrome") && !strings.Contains(lowerUA, "edge"):
		return "Chrome"
	case strings.Contains(lowerUA, "firefox"):
		return "Firefox"
	case strings.Contains(lowerUA, "safari") && !strings.Contains(lowerUA, "chrome"):
		return "Safari"
	case strings.Contains(lowerUA, "edge"):
		return "Edge"
	}
	return ""
}
