package fingerprint

import "testing"

func TestClassifyUserAgent(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		vendor  string
		browser string
		os      string
		engine  string
	}{
		{
			name:    "chrome on windows",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			vendor:  "Google Inc.",
			browser: "Google Chrome",
			os:      "Windows",
			engine:  "Blink",
		},
		{
			name:    "edge is matched before chrome",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			vendor:  "Google Inc.",
			browser: "Edge",
			os:      "Windows",
			engine:  "Blink",
		},
		{
			name:    "firefox on linux",
			ua:      "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			vendor:  "",
			browser: "Firefox",
			os:      "Linux",
			engine:  "Gecko",
		},
		{
			name:    "chromium build without google vendor",
			ua:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			vendor:  "Brave Software",
			browser: "Chromium-based Browser",
			os:      "Linux",
			engine:  "Blink",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ClassifyUserAgent(tt.ua, tt.vendor)
			if info.Name != tt.browser {
				t.Errorf("browser: expected %q, got %q", tt.browser, info.Name)
			}
			if info.OS != tt.os {
				t.Errorf("os: expected %q, got %q", tt.os, info.OS)
			}
			if info.Engine != tt.engine {
				t.Errorf("engine: expected %q, got %q", tt.engine, info.Engine)
			}
		})
	}

	t.Run("chrome flag requires a google vendor", func(t *testing.T) {
		ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
		if !ClassifyUserAgent(ua, "Google Inc.").IsChrome {
			t.Error("expected IsChrome with Google vendor")
		}
		if ClassifyUserAgent(ua, "Other Corp").IsChrome {
			t.Error("expected IsChrome false without Google vendor")
		}
	})
}
