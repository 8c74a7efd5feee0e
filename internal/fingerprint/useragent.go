package fingerprint

import "regexp"

// Order matters throughout: brand-specific tokens (Edg) must be checked
// before generic ones (Chrome), and Chromium before Chrome.

var (
	reWindows = regexp.MustCompile(`Windows`)
	reMacOS   = regexp.MustCompile(`Mac OS X`)
	reLinux   = regexp.MustCompile(`Linux`)
	reAndroid = regexp.MustCompile(`Android`)
	reIOS     = regexp.MustCompile(`iPhone|iPad|iPod`)

	reGecko    = regexp.MustCompile(`Gecko/`)
	reFirefox  = regexp.MustCompile(`Firefox/`)
	reWebKit   = regexp.MustCompile(`AppleWebKit/`)
	reChromeT  = regexp.MustCompile(`Chrome/`)
	reChromium = regexp.MustCompile(`Chromium/`)
	reTrident  = regexp.MustCompile(`Trident/`)
	rePresto   = regexp.MustCompile(`Presto/`)

	reEdge   = regexp.MustCompile(`Edge|Edg/`)
	reFx     = regexp.MustCompile(`Firefox`)
	reSafari = regexp.MustCompile(`Safari`)
	reOpera  = regexp.MustCompile(`OPR|Opera`)
	reOPR    = regexp.MustCompile(`OPR`)

	verEdge     = regexp.MustCompile(`Edge?/([0-9.]+)`)
	verFirefox  = regexp.MustCompile(`Firefox/([0-9.]+)`)
	verChromium = regexp.MustCompile(`Chromium/([0-9.]+)`)
	verChrome   = regexp.MustCompile(`Chrome/([0-9.]+)`)
	verSafari   = regexp.MustCompile(`Version/([0-9.]+)`)
	verOpera    = regexp.MustCompile(`OPR/([0-9.]+)`)
)

var chromiumVendors = map[string]bool{
	"Google Inc.": true,
	"Google LLC":  true,
}

// ClassifyUserAgent derives browser name, version, engine, OS, and
// chromium-family flags from the user-agent string and navigator vendor.
func ClassifyUserAgent(ua, vendor string) BrowserInfo {
	info := BrowserInfo{
		Name:    "Unknown",
		Version: "0",
		OS:      "unknown",
		Engine:  "unknown",
	}

	switch {
	case reWindows.MatchString(ua):
		info.OS = "Windows"
	case reMacOS.MatchString(ua):
		info.OS = "macOS"
	case reLinux.MatchString(ua):
		info.OS = "Linux"
	case reAndroid.MatchString(ua):
		info.OS = "Android"
	case reIOS.MatchString(ua):
		info.OS = "iOS"
	}

	switch {
	case reGecko.MatchString(ua) && reFirefox.MatchString(ua):
		info.Engine = "Gecko"
	case reWebKit.MatchString(ua):
		if reChromeT.MatchString(ua) || reChromium.MatchString(ua) {
			info.Engine = "Blink"
		} else {
			info.Engine = "WebKit"
		}
	case reTrident.MatchString(ua):
		info.Engine = "Trident"
	case rePresto.MatchString(ua):
		info.Engine = "Presto"
	}

	switch {
	case reEdge.MatchString(ua):
		info.Name = "Edge"
		info.IsChromiumBased = true
		info.Version = extractVersion(ua, verEdge)
	case reFx.MatchString(ua):
		info.Name = "Firefox"
		info.Version = extractVersion(ua, verFirefox)
	case reChromium.MatchString(ua):
		info.Name = "Chromium"
		info.IsChromiumBased = true
		info.IsPureChromium = true
		info.Version = extractVersion(ua, verChromium)
	case reChromeT.MatchString(ua):
		if chromiumVendors[vendor] {
			info.Name = "Google Chrome"
			info.IsChrome = true
		} else {
			info.Name = "Chromium-based Browser"
		}
		info.IsChromiumBased = true
		info.Version = extractVersion(ua, verChrome)
	case reSafari.MatchString(ua):
		info.Name = "Safari"
		info.Version = extractVersion(ua, verSafari)
	case reOpera.MatchString(ua):
		info.Name = "Opera"
		info.IsChromiumBased = reOPR.MatchString(ua)
		info.Version = extractVersion(ua, verOpera)
	}

	return info
}

func extractVersion(ua string, pattern *regexp.Regexp) string {
	if m := pattern.FindStringSubmatch(ua); m != nil {
		return m[1]
	}
	return "0"
}
