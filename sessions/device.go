package sessions

import "strings"

// DeviceInfo is the client metadata recorded on a session.
type DeviceInfo struct {
	IPAddress  string
	UserAgent  string
	DeviceType string
	Browser    string
	OS         string
}

// ParseDevice classifies a User-Agent header by keyword.
func ParseDevice(ip, userAgent string) DeviceInfo {
	ua := strings.ToLower(userAgent)
	d := DeviceInfo{
		IPAddress:  ip,
		UserAgent:  userAgent,
		DeviceType: "desktop",
		Browser:    "unknown",
		OS:         "unknown",
	}

	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		d.DeviceType = "tablet"
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		d.DeviceType = "mobile"
	}

	// order matters: Edge and Chrome UAs also contain "safari"
	switch {
	case strings.Contains(ua, "edg/"):
		d.Browser = "Edge"
	case strings.Contains(ua, "firefox/"):
		d.Browser = "Firefox"
	case strings.Contains(ua, "chrome/") || strings.Contains(ua, "crios/"):
		d.Browser = "Chrome"
	case strings.Contains(ua, "safari/"):
		d.Browser = "Safari"
	case strings.Contains(ua, "okhttp") || strings.Contains(ua, "dart"):
		d.Browser = "App"
	}

	switch {
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		d.OS = "iOS"
	case strings.Contains(ua, "android"):
		d.OS = "Android"
	case strings.Contains(ua, "windows"):
		d.OS = "Windows"
	case strings.Contains(ua, "mac os"):
		d.OS = "macOS"
	case strings.Contains(ua, "linux"):
		d.OS = "Linux"
	}
	return d
}
