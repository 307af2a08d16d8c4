// Package useragent classifies raw User-Agent strings into browser,
// operating system and device type buckets for session attribution.
package useragent

import "strings"

// DeviceInfo holds the classification result for a user agent string.
// All fields are empty when no user agent was supplied.
type DeviceInfo struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	DeviceType string `json:"deviceType"`
}

// Classify maps a raw user agent string to browser, OS and device type.
// It is a pure, total function: unknown agents fall into the "Other" and
// "Desktop" buckets instead of failing.
//
// The check order matters and must not be rearranged:
//   - Edge UAs contain "Chrome", so Edge is matched first.
//   - Chrome UAs contain "Safari", so Safari additionally excludes "Chrome".
//   - Android web-views carry "wv" and are mobile even without "Mobile".
//   - iPad UAs can contain "Mobile", so the mobile check runs before the
//     tablet check exactly as the tracking SDKs expect.
func Classify(userAgent string) DeviceInfo {
	if userAgent == "" {
		return DeviceInfo{}
	}

	return DeviceInfo{
		Browser:    classifyBrowser(userAgent),
		OS:         classifyOS(userAgent),
		DeviceType: classifyDeviceType(userAgent),
	}
}

func classifyBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "Edg/"):
		return "Edge"
	case strings.Contains(ua, "Chrome"):
		return "Chrome"
	case strings.Contains(ua, "Firefox"):
		return "Firefox"
	case strings.Contains(ua, "Safari") && !strings.Contains(ua, "Chrome"):
		return "Safari"
	case strings.Contains(ua, "OPR") || strings.Contains(ua, "Opera"):
		return "Opera"
	case strings.Contains(ua, "MSIE") || strings.Contains(ua, "Trident/"):
		return "Internet Explorer"
	default:
		return "Other"
	}
}

func classifyOS(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Mac OS"):
		return "MacOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "iOS"), strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	default:
		return "Other"
	}
}

func classifyDeviceType(ua string) string {
	switch {
	case strings.Contains(ua, "Mobile"),
		strings.Contains(ua, "Android") && strings.Contains(ua, "wv"):
		return "Mobile"
	case strings.Contains(ua, "iPad"), strings.Contains(ua, "Tablet"):
		return "Tablet"
	default:
		return "Desktop"
	}
}
