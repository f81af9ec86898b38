// Package device derives human-readable device names for sessions.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

const unknownDevice = "Unknown Device"

// ParseUserAgent turns a User-Agent header into "<browser> on <platform>",
// e.g. "Chrome on macOS". CLI clients report their own product name.
func ParseUserAgent(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return unknownDevice
	}
	ua := useragent.New(userAgent)

	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}

	platform := ua.OS()
	if platform == "" {
		platform = ua.Platform()
	}
	switch {
	case strings.Contains(platform, "Mac OS X"):
		platform = "macOS"
	case ua.Mobile() && strings.Contains(userAgent, "iPhone"):
		platform = "iPhone"
	case platform == "":
		platform = "Unknown OS"
	}

	return strings.TrimSpace(browser + " on " + platform)
}
