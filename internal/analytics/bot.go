package analytics

import (
	"strings"

	"github.com/mssola/useragent"
)

// Lowercase fragments of crawlers, unfurlers, HTTP libraries and headless
// renderers that useragent does not flag on its own.
var botSignatures = []string{
	"bot", "spider", "crawl", "slurp",
	"facebookexternalhit", "whatsapp", "preview",
	"chrome-lighthouse", "google-site-verification", "googlesecurityscanner",
	"zgrab/", "netcraft", "burpcollaborator",
	"go-http-client/", "curl/", "wget/", "python-requests/", "python-urllib/",
	"okhttp/", "java/", "libwww-perl/", "axios/", "node-fetch",
	"headlesschrome", "phantomjs", "puppeteer", "playwright",
	"uptimerobot", "pingdom", "statuscake",
}

// IsBot reports whether the user agent looks automated. An empty user agent
// counts as a bot.
func IsBot(rawUA string) bool {
	if strings.TrimSpace(rawUA) == "" {
		return true
	}
	if useragent.New(rawUA).Bot() {
		return true
	}
	lower := strings.ToLower(rawUA)
	for _, sig := range botSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

// DescribeDevice returns the operating system name and a coarse device class.
// Both are empty when the user agent is empty.
func DescribeDevice(rawUA string) (os, deviceType string) {
	if strings.TrimSpace(rawUA) == "" {
		return "", ""
	}
	ua := useragent.New(rawUA)
	os = ua.OSInfo().Name

	switch {
	case IsBot(rawUA):
		deviceType = DeviceBot
	case strings.Contains(rawUA, "iPad") || strings.Contains(rawUA, "Tablet") ||
		(strings.Contains(rawUA, "Android") && !strings.Contains(rawUA, "Mobile")):
		deviceType = DeviceTablet
	case ua.Mobile():
		deviceType = DeviceMobile
	default:
		deviceType = DeviceDesktop
	}
	return os, deviceType
}
