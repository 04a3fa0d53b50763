package analytics

import "strings"

const (
	SourceDirect    = "Direct"
	SourceGoogle    = "Google"
	SourceFacebook  = "Facebook"
	SourceTwitter   = "Twitter"
	SourceLinkedIn  = "LinkedIn"
	SourceInstagram = "Instagram"
	SourceYouTube   = "YouTube"
	SourceOther     = "Other"
)

var referrerSources = []struct {
	fragment string
	source   string
}{
	{"google", SourceGoogle},
	{"facebook", SourceFacebook},
	{"twitter", SourceTwitter},
	{"linkedin", SourceLinkedIn},
	{"instagram", SourceInstagram},
	{"youtube", SourceYouTube},
}

// ClassifyReferrer buckets a referrer by case-insensitive substring match.
func ClassifyReferrer(referrer string) string {
	lower := strings.ToLower(strings.TrimSpace(referrer))
	if lower == "" || lower == DirectReferrer {
		return SourceDirect
	}
	for _, rs := range referrerSources {
		if strings.Contains(lower, rs.fragment) {
			return rs.source
		}
	}
	return SourceOther
}

const (
	BrowserChrome  = "Chrome"
	BrowserFirefox = "Firefox"
	BrowserSafari  = "Safari"
	BrowserEdge    = "Edge"
	BrowserOpera   = "Opera"
	BrowserOther   = "Other"
)

// ClassifyBrowser buckets a user agent. The check order matters: Chrome
// agents also carry a Safari token and Edge agents carry a Chrome token.
func ClassifyBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "Chrome") && !strings.Contains(ua, "Edge"):
		return BrowserChrome
	case strings.Contains(ua, "Firefox"):
		return BrowserFirefox
	case strings.Contains(ua, "Safari") && !strings.Contains(ua, "Chrome"):
		return BrowserSafari
	case strings.Contains(ua, "Edge"):
		return BrowserEdge
	case strings.Contains(ua, "Opera"):
		return BrowserOpera
	default:
		return BrowserOther
	}
}
