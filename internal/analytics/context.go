package analytics

import (
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/scmmishra/tally/internal/geo"
)

const (
	Unknown         = "Unknown"
	DefaultTimezone = "UTC"
	DirectReferrer  = "direct"
)

// ClientContext is the normalized view of who made a request.
type ClientContext struct {
	IP        string
	Country   string
	City      string
	Region    string
	Timezone  string
	Latitude  float64
	Longitude float64
	UserAgent string
	Referrer  string
}

// GeoResolver maps an IP to a location. ok is false on a miss.
type GeoResolver interface {
	Lookup(ip string) (geo.Result, bool)
}

// AddressNormalizer may rewrite the client IP before geo lookup.
type AddressNormalizer interface {
	Normalize(ip string) string
}

type PassthroughNormalizer struct{}

func (PassthroughNormalizer) Normalize(ip string) string { return ip }

// PublicAddressNormalizer substitutes PublicIP for loopback and private
// addresses so local development still gets geo results.
type PublicAddressNormalizer struct {
	PublicIP string
}

func (n PublicAddressNormalizer) Normalize(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return n.PublicIP
	}
	return ip
}

// Headers probed for the client address, most trusted first.
var clientIPHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"X-Client-IP",
}

// Extractor derives a ClientContext from a request. It never fails; anything
// it cannot resolve becomes a sentinel.
type Extractor struct {
	Geo         GeoResolver
	Normalizer  AddressNormalizer
	MaxFieldLen int
}

func (e *Extractor) FromRequest(r *http.Request) ClientContext {
	return e.Extract(r.Header, r.RemoteAddr)
}

func (e *Extractor) Extract(h http.Header, remoteAddr string) ClientContext {
	ip := ClientIP(h, remoteAddr)
	if e.Normalizer != nil {
		ip = e.Normalizer.Normalize(ip)
	}

	cc := ClientContext{
		IP:        ip,
		Country:   Unknown,
		City:      Unknown,
		Region:    Unknown,
		Timezone:  DefaultTimezone,
		UserAgent: Truncate(h.Get("User-Agent"), e.MaxFieldLen),
		Referrer:  Truncate(firstNonEmpty(h.Get("Referer"), h.Get("Referrer")), e.MaxFieldLen),
	}
	if cc.Referrer == "" {
		cc.Referrer = DirectReferrer
	}

	if e.Geo == nil {
		return cc
	}
	res, ok := e.Geo.Lookup(ip)
	if !ok {
		return cc
	}
	cc.Country = orUnknown(res.Country)
	cc.City = orUnknown(res.City)
	cc.Region = orUnknown(res.Region)
	if res.Timezone != "" {
		cc.Timezone = res.Timezone
	}
	cc.Latitude = res.Latitude
	cc.Longitude = res.Longitude
	return cc
}

// ClientIP picks the first address from the forwarding headers, falling back
// to the connection address. An IPv4-mapped IPv6 prefix is stripped.
func ClientIP(h http.Header, remoteAddr string) string {
	for _, name := range clientIPHeaders {
		v := h.Get(name)
		if v == "" {
			continue
		}
		first, _, _ := strings.Cut(v, ",")
		if first = strings.TrimSpace(first); first != "" {
			return stripMapped(first)
		}
	}

	host := remoteAddr
	if hostPart, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = hostPart
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return Unknown
	}
	return stripMapped(host)
}

func stripMapped(ip string) string {
	return strings.TrimPrefix(ip, "::ffff:")
}

// Truncate cuts s to at most max runes. max <= 0 disables the bound.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
