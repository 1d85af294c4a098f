package http

import (
	"net"
	"net/http"
	"strings"
)

// Device headers sent by clients on every request
const (
	HeaderDeviceFingerprint = "X-Device-Fingerprint"
	HeaderDeviceOS          = "X-Device-OS"
	HeaderDeviceType        = "X-Device-Type"
	HeaderDeviceBrowser     = "X-Device-Browser"
)

// DeviceHeaders are the raw device attributes declared by the client.
// Absent headers are returned as empty strings.
type DeviceHeaders struct {
	Fingerprint string
	OS          string
	Type        string
	Browser     string
}

// ReadDeviceHeaders collects the X-Device-* headers, trimming whitespace
func ReadDeviceHeaders(r *http.Request) DeviceHeaders {
	return DeviceHeaders{
		Fingerprint: strings.TrimSpace(r.Header.Get(HeaderDeviceFingerprint)),
		OS:          strings.TrimSpace(r.Header.Get(HeaderDeviceOS)),
		Type:        strings.TrimSpace(r.Header.Get(HeaderDeviceType)),
		Browser:     strings.TrimSpace(r.Header.Get(HeaderDeviceBrowser)),
	}
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header.
// ok is false when the header is absent. A present but malformed header
// returns ok=true with an empty token so callers can tell the two apart.
func BearerToken(r *http.Request) (token string, ok bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(value), true
}

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ExtractClientIP returns the address recorded on auth attempts.
// X-Forwarded-For and X-Real-IP are honored only when the direct peer is a
// trusted proxy; otherwise RemoteAddr is used.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	// Only trust X-Forwarded-For if request comes from trusted proxy
	if config != nil && isTrustedProxy(remoteIP, config.TrustedProxies) {
		// First valid entry wins
		for _, ip := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if ip = strings.TrimSpace(ip); isValidIP(ip) {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); isValidIP(xri) {
			return xri
		}
	}

	return remoteIP
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr != "" {
		// RemoteAddr may include port: "ip:port"
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return ip
		}
		// If no port, just use it directly
		return r.RemoteAddr
	}
	return "unknown"
}

// isTrustedProxy checks if an IP address is within any of the trusted proxy CIDR ranges
func isTrustedProxy(ip string, trustedProxies []string) bool {
	if len(trustedProxies) == 0 {
		return false
	}

	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // Skip invalid CIDR ranges
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}

	return false
}

// isValidIP checks if a string is a valid IPv4 or IPv6 address
func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
