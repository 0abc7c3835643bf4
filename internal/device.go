package internal

import (
	"net"
	"net/http"
	"strings"
)

// DefaultDeviceHeaders lists the request headers that may carry the client
// device string, in lookup order.
var DefaultDeviceHeaders = []string{
	"User-Agent",
	"X-OperaMini-Phone-UA",
	"X-Device-User-Agent",
	"X-Original-User-Agent",
	"X-Skyfire-Phone",
	"X-Bolt-Phone-UA",
	"Device-Stock-UA",
	"X-UCBrowser-Device-UA",
}

// ResolveDevice returns the first non-empty header value among names.
func ResolveDevice(h http.Header, names []string) string {
	if len(names) == 0 {
		names = DefaultDeviceHeaders
	}
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// ClientIP returns the caller address. X-Forwarded-For is honored only when
// trustForwarded is set, and then only its first entry.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
