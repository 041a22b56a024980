package proxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders never cross the proxy boundary. Authorization and
// X-API-Key are stripped too so backends never see client credentials.
var hopByHopHeaders = map[string]struct{}{
	"Host":                {},
	"Connection":          {},
	"Content-Length":      {},
	"Expect":              {},
	"Upgrade":             {},
	"Te":                  {},
	"Transfer-Encoding":   {},
	"Keep-Alive":          {},
	"Proxy-Connection":    {},
	"Trailer":             {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Authorization":       {},
	"X-Api-Key":           {},
}

// responseSkipHeaders are dropped when relaying the backend response; gin's
// CORS handling owns the Access-Control names.
var responseSkipHeaders = map[string]struct{}{
	"Connection":        {},
	"Transfer-Encoding": {},
}

func isResponseSkipHeader(name string) bool {
	if _, ok := responseSkipHeaders[name]; ok {
		return true
	}
	return strings.HasPrefix(name, "Access-Control-")
}

// copyForwardHeaders copies the client headers onto the backend request,
// dropping the hop-by-hop set and anything named in Connection tokens.
func copyForwardHeaders(dst, src http.Header) {
	perRequest := make(map[string]struct{})
	for _, token := range src.Values("Connection") {
		for _, name := range strings.Split(token, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				perRequest[http.CanonicalHeaderKey(name)] = struct{}{}
			}
		}
	}
	for name, values := range src {
		canonical := http.CanonicalHeaderKey(name)
		if _, ok := hopByHopHeaders[canonical]; ok {
			continue
		}
		if _, ok := perRequest[canonical]; ok {
			continue
		}
		for _, v := range values {
			dst.Add(canonical, v)
		}
	}
}

// copyResponseHeaders relays the backend headers to the client minus the
// connection-managed and CORS-managed names.
func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		canonical := http.CanonicalHeaderKey(name)
		if isResponseSkipHeader(canonical) {
			continue
		}
		for _, v := range values {
			dst.Add(canonical, v)
		}
	}
}
