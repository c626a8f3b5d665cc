package httputils

import "net/http"

// hopByHopHeaders must not be forwarded between an inbound request and the
// outbound request built from it (RFC 7230, section 6.1).
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// requestForwardHeaders are the inbound headers the data route passes through
// to the remote file server; range and conditional headers keep partial
// content semantics intact.
var requestForwardHeaders = []string{
	"Accept",
	"Accept-Encoding",
	"If-Match",
	"If-Modified-Since",
	"If-None-Match",
	"If-Range",
	"If-Unmodified-Since",
	"Range",
}

// CopyRequestHeaders copies range/conditional headers from src to dst.
func CopyRequestHeaders(dst *http.Request, src *http.Request) {
	for _, name := range requestForwardHeaders {
		if values, ok := src.Header[http.CanonicalHeaderKey(name)]; ok {
			dst.Header[http.CanonicalHeaderKey(name)] = values
		}
	}
}

// CopyResponseHeaders copies all upstream response headers to the response
// writer, minus hop-by-hop headers.
func CopyResponseHeaders(dst http.Header, src http.Header) {
	for name, values := range src {
		if _, skip := hopByHopHeaders[http.CanonicalHeaderKey(name)]; skip {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
