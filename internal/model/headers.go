package model

import "net/http"

// forwardableHeaders is the complete set of request headers the gateway
// passes upstream, keyed by canonical name.
var forwardableHeaders = map[string]struct{}{
	"Accept":        {},
	"Authorization": {},
	"Content-Type":  {},
}

// ForwardedHeaders is the allow-listed subset of an inbound header set.
type ForwardedHeaders struct {
	h http.Header
}

// NewForwardedHeaders keeps only Content-Type, Authorization and Accept from
// src. Keys are matched case-insensitively; values are copied unchanged.
func NewForwardedHeaders(src http.Header) ForwardedHeaders {
	dst := make(http.Header, len(forwardableHeaders))
	for key, vals := range src {
		canonical := http.CanonicalHeaderKey(key)
		if _, ok := forwardableHeaders[canonical]; !ok || len(vals) == 0 {
			continue
		}
		dst[canonical] = append(dst[canonical], vals...)
	}
	return ForwardedHeaders{h: dst}
}

// Header returns a copy suitable for attaching to an outbound request.
func (f ForwardedHeaders) Header() http.Header {
	return f.h.Clone()
}

// Len returns the number of distinct forwarded header names.
func (f ForwardedHeaders) Len() int {
	return len(f.h)
}
