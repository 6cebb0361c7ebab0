// Package model defines the request-scoped types shared by the gateway,
// the identity resolver and the HTTP handlers.
package model

import (
	"context"
	"net/http"
	"strings"
)

// InboundRequest is a caller request as seen by the gateway. Query still
// carries the routing parameter; the gateway removes it when building the
// upstream target.
type InboundRequest struct {
	Ctx    context.Context
	Method string
	Query  QueryParams
	Header http.Header
	Body   []byte
}

// UpstreamTarget is the fully resolved upstream location for one call.
type UpstreamTarget struct {
	BaseURL  string
	Endpoint string
	Query    QueryParams
}

// URL renders base/endpoint[?query].
func (t UpstreamTarget) URL() string {
	var b strings.Builder
	b.WriteString(t.BaseURL)
	b.WriteByte('/')
	b.WriteString(t.Endpoint)
	if qs := t.Query.Encode(); qs != "" {
		b.WriteByte('?')
		b.WriteString(qs)
	}
	return b.String()
}

// UpstreamResponse is the relayed outcome of a successful upstream call.
type UpstreamResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// bodyMethods are the methods whose inbound body is forwarded upstream.
var bodyMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// MethodCarriesBody reports whether a request body is forwarded for method.
func MethodCarriesBody(method string) bool {
	return bodyMethods[method]
}
