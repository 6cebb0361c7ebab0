// Package service implements the request forwarding logic of the gateway.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"fleet-gateway-go/internal/config"
	"fleet-gateway-go/internal/model"
)

// ErrEndpointRequired is returned when the routing parameter (or the
// configured base URL) is empty after trimming slashes.
var ErrEndpointRequired = errors.New("endpoint required")

// ErrInvalidEndpoint is returned when the routing parameter cannot form an
// upstream path: it holds a control character or a fragment marker.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// defaultTransportMessage is used when a transport failure has no description.
const defaultTransportMessage = "API proxy error"

// jsonContentType is the content type relayed under the json policy.
const jsonContentType = "application/json; charset=utf-8"

// TransportError reports that the upstream call could not be completed
// (connection refused, DNS failure, timeout, TLS failure, canceled).
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Message == "" {
		return defaultTransportMessage
	}
	return e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }

// Upstream performs one buffered upstream call.
type Upstream interface {
	Do(ctx context.Context, method, url string, header http.Header, body []byte) (*model.UpstreamResponse, error)
}

// Gateway forwards caller requests to the monitoring API.
type Gateway struct {
	upstream     Upstream
	baseURL      string
	routingParam string
	contentType  string
	logger       *slog.Logger
}

// NewGateway creates a Gateway from the upstream and gateway config sections.
func NewGateway(u Upstream, cfg *config.Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		upstream:     u,
		baseURL:      strings.TrimRight(cfg.Upstream.BaseURL, "/"),
		routingParam: cfg.Gateway.RoutingParam,
		contentType:  cfg.Gateway.ResponseContentType,
		logger:       logger.With("component", "gateway"),
	}
}

// Target resolves the upstream location for req without performing I/O.
func (g *Gateway) Target(req *model.InboundRequest) (model.UpstreamTarget, error) {
	endpoint, _ := req.Query.Get(g.routingParam)
	endpoint = strings.Trim(endpoint, "/")
	if g.baseURL == "" || endpoint == "" {
		return model.UpstreamTarget{}, ErrEndpointRequired
	}
	if strings.ContainsFunc(endpoint, invalidEndpointRune) {
		return model.UpstreamTarget{}, ErrInvalidEndpoint
	}
	return model.UpstreamTarget{
		BaseURL:  g.baseURL,
		Endpoint: endpoint,
		Query:    req.Query.Without(g.routingParam),
	}, nil
}

func invalidEndpointRune(r rune) bool {
	return r < 0x20 || r == 0x7f || r == '#'
}

// Forward relays req to the upstream API and returns its status and body.
// The method is passed through unchanged; only the allowlisted headers are
// sent, and the body only for methods that carry one.
func (g *Gateway) Forward(req *model.InboundRequest) (*model.UpstreamResponse, error) {
	target, err := g.Target(req)
	if err != nil {
		return nil, err
	}

	var body []byte
	if model.MethodCarriesBody(req.Method) {
		body = req.Body
		if body == nil {
			body = []byte{}
		}
	}
	headers := model.NewForwardedHeaders(req.Header)

	g.logger.Debug("forwarding request",
		"method", req.Method,
		"endpoint", target.Endpoint,
		"headers", headers.Len(),
	)

	ctx := req.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := g.upstream.Do(ctx, req.Method, target.URL(), headers.Header(), body)
	if err != nil {
		g.logger.Warn("upstream call failed",
			"method", req.Method,
			"endpoint", target.Endpoint,
			"error", err,
		)
		return nil, &TransportError{Message: describeTransportError(err), Err: fmt.Errorf("forward to upstream: %w", err)}
	}

	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusBadGateway
	}
	if g.contentType != config.ContentTypeUpstream || resp.ContentType == "" {
		resp.ContentType = jsonContentType
	}
	return resp, nil
}
