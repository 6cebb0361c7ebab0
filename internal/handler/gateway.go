package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"fleet-gateway-go/internal/config"
	"fleet-gateway-go/internal/model"
	"fleet-gateway-go/internal/service"
)

// GatewayHandler exposes the forwarding gateway over HTTP.
type GatewayHandler struct {
	gateway *service.Gateway
	maxBody int64
	logger  *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(g *service.Gateway, cfg *config.Config, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		gateway: g,
		maxBody: cfg.Server.BodyMaxBytes,
		logger:  logger.With("component", "gateway_handler"),
	}
}

// Handle forwards the request and relays the upstream status and body.
func (h *GatewayHandler) Handle(c echo.Context) error {
	req := c.Request()

	var body []byte
	if model.MethodCarriesBody(req.Method) {
		b, err := h.readBody(req)
		if err != nil {
			return err
		}
		body = b
	}

	resp, err := h.gateway.Forward(&model.InboundRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Query:  model.ParseQuery(req.URL.RawQuery),
		Header: req.Header,
		Body:   body,
	})
	if err != nil {
		return h.mapError(c, err)
	}

	if !bodyAllowed(resp.StatusCode) || len(resp.Body) == 0 {
		c.Response().Header().Set(echo.HeaderContentType, resp.ContentType)
		return c.NoContent(resp.StatusCode)
	}
	return c.Blob(resp.StatusCode, resp.ContentType, resp.Body)
}

func (h *GatewayHandler) readBody(req *http.Request) ([]byte, error) {
	r := io.Reader(req.Body)
	if h.maxBody > 0 {
		r = io.LimitReader(req.Body, h.maxBody+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid request body").SetInternal(err)
	}
	if h.maxBody > 0 && int64(len(b)) > h.maxBody {
		return nil, echo.ErrStatusRequestEntityTooLarge
	}
	return b, nil
}

func (h *GatewayHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrEndpointRequired) {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Endpoint required"})
	}
	if errors.Is(err, service.ErrInvalidEndpoint) {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Invalid endpoint"})
	}

	var te *service.TransportError
	if errors.As(err, &te) {
		h.logger.Error("gateway error",
			"err", te.Err,
			"method", c.Request().Method,
		)
		return c.JSON(http.StatusBadGateway, errorBody{Error: te.Error()})
	}

	return err
}

// bodyAllowed reports whether a response with status may carry a body.
func bodyAllowed(status int) bool {
	return status >= http.StatusOK && status != http.StatusNoContent && status != http.StatusNotModified
}
