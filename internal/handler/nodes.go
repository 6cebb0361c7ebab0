package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"fleet-gateway-go/internal/model"
	"fleet-gateway-go/internal/store"
)

// NodeStore is the node registry used by NodesHandler.
type NodeStore interface {
	ListNodes(ctx context.Context) ([]model.Node, error)
	CreateNode(ctx context.Context, name string) (model.Node, string, error)
	RotateNodeToken(ctx context.Context, id int64) (string, error)
	DeleteNode(ctx context.Context, id int64) error
}

// NodesHandler manages monitored nodes and their tokens.
type NodesHandler struct {
	nodes  NodeStore
	logger *slog.Logger
}

// NewNodesHandler creates a NodesHandler.
func NewNodesHandler(nodes NodeStore, logger *slog.Logger) *NodesHandler {
	return &NodesHandler{
		nodes:  nodes,
		logger: logger.With("component", "nodes_handler"),
	}
}

// nodeWithToken is returned only when a token is issued.
type nodeWithToken struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	Token     string    `json:"token"`
}

// List returns all nodes. Tokens are never listed.
func (h *NodesHandler) List(c echo.Context) error {
	nodes, err := h.nodes.ListNodes(c.Request().Context())
	if err != nil {
		return err
	}
	if nodes == nil {
		nodes = []model.Node{}
	}
	return c.JSON(http.StatusOK, nodes)
}

// Create registers a node and returns its token once.
func (h *NodesHandler) Create(c echo.Context) error {
	var in struct {
		Name string `json:"name" form:"name"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Node name required"})
	}

	n, token, err := h.nodes.CreateNode(c.Request().Context(), name)
	if errors.Is(err, store.ErrDuplicate) {
		return c.JSON(http.StatusConflict, errorBody{Error: "Node already exists"})
	}
	if err != nil {
		return err
	}
	h.logger.Info("node created", "node_id", n.ID, "name", n.Name)

	return c.JSON(http.StatusCreated, nodeWithToken{ID: n.ID, Name: n.Name, CreatedAt: n.CreatedAt, Token: token})
}

// RotateToken replaces a node's token; the old token stops working at once.
func (h *NodesHandler) RotateToken(c echo.Context) error {
	id, err := nodeID(c)
	if err != nil {
		return err
	}
	token, err := h.nodes.RotateNodeToken(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{Error: "Node not found"})
	}
	if err != nil {
		return err
	}
	h.logger.Info("node token rotated", "node_id", id)

	return c.JSON(http.StatusOK, map[string]any{"id": id, "token": token})
}

// Delete removes a node.
func (h *NodesHandler) Delete(c echo.Context) error {
	id, err := nodeID(c)
	if err != nil {
		return err
	}
	err = h.nodes.DeleteNode(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{Error: "Node not found"})
	}
	if err != nil {
		return err
	}
	h.logger.Info("node deleted", "node_id", id)

	return c.NoContent(http.StatusNoContent)
}

func nodeID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid node id")
	}
	return id, nil
}
