package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ledger-saga/internal/models"
	"ledger-saga/internal/service"
	"ledger-saga/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	orderScope        = "orders"
)

// IdempotencyStore remembers the result of keyed requests
type IdempotencyStore interface {
	Reserve(ctx context.Context, scope, key string, ttl time.Duration) (string, error)
	Complete(ctx context.Context, scope, key, result string, ttl time.Duration) error
	Release(ctx context.Context, scope, key string) error
}

// OrderResponse is the wire form of an order
type OrderResponse struct {
	ID          int64              `json:"id"`
	UserID      int64              `json:"user_id"`
	Amount      string             `json:"amount"`
	Description string             `json:"description"`
	Status      models.OrderStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
}

func newOrderResponse(o *models.Order) OrderResponse {
	return OrderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Amount:      o.Amount.StringFixed(2),
		Description: o.Description,
		Status:      o.Status,
		CreatedAt:   o.CreatedAt,
	}
}

// OrderHandler serves the orders API
type OrderHandler struct {
	orderService   *service.OrderService
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
}

// NewOrderHandler creates a new orders HTTP handler. idempotency may be nil,
// in which case the Idempotency-Key header is ignored.
func NewOrderHandler(orderService *service.OrderService, idempotency IdempotencyStore, ttl time.Duration) *OrderHandler {
	return &OrderHandler{
		orderService:   orderService,
		idempotency:    idempotency,
		idempotencyTTL: ttl,
	}
}

func (h *OrderHandler) register(v1 *gin.RouterGroup) {
	v1.POST("/orders", h.createOrder)
	v1.GET("/orders", h.listOrders)
	v1.GET("/orders/:id", h.getOrder)
}

// createOrder handles order creation
func (h *OrderHandler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	key := c.GetHeader(idempotencyHeader)
	if key == "" || h.idempotency == nil {
		h.create(c, &req)
		return
	}

	// keys are per user so one user's key never replays another's order
	scope := fmt.Sprintf("%s:%d", orderScope, req.UserID)
	ctx := c.Request.Context()
	previous, err := h.idempotency.Reserve(ctx, scope, key, h.idempotencyTTL)
	if err != nil {
		writeError(c, err)
		return
	}

	if previous != "" {
		orderID, err := strconv.ParseInt(previous, 10, 64)
		if err != nil {
			writeError(c, err)
			return
		}
		order, err := h.orderService.GetOrder(ctx, orderID, req.UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header(replayedHeader, "true")
		c.JSON(http.StatusOK, newOrderResponse(order))
		return
	}

	ctx = context.WithoutCancel(ctx)
	order, ok := h.create(c, &req)
	if !ok {
		h.release(ctx, scope, key)
		return
	}

	result := strconv.FormatInt(order.ID, 10)
	if err := h.idempotency.Complete(ctx, scope, key, result, h.idempotencyTTL); err != nil {
		util.GetLogger().Error("Failed to store idempotency result",
			zap.String("key", key),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		// a key left pending would answer 409 until it expires
		h.release(ctx, scope, key)
	}
}

func (h *OrderHandler) release(ctx context.Context, scope, key string) {
	if err := h.idempotency.Release(ctx, scope, key); err != nil {
		util.GetLogger().Error("Failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

func (h *OrderHandler) create(c *gin.Context, req *service.CreateOrderRequest) (*models.Order, bool) {
	order, err := h.orderService.CreateOrder(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return nil, false
	}

	c.JSON(http.StatusCreated, newOrderResponse(order))
	return order, true
}

// getOrder handles get order by ID for its owner
func (h *OrderHandler) getOrder(c *gin.Context) {
	orderID, ok := parseID(c.Param("id"))
	if !ok {
		badRequest(c, "Invalid order ID", nil)
		return
	}

	userID, ok := parseID(c.Query("user_id"))
	if !ok {
		badRequest(c, "Invalid user_id", nil)
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newOrderResponse(order))
}

// listOrders handles listing a user's orders
func (h *OrderHandler) listOrders(c *gin.Context) {
	userID, ok := parseID(c.Query("user_id"))
	if !ok {
		badRequest(c, "Invalid user_id", nil)
		return
	}

	orders, err := h.orderService.ListOrders(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, resp)
}
