package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultListLimit      = 100
	maxListLimit          = 1000
)

// OrderService is what the HTTP API needs from the application layer.
type OrderService interface {
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)
	GetOrder(ctx context.Context, id int32) (domain.Order, error)
	CreateOrder(ctx context.Context, draft domain.Order) (domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error)
	DeleteOrder(ctx context.Context, id int32) error
	MarkOrdered(ctx context.Context, id int32) (domain.Order, error)
	MarkShipped(ctx context.Context, id int32) (domain.Order, error)
	OrderLines(ctx context.Context, id int32) ([]domain.OrderLine, error)
	Timeline(ctx context.Context, id int32) ([]domain.TimelineEvent, error)
	CustomerOrderHistory(ctx context.Context, customerID string) ([]domain.CustomerProductTotal, error)
	CustomerOrderDetails(ctx context.Context, orderID int32) ([]domain.CustomerOrderDetail, error)
	Product(ctx context.Context, id int32) (domain.Product, error)
}

// OrderHandler serves the order resources.
type OrderHandler struct {
	service OrderService
	timeout time.Duration
}

func NewOrderHandler(service OrderService, timeout time.Duration) *OrderHandler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &OrderHandler{service: service, timeout: timeout}
}

func (h *OrderHandler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// ListOrders handles GET /orders?limit=N.
func (h *OrderHandler) ListOrders(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxListLimit {
			respondBadRequest(c, "limit must be an integer in [1, 1000]")
			return
		}
		limit = parsed
	}

	ctx, cancel := h.context(c)
	defer cancel()

	orders, err := h.service.ListOrders(ctx, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(orders, func(o domain.Order, _ int) orderResponse {
		return newOrderResponse(o)
	}))
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	order, err := h.service.GetOrder(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	req, ok := bindOrder(c)
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	order, err := h.service.CreateOrder(ctx, req.toDomain(0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Location", "/orders/"+strconv.FormatInt(int64(order.ID), 10))
	c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (h *OrderHandler) UpdateOrder(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	req, ok := bindOrder(c)
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	order, err := h.service.UpdateOrder(ctx, req.toDomain(id))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *OrderHandler) DeleteOrder(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	if err := h.service.DeleteOrder(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OrderHandler) MarkOrdered(c *gin.Context) {
	h.transition(c, h.service.MarkOrdered)
}

func (h *OrderHandler) MarkShipped(c *gin.Context) {
	h.transition(c, h.service.MarkShipped)
}

func (h *OrderHandler) transition(c *gin.Context, mark func(context.Context, int32) (domain.Order, error)) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	order, err := mark(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *OrderHandler) OrderLines(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	lines, err := h.service.OrderLines(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(lines, newOrderLineResponse))
}

func (h *OrderHandler) Timeline(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	events, err := h.service.Timeline(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(events, func(e domain.TimelineEvent, _ int) timelineEventResponse {
		return timelineEventResponse{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred}
	}))
}

func (h *OrderHandler) OrderDetails(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	details, err := h.service.CustomerOrderDetails(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(details, func(d domain.CustomerOrderDetail, _ int) detailRowResponse {
		return detailRowResponse(d)
	}))
}

func (h *OrderHandler) CustomerHistory(c *gin.Context) {
	customerID := c.Param("id")
	if customerID == "" || len(customerID) > 5 {
		respondBadRequest(c, "customer id must be 1 to 5 characters")
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	history, err := h.service.CustomerOrderHistory(ctx, customerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(history, func(row domain.CustomerProductTotal, _ int) historyRowResponse {
		return historyRowResponse(row)
	}))
}

func (h *OrderHandler) GetProduct(c *gin.Context) {
	id, ok := int32Param(c, "id")
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	product, err := h.service.Product(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProductResponse(product))
}

func bindOrder(c *gin.Context) (orderRequest, bool) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return orderRequest{}, false
	}
	if msg := req.validateAmounts(); msg != "" {
		respondBadRequest(c, msg)
		return orderRequest{}, false
	}
	return req, true
}

func orderIDParam(c *gin.Context) (int32, bool) {
	return int32Param(c, "id")
}

func int32Param(c *gin.Context, name string) (int32, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 32)
	if err != nil || id <= 0 {
		respondBadRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return int32(id), true
}
