package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// OrderService описывает операции координатора заказов, доступные по HTTP.
type OrderService interface {
	ListOrders(ctx context.Context) ([]domain.Order, error)
	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	GetOrdersByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Order, error)
	CreateOrder(ctx context.Context, customerID uuid.UUID, items []domain.OrderItem) (domain.Order, error)
	UpdateOrder(ctx context.Context, orderID int64, items []domain.OrderItem) (domain.Order, error)
	DeleteOrder(ctx context.Context, orderID int64) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID int64, reason string) (domain.Order, error)
}

// OrderItemRequest описывает позицию в запросе создания или изменения заказа.
// ID указывается для существующих позиций при изменении.
type OrderItemRequest struct {
	ID        int64           `json:"id,omitempty"`
	ProductID uuid.UUID       `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// CreateOrderRequest описывает тело POST /orders.
type CreateOrderRequest struct {
	CustomerID uuid.UUID          `json:"customerId"`
	Items      []OrderItemRequest `json:"items"`
}

// UpdateOrderRequest описывает тело PUT /orders/{orderID}.
type UpdateOrderRequest struct {
	Items []OrderItemRequest `json:"items"`
}

// UpdateStatusRequest описывает тело PUT /orders/{orderID}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// CancelOrderRequest описывает необязательное тело PUT /orders/{orderID}/cancel.
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandler обслуживает API сервиса заказов.
type OrderHandler struct {
	svc    OrderService
	logger *log.Entry
}

// NewOrderHandler создаёт обработчики сервиса заказов.
func NewOrderHandler(svc OrderService, logger *log.Entry) *OrderHandler {
	if logger == nil {
		logger = log.New().WithField("component", "order-http")
	}
	return &OrderHandler{svc: svc, logger: logger}
}

// Register монтирует маршруты заказов.
func (h *OrderHandler) Register(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Put("/orders/{orderID}", h.updateOrder)
	r.Delete("/orders/{orderID}", h.deleteOrder)
	r.Put("/orders/{orderID}/status", h.updateStatus)
	r.Put("/orders/{orderID}/cancel", h.cancelOrder)
	r.Get("/customers/{customerID}/orders", h.listByCustomer)
}

func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListOrders(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "orderID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	order, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) listByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuidParam(r, "customerID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	orders, err := h.svc.GetOrdersByCustomer(r.Context(), customerID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	order, err := h.svc.CreateOrder(r.Context(), req.CustomerID, toOrderItems(req.Items))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *OrderHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "orderID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req UpdateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	order, err := h.svc.UpdateOrder(r.Context(), id, toOrderItems(req.Items))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "orderID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.DeleteOrder(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "orderID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req UpdateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	order, err := h.svc.UpdateOrderStatus(r.Context(), id, domain.OrderStatus(req.Status))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "orderID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req CancelOrderRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	order, err := h.svc.CancelOrder(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func toOrderItems(in []OrderItemRequest) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(in))
	for _, it := range in {
		items = append(items, domain.OrderItem{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return items
}
