package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// StockService описывает операции склада, доступные по HTTP.
type StockService interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	AvailableStock(ctx context.Context, id uuid.UUID) (int, error)
	IsAvailable(ctx context.Context, productID uuid.UUID, quantity int) (bool, error)
	Reserve(ctx context.Context, req domain.ReservationRequest) (domain.StockReservation, error)
	ReserveBatch(ctx context.Context, reqs []domain.ReservationRequest) ([]domain.StockReservation, error)
	GetReservation(ctx context.Context, id uuid.UUID) (domain.StockReservation, error)
	Cancel(ctx context.Context, reservationID uuid.UUID) error
	ListReservationsByOrder(ctx context.Context, orderID int64) ([]domain.StockReservation, error)
	ConfirmAllForOrder(ctx context.Context, orderID int64) error
	CancelAllForOrder(ctx context.Context, orderID int64) error
}

// AvailabilityResponse описывает ответ GET /products/{productID}/availability.
type AvailabilityResponse struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
	Available bool      `json:"available"`
}

// StockLevelResponse описывает ответ GET /products/{productID}/stock.
type StockLevelResponse struct {
	ProductID       uuid.UUID `json:"productId"`
	QuantityInStock int       `json:"quantityInStock"`
}

// StockHandler обслуживает API сервиса склада.
type StockHandler struct {
	svc    StockService
	logger *log.Entry
}

// NewStockHandler создаёт обработчики сервиса склада.
func NewStockHandler(svc StockService, logger *log.Entry) *StockHandler {
	if logger == nil {
		logger = log.New().WithField("component", "stock-http")
	}
	return &StockHandler{svc: svc, logger: logger}
}

// Register монтирует маршруты товаров и резервов.
func (h *StockHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products/{productID}", h.getProduct)
	r.Put("/products/{productID}", h.updateProduct)
	r.Delete("/products/{productID}", h.deleteProduct)
	r.Get("/products/{productID}/availability", h.availability)
	r.Get("/products/{productID}/stock", h.stockLevel)

	r.Post("/reservations", h.reserve)
	r.Post("/reservations/batch", h.reserveBatch)
	r.Get("/reservations/{reservationID}", h.getReservation)
	r.Put("/reservations/{reservationID}/cancel", h.cancelReservation)

	r.Get("/orders/{orderID}/reservations", h.listByOrder)
	r.Put("/orders/{orderID}/reservations/confirm", h.confirmAll)
	r.Put("/orders/{orderID}/reservations/cancel", h.cancelAll)
}

func (h *StockHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.ListProducts(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *StockHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "productID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	product, err := h.svc.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *StockHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var product domain.Product
	if err := decodeJSON(r, &product); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	created, err := h.svc.CreateProduct(r.Context(), product)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *StockHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "productID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var product domain.Product
	if err := decodeJSON(r, &product); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	product.ID = id
	updated, err := h.svc.UpdateProduct(r.Context(), product)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *StockHandler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "productID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.DeleteProduct(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StockHandler) availability(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "productID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil {
		writeError(w, r, h.logger, domain.ErrItemQuantityInvalid)
		return
	}
	ok, err := h.svc.IsAvailable(r.Context(), id, qty)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{ProductID: id, Quantity: qty, Available: ok})
}

func (h *StockHandler) stockLevel(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "productID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	qty, err := h.svc.AvailableStock(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, StockLevelResponse{ProductID: id, QuantityInStock: qty})
}

func (h *StockHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req domain.ReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	reservation, err := h.svc.Reserve(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

func (h *StockHandler) reserveBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []domain.ReservationRequest
	if err := decodeJSON(r, &reqs); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	reservations, err := h.svc.ReserveBatch(r.Context(), reqs)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservations)
}

func (h *StockHandler) getReservation(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "reservationID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	reservation, err := h.svc.GetReservation(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *StockHandler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "reservationID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StockHandler) listByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := int64Param(r, "orderID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	reservations, err := h.svc.ListReservationsByOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reservations)
}

func (h *StockHandler) confirmAll(w http.ResponseWriter, r *http.Request) {
	orderID, err := int64Param(r, "orderID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.ConfirmAllForOrder(r.Context(), orderID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StockHandler) cancelAll(w http.ResponseWriter, r *http.Request) {
	orderID, err := int64Param(r, "orderID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.CancelAllForOrder(r.Context(), orderID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
