package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// PaymentService описывает операции сервиса платежей, доступные по HTTP.
type PaymentService interface {
	ListPayments(ctx context.Context) ([]domain.Payment, error)
	ListPaymentsByStatus(ctx context.Context, status domain.PaymentStatus) ([]domain.Payment, error)
	GetPayment(ctx context.Context, id int64) (domain.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID int64) (domain.Payment, error)
	IsPaymentProcessed(ctx context.Context, orderID int64) (bool, error)
	CreatePayment(ctx context.Context, orderID int64, amount decimal.Decimal, method string) (domain.Payment, error)
	ProcessPayment(ctx context.Context, orderID int64) (domain.Payment, error)
	RefundPayment(ctx context.Context, paymentID int64, amount decimal.Decimal, reason string) (domain.Payment, error)
	CancelPayment(ctx context.Context, paymentID int64) (domain.Payment, error)
}

// CreatePaymentRequest описывает тело POST /payments.
type CreatePaymentRequest struct {
	OrderID       int64           `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
}

// RefundRequest описывает тело POST /payments/{paymentID}/refund.
type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// ProcessedResponse описывает ответ GET /orders/{orderID}/payment/processed.
type ProcessedResponse struct {
	OrderID   int64 `json:"orderId"`
	Processed bool  `json:"processed"`
}

// PaymentHandler обслуживает API сервиса платежей.
type PaymentHandler struct {
	svc    PaymentService
	logger *log.Entry
}

// NewPaymentHandler создаёт обработчики сервиса платежей.
func NewPaymentHandler(svc PaymentService, logger *log.Entry) *PaymentHandler {
	if logger == nil {
		logger = log.New().WithField("component", "payment-http")
	}
	return &PaymentHandler{svc: svc, logger: logger}
}

// Register монтирует маршруты платежей.
func (h *PaymentHandler) Register(r chi.Router) {
	r.Get("/payments", h.listPayments)
	r.Post("/payments", h.createPayment)
	r.Get("/payments/{paymentID}", h.getPayment)
	r.Post("/payments/{paymentID}/refund", h.refund)
	r.Put("/payments/{paymentID}/cancel", h.cancel)

	r.Get("/orders/{orderID}/payment", h.getByOrder)
	r.Get("/orders/{orderID}/payment/processed", h.processed)
	r.Put("/orders/{orderID}/payment/process", h.process)
}

func (h *PaymentHandler) listPayments(w http.ResponseWriter, r *http.Request) {
	var (
		payments []domain.Payment
		err      error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, parseErr := domain.ParsePaymentStatus(raw)
		if parseErr != nil {
			writeError(w, r, h.logger, parseErr)
			return
		}
		payments, err = h.svc.ListPaymentsByStatus(r.Context(), status)
	} else {
		payments, err = h.svc.ListPayments(r.Context())
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *PaymentHandler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "paymentID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	payment, err := h.svc.GetPayment(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	payment, err := h.svc.CreatePayment(r.Context(), req.OrderID, req.Amount, req.PaymentMethod)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *PaymentHandler) refund(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "paymentID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	payment, err := h.svc.RefundPayment(r.Context(), id, req.Amount, req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "paymentID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	payment, err := h.svc.CancelPayment(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) getByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := int64Param(r, "orderID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	payment, err := h.svc.GetPaymentByOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) processed(w http.ResponseWriter, r *http.Request) {
	orderID, err := int64Param(r, "orderID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ok, err := h.svc.IsPaymentProcessed(r.Context(), orderID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ProcessedResponse{OrderID: orderID, Processed: ok})
}

// process запускает поворотную транзакцию. Отказ банка приходит как 200 с платежом в статусе Failed.
func (h *PaymentHandler) process(w http.ResponseWriter, r *http.Request) {
	orderID, err := int64Param(r, "orderID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	payment, err := h.svc.ProcessPayment(r.Context(), orderID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}
