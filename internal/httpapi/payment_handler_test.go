package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/httpapi"
)

type stubPaymentService struct {
	payment      domain.Payment
	err          error
	listedStatus domain.PaymentStatus
	refundReason string
}

func (s *stubPaymentService) ListPayments(context.Context) ([]domain.Payment, error) {
	return []domain.Payment{s.payment}, s.err
}

func (s *stubPaymentService) ListPaymentsByStatus(_ context.Context, status domain.PaymentStatus) ([]domain.Payment, error) {
	s.listedStatus = status
	return []domain.Payment{}, s.err
}

func (s *stubPaymentService) GetPayment(context.Context, int64) (domain.Payment, error) {
	return s.payment, s.err
}

func (s *stubPaymentService) GetPaymentByOrder(context.Context, int64) (domain.Payment, error) {
	return s.payment, s.err
}

func (s *stubPaymentService) IsPaymentProcessed(context.Context, int64) (bool, error) {
	return s.payment.IsProcessed(), s.err
}

func (s *stubPaymentService) CreatePayment(_ context.Context, orderID int64, amount decimal.Decimal, method string) (domain.Payment, error) {
	return domain.Payment{ID: 1, OrderID: orderID, Amount: amount, PaymentMethod: method, Status: domain.PaymentStatusPending}, s.err
}

func (s *stubPaymentService) ProcessPayment(context.Context, int64) (domain.Payment, error) {
	return s.payment, s.err
}

func (s *stubPaymentService) RefundPayment(_ context.Context, _ int64, _ decimal.Decimal, reason string) (domain.Payment, error) {
	s.refundReason = reason
	p := s.payment
	p.Status = domain.PaymentStatusRefunded
	return p, s.err
}

func (s *stubPaymentService) CancelPayment(context.Context, int64) (domain.Payment, error) {
	return s.payment, s.err
}

func newPaymentServer(t *testing.T, svc *stubPaymentService) *httptest.Server {
	t.Helper()
	logger := loggerForTests()
	srv := httptest.NewServer(httpapi.NewRouter(logger, time.Second, httpapi.NewPaymentHandler(svc, logger)))
	t.Cleanup(srv.Close)
	return srv
}

func TestPaymentAPI_CreateAndProcess(t *testing.T) {
	svc := &stubPaymentService{payment: domain.Payment{ID: 1, OrderID: 7, Status: domain.PaymentStatusFailed}}
	srv := newPaymentServer(t, svc)

	resp, raw := doJSON(t, srv, http.MethodPost, "/payments", httpapi.CreatePaymentRequest{
		OrderID: 7, Amount: decimal.RequireFromString("20.00"), PaymentMethod: "card",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var created domain.Payment
	require.NoError(t, json.Unmarshal(raw, &created))
	require.Equal(t, "card", created.PaymentMethod)

	// Отказ банка не считается ошибкой транспорта.
	resp, raw = doJSON(t, srv, http.MethodPut, "/orders/7/payment/process", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var processed domain.Payment
	require.NoError(t, json.Unmarshal(raw, &processed))
	require.Equal(t, domain.PaymentStatusFailed, processed.Status)

	resp, raw = doJSON(t, srv, http.MethodGet, "/orders/7/payment/processed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var flag httpapi.ProcessedResponse
	require.NoError(t, json.Unmarshal(raw, &flag))
	require.False(t, flag.Processed)
}

func TestPaymentAPI_ListByStatus(t *testing.T) {
	svc := &stubPaymentService{}
	srv := newPaymentServer(t, svc)

	resp, _ := doJSON(t, srv, http.MethodGet, "/payments?status=Completed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, domain.PaymentStatusCompleted, svc.listedStatus)

	resp, raw := doJSON(t, srv, http.MethodGet, "/payments?status=Lost", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "status_invalid", decodeErrorBody(t, raw).Code)
}

func TestPaymentAPI_RefundAndNotFound(t *testing.T) {
	svc := &stubPaymentService{payment: domain.Payment{ID: 2, Status: domain.PaymentStatusCompleted}}
	srv := newPaymentServer(t, svc)

	resp, raw := doJSON(t, srv, http.MethodPost, "/payments/2/refund", httpapi.RefundRequest{
		Amount: decimal.RequireFromString("20.00"), Reason: "damaged",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	require.Equal(t, "damaged", svc.refundReason)

	missing := newPaymentServer(t, &stubPaymentService{err: domain.ErrPaymentNotFound})
	resp, raw = doJSON(t, missing, http.MethodGet, "/orders/9/payment", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "payment_not_found", decodeErrorBody(t, raw).Code)
}
