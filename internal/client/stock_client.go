package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/httpapi"
)

// StockClient обращается к сервису склада.
type StockClient struct {
	base
}

// NewStockClient создаёт адаптер склада с базовым адресом вида http://stock-service:8082.
func NewStockClient(baseURL string, logger *log.Entry, opts ...Option) *StockClient {
	return &StockClient{base: newBase("stock-service", baseURL, logger, opts...)}
}

// IsAvailable сообщает, хватает ли товара. Неизвестный товар недоступен.
func (c *StockClient) IsAvailable(ctx context.Context, productID uuid.UUID, quantity int) (bool, error) {
	q := url.Values{"quantity": []string{strconv.Itoa(quantity)}}
	var out httpapi.AvailabilityResponse
	err := c.call(ctx, "is_available", http.MethodGet,
		fmt.Sprintf("/products/%s/availability?%s", productID, q.Encode()), nil, &out)
	if err != nil {
		if domain.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return out.Available, nil
}

// Reserve возвращает nil без ошибки, если товара нет.
func (c *StockClient) Reserve(ctx context.Context, req domain.ReservationRequest) (*domain.StockReservation, error) {
	var out domain.StockReservation
	if err := c.call(ctx, "reserve", http.MethodPost, "/reservations", req, &out); err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (c *StockClient) Cancel(ctx context.Context, reservationID uuid.UUID) error {
	return c.call(ctx, "cancel", http.MethodPut, fmt.Sprintf("/reservations/%s/cancel", reservationID), nil, nil)
}

func (c *StockClient) ConfirmAllForOrder(ctx context.Context, orderID int64) error {
	return c.call(ctx, "confirm_all", http.MethodPut, fmt.Sprintf("/orders/%d/reservations/confirm", orderID), nil, nil)
}

func (c *StockClient) CancelAllForOrder(ctx context.Context, orderID int64) error {
	return c.call(ctx, "cancel_all", http.MethodPut, fmt.Sprintf("/orders/%d/reservations/cancel", orderID), nil, nil)
}

func (c *StockClient) ListReservationsByOrder(ctx context.Context, orderID int64) ([]domain.StockReservation, error) {
	var out []domain.StockReservation
	if err := c.call(ctx, "list_reservations", http.MethodGet, fmt.Sprintf("/orders/%d/reservations", orderID), nil, &out); err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

var _ domain.StockClient = (*StockClient)(nil)
