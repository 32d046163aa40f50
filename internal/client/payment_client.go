package client

import (
	"context"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// PaymentClient обращается к сервису платежей.
type PaymentClient struct {
	base
}

// NewPaymentClient создаёт адаптер сервиса платежей.
func NewPaymentClient(baseURL string, logger *log.Entry, opts ...Option) *PaymentClient {
	return &PaymentClient{base: newBase("payment-service", baseURL, logger, opts...)}
}

// GetPaymentByOrder возвращает nil без ошибки, если у заказа нет платежа.
func (c *PaymentClient) GetPaymentByOrder(ctx context.Context, orderID int64) (*domain.Payment, error) {
	var out domain.Payment
	if err := c.call(ctx, "get_payment_by_order", http.MethodGet, fmt.Sprintf("/orders/%d/payment", orderID), nil, &out); err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

var _ domain.PaymentClient = (*PaymentClient)(nil)
