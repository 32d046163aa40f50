package client

import (
	"context"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/httpapi"
)

// OrderClient обращается к сервису заказов: чтение заказа и обратные вызовы статуса.
type OrderClient struct {
	base
}

// NewOrderClient создаёт адаптер сервиса заказов.
func NewOrderClient(baseURL string, logger *log.Entry, opts ...Option) *OrderClient {
	return &OrderClient{base: newBase("order-service", baseURL, logger, opts...)}
}

// GetOrder возвращает nil без ошибки, если заказа нет.
func (c *OrderClient) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	var out domain.Order
	if err := c.call(ctx, "get_order", http.MethodGet, fmt.Sprintf("/orders/%d", orderID), nil, &out); err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (c *OrderClient) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	return c.call(ctx, "update_status", http.MethodPut, fmt.Sprintf("/orders/%d/status", orderID),
		httpapi.UpdateStatusRequest{Status: string(status)}, nil)
}

var _ domain.OrderClient = (*OrderClient)(nil)
