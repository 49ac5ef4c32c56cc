// Package orders is the application layer over the order repositories.
// It adds structured logging and metrics and resolves ids to aggregates
// for callers that only know an order id.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
	"github.com/vladislavdragonenkov/northwind-orders/internal/metrics"
)

// Repositories groups the stores the service works with.
type Repositories struct {
	Orders   domain.OrderRepository
	Lines    domain.OrderLineRepository
	Products domain.ProductRepository
	Timeline domain.TimelineRepository
}

// Service exposes order operations to the transports.
type Service struct {
	repos   Repositories
	metrics *metrics.OrderMetrics
	logger  *log.Entry
}

// Option configures a Service.
type Option func(*Service)

// WithLogger replaces the default "order-service" logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink, e.g. one bound to a test registry.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewService creates the service. Without WithMetrics it registers in the default registry.
func NewService(repos Repositories, opts ...Option) (*Service, error) {
	if repos.Orders == nil || repos.Lines == nil || repos.Products == nil || repos.Timeline == nil {
		return nil, errors.New("orders service: all repositories are required")
	}

	s := &Service{
		repos:  repos,
		logger: log.WithField("component", "order-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewOrderMetrics()
	}
	return s, nil
}

// ListOrders collects order headers in id order. limit <= 0 means no limit.
func (s *Service) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	return observe(s, "list", log.Fields{"limit": limit}, func() ([]domain.Order, error) {
		orders := make([]domain.Order, 0)
		for order, err := range s.repos.Orders.List(ctx) {
			if err != nil {
				return nil, err
			}
			orders = append(orders, order)
			if limit > 0 && len(orders) >= limit {
				break
			}
		}
		return orders, nil
	})
}

// GetOrder returns the order with its lines and their products.
func (s *Service) GetOrder(ctx context.Context, id int32) (domain.Order, error) {
	return observe(s, "get", log.Fields{"order_id": id}, func() (domain.Order, error) {
		return s.repos.Orders.GetByID(ctx, id)
	})
}

// CreateOrder stores draft as a New order. The draft needs at least one line.
func (s *Service) CreateOrder(ctx context.Context, draft domain.Order) (domain.Order, error) {
	order, err := observe(s, "create", log.Fields{"lines": len(draft.Lines)}, func() (domain.Order, error) {
		return s.repos.Orders.Create(ctx, draft)
	})
	if err == nil {
		s.metrics.RecordTransition(string(domain.EventOrderCreated))
		s.logger.WithField("order_id", order.ID).Info("order created")
	}
	return order, err
}

// UpdateOrder rewrites a New order. The lifecycle dates of order must be empty.
func (s *Service) UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	updated, err := observe(s, "update", log.Fields{"order_id": order.ID}, func() (domain.Order, error) {
		return s.repos.Orders.Update(ctx, order)
	})
	if err == nil {
		s.metrics.RecordTransition(string(domain.EventOrderUpdated))
	}
	return updated, err
}

// DeleteOrder removes an order unless it is shipped. A missing order is not an error.
// An order that lost its lines is still deletable: the store re-checks the stored status.
func (s *Service) DeleteOrder(ctx context.Context, id int32) error {
	deleted, err := observe(s, "delete", log.Fields{"order_id": id}, func() (bool, error) {
		order, err := s.repos.Orders.GetByID(ctx, id)
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			return false, nil
		case errors.Is(err, domain.ErrOrderLinesNotFound):
			s.logger.WithField("order_id", id).Warn("deleting order without lines")
			order = domain.Order{ID: id}
		case err != nil:
			return false, err
		}
		return true, s.repos.Orders.Delete(ctx, order)
	})
	if err == nil && deleted {
		s.metrics.RecordTransition(string(domain.EventOrderDeleted))
	}
	return err
}

// MarkOrdered moves a New order to Ordered.
func (s *Service) MarkOrdered(ctx context.Context, id int32) (domain.Order, error) {
	return s.transition(ctx, "mark_ordered", id, domain.EventOrderOrdered, s.repos.Orders.MarkOrdered)
}

// MarkShipped moves an Ordered order to Shipped.
func (s *Service) MarkShipped(ctx context.Context, id int32) (domain.Order, error) {
	return s.transition(ctx, "mark_shipped", id, domain.EventOrderShipped, s.repos.Orders.MarkShipped)
}

func (s *Service) transition(
	ctx context.Context,
	operation string,
	id int32,
	event domain.EventType,
	mark func(context.Context, domain.Order) (domain.Order, error),
) (domain.Order, error) {
	order, err := observe(s, operation, log.Fields{"order_id": id}, func() (domain.Order, error) {
		current, err := s.repos.Orders.GetByID(ctx, id)
		if err != nil {
			return domain.Order{}, err
		}
		return mark(ctx, current)
	})
	if err == nil {
		s.metrics.RecordTransition(string(event))
		s.logger.WithFields(log.Fields{"order_id": id, "status": order.Status()}).Info("order status changed")
	}
	return order, err
}

// OrderLines returns the lines without product details.
func (s *Service) OrderLines(ctx context.Context, id int32) ([]domain.OrderLine, error) {
	return observe(s, "list_lines", log.Fields{"order_id": id}, func() ([]domain.OrderLine, error) {
		seq, err := s.repos.Lines.ListByOrderID(ctx, id)
		if err != nil {
			return nil, err
		}
		lines := make([]domain.OrderLine, 0)
		for line, err := range seq {
			if err != nil {
				return nil, err
			}
			lines = append(lines, line)
		}
		return lines, nil
	})
}

// Timeline lists the lifecycle events of an order, oldest first.
func (s *Service) Timeline(ctx context.Context, id int32) ([]domain.TimelineEvent, error) {
	return observe(s, "timeline", log.Fields{"order_id": id}, func() ([]domain.TimelineEvent, error) {
		return s.repos.Timeline.List(ctx, id)
	})
}

// CustomerOrderHistory totals ordered quantities per product for a customer.
func (s *Service) CustomerOrderHistory(ctx context.Context, customerID string) ([]domain.CustomerProductTotal, error) {
	return observe(s, "customer_history", log.Fields{"customer_id": customerID}, func() ([]domain.CustomerProductTotal, error) {
		return s.repos.Orders.CustomerOrderHistory(ctx, customerID)
	})
}

// CustomerOrderDetails lists the priced lines of one order.
func (s *Service) CustomerOrderDetails(ctx context.Context, orderID int32) ([]domain.CustomerOrderDetail, error) {
	return observe(s, "customer_details", log.Fields{"order_id": orderID}, func() ([]domain.CustomerOrderDetail, error) {
		return s.repos.Orders.CustomerOrderDetails(ctx, orderID)
	})
}

// Product looks up a catalogue entry.
func (s *Service) Product(ctx context.Context, id int32) (domain.Product, error) {
	return observe(s, "get_product", log.Fields{"product_id": id}, func() (domain.Product, error) {
		return s.repos.Products.GetByID(ctx, id)
	})
}

// observe runs fn, records its metrics and logs the failure at a level matching its category.
func observe[T any](s *Service, operation string, fields log.Fields, fn func() (T, error)) (T, error) {
	started := time.Now()
	s.metrics.OperationStarted()

	result, err := fn()
	s.metrics.OperationFinished(operation, resultLabel(err), time.Since(started))
	if err == nil {
		return result, nil
	}

	entry := s.logger.WithError(err).WithFields(fields).WithField("operation", operation)
	switch {
	case domain.IsNotFound(err):
		entry.Debug("order operation: not found")
	case domain.IsInvalidTransition(err), domain.IsInvalidOrder(err):
		entry.Warn("order operation rejected")
	default:
		entry.Error("order operation failed")
	}

	var zero T
	return zero, fmt.Errorf("%s: %w", operation, err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case domain.IsNotFound(err):
		return metrics.ResultNotFound
	case domain.IsInvalidTransition(err):
		return metrics.ResultInvalidTransition
	case domain.IsInvalidOrder(err):
		return metrics.ResultInvalidOrder
	case domain.IsStoreUnavailable(err):
		return metrics.ResultStoreUnavailable
	default:
		return metrics.ResultError
	}
}
