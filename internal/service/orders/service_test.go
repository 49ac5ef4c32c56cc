package orders

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
	"github.com/vladislavdragonenkov/northwind-orders/internal/metrics"
	"github.com/vladislavdragonenkov/northwind-orders/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	svc  *Service
	reg  *prometheus.Registry
	hook *test.Hook
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	store := memory.NewSeededStore()
	clock := domain.ClockFunc(func() time.Time { return time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC) })
	return newFixtureWith(t, Repositories{
		Orders:   memory.NewOrderRepository(store, clock),
		Lines:    memory.NewOrderLineRepository(store),
		Products: memory.NewProductRepository(store),
		Timeline: memory.NewTimelineRepository(store),
	})
}

func newFixtureWith(t *testing.T, repos Repositories) fixture {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	reg := prometheus.NewRegistry()

	svc, err := NewService(repos,
		WithLogger(logger.WithField("component", "order-service")),
		WithMetrics(metrics.NewOrderMetricsWithRegisterer(reg)),
	)
	require.NoError(t, err)
	return fixture{svc: svc, reg: reg, hook: hook}
}

func (f fixture) operations(t *testing.T, operation, result string) float64 {
	t.Helper()

	families, err := f.reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "northwind_order_operations_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := lo.SliceToMap(metric.GetLabel(), func(l *dto.LabelPair) (string, string) {
				return l.GetName(), l.GetValue()
			})
			if labels["operation"] == operation && labels["result"] == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func draft(lines ...domain.OrderLine) domain.Order {
	return domain.Order{
		CustomerID: lo.ToPtr("VINET"),
		ShipCity:   lo.ToPtr("Reims"),
		Lines:      lines,
	}
}

func line(productID int32, qty int16) domain.OrderLine {
	return domain.OrderLine{
		Product:   domain.Product{ID: productID},
		UnitPrice: decimal.RequireFromString("10.00"),
		Quantity:  qty,
	}
}

func TestNewService_RequiresRepositories(t *testing.T) {
	_, err := NewService(Repositories{})
	require.Error(t, err)
}

func TestService_CreateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateOrder(ctx, draft(line(1, 2)))
	require.NoError(t, err)

	got, err := f.svc.GetOrder(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusNew, got.Status())
	require.Len(t, got.Lines, 1)
	assert.Equal(t, int32(1), got.Lines[0].Product.ID)
	assert.Equal(t, int16(2), got.Lines[0].Quantity)

	assert.Equal(t, 1.0, f.operations(t, "create", metrics.ResultOK))
	assert.Equal(t, 1.0, f.operations(t, "get", metrics.ResultOK))
}

func TestService_NotFoundIsWrappedAndCounted(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetOrder(context.Background(), 404)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Contains(t, err.Error(), "get:")

	assert.Equal(t, 1.0, f.operations(t, "get", metrics.ResultNotFound))
	require.NotNil(t, f.hook.LastEntry())
	assert.Equal(t, log.DebugLevel, f.hook.LastEntry().Level)
	assert.Equal(t, int32(404), f.hook.LastEntry().Data["order_id"])
}

func TestService_LifecycleByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, draft(line(1, 2)))
	require.NoError(t, err)

	_, err = f.svc.MarkShipped(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, log.WarnLevel, f.hook.LastEntry().Level)

	ordered, err := f.svc.MarkOrdered(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOrdered, ordered.Status())

	order.ShipCity = lo.ToPtr("Lyon")
	_, err = f.svc.UpdateOrder(ctx, order)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	shipped, err := f.svc.MarkShipped(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, shipped.Status())

	require.ErrorIs(t, f.svc.DeleteOrder(ctx, order.ID), domain.ErrInvalidTransition)

	events, err := f.svc.Timeline(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	assert.Equal(t, 2.0, f.operations(t, "mark_shipped", metrics.ResultOK)+f.operations(t, "mark_shipped", metrics.ResultInvalidTransition))
	assert.Equal(t, 1.0, f.operations(t, "delete", metrics.ResultInvalidTransition))
}

func TestService_DeleteMissingIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, draft(line(1, 1)))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID))
	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID))

	_, err = f.svc.OrderLines(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrOrderLinesNotFound)
}

func TestService_DeleteOrderWithoutLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, draft(line(1, 1)))
	require.NoError(t, err)
	require.NoError(t, f.svc.repos.Lines.DeleteLines(ctx, order))

	_, err = f.svc.GetOrder(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrOrderLinesNotFound)

	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID))
	assert.Equal(t, 1.0, f.operations(t, "delete", metrics.ResultOK))

	_, err = f.svc.GetOrder(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestService_InvalidLineSetsAreCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, draft())
	require.ErrorIs(t, err, domain.ErrOrderHasNoLines)
	assert.True(t, domain.IsInvalidOrder(err))

	_, err = f.svc.CreateOrder(ctx, draft(line(1, 1), line(1, 2)))
	require.ErrorIs(t, err, domain.ErrDuplicateOrderLine)

	assert.Equal(t, 2.0, f.operations(t, "create", metrics.ResultInvalidOrder))
	assert.Equal(t, log.WarnLevel, f.hook.LastEntry().Level)

	all, err := f.svc.ListOrders(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestService_ListOrdersHonoursLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 5 {
		_, err := f.svc.CreateOrder(ctx, draft(line(1, 1)))
		require.NoError(t, err)
	}

	all, err := f.svc.ListOrders(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	head, err := f.svc.ListOrders(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, lo.Map(head, func(o domain.Order, _ int) int32 { return o.ID }))
}

func TestService_ListOrdersStoreFailure(t *testing.T) {
	base := newFixture(t).svc.repos
	base.Orders = failingOrders{OrderRepository: base.Orders}
	f := newFixtureWith(t, base)

	_, err := f.svc.ListOrders(context.Background(), 0)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	assert.Equal(t, 1.0, f.operations(t, "list", metrics.ResultStoreUnavailable))
	assert.Equal(t, log.ErrorLevel, f.hook.LastEntry().Level)
	assert.Zero(t, testutil.CollectAndCount(f.reg, "northwind_order_transitions_total"))
}

func TestService_LinesHistoryDetailsAndProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, draft(line(11, 12), line(1, 10)))
	require.NoError(t, err)

	lines, err := f.svc.OrderLines(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	history, err := f.svc.CustomerOrderHistory(ctx, "VINET")
	require.NoError(t, err)
	assert.Equal(t, []domain.CustomerProductTotal{
		{ProductName: "Chai", Total: 10},
		{ProductName: "Queso Cabrales", Total: 12},
	}, history)

	details, err := f.svc.CustomerOrderDetails(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "120", details[1].ExtendedPrice.String())

	product, err := f.svc.Product(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, "Queso Cabrales", product.Name)

	_, err = f.svc.Product(ctx, 999)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

type failingOrders struct {
	domain.OrderRepository
}

func (failingOrders) List(context.Context) iter.Seq2[domain.Order, error] {
	return func(yield func(domain.Order, error) bool) {
		yield(domain.Order{}, fmt.Errorf("list orders: %w: %w", domain.ErrStoreUnavailable, errors.New("conn refused")))
	}
}
