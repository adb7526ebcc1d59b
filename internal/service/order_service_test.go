package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"agency-hub/internal/models"
	"agency-hub/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateTotal(t *testing.T) {
	items := []OrderItemRequest{
		{ServiceTemplateID: "tpl_seo", Quantity: 2},
		{ServiceTemplateID: "tpl_ads", Quantity: 1},
	}

	templates := map[string]models.ServiceTemplate{
		"tpl_seo": {ID: "tpl_seo", Price: 1000},
		"tpl_ads": {ID: "tpl_ads", Price: 500},
	}

	total := calculateTotal(items, templates)

	expected := int64(2*1000 + 1*500) // 2500
	assert.Equal(t, expected, total)
}

type fakeCheckout struct {
	req payment.CheckoutRequest
	err error
}

func (f *fakeCheckout) CreateSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.req = req
	return &payment.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func newOrderHarness(t *testing.T) (*OrderService, *memRepo, *fakeCheckout) {
	t.Helper()
	repo := newMemRepo()
	repo.clients["cl_1"] = &models.Client{ID: "cl_1", UserID: "usr_1", Name: "Acme Co", Email: "owner@acme.test"}
	repo.clients["cl_2"] = &models.Client{ID: "cl_2", UserID: "usr_2", Name: "Other", Email: "other@example.test"}
	repo.templates["tpl_seo"] = models.ServiceTemplate{ID: "tpl_seo", Name: "SEO Retainer", Price: 250000}
	repo.templates["tpl_ads"] = models.ServiceTemplate{
		ID: "tpl_ads", Name: "Ads Management", Price: 120000,
		RequiresContract: true, ContractTemplate: "Ads agreement",
	}
	checkout := &fakeCheckout{}
	return NewOrderService(repo, checkout, "https://app.agency.test/dashboard"), repo, checkout
}

func TestCreateOrderSnapshotsTemplates(t *testing.T) {
	svc, repo, _ := newOrderHarness(t)

	detail, err := svc.CreateOrder(context.Background(), "usr_1", &CreateOrderRequest{Items: []OrderItemRequest{
		{ServiceTemplateID: "tpl_seo", Quantity: 1},
		{ServiceTemplateID: "tpl_ads", Quantity: 2},
	}})
	require.NoError(t, err)

	order := detail.Order
	assert.Equal(t, "cl_1", order.ClientID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, int64(250000+2*120000), order.Total)

	items, _ := repo.GetOrderItems(context.Background(), order.ID)
	require.Len(t, items, 2)
	assert.Equal(t, "SEO Retainer", items[0].ServiceName)
	assert.Equal(t, 0, items[0].Position)
	assert.False(t, items[0].RequiresContract)
	assert.Equal(t, 1, items[1].Position)
	assert.True(t, items[1].RequiresContract)
	assert.Equal(t, "Ads agreement", items[1].ContractTemplate)
}

func TestCreateOrderRejectsUnknownTemplate(t *testing.T) {
	svc, repo, _ := newOrderHarness(t)

	_, err := svc.CreateOrder(context.Background(), "usr_1", &CreateOrderRequest{Items: []OrderItemRequest{
		{ServiceTemplateID: "tpl_missing", Quantity: 1},
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.Empty(t, repo.orders)

	_, err = svc.CreateOrder(context.Background(), "usr_ghost", &CreateOrderRequest{Items: []OrderItemRequest{
		{ServiceTemplateID: "tpl_seo", Quantity: 1},
	}})
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestStartCheckout(t *testing.T) {
	svc, repo, checkout := newOrderHarness(t)
	detail, err := svc.CreateOrder(context.Background(), "usr_1", &CreateOrderRequest{Items: []OrderItemRequest{
		{ServiceTemplateID: "tpl_seo", Quantity: 1},
	}})
	require.NoError(t, err)
	orderID := detail.Order.ID

	session, err := svc.StartCheckout(context.Background(), "usr_1", orderID)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", session.URL)
	assert.Equal(t, "owner@acme.test", checkout.req.CustomerEmail)
	assert.Equal(t, "https://app.agency.test/dashboard/orders/"+orderID+"?checkout=success", checkout.req.SuccessURL)
	assert.Len(t, checkout.req.Items, 1)

	_, err = svc.StartCheckout(context.Background(), "usr_2", orderID)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))

	repo.orders[orderID].PaymentStatus = models.PaymentStatusSucceeded
	_, err = svc.StartCheckout(context.Background(), "usr_1", orderID)
	assert.ErrorIs(t, err, ErrOrderNotPayable)
	assert.Equal(t, http.StatusConflict, StatusCode(err))

	repo.orders[orderID].PaymentStatus = models.PaymentStatusFailed
	checkout.err = errors.New("stripe unavailable")
	_, err = svc.StartCheckout(context.Background(), "usr_1", orderID)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
}

func TestGetOrderIsScopedToClient(t *testing.T) {
	svc, _, _ := newOrderHarness(t)
	detail, err := svc.CreateOrder(context.Background(), "usr_1", &CreateOrderRequest{Items: []OrderItemRequest{
		{ServiceTemplateID: "tpl_seo", Quantity: 1},
	}})
	require.NoError(t, err)

	got, err := svc.GetOrder(context.Background(), "usr_1", detail.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, detail.Order.ID, got.Order.ID)
	assert.Len(t, got.Items, 1)
	assert.Nil(t, got.Contract)
	assert.Nil(t, got.Invoice)

	_, err = svc.GetOrder(context.Background(), "usr_2", detail.Order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	got, err = svc.GetOrderForStaff(context.Background(), detail.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "cl_1", got.Order.ClientID)
}

func TestSalesReportDerivesAverage(t *testing.T) {
	svc, repo, _ := newOrderHarness(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.IncrementSalesMetrics(ctx, models.MetricsDelta{Day: day, Revenue: 30000, OrderCount: 1, NewCustomers: 1}))
	require.NoError(t, repo.IncrementSalesMetrics(ctx, models.MetricsDelta{Day: day.Add(5 * time.Hour), Revenue: 10000, OrderCount: 1}))
	require.NoError(t, repo.IncrementSalesMetrics(ctx, models.MetricsDelta{Day: day.AddDate(0, 0, 1), RefundAmount: 4000}))

	days, err := svc.SalesReport(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2026-03-14", days[0].Date)
	assert.Equal(t, int64(40000), days[0].Revenue)
	assert.Equal(t, 2, days[0].OrderCount)
	assert.Equal(t, int64(20000), days[0].AvgOrderValue)
	assert.Equal(t, int64(0), days[1].AvgOrderValue)
	assert.Equal(t, int64(4000), days[1].RefundAmount)

	_, err = svc.SalesReport(ctx, day, day.AddDate(0, 0, -1))
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}
