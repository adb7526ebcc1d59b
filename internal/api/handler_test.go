package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agency-hub/internal/auth"
	"agency-hub/internal/models"
	"agency-hub/internal/payment"
	"agency-hub/internal/redisclient"
	"agency-hub/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct{}

func (fakeVerifier) Verify(payload []byte, header string) (*payment.Event, error) {
	switch header {
	case "":
		return nil, payment.ErrMissingSignature
	case "valid":
		return &payment.Event{ID: "evt_1", Type: payment.EventCheckoutSessionCompleted, Raw: payload}, nil
	default:
		return nil, payment.ErrInvalidSignature
	}
}

type fakeEngine struct {
	eventErr error
	signErr  error
	signed   service.SignRequest
	events   int
}

func (f *fakeEngine) HandleEvent(ctx context.Context, event *payment.Event) (*service.Outcome, error) {
	f.events++
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	return &service.Outcome{OrderID: "ord_1"}, nil
}

func (f *fakeEngine) SignContract(ctx context.Context, req service.SignRequest) (*service.Outcome, error) {
	f.signed = req
	if f.signErr != nil {
		return nil, f.signErr
	}
	return &service.Outcome{OrderID: req.OrderID, Status: models.OrderStatusCompleted}, nil
}

type fakeOrders struct {
	from, to time.Time
}

func (f *fakeOrders) CreateOrder(ctx context.Context, userID string, req *service.CreateOrderRequest) (*service.OrderDetail, error) {
	return &service.OrderDetail{Order: &models.Order{ID: "ord_new", ClientID: "cl_1"}}, nil
}

func (f *fakeOrders) StartCheckout(ctx context.Context, userID, orderID string) (*payment.CheckoutSession, error) {
	return &payment.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}, nil
}

func (f *fakeOrders) GetOrder(ctx context.Context, userID, orderID string) (*service.OrderDetail, error) {
	if orderID != "ord_1" {
		return nil, service.NewAppError(service.ErrOrderNotFound, "order not found", http.StatusNotFound)
	}
	return &service.OrderDetail{Order: &models.Order{ID: orderID}}, nil
}

func (f *fakeOrders) GetOrderForStaff(ctx context.Context, orderID string) (*service.OrderDetail, error) {
	return f.GetOrder(ctx, "", orderID)
}

func (f *fakeOrders) SalesReport(ctx context.Context, from, to time.Time) ([]service.SalesDay, error) {
	f.from, f.to = from, to
	return []service.SalesDay{{Date: from.Format("2006-01-02"), Revenue: 1000}}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type staticUsers map[string]*models.User

func (u staticUsers) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return u[id], nil
}

type testServer struct {
	router *gin.Engine
	engine *fakeEngine
	orders *fakeOrders
	authn  *auth.Authenticator
}

func newTestServer(t *testing.T, checks map[string]Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	cache, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	users := staticUsers{
		"usr_client": {ID: "usr_client", Role: models.RoleClient},
		"usr_staff":  {ID: "usr_staff", Role: models.RoleStaff},
		"usr_admin":  {ID: "usr_admin", Role: models.RoleAdmin},
	}
	authn := auth.NewAuthenticator("test-secret", users, cache, time.Minute)

	engine := &fakeEngine{}
	orders := &fakeOrders{}
	router := gin.New()
	NewHandler(engine, orders, fakeVerifier{}, authn, checks).SetupRoutes(router)
	return &testServer{router: router, engine: engine, orders: orders, authn: authn}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := s.authn.IssueToken(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestStripeWebhookStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		signature  string
		eventErr   error
		wantStatus int
		wantEvents int
	}{
		{"missing signature", "", nil, http.StatusBadRequest, 0},
		{"invalid signature", "forged", nil, http.StatusBadRequest, 0},
		{"processed", "valid", nil, http.StatusOK, 1},
		{"malformed", "valid", fmt.Errorf("%w: no reference", service.ErrMalformedEvent), http.StatusOK, 1},
		{"in flight", "valid", service.ErrEventInFlight, http.StatusOK, 1},
		{"unknown order", "valid", service.NewAppError(service.ErrOrderNotFound, "order not found", http.StatusNotFound), http.StatusOK, 1},
		{"internal error", "valid", errors.New("connection reset"), http.StatusInternalServerError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.engine.eventErr = tt.eventErr

			w := s.do(t, http.MethodPost, "/webhooks/stripe", "", `{"id":"evt_1"}`,
				map[string]string{"Stripe-Signature": tt.signature})
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantEvents, s.engine.events)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "OK", w.Body.String())
			}
		})
	}
}

func TestSignContractEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"signatureData":"data:image/png;base64,AAAA","fullName":"Ada Owner","email":"ada@acme.test"}`

	w := s.do(t, http.MethodPost, "/api/v1/orders/ord_1/sign", "", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/orders/ord_1/sign", "usr_client", body,
		map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1", "User-Agent": "test-agent"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Contract signed successfully"}`, w.Body.String())
	assert.Equal(t, "usr_client", s.engine.signed.UserID)
	assert.Equal(t, "ord_1", s.engine.signed.OrderID)
	assert.Equal(t, "203.0.113.7", s.engine.signed.IPAddress)
	assert.Equal(t, "test-agent", s.engine.signed.UserAgent)

	w = s.do(t, http.MethodPost, "/api/v1/orders/ord_1/sign", "usr_client",
		`{"signatureData":"x","fullName":"Ada","email":"not-an-email"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.engine.signErr = service.NewAppError(service.ErrAlreadySigned, "contract already signed", http.StatusBadRequest)
	w = s.do(t, http.MethodPost, "/api/v1/orders/ord_1/sign", "usr_client", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "contract already signed")

	s.engine.signErr = errors.New("db down")
	w = s.do(t, http.MethodPost, "/api/v1/orders/ord_1/sign", "usr_client", body, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestOrderRoutesAreRoleGated(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/orders", "usr_client",
		`{"items":[{"service_template_id":"tpl_seo","quantity":1}]}`, nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/orders", "usr_client", `{"items":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/orders/ord_1/checkout", "usr_client", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "checkout.stripe.test")

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/orders/ord_1", "usr_client", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/orders/ord_x", "usr_client", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/v1/orders/ord_1", "usr_staff", "", nil).Code)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/admin/orders/ord_1", "usr_staff", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/v1/admin/orders/ord_1", "usr_client", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/v1/admin/metrics/sales", "usr_staff", "", nil).Code)
}

func TestSalesMetricsQuery(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/v1/admin/metrics/sales?from=2026-03-01&to=2026-03-14", "usr_admin", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"date":"2026-03-01"`)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), s.orders.from)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), s.orders.to)

	w = s.do(t, http.MethodGet, "/api/v1/admin/metrics/sales?from=march", "usr_admin", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadiness(t *testing.T) {
	s := newTestServer(t, map[string]Pinger{"postgres": fakePinger{}, "redis": fakePinger{}})
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", "", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", "", nil).Code)

	s = newTestServer(t, map[string]Pinger{"postgres": fakePinger{err: errors.New("refused")}})
	w := s.do(t, http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "postgres")
}
