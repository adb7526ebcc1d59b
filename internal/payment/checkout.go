package payment

import (
	"context"
	"fmt"

	"agency-hub/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// CheckoutSession is the hosted payment page created for an order.
type CheckoutSession struct {
	ID  string
	URL string
}

// CheckoutRequest describes what the client is paying for.
type CheckoutRequest struct {
	Order         *models.Order
	Items         []models.OrderItem
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// CheckoutClient creates Stripe Checkout Sessions. The order id travels as the
// client_reference_id so checkout.session.completed can find the order.
type CheckoutClient struct {
	api      *client.API
	currency string
}

// NewCheckoutClient creates a checkout client for the given secret key
func NewCheckoutClient(secretKey, currency string) *CheckoutClient {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &CheckoutClient{api: api, currency: currency}
}

// CreateSession opens a payment-mode session with one line per order item.
func (c *CheckoutClient) CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := BuildSessionParams(req, c.currency)
	params.Context = ctx

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// BuildSessionParams maps an order snapshot to session parameters.
func BuildSessionParams(req CheckoutRequest, currency string) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.Order.ID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": req.Order.ID},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata("order_id", req.Order.ID)

	for _, item := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.ServiceName),
				},
				UnitAmount: stripe.Int64(item.Price),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}
	return params
}
