package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Gateway event types consumed by the order lifecycle engine
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
	EventChargeRefunded           = "charge.refunded"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Event is a verified gateway event whose payload is decoded lazily.
type Event struct {
	ID   string
	Type string
	Raw  json.RawMessage
}

// CheckoutCompleted is the part of a checkout session the engine needs.
type CheckoutCompleted struct {
	OrderID         string
	PaymentIntentID string
	PaymentMethod   string
	CustomerEmail   string
}

type PaymentFailed struct {
	PaymentIntentID string
	Reason          string
}

// ChargeRefunded carries the charge amount and the cumulative refunded amount.
type ChargeRefunded struct {
	PaymentIntentID string
	Amount          int64
	AmountRefunded  int64
}

// IsFullRefund reports whether the whole charge has been returned.
func (c ChargeRefunded) IsFullRefund() bool {
	return c.Amount == c.AmountRefunded
}

// Verifier checks Stripe-Signature headers against the endpoint secret.
type Verifier struct {
	secret string
}

// NewVerifier creates a verifier for one webhook endpoint secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify authenticates the raw body before anything is parsed from it.
func (v *Verifier) Verify(payload []byte, signatureHeader string) (*Event, error) {
	if signatureHeader == "" {
		return nil, ErrMissingSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil {
		out.Raw = event.Data.Raw
	}
	return out, nil
}

// DecodeCheckoutCompleted extracts the order reference from a checkout session.
func DecodeCheckoutCompleted(raw json.RawMessage) (*CheckoutCompleted, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}

	out := &CheckoutCompleted{
		OrderID:       session.ClientReferenceID,
		CustomerEmail: session.CustomerEmail,
	}
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	if len(session.PaymentMethodTypes) > 0 {
		out.PaymentMethod = session.PaymentMethodTypes[0]
	}
	return out, nil
}

// DecodePaymentFailed extracts the intent id and gateway failure message.
func DecodePaymentFailed(raw json.RawMessage) (*PaymentFailed, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}

	out := &PaymentFailed{PaymentIntentID: intent.ID}
	if intent.LastPaymentError != nil {
		out.Reason = intent.LastPaymentError.Msg
	}
	return out, nil
}

func DecodeChargeRefunded(raw json.RawMessage) (*ChargeRefunded, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(raw, &charge); err != nil {
		return nil, fmt.Errorf("decode charge: %w", err)
	}

	out := &ChargeRefunded{Amount: charge.Amount, AmountRefunded: charge.AmountRefunded}
	if charge.PaymentIntent != nil {
		out.PaymentIntentID = charge.PaymentIntent.ID
	}
	return out, nil
}
