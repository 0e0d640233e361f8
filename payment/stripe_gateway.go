package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	client *client.API
}

// NewStripeGateway creates a gateway authenticated with the given secret key.
func NewStripeGateway(apiKey string) *StripeGateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeGateway{client: sc}
}

// CreateIntent opens a new payment intent for the amount. The client secret
// in the result is handed to the payer's browser to complete the charge.
func (g *StripeGateway) CreateIntent(ctx context.Context, params CreateIntentParams) (Intent, error) {
	if !params.Amount.IsPositive() {
		return Intent{}, fmt.Errorf("payment: non-positive intent amount")
	}
	currency := params.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	piParams := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinorUnits(params.Amount)),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	piParams.Context = ctx
	for k, v := range params.Metadata {
		piParams.AddMetadata(k, v)
	}

	pi, err := g.client.PaymentIntents.New(piParams)
	if err != nil {
		return Intent{}, g.mapStripeError("create intent", err)
	}

	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}

// RetrieveIntent fetches the current processor-side state of an intent.
func (g *StripeGateway) RetrieveIntent(ctx context.Context, id string) (Intent, error) {
	piParams := &stripe.PaymentIntentParams{}
	piParams.Context = ctx

	pi, err := g.client.PaymentIntents.Get(id, piParams)
	if err != nil {
		return Intent{}, g.mapStripeError("retrieve intent", err)
	}

	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}

// CreateRefund submits a refund against a captured intent.
func (g *StripeGateway) CreateRefund(ctx context.Context, intentID string, amount decimal.Decimal, metadata map[string]string) (RefundResult, error) {
	rParams := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(toMinorUnits(amount)),
	}
	rParams.Context = ctx
	for k, v := range metadata {
		rParams.AddMetadata(k, v)
	}

	r, err := g.client.Refunds.New(rParams)
	if err != nil {
		return RefundResult{}, g.mapStripeError("create refund", err)
	}

	return RefundResult{
		ID:     r.ID,
		Status: string(r.Status),
	}, nil
}

// mapStripeError converts stripe-go errors into ErrGateway wraps so processor
// detail never leaks past this adapter.
func (g *StripeGateway) mapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s: processor unavailable", ErrGateway, op)
		}
		return fmt.Errorf("%w: %s: %s", ErrGateway, op, stripeErr.Code)
	}
	return fmt.Errorf("%w: %s: %v", ErrGateway, op, err)
}

// toMinorUnits converts a major-unit amount to the processor's integer minor
// units (cents).
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
