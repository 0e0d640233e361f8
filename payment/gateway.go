package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrGateway wraps failures talking to the external charge processor.
var ErrGateway = errors.New("payment: charge processor failure")

// Intent is the processor-side representation of a charge attempt.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

// IntentSucceeded is the processor status naming a captured charge.
const IntentSucceeded = "succeeded"

// RefundResult is the processor-side acknowledgement of a refund.
type RefundResult struct {
	ID     string
	Status string
}

// CreateIntentParams carries the charge request to the processor.
type CreateIntentParams struct {
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
}

// Gateway abstracts the external charge processor so the orchestrators stay
// testable and processor-agnostic.
type Gateway interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (Intent, error)
	RetrieveIntent(ctx context.Context, id string) (Intent, error)
	CreateRefund(ctx context.Context, intentID string, amount decimal.Decimal, metadata map[string]string) (RefundResult, error)
}
