package domain

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

type GatewayOutcome string

const (
	GatewayOutcomeCompleted  GatewayOutcome = "COMPLETED"
	GatewayOutcomeFailed     GatewayOutcome = "FAILED"
	GatewayOutcomeCancelled  GatewayOutcome = "CANCELLED"
	GatewayOutcomeProcessing GatewayOutcome = "PROCESSING"
)

func (o GatewayOutcome) Terminal() bool {
	return o == GatewayOutcomeCompleted || o == GatewayOutcomeFailed || o == GatewayOutcomeCancelled
}

func (o GatewayOutcome) PaymentState() PaymentState {
	switch o {
	case GatewayOutcomeCompleted:
		return PaymentStateCompleted
	case GatewayOutcomeFailed:
		return PaymentStateFailed
	case GatewayOutcomeCancelled:
		return PaymentStateCancelled
	default:
		return PaymentStateReconciling
	}
}

type LineItem struct {
	Name     string
	Quantity int
	Amount   decimal.Decimal
}

type IntentRequest struct {
	PaymentID   string
	Amount      decimal.Decimal
	Currency    string
	Method      PaymentMethod
	Email       string
	Description string
	UserID      int
	LineItems   []LineItem
	ExpiresAt   time.Time
}

type Intent struct {
	TransactionRef string
	RedirectURL    string
}

// GatewayResult is what the gateway reported about a payment, from a callback or a query.
type GatewayResult struct {
	PaymentID      string
	TransactionRef string
	Outcome        GatewayOutcome
	ResponseCode   string
	Amount         *decimal.Decimal
	// NextQueryAt is the provider's earliest allowed time for the next status query.
	NextQueryAt *time.Time
}

type CallbackPayload struct {
	Query  url.Values
	Header http.Header
	Body   []byte
}

type PaymentGateway interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ParseCallback(ctx context.Context, payload CallbackPayload) (*GatewayResult, error)
	QueryStatus(ctx context.Context, transactionRef string) (*GatewayResult, error)
	// LookupPayment queries the provider's canonical payment status endpoint.
	LookupPayment(ctx context.Context, transactionRef string) (*GatewayResult, error)
	Void(ctx context.Context, transactionRef string) error
}
