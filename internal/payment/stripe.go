package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe refuses checkout sessions that expire sooner than this.
const stripeMinSessionLifetime = 30 * time.Minute

type StripeGateway struct {
	webhookSecret string
	successUrl    string
	failureUrl    string
	exponent      int32
}

func NewStripeGateway(webhookSecret, successUrl, failureUrl string, exponent int32) *StripeGateway {
	return &StripeGateway{
		webhookSecret: webhookSecret,
		successUrl:    successUrl,
		failureUrl:    failureUrl,
		exponent:      exponent,
	}
}

func (s *StripeGateway) Name() string {
	return "stripe"
}

func (s *StripeGateway) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	var lineItems []*stripe.CheckoutSessionLineItemParams

	for _, item := range req.LineItems {
		lineItem := &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(toMinorUnits(item.Amount, s.exponent)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		}

		lineItems = append(lineItems, lineItem)
	}

	params := &stripe.CheckoutSessionParams{
		LineItems:  lineItems,
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.successUrl),
		CancelURL:  stripe.String(s.failureUrl),
		Metadata: map[string]string{
			"payment_id": req.PaymentID,
			"user_id":    strconv.Itoa(req.UserID),
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				"payment_id": req.PaymentID,
			},
			Description: stripe.String(req.Description),
		},
		CustomerEmail:     stripe.String(req.Email),
		ClientReferenceID: stripe.String(req.PaymentID),
	}
	params.Context = ctx

	if time.Until(req.ExpiresAt) >= stripeMinSessionLifetime {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}

	checkoutSession, err := session.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	return &domain.Intent{
		TransactionRef: checkoutSession.ID,
		RedirectURL:    checkoutSession.URL,
	}, nil
}

// ParseCallback verifies a webhook delivery and maps checkout session events to an outcome.
func (s *StripeGateway) ParseCallback(ctx context.Context, payload domain.CallbackPayload) (*domain.GatewayResult, error) {
	sigHeader := payload.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		return nil, fmt.Errorf("%w: missing Stripe-Signature header", domain.ErrInvalidCallback)
	}

	event, err := webhook.ConstructEventWithOptions(
		payload.Body,
		sigHeader,
		s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCallback, err)
	}

	var outcome domain.GatewayOutcome

	var checkoutSession stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &checkoutSession); err != nil {
		return nil, fmt.Errorf("%w: failed to parse event data: %v", domain.ErrInvalidCallback, err)
	}

	switch event.Type {
	case "checkout.session.completed":
		outcome = sessionOutcome(&checkoutSession)
	case "checkout.session.async_payment_succeeded":
		outcome = domain.GatewayOutcomeCompleted
	case "checkout.session.async_payment_failed":
		outcome = domain.GatewayOutcomeFailed
	case "checkout.session.expired":
		outcome = domain.GatewayOutcomeCancelled
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnhandledEvent, event.Type)
	}

	result := s.sessionResult(&checkoutSession, outcome)
	result.ResponseCode = string(event.Type)

	return result, nil
}

func (s *StripeGateway) QueryStatus(ctx context.Context, transactionRef string) (*domain.GatewayResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	checkoutSession, err := session.Get(transactionRef, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	result := s.sessionResult(checkoutSession, sessionOutcome(checkoutSession))
	result.ResponseCode = string(checkoutSession.Status) + "/" + string(checkoutSession.PaymentStatus)

	return result, nil
}

// LookupPayment reads the payment intent behind the session, the canonical charge state.
func (s *StripeGateway) LookupPayment(ctx context.Context, transactionRef string) (*domain.GatewayResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	checkoutSession, err := session.Get(transactionRef, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	if checkoutSession.PaymentIntent == nil || checkoutSession.PaymentIntent.ID == "" {
		result := s.sessionResult(checkoutSession, sessionOutcome(checkoutSession))
		result.ResponseCode = string(checkoutSession.Status)
		return result, nil
	}

	piParams := &stripe.PaymentIntentParams{}
	piParams.Context = ctx

	pi, err := paymentintent.Get(checkoutSession.PaymentIntent.ID, piParams)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	var outcome domain.GatewayOutcome

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		outcome = domain.GatewayOutcomeCompleted
	case stripe.PaymentIntentStatusCanceled:
		outcome = domain.GatewayOutcomeCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			outcome = domain.GatewayOutcomeFailed
		} else {
			outcome = sessionOutcome(checkoutSession)
		}
	default:
		outcome = domain.GatewayOutcomeProcessing
	}

	result := s.sessionResult(checkoutSession, outcome)
	result.ResponseCode = string(pi.Status)

	if pi.Amount > 0 {
		amount := fromMinorUnits(pi.Amount, s.exponent)
		result.Amount = &amount
	}

	return result, nil
}

// Void expires an open checkout session so it can no longer be paid.
func (s *StripeGateway) Void(ctx context.Context, transactionRef string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	_, err := session.Expire(transactionRef, params)
	if err != nil {
		return classifyStripeError(err)
	}

	return nil
}

func (s *StripeGateway) sessionResult(cs *stripe.CheckoutSession, outcome domain.GatewayOutcome) *domain.GatewayResult {
	result := &domain.GatewayResult{
		PaymentID:      cs.Metadata["payment_id"],
		TransactionRef: cs.ID,
		Outcome:        outcome,
	}

	if result.PaymentID == "" {
		result.PaymentID = cs.ClientReferenceID
	}

	if outcome == domain.GatewayOutcomeCompleted && cs.AmountTotal > 0 {
		amount := fromMinorUnits(cs.AmountTotal, s.exponent)
		result.Amount = &amount
	}

	return result
}

func sessionOutcome(cs *stripe.CheckoutSession) domain.GatewayOutcome {
	switch cs.Status {
	case stripe.CheckoutSessionStatusExpired:
		return domain.GatewayOutcomeCancelled
	case stripe.CheckoutSessionStatusComplete:
		if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			return domain.GatewayOutcomeCompleted
		}

		// completed checkout with a delayed payment method
		return domain.GatewayOutcomeProcessing
	default:
		return domain.GatewayOutcomeProcessing
	}
}

// classifyStripeError marks connection failures and provider side errors as retryable.
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429 {
			return fmt.Errorf("%w: %v", domain.ErrGatewayUnreachable, err)
		}

		return err
	}

	return fmt.Errorf("%w: %v", domain.ErrGatewayUnreachable, err)
}

func toMinorUnits(amount decimal.Decimal, exponent int32) int64 {
	return amount.Shift(exponent).Round(0).IntPart()
}

func fromMinorUnits(amount int64, exponent int32) decimal.Decimal {
	return decimal.New(amount, -exponent)
}
