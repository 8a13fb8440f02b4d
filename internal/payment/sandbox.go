package payment

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/shopspring/decimal"
)

type sandboxPayment struct {
	paymentID string
	amount    decimal.Decimal
	outcome   domain.GatewayOutcome
}

// SandboxGateway is an in-process gateway for local development. Its redirect URL points
// straight back at the callback endpoint with the outcome to simulate.
type SandboxGateway struct {
	mu        sync.Mutex
	returnUrl string
	payments  map[string]*sandboxPayment
}

func NewSandboxGateway(returnUrl string) *SandboxGateway {
	return &SandboxGateway{
		returnUrl: returnUrl,
		payments:  make(map[string]*sandboxPayment),
	}
}

func (s *SandboxGateway) Name() string {
	return "sandbox"
}

func (s *SandboxGateway) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := "sbx_" + uuid.NewString()
	s.payments[ref] = &sandboxPayment{
		paymentID: req.PaymentID,
		amount:    req.Amount,
		outcome:   domain.GatewayOutcomeProcessing,
	}

	query := url.Values{}
	query.Set("ref", ref)
	query.Set("outcome", string(domain.GatewayOutcomeCompleted))

	return &domain.Intent{
		TransactionRef: ref,
		RedirectURL:    s.returnUrl + "?" + query.Encode(),
	}, nil
}

func (s *SandboxGateway) ParseCallback(ctx context.Context, payload domain.CallbackPayload) (*domain.GatewayResult, error) {
	ref := payload.Query.Get("ref")
	outcome := domain.GatewayOutcome(payload.Query.Get("outcome"))

	switch outcome {
	case domain.GatewayOutcomeCompleted, domain.GatewayOutcomeFailed,
		domain.GatewayOutcomeCancelled, domain.GatewayOutcomeProcessing:
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidCallback, outcome)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[ref]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transaction %q", domain.ErrInvalidCallback, ref)
	}

	if !p.outcome.Terminal() {
		p.outcome = outcome
	}

	return s.result(ref, p), nil
}

func (s *SandboxGateway) QueryStatus(ctx context.Context, transactionRef string) (*domain.GatewayResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[transactionRef]
	if !ok {
		return nil, fmt.Errorf("sandbox transaction %q not found", transactionRef)
	}

	return s.result(transactionRef, p), nil
}

func (s *SandboxGateway) LookupPayment(ctx context.Context, transactionRef string) (*domain.GatewayResult, error) {
	return s.QueryStatus(ctx, transactionRef)
}

func (s *SandboxGateway) Void(ctx context.Context, transactionRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[transactionRef]
	if !ok {
		return fmt.Errorf("sandbox transaction %q not found", transactionRef)
	}

	if !p.outcome.Terminal() {
		p.outcome = domain.GatewayOutcomeCancelled
	}

	return nil
}

// Settle sets the outcome later status queries report, as if the customer finished paying.
func (s *SandboxGateway) Settle(transactionRef string, outcome domain.GatewayOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.payments[transactionRef]; ok {
		p.outcome = outcome
	}
}

func (s *SandboxGateway) result(ref string, p *sandboxPayment) *domain.GatewayResult {
	result := &domain.GatewayResult{
		PaymentID:      p.paymentID,
		TransactionRef: ref,
		Outcome:        p.outcome,
		ResponseCode:   "SANDBOX_" + string(p.outcome),
	}

	if p.outcome == domain.GatewayOutcomeCompleted {
		amount := p.amount
		result.Amount = &amount
	}

	return result
}
