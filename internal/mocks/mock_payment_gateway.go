package mocks

import (
	"context"

	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockPaymentGateway struct {
	mock.Mock
	domain.PaymentGateway
}

func (m *MockPaymentGateway) Name() string {
	return "mock"
}

func (m *MockPaymentGateway) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Intent), args.Error(1)
}

func (m *MockPaymentGateway) ParseCallback(ctx context.Context, payload domain.CallbackPayload) (*domain.GatewayResult, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GatewayResult), args.Error(1)
}

func (m *MockPaymentGateway) QueryStatus(ctx context.Context, transactionRef string) (*domain.GatewayResult, error) {
	args := m.Called(ctx, transactionRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GatewayResult), args.Error(1)
}

func (m *MockPaymentGateway) LookupPayment(ctx context.Context, transactionRef string) (*domain.GatewayResult, error) {
	args := m.Called(ctx, transactionRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GatewayResult), args.Error(1)
}

func (m *MockPaymentGateway) Void(ctx context.Context, transactionRef string) error {
	args := m.Called(ctx, transactionRef)
	return args.Error(0)
}
