package payment

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test"

func signedStripeEvent(t *testing.T, payload string) domain.CallbackPayload {
	t.Helper()

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})

	header := http.Header{}
	header.Set("Stripe-Signature", signed.Header)

	return domain.CallbackPayload{Header: header, Body: signed.Payload}
}

func TestStripeParseCallback(t *testing.T) {
	gateway := NewStripeGateway(testWebhookSecret, "https://ok", "https://ko", 2)

	tests := []struct {
		name        string
		payload     string
		wantOutcome domain.GatewayOutcome
		wantErr     error
	}{
		{
			name: "paid checkout session completes the payment",
			payload: `{"id":"evt_1","object":"event","type":"checkout.session.completed",
				"data":{"object":{"id":"cs_1","object":"checkout.session","status":"complete",
				"payment_status":"paid","amount_total":1250,"metadata":{"payment_id":"pay-1"}}}}`,
			wantOutcome: domain.GatewayOutcomeCompleted,
		},
		{
			name: "unpaid completed session is still processing",
			payload: `{"id":"evt_2","object":"event","type":"checkout.session.completed",
				"data":{"object":{"id":"cs_1","object":"checkout.session","status":"complete",
				"payment_status":"unpaid","metadata":{"payment_id":"pay-1"}}}}`,
			wantOutcome: domain.GatewayOutcomeProcessing,
		},
		{
			name: "expired session cancels the payment",
			payload: `{"id":"evt_3","object":"event","type":"checkout.session.expired",
				"data":{"object":{"id":"cs_1","object":"checkout.session","status":"expired",
				"metadata":{"payment_id":"pay-1"}}}}`,
			wantOutcome: domain.GatewayOutcomeCancelled,
		},
		{
			name: "unrelated events are not handled",
			payload: `{"id":"evt_4","object":"event","type":"customer.created",
				"data":{"object":{"id":"cus_1","object":"customer"}}}`,
			wantErr: domain.ErrUnhandledEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := gateway.ParseCallback(context.Background(), signedStripeEvent(t, tt.payload))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "pay-1", result.PaymentID)
			assert.Equal(t, "cs_1", result.TransactionRef)
			assert.Equal(t, tt.wantOutcome, result.Outcome)
		})
	}
}

func TestStripeParseCallbackAmount(t *testing.T) {
	gateway := NewStripeGateway(testWebhookSecret, "https://ok", "https://ko", 2)

	payload := `{"id":"evt_1","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_1","object":"checkout.session","status":"complete",
		"payment_status":"paid","amount_total":1250,"metadata":{"payment_id":"pay-1"}}}}`

	result, err := gateway.ParseCallback(context.Background(), signedStripeEvent(t, payload))

	require.NoError(t, err)
	require.NotNil(t, result.Amount)
	assert.True(t, decimal.RequireFromString("12.50").Equal(*result.Amount))
}

func TestStripeParseCallbackRejectsBadSignature(t *testing.T) {
	gateway := NewStripeGateway(testWebhookSecret, "https://ok", "https://ko", 2)

	header := http.Header{}
	header.Set("Stripe-Signature", "t=1,v1=deadbeef")

	_, err := gateway.ParseCallback(context.Background(), domain.CallbackPayload{
		Header: header,
		Body:   []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed"}`),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCallback)

	_, err = gateway.ParseCallback(context.Background(), domain.CallbackPayload{Header: http.Header{}})
	assert.ErrorIs(t, err, domain.ErrInvalidCallback)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1250), toMinorUnits(decimal.RequireFromString("12.50"), 2))
	assert.Equal(t, int64(120000), toMinorUnits(decimal.NewFromInt(120000), 0))
	assert.True(t, decimal.RequireFromString("12.5").Equal(fromMinorUnits(1250, 2)))
}
