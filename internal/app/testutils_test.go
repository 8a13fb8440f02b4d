package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/metinatakli/cinema-booking/api"
	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/metinatakli/cinema-booking/internal/mocks"
	"github.com/metinatakli/cinema-booking/internal/repository"
	"github.com/metinatakli/cinema-booking/internal/validator"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	testShowtimeId = 7
	testUserId     = 11
	otherUserId    = 12
	testEmail      = "jane@example.com"

	popcornId = 1
	sodaId    = 2
)

var testNow = time.Date(2026, 4, 10, 17, 0, 0, 0, time.UTC)

// AppSuite runs requests through the full router against in-memory stores and a mocked
// payment gateway.
type AppSuite struct {
	suite.Suite

	app       *Application
	handler   http.Handler
	clock     *clock.Fake
	gateway   *mocks.MockPaymentGateway
	publisher *mocks.MockEventPublisher

	ticketRepo  *repository.MemoryTicketRepository
	paymentRepo *repository.MemoryPaymentRepository
	lockStore   *repository.MemorySeatLockStore

	mu    sync.Mutex
	slept []time.Duration
}

func (s *AppSuite) SetupTest() {
	s.clock = clock.NewFake(testNow)
	s.gateway = new(mocks.MockPaymentGateway)
	s.publisher = new(mocks.MockEventPublisher)
	s.publisher.On("PublishBookingConfirmed", mock.Anything, mock.Anything).Return(nil).Maybe()
	s.slept = nil

	s.ticketRepo = repository.NewMemoryTicketRepository(s.clock)
	s.paymentRepo = repository.NewMemoryPaymentRepository(s.clock)
	s.lockStore = repository.NewMemorySeatLockStore(s.clock)

	concessionRepo := repository.NewMemoryConcessionRepository(s.clock,
		domain.ConcessionItem{ID: popcornId, Name: "Popcorn", Price: decimal.RequireFromString("6.50"), Available: true},
		domain.ConcessionItem{ID: sodaId, Name: "Soda", Price: decimal.RequireFromString("3.75"), Available: true},
	)
	repository.ShareMemoryLedger(s.paymentRepo, s.ticketRepo, concessionRepo)

	s.app = newTestApplication(func(a *Application) {
		a.clock = s.clock
		a.sleep = s.fakeSleep
	})

	s.app.wireServices(stores{
		seats: repository.NewMemorySeatRepository(domain.ShowtimeSeats{
			ShowtimeID:  testShowtimeId,
			TheaterName: "CineX Downtown",
			MovieName:   "Arrival",
			HallName:    "Hall 1",
			Date:        testNow.Add(3 * time.Hour),
			HallID:      1,
			Price:       decimal.NewFromInt(12),
			Seats: []domain.Seat{
				{ID: 1, Row: 1, Col: 1, Type: "standard", ExtraPrice: decimal.Zero},
				{ID: 2, Row: 1, Col: 2, Type: "standard", ExtraPrice: decimal.Zero},
				{ID: 3, Row: 1, Col: 3, Type: "vip", ExtraPrice: decimal.NewFromInt(4)},
			},
		}),
		tickets:  s.ticketRepo,
		payments: s.paymentRepo,
		promotions: repository.NewMemoryPromotionRepository(domain.Promotion{
			Code:          "WELCOME10",
			DiscountType:  domain.DiscountTypePercentage,
			DiscountValue: decimal.NewFromInt(10),
			StartsAt:      testNow.AddDate(0, 0, -1),
			EndsAt:        testNow.AddDate(0, 1, 0),
			MinBasis:      decimal.Zero,
			Status:        domain.PromotionStatusActive,
		}),
		concessions: concessionRepo,
		locks:       s.lockStore,
		sessions: repository.NewMemoryBookingSessionStore(s.clock),
	}, s.gateway, s.publisher, nil)

	s.handler = s.app.Routes()
}

func (s *AppSuite) TearDownTest() {
	s.app.payments.Close()
}

func (s *AppSuite) fakeSleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()

	s.clock.Advance(d)

	return ctx.Err()
}

// do sends the request through the router, signed in as userId unless it is zero.
func (s *AppSuite) do(method, url string, body any, userId int) *httptest.ResponseRecorder {
	w, r := executeRequest(s.T(), method, url, body)

	if userId != 0 {
		r.AddCookie(authenticate(s.T(), s.app, userId))
	}

	s.handler.ServeHTTP(w, r)

	return w
}

func (s *AppSuite) decode(w *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.NewDecoder(w.Body).Decode(dst), "Failed to decode response")
}

func (s *AppSuite) expectIntent(ref string) {
	s.gateway.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&domain.Intent{TransactionRef: ref, RedirectURL: "https://pay.example.com/" + ref}, nil).
		Once()
}

// readyToPay walks a booking up to the payment step.
func (s *AppSuite) readyToPay(userId int, code string, seatIds ...int) api.BookingResponse {
	w := s.do(http.MethodPost, "/bookings/seats", api.SelectSeatsRequest{ShowtimeId: testShowtimeId, SeatIds: seatIds}, userId)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPut, "/bookings/concessions", api.SelectConcessionsRequest{
		Items: []api.ConcessionItemRequest{{ItemId: popcornId, Quantity: 1}},
	}, userId)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPut, "/bookings/payment-method", api.ChoosePaymentMethodRequest{Method: "CARD", PromotionCode: code}, userId)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var booking api.BookingResponse
	s.decode(w, &booking)

	return booking
}

func (s *AppSuite) checkout(userId int) api.CheckoutResponse {
	w := s.do(http.MethodPost, "/bookings/checkout", nil, userId)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp api.CheckoutResponse
	s.decode(w, &resp)

	return resp
}

func newTestApplication(opts ...func(*Application)) *Application {
	app := &Application{
		config: Config{
			Env:              "test",
			Store:            StoreMemory,
			Gateway:          GatewaySandbox,
			Currency:         "usd",
			CurrencyExponent: 2,
			Booking: BookingConfig{
				GatewayRetries:   3,
				GatewayRetryWait: time.Millisecond,
			},
		},
		validator:      validator.NewValidator(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		sessionManager: scs.New(),
		clock:          clock.Real{},
	}

	for _, opt := range opts {
		opt(app)
	}

	return app
}

// authenticate stores a session for userId the way the authentication service does and
// returns its cookie.
func authenticate(t *testing.T, app *Application, userId int) *http.Cookie {
	t.Helper()

	ctx, err := app.sessionManager.Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}

	app.sessionManager.Put(ctx, SessionKeyUserId.String(), userId)
	app.sessionManager.Put(ctx, SessionKeyEmail.String(), testEmail)

	token, _, err := app.sessionManager.Commit(ctx)
	if err != nil {
		t.Fatalf("Failed to commit session: %v", err)
	}

	return &http.Cookie{Name: app.sessionManager.Cookie.Name, Value: token}
}

func executeRequest(t *testing.T, method, url string, body any) (*httptest.ResponseRecorder, *http.Request) {
	var reader io.Reader = http.NoBody

	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(jsonData)
	}

	r := httptest.NewRequest(method, url, reader)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	return w, r
}

func checkErrorResponse(t *testing.T, w *httptest.ResponseRecorder, tt struct {
	wantStatus     int
	wantErrMessage string
}) {
	if tt.wantStatus >= 200 && tt.wantStatus < 300 {
		return
	}

	switch tt.wantStatus {
	case http.StatusUnprocessableEntity:
		var validationResp api.ValidationErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&validationResp); err != nil {
			t.Fatalf("Failed to decode validation error response: %v", err)
		}

		if validationResp.Message != ErrValidationFailed {
			if tt.wantErrMessage != "" && validationResp.Message != tt.wantErrMessage {
				t.Errorf("Error message = %v, want %v", validationResp.Message, tt.wantErrMessage)
			}
			return
		}

		errorSet := make(map[string]bool)
		for _, vErr := range validationResp.ValidationErrors {
			errorSet[vErr.Issue] = true
		}

		if !errorSet[tt.wantErrMessage] {
			t.Errorf("Expected validation error message '%s' not found in response", tt.wantErrMessage)
		}

	default:
		var errorResp api.ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&errorResp); err != nil {
			t.Fatalf("Failed to decode error response: %v", err)
		}

		if tt.wantErrMessage != "" && errorResp.Message != tt.wantErrMessage {
			t.Errorf("Error message = %v, want %v", errorResp.Message, tt.wantErrMessage)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}
