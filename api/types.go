// Package api holds the request and response bodies of the booking HTTP API.
package api

import (
	"time"

	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Message   string    `json:"message"`
	RequestId string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
	// RedirectStep is set when the booking has to resume at an earlier step.
	RedirectStep *string `json:"redirectStep,omitempty"`
}

type ValidationError struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

type ValidationErrorResponse struct {
	Message          string            `json:"message"`
	RequestId        string            `json:"requestId"`
	Timestamp        time.Time         `json:"timestamp"`
	ValidationErrors []ValidationError `json:"validationErrors"`
}

type SystemInfo struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type HealthcheckResponse struct {
	Status     string     `json:"status"`
	SystemInfo SystemInfo `json:"systemInfo"`
}

type SelectSeatsRequest struct {
	ShowtimeId int   `json:"showtimeId" validate:"required,gt=0"`
	SeatIds    []int `json:"seatIds" validate:"required,min=1,max=10,unique,dive,gt=0"`
}

type ConcessionItemRequest struct {
	ItemId   int `json:"itemId" validate:"required,gt=0"`
	Quantity int `json:"quantity" validate:"required,gt=0,lte=20"`
}

// SelectConcessionsRequest with no items skips the concession step.
type SelectConcessionsRequest struct {
	Items []ConcessionItemRequest `json:"items" validate:"omitempty,max=20,dive"`
}

type ChoosePaymentMethodRequest struct {
	Method        string `json:"method" validate:"required,payment_method"`
	PromotionCode string `json:"promotionCode" validate:"omitempty,max=32"`
}

type BookingResponse struct {
	Step              string     `json:"step"`
	ShowtimeId        int        `json:"showtimeId,omitempty"`
	SeatIds           []int      `json:"seatIds"`
	LockExpiresAt     *time.Time `json:"lockExpiresAt,omitempty"`
	ConcessionOrderId string     `json:"concessionOrderId,omitempty"`
	PromotionCode     string     `json:"promotionCode,omitempty"`
	PaymentMethod     string     `json:"paymentMethod,omitempty"`
	TicketIds         []string   `json:"ticketIds"`
	PaymentId         string     `json:"paymentId,omitempty"`
}

type PaymentResponse struct {
	Id                 string          `json:"id"`
	State              string          `json:"state"`
	Status             string          `json:"status"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Method             string          `json:"method"`
	RedirectUrl        *string         `json:"redirectUrl,omitempty"`
	ResponseCode       *string         `json:"responseCode,omitempty"`
	ErrorMessage       *string         `json:"errorMessage,omitempty"`
	TicketIds          []string        `json:"ticketIds"`
	ConcessionOrderIds []string        `json:"concessionOrderIds"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

type CheckoutResponse struct {
	Booking BookingResponse `json:"booking"`
	Payment PaymentResponse `json:"payment"`
	// Message explains a payment outcome that needs the customer's attention.
	Message string `json:"message,omitempty"`
}

type ValidatePromotionRequest struct {
	Code   string          `json:"code" validate:"required,max=32"`
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

type PromotionQuoteResponse struct {
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
}

type ConcessionOrderRequest struct {
	Items []ConcessionItemRequest `json:"items" validate:"required,min=1,max=20,dive"`
}

type ConcessionOrderItem struct {
	ItemId    int             `json:"itemId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type ConcessionOrderResponse struct {
	Id          string                `json:"id"`
	Status      string                `json:"status"`
	Type        string                `json:"type"`
	Items       []ConcessionOrderItem `json:"items"`
	TotalAmount decimal.Decimal       `json:"totalAmount"`
	TicketIds   []string              `json:"ticketIds"`
	CreatedAt   time.Time             `json:"createdAt"`
}

type SeatState struct {
	SeatId    int        `json:"seatId"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type SeatStatesResponse struct {
	ShowtimeId int         `json:"showtimeId"`
	Seats      []SeatState `json:"seats"`
}

type ConcessionCheckoutRequest struct {
	Method string `json:"method" validate:"required,payment_method"`
}
