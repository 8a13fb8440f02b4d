package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/metinatakli/cinema-booking/internal/domain"
)

// Response codes of the hosted gateway.
const (
	HostedCodeSuccess       = "00"
	HostedCodeProcessing    = "01"
	HostedCodePending       = "02"
	HostedCodeTimeout       = "11"
	HostedCodeUserCancelled = "24"
)

const (
	hostedSignatureParam  = "secure_hash"
	hostedSignatureHeader = "X-Signature"
)

// HostedOutcome maps a hosted gateway response code to an outcome. Unknown codes are failures.
func HostedOutcome(code string) domain.GatewayOutcome {
	switch code {
	case HostedCodeSuccess:
		return domain.GatewayOutcomeCompleted
	case HostedCodeProcessing, HostedCodePending:
		return domain.GatewayOutcomeProcessing
	case HostedCodeUserCancelled, HostedCodeTimeout:
		return domain.GatewayOutcomeCancelled
	default:
		return domain.GatewayOutcomeFailed
	}
}

type HostedGatewayConfig struct {
	APIURL       string
	MerchantCode string
	SecretKey    string
	ReturnURL    string
	Timeout      time.Duration
	Exponent     int32
}

// HostedGateway talks to a redirect based payment page provider. Outbound requests are
// signed with HMAC-SHA256 in the X-Signature header and callbacks carry a secure_hash over
// their sorted query parameters.
type HostedGateway struct {
	cfg    HostedGatewayConfig
	client *http.Client
}

func NewHostedGateway(cfg HostedGatewayConfig, client *http.Client) *HostedGateway {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &HostedGateway{
		cfg:    cfg,
		client: client,
	}
}

func (h *HostedGateway) Name() string {
	return "hosted"
}

type hostedIntentRequest struct {
	MerchantCode string `json:"merchant_code"`
	OrderRef     string `json:"order_ref"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Method       string `json:"method"`
	OrderInfo    string `json:"order_info"`
	ReturnURL    string `json:"return_url"`
	ExpiresAt    string `json:"expires_at"`
}

type hostedIntentResponse struct {
	TransactionRef string `json:"transaction_ref"`
	RedirectURL    string `json:"redirect_url"`
}

type hostedStatusResponse struct {
	OrderRef       string `json:"order_ref"`
	TransactionRef string `json:"transaction_ref"`
	ResponseCode   string `json:"response_code"`
	Amount         *int64 `json:"amount"`
	NextQueryAt    string `json:"next_query_at"`
}

func (h *HostedGateway) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	body := hostedIntentRequest{
		MerchantCode: h.cfg.MerchantCode,
		OrderRef:     req.PaymentID,
		Amount:       toMinorUnits(req.Amount, h.cfg.Exponent),
		Currency:     req.Currency,
		Method:       string(req.Method),
		OrderInfo:    req.Description,
		ReturnURL:    h.cfg.ReturnURL,
		ExpiresAt:    req.ExpiresAt.UTC().Format(time.RFC3339),
	}

	var resp hostedIntentResponse

	err := h.do(ctx, http.MethodPost, "/v1/payments", body, &resp)
	if err != nil {
		return nil, err
	}

	if resp.TransactionRef == "" || resp.RedirectURL == "" {
		return nil, fmt.Errorf("hosted gateway returned an incomplete intent for payment %s", req.PaymentID)
	}

	return &domain.Intent{
		TransactionRef: resp.TransactionRef,
		RedirectURL:    resp.RedirectURL,
	}, nil
}

// ParseCallback verifies the secure_hash of a return or IPN request.
func (h *HostedGateway) ParseCallback(ctx context.Context, payload domain.CallbackPayload) (*domain.GatewayResult, error) {
	query := payload.Query

	signature := query.Get(hostedSignatureParam)
	if signature == "" {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrInvalidCallback, hostedSignatureParam)
	}

	expected := h.sign([]byte(canonicalQuery(query)))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return nil, fmt.Errorf("%w: signature mismatch", domain.ErrInvalidCallback)
	}

	if query.Get("merchant_code") != h.cfg.MerchantCode {
		return nil, fmt.Errorf("%w: unexpected merchant code", domain.ErrInvalidCallback)
	}

	code := query.Get("response_code")

	result := &domain.GatewayResult{
		PaymentID:      query.Get("order_ref"),
		TransactionRef: query.Get("transaction_ref"),
		Outcome:        HostedOutcome(code),
		ResponseCode:   code,
	}

	if raw := query.Get("amount"); raw != "" {
		minor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed amount %q", domain.ErrInvalidCallback, raw)
		}

		amount := fromMinorUnits(minor, h.cfg.Exponent)
		result.Amount = &amount
	}

	return result, nil
}

func (h *HostedGateway) QueryStatus(ctx context.Context, transactionRef string) (*domain.GatewayResult, error) {
	return h.status(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(transactionRef)+"/query")
}

func (h *HostedGateway) LookupPayment(ctx context.Context, transactionRef string) (*domain.GatewayResult, error) {
	return h.status(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(transactionRef))
}

func (h *HostedGateway) Void(ctx context.Context, transactionRef string) error {
	return h.do(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(transactionRef)+"/void", nil, nil)
}

func (h *HostedGateway) status(ctx context.Context, method, path string) (*domain.GatewayResult, error) {
	var resp hostedStatusResponse

	err := h.do(ctx, method, path, nil, &resp)
	if err != nil {
		var throttled *throttledError
		if errors.As(err, &throttled) {
			return &domain.GatewayResult{
				Outcome:     domain.GatewayOutcomeProcessing,
				NextQueryAt: &throttled.retryAt,
			}, nil
		}

		return nil, err
	}

	result := &domain.GatewayResult{
		PaymentID:      resp.OrderRef,
		TransactionRef: resp.TransactionRef,
		Outcome:        HostedOutcome(resp.ResponseCode),
		ResponseCode:   resp.ResponseCode,
	}

	if resp.Amount != nil {
		amount := fromMinorUnits(*resp.Amount, h.cfg.Exponent)
		result.Amount = &amount
	}

	if resp.NextQueryAt != "" {
		next, err := time.Parse(time.RFC3339, resp.NextQueryAt)
		if err == nil {
			result.NextQueryAt = &next
		}
	}

	return result, nil
}

func (h *HostedGateway) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte

	if in != nil {
		var err error

		payload, err = json.Marshal(in)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(h.cfg.APIURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Merchant-Code", h.cfg.MerchantCode)
	req.Header.Set(hostedSignatureHeader, h.sign(append([]byte(method+" "+path+"\n"), payload...)))

	res, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnreachable, err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnreachable, err)
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return &throttledError{retryAt: retryAfter(res.Header.Get("Retry-After"))}
	case res.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s returned %d", domain.ErrGatewayUnreachable, method, path, res.StatusCode)
	case res.StatusCode >= 400:
		return fmt.Errorf("hosted gateway rejected %s %s with %d: %s", method, path, res.StatusCode, bytes.TrimSpace(resBody))
	}

	if out == nil || len(resBody) == 0 {
		return nil
	}

	err = json.Unmarshal(resBody, out)
	if err != nil {
		return fmt.Errorf("failed to decode hosted gateway response: %w", err)
	}

	return nil
}

func (h *HostedGateway) sign(data []byte) string {
	mac := hmac.New(sha256.New, []byte(h.cfg.SecretKey))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignQuery adds the secure_hash parameter the gateway appends to its callbacks.
func (h *HostedGateway) SignQuery(query url.Values) url.Values {
	signed := url.Values{}
	for k, v := range query {
		if k != hostedSignatureParam {
			signed[k] = v
		}
	}

	signed.Set(hostedSignatureParam, h.sign([]byte(canonicalQuery(signed))))

	return signed
}

// canonicalQuery encodes every parameter except the signature, sorted by key.
func canonicalQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		if k != hostedSignatureParam {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}

		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(query.Get(k)))
	}

	return sb.String()
}

type throttledError struct {
	retryAt time.Time
}

func (e *throttledError) Error() string {
	return "hosted gateway throttled the status query until " + e.retryAt.Format(time.RFC3339)
}

func retryAfter(header string) time.Time {
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Now().Add(time.Duration(seconds) * time.Second)
	}

	if at, err := http.ParseTime(header); err == nil {
		return at
	}

	return time.Now().Add(5 * time.Second)
}
