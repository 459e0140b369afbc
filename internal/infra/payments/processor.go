package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rentme-deposits/internal/app/policies"
	"rentme-deposits/internal/domain/shared/money"
)

// Processor calls the card processor's refund API. Every request carries the
// caller's idempotency key, so a retry after a lost response returns the
// original refund instead of moving money again.
type Processor struct {
	Client  *http.Client
	BaseURL string
	APIKey  string
	Logger  *slog.Logger
}

type refundPayload struct {
	Charge   string            `json:"charge"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata"`
}

type refundResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Created  int64  `json:"created"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Processor) RefundDeposit(ctx context.Context, req policies.RefundRequest) (policies.RefundReceipt, error) {
	var zero policies.RefundReceipt
	if err := policies.ValidateRefund(req); err != nil {
		return zero, err
	}
	if p == nil || p.Client == nil || p.BaseURL == "" {
		return zero, policies.Transient("not_configured", errors.New("payments: processor client not configured"))
	}

	body, err := json.Marshal(refundPayload{
		Charge:   req.ChargeReference,
		Amount:   req.Amount.Amount,
		Currency: strings.ToLower(req.Amount.Currency),
		Reason:   "deposit_release",
		Metadata: map[string]string{"payment_id": req.PaymentID, "booking_id": req.BookingID},
	})
	if err != nil {
		return zero, err
	}
	endpoint := strings.TrimRight(p.BaseURL, "/") + "/v1/refunds"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return zero, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if p.APIKey != "" {
		request.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(request)
	if err != nil {
		p.logError("refund request failed", req, err)
		return zero, policies.Transient(transportCode(ctx, err), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return zero, policies.Transient("read_failed", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		gerr := classifyStatus(resp.StatusCode, raw)
		p.logError("refund returned error", req, gerr)
		return zero, gerr
	}

	var out refundResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		// The refund may have been applied; only a retry under the same key can tell.
		return zero, policies.Transient("decode_failed", err)
	}
	switch strings.ToLower(out.Status) {
	case "failed", "canceled":
		return zero, policies.Rejected("refund_"+strings.ToLower(out.Status), fmt.Sprintf("refund %s ended as %s", out.ID, out.Status))
	}
	amount := req.Amount
	if out.Amount > 0 {
		if m, err := money.New(out.Amount, out.Currency); err == nil {
			amount = m
		}
	}
	processed := time.Now().UTC()
	if out.Created > 0 {
		processed = time.Unix(out.Created, 0).UTC()
	}
	replayed, _ := strconv.ParseBool(resp.Header.Get("Idempotent-Replayed"))
	return policies.RefundReceipt{
		RefundID:    out.ID,
		Amount:      amount,
		Replayed:    replayed,
		ProcessedAt: processed,
	}, nil
}

// classifyStatus maps processor HTTP failures. Conflicts (a concurrent request
// under the same key), throttling, timeouts and server errors are transient;
// every other 4xx is a decline.
func classifyStatus(status int, body []byte) *policies.GatewayError {
	var parsed errorResponse
	_ = json.Unmarshal(body, &parsed)
	code := parsed.Error.Code
	if code == "" {
		code = parsed.Error.Type
	}
	if code == "" {
		code = "http_" + strconv.Itoa(status)
	}
	msg := parsed.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("processor returned status %d", status)
	}
	switch {
	case status == http.StatusConflict,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= http.StatusInternalServerError:
		return &policies.GatewayError{Kind: policies.GatewayTransient, Code: code, Message: msg}
	default:
		return policies.Rejected(code, msg)
	}
}

func transportCode(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "network"
}

func (p *Processor) logError(msg string, req policies.RefundRequest, err error) {
	if p.Logger == nil {
		return
	}
	p.Logger.Error(msg, "payment_id", req.PaymentID, "booking_id", req.BookingID, "amount", req.Amount.String(), "error", err)
}

var _ policies.PaymentGateway = (*Processor)(nil)
