package entity

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// IsFinal возвращает true, если колбэк по этому платежу уже применен
func (s PaymentStatus) IsFinal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed ||
		s == PaymentStatusRefunded || s == PaymentStatusPartiallyRefunded
}

// Payment — платежная запись на стороне приложения.
// OrderID задается вызывающей стороной и уникален: это ключ идемпотентности.
// Сырые payload запросов и колбэков сохраняются для аудита.
type Payment struct {
	ID               string          `json:"id" db:"id"`
	OrderID          string          `json:"order_id" db:"order_id"`
	BookingID        string          `json:"booking_id" db:"booking_id"`
	Amount           float64         `json:"amount" db:"amount"`
	Currency         string          `json:"currency" db:"currency"`
	Status           PaymentStatus   `json:"status" db:"status"`
	SessionToken     string          `json:"session_token,omitempty" db:"session_token"`
	GatewayTxID      string          `json:"gateway_tx_id,omitempty" db:"gateway_tx_id"`
	CardLastFour     string          `json:"card_last_four,omitempty" db:"card_last_four"`
	CardBrand        string          `json:"card_brand,omitempty" db:"card_brand"`
	ThreeDSecure     bool            `json:"three_d_secure" db:"three_d_secure"`
	RefundedAmount   float64         `json:"refunded_amount" db:"refunded_amount"`
	ErrorCode        string          `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage     string          `json:"error_message,omitempty" db:"error_message"`
	RawRequest       json.RawMessage `json:"-" db:"raw_request"`
	RawResponse      json.RawMessage `json:"-" db:"raw_response"`
	RawCallback      json.RawMessage `json:"-" db:"raw_callback"`
	RetryCount       int             `json:"retry_count" db:"retry_count"`
	SessionExpiresAt time.Time       `json:"session_expires_at" db:"session_expires_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// RemainingRefundable возвращает сумму, доступную к возврату
func (p *Payment) RemainingRefundable() float64 {
	return p.Amount - p.RefundedAmount
}

// GatewayCallback — каноническая внутренняя форма колбэка шлюза.
// Приводится на границе из GET-редиректа или POST-вебхука; дальше
// адаптера неоднозначный сырой формат не распространяется.
type GatewayCallback struct {
	ResponseCode      string          `json:"response_code"`
	MerchantPaymentID string          `json:"merchant_payment_id"`
	GatewayTxID       string          `json:"gateway_tx_id"`
	CardLastFour      string          `json:"card_last_four"`
	CardBrand         string          `json:"card_brand"`
	ThreeDSecure      bool            `json:"three_d_secure"`
	Nonce             string          `json:"nonce"`
	Signature         string          `json:"signature"`
	Raw               json.RawMessage `json:"-"`
}

// Success возвращает true для кода успешной оплаты
func (c *GatewayCallback) Success() bool {
	return c.ResponseCode == "00"
}
