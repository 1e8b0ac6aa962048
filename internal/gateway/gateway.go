package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/odamigo/eurotrain-booking/config"
	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/sirupsen/logrus"
)

const responseCodeSuccess = "00"

// SessionRequest — запрос на создание hosted-payment сессии
type SessionRequest struct {
	OrderID       string
	Amount        float64
	Currency      string
	CustomerID    string
	CustomerEmail string
}

// SessionResult — созданная сессия шлюза
type SessionResult struct {
	SessionToken string
	RedirectURL  string
	ExpiresAt    time.Time
	RawRequest   json.RawMessage
	RawResponse  json.RawMessage
}

// RefundRequest — запрос возврата по транзакции шлюза
type RefundRequest struct {
	GatewayTxID string
	Amount      float64
	Currency    string
	Reason      string
}

// RefundResult — результат возврата
type RefundResult struct {
	RefundTxID  string
	RawResponse json.RawMessage
}

// PaymentGateway абстрагирует платежный шлюз: создание сессии, проверка
// подписи колбэка и возвраты.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req *SessionRequest) (*SessionResult, error)
	VerifyCallback(cb *entity.GatewayCallback, customerID, sessionToken string) error
	Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error)
}

// HTTPGateway — реализация поверх REST API шлюза. Транспортные сбои
// ретраятся с линейно растущей задержкой; бизнес-отказ шлюза
// окончателен и не повторяется.
type HTTPGateway struct {
	cfg    *config.GatewayConfig
	client *http.Client
}

func NewHTTPGateway(cfg *config.GatewayConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type gatewayResponse struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	SessionToken string `json:"session_token,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	RefundTxID   string `json:"refund_transaction_id,omitempty"`
}

// post отправляет запрос с ограниченным числом попыток. Любой ответ
// шлюза, включая ошибочный, попытки останавливает.
func (g *HTTPGateway) post(ctx context.Context, path string, payload []byte) (*gatewayResponse, []byte, error) {
	maxAttempts := g.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := g.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * backoff
			logrus.Warnf("Payment gateway retry %d/%d after %v: %v", attempt, maxAttempts, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build gateway request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, nil, fmt.Errorf("failed to read gateway response: %w", readErr)
		}
		var result gatewayResponse
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, nil, fmt.Errorf("failed to decode gateway response: %w", err)
		}
		return &result, raw, nil
	}

	return nil, nil, fmt.Errorf("payment gateway unavailable after %d attempts: %w", maxAttempts, lastErr)
}

// CreateSession создает hosted-payment сессию. Запрос подписывается
// одноразовым nonce и SHA-256 хэшем.
func (g *HTTPGateway) CreateSession(ctx context.Context, req *SessionRequest) (*SessionResult, error) {
	nonce := NewNonce()
	body := map[string]interface{}{
		"action":         "pay",
		"merchant_id":    g.cfg.MerchantID,
		"order_id":       req.OrderID,
		"amount":         req.Amount,
		"currency":       req.Currency,
		"customer_id":    req.CustomerID,
		"customer_email": req.CustomerEmail,
		"return_url":     g.cfg.CallbackURL,
		"nonce":          nonce,
		"hash":           RequestHash("pay", g.cfg.MerchantID, req.CustomerID, req.OrderID, g.cfg.Secret, nonce),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session request: %w", err)
	}

	result, raw, err := g.post(ctx, "/session", payload)
	if err != nil {
		return nil, err
	}
	if result.Code != responseCodeSuccess {
		return nil, &entity.GatewayError{Code: result.Code, Message: result.Message}
	}

	expiresIn := time.Duration(result.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = g.cfg.SessionTimeout
	}

	return &SessionResult{
		SessionToken: result.SessionToken,
		RedirectURL:  result.RedirectURL,
		ExpiresAt:    time.Now().Add(expiresIn),
		RawRequest:   payload,
		RawResponse:  raw,
	}, nil
}

// VerifyCallback пересчитывает подпись колбэка и отклоняет его при
// несовпадении независимо от заявленного кода ответа
func (g *HTTPGateway) VerifyCallback(cb *entity.GatewayCallback, customerID, sessionToken string) error {
	expected := CallbackSignature(
		cb.MerchantPaymentID,
		customerID,
		sessionToken,
		cb.ResponseCode,
		cb.Nonce,
		g.cfg.Secret,
	)
	if !VerifySignature(expected, cb.Signature) {
		return entity.ErrSignatureMismatch
	}
	return nil
}

// Refund выполняет возврат по транзакции шлюза
func (g *HTTPGateway) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	nonce := NewNonce()
	body := map[string]interface{}{
		"action":         "refund",
		"merchant_id":    g.cfg.MerchantID,
		"transaction_id": req.GatewayTxID,
		"amount":         req.Amount,
		"currency":       req.Currency,
		"reason":         req.Reason,
		"nonce":          nonce,
		"hash":           RequestHash("refund", g.cfg.MerchantID, "", req.GatewayTxID, g.cfg.Secret, nonce),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refund request: %w", err)
	}

	result, raw, err := g.post(ctx, "/refund", payload)
	if err != nil {
		return nil, err
	}
	if result.Code != responseCodeSuccess {
		return nil, &entity.GatewayError{Code: result.Code, Message: result.Message}
	}

	return &RefundResult{
		RefundTxID:  result.RefundTxID,
		RawResponse: raw,
	}, nil
}
