package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// NewNonce генерирует случайный одноразовый nonce для подписи запроса
func NewNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("0", 32)
	}
	return hex.EncodeToString(buf)
}

// RequestHash вычисляет подпись исходящего запроса к шлюзу:
// SHA-256 от action|merchant|[customer]|[orderId]|secret|nonce.
// Пустые необязательные части в строку не входят.
func RequestHash(action, merchant, customer, orderID, secret, nonce string) string {
	parts := []string{action, merchant}
	if customer != "" {
		parts = append(parts, customer)
	}
	if orderID != "" {
		parts = append(parts, orderID)
	}
	parts = append(parts, secret, nonce)

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CallbackSignature вычисляет подпись колбэка шлюза:
// SHA-512 от merchantPaymentId|customerId|sessionToken|responseCode|nonce|secret
func CallbackSignature(merchantPaymentID, customerID, sessionToken, responseCode, nonce, secret string) string {
	payload := strings.Join([]string{
		merchantPaymentID,
		customerID,
		sessionToken,
		responseCode,
		nonce,
		secret,
	}, "|")

	sum := sha512.Sum512([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifySignature сравнивает подписи за постоянное время
func VerifySignature(expected, actual string) bool {
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(actual)))
}
