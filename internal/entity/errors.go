package entity

import (
	"errors"
	"fmt"
)

var (
	// Cache errors
	ErrCacheMiss = errors.New("cache entry not found")

	// Offer/session errors
	ErrOfferNotFound    = errors.New("offer not found")
	ErrSessionNotFound  = errors.New("checkout session not found")
	ErrSessionConsumed  = errors.New("checkout session already consumed")
	ErrNoTravelers      = errors.New("no travelers attached to session")
	ErrCurrencyMismatch = errors.New("offers have different currencies")

	// Reservation errors
	ErrReservationNotFound = errors.New("reservation not found")
	ErrItemNotFound        = errors.New("reservation item not found")
	ErrLastItem            = errors.New("reservation must keep at least one item")
	ErrQuoteExpired        = errors.New("quote has expired")
	ErrQuoteNotFound       = errors.New("quote not found")

	// Payment errors
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrDuplicateOrder       = errors.New("order id already used")
	ErrPaymentInProgress    = errors.New("payment already in progress")
	ErrPaymentNotRefundable = errors.New("payment is not in a refundable state")
	ErrRefundExceedsBalance = errors.New("refund exceeds remaining balance")

	// Booking errors
	ErrBookingNotFound   = errors.New("booking not found")
	ErrBookingNotPayable = errors.New("booking is not awaiting payment")

	// Campaign errors
	ErrCampaignNotFound      = errors.New("campaign not found")
	ErrCampaignNotApplicable = errors.New("campaign is not applicable")

	// Callback errors
	ErrSignatureMismatch = errors.New("callback signature mismatch")
	ErrUnknownOrder      = errors.New("callback references unknown order")

	// General errors
	ErrInvalidInput     = errors.New("invalid input")
	ErrConcurrentUpdate = errors.New("concurrent update detected")
)

// PreconditionError — нарушение охраны машины состояний: операция
// отклонена, никакие данные не изменены.
type PreconditionError struct {
	Op       string
	Expected ReservationStatus
	Actual   ReservationStatus
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s requires status %q, reservation is %q", e.Op, e.Expected, e.Actual)
}

// GatewayError — окончательный отказ платежного шлюза. Не ретраится,
// код и сообщение сохраняются на платеже.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway rejected request: code=%s message=%s", e.Code, e.Message)
}

// IsPrecondition проверяет, является ли ошибка нарушением предусловия
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
