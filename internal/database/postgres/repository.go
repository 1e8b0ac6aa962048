package repository

import (
	"context"
	"time"

	"github.com/odamigo/eurotrain-booking/internal/entity"
)

type PaymentRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, payment *entity.Payment) error
	GetByID(ctx context.Context, id string) (*entity.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*entity.Payment, error)

	// State transitions
	MarkProcessing(ctx context.Context, id, sessionToken string, rawRequest, rawResponse []byte, sessionExpiresAt time.Time) error
	ApplyCallback(ctx context.Context, orderID string, status entity.PaymentStatus, cb *entity.GatewayCallback) (bool, error)
	MarkFailed(ctx context.Context, id, errorCode, errorMessage string) error
	IncrementRetry(ctx context.Context, id string) error

	// ApplyRefund accumulates the refund on the payment and mirrors it
	// onto the booking in a single transaction
	ApplyRefund(ctx context.Context, paymentID, bookingID string, observedRefunded, refundAmount float64) error

	// Reconciliation queries
	GetAbandoned(ctx context.Context, before time.Time, limit int) ([]*entity.Payment, error)
	GetByStatus(ctx context.Context, status entity.PaymentStatus) ([]*entity.Payment, error)
}

type BookingRepository interface {
	// Create inserts the booking and, when promoCode is set, increments
	// the campaign usage counter in the same transaction
	Create(ctx context.Context, booking *entity.Booking, promoCode string) error
	GetByID(ctx context.Context, id string) (*entity.Booking, error)
	GetByReference(ctx context.Context, reference string) (*entity.Booking, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*entity.Booking, error)

	UpdateStatus(ctx context.Context, id string, status entity.BookingStatus) error
	SetPayment(ctx context.Context, id, paymentID string) error
	SetTicketArtifacts(ctx context.Context, id, pnr string, tickets []entity.TicketArtifact) error

	// Query operations
	GetByCustomerEmail(ctx context.Context, email string) ([]*entity.Booking, error)
	GetByStatus(ctx context.Context, status entity.BookingStatus) ([]*entity.Booking, error)
	GetRecentBookings(ctx context.Context, limit int) ([]*entity.Booking, error)

	// Statistical operations
	GetSettlementStats(ctx context.Context) (*entity.SettlementStats, error)
}

type CampaignRepository interface {
	Create(ctx context.Context, campaign *entity.Campaign) error
	GetByCode(ctx context.Context, code string) (*entity.Campaign, error)
	GetActive(ctx context.Context) ([]*entity.Campaign, error)

	// IncrementUsage bumps used_count only while the usage limit holds
	IncrementUsage(ctx context.Context, code string) error
}
