package service

import (
	"context"

	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/odamigo/eurotrain-booking/internal/provider"
)

// SearchService выполняет поиск предложений и кэширует их снимки
type SearchService interface {
	// Основные операции
	Search(ctx context.Context, req *provider.SearchRequest) (*entity.SearchResult, error)
	GetOffer(ctx context.Context, offerID string) (*entity.Offer, error)
}

// CheckoutService управляет сессиями оформления заказа
type CheckoutService interface {
	// Основные операции
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*entity.CheckoutSession, error)
	GetSession(ctx context.Context, token string) (*entity.CheckoutSession, error)
	AttachTravelers(ctx context.Context, token string, travelers []entity.Traveler) (*entity.CheckoutSession, error)
	ApplyPromo(ctx context.Context, token, promoCode string) (*entity.CheckoutSession, error)

	// Администрирование промокампаний
	CreateCampaign(ctx context.Context, campaign *entity.Campaign) error
	ListActiveCampaigns(ctx context.Context) ([]*entity.Campaign, error)

	// Consume помечает сессию потребленной; повторное потребление
	// возвращает ErrSessionConsumed
	Consume(ctx context.Context, token string) (*entity.CheckoutSession, error)
}

// SettlementService — оркестратор жизненного цикла заказа: от сессии
// оформления через бронь и платеж до билетов и возвратов.
type SettlementService interface {
	// Основные операции
	CreateBookingFromSession(ctx context.Context, req *CreateBookingRequest) (*entity.Booking, error)
	InitiatePayment(ctx context.Context, req *InitiatePaymentRequest) (*PaymentInitiation, error)
	HandleCallback(ctx context.Context, cb *entity.GatewayCallback) (*entity.Booking, error)
	Refund(ctx context.Context, req *RefundRequest) (*entity.Booking, error)

	// Выборки
	GetBooking(ctx context.Context, id string) (*entity.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*entity.Booking, error)
	GetCustomerBookings(ctx context.Context, email string) ([]*entity.Booking, error)
	GetStats(ctx context.Context) (*entity.SettlementStats, error)

	// Сверка брошенных платежей
	ExpireAbandonedPayment(ctx context.Context, paymentID string) error
	ReconcileAbandonedPayments(ctx context.Context, batchSize int) (int, error)
}
