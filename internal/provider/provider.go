package provider

import (
	"context"
	"time"

	"github.com/odamigo/eurotrain-booking/config"
	"github.com/odamigo/eurotrain-booking/internal/entity"
)

// SearchRequest описывает поисковый запрос к провайдеру инвентаря
type SearchRequest struct {
	Origin       string              `json:"origin" binding:"required"`
	Destination  string              `json:"destination" binding:"required"`
	Date         time.Time           `json:"date" binding:"required"`
	Travelers    int                 `json:"travelers" binding:"min=1,max=9"`
	ComfortClass entity.ComfortClass `json:"comfort_class"`
}

// OfferRef — ссылка на предложение при создании брони
type OfferRef struct {
	OfferID         string  `json:"offer_id"`
	ProviderOfferID string  `json:"provider_offer_id"`
	Price           float64 `json:"price"`
	Currency        string  `json:"currency"`
}

// InventoryProvider абстрагирует внешний API провайдера инвентаря.
// Мок и боевая реализация выбираются конфигурацией при конструировании
// и обязаны соблюдать одни и те же охраны переходов, чтобы оркестратор
// не зависел от провайдера.
type InventoryProvider interface {
	Search(ctx context.Context, req *SearchRequest) ([]*entity.Offer, error)
	CreateReservation(ctx context.Context, offers []OfferRef) (*entity.Reservation, error)
	GetReservation(ctx context.Context, reservationID string) (*entity.Reservation, error)
	AttachTravelers(ctx context.Context, reservationID, itemID string, travelers []entity.Traveler) error
	Prebook(ctx context.Context, reservationID string) error
	Confirm(ctx context.Context, reservationID string) (*entity.Reservation, error)
	IssueTickets(ctx context.Context, reservationID, format string) ([]entity.TicketArtifact, error)
	DeleteItem(ctx context.Context, reservationID, itemID string) error

	QuoteRefund(ctx context.Context, reservationID string) (*entity.RefundQuote, error)
	ConfirmRefund(ctx context.Context, quoteID string) error
	QuoteExchange(ctx context.Context, reservationID, newOfferID string) (*entity.ExchangeQuote, error)
	ConfirmExchange(ctx context.Context, quoteID string) error
}

// New выбирает реализацию провайдера по конфигурации
func New(cfg *config.ProviderConfig) InventoryProvider {
	if cfg.Mode == "api" {
		return NewAPIProvider(cfg)
	}
	return NewMockProvider(cfg.QuoteTTL)
}
