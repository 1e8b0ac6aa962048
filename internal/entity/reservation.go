package entity

import (
	"time"
)

type ReservationStatus string

const (
	ReservationStatusCreated   ReservationStatus = "created"
	ReservationStatusPrebooked ReservationStatus = "prebooked"
	ReservationStatusInvoiced  ReservationStatus = "invoiced"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusRefunded  ReservationStatus = "refunded"
)

// IsTerminal возвращает true для конечных статусов брони
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationStatusCancelled || s == ReservationStatusRefunded
}

// ReservationItem — позиция брони, по одной на каждое предложение
type ReservationItem struct {
	ID        string     `json:"id"`
	OfferID   string     `json:"offer_id"`
	PNR       string     `json:"pnr,omitempty"`
	Travelers []Traveler `json:"travelers"`
	Price     float64    `json:"price"`
}

// Reservation — бронь на стороне провайдера инвентаря.
// Статус движется только вперед, кроме явной отмены или возврата.
type Reservation struct {
	ID         string             `json:"id"`
	Reference  string             `json:"reference"`
	Status     ReservationStatus  `json:"status"`
	Items      []*ReservationItem `json:"items"`
	TotalPrice float64            `json:"total_price"`
	Currency   string             `json:"currency"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// TicketArtifact — ссылка на выпущенный билет
type TicketArtifact struct {
	ItemID string `json:"item_id"`
	PNR    string `json:"pnr"`
	Format string `json:"format"`
	URL    string `json:"url"`
}

// RefundQuote — ценовая котировка возврата, действует ограниченное время
// и должна быть подтверждена до истечения.
type RefundQuote struct {
	ID            string    `json:"id"`
	ReservationID string    `json:"reservation_id"`
	RefundAmount  float64   `json:"refund_amount"`
	Penalty       float64   `json:"penalty"`
	Currency      string    `json:"currency"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ExchangeQuote — котировка обмена, двухфазная по той же схеме
type ExchangeQuote struct {
	ID            string    `json:"id"`
	ReservationID string    `json:"reservation_id"`
	NewOfferID    string    `json:"new_offer_id"`
	PriceDelta    float64   `json:"price_delta"`
	Currency      string    `json:"currency"`
	ExpiresAt     time.Time `json:"expires_at"`
}
