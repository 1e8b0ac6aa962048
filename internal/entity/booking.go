package entity

import (
	"time"
)

type BookingStatus string

const (
	BookingStatusPending           BookingStatus = "pending"
	BookingStatusConfirmed         BookingStatus = "confirmed"
	BookingStatusTicketed          BookingStatus = "ticketed"
	BookingStatusCancelled         BookingStatus = "cancelled"
	BookingStatusRefunded          BookingStatus = "refunded"
	BookingStatusPartiallyRefunded BookingStatus = "partially_refunded"
	BookingStatusExpired           BookingStatus = "expired"
)

// PriceBreakdown — расчет стоимости заказа. Суммы всегда округлены
// до двух знаков, half-up.
type PriceBreakdown struct {
	BasePrice  float64 `json:"base_price"`
	ServiceFee float64 `json:"service_fee"`
	Subtotal   float64 `json:"subtotal"`
	Discount   float64 `json:"discount"`
	FinalPrice float64 `json:"final_price"`
	PromoCode  string  `json:"promo_code,omitempty"`
}

// Booking — клиентская запись заказа, объединяет контекст брони и платежа.
// Инвариант: RefundedAmount <= TotalPrice; статус refunded тогда и только
// тогда, когда RefundedAmount == TotalPrice.
type Booking struct {
	ID             string           `json:"id" db:"id"`
	Reference      string           `json:"reference" db:"reference"`
	PNR            string           `json:"pnr,omitempty" db:"pnr"`
	ReservationID  string           `json:"reservation_id" db:"reservation_id"`
	PaymentID      string           `json:"payment_id,omitempty" db:"payment_id"`
	CustomerName   string           `json:"customer_name" db:"customer_name"`
	CustomerEmail  string           `json:"customer_email" db:"customer_email"`
	Origin         string           `json:"origin" db:"origin"`
	Destination    string           `json:"destination" db:"destination"`
	DepartureAt    time.Time        `json:"departure_at" db:"departure_at"`
	ArrivalAt      time.Time        `json:"arrival_at" db:"arrival_at"`
	Breakdown      PriceBreakdown   `json:"breakdown"`
	TotalPrice     float64          `json:"total_price" db:"total_price"`
	Currency       string           `json:"currency" db:"currency"`
	Status         BookingStatus    `json:"status" db:"status"`
	RefundedAmount float64          `json:"refunded_amount" db:"refunded_amount"`
	Tickets        []TicketArtifact `json:"tickets,omitempty"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}
