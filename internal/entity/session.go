package entity

import (
	"time"
)

// Traveler описывает пассажира в рамках оформления заказа
type Traveler struct {
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone,omitempty"`
	DateOfBirth time.Time `json:"date_of_birth"`
	DocumentID  string    `json:"document_id,omitempty"`
}

// CheckoutSession — изменяемый агрегат оформления заказа. Собирается за
// несколько запросов клиента и потребляется при создании бронирования.
type CheckoutSession struct {
	Token      string          `json:"token"`
	TraceID    string          `json:"trace_id"`
	OfferIDs   []string        `json:"offer_ids"`
	Offers     []*Offer        `json:"offers"`
	Travelers  []Traveler      `json:"travelers"`
	PromoCode  string          `json:"promo_code,omitempty"`
	Breakdown  *PriceBreakdown `json:"breakdown,omitempty"`
	Currency   string          `json:"currency"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	ConsumedAt *time.Time      `json:"consumed_at,omitempty"`
}

// BasePrice суммирует базовую стоимость всех выбранных предложений
// по всем пассажирам.
func (s *CheckoutSession) BasePrice() float64 {
	travelers := len(s.Travelers)
	if travelers == 0 {
		travelers = 1
	}

	var total float64
	for _, offer := range s.Offers {
		total += offer.PricePerPerson * float64(travelers)
	}
	return total
}
