package entity

import (
	"time"
)

type ComfortClass string

const (
	ComfortClassSecond ComfortClass = "second"
	ComfortClassFirst  ComfortClass = "first"
)

// Offer представляет ценовое предложение, зафиксированное на момент поиска.
// Снимок неизменяемый: после создания он только читается и удаляется по TTL.
type Offer struct {
	ID              string       `json:"id"`
	TraceID         string       `json:"trace_id"`
	Origin          string       `json:"origin"`
	Destination     string       `json:"destination"`
	DepartureAt     time.Time    `json:"departure_at"`
	ArrivalAt       time.Time    `json:"arrival_at"`
	Operator        string       `json:"operator"`
	TrainNumber     string       `json:"train_number"`
	ComfortClass    ComfortClass `json:"comfort_class"`
	PricePerPerson  float64      `json:"price_per_person"`
	Currency        string       `json:"currency"`
	Refundable      bool         `json:"refundable"`
	Exchangeable    bool         `json:"exchangeable"`
	ProviderOfferID string       `json:"provider_offer_id"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Duration возвращает длительность поездки
func (o *Offer) Duration() time.Duration {
	return o.ArrivalAt.Sub(o.DepartureAt)
}

// SearchResult содержит предложения одного поиска вместе с подсветкой
// самого дешевого и самого быстрого вариантов.
type SearchResult struct {
	TraceID        string   `json:"trace_id"`
	Offers         []*Offer `json:"offers"`
	CheapestWithin string   `json:"cheapest_offer_id,omitempty"`
	FastestWithin  string   `json:"fastest_offer_id,omitempty"`
}
