package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/odamigo/eurotrain-booking/internal/entity"
)

const defaultQuoteTTL = 15 * time.Minute

// MockProvider — провайдер инвентаря в памяти процесса. Используется в
// разработке и тестах; машину состояний брони соблюдает так же строго,
// как боевой API.
type MockProvider struct {
	mu             sync.Mutex
	reservations   map[string]*entity.Reservation
	refundQuotes   map[string]*entity.RefundQuote
	exchangeQuotes map[string]*entity.ExchangeQuote
	quoteTTL       time.Duration
}

func NewMockProvider(quoteTTL time.Duration) *MockProvider {
	if quoteTTL <= 0 {
		quoteTTL = defaultQuoteTTL
	}
	return &MockProvider{
		reservations:   make(map[string]*entity.Reservation),
		refundQuotes:   make(map[string]*entity.RefundQuote),
		exchangeQuotes: make(map[string]*entity.ExchangeQuote),
		quoteTTL:       quoteTTL,
	}
}

var mockOperators = []struct {
	operator string
	train    string
	depHour  int
	duration time.Duration
	price    float64
}{
	{"DB", "ICE 104", 6, 4*time.Hour + 10*time.Minute, 59.90},
	{"DB", "ICE 512", 9, 3*time.Hour + 55*time.Minute, 79.90},
	{"SNCF", "TGV 9572", 12, 3*time.Hour + 40*time.Minute, 89.00},
	{"DB", "IC 2024", 15, 5*time.Hour + 20*time.Minute, 39.90},
	{"OBB", "RJ 65", 18, 4*time.Hour + 45*time.Minute, 54.50},
}

// Search возвращает детерминированный набор предложений на дату.
// Снимки неизменяемые: публичный id навешивает вызывающая сторона.
func (p *MockProvider) Search(ctx context.Context, req *SearchRequest) ([]*entity.Offer, error) {
	if req.Origin == "" || req.Destination == "" {
		return nil, entity.ErrInvalidInput
	}

	class := req.ComfortClass
	if class == "" {
		class = entity.ComfortClassSecond
	}

	day := time.Date(req.Date.Year(), req.Date.Month(), req.Date.Day(), 0, 0, 0, 0, req.Date.Location())

	offers := make([]*entity.Offer, 0, len(mockOperators))
	for i, m := range mockOperators {
		departure := day.Add(time.Duration(m.depHour) * time.Hour)
		price := m.price
		if class == entity.ComfortClassFirst {
			price = price * 1.6
		}

		offers = append(offers, &entity.Offer{
			Origin:          req.Origin,
			Destination:     req.Destination,
			DepartureAt:     departure,
			ArrivalAt:       departure.Add(m.duration),
			Operator:        m.operator,
			TrainNumber:     m.train,
			ComfortClass:    class,
			PricePerPerson:  price,
			Currency:        "EUR",
			Refundable:      true,
			Exchangeable:    i%2 == 0,
			ProviderOfferID: fmt.Sprintf("mock-%s-%d", strings.ToLower(m.operator), i),
			CreatedAt:       time.Now(),
		})
	}

	return offers, nil
}

// CreateReservation всегда успешна и создает бронь в статусе created
// с позицией на каждое предложение
func (p *MockProvider) CreateReservation(ctx context.Context, offers []OfferRef) (*entity.Reservation, error) {
	if len(offers) == 0 {
		return nil, entity.ErrInvalidInput
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	reservation := &entity.Reservation{
		ID:        uuid.New().String(),
		Reference: strings.ToUpper(uuid.New().String()[:8]),
		Status:    entity.ReservationStatusCreated,
		Currency:  offers[0].Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, ref := range offers {
		reservation.Items = append(reservation.Items, &entity.ReservationItem{
			ID:      uuid.New().String(),
			OfferID: ref.OfferID,
			Price:   ref.Price,
		})
		reservation.TotalPrice += ref.Price
	}

	p.reservations[reservation.ID] = reservation
	return copyReservation(reservation), nil
}

func (p *MockProvider) GetReservation(ctx context.Context, reservationID string) (*entity.Reservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reservation, ok := p.reservations[reservationID]
	if !ok {
		return nil, entity.ErrReservationNotFound
	}
	return copyReservation(reservation), nil
}

// AttachTravelers полностью заменяет список пассажиров позиции.
// Разрешено в любом нетерминальном статусе.
func (p *MockProvider) AttachTravelers(ctx context.Context, reservationID, itemID string, travelers []entity.Traveler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reservation, ok := p.reservations[reservationID]
	if !ok {
		return entity.ErrReservationNotFound
	}
	if reservation.Status.IsTerminal() {
		return &entity.PreconditionError{
			Op:       "attach travelers",
			Expected: entity.ReservationStatusCreated,
			Actual:   reservation.Status,
		}
	}

	for _, item := range reservation.Items {
		if item.ID == itemID {
			item.Travelers = append([]entity.Traveler(nil), travelers...)
			reservation.UpdatedAt = time.Now()
			return nil
		}
	}
	return entity.ErrItemNotFound
}

// Prebook требует статус created; вызов в другом статусе — отказ
// по предусловию, а не тихий no-op
func (p *MockProvider) Prebook(ctx context.Context, reservationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reservation, ok := p.reservations[reservationID]
	if !ok {
		return entity.ErrReservationNotFound
	}
	if reservation.Status != entity.ReservationStatusCreated {
		return &entity.PreconditionError{
			Op:       "prebook",
			Expected: entity.ReservationStatusCreated,
			Actual:   reservation.Status,
		}
	}

	reservation.Status = entity.ReservationStatusPrebooked
	reservation.UpdatedAt = time.Now()
	return nil
}

// Confirm — точка невозврата по инвентарю: требует prebooked,
// назначает PNR каждой позиции
func (p *MockProvider) Confirm(ctx context.Context, reservationID string) (*entity.Reservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reservation, ok := p.reservations[reservationID]
	if !ok {
		return nil, entity.ErrReservationNotFound
	}
	if reservation.Status != entity.ReservationStatusPrebooked {
		return nil, &entity.PreconditionError{
			Op:       "confirm",
			Expected: entity.ReservationStatusPrebooked,
			Actual:   reservation.Status,
		}
	}

	for _, item := range reservation.Items {
		item.PNR = strings.ToUpper(uuid.New().String()[:6])
	}
	reservation.Status = entity.ReservationStatusInvoiced
	reservation.UpdatedAt = time.Now()
	return copyReservation(reservation), nil
}

func (p *MockProvider) IssueTickets(ctx context.Context, reservationID, format string) ([]entity.TicketArtifact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reservation, ok := p.reservations[reservationID]
	if !ok {
		return nil, entity.ErrReservationNotFound
	}
	if reservation.Status != entity.ReservationStatusInvoiced {
		return nil, &entity.PreconditionError{
			Op:       "issue tickets",
			Expected: entity.ReservationStatusInvoiced,
			Actual:   reservation.Status,
		}
	}

	if format == "" {
		format = "pdf"
	}

	artifacts := make([]entity.TicketArtifact, 0, len(reservation.Items))
	for _, item := range reservation.Items {
		artifacts = append(artifacts, entity.TicketArtifact{
			ItemID: item.ID,
			PNR:    item.PNR,
			Format: format,
			URL:    fmt.Sprintf("https://tickets.example.com/%s/%s.%s", reservation.ID, item.PNR, format),
		})
	}
	return artifacts, nil
}

// DeleteItem разрешен только до выписки счета и только пока в брони
// остается больше одной позиции
func (p *MockProvider) DeleteItem(ctx context.Context, reservationID, itemID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reservation, ok := p.reservations[reservationID]
	if !ok {
		return entity.ErrReservationNotFound
	}
	if reservation.Status != entity.ReservationStatusCreated && reservation.Status != entity.ReservationStatusPrebooked {
		return &entity.PreconditionError{
			Op:       "delete item",
			Expected: entity.ReservationStatusCreated,
			Actual:   reservation.Status,
		}
	}
	if len(reservation.Items) <= 1 {
		return entity.ErrLastItem
	}

	for i, item := range reservation.Items {
		if item.ID == itemID {
			reservation.TotalPrice -= item.Price
			reservation.Items = append(reservation.Items[:i], reservation.Items[i+1:]...)
			reservation.UpdatedAt = time.Now()
			return nil
		}
	}
	return entity.ErrItemNotFound
}

// QuoteRefund выдает котировку возврата с ограниченным сроком действия
func (p *MockProvider) QuoteRefund(ctx context.Context, reservationID string) (*entity.RefundQuote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reservation, ok := p.reservations[reservationID]
	if !ok {
		return nil, entity.ErrReservationNotFound
	}
	if reservation.Status != entity.ReservationStatusInvoiced {
		return nil, &entity.PreconditionError{
			Op:       "quote refund",
			Expected: entity.ReservationStatusInvoiced,
			Actual:   reservation.Status,
		}
	}

	// Штраф провайдера: 10% от стоимости брони
	penalty := reservation.TotalPrice * 0.10
	quote := &entity.RefundQuote{
		ID:            uuid.New().String(),
		ReservationID: reservationID,
		RefundAmount:  reservation.TotalPrice - penalty,
		Penalty:       penalty,
		Currency:      reservation.Currency,
		ExpiresAt:     time.Now().Add(p.quoteTTL),
	}
	p.refundQuotes[quote.ID] = quote
	return quote, nil
}

// ConfirmRefund подтверждает котировку до истечения; после истечения
// требуется новая котировка
func (p *MockProvider) ConfirmRefund(ctx context.Context, quoteID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	quote, ok := p.refundQuotes[quoteID]
	if !ok {
		return entity.ErrQuoteNotFound
	}
	if time.Now().After(quote.ExpiresAt) {
		delete(p.refundQuotes, quoteID)
		return entity.ErrQuoteExpired
	}

	reservation, ok := p.reservations[quote.ReservationID]
	if !ok {
		return entity.ErrReservationNotFound
	}

	reservation.Status = entity.ReservationStatusRefunded
	reservation.UpdatedAt = time.Now()
	delete(p.refundQuotes, quoteID)
	return nil
}

func (p *MockProvider) QuoteExchange(ctx context.Context, reservationID, newOfferID string) (*entity.ExchangeQuote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reservation, ok := p.reservations[reservationID]
	if !ok {
		return nil, entity.ErrReservationNotFound
	}
	if reservation.Status != entity.ReservationStatusInvoiced {
		return nil, &entity.PreconditionError{
			Op:       "quote exchange",
			Expected: entity.ReservationStatusInvoiced,
			Actual:   reservation.Status,
		}
	}

	quote := &entity.ExchangeQuote{
		ID:            uuid.New().String(),
		ReservationID: reservationID,
		NewOfferID:    newOfferID,
		PriceDelta:    15.00,
		Currency:      reservation.Currency,
		ExpiresAt:     time.Now().Add(p.quoteTTL),
	}
	p.exchangeQuotes[quote.ID] = quote
	return quote, nil
}

func (p *MockProvider) ConfirmExchange(ctx context.Context, quoteID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	quote, ok := p.exchangeQuotes[quoteID]
	if !ok {
		return entity.ErrQuoteNotFound
	}
	if time.Now().After(quote.ExpiresAt) {
		delete(p.exchangeQuotes, quoteID)
		return entity.ErrQuoteExpired
	}

	reservation, ok := p.reservations[quote.ReservationID]
	if !ok {
		return entity.ErrReservationNotFound
	}

	reservation.TotalPrice += quote.PriceDelta
	reservation.UpdatedAt = time.Now()
	delete(p.exchangeQuotes, quoteID)
	return nil
}

// ExpireQuote принудительно просрочивает котировку. Только для тестов.
func (p *MockProvider) ExpireQuote(quoteID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if quote, ok := p.refundQuotes[quoteID]; ok {
		quote.ExpiresAt = time.Now().Add(-time.Minute)
	}
	if quote, ok := p.exchangeQuotes[quoteID]; ok {
		quote.ExpiresAt = time.Now().Add(-time.Minute)
	}
}

func copyReservation(r *entity.Reservation) *entity.Reservation {
	cp := *r
	cp.Items = make([]*entity.ReservationItem, len(r.Items))
	for i, item := range r.Items {
		itemCopy := *item
		itemCopy.Travelers = append([]entity.Traveler(nil), item.Travelers...)
		cp.Items[i] = &itemCopy
	}
	return &cp
}
