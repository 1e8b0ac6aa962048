package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odamigo/eurotrain-booking/internal/cache"
	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/odamigo/eurotrain-booking/internal/gateway"
	"github.com/odamigo/eurotrain-booking/internal/provider"
)

// --- фейки репозиториев: семантика охранных UPDATE воспроизведена в памяти ---

type fakePaymentRepo struct {
	mu      sync.Mutex
	byID    map[string]*entity.Payment
	byOrder map[string]string

	// возвраты пишутся в платеж и заказ одним вызовом, как в
	// транзакции настоящего репозитория
	bookings *fakeBookingRepo
}

func newFakePaymentRepo(bookings *fakeBookingRepo) *fakePaymentRepo {
	return &fakePaymentRepo{
		byID:     make(map[string]*entity.Payment),
		byOrder:  make(map[string]string),
		bookings: bookings,
	}
}

func (r *fakePaymentRepo) Create(ctx context.Context, p *entity.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOrder[p.OrderID]; ok {
		return entity.ErrDuplicateOrder
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	clone := *p
	r.byID[p.ID] = &clone
	r.byOrder[p.OrderID] = p.ID
	return nil
}

func (r *fakePaymentRepo) GetByID(ctx context.Context, id string) (*entity.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, entity.ErrPaymentNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *fakePaymentRepo) GetByOrderID(ctx context.Context, orderID string) (*entity.Payment, error) {
	r.mu.Lock()
	id, ok := r.byOrder[orderID]
	r.mu.Unlock()
	if !ok {
		return nil, entity.ErrPaymentNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *fakePaymentRepo) MarkProcessing(ctx context.Context, id, sessionToken string, rawRequest, rawResponse []byte, sessionExpiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.Status != entity.PaymentStatusPending {
		return entity.ErrPaymentInProgress
	}
	p.Status = entity.PaymentStatusProcessing
	p.SessionToken = sessionToken
	p.SessionExpiresAt = sessionExpiresAt
	return nil
}

func (r *fakePaymentRepo) ApplyCallback(ctx context.Context, orderID string, status entity.PaymentStatus, cb *entity.GatewayCallback) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byOrder[orderID]
	if !ok {
		return false, nil
	}
	p := r.byID[id]
	if p.Status != entity.PaymentStatusProcessing {
		return false, nil
	}
	p.Status = status
	p.GatewayTxID = cb.GatewayTxID
	p.CardLastFour = cb.CardLastFour
	p.CardBrand = cb.CardBrand
	p.ThreeDSecure = cb.ThreeDSecure
	p.RawCallback = cb.Raw
	return true, nil
}

func (r *fakePaymentRepo) MarkFailed(ctx context.Context, id, errorCode, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.Status.IsFinal() {
		return entity.ErrConcurrentUpdate
	}
	p.Status = entity.PaymentStatusFailed
	p.ErrorCode = errorCode
	p.ErrorMessage = errorMessage
	return nil
}

func (r *fakePaymentRepo) IncrementRetry(ctx context.Context, id string) error {
	return nil
}

func (r *fakePaymentRepo) ApplyRefund(ctx context.Context, paymentID, bookingID string, observedRefunded, refundAmount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[paymentID]
	if !ok {
		return entity.ErrConcurrentUpdate
	}
	if p.RefundedAmount != observedRefunded {
		return entity.ErrConcurrentUpdate
	}
	if p.Status != entity.PaymentStatusCompleted && p.Status != entity.PaymentStatusPartiallyRefunded {
		return entity.ErrConcurrentUpdate
	}
	if p.RefundedAmount+refundAmount > p.Amount {
		return entity.ErrConcurrentUpdate
	}

	r.bookings.mu.Lock()
	defer r.bookings.mu.Unlock()
	b, ok := r.bookings.byID[bookingID]
	if !ok {
		return entity.ErrBookingNotFound
	}

	p.RefundedAmount += refundAmount
	if p.RefundedAmount >= p.Amount {
		p.Status = entity.PaymentStatusRefunded
	} else {
		p.Status = entity.PaymentStatusPartiallyRefunded
	}
	b.RefundedAmount += refundAmount
	if b.RefundedAmount >= b.TotalPrice {
		b.Status = entity.BookingStatusRefunded
	} else {
		b.Status = entity.BookingStatusPartiallyRefunded
	}
	return nil
}

func (r *fakePaymentRepo) GetAbandoned(ctx context.Context, before time.Time, limit int) ([]*entity.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*entity.Payment
	for _, p := range r.byID {
		if p.Status == entity.PaymentStatusProcessing && p.SessionExpiresAt.Before(before) {
			clone := *p
			result = append(result, &clone)
		}
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *fakePaymentRepo) GetByStatus(ctx context.Context, status entity.PaymentStatus) ([]*entity.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*entity.Payment
	for _, p := range r.byID {
		if p.Status == status {
			clone := *p
			result = append(result, &clone)
		}
	}
	return result, nil
}

type fakeBookingRepo struct {
	mu   sync.Mutex
	byID map[string]*entity.Booking
}

func newFakeBookingRepo() *fakeBookingRepo {
	return &fakeBookingRepo{byID: make(map[string]*entity.Booking)}
}

func (r *fakeBookingRepo) Create(ctx context.Context, b *entity.Booking, promoCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	clone := *b
	r.byID[b.ID] = &clone
	return nil
}

func (r *fakeBookingRepo) GetByID(ctx context.Context, id string) (*entity.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return nil, entity.ErrBookingNotFound
	}
	clone := *b
	return &clone, nil
}

func (r *fakeBookingRepo) GetByReference(ctx context.Context, reference string) (*entity.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.byID {
		if b.Reference == reference {
			clone := *b
			return &clone, nil
		}
	}
	return nil, entity.ErrBookingNotFound
}

func (r *fakeBookingRepo) GetByPaymentID(ctx context.Context, paymentID string) (*entity.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.byID {
		if b.PaymentID == paymentID {
			clone := *b
			return &clone, nil
		}
	}
	return nil, entity.ErrBookingNotFound
}

func (r *fakeBookingRepo) UpdateStatus(ctx context.Context, id string, status entity.BookingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return entity.ErrBookingNotFound
	}
	b.Status = status
	return nil
}

func (r *fakeBookingRepo) SetPayment(ctx context.Context, id, paymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return entity.ErrBookingNotFound
	}
	b.PaymentID = paymentID
	return nil
}

func (r *fakeBookingRepo) SetTicketArtifacts(ctx context.Context, id, pnr string, tickets []entity.TicketArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return entity.ErrBookingNotFound
	}
	b.PNR = pnr
	b.Tickets = tickets
	b.Status = entity.BookingStatusTicketed
	return nil
}

func (r *fakeBookingRepo) GetByCustomerEmail(ctx context.Context, email string) ([]*entity.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*entity.Booking
	for _, b := range r.byID {
		if b.CustomerEmail == email {
			clone := *b
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (r *fakeBookingRepo) GetByStatus(ctx context.Context, status entity.BookingStatus) ([]*entity.Booking, error) {
	return nil, nil
}

func (r *fakeBookingRepo) GetRecentBookings(ctx context.Context, limit int) ([]*entity.Booking, error) {
	return nil, nil
}

func (r *fakeBookingRepo) GetSettlementStats(ctx context.Context) (*entity.SettlementStats, error) {
	return &entity.SettlementStats{GeneratedAt: time.Now()}, nil
}

type fakeCampaignRepo struct {
	campaigns map[string]*entity.Campaign
}

func (r *fakeCampaignRepo) Create(ctx context.Context, c *entity.Campaign) error { return nil }

func (r *fakeCampaignRepo) GetByCode(ctx context.Context, code string) (*entity.Campaign, error) {
	c, ok := r.campaigns[code]
	if !ok {
		return nil, entity.ErrCampaignNotFound
	}
	return c, nil
}

func (r *fakeCampaignRepo) GetActive(ctx context.Context) ([]*entity.Campaign, error) {
	return nil, nil
}

func (r *fakeCampaignRepo) IncrementUsage(ctx context.Context, code string) error {
	c, ok := r.campaigns[code]
	if !ok {
		return entity.ErrCampaignNotFound
	}
	c.UsedCount++
	return nil
}

// flakyProvider прокидывает вызовы в базовый провайдер, но роняет
// confirm, пока взведен failConfirm
type flakyProvider struct {
	provider.InventoryProvider
	failConfirm bool
}

func (p *flakyProvider) Confirm(ctx context.Context, reservationID string) (*entity.Reservation, error) {
	if p.failConfirm {
		return nil, errors.New("provider unavailable")
	}
	return p.InventoryProvider.Confirm(ctx, reservationID)
}

// fakeGateway принимает подпись "valid" и отклоняет остальные
type fakeGateway struct {
	sessions int
	refunds  int
}

func (g *fakeGateway) CreateSession(ctx context.Context, req *gateway.SessionRequest) (*gateway.SessionResult, error) {
	g.sessions++
	return &gateway.SessionResult{
		SessionToken: "gw-sess-1",
		RedirectURL:  "https://pay.example/gw-sess-1",
		ExpiresAt:    time.Now().Add(30 * time.Minute),
		RawRequest:   []byte(`{}`),
		RawResponse:  []byte(`{}`),
	}, nil
}

func (g *fakeGateway) VerifyCallback(cb *entity.GatewayCallback, customerID, sessionToken string) error {
	if cb.Signature != "valid" {
		return entity.ErrSignatureMismatch
	}
	return nil
}

func (g *fakeGateway) Refund(ctx context.Context, req *gateway.RefundRequest) (*gateway.RefundResult, error) {
	g.refunds++
	return &gateway.RefundResult{RefundTxID: "rf-1"}, nil
}

// --- тестовая сборка: живые кэш, провайдер и checkout, фейковые БД и шлюз ---

type settlementFixture struct {
	cache      *cache.MemoryCache
	provider   *provider.MockProvider
	checkout   CheckoutService
	payments   *fakePaymentRepo
	bookings   *fakeBookingRepo
	gateway    *fakeGateway
	settlement SettlementService
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()

	memCache := cache.NewMemoryCache(time.Minute)
	t.Cleanup(func() { memCache.Close() })

	prov := provider.NewMockProvider(time.Minute)
	search := NewSearchService(prov, memCache, 20*time.Minute)
	campaigns := &fakeCampaignRepo{campaigns: map[string]*entity.Campaign{
		"SAVE10": {
			Code:   "SAVE10",
			Target: entity.DiscountTargetTotal,
			Type:   entity.DiscountTypePercentage,
			Value:  10,
			Active: true,
		},
	}}
	checkout := NewCheckoutService(memCache, search, campaigns, 5.0, 30*time.Minute, 16)

	bookings := newFakeBookingRepo()
	payments := newFakePaymentRepo(bookings)
	gw := &fakeGateway{}

	return &settlementFixture{
		cache:      memCache,
		provider:   prov,
		checkout:   checkout,
		payments:   payments,
		bookings:   bookings,
		gateway:    gw,
		settlement: NewSettlementService(payments, bookings, prov, gw, checkout, nil),
	}
}

// seedSession кладет предложение за 100 EUR в кэш и собирает сессию с
// одним пассажиром и промокодом SAVE10
func (f *settlementFixture) seedSession(t *testing.T) *entity.CheckoutSession {
	t.Helper()
	ctx := context.Background()

	departure := time.Now().Add(48 * time.Hour).Truncate(time.Hour)
	offer := &entity.Offer{
		ID:              "off-100",
		TraceID:         "trace-1",
		Origin:          "Berlin Hbf",
		Destination:     "Paris Gare de l'Est",
		DepartureAt:     departure,
		ArrivalAt:       departure.Add(8 * time.Hour),
		Operator:        "DB",
		TrainNumber:     "ICE 9554",
		ComfortClass:    entity.ComfortClassSecond,
		PricePerPerson:  100,
		Currency:        "EUR",
		Refundable:      true,
		ProviderOfferID: "prov-off-100",
	}
	require.NoError(t, f.cache.Put("offer:off-100", offer, 20*time.Minute))

	session, err := f.checkout.CreateSession(ctx, &CreateSessionRequest{OfferIDs: []string{"off-100"}})
	require.NoError(t, err)

	session, err = f.checkout.AttachTravelers(ctx, session.Token, []entity.Traveler{
		{FirstName: "Anna", LastName: "Weber", Email: "anna@example.com"},
	})
	require.NoError(t, err)

	session, err = f.checkout.ApplyPromo(ctx, session.Token, "SAVE10")
	require.NoError(t, err)
	return session
}

// createTicketedBooking проводит заказ через полный успешный цикл
func (f *settlementFixture) createTicketedBooking(t *testing.T) (*entity.Booking, *entity.Payment) {
	t.Helper()
	ctx := context.Background()

	session := f.seedSession(t)
	booking, err := f.settlement.CreateBookingFromSession(ctx, &CreateBookingRequest{
		SessionToken:  session.Token,
		CustomerName:  "Anna Weber",
		CustomerEmail: "anna@example.com",
	})
	require.NoError(t, err)

	initiation, err := f.settlement.InitiatePayment(ctx, &InitiatePaymentRequest{BookingID: booking.ID})
	require.NoError(t, err)

	cb := &entity.GatewayCallback{
		ResponseCode:      "00",
		MerchantPaymentID: initiation.Payment.OrderID,
		GatewayTxID:       "gw-tx-1",
		CardLastFour:      "4242",
		Signature:         "valid",
	}
	booking, err = f.settlement.HandleCallback(ctx, cb)
	require.NoError(t, err)

	payment, err := f.payments.GetByID(ctx, initiation.Payment.ID)
	require.NoError(t, err)
	return booking, payment
}

// TestBookingLifecycle проверяет полный цикл: сессия 100 EUR + SAVE10,
// заказ на 94.50, оплата, выпуск билетов
func TestBookingLifecycle(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	session := f.seedSession(t)
	require.NotNil(t, session.Breakdown)
	assert.InDelta(t, 100.0, session.Breakdown.BasePrice, 0.001)
	assert.InDelta(t, 5.0, session.Breakdown.ServiceFee, 0.001)
	assert.InDelta(t, 105.0, session.Breakdown.Subtotal, 0.001)
	assert.InDelta(t, 10.50, session.Breakdown.Discount, 0.001)
	assert.InDelta(t, 94.50, session.Breakdown.FinalPrice, 0.001)

	booking, err := f.settlement.CreateBookingFromSession(ctx, &CreateBookingRequest{
		SessionToken:  session.Token,
		CustomerName:  "Anna Weber",
		CustomerEmail: "anna@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, entity.BookingStatusPending, booking.Status)
	assert.InDelta(t, 94.50, booking.TotalPrice, 0.001)
	assert.NotEmpty(t, booking.Reference)
	assert.NotEmpty(t, booking.ReservationID)

	// сессия потреблена, второй заказ из нее невозможен
	_, err = f.settlement.CreateBookingFromSession(ctx, &CreateBookingRequest{
		SessionToken:  session.Token,
		CustomerName:  "Anna Weber",
		CustomerEmail: "anna@example.com",
	})
	assert.ErrorIs(t, err, entity.ErrSessionConsumed)

	initiation, err := f.settlement.InitiatePayment(ctx, &InitiatePaymentRequest{BookingID: booking.ID})
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusProcessing, initiation.Payment.Status)
	assert.Equal(t, "https://pay.example/gw-sess-1", initiation.RedirectURL)

	cb := &entity.GatewayCallback{
		ResponseCode:      "00",
		MerchantPaymentID: initiation.Payment.OrderID,
		GatewayTxID:       "gw-tx-1",
		Signature:         "valid",
	}
	booking, err = f.settlement.HandleCallback(ctx, cb)
	require.NoError(t, err)

	assert.Equal(t, entity.BookingStatusTicketed, booking.Status)
	assert.NotEmpty(t, booking.PNR)
	assert.NotEmpty(t, booking.Tickets)

	payment, err := f.payments.GetByID(ctx, initiation.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusCompleted, payment.Status)
}

// TestInitiatePaymentDuplicateOrder проверяет, что повторная инициация
// с занятым OrderID отклоняется и второй платеж не создается
func TestInitiatePaymentDuplicateOrder(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	session := f.seedSession(t)
	booking, err := f.settlement.CreateBookingFromSession(ctx, &CreateBookingRequest{
		SessionToken:  session.Token,
		CustomerName:  "Anna Weber",
		CustomerEmail: "anna@example.com",
	})
	require.NoError(t, err)

	first, err := f.settlement.InitiatePayment(ctx, &InitiatePaymentRequest{
		BookingID: booking.ID,
		OrderID:   "order-stable",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusProcessing, first.Payment.Status)

	_, err = f.settlement.InitiatePayment(ctx, &InitiatePaymentRequest{
		BookingID: booking.ID,
		OrderID:   "order-stable",
	})
	assert.ErrorIs(t, err, entity.ErrPaymentInProgress)

	assert.Equal(t, 1, f.gateway.sessions, "gateway session must be created once")
}

// TestInitiatePaymentPaidBooking проверяет, что по оплаченному заказу
// вторая инициация отклоняется и вторая сессия шлюза не открывается
func TestInitiatePaymentPaidBooking(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	booking, _ := f.createTicketedBooking(t)
	require.Equal(t, 1, f.gateway.sessions)

	_, err := f.settlement.InitiatePayment(ctx, &InitiatePaymentRequest{BookingID: booking.ID})
	assert.ErrorIs(t, err, entity.ErrBookingNotPayable)

	assert.Equal(t, 1, f.gateway.sessions, "paid booking must not open a second gateway session")

	// привязка заказа к завершенному платежу не перезаписана
	current, err := f.bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.PaymentID, current.PaymentID)

	payment, err := f.payments.GetByID(ctx, current.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusCompleted, payment.Status)
}

// TestCallbackReplayResumesFulfillment проверяет, что повтор вебхука
// дотягивает заказ до ticketed, если выпуск билетов оборвался после
// списания денег
func TestCallbackReplayResumesFulfillment(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	flaky := &flakyProvider{InventoryProvider: f.provider, failConfirm: true}
	settlement := NewSettlementService(f.payments, f.bookings, flaky, f.gateway, f.checkout, nil)

	session := f.seedSession(t)
	booking, err := settlement.CreateBookingFromSession(ctx, &CreateBookingRequest{
		SessionToken:  session.Token,
		CustomerName:  "Anna Weber",
		CustomerEmail: "anna@example.com",
	})
	require.NoError(t, err)

	initiation, err := settlement.InitiatePayment(ctx, &InitiatePaymentRequest{BookingID: booking.ID})
	require.NoError(t, err)

	cb := &entity.GatewayCallback{
		ResponseCode:      "00",
		MerchantPaymentID: initiation.Payment.OrderID,
		GatewayTxID:       "gw-tx-1",
		Signature:         "valid",
	}
	_, err = settlement.HandleCallback(ctx, cb)
	require.Error(t, err, "fulfillment must fail while provider is down")

	// деньги списаны, но билетов нет
	payment, err := f.payments.GetByID(ctx, initiation.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusCompleted, payment.Status)

	stuck, err := f.bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.NotEqual(t, entity.BookingStatusTicketed, stuck.Status)

	// провайдер ожил, шлюз повторяет вебхук
	flaky.failConfirm = false
	recovered, err := settlement.HandleCallback(ctx, cb)
	require.NoError(t, err)

	assert.Equal(t, entity.BookingStatusTicketed, recovered.Status)
	assert.NotEmpty(t, recovered.PNR)
	assert.NotEmpty(t, recovered.Tickets)
}

// TestCallbackReplay проверяет идемпотентность повторного колбэка
func TestCallbackReplay(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	booking, payment := f.createTicketedBooking(t)

	cb := &entity.GatewayCallback{
		ResponseCode:      "00",
		MerchantPaymentID: payment.OrderID,
		GatewayTxID:       "gw-tx-1",
		Signature:         "valid",
	}
	replayed, err := f.settlement.HandleCallback(ctx, cb)
	require.NoError(t, err)

	assert.Equal(t, booking.Status, replayed.Status)
	assert.Equal(t, booking.PNR, replayed.PNR)

	after, err := f.payments.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusCompleted, after.Status)
}

// TestCallbackSignatureMismatch проверяет, что поддельный колбэк не
// меняет состояние платежа и заказа
func TestCallbackSignatureMismatch(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	session := f.seedSession(t)
	booking, err := f.settlement.CreateBookingFromSession(ctx, &CreateBookingRequest{
		SessionToken:  session.Token,
		CustomerName:  "Anna Weber",
		CustomerEmail: "anna@example.com",
	})
	require.NoError(t, err)

	initiation, err := f.settlement.InitiatePayment(ctx, &InitiatePaymentRequest{BookingID: booking.ID})
	require.NoError(t, err)

	cb := &entity.GatewayCallback{
		ResponseCode:      "00",
		MerchantPaymentID: initiation.Payment.OrderID,
		Signature:         "forged",
	}
	_, err = f.settlement.HandleCallback(ctx, cb)
	assert.ErrorIs(t, err, entity.ErrSignatureMismatch)

	payment, err := f.payments.GetByID(ctx, initiation.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusProcessing, payment.Status, "forged callback must not change state")

	current, err := f.bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusPending, current.Status)
}

// TestCallbackUnknownOrder проверяет отклонение колбэка по
// несуществующему заказу
func TestCallbackUnknownOrder(t *testing.T) {
	f := newSettlementFixture(t)

	cb := &entity.GatewayCallback{
		ResponseCode:      "00",
		MerchantPaymentID: "ghost-order",
		Signature:         "valid",
	}
	_, err := f.settlement.HandleCallback(context.Background(), cb)
	assert.ErrorIs(t, err, entity.ErrUnknownOrder)
}

// TestCallbackDeclined проверяет, что при отказе шлюза платеж
// закрывается, а заказ остается pending для повторной оплаты
func TestCallbackDeclined(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	session := f.seedSession(t)
	booking, err := f.settlement.CreateBookingFromSession(ctx, &CreateBookingRequest{
		SessionToken:  session.Token,
		CustomerName:  "Anna Weber",
		CustomerEmail: "anna@example.com",
	})
	require.NoError(t, err)

	initiation, err := f.settlement.InitiatePayment(ctx, &InitiatePaymentRequest{BookingID: booking.ID})
	require.NoError(t, err)

	cb := &entity.GatewayCallback{
		ResponseCode:      "51",
		MerchantPaymentID: initiation.Payment.OrderID,
		Signature:         "valid",
	}
	booking, err = f.settlement.HandleCallback(ctx, cb)
	require.NoError(t, err)

	assert.Equal(t, entity.BookingStatusPending, booking.Status)

	payment, err := f.payments.GetByID(ctx, initiation.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusFailed, payment.Status)

	// новый платеж по тому же заказу возможен с новым orderID
	retry, err := f.settlement.InitiatePayment(ctx, &InitiatePaymentRequest{BookingID: booking.ID})
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusProcessing, retry.Payment.Status)
}

// TestRefundAccounting проверяет границы возврата: частичный возврат,
// превышение остатка на копейку, полный возврат остатка
func TestRefundAccounting(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	booking, _ := f.createTicketedBooking(t)

	// частичный возврат 40 из 94.50
	booking, err := f.settlement.Refund(ctx, &RefundRequest{
		BookingID: booking.ID,
		Amount:    40,
		Reason:    "customer request",
	})
	require.NoError(t, err)

	assert.Equal(t, entity.BookingStatusPartiallyRefunded, booking.Status)
	assert.InDelta(t, 40.0, booking.RefundedAmount, 0.001)

	// учет на платеже и заказе не расходится
	partial, err := f.payments.GetByID(ctx, booking.PaymentID)
	require.NoError(t, err)
	assert.InDelta(t, booking.RefundedAmount, partial.RefundedAmount, 0.001)

	// остаток 54.50: возврат 54.51 отклоняется
	_, err = f.settlement.Refund(ctx, &RefundRequest{
		BookingID: booking.ID,
		Amount:    54.51,
	})
	assert.ErrorIs(t, err, entity.ErrRefundExceedsBalance)

	// полный возврат остатка (Amount = 0)
	booking, err = f.settlement.Refund(ctx, &RefundRequest{BookingID: booking.ID})
	require.NoError(t, err)

	assert.Equal(t, entity.BookingStatusRefunded, booking.Status)
	assert.InDelta(t, 94.50, booking.RefundedAmount, 0.001)

	// возвращать больше нечего
	_, err = f.settlement.Refund(ctx, &RefundRequest{BookingID: booking.ID, Amount: 1})
	assert.ErrorIs(t, err, entity.ErrPaymentNotRefundable)

	assert.Equal(t, 2, f.gateway.refunds)
}

// TestExpireAbandonedPayment проверяет закрытие платежа, по которому
// сессия шлюза истекла без колбэка
func TestExpireAbandonedPayment(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	session := f.seedSession(t)
	booking, err := f.settlement.CreateBookingFromSession(ctx, &CreateBookingRequest{
		SessionToken:  session.Token,
		CustomerName:  "Anna Weber",
		CustomerEmail: "anna@example.com",
	})
	require.NoError(t, err)

	initiation, err := f.settlement.InitiatePayment(ctx, &InitiatePaymentRequest{BookingID: booking.ID})
	require.NoError(t, err)

	// сдвигаем истечение сессии в прошлое
	f.payments.mu.Lock()
	f.payments.byID[initiation.Payment.ID].SessionExpiresAt = time.Now().Add(-time.Minute)
	f.payments.mu.Unlock()

	closed, err := f.settlement.ReconcileAbandonedPayments(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	payment, err := f.payments.GetByID(ctx, initiation.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusFailed, payment.Status)
	assert.Equal(t, "EXPIRED", payment.ErrorCode)

	current, err := f.bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusExpired, current.Status)

	// завершенный платеж сверкой не трогается
	_, completedPayment := f.createTicketedBooking(t)
	closed, err = f.settlement.ReconcileAbandonedPayments(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)

	after, err := f.payments.GetByID(ctx, completedPayment.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusCompleted, after.Status)
}
