package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/odamigo/eurotrain-booking/internal/cache"
	repository "github.com/odamigo/eurotrain-booking/internal/database/postgres"
	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/odamigo/eurotrain-booking/internal/gateway"
	"github.com/odamigo/eurotrain-booking/internal/pricing"
	"github.com/odamigo/eurotrain-booking/internal/provider"
)

// CreateBookingRequest представляет данные для создания заказа из сессии
type CreateBookingRequest struct {
	SessionToken  string `json:"session_token" binding:"required"`
	CustomerName  string `json:"customer_name" binding:"required,min=2,max=255"`
	CustomerEmail string `json:"customer_email" binding:"required,email"`
}

// InitiatePaymentRequest представляет данные для инициации платежа.
// OrderID — ключ идемпотентности вызывающей стороны; пустой ключ
// генерируется сервисом.
type InitiatePaymentRequest struct {
	BookingID string `json:"booking_id" binding:"required"`
	OrderID   string `json:"order_id"`
}

// PaymentInitiation — результат инициации платежа
type PaymentInitiation struct {
	Payment     *entity.Payment `json:"payment"`
	RedirectURL string          `json:"redirect_url,omitempty"`
}

// RefundRequest представляет запрос возврата. Amount = 0 означает
// полный возврат остатка.
type RefundRequest struct {
	BookingID string  `json:"booking_id" binding:"required"`
	Amount    float64 `json:"amount" binding:"min=0"`
	Reason    string  `json:"reason"`
}

type settlementService struct {
	paymentRepo repository.PaymentRepository
	bookingRepo repository.BookingRepository
	provider    provider.InventoryProvider
	gateway     gateway.PaymentGateway
	checkout    CheckoutService
	tasks       TaskPublisher
}

// NewSettlementService создает новый экземпляр SettlementService
func NewSettlementService(
	paymentRepo repository.PaymentRepository,
	bookingRepo repository.BookingRepository,
	p provider.InventoryProvider,
	gw gateway.PaymentGateway,
	checkout CheckoutService,
	tasks TaskPublisher,
) SettlementService {
	return &settlementService{
		paymentRepo: paymentRepo,
		bookingRepo: bookingRepo,
		provider:    p,
		gateway:     gw,
		checkout:    checkout,
		tasks:       tasks,
	}
}

// CreateBookingFromSession потребляет сессию оформления, создает бронь
// у провайдера и фиксирует заказ. Сессия потребляется ровно один раз;
// инкремент промокампании идет одной транзакцией со вставкой заказа.
func (s *settlementService) CreateBookingFromSession(ctx context.Context, req *CreateBookingRequest) (*entity.Booking, error) {
	session, err := s.checkout.Consume(ctx, req.SessionToken)
	if err != nil {
		return nil, err
	}

	offerRefs := make([]provider.OfferRef, 0, len(session.Offers))
	for _, offer := range session.Offers {
		offerRefs = append(offerRefs, provider.OfferRef{
			OfferID:         offer.ID,
			ProviderOfferID: offer.ProviderOfferID,
			Price:           offer.PricePerPerson * float64(len(session.Travelers)),
			Currency:        offer.Currency,
		})
	}

	reservation, err := s.provider.CreateReservation(ctx, offerRefs)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать бронь: %w", err)
	}

	for _, item := range reservation.Items {
		if err := s.provider.AttachTravelers(ctx, reservation.ID, item.ID, session.Travelers); err != nil {
			return nil, fmt.Errorf("не удалось прикрепить пассажиров: %w", err)
		}
	}

	first := session.Offers[0]
	last := session.Offers[len(session.Offers)-1]

	booking := &entity.Booking{
		Reference:     generateReference(),
		ReservationID: reservation.ID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Origin:        first.Origin,
		Destination:   last.Destination,
		DepartureAt:   first.DepartureAt,
		ArrivalAt:     last.ArrivalAt,
		Breakdown:     *session.Breakdown,
		TotalPrice:    session.Breakdown.FinalPrice,
		Currency:      session.Currency,
		Status:        entity.BookingStatusPending,
	}

	if err := s.bookingRepo.Create(ctx, booking, session.PromoCode); err != nil {
		return nil, err
	}

	logrus.Infof("Booking %s created from session %s (reservation %s)",
		booking.Reference, session.Token, reservation.ID)
	return booking, nil
}

// InitiatePayment создает платежную запись и hosted-payment сессию
// шлюза. Оплата возможна только по заказу, ожидающему оплаты: оплаченный
// заказ не принимает вторую инициацию. OrderID — ключ идемпотентности:
// повторная инициация с тем же значением отклоняется.
func (s *settlementService) InitiatePayment(ctx context.Context, req *InitiatePaymentRequest) (*PaymentInitiation, error) {
	booking, err := s.bookingRepo.GetByID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	if booking.Status != entity.BookingStatusPending {
		return nil, entity.ErrBookingNotPayable
	}
	if booking.PaymentID != "" {
		// Заказ может оставаться pending при уже списанных деньгах, если
		// выпуск билетов оборвался после успешного колбэка
		current, err := s.paymentRepo.GetByID(ctx, booking.PaymentID)
		if err != nil && !errors.Is(err, entity.ErrPaymentNotFound) {
			return nil, err
		}
		if err == nil {
			switch current.Status {
			case entity.PaymentStatusProcessing:
				return nil, entity.ErrPaymentInProgress
			case entity.PaymentStatusCompleted,
				entity.PaymentStatusRefunded,
				entity.PaymentStatusPartiallyRefunded:
				return nil, entity.ErrBookingNotPayable
			}
		}
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}

	payment := &entity.Payment{
		OrderID:   orderID,
		BookingID: booking.ID,
		Amount:    booking.TotalPrice,
		Currency:  booking.Currency,
		Status:    entity.PaymentStatusPending,
	}

	err = s.paymentRepo.Create(ctx, payment)
	if errors.Is(err, entity.ErrDuplicateOrder) {
		existing, getErr := s.paymentRepo.GetByOrderID(ctx, orderID)
		if getErr != nil {
			return nil, getErr
		}
		// Повторная инициация с занятым orderID отклоняется, второй
		// платеж не создается
		if existing.Status == entity.PaymentStatusProcessing {
			return nil, entity.ErrPaymentInProgress
		}
		return nil, entity.ErrDuplicateOrder
	}
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateSession(ctx, &gateway.SessionRequest{
		OrderID:       orderID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		CustomerID:    booking.CustomerEmail,
		CustomerEmail: booking.CustomerEmail,
	})
	if err != nil {
		var gwErr *entity.GatewayError
		if errors.As(err, &gwErr) {
			if markErr := s.paymentRepo.MarkFailed(ctx, payment.ID, gwErr.Code, gwErr.Message); markErr != nil {
				logrus.Errorf("Failed to mark payment %s failed: %v", payment.ID, markErr)
			}
		}
		return nil, err
	}

	err = s.paymentRepo.MarkProcessing(ctx, payment.ID, session.SessionToken,
		session.RawRequest, session.RawResponse, session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	if err := s.bookingRepo.SetPayment(ctx, booking.ID, payment.ID); err != nil {
		return nil, err
	}

	// Отложенная задача закроет платеж, если колбэк так и не придет
	s.publishTask(ctx, &Task{
		ID:   fmt.Sprintf("expire_%s", payment.ID),
		Type: TaskTypeExpirePayment,
		Data: map[string]interface{}{
			"payment_id":         payment.ID,
			"session_expires_at": session.ExpiresAt.Format(time.RFC3339),
		},
		ExecuteAt: session.ExpiresAt.Add(time.Minute),
	})

	payment.Status = entity.PaymentStatusProcessing
	payment.SessionToken = session.SessionToken
	payment.SessionExpiresAt = session.ExpiresAt

	return &PaymentInitiation{
		Payment:     payment,
		RedirectURL: session.RedirectURL,
	}, nil
}

// HandleCallback применяет колбэк шлюза. Неизвестный заказ и неверная
// подпись отклоняются без какого-либо изменения состояния; повтор уже
// примененного колбэка идемпотентен и возвращает текущее состояние.
func (s *settlementService) HandleCallback(ctx context.Context, cb *entity.GatewayCallback) (*entity.Booking, error) {
	payment, err := s.paymentRepo.GetByOrderID(ctx, cb.MerchantPaymentID)
	if errors.Is(err, entity.ErrPaymentNotFound) {
		return nil, entity.ErrUnknownOrder
	}
	if err != nil {
		return nil, err
	}

	booking, err := s.bookingRepo.GetByID(ctx, payment.BookingID)
	if err != nil {
		return nil, err
	}

	if err := s.gateway.VerifyCallback(cb, booking.CustomerEmail, payment.SessionToken); err != nil {
		logrus.Warnf("Callback signature mismatch for order %s", cb.MerchantPaymentID)
		return nil, err
	}

	if payment.Status.IsFinal() {
		// Деньги могли списаться, а выпуск билетов — оборваться. Повтор
		// вебхука в этом случае дотягивает заказ до ticketed; остальные
		// повторы — no-op.
		if payment.Status == entity.PaymentStatusCompleted && booking.Status != entity.BookingStatusTicketed {
			if err := s.fulfill(ctx, booking); err != nil {
				logrus.Errorf("Fulfillment retry failed for booking %s: %v", booking.Reference, err)
				return nil, err
			}
			s.notify(ctx, booking, "tickets_issued", payment.Amount)
			return s.bookingRepo.GetByID(ctx, booking.ID)
		}
		return booking, nil
	}

	status := entity.PaymentStatusFailed
	if cb.Success() {
		status = entity.PaymentStatusCompleted
	}

	applied, err := s.paymentRepo.ApplyCallback(ctx, cb.MerchantPaymentID, status, cb)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Конкурирующий колбэк успел первым
		return s.bookingRepo.GetByID(ctx, payment.BookingID)
	}

	if cb.Success() {
		if err := s.fulfill(ctx, booking); err != nil {
			logrus.Errorf("Fulfillment failed for booking %s: %v", booking.Reference, err)
			return nil, err
		}
		s.notify(ctx, booking, "tickets_issued", payment.Amount)
	} else {
		// Заказ остается pending: бронь не закоммичена у провайдера и
		// оплату можно инициировать заново с новым orderID
		s.notify(ctx, booking, "payment_failed", payment.Amount)
	}

	return s.bookingRepo.GetByID(ctx, booking.ID)
}

// fulfill проводит бронь по цепочке prebook -> confirm -> выпуск
// билетов после успешной оплаты. Цепочка возобновляема: шаги, уже
// пройденные до обрыва, пропускаются по текущему статусу брони.
func (s *settlementService) fulfill(ctx context.Context, booking *entity.Booking) error {
	reservation, err := s.provider.GetReservation(ctx, booking.ReservationID)
	if err != nil {
		return fmt.Errorf("бронь недоступна: %w", err)
	}

	if reservation.Status == entity.ReservationStatusCreated {
		if err := s.provider.Prebook(ctx, booking.ReservationID); err != nil {
			return fmt.Errorf("prebook не удался: %w", err)
		}
		reservation.Status = entity.ReservationStatusPrebooked
	}

	if reservation.Status == entity.ReservationStatusPrebooked {
		reservation, err = s.provider.Confirm(ctx, booking.ReservationID)
		if err != nil {
			return fmt.Errorf("confirm не удался: %w", err)
		}
	}

	if err := s.bookingRepo.UpdateStatus(ctx, booking.ID, entity.BookingStatusConfirmed); err != nil {
		return err
	}

	tickets, err := s.provider.IssueTickets(ctx, booking.ReservationID, "pdf")
	if err != nil {
		return fmt.Errorf("выпуск билетов не удался: %w", err)
	}

	pnr := ""
	if len(reservation.Items) > 0 {
		pnr = reservation.Items[0].PNR
	}

	return s.bookingRepo.SetTicketArtifacts(ctx, booking.ID, pnr, tickets)
}

// Refund выполняет частичный или полный возврат. Сумма не может
// превысить остаток; накопление защищено оптимистичной записью.
func (s *settlementService) Refund(ctx context.Context, req *RefundRequest) (*entity.Booking, error) {
	booking, err := s.bookingRepo.GetByID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.PaymentID == "" {
		return nil, entity.ErrPaymentNotRefundable
	}

	payment, err := s.paymentRepo.GetByID(ctx, booking.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != entity.PaymentStatusCompleted &&
		payment.Status != entity.PaymentStatusPartiallyRefunded {
		return nil, entity.ErrPaymentNotRefundable
	}

	amount := pricing.Round2(req.Amount)
	remaining := pricing.Round2(payment.RemainingRefundable())
	if amount == 0 {
		amount = remaining
	}
	if amount <= 0 || amount > remaining {
		return nil, entity.ErrRefundExceedsBalance
	}

	refund, err := s.gateway.Refund(ctx, &gateway.RefundRequest{
		GatewayTxID: payment.GatewayTxID,
		Amount:      amount,
		Currency:    payment.Currency,
		Reason:      req.Reason,
	})
	if err != nil {
		return nil, err
	}

	// Платеж и заказ обновляются одной транзакцией репозитория
	if err := s.paymentRepo.ApplyRefund(ctx, payment.ID, booking.ID, payment.RefundedAmount, amount); err != nil {
		return nil, err
	}

	logrus.Infof("Refund %s of %.2f %s applied to booking %s",
		refund.RefundTxID, amount, payment.Currency, booking.Reference)
	s.notify(ctx, booking, "refund_processed", amount)

	return s.bookingRepo.GetByID(ctx, booking.ID)
}

func (s *settlementService) GetBooking(ctx context.Context, id string) (*entity.Booking, error) {
	return s.bookingRepo.GetByID(ctx, id)
}

func (s *settlementService) GetBookingByReference(ctx context.Context, reference string) (*entity.Booking, error) {
	return s.bookingRepo.GetByReference(ctx, reference)
}

func (s *settlementService) GetCustomerBookings(ctx context.Context, email string) ([]*entity.Booking, error) {
	return s.bookingRepo.GetByCustomerEmail(ctx, email)
}

func (s *settlementService) GetStats(ctx context.Context) (*entity.SettlementStats, error) {
	return s.bookingRepo.GetSettlementStats(ctx)
}

// ExpireAbandonedPayment закрывает платеж, зависший в processing после
// истечения сессии шлюза. Платеж, успевший завершиться, не трогается.
func (s *settlementService) ExpireAbandonedPayment(ctx context.Context, paymentID string) error {
	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}

	if payment.Status != entity.PaymentStatusProcessing {
		return nil
	}
	if time.Now().Before(payment.SessionExpiresAt) {
		return nil
	}

	err = s.paymentRepo.MarkFailed(ctx, payment.ID, "EXPIRED", "payment session expired without callback")
	if errors.Is(err, entity.ErrConcurrentUpdate) {
		// Колбэк пришел между проверкой и записью
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.bookingRepo.UpdateStatus(ctx, payment.BookingID, entity.BookingStatusExpired); err != nil {
		return err
	}

	logrus.Infof("Abandoned payment %s expired, booking %s closed", payment.ID, payment.BookingID)
	return nil
}

// ReconcileAbandonedPayments проходит по платежам с истекшей сессией
// шлюза пачками и закрывает их
func (s *settlementService) ReconcileAbandonedPayments(ctx context.Context, batchSize int) (int, error) {
	payments, err := s.paymentRepo.GetAbandoned(ctx, time.Now(), batchSize)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, payment := range payments {
		select {
		case <-ctx.Done():
			return closed, ctx.Err()
		default:
		}

		if err := s.ExpireAbandonedPayment(ctx, payment.ID); err != nil {
			logrus.Errorf("Failed to expire abandoned payment %s: %v", payment.ID, err)
			continue
		}
		closed++
	}

	return closed, nil
}

func (s *settlementService) notify(ctx context.Context, booking *entity.Booking, notificationType string, amount float64) {
	if s.tasks == nil {
		return
	}

	task := &Task{
		ID:   fmt.Sprintf("notify_%s_%s", notificationType, booking.ID),
		Type: TaskTypeSendNotification,
		Data: map[string]interface{}{
			"notification_type": notificationType,
			"booking_reference": booking.Reference,
			"customer_email":    booking.CustomerEmail,
			"amount":            amount,
			"currency":          booking.Currency,
		},
	}
	s.publishTask(ctx, task)
}

func (s *settlementService) publishTask(ctx context.Context, task *Task) {
	if s.tasks == nil {
		return
	}
	if err := s.tasks.Publish(ctx, task); err != nil {
		logrus.Errorf("Failed to publish task %s: %v", task.ID, err)
	}
}

// generateReference генерирует клиентский номер заказа вида
// ETB-20260901-X7K2Q9
func generateReference() string {
	suffix := strings.ToUpper(cache.GenerateToken("", 6))
	return fmt.Sprintf("ETB-%s-%s", time.Now().Format("20060102"), suffix)
}
