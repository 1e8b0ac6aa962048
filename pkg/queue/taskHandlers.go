package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/odamigo/eurotrain-booking/pkg/rabbitMQ"
)

// PaymentReconciler закрывает брошенные платежи. Реализуется
// settlement-сервисом.
type PaymentReconciler interface {
	ExpireAbandonedPayment(ctx context.Context, paymentID string) error
	ReconcileAbandonedPayments(ctx context.Context, batchSize int) (int, error)
}

// CacheSweeper вычищает истекшие записи кэша
type CacheSweeper interface {
	EvictExpired() int
}

// TaskHandler обрабатывает задачи из очереди
type TaskHandler struct {
	reconciler PaymentReconciler
	sweeper    CacheSweeper
	notifier   rabbitMQ.Publisher
	batchSize  int
}

// NewTaskHandler создает новый обработчик задач
func NewTaskHandler(
	reconciler PaymentReconciler,
	sweeper CacheSweeper,
	notifier rabbitMQ.Publisher,
	batchSize int,
) *TaskHandler {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &TaskHandler{
		reconciler: reconciler,
		sweeper:    sweeper,
		notifier:   notifier,
		batchSize:  batchSize,
	}
}

// HandleTask обрабатывает задачу
func (h *TaskHandler) HandleTask(task *Task) error {
	log.Printf("Обработка задачи %s типа %s (попытка %d/%d)",
		task.ID, task.Type, task.Attempts, task.MaxRetries)

	switch task.Type {
	case TaskTypeExpirePayment:
		return h.handleExpirePayment(task)
	case TaskTypeSendNotification:
		return h.handleSendNotification(task)
	case TaskTypeSweepCache:
		return h.handleSweepCache(task)
	case TaskTypeReconcilePayments:
		return h.handleReconcilePayments(task)
	default:
		return fmt.Errorf("неизвестный тип задачи: %s", task.Type)
	}
}

// handleExpirePayment закрывает платеж, по которому сессия шлюза истекла
// без колбэка. Задача ставится с задержкой при инициации платежа.
func (h *TaskHandler) handleExpirePayment(task *Task) error {
	ctx := context.Background()

	paymentID := task.GetString("payment_id")
	if paymentID == "" {
		return fmt.Errorf("неверный payment_id в данных задачи")
	}

	sessionExpiresAt := task.GetTime("session_expires_at")
	if !sessionExpiresAt.IsZero() && time.Now().Before(sessionExpiresAt) {
		log.Printf("Сессия платежа %s еще не истекла (истекает в: %s)",
			paymentID, sessionExpiresAt.Format(time.RFC3339))
		return nil
	}

	if err := h.reconciler.ExpireAbandonedPayment(ctx, paymentID); err != nil {
		return fmt.Errorf("не удалось закрыть платеж %s: %v", paymentID, err)
	}

	log.Printf("Брошенный платеж %s закрыт", paymentID)
	return nil
}

// handleSendNotification отправляет уведомление во внешнюю очередь
func (h *TaskHandler) handleSendNotification(task *Task) error {
	if h.notifier == nil {
		log.Printf("Уведомления отключены, задача %s пропущена", task.ID)
		return nil
	}

	ctx := context.Background()

	notification := rabbitMQ.Notification{
		Type:             rabbitMQ.NotificationType(task.GetString("notification_type")),
		BookingReference: task.GetString("booking_reference"),
		CustomerEmail:    task.GetString("customer_email"),
		Amount:           task.GetFloat("amount"),
		Currency:         task.GetString("currency"),
		OccurredAt:       time.Now(),
	}

	if notification.Type == "" {
		return fmt.Errorf("неверный notification_type в данных задачи")
	}

	if err := h.notifier.Publish(ctx, notification); err != nil {
		return fmt.Errorf("не удалось отправить уведомление: %v", err)
	}

	log.Printf("Уведомление %s для заказа %s отправлено",
		notification.Type, notification.BookingReference)
	return nil
}

// handleSweepCache вычищает истекшие записи кэша
func (h *TaskHandler) handleSweepCache(task *Task) error {
	if h.sweeper == nil {
		return nil
	}

	evicted := h.sweeper.EvictExpired()
	if evicted > 0 {
		log.Printf("Вычищено %d истекших записей кэша", evicted)
	}
	return nil
}

// handleReconcilePayments проходит по всем платежам, зависшим в
// processing после истечения сессии шлюза
func (h *TaskHandler) handleReconcilePayments(task *Task) error {
	ctx := context.Background()

	closed, err := h.reconciler.ReconcileAbandonedPayments(ctx, h.batchSize)
	if err != nil {
		return fmt.Errorf("сверка брошенных платежей не удалась: %v", err)
	}

	if closed > 0 {
		log.Printf("Сверка закрыла %d брошенных платежей", closed)
	}
	return nil
}
