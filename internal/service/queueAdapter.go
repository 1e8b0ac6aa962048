package service

import (
	"context"
	"time"

	"github.com/odamigo/eurotrain-booking/pkg/queue"
)

// TaskPublisher интерфейс для публикации задач в очередь
type TaskPublisher interface {
	Publish(ctx context.Context, task *Task) error
}

// Task представляет задачу для очереди
type Task struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	ExecuteAt  time.Time              `json:"execute_at"`
	MaxRetries int                    `json:"max_retries"`
	Attempts   int                    `json:"attempts"`
}

// Константы типов задач
const (
	TaskTypeExpirePayment    = "expire_payment"
	TaskTypeSendNotification = "send_notification"
)

// QueueAdapter адаптирует queue.Queue к TaskPublisher интерфейсу
type QueueAdapter struct {
	queue queue.Queue
}

// NewQueueAdapter создает новый адаптер для очереди
func NewQueueAdapter(q queue.Queue) *QueueAdapter {
	return &QueueAdapter{queue: q}
}

// Publish публикует задачу, преобразуя service.Task в queue.Task
func (a *QueueAdapter) Publish(ctx context.Context, task *Task) error {
	if a.queue == nil {
		return nil // Если очередь не инициализирована, игнорируем
	}

	queueTask := &queue.Task{
		ID:         task.ID,
		Type:       queue.TaskType(task.Type),
		Data:       task.Data,
		ExecuteAt:  task.ExecuteAt,
		MaxRetries: task.MaxRetries,
		Attempts:   task.Attempts,
	}

	return a.queue.Publish(ctx, queueTask)
}
