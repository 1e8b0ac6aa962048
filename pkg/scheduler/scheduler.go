package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/odamigo/eurotrain-booking/pkg/queue"
)

// Scheduler периодически ставит в очередь служебные задачи: сверку
// брошенных платежей и вычистку кэша.
type Scheduler struct {
	taskQueue queue.Queue
	interval  time.Duration
}

func NewScheduler(taskQueue queue.Queue, interval time.Duration) *Scheduler {
	return &Scheduler{
		taskQueue: taskQueue,
		interval:  interval,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.enqueue(ctx, queue.TaskTypeReconcilePayments)
			s.enqueue(ctx, queue.TaskTypeSweepCache)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context, taskType queue.TaskType) {
	task := &queue.Task{
		ID:   fmt.Sprintf("%s_%d", taskType, time.Now().UnixNano()),
		Type: taskType,
		Data: map[string]interface{}{},
	}
	if err := s.taskQueue.Publish(ctx, task); err != nil {
		fmt.Printf("Error scheduling %s task: %v\n", taskType, err)
	}
}
