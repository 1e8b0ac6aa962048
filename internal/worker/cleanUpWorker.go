package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/odamigo/eurotrain-booking/internal/cache"
	"github.com/odamigo/eurotrain-booking/internal/service"
)

// CleanupWorker периодически вычищает истекшие записи кэша и закрывает
// платежи, по которым сессия шлюза истекла без колбэка. Работает как
// страховка на случай, если очередь задач выключена или отстает.
type CleanupWorker struct {
	settlementService service.SettlementService
	cache             cache.Cache
	interval          time.Duration
	batchSize         int
}

func NewCleanupWorker(settlementService service.SettlementService, c cache.Cache, interval time.Duration, batchSize int) *CleanupWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &CleanupWorker{
		settlementService: settlementService,
		cache:             c,
		interval:          interval,
		batchSize:         batchSize,
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logrus.Info("Cleanup worker started")

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Cleanup worker stopped")
			return
		case <-ticker.C:
			w.sweepCache()
			w.reconcilePayments(ctx)
		}
	}
}

// sweepCache вычищает истекшие предложения и сессии оформления
func (w *CleanupWorker) sweepCache() {
	evicted := w.cache.EvictExpired()
	if evicted > 0 {
		logrus.Infof("Evicted %d expired cache entries", evicted)
	}
}

// reconcilePayments закрывает брошенные платежи пачками
func (w *CleanupWorker) reconcilePayments(ctx context.Context) {
	closed, err := w.settlementService.ReconcileAbandonedPayments(ctx, w.batchSize)
	if err != nil {
		logrus.Errorf("Failed to reconcile abandoned payments: %v", err)
		return
	}

	if closed == 0 {
		logrus.Debug("No abandoned payments found")
		return
	}

	logrus.Infof("Abandoned payments reconciliation completed: %d closed", closed)
}

// GetStats возвращает статистику работы воркера
func (w *CleanupWorker) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"worker_type": "settlement_cleanup",
		"interval":    w.interval.String(),
		"batch_size":  w.batchSize,
		"status":      "running",
	}
}
