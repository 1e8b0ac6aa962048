package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/odamigo/eurotrain-booking/pkg/queue"
)

// QueueMonitor отдает сводку по очередям задач
type QueueMonitor interface {
	GetQueueStats(ctx context.Context) (*queue.QueueStats, error)
}

// OpsHandler обслуживает операционные ручки очереди задач: метрики
// очередей и разбор dead letter queue. Регистрируется, только когда
// приложение работает с очередью.
type OpsHandler struct {
	monitor QueueMonitor
	dlq     queue.DLQHandler
}

func NewOpsHandler(monitor QueueMonitor, dlq queue.DLQHandler) *OpsHandler {
	return &OpsHandler{monitor: monitor, dlq: dlq}
}

// GetQueueStats возвращает длины очередей и сводку по DLQ
func (h *OpsHandler) GetQueueStats(c *gin.Context) {
	stats, err := h.monitor.GetQueueStats(c.Request.Context())
	if err != nil {
		logrus.Errorf("Failed to get queue stats: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get queue stats"})
		return
	}

	dlqStats, err := h.dlq.GetDLQStats(c.Request.Context())
	if err != nil {
		logrus.Errorf("Failed to get DLQ stats: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get dlq stats"})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Queue stats retrieved successfully",
		Data: gin.H{
			"queues": stats,
			"dlq":    dlqStats,
		},
	})
}

// GetFailedTasks возвращает задачи из DLQ, новые первыми
func (h *OpsHandler) GetFailedTasks(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit parameter"})
		return
	}

	tasks, err := h.dlq.GetFailedTasks(c.Request.Context(), limit)
	if err != nil {
		logrus.Errorf("Failed to get failed tasks: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get failed tasks"})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Failed tasks retrieved successfully",
		Data:    tasks,
		Meta:    gin.H{"total": len(tasks)},
	})
}

// RequeueFailedTask возвращает задачу из DLQ в основную очередь со
// сброшенным счетчиком попыток
func (h *OpsHandler) RequeueFailedTask(c *gin.Context) {
	taskID := c.Param("taskId")

	if err := h.dlq.RequeueFailedTask(c.Request.Context(), taskID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found in dlq"})
			return
		}
		logrus.Errorf("Failed to requeue task %s: %v", taskID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to requeue task"})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Task requeued successfully",
	})
}

// DeleteFailedTask удаляет задачу из DLQ без повтора
func (h *OpsHandler) DeleteFailedTask(c *gin.Context) {
	taskID := c.Param("taskId")

	if err := h.dlq.DeleteFailedTask(c.Request.Context(), taskID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found in dlq"})
			return
		}
		logrus.Errorf("Failed to delete task %s: %v", taskID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete task"})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Task deleted successfully",
	})
}
