package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odamigo/eurotrain-booking/pkg/queue"
)

type stubQueueMonitor struct{}

func (m *stubQueueMonitor) GetQueueStats(ctx context.Context) (*queue.QueueStats, error) {
	return &queue.QueueStats{MainQueue: 3, DLQ: 1, Timestamp: time.Now()}, nil
}

type stubDLQ struct {
	requeued []string
}

func (d *stubDLQ) HandleFailedTask(task *queue.Task, err error) {}

func (d *stubDLQ) GetFailedTasks(ctx context.Context, limit int) ([]*queue.FailedTask, error) {
	return []*queue.FailedTask{
		{Task: &queue.Task{ID: "task-1"}, Error: "boom", FailedAt: time.Now()},
	}, nil
}

func (d *stubDLQ) RequeueFailedTask(ctx context.Context, taskID string) error {
	if taskID != "task-1" {
		return fmt.Errorf("task %s not found in DLQ", taskID)
	}
	d.requeued = append(d.requeued, taskID)
	return nil
}

func (d *stubDLQ) DeleteFailedTask(ctx context.Context, taskID string) error {
	if taskID != "task-1" {
		return fmt.Errorf("task %s not found in DLQ", taskID)
	}
	return nil
}

func (d *stubDLQ) GetDLQStats(ctx context.Context) (*queue.DLQStats, error) {
	return &queue.DLQStats{QueueSize: 1}, nil
}

func newOpsRouter(dlq *stubDLQ) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewOpsHandler(&stubQueueMonitor{}, dlq)

	router := gin.New()
	router.GET("/admin/queue/stats", h.GetQueueStats)
	router.GET("/admin/queue/dlq", h.GetFailedTasks)
	router.POST("/admin/queue/dlq/:taskId/requeue", h.RequeueFailedTask)
	router.DELETE("/admin/queue/dlq/:taskId", h.DeleteFailedTask)
	return router
}

// TestQueueStatsEndpoint проверяет сводку по очередям и DLQ
func TestQueueStatsEndpoint(t *testing.T) {
	router := newOpsRouter(&stubDLQ{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "main_queue")
	assert.Contains(t, w.Body.String(), "queue_size")
}

// TestFailedTasksEndpoint проверяет выдачу задач из DLQ
func TestFailedTasksEndpoint(t *testing.T) {
	router := newOpsRouter(&stubDLQ{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/queue/dlq", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "task-1")
}

// TestRequeueFailedTask проверяет возврат задачи в основную очередь и
// 404 для отсутствующей задачи
func TestRequeueFailedTask(t *testing.T) {
	dlq := &stubDLQ{}
	router := newOpsRouter(dlq)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/task-1/requeue", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"task-1"}, dlq.requeued)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/ghost/requeue", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
