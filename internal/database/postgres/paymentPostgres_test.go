package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odamigo/eurotrain-booking/internal/entity"
)

// TestPaymentCreateDuplicateOrder проверяет, что нарушение уникальности
// order_id превращается в ErrDuplicateOrder
func TestPaymentCreateDuplicateOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPaymentRepository(db)

	mock.ExpectExec("INSERT INTO payments").
		WillReturnError(&pq.Error{Code: "23505"})

	err = repo.Create(context.Background(), &entity.Payment{
		OrderID:  "order-1",
		Amount:   94.50,
		Currency: "EUR",
		Status:   entity.PaymentStatusPending,
	})

	assert.ErrorIs(t, err, entity.ErrDuplicateOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestMarkProcessingGuard проверяет охрану перехода pending -> processing
func TestMarkProcessingGuard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPaymentRepository(db)

	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.MarkProcessing(context.Background(), "pay-1", "sess-tok", []byte(`{}`), []byte(`{}`), time.Now().Add(30*time.Minute))
	require.NoError(t, err)

	// повторный вызов не находит строку в pending
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.MarkProcessing(context.Background(), "pay-1", "sess-tok", []byte(`{}`), []byte(`{}`), time.Now().Add(30*time.Minute))
	assert.ErrorIs(t, err, entity.ErrPaymentInProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyCallbackIdempotent проверяет, что повтор колбэка не изменяет
// ни одной строки и отличается результатом applied
func TestApplyCallbackIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPaymentRepository(db)
	cb := &entity.GatewayCallback{
		ResponseCode:      "00",
		MerchantPaymentID: "order-1",
		GatewayTxID:       "gw-tx-1",
		CardLastFour:      "4242",
		Raw:               []byte(`{"response_code":"00"}`),
	}

	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.ApplyCallback(context.Background(), "order-1", entity.PaymentStatusCompleted, cb)
	require.NoError(t, err)
	assert.True(t, applied)

	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err = repo.ApplyCallback(context.Background(), "order-1", entity.PaymentStatusCompleted, cb)
	require.NoError(t, err)
	assert.False(t, applied, "replayed callback must not be applied twice")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyRefundSingleTransaction проверяет, что платеж и заказ
// обновляются одной транзакцией
func TestApplyRefundSingleTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bookings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ApplyRefund(context.Background(), "pay-1", "bk-1", 0, 40))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyRefundConcurrent проверяет оптимистичную охрану по
// наблюдавшейся сумме возврата: при проигрыше гонки транзакция
// откатывается целиком
func TestApplyRefundConcurrent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPaymentRepository(db)

	// конкурирующий возврат изменил refunded_amount между чтением и записью
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = repo.ApplyRefund(context.Background(), "pay-1", "bk-1", 0, 40)
	assert.ErrorIs(t, err, entity.ErrConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyRefundRollsBackOnBookingFailure проверяет, что сбой записи
// на заказе откатывает и запись на платеже
func TestApplyRefundRollsBackOnBookingFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPaymentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bookings").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = repo.ApplyRefund(context.Background(), "pay-1", "bk-missing", 0, 40)
	assert.ErrorIs(t, err, entity.ErrBookingNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGetByOrderID проверяет маппинг строки в Payment и ErrPaymentNotFound
func TestGetByOrderID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPaymentRepository(db)
	now := time.Now()

	columns := []string{
		"id", "order_id", "booking_id", "amount", "currency", "status",
		"session_token", "gateway_tx_id", "card_last_four", "card_brand", "three_d_secure",
		"refunded_amount", "error_code", "error_message",
		"raw_request", "raw_response", "raw_callback",
		"retry_count", "session_expires_at", "created_at", "updated_at",
	}

	mock.ExpectQuery("SELECT (.+) FROM payments WHERE order_id").
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"pay-1", "order-1", "bk-1", 94.50, "EUR", "completed",
			"sess-tok", "gw-tx-1", "4242", "visa", true,
			40.0, nil, nil,
			[]byte(`{}`), []byte(`{}`), []byte(`{}`),
			0, now.Add(30*time.Minute), now, now,
		))

	payment, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)

	assert.Equal(t, "pay-1", payment.ID)
	assert.Equal(t, entity.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "4242", payment.CardLastFour)
	assert.InDelta(t, 54.50, payment.RemainingRefundable(), 0.001)

	mock.ExpectQuery("SELECT (.+) FROM payments WHERE order_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err = repo.GetByOrderID(context.Background(), "missing")
	assert.ErrorIs(t, err, entity.ErrPaymentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
