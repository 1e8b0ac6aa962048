package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/odamigo/eurotrain-booking/internal/entity"
)

const paymentColumns = `
	id, order_id, booking_id, amount, currency, status,
	session_token, gateway_tx_id, card_last_four, card_brand, three_d_secure,
	refunded_amount, error_code, error_message,
	raw_request, raw_response, raw_callback,
	retry_count, session_expires_at, created_at, updated_at
`

type paymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create создает платежную запись. order_id уникален: повторная вставка
// с тем же order_id возвращает ErrDuplicateOrder, не вторую запись.
func (r *paymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}

	query := `
		INSERT INTO payments (
			id, order_id, booking_id, amount, currency, status,
			refunded_amount, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $7)
	`

	now := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.BookingID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		now,
	)

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return entity.ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("failed to create payment: %v", err)
	}

	payment.CreatedAt = now
	payment.UpdatedAt = now
	return nil
}

func (r *paymentRepository) GetByID(ctx context.Context, id string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *paymentRepository) GetByOrderID(ctx context.Context, orderID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, orderID))
}

// MarkProcessing переводит платеж pending -> processing и сохраняет токен
// сессии шлюза. Переход охраняется статусом: повторный вызов или вызов
// по завершенному платежу возвращает ErrPaymentInProgress.
func (r *paymentRepository) MarkProcessing(ctx context.Context, id, sessionToken string, rawRequest, rawResponse []byte, sessionExpiresAt time.Time) error {
	query := `
		UPDATE payments
		SET status = $1, session_token = $2, raw_request = $3, raw_response = $4,
		    session_expires_at = $5, updated_at = $6
		WHERE id = $7 AND status = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		entity.PaymentStatusProcessing,
		sessionToken,
		rawRequest,
		rawResponse,
		sessionExpiresAt,
		time.Now(),
		id,
		entity.PaymentStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark payment processing: %v", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if rows == 0 {
		return entity.ErrPaymentInProgress
	}
	return nil
}

// ApplyCallback применяет колбэк шлюза к платежу. Условие status =
// 'processing' делает применение идемпотентным: повтор того же колбэка
// не затрагивает ни одной строки, и метод возвращает (false, nil) —
// «уже применено». Второй результат true означает первое применение.
func (r *paymentRepository) ApplyCallback(ctx context.Context, orderID string, status entity.PaymentStatus, cb *entity.GatewayCallback) (bool, error) {
	query := `
		UPDATE payments
		SET status = $1, gateway_tx_id = $2, card_last_four = $3, card_brand = $4,
		    three_d_secure = $5, error_code = $6, raw_callback = $7, updated_at = $8
		WHERE order_id = $9 AND status = $10
	`

	errorCode := ""
	if !cb.Success() {
		errorCode = cb.ResponseCode
	}

	result, err := r.db.ExecContext(ctx, query,
		status,
		cb.GatewayTxID,
		cb.CardLastFour,
		cb.CardBrand,
		cb.ThreeDSecure,
		errorCode,
		[]byte(cb.Raw),
		time.Now(),
		orderID,
		entity.PaymentStatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply callback: %v", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %v", err)
	}
	return rows > 0, nil
}

func (r *paymentRepository) MarkFailed(ctx context.Context, id, errorCode, errorMessage string) error {
	query := `
		UPDATE payments
		SET status = $1, error_code = $2, error_message = $3, updated_at = $4
		WHERE id = $5 AND status NOT IN ($6, $7, $8)
	`

	result, err := r.db.ExecContext(ctx, query,
		entity.PaymentStatusFailed,
		errorCode,
		errorMessage,
		time.Now(),
		id,
		entity.PaymentStatusCompleted,
		entity.PaymentStatusRefunded,
		entity.PaymentStatusPartiallyRefunded,
	)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %v", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if rows == 0 {
		return entity.ErrConcurrentUpdate
	}
	return nil
}

func (r *paymentRepository) IncrementRetry(ctx context.Context, id string) error {
	query := `UPDATE payments SET retry_count = retry_count + 1, updated_at = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, time.Now(), id); err != nil {
		return fmt.Errorf("failed to increment retry count: %v", err)
	}
	return nil
}

// ApplyRefund увеличивает накопленную сумму возврата оптимистично:
// условие refunded_amount = observedRefunded отбрасывает запись, если
// между чтением и записью прошел конкурирующий возврат. Платеж и заказ
// обновляются одной транзакцией: сумма возврата на заказе не может
// разойтись с платежом, даже если процесс упадет между записями.
func (r *paymentRepository) ApplyRefund(ctx context.Context, paymentID, bookingID string, observedRefunded, refundAmount float64) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	now := time.Now()

	paymentQuery := `
		UPDATE payments
		SET refunded_amount = refunded_amount + $1,
		    status = CASE WHEN refunded_amount + $1 >= amount THEN $2 ELSE $3 END,
		    updated_at = $4
		WHERE id = $5
		  AND refunded_amount = $6
		  AND status IN ($7, $8)
		  AND refunded_amount + $1 <= amount
	`

	result, err := tx.ExecContext(ctx, paymentQuery,
		refundAmount,
		entity.PaymentStatusRefunded,
		entity.PaymentStatusPartiallyRefunded,
		now,
		paymentID,
		observedRefunded,
		entity.PaymentStatusCompleted,
		entity.PaymentStatusPartiallyRefunded,
	)
	if err != nil {
		return fmt.Errorf("failed to apply refund: %v", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if rows == 0 {
		return entity.ErrConcurrentUpdate
	}

	bookingQuery := `
		UPDATE bookings
		SET refunded_amount = refunded_amount + $1,
		    status = CASE WHEN refunded_amount + $1 >= total_price THEN $2 ELSE $3 END,
		    updated_at = $4
		WHERE id = $5
	`

	result, err = tx.ExecContext(ctx, bookingQuery,
		refundAmount,
		entity.BookingStatusRefunded,
		entity.BookingStatusPartiallyRefunded,
		now,
		bookingID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply booking refund: %v", err)
	}

	rows, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if rows == 0 {
		return entity.ErrBookingNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}
	return nil
}

// GetAbandoned возвращает платежи, застрявшие в processing после
// истечения сессии шлюза. Используется воркером сверки.
func (r *paymentRepository) GetAbandoned(ctx context.Context, before time.Time, limit int) ([]*entity.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = $1 AND session_expires_at < $2
		ORDER BY session_expires_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, entity.PaymentStatusProcessing, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get abandoned payments: %v", err)
	}
	defer rows.Close()

	return r.scanList(rows)
}

func (r *paymentRepository) GetByStatus(ctx context.Context, status entity.PaymentStatus) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE status = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments by status: %v", err)
	}
	defer rows.Close()

	return r.scanList(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row rowScanner) (*entity.Payment, error) {
	var payment entity.Payment
	var sessionToken, gatewayTxID, cardLastFour, cardBrand sql.NullString
	var errorCode, errorMessage sql.NullString
	var rawRequest, rawResponse, rawCallback []byte
	var sessionExpiresAt sql.NullTime

	err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.BookingID,
		&payment.Amount,
		&payment.Currency,
		&payment.Status,
		&sessionToken,
		&gatewayTxID,
		&cardLastFour,
		&cardBrand,
		&payment.ThreeDSecure,
		&payment.RefundedAmount,
		&errorCode,
		&errorMessage,
		&rawRequest,
		&rawResponse,
		&rawCallback,
		&payment.RetryCount,
		&sessionExpiresAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	payment.SessionToken = sessionToken.String
	payment.GatewayTxID = gatewayTxID.String
	payment.CardLastFour = cardLastFour.String
	payment.CardBrand = cardBrand.String
	payment.ErrorCode = errorCode.String
	payment.ErrorMessage = errorMessage.String
	payment.RawRequest = rawRequest
	payment.RawResponse = rawResponse
	payment.RawCallback = rawCallback
	payment.SessionExpiresAt = sessionExpiresAt.Time

	return &payment, nil
}

func (r *paymentRepository) scanOne(row *sql.Row) (*entity.Payment, error) {
	payment, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, entity.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %v", err)
	}
	return payment, nil
}

func (r *paymentRepository) scanList(rows *sql.Rows) ([]*entity.Payment, error) {
	var payments []*entity.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %v", err)
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}
