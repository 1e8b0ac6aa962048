package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odamigo/eurotrain-booking/internal/entity"
)

const bookingColumns = `
	id, reference, pnr, reservation_id, payment_id,
	customer_name, customer_email,
	origin, destination, departure_at, arrival_at,
	breakdown, total_price, currency, status, refunded_amount,
	tickets, created_at, updated_at
`

type bookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) BookingRepository {
	return &bookingRepository{db: db}
}

// Create создает заказ в транзакции. Если заказ использует промокод,
// счетчик использований кампании увеличивается той же транзакцией:
// заказ и инкремент либо фиксируются вместе, либо откатываются вместе.
func (r *bookingRepository) Create(ctx context.Context, booking *entity.Booking, promoCode string) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}

	breakdown, err := json.Marshal(booking.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %v", err)
	}

	query := `
		INSERT INTO bookings (
			id, reference, reservation_id, payment_id,
			customer_name, customer_email,
			origin, destination, departure_at, arrival_at,
			breakdown, total_price, currency, status, refunded_amount,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 0, $15, $15)
	`

	now := time.Now()
	_, err = tx.ExecContext(ctx, query,
		booking.ID,
		booking.Reference,
		booking.ReservationID,
		booking.PaymentID,
		booking.CustomerName,
		booking.CustomerEmail,
		booking.Origin,
		booking.Destination,
		booking.DepartureAt,
		booking.ArrivalAt,
		breakdown,
		booking.TotalPrice,
		booking.Currency,
		booking.Status,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %v", err)
	}

	if promoCode != "" {
		result, err := tx.ExecContext(ctx, `
			UPDATE campaigns
			SET used_count = used_count + 1
			WHERE code = $1 AND active = true
			  AND (valid_from IS NULL OR valid_from <= NOW())
			  AND (valid_until IS NULL OR valid_until >= NOW())
			  AND (usage_limit = 0 OR used_count < usage_limit)
		`, promoCode)
		if err != nil {
			return fmt.Errorf("failed to increment campaign usage: %v", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %v", err)
		}
		if rows == 0 {
			return entity.ErrCampaignNotApplicable
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	booking.CreatedAt = now
	booking.UpdatedAt = now
	return nil
}

func (r *bookingRepository) GetByID(ctx context.Context, id string) (*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *bookingRepository) GetByReference(ctx context.Context, reference string) (*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE reference = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, reference))
}

func (r *bookingRepository) GetByPaymentID(ctx context.Context, paymentID string) (*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE payment_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, paymentID))
}

func (r *bookingRepository) UpdateStatus(ctx context.Context, id string, status entity.BookingStatus) error {
	query := `UPDATE bookings SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %v", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if rows == 0 {
		return entity.ErrBookingNotFound
	}
	return nil
}

func (r *bookingRepository) SetPayment(ctx context.Context, id, paymentID string) error {
	query := `UPDATE bookings SET payment_id = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, paymentID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set booking payment: %v", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if rows == 0 {
		return entity.ErrBookingNotFound
	}
	return nil
}

// SetTicketArtifacts сохраняет PNR и выпущенные билеты и переводит
// заказ в ticketed
func (r *bookingRepository) SetTicketArtifacts(ctx context.Context, id, pnr string, tickets []entity.TicketArtifact) error {
	payload, err := json.Marshal(tickets)
	if err != nil {
		return fmt.Errorf("failed to marshal tickets: %v", err)
	}

	query := `
		UPDATE bookings
		SET pnr = $1, tickets = $2, status = $3, updated_at = $4
		WHERE id = $5
	`

	result, err := r.db.ExecContext(ctx, query, pnr, payload, entity.BookingStatusTicketed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set ticket artifacts: %v", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if rows == 0 {
		return entity.ErrBookingNotFound
	}
	return nil
}

func (r *bookingRepository) GetByCustomerEmail(ctx context.Context, email string) ([]*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE customer_email = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by email: %v", err)
	}
	defer rows.Close()

	return r.scanList(rows)
}

func (r *bookingRepository) GetByStatus(ctx context.Context, status entity.BookingStatus) ([]*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by status: %v", err)
	}
	defer rows.Close()

	return r.scanList(rows)
}

func (r *bookingRepository) GetRecentBookings(ctx context.Context, limit int) ([]*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent bookings: %v", err)
	}
	defer rows.Close()

	return r.scanList(rows)
}

// GetSettlementStats собирает сводную статистику по заказам и платежам
func (r *bookingRepository) GetSettlementStats(ctx context.Context) (*entity.SettlementStats, error) {
	stats := &entity.SettlementStats{
		BookingsByStatus: make(map[entity.BookingStatus]int64),
		PaymentsByStatus: make(map[entity.PaymentStatus]int64),
		GeneratedAt:      time.Now(),
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM bookings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking stats: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status entity.BookingStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan booking stats: %v", err)
		}
		stats.BookingsByStatus[status] = count
		stats.TotalBookings += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	payRows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM payments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment stats: %v", err)
	}
	defer payRows.Close()

	for payRows.Next() {
		var status entity.PaymentStatus
		var count int64
		if err := payRows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan payment stats: %v", err)
		}
		stats.PaymentsByStatus[status] = count
	}
	if err := payRows.Err(); err != nil {
		return nil, err
	}

	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE status IN ($1, $2, $3)), 0),
			COALESCE(SUM(refunded_amount), 0),
			COALESCE(AVG(amount) FILTER (WHERE status IN ($1, $2, $3)), 0)
		FROM payments
	`
	err = r.db.QueryRowContext(ctx, query,
		entity.PaymentStatusCompleted,
		entity.PaymentStatusRefunded,
		entity.PaymentStatusPartiallyRefunded,
	).Scan(&stats.GrossRevenue, &stats.RefundedTotal, &stats.AverageOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to get revenue stats: %v", err)
	}
	stats.NetRevenue = stats.GrossRevenue - stats.RefundedTotal

	periodQuery := `
		SELECT
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '1 day'),
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '7 days')
		FROM bookings
	`
	err = r.db.QueryRowContext(ctx, periodQuery).Scan(&stats.DailyBookings, &stats.WeeklyBookings)
	if err != nil {
		return nil, fmt.Errorf("failed to get period stats: %v", err)
	}

	return stats, nil
}

func scanBooking(row rowScanner) (*entity.Booking, error) {
	var booking entity.Booking
	var pnr, paymentID sql.NullString
	var breakdown, tickets []byte

	err := row.Scan(
		&booking.ID,
		&booking.Reference,
		&pnr,
		&booking.ReservationID,
		&paymentID,
		&booking.CustomerName,
		&booking.CustomerEmail,
		&booking.Origin,
		&booking.Destination,
		&booking.DepartureAt,
		&booking.ArrivalAt,
		&breakdown,
		&booking.TotalPrice,
		&booking.Currency,
		&booking.Status,
		&booking.RefundedAmount,
		&tickets,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	booking.PNR = pnr.String
	booking.PaymentID = paymentID.String

	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &booking.Breakdown); err != nil {
			return nil, fmt.Errorf("failed to unmarshal breakdown: %v", err)
		}
	}
	if len(tickets) > 0 {
		if err := json.Unmarshal(tickets, &booking.Tickets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tickets: %v", err)
		}
	}

	return &booking, nil
}

func (r *bookingRepository) scanOne(row *sql.Row) (*entity.Booking, error) {
	booking, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, entity.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %v", err)
	}
	return booking, nil
}

func (r *bookingRepository) scanList(rows *sql.Rows) ([]*entity.Booking, error) {
	var bookings []*entity.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %v", err)
		}
		bookings = append(bookings, booking)
	}
	return bookings, rows.Err()
}
