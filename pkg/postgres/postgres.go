package postgres

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/odamigo/eurotrain-booking/config"

	_ "github.com/lib/pq"
)

func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL")
	return db, nil
}

func RunMigrations(db *sql.DB) error {
	// Read migration files and execute them
	// This is a simplified version - you might want to use a proper migration tool
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			id UUID PRIMARY KEY,
			order_id VARCHAR(64) UNIQUE NOT NULL,
			booking_id UUID NOT NULL,
			amount NUMERIC(12,2) NOT NULL,
			currency CHAR(3) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			session_token VARCHAR(128),
			gateway_tx_id VARCHAR(64),
			card_last_four VARCHAR(4),
			card_brand VARCHAR(20),
			three_d_secure BOOLEAN NOT NULL DEFAULT FALSE,
			refunded_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			error_code VARCHAR(10),
			error_message TEXT,
			raw_request JSONB,
			raw_response JSONB,
			raw_callback JSONB,
			retry_count INTEGER NOT NULL DEFAULT 0,
			session_expires_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id UUID PRIMARY KEY,
			reference VARCHAR(32) UNIQUE NOT NULL,
			pnr VARCHAR(10),
			reservation_id VARCHAR(64) NOT NULL,
			payment_id UUID,
			customer_name VARCHAR(255) NOT NULL,
			customer_email VARCHAR(255) NOT NULL,
			origin VARCHAR(255) NOT NULL,
			destination VARCHAR(255) NOT NULL,
			departure_at TIMESTAMP NOT NULL,
			arrival_at TIMESTAMP NOT NULL,
			breakdown JSONB NOT NULL,
			total_price NUMERIC(12,2) NOT NULL,
			currency CHAR(3) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			refunded_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			tickets JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS campaigns (
			id UUID PRIMARY KEY,
			code VARCHAR(32) UNIQUE NOT NULL,
			description TEXT,
			target VARCHAR(10) NOT NULL,
			type VARCHAR(12) NOT NULL,
			value NUMERIC(12,2) NOT NULL,
			max_discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			valid_from TIMESTAMP,
			valid_until TIMESTAMP,
			usage_limit INTEGER NOT NULL DEFAULT 0,
			used_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_booking_id ON payments(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_session_expires ON payments(status, session_expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_reference ON bookings(reference)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_payment_id ON bookings(payment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_customer_email ON bookings(customer_email)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_code ON campaigns(code)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %v", err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}
