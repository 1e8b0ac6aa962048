package entity

import (
	"time"
)

// SettlementStats содержит сводную статистику по заказам и платежам
// для административных выборок.
type SettlementStats struct {
	TotalBookings    int64                   `json:"total_bookings"`
	BookingsByStatus map[BookingStatus]int64 `json:"bookings_by_status"`
	PaymentsByStatus map[PaymentStatus]int64 `json:"payments_by_status"`
	GrossRevenue     float64                 `json:"gross_revenue"`
	RefundedTotal    float64                 `json:"refunded_total"`
	NetRevenue       float64                 `json:"net_revenue"`
	AverageOrder     float64                 `json:"average_order"`
	DailyBookings    int64                   `json:"daily_bookings"`
	WeeklyBookings   int64                   `json:"weekly_bookings"`
	GeneratedAt      time.Time               `json:"generated_at"`
}

// RefundRate вычисляет долю возвращенных средств от валовой выручки
func (s *SettlementStats) RefundRate() float64 {
	if s.GrossRevenue == 0 {
		return 0.0
	}
	return s.RefundedTotal / s.GrossRevenue
}

// ConversionRate вычисляет долю заказов, дошедших до выписки билетов
func (s *SettlementStats) ConversionRate() float64 {
	if s.TotalBookings == 0 {
		return 0.0
	}
	completed := s.BookingsByStatus[BookingStatusTicketed] +
		s.BookingsByStatus[BookingStatusRefunded] +
		s.BookingsByStatus[BookingStatusPartiallyRefunded]
	return float64(completed) / float64(s.TotalBookings)
}
