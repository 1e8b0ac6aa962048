package provider

import (
	"context"
	"testing"
	"time"

	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReservation(t *testing.T, p *MockProvider, items int) *entity.Reservation {
	t.Helper()

	offers := make([]OfferRef, 0, items)
	for i := 0; i < items; i++ {
		offers = append(offers, OfferRef{
			OfferID:         "off_test",
			ProviderOfferID: "mock-db-0",
			Price:           59.90,
			Currency:        "EUR",
		})
	}

	reservation, err := p.CreateReservation(context.Background(), offers)
	require.NoError(t, err)
	require.Equal(t, entity.ReservationStatusCreated, reservation.Status)
	require.Len(t, reservation.Items, items)
	return reservation
}

// TestReservationLifecycle проверяет полный путь created → prebooked → invoiced
func TestReservationLifecycle(t *testing.T) {
	p := NewMockProvider(0)
	ctx := context.Background()

	reservation := newTestReservation(t, p, 1)

	travelers := []entity.Traveler{{FirstName: "Anna", LastName: "Schmidt", Email: "anna@example.com"}}
	require.NoError(t, p.AttachTravelers(ctx, reservation.ID, reservation.Items[0].ID, travelers))

	require.NoError(t, p.Prebook(ctx, reservation.ID))

	confirmed, err := p.Confirm(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ReservationStatusInvoiced, confirmed.Status)
	for _, item := range confirmed.Items {
		assert.NotEmpty(t, item.PNR)
	}

	tickets, err := p.IssueTickets(ctx, reservation.ID, "pdf")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "pdf", tickets[0].Format)
}

// TestConfirmRequiresPrebooked проверяет, что confirm на свежей брони
// отклоняется по предусловию
func TestConfirmRequiresPrebooked(t *testing.T) {
	p := NewMockProvider(0)
	reservation := newTestReservation(t, p, 1)

	_, err := p.Confirm(context.Background(), reservation.ID)
	require.Error(t, err)
	assert.True(t, entity.IsPrecondition(err))
}

// TestPrebookRejectsRepeat проверяет, что повторный prebook отклоняется
func TestPrebookRejectsRepeat(t *testing.T) {
	p := NewMockProvider(0)
	ctx := context.Background()
	reservation := newTestReservation(t, p, 1)

	require.NoError(t, p.Prebook(ctx, reservation.ID))

	err := p.Prebook(ctx, reservation.ID)
	require.Error(t, err)
	assert.True(t, entity.IsPrecondition(err))
}

// TestDeleteItemGuards проверяет охраны удаления позиции
func TestDeleteItemGuards(t *testing.T) {
	p := NewMockProvider(0)
	ctx := context.Background()

	t.Run("last item cannot be deleted", func(t *testing.T) {
		reservation := newTestReservation(t, p, 1)
		err := p.DeleteItem(ctx, reservation.ID, reservation.Items[0].ID)
		assert.ErrorIs(t, err, entity.ErrLastItem)
	})

	t.Run("delete allowed while prebooked", func(t *testing.T) {
		reservation := newTestReservation(t, p, 2)
		require.NoError(t, p.Prebook(ctx, reservation.ID))
		require.NoError(t, p.DeleteItem(ctx, reservation.ID, reservation.Items[0].ID))

		got, err := p.GetReservation(ctx, reservation.ID)
		require.NoError(t, err)
		assert.Len(t, got.Items, 1)
		assert.InDelta(t, 59.90, got.TotalPrice, 0.001)
	})

	t.Run("delete rejected after invoicing", func(t *testing.T) {
		reservation := newTestReservation(t, p, 2)
		require.NoError(t, p.Prebook(ctx, reservation.ID))
		_, err := p.Confirm(ctx, reservation.ID)
		require.NoError(t, err)

		err = p.DeleteItem(ctx, reservation.ID, reservation.Items[0].ID)
		assert.True(t, entity.IsPrecondition(err))
	})
}

// TestIssueTicketsRequiresInvoiced проверяет охрану выписки билетов
func TestIssueTicketsRequiresInvoiced(t *testing.T) {
	p := NewMockProvider(0)
	reservation := newTestReservation(t, p, 1)

	_, err := p.IssueTickets(context.Background(), reservation.ID, "pdf")
	require.Error(t, err)
	assert.True(t, entity.IsPrecondition(err))
}

// TestRefundQuoteTwoPhase проверяет двухфазный возврат с истечением котировки
func TestRefundQuoteTwoPhase(t *testing.T) {
	p := NewMockProvider(0)
	ctx := context.Background()

	invoiced := func() *entity.Reservation {
		reservation := newTestReservation(t, p, 1)
		require.NoError(t, p.Prebook(ctx, reservation.ID))
		_, err := p.Confirm(ctx, reservation.ID)
		require.NoError(t, err)
		return reservation
	}

	t.Run("quote then confirm moves to refunded", func(t *testing.T) {
		reservation := invoiced()
		quote, err := p.QuoteRefund(ctx, reservation.ID)
		require.NoError(t, err)
		assert.InDelta(t, 53.91, quote.RefundAmount, 0.001)
		assert.True(t, quote.ExpiresAt.After(time.Now()))

		require.NoError(t, p.ConfirmRefund(ctx, quote.ID))

		got, err := p.GetReservation(ctx, reservation.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.ReservationStatusRefunded, got.Status)
	})

	t.Run("expired quote is rejected", func(t *testing.T) {
		reservation := invoiced()
		quote, err := p.QuoteRefund(ctx, reservation.ID)
		require.NoError(t, err)

		p.ExpireQuote(quote.ID)

		err = p.ConfirmRefund(ctx, quote.ID)
		assert.ErrorIs(t, err, entity.ErrQuoteExpired)
	})

	t.Run("quote on fresh reservation rejected", func(t *testing.T) {
		reservation := newTestReservation(t, p, 1)
		_, err := p.QuoteRefund(ctx, reservation.ID)
		assert.True(t, entity.IsPrecondition(err))
	})
}

// TestSearchDeterministic проверяет, что поиск мока детерминирован
func TestSearchDeterministic(t *testing.T) {
	p := NewMockProvider(0)
	ctx := context.Background()

	req := &SearchRequest{
		Origin:      "Berlin",
		Destination: "Paris",
		Date:        time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Travelers:   1,
	}

	first, err := p.Search(ctx, req)
	require.NoError(t, err)
	second, err := p.Search(ctx, req)
	require.NoError(t, err)

	require.Len(t, first, 5)
	for i := range first {
		assert.Equal(t, first[i].ProviderOfferID, second[i].ProviderOfferID)
		assert.Equal(t, first[i].PricePerPerson, second[i].PricePerPerson)
		assert.True(t, first[i].ArrivalAt.After(first[i].DepartureAt))
	}
}
