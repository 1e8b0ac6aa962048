package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/odamigo/eurotrain-booking/config"
	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/sirupsen/logrus"
)

// APIProvider — боевая реализация поверх REST API провайдера инвентаря.
// Охраны переходов проверяет сам провайдер; его коды ошибок приводятся
// к тем же типам, что отдает мок, чтобы оркестратор не различал реализации.
type APIProvider struct {
	cfg    *config.ProviderConfig
	client *http.Client
}

func NewAPIProvider(cfg *config.ProviderConfig) *APIProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &APIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// do выполняет запрос с ограниченным числом повторов. Повторяются
// только транспортные сбои; ответ провайдера, даже ошибочный, повтору
// не подлежит.
func (p *APIProvider) do(ctx context.Context, method, path string, payload, dest interface{}) error {
	var body []byte
	var err error
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	maxAttempts := p.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := p.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * backoff
			logrus.Warnf("Inventory API retry %d/%d after %v: %v", attempt, maxAttempts, delay, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", p.cfg.APIKey)

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		err = decodeResponse(resp, dest)
		resp.Body.Close()
		return err
	}

	return fmt.Errorf("inventory API unavailable after %d attempts: %w", maxAttempts, lastErr)
}

func decodeResponse(resp *http.Response, dest interface{}) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if dest == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(dest)
	}

	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		return fmt.Errorf("inventory API error: status %d", resp.StatusCode)
	}

	switch apiErr.Code {
	case "RESERVATION_NOT_FOUND":
		return entity.ErrReservationNotFound
	case "ITEM_NOT_FOUND":
		return entity.ErrItemNotFound
	case "LAST_ITEM":
		return entity.ErrLastItem
	case "QUOTE_EXPIRED":
		return entity.ErrQuoteExpired
	case "QUOTE_NOT_FOUND":
		return entity.ErrQuoteNotFound
	case "INVALID_STATE":
		return &entity.PreconditionError{
			Op:     apiErr.Message,
			Actual: entity.ReservationStatus(apiErr.Status),
		}
	default:
		return fmt.Errorf("inventory API rejected request: code=%s message=%s", apiErr.Code, apiErr.Message)
	}
}

type searchPayload struct {
	Origin       string `json:"origin"`
	Destination  string `json:"destination"`
	Date         string `json:"date"`
	Travelers    int    `json:"travelers"`
	ComfortClass string `json:"comfort_class,omitempty"`
}

func (p *APIProvider) Search(ctx context.Context, req *SearchRequest) ([]*entity.Offer, error) {
	payload := searchPayload{
		Origin:       req.Origin,
		Destination:  req.Destination,
		Date:         req.Date.Format("2006-01-02"),
		Travelers:    req.Travelers,
		ComfortClass: string(req.ComfortClass),
	}

	var result struct {
		Offers []*entity.Offer `json:"offers"`
	}
	if err := p.do(ctx, http.MethodPost, "/search", payload, &result); err != nil {
		return nil, err
	}
	return result.Offers, nil
}

func (p *APIProvider) CreateReservation(ctx context.Context, offers []OfferRef) (*entity.Reservation, error) {
	payload := struct {
		Offers []OfferRef `json:"offers"`
	}{Offers: offers}

	var reservation entity.Reservation
	if err := p.do(ctx, http.MethodPost, "/reservations", payload, &reservation); err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (p *APIProvider) GetReservation(ctx context.Context, reservationID string) (*entity.Reservation, error) {
	var reservation entity.Reservation
	if err := p.do(ctx, http.MethodGet, "/reservations/"+reservationID, nil, &reservation); err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (p *APIProvider) AttachTravelers(ctx context.Context, reservationID, itemID string, travelers []entity.Traveler) error {
	payload := struct {
		Travelers []entity.Traveler `json:"travelers"`
	}{Travelers: travelers}

	path := fmt.Sprintf("/reservations/%s/items/%s/travelers", reservationID, itemID)
	return p.do(ctx, http.MethodPut, path, payload, nil)
}

func (p *APIProvider) Prebook(ctx context.Context, reservationID string) error {
	return p.do(ctx, http.MethodPost, "/reservations/"+reservationID+"/prebook", nil, nil)
}

func (p *APIProvider) Confirm(ctx context.Context, reservationID string) (*entity.Reservation, error) {
	var reservation entity.Reservation
	if err := p.do(ctx, http.MethodPost, "/reservations/"+reservationID+"/confirm", nil, &reservation); err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (p *APIProvider) IssueTickets(ctx context.Context, reservationID, format string) ([]entity.TicketArtifact, error) {
	payload := struct {
		Format string `json:"format"`
	}{Format: format}

	var result struct {
		Tickets []entity.TicketArtifact `json:"tickets"`
	}
	if err := p.do(ctx, http.MethodPost, "/reservations/"+reservationID+"/tickets", payload, &result); err != nil {
		return nil, err
	}
	return result.Tickets, nil
}

func (p *APIProvider) DeleteItem(ctx context.Context, reservationID, itemID string) error {
	path := fmt.Sprintf("/reservations/%s/items/%s", reservationID, itemID)
	return p.do(ctx, http.MethodDelete, path, nil, nil)
}

func (p *APIProvider) QuoteRefund(ctx context.Context, reservationID string) (*entity.RefundQuote, error) {
	var quote entity.RefundQuote
	if err := p.do(ctx, http.MethodPost, "/reservations/"+reservationID+"/refund/quote", nil, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

func (p *APIProvider) ConfirmRefund(ctx context.Context, quoteID string) error {
	return p.do(ctx, http.MethodPost, "/refund-quotes/"+quoteID+"/confirm", nil, nil)
}

func (p *APIProvider) QuoteExchange(ctx context.Context, reservationID, newOfferID string) (*entity.ExchangeQuote, error) {
	payload := struct {
		NewOfferID string `json:"new_offer_id"`
	}{NewOfferID: newOfferID}

	var quote entity.ExchangeQuote
	if err := p.do(ctx, http.MethodPost, "/reservations/"+reservationID+"/exchange/quote", payload, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

func (p *APIProvider) ConfirmExchange(ctx context.Context, quoteID string) error {
	return p.do(ctx, http.MethodPost, "/exchange-quotes/"+quoteID+"/confirm", nil, nil)
}
