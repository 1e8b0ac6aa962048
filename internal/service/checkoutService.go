package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odamigo/eurotrain-booking/internal/cache"
	repository "github.com/odamigo/eurotrain-booking/internal/database/postgres"
	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/odamigo/eurotrain-booking/internal/pricing"
)

const sessionKeyPrefix = "session:"

// CreateSessionRequest представляет данные для создания сессии оформления
type CreateSessionRequest struct {
	OfferIDs []string `json:"offer_ids" binding:"required,min=1"`
}

type checkoutService struct {
	cache        cache.Cache
	search       SearchService
	campaignRepo repository.CampaignRepository
	feePercent   float64
	sessionTTL   time.Duration
	tokenLength  int
}

// NewCheckoutService создает новый экземпляр CheckoutService
func NewCheckoutService(
	c cache.Cache,
	search SearchService,
	campaignRepo repository.CampaignRepository,
	feePercent float64,
	sessionTTL time.Duration,
	tokenLength int,
) CheckoutService {
	return &checkoutService{
		cache:        c,
		search:       search,
		campaignRepo: campaignRepo,
		feePercent:   feePercent,
		sessionTTL:   sessionTTL,
		tokenLength:  tokenLength,
	}
}

// CreateSession собирает сессию оформления из закэшированных предложений.
// Все предложения должны быть живы и в одной валюте.
func (s *checkoutService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*entity.CheckoutSession, error) {
	if len(req.OfferIDs) == 0 {
		return nil, entity.ErrInvalidInput
	}

	offers := make([]*entity.Offer, 0, len(req.OfferIDs))
	for _, offerID := range req.OfferIDs {
		offer, err := s.search.GetOffer(ctx, offerID)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}

	currency := offers[0].Currency
	for _, offer := range offers[1:] {
		if offer.Currency != currency {
			return nil, entity.ErrCurrencyMismatch
		}
	}

	now := time.Now()
	session := &entity.CheckoutSession{
		Token:     cache.GenerateToken("ses_", s.tokenLength),
		TraceID:   offers[0].TraceID,
		OfferIDs:  req.OfferIDs,
		Offers:    offers,
		Currency:  currency,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	s.recomputeBreakdown(ctx, session)

	if err := s.cache.Put(sessionKeyPrefix+session.Token, session, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("не удалось сохранить сессию: %w", err)
	}

	return session, nil
}

func (s *checkoutService) GetSession(ctx context.Context, token string) (*entity.CheckoutSession, error) {
	var session entity.CheckoutSession
	err := s.cache.Get(sessionKeyPrefix+token, &session)
	if errors.Is(err, entity.ErrCacheMiss) {
		return nil, entity.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать сессию: %w", err)
	}
	return &session, nil
}

// AttachTravelers прикрепляет пассажиров и пересчитывает стоимость
func (s *checkoutService) AttachTravelers(ctx context.Context, token string, travelers []entity.Traveler) (*entity.CheckoutSession, error) {
	if len(travelers) == 0 {
		return nil, entity.ErrInvalidInput
	}
	for _, traveler := range travelers {
		if traveler.FirstName == "" || traveler.LastName == "" {
			return nil, entity.ErrInvalidInput
		}
	}

	session, err := s.mutableSession(ctx, token)
	if err != nil {
		return nil, err
	}

	session.Travelers = travelers
	s.recomputeBreakdown(ctx, session)

	if err := s.persist(session); err != nil {
		return nil, err
	}
	return session, nil
}

// ApplyPromo применяет промокод к сессии. Неприменимая кампания
// отклоняется без изменения сессии.
func (s *checkoutService) ApplyPromo(ctx context.Context, token, promoCode string) (*entity.CheckoutSession, error) {
	session, err := s.mutableSession(ctx, token)
	if err != nil {
		return nil, err
	}

	campaign, err := s.campaignRepo.GetByCode(ctx, promoCode)
	if err != nil {
		return nil, err
	}
	if !campaign.IsApplicable(time.Now()) {
		return nil, entity.ErrCampaignNotApplicable
	}

	session.PromoCode = promoCode
	s.recomputeBreakdown(ctx, session)

	if err := s.persist(session); err != nil {
		return nil, err
	}
	return session, nil
}

// Consume помечает сессию потребленной. Потребленная сессия остается
// читаемой до истечения TTL, но все изменяющие операции отклоняются.
func (s *checkoutService) Consume(ctx context.Context, token string) (*entity.CheckoutSession, error) {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.ConsumedAt != nil {
		return nil, entity.ErrSessionConsumed
	}
	if len(session.Travelers) == 0 {
		return nil, entity.ErrNoTravelers
	}

	now := time.Now()
	session.ConsumedAt = &now

	if err := s.persist(session); err != nil {
		return nil, err
	}
	return session, nil
}

// CreateCampaign регистрирует новую промокампанию
func (s *checkoutService) CreateCampaign(ctx context.Context, campaign *entity.Campaign) error {
	if campaign.Code == "" || campaign.Value <= 0 {
		return entity.ErrInvalidInput
	}
	switch campaign.Target {
	case entity.DiscountTargetBase, entity.DiscountTargetFee, entity.DiscountTargetTotal:
	default:
		return entity.ErrInvalidInput
	}
	switch campaign.Type {
	case entity.DiscountTypePercentage, entity.DiscountTypeFixed:
	default:
		return entity.ErrInvalidInput
	}
	if campaign.Type == entity.DiscountTypePercentage && campaign.Value > 100 {
		return entity.ErrInvalidInput
	}
	return s.campaignRepo.Create(ctx, campaign)
}

func (s *checkoutService) ListActiveCampaigns(ctx context.Context) ([]*entity.Campaign, error) {
	return s.campaignRepo.GetActive(ctx)
}

func (s *checkoutService) mutableSession(ctx context.Context, token string) (*entity.CheckoutSession, error) {
	session, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.ConsumedAt != nil {
		return nil, entity.ErrSessionConsumed
	}
	return session, nil
}

// recomputeBreakdown пересчитывает стоимость сессии. Кампания
// применяется к расчету, но счетчик использований здесь не трогается:
// он увеличивается один раз при создании заказа.
func (s *checkoutService) recomputeBreakdown(ctx context.Context, session *entity.CheckoutSession) {
	breakdown := pricing.ComputeBreakdown(session.BasePrice(), s.feePercent)

	if session.PromoCode != "" {
		campaign, err := s.campaignRepo.GetByCode(ctx, session.PromoCode)
		if err == nil {
			if discounted, applyErr := pricing.ApplyCampaign(breakdown, campaign, time.Now()); applyErr == nil {
				breakdown = discounted
			}
		}
	}

	session.Breakdown = &breakdown
}

// persist сохраняет сессию с остатком исходного TTL: изменения не
// продлевают жизнь сессии
func (s *checkoutService) persist(session *entity.CheckoutSession) error {
	remaining := time.Until(session.ExpiresAt)
	if remaining <= 0 {
		return entity.ErrSessionNotFound
	}
	if err := s.cache.Put(sessionKeyPrefix+session.Token, session, remaining); err != nil {
		return fmt.Errorf("не удалось сохранить сессию: %w", err)
	}
	return nil
}
