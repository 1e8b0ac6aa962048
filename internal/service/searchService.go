package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odamigo/eurotrain-booking/internal/cache"
	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/odamigo/eurotrain-booking/internal/provider"
)

const (
	offerKeyPrefix = "offer:"
	offerIDLength  = 12
)

type searchService struct {
	provider provider.InventoryProvider
	cache    cache.Cache
	offerTTL time.Duration
}

// NewSearchService создает новый экземпляр SearchService
func NewSearchService(p provider.InventoryProvider, c cache.Cache, offerTTL time.Duration) SearchService {
	return &searchService{
		provider: p,
		cache:    c,
		offerTTL: offerTTL,
	}
}

// Search запрашивает предложения у провайдера, кэширует каждый снимок
// по TTL и вычисляет подсветку самого дешевого и самого быстрого.
func (s *searchService) Search(ctx context.Context, req *provider.SearchRequest) (*entity.SearchResult, error) {
	offers, err := s.provider.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("поиск предложений не удался: %w", err)
	}

	// Провайдер отдает снимки без публичных идентификаторов: id и
	// trace id навешиваются здесь, при выдаче наружу
	traceID := uuid.NewString()
	for _, offer := range offers {
		offer.ID = cache.GenerateToken("off_", offerIDLength)
		offer.TraceID = traceID
		if err := s.cache.Put(offerKeyPrefix+offer.ID, offer, s.offerTTL); err != nil {
			return nil, fmt.Errorf("не удалось сохранить предложение %s: %w", offer.ID, err)
		}
	}

	result := &entity.SearchResult{Offers: offers}
	if len(offers) > 0 {
		result.TraceID = offers[0].TraceID
		result.CheapestWithin = cheapestOffer(offers).ID
		result.FastestWithin = fastestOffer(offers).ID
	}

	return result, nil
}

// GetOffer читает снимок предложения из кэша. Истекший и никогда не
// существовавший снимок неразличимы.
func (s *searchService) GetOffer(ctx context.Context, offerID string) (*entity.Offer, error) {
	var offer entity.Offer
	err := s.cache.Get(offerKeyPrefix+offerID, &offer)
	if errors.Is(err, entity.ErrCacheMiss) {
		return nil, entity.ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать предложение %s: %w", offerID, err)
	}
	return &offer, nil
}

// Равные кандидаты упорядочиваются по раннему отправлению, затем по
// меньшему идентификатору, чтобы подсветка была детерминированной.
func cheapestOffer(offers []*entity.Offer) *entity.Offer {
	best := offers[0]
	for _, offer := range offers[1:] {
		switch {
		case offer.PricePerPerson < best.PricePerPerson:
			best = offer
		case offer.PricePerPerson == best.PricePerPerson && tieBreak(offer, best):
			best = offer
		}
	}
	return best
}

func fastestOffer(offers []*entity.Offer) *entity.Offer {
	best := offers[0]
	for _, offer := range offers[1:] {
		switch {
		case offer.Duration() < best.Duration():
			best = offer
		case offer.Duration() == best.Duration() && tieBreak(offer, best):
			best = offer
		}
	}
	return best
}

func tieBreak(candidate, current *entity.Offer) bool {
	if !candidate.DepartureAt.Equal(current.DepartureAt) {
		return candidate.DepartureAt.Before(current.DepartureAt)
	}
	return candidate.ID < current.ID
}
