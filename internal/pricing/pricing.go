package pricing

import (
	"math"
	"time"

	"github.com/odamigo/eurotrain-booking/internal/entity"
)

const DefaultServiceFeePercent = 5.0

// Round2 округляет денежную сумму до двух знаков, half-up.
// Все суммы в системе неотрицательные.
func Round2(amount float64) float64 {
	return math.Floor(amount*100+0.5) / 100
}

// ComputeBreakdown вычисляет сервисный сбор и промежуточный итог.
// Чистая функция: одинаковый вход всегда дает одинаковый результат.
func ComputeBreakdown(basePrice, feePercent float64) entity.PriceBreakdown {
	if feePercent < 0 {
		feePercent = DefaultServiceFeePercent
	}

	base := Round2(basePrice)
	fee := Round2(base * feePercent / 100)
	subtotal := Round2(base + fee)

	return entity.PriceBreakdown{
		BasePrice:  base,
		ServiceFee: fee,
		Subtotal:   subtotal,
		FinalPrice: subtotal,
	}
}

// ApplyCampaign применяет скидку кампании к расчету. Скидка считается
// от настроенной цели, ограничивается максимумом кампании и никогда
// не уводит итог ниже нуля. Счетчик использований здесь не трогается:
// его увеличивает оркестратор при успешном заказе.
func ApplyCampaign(breakdown entity.PriceBreakdown, campaign *entity.Campaign, now time.Time) (entity.PriceBreakdown, error) {
	if campaign == nil {
		return breakdown, nil
	}
	if !campaign.IsApplicable(now) {
		return breakdown, entity.ErrCampaignNotApplicable
	}

	target := discountTarget(breakdown, campaign.Target)

	var discount float64
	switch campaign.Type {
	case entity.DiscountTypeFixed:
		discount = campaign.Value
	default:
		discount = target * campaign.Value / 100
	}

	if campaign.MaxDiscountAmount > 0 && discount > campaign.MaxDiscountAmount {
		discount = campaign.MaxDiscountAmount
	}
	discount = Round2(discount)

	final := Round2(breakdown.Subtotal - discount)
	if final < 0 {
		final = 0
		discount = breakdown.Subtotal
	}

	breakdown.Discount = discount
	breakdown.FinalPrice = final
	breakdown.PromoCode = campaign.Code
	return breakdown, nil
}

func discountTarget(breakdown entity.PriceBreakdown, target entity.DiscountTarget) float64 {
	switch target {
	case entity.DiscountTargetBase:
		return breakdown.BasePrice
	case entity.DiscountTargetFee:
		return breakdown.ServiceFee
	default:
		return breakdown.BasePrice + breakdown.ServiceFee
	}
}
