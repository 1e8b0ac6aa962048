package pricing

import (
	"testing"
	"time"

	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestComputeBreakdown проверяет расчет сервисного сбора и итога
func TestComputeBreakdown(t *testing.T) {
	tests := []struct {
		name         string
		basePrice    float64
		feePercent   float64
		wantFee      float64
		wantSubtotal float64
	}{
		{
			name:         "standard five percent fee",
			basePrice:    100.00,
			feePercent:   5,
			wantFee:      5.00,
			wantSubtotal: 105.00,
		},
		{
			name:         "fee rounds half up",
			basePrice:    33.33,
			feePercent:   5,
			wantFee:      1.67,
			wantSubtotal: 35.00,
		},
		{
			name:         "zero base price",
			basePrice:    0,
			feePercent:   5,
			wantFee:      0,
			wantSubtotal: 0,
		},
		{
			name:         "fractional cent base",
			basePrice:    10.005,
			feePercent:   5,
			wantFee:      0.50,
			wantSubtotal: 10.51,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBreakdown(tt.basePrice, tt.feePercent)

			assert.Equal(t, tt.wantFee, got.ServiceFee)
			assert.Equal(t, tt.wantSubtotal, got.Subtotal)
			assert.Equal(t, got.Subtotal, Round2(got.BasePrice+got.ServiceFee))
		})
	}
}

// TestComputeBreakdownIdempotent проверяет, что одинаковый вход дает
// одинаковый результат
func TestComputeBreakdownIdempotent(t *testing.T) {
	first := ComputeBreakdown(87.65, 5)
	second := ComputeBreakdown(87.65, 5)
	assert.Equal(t, first, second)
}

// TestApplyCampaign проверяет применение скидок по целям и ограничениям
func TestApplyCampaign(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name         string
		basePrice    float64
		campaign     *entity.Campaign
		wantDiscount float64
		wantFinal    float64
	}{
		{
			name:      "ten percent on total",
			basePrice: 100.00,
			campaign: &entity.Campaign{
				Code:              "SAVE10",
				Target:            entity.DiscountTargetTotal,
				Type:              entity.DiscountTypePercentage,
				Value:             10,
				MaxDiscountAmount: 50,
				Active:            true,
			},
			wantDiscount: 10.50,
			wantFinal:    94.50,
		},
		{
			name:      "percentage on base only",
			basePrice: 100.00,
			campaign: &entity.Campaign{
				Code:   "BASE20",
				Target: entity.DiscountTargetBase,
				Type:   entity.DiscountTypePercentage,
				Value:  20,
				Active: true,
			},
			wantDiscount: 20.00,
			wantFinal:    85.00,
		},
		{
			name:      "fixed amount on fee",
			basePrice: 100.00,
			campaign: &entity.Campaign{
				Code:   "FEE2",
				Target: entity.DiscountTargetFee,
				Type:   entity.DiscountTypeFixed,
				Value:  2,
				Active: true,
			},
			wantDiscount: 2.00,
			wantFinal:    103.00,
		},
		{
			name:      "discount clamped to maximum",
			basePrice: 1000.00,
			campaign: &entity.Campaign{
				Code:              "BIG50",
				Target:            entity.DiscountTargetTotal,
				Type:              entity.DiscountTypePercentage,
				Value:             50,
				MaxDiscountAmount: 100,
				Active:            true,
			},
			wantDiscount: 100.00,
			wantFinal:    950.00,
		},
		{
			name:      "final price never below zero",
			basePrice: 10.00,
			campaign: &entity.Campaign{
				Code:   "HUGE",
				Target: entity.DiscountTargetTotal,
				Type:   entity.DiscountTypeFixed,
				Value:  500,
				Active: true,
			},
			wantDiscount: 10.50,
			wantFinal:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breakdown := ComputeBreakdown(tt.basePrice, 5)
			got, err := ApplyCampaign(breakdown, tt.campaign, now)
			require.NoError(t, err)

			assert.Equal(t, tt.wantDiscount, got.Discount)
			assert.Equal(t, tt.wantFinal, got.FinalPrice)
			assert.GreaterOrEqual(t, got.FinalPrice, 0.0)
			if tt.campaign.MaxDiscountAmount > 0 {
				assert.LessOrEqual(t, got.Discount, tt.campaign.MaxDiscountAmount)
			}
		})
	}
}

// TestApplyCampaignNotApplicable проверяет отклонение неприменимых кампаний
func TestApplyCampaignNotApplicable(t *testing.T) {
	now := time.Now()
	past := now.Add(-48 * time.Hour)
	breakdown := ComputeBreakdown(100, 5)

	tests := []struct {
		name     string
		campaign *entity.Campaign
	}{
		{
			name:     "inactive campaign",
			campaign: &entity.Campaign{Code: "OFF", Active: false},
		},
		{
			name: "campaign window already closed",
			campaign: &entity.Campaign{
				Code:       "LATE",
				Active:     true,
				ValidUntil: &past,
			},
		},
		{
			name: "usage limit reached",
			campaign: &entity.Campaign{
				Code:       "USED",
				Active:     true,
				UsageLimit: 10,
				UsedCount:  10,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplyCampaign(breakdown, tt.campaign, now)
			assert.ErrorIs(t, err, entity.ErrCampaignNotApplicable)
		})
	}
}

// TestRound2 проверяет округление half-up
func TestRound2(t *testing.T) {
	assert.Equal(t, 10.51, Round2(10.505))
	assert.Equal(t, 10.50, Round2(10.504))
	assert.Equal(t, 0.01, Round2(0.005))
	assert.Equal(t, 100.00, Round2(100.0))
}
