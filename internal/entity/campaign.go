package entity

import (
	"time"
)

type DiscountTarget string

const (
	DiscountTargetBase  DiscountTarget = "base"
	DiscountTargetFee   DiscountTarget = "fee"
	DiscountTargetTotal DiscountTarget = "total"
)

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Campaign — промо-кампания. Применимость проверяется на момент оплаты,
// счетчик использований увеличивается ровно один раз на успешный заказ.
type Campaign struct {
	ID                string         `json:"id" db:"id"`
	Code              string         `json:"code" db:"code"`
	Description       string         `json:"description,omitempty" db:"description"`
	Target            DiscountTarget `json:"target" db:"target"`
	Type              DiscountType   `json:"type" db:"type"`
	Value             float64        `json:"value" db:"value"`
	MaxDiscountAmount float64        `json:"max_discount_amount,omitempty" db:"max_discount_amount"`
	Active            bool           `json:"active" db:"active"`
	ValidFrom         *time.Time     `json:"valid_from,omitempty" db:"valid_from"`
	ValidUntil        *time.Time     `json:"valid_until,omitempty" db:"valid_until"`
	UsageLimit        int            `json:"usage_limit,omitempty" db:"usage_limit"`
	UsedCount         int            `json:"used_count" db:"used_count"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}

// IsApplicable проверяет, применима ли кампания в указанный момент
func (c *Campaign) IsApplicable(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return false
	}
	return true
}
