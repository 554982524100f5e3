package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget caps spending on one expense category between StartDate and EndDate.
// TotalSpent is derived from the ledger and only written by the reconciler.
type Budget struct {
	Base
	UserID      string          `gorm:"type:uuid;not null;index:idx_budgets_owner,priority:1" json:"user_id"`
	CategoryID  string          `gorm:"type:uuid;not null;index:idx_budgets_owner,priority:2" json:"category_id"`
	Name        string          `gorm:"not null" json:"name"`
	Description string          `json:"description"`
	LimitAmount decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"limit_amount" swaggertype:"string" example:"500.00"`
	StartDate   time.Time       `gorm:"not null" json:"start_date"`
	EndDate     time.Time       `gorm:"not null" json:"end_date"`
	TotalSpent  decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"total_spent" swaggertype:"string" example:"120.00"`

	// Relationships
	Category Category `gorm:"foreignKey:CategoryID" json:"category"`
}

// IsOverLimit reports whether the stored spend strictly exceeds the limit.
func (b *Budget) IsOverLimit() bool {
	return b.TotalSpent.GreaterThan(b.LimitAmount)
}
