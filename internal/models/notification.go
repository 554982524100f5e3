package models

import (
	"time"

	"fintrack/internal/uuid"

	"gorm.io/gorm"
)

// Notification flags a budget whose spend exceeds its limit. At most one
// exists per budget; rows are hard-deleted once spend is back within limit.
type Notification struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	BudgetID  string    `gorm:"type:uuid;not null;uniqueIndex" json:"budget_id"`
	Message   string    `gorm:"not null" json:"message"`
	IsRead    bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUIDv7 when the caller did not.
func (n *Notification) BeforeCreate(_ *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New()
	}
	return nil
}
