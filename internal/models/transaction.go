package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the type of transaction
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "income"
	TransactionTypeExpense TransactionType = "expense"
)

// Transaction represents a financial transaction in the system
type Transaction struct {
	Base
	UserID      string          `gorm:"type:uuid;not null;index:idx_transactions_ledger,priority:1" json:"user_id"`
	CategoryID  string          `gorm:"type:uuid;not null;index:idx_transactions_ledger,priority:2" json:"category_id"`
	Type        TransactionType `gorm:"not null" json:"type"`
	Amount      decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount" swaggertype:"string" example:"42.50"`
	Description string          `json:"description"`
	Date        time.Time       `gorm:"not null;index:idx_transactions_ledger,priority:3" json:"date"`

	// Relationships
	Category *Category `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Tags     []Tag     `gorm:"many2many:transaction_tags;" json:"tags"`
}

// IsExpense reports whether the transaction counts toward budgets.
func (t *Transaction) IsExpense() bool {
	return t.Type == TransactionTypeExpense
}
