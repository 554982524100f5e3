package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"fintrack/internal/models"
	"fintrack/internal/reconciler"
	"fintrack/internal/testutil"
)

// ledgerEnv wires the ledger services over one test database.
type ledgerEnv struct {
	db           *gorm.DB
	publisher    *testutil.RecordingPublisher
	ledger       *reconciler.Service
	transactions TransactionServicer
	budgets      BudgetServicer
	user         *models.User
	expense      *models.Category
	income       *models.Category
}

func newLedgerEnv(t *testing.T) *ledgerEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	publisher := &testutil.RecordingPublisher{}
	rec := reconciler.NewService(db, publisher)
	user := testutil.CreateTestUser(t, db)

	return &ledgerEnv{
		db:           db,
		publisher:    publisher,
		ledger:       rec,
		transactions: NewTransactionService(db, rec),
		budgets:      NewBudgetService(db, rec),
		user:         user,
		expense:      testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense),
		income:       testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeIncome),
	}
}

func (e *ledgerEnv) totalSpent(t *testing.T, budgetID string) decimal.Decimal {
	t.Helper()
	var b models.Budget
	if err := e.db.First(&b, "id = ?", budgetID).Error; err != nil {
		t.Fatalf("load budget: %v", err)
	}
	return b.TotalSpent
}

func (e *ledgerEnv) notifications(t *testing.T, budgetID string) []models.Notification {
	t.Helper()
	var out []models.Notification
	if err := e.db.Where("budget_id = ?", budgetID).Find(&out).Error; err != nil {
		t.Fatalf("load notifications: %v", err)
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

// hookedLedger records the keys of every Apply and runs before ahead of each
// one. Tests use it to commit a competing write between a service's read and
// the moment it takes its locks.
type hookedLedger struct {
	LedgerApplier
	before func(call int)
	keys   [][]reconciler.Key
}

func (l *hookedLedger) Apply(ctx context.Context, keys []reconciler.Key, mutate func(tx *gorm.DB) error) error {
	l.keys = append(l.keys, keys)
	if l.before != nil {
		l.before(len(l.keys))
	}
	return l.LedgerApplier.Apply(ctx, keys, mutate)
}

func hasKey(keys []reconciler.Key, categoryID string) bool {
	for _, k := range keys {
		if k.CategoryID == categoryID {
			return true
		}
	}
	return false
}
