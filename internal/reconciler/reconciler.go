// Package reconciler keeps every budget's total_spent equal to the sum of the
// matching expense transactions and keeps the budget's overspend notification
// in step with it.
//
// Reconciliation is a full recompute, never a delta: for each budget of a
// (user, category) pair the ledger is summed over [StartDate, EndDate], both
// bounds inclusive, and the notification is created or deleted depending on
// whether that sum strictly exceeds the limit.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/models"
)

// DateRange is a closed interval; both From and To are included.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls within the range, bounds included.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// LedgerQuery aggregates transactions.
type LedgerQuery interface {
	// SumExpenseAmount returns the total of expense transactions owned by
	// userID in categoryID dated within period, or zero when none match.
	SumExpenseAmount(ctx context.Context, userID, categoryID string, period DateRange) (decimal.Decimal, error)
}

// BudgetStore reads and persists budgets.
type BudgetStore interface {
	ListBudgets(ctx context.Context, userID, categoryID string) ([]models.Budget, error)
	Save(ctx context.Context, budget *models.Budget) error
}

// NotificationStore manages overspend notifications.
type NotificationStore interface {
	// Find returns nil and no error when the budget has no notification.
	Find(ctx context.Context, userID, budgetID string) (*models.Notification, error)
	Create(ctx context.Context, notification *models.Notification) error
	// DeleteBy removes the budget's notification; a missing one is not an error.
	DeleteBy(ctx context.Context, userID, budgetID string) error
}

// Reconciler recomputes budget totals against its stores. It performs no
// locking and no transaction handling of its own; see Service for that.
type Reconciler struct {
	ledger        LedgerQuery
	budgets       BudgetStore
	notifications NotificationStore
}

// New returns a Reconciler over the given stores.
func New(ledger LedgerQuery, budgets BudgetStore, notifications NotificationStore) *Reconciler {
	return &Reconciler{ledger: ledger, budgets: budgets, notifications: notifications}
}

// Reconcile recomputes total_spent for every budget userID owns on
// categoryID and creates or deletes each budget's overspend notification.
// The caller guarantees that the user and category exist. Store errors are
// returned unchanged and abort the remaining budgets.
func (r *Reconciler) Reconcile(ctx context.Context, userID, categoryID string) error {
	budgets, err := r.budgets.ListBudgets(ctx, userID, categoryID)
	if err != nil {
		return err
	}

	for i := range budgets {
		if err := r.reconcileBudget(ctx, &budgets[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) reconcileBudget(ctx context.Context, budget *models.Budget) error {
	period := DateRange{From: budget.StartDate, To: budget.EndDate}
	spend, err := r.ledger.SumExpenseAmount(ctx, budget.UserID, budget.CategoryID, period)
	if err != nil {
		return err
	}

	budget.TotalSpent = spend
	if err := r.budgets.Save(ctx, budget); err != nil {
		return err
	}

	if !spend.GreaterThan(budget.LimitAmount) {
		return r.notifications.DeleteBy(ctx, budget.UserID, budget.ID)
	}

	existing, err := r.notifications.Find(ctx, budget.UserID, budget.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		// Still over: the original notification stands as written.
		return nil
	}

	return r.notifications.Create(ctx, &models.Notification{
		UserID:   budget.UserID,
		BudgetID: budget.ID,
		Message:  OverspendMessage(budget.Category.Name, spend, budget.LimitAmount),
	})
}

// OverspendMessage renders the notification text for an exceeded budget.
func OverspendMessage(categoryName string, spent, limit decimal.Decimal) string {
	return fmt.Sprintf("Budget for category %q exceeded: spent %s, limit %s",
		categoryName, spent.StringFixed(2), limit.StringFixed(2))
}
