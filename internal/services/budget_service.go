package services

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "fintrack/internal/errors"
	"fintrack/internal/models"
	"fintrack/internal/pagination"
	"fintrack/internal/reconciler"
)

// budgetService handles budget-related business logic.
type budgetService struct {
	db     *gorm.DB
	ledger LedgerApplier
}

// NewBudgetService creates a new BudgetServicer.
func NewBudgetService(db *gorm.DB, ledger LedgerApplier) BudgetServicer {
	return &budgetService{db: db, ledger: ledger}
}

// CreateBudget creates a budget on an expense category and computes its
// total from the existing ledger before returning.
func (s *budgetService) CreateBudget(ctx context.Context, userID string, input BudgetInput) (*models.Budget, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "budget name is required")
	}
	limit, err := validateLimit(input.LimitAmount)
	if err != nil {
		return nil, err
	}
	start, end := input.StartDate.UTC(), input.EndDate.UTC()
	if !end.After(start) {
		return nil, apperrors.ErrInvalidDateRange
	}
	if err := s.checkCategory(s.db.WithContext(ctx), userID, input.CategoryID); err != nil {
		return nil, err
	}

	budget := &models.Budget{
		UserID:      userID,
		CategoryID:  input.CategoryID,
		Name:        name,
		Description: input.Description,
		LimitAmount: limit,
		StartDate:   start,
		EndDate:     end,
		TotalSpent:  decimal.Zero,
	}

	key := []reconciler.Key{{UserID: userID, CategoryID: budget.CategoryID}}
	err = s.ledger.Apply(ctx, key, func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(budget).Error
	})
	if err != nil {
		return nil, asAppError(err)
	}

	return s.GetBudgetByID(ctx, userID, budget.ID)
}

// GetUserBudgets returns a paginated list of budgets for the user with optional filters.
func (s *budgetService) GetUserBudgets(ctx context.Context, userID string, page pagination.PageRequest, filter BudgetFilter) (*pagination.PageResponse[models.Budget], error) {
	base := s.db.WithContext(ctx).Model(&models.Budget{}).Where("user_id = ?", userID)
	if filter.CategoryID != nil {
		base = base.Where("category_id = ?", *filter.CategoryID)
	}
	if filter.OverLimit != nil {
		if *filter.OverLimit {
			base = base.Where("total_spent > limit_amount")
		} else {
			base = base.Where("total_spent <= limit_amount")
		}
	}

	result, err := pagination.Fetch[models.Budget](base, page, "start_date DESC, id", "Category")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return result, nil
}

// GetBudgetByID returns a budget by ID if it belongs to the user.
func (s *budgetService) GetBudgetByID(ctx context.Context, userID, budgetID string) (*models.Budget, error) {
	var budget models.Budget
	err := s.db.WithContext(ctx).
		Preload("Category", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("id = ? AND user_id = ?", budgetID, userID).
		First(&budget).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrBudgetNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &budget, nil
}

// UpdateBudget updates an existing budget's fields and reconciles it. When
// the category changes, both the old and the new category are locked and
// reconciled so a reconcile already running on the old one cannot write a
// stale total over the moved budget.
func (s *budgetService) UpdateBudget(ctx context.Context, userID, budgetID string, update BudgetUpdate) (*models.Budget, error) {
	err := retryStale(func() error {
		return s.updateBudget(ctx, userID, budgetID, update)
	})
	if err != nil {
		return nil, err
	}
	return s.GetBudgetByID(ctx, userID, budgetID)
}

func (s *budgetService) updateBudget(ctx context.Context, userID, budgetID string, update BudgetUpdate) error {
	budget, err := s.GetBudgetByID(ctx, userID, budgetID)
	if err != nil {
		return err
	}

	updates := make(map[string]interface{})
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return apperrors.WithMessage(apperrors.ErrInvalidInput, "budget name is required")
		}
		updates["name"] = name
	}
	if update.Description != nil {
		updates["description"] = *update.Description
	}
	if update.LimitAmount != nil {
		limit, err := validateLimit(*update.LimitAmount)
		if err != nil {
			return err
		}
		updates["limit_amount"] = limit
	}

	start, end := budget.StartDate, budget.EndDate
	if update.StartDate != nil {
		start = update.StartDate.UTC()
		updates["start_date"] = start
	}
	if update.EndDate != nil {
		end = update.EndDate.UTC()
		updates["end_date"] = end
	}
	if !end.After(start) {
		return apperrors.ErrInvalidDateRange
	}

	keys := []reconciler.Key{{UserID: userID, CategoryID: budget.CategoryID}}
	if update.CategoryID != nil && *update.CategoryID != budget.CategoryID {
		if err := s.checkCategory(s.db.WithContext(ctx), userID, *update.CategoryID); err != nil {
			return err
		}
		updates["category_id"] = *update.CategoryID
		keys = append(keys, reconciler.Key{UserID: userID, CategoryID: *update.CategoryID})
	}

	err = s.ledger.Apply(ctx, keys, func(tx *gorm.DB) error {
		if err := lockBudgetUnchanged(tx, budget); err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&models.Budget{}).Where("id = ?", budget.ID).Updates(updates).Error
	})
	return asStaleOrAppError(err)
}

// DeleteBudget removes the budget together with its notification. It runs
// under the budget's reconciliation key so a concurrent reconcile cannot
// recreate the notification.
func (s *budgetService) DeleteBudget(ctx context.Context, userID, budgetID string) error {
	return retryStale(func() error {
		budget, err := s.GetBudgetByID(ctx, userID, budgetID)
		if err != nil {
			return err
		}

		key := []reconciler.Key{{UserID: userID, CategoryID: budget.CategoryID}}
		err = s.ledger.Apply(ctx, key, func(tx *gorm.DB) error {
			if err := lockBudgetUnchanged(tx, budget); err != nil {
				return err
			}
			if err := tx.Where("budget_id = ?", budget.ID).Delete(&models.Notification{}).Error; err != nil {
				return err
			}
			return tx.Delete(&models.Budget{}, "id = ?", budget.ID).Error
		})
		return asStaleOrAppError(err)
	})
}

// lockBudgetUnchanged re-reads the budget under a row lock and fails with
// errStaleRead when its category or period moved since read was taken.
func lockBudgetUnchanged(tx *gorm.DB, read *models.Budget) error {
	var current models.Budget
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND user_id = ?", read.ID, read.UserID).
		First(&current).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrBudgetNotFound
		}
		return err
	}
	if current.CategoryID != read.CategoryID ||
		!current.StartDate.Equal(read.StartDate) ||
		!current.EndDate.Equal(read.EndDate) {
		return errStaleRead
	}
	return nil
}

// GetBudgetProgress reports the reconciled spend against the limit.
func (s *budgetService) GetBudgetProgress(ctx context.Context, userID, budgetID string) (*BudgetProgress, error) {
	budget, err := s.GetBudgetByID(ctx, userID, budgetID)
	if err != nil {
		return nil, err
	}

	var percentage float64
	if budget.LimitAmount.IsPositive() {
		percentage = budget.TotalSpent.Div(budget.LimitAmount).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}

	return &BudgetProgress{
		BudgetID:   budget.ID,
		Budgeted:   budget.LimitAmount,
		Spent:      budget.TotalSpent,
		Remaining:  budget.LimitAmount.Sub(budget.TotalSpent),
		Percentage: percentage,
		OverLimit:  budget.IsOverLimit(),
	}, nil
}

// checkCategory requires an expense category owned by the user.
func (s *budgetService) checkCategory(db *gorm.DB, userID, categoryID string) error {
	var category models.Category
	if err := db.Where("id = ? AND user_id = ?", categoryID, userID).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrCategoryNotFound
		}
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if category.Type != models.CategoryTypeExpense {
		return apperrors.ErrBudgetCategoryInvalid
	}
	return nil
}

func validateLimit(limit decimal.Decimal) (decimal.Decimal, error) {
	limit = limit.Round(2)
	if !limit.IsPositive() {
		return decimal.Zero, apperrors.WithMessage(apperrors.ErrInvalidInput, "limit amount must be greater than zero")
	}
	return limit, nil
}
