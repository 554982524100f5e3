package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "fintrack/internal/errors"
	"fintrack/internal/models"
	"fintrack/internal/pagination"
	"fintrack/internal/reconciler"
)

// transactionService handles transaction-related business logic. Every
// mutation runs through the ledger applier so budget totals are recomputed
// in the same database transaction.
type transactionService struct {
	db     *gorm.DB
	ledger LedgerApplier
}

// NewTransactionService creates a new TransactionServicer.
func NewTransactionService(db *gorm.DB, ledger LedgerApplier) TransactionServicer {
	return &transactionService{db: db, ledger: ledger}
}

// CreateTransaction records a transaction and, for expenses, reconciles the
// budgets of its category.
func (s *transactionService) CreateTransaction(ctx context.Context, userID string, input TransactionInput) (*models.Transaction, error) {
	amount, err := validateAmount(input.Amount)
	if err != nil {
		return nil, err
	}
	if !validTransactionType(input.Type) {
		return nil, apperrors.ErrInvalidTransactionType
	}
	if input.CategoryID == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "category ID is required")
	}

	db := s.db.WithContext(ctx)
	if _, err := s.categoryFor(db, userID, input.CategoryID, input.Type); err != nil {
		return nil, err
	}
	tags, err := s.loadTags(db, userID, input.TagIDs)
	if err != nil {
		return nil, err
	}

	date := input.Date
	if date.IsZero() {
		date = time.Now()
	}

	transaction := &models.Transaction{
		UserID:      userID,
		CategoryID:  input.CategoryID,
		Type:        input.Type,
		Amount:      amount,
		Description: input.Description,
		Date:        date.UTC(),
		Tags:        tags,
	}

	err = s.ledger.Apply(ctx, keysFor(transaction), func(tx *gorm.DB) error {
		return tx.Omit("Category", "Tags.*").Create(transaction).Error
	})
	if err != nil {
		return nil, asAppError(err)
	}

	return s.GetTransactionByID(ctx, userID, transaction.ID)
}

// GetUserTransactions retrieves a paginated, filtered list of the user's
// transactions, newest first.
func (s *transactionService) GetUserTransactions(ctx context.Context, userID string, page pagination.PageRequest, filter TransactionFilter) (*pagination.PageResponse[models.Transaction], error) {
	db := s.db.WithContext(ctx)
	base := db.Model(&models.Transaction{}).Where("user_id = ?", userID)
	base = applyTransactionFilters(db, base, filter)

	result, err := pagination.Fetch[models.Transaction](base, page, "date DESC, id DESC", "Tags", "Category")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return result, nil
}

func applyTransactionFilters(db, q *gorm.DB, f TransactionFilter) *gorm.DB {
	if f.FromDate != nil {
		q = q.Where("date >= ?", f.FromDate.UTC())
	}
	if f.ToDate != nil {
		q = q.Where("date <= ?", f.ToDate.UTC())
	}
	if f.Type != nil {
		q = q.Where("type = ?", *f.Type)
	}
	if f.CategoryID != nil {
		q = q.Where("category_id = ?", *f.CategoryID)
	}
	if f.TagID != nil {
		tagged := db.Table("transaction_tags").Select("transaction_id").Where("tag_id = ?", *f.TagID)
		q = q.Where("id IN (?)", tagged)
	}
	if f.MinAmount != nil {
		q = q.Where("amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		q = q.Where("amount <= ?", *f.MaxAmount)
	}
	return q
}

// GetTransactionByID retrieves a transaction with its tags for a specific user
func (s *transactionService) GetTransactionByID(ctx context.Context, userID, transactionID string) (*models.Transaction, error) {
	var transaction models.Transaction
	err := s.db.WithContext(ctx).
		Preload("Tags").
		Preload("Category").
		Where("id = ? AND user_id = ?", transactionID, userID).
		First(&transaction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrTransactionNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &transaction, nil
}

// UpdateTransaction applies a partial update. When the old or the new
// version is an expense, budgets on both the old and the new category are
// reconciled together with the change. If a concurrent writer moves the
// transaction before the keys are locked, the update is planned again from
// the fresh row.
func (s *transactionService) UpdateTransaction(ctx context.Context, userID, transactionID string, update TransactionUpdate) (*models.Transaction, error) {
	err := retryStale(func() error {
		return s.updateTransaction(ctx, userID, transactionID, update)
	})
	if err != nil {
		return nil, err
	}
	return s.GetTransactionByID(ctx, userID, transactionID)
}

func (s *transactionService) updateTransaction(ctx context.Context, userID, transactionID string, update TransactionUpdate) error {
	existing, err := s.GetTransactionByID(ctx, userID, transactionID)
	if err != nil {
		return err
	}
	db := s.db.WithContext(ctx)

	next := *existing
	updates := make(map[string]interface{})
	if update.Type != nil {
		if !validTransactionType(*update.Type) {
			return apperrors.ErrInvalidTransactionType
		}
		next.Type = *update.Type
		updates["type"] = next.Type
	}
	if update.CategoryID != nil {
		next.CategoryID = *update.CategoryID
		updates["category_id"] = next.CategoryID
	}
	if update.Amount != nil {
		amount, err := validateAmount(*update.Amount)
		if err != nil {
			return err
		}
		next.Amount = amount
		updates["amount"] = amount
	}
	if update.Description != nil {
		updates["description"] = *update.Description
	}
	if update.Date != nil {
		updates["date"] = update.Date.UTC()
	}

	if next.Type != existing.Type || next.CategoryID != existing.CategoryID {
		if _, err := s.categoryFor(db, userID, next.CategoryID, next.Type); err != nil {
			return err
		}
	}

	var tags []models.Tag
	if update.TagIDs != nil {
		if tags, err = s.loadTags(db, userID, *update.TagIDs); err != nil {
			return err
		}
	}

	keys := append(keysFor(existing), keysFor(&next)...)
	err = s.ledger.Apply(ctx, keys, func(tx *gorm.DB) error {
		if err := lockUnchanged(tx, existing); err != nil {
			return err
		}
		if len(updates) > 0 {
			if err := tx.Model(existing).Omit(clause.Associations).Updates(updates).Error; err != nil {
				return err
			}
		}
		if update.TagIDs != nil {
			return tx.Model(existing).Association("Tags").Replace(tags)
		}
		return nil
	})
	return asStaleOrAppError(err)
}

// DeleteTransaction soft-deletes a transaction and reconciles its budgets.
func (s *transactionService) DeleteTransaction(ctx context.Context, userID, transactionID string) error {
	return retryStale(func() error {
		transaction, err := s.GetTransactionByID(ctx, userID, transactionID)
		if err != nil {
			return err
		}

		err = s.ledger.Apply(ctx, keysFor(transaction), func(tx *gorm.DB) error {
			if err := lockUnchanged(tx, transaction); err != nil {
				return err
			}
			if err := tx.Exec("DELETE FROM transaction_tags WHERE transaction_id = ?", transaction.ID).Error; err != nil {
				return err
			}
			return tx.Delete(&models.Transaction{}, "id = ?", transaction.ID).Error
		})
		return asStaleOrAppError(err)
	})
}

// lockUnchanged re-reads the transaction under a row lock and fails with
// errStaleRead when its type or category differ from read, the values the
// reconciliation keys were derived from.
func lockUnchanged(tx *gorm.DB, read *models.Transaction) error {
	var current models.Transaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND user_id = ?", read.ID, read.UserID).
		First(&current).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrTransactionNotFound
		}
		return err
	}
	if current.Type != read.Type || current.CategoryID != read.CategoryID {
		return errStaleRead
	}
	return nil
}

// GetTransactionTagLinks lists every tag attached to the user's transactions.
func (s *transactionService) GetTransactionTagLinks(ctx context.Context, userID string) ([]TransactionTagLink, error) {
	links := []TransactionTagLink{}
	err := s.db.WithContext(ctx).
		Table("transaction_tags").
		Select("transaction_tags.transaction_id, transaction_tags.tag_id").
		Joins("JOIN transactions ON transactions.id = transaction_tags.transaction_id").
		Where("transactions.user_id = ? AND transactions.deleted_at IS NULL", userID).
		Order("transaction_tags.transaction_id, transaction_tags.tag_id").
		Scan(&links).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return links, nil
}

// categoryFor loads the user's category and checks it can hold transactions
// of type t.
func (s *transactionService) categoryFor(db *gorm.DB, userID, categoryID string, t models.TransactionType) (*models.Category, error) {
	var category models.Category
	if err := db.Where("id = ? AND user_id = ?", categoryID, userID).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrCategoryNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if !category.MatchesTransactionType(t) {
		return nil, apperrors.ErrCategoryTypeMismatch
	}
	return &category, nil
}

// loadTags resolves tag IDs, all of which must belong to the user.
func (s *transactionService) loadTags(db *gorm.DB, userID string, ids []string) ([]models.Tag, error) {
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return []models.Tag{}, nil
	}

	var tags []models.Tag
	if err := db.Where("user_id = ? AND id IN ?", userID, ids).Find(&tags).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if len(tags) != len(ids) {
		return nil, apperrors.ErrTagNotFound
	}
	return tags, nil
}

// keysFor returns the reconciliation key of an expense, or nothing for income.
func keysFor(t *models.Transaction) []reconciler.Key {
	if !t.IsExpense() {
		return nil
	}
	return []reconciler.Key{{UserID: t.UserID, CategoryID: t.CategoryID}}
}

func validTransactionType(t models.TransactionType) bool {
	return t == models.TransactionTypeIncome || t == models.TransactionTypeExpense
}

// validateAmount rounds to cents and requires a positive result.
func validateAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return decimal.Zero, apperrors.WithMessage(apperrors.ErrInvalidInput, "amount must be greater than zero")
	}
	return amount, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
