package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"fintrack/internal/events"
	"fintrack/internal/models"
)

// gormLedger sums transactions with a single aggregate query.
type gormLedger struct {
	db *gorm.DB
}

// NewGormLedger returns a LedgerQuery backed by db.
func NewGormLedger(db *gorm.DB) LedgerQuery {
	return &gormLedger{db: db}
}

func (l *gormLedger) SumExpenseAmount(ctx context.Context, userID, categoryID string, period DateRange) (decimal.Decimal, error) {
	var spend decimal.Decimal
	err := l.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND category_id = ? AND type = ? AND date BETWEEN ? AND ?",
			userID, categoryID, models.TransactionTypeExpense, period.From.UTC(), period.To.UTC()).
		Row().
		Scan(&spend)
	if err != nil {
		return decimal.Zero, err
	}
	// SQLite may hand back a float for numeric sums.
	return spend.Round(2), nil
}

// gormBudgets reads budgets with their category, which the notification
// message needs.
type gormBudgets struct {
	db *gorm.DB
}

// NewGormBudgetStore returns a BudgetStore backed by db.
func NewGormBudgetStore(db *gorm.DB) BudgetStore {
	return &gormBudgets{db: db}
}

func (s *gormBudgets) ListBudgets(ctx context.Context, userID, categoryID string) ([]models.Budget, error) {
	var budgets []models.Budget
	err := s.db.WithContext(ctx).
		Preload("Category", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("user_id = ? AND category_id = ?", userID, categoryID).
		Order("id").
		Find(&budgets).Error
	return budgets, err
}

func (s *gormBudgets) Save(ctx context.Context, budget *models.Budget) error {
	return s.db.WithContext(ctx).
		Model(budget).
		UpdateColumn("total_spent", budget.TotalSpent).Error
}

// gormNotifications persists notifications and records the resulting events
// so they can be published once the surrounding transaction commits.
type gormNotifications struct {
	db     *gorm.DB
	outbox *[]events.Event
	now    func() time.Time
}

// NewGormNotificationStore returns a NotificationStore backed by db. When
// outbox is non-nil, every create and effective delete appends an event to it.
func NewGormNotificationStore(db *gorm.DB, outbox *[]events.Event) NotificationStore {
	return &gormNotifications{db: db, outbox: outbox, now: time.Now}
}

func (s *gormNotifications) Find(ctx context.Context, userID, budgetID string) (*models.Notification, error) {
	var notification models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND budget_id = ?", userID, budgetID).
		First(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &notification, nil
}

func (s *gormNotifications) Create(ctx context.Context, notification *models.Notification) error {
	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return err
	}
	s.record(events.Event{
		Type:     events.BudgetOverspent,
		UserID:   notification.UserID,
		BudgetID: notification.BudgetID,
		Message:  notification.Message,
	})
	return nil
}

func (s *gormNotifications) DeleteBy(ctx context.Context, userID, budgetID string) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND budget_id = ?", userID, budgetID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.record(events.Event{
			Type:     events.BudgetRecovered,
			UserID:   userID,
			BudgetID: budgetID,
		})
	}
	return nil
}

func (s *gormNotifications) record(event events.Event) {
	if s.outbox == nil {
		return
	}
	event.OccurredAt = s.now().UTC()
	*s.outbox = append(*s.outbox, event)
}

// NewGorm returns a Reconciler whose stores all run on db, typically an open
// transaction.
func NewGorm(db *gorm.DB, outbox *[]events.Event) *Reconciler {
	return New(NewGormLedger(db), NewGormBudgetStore(db), NewGormNotificationStore(db, outbox))
}
