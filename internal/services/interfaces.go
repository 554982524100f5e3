package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"fintrack/internal/models"
	"fintrack/internal/pagination"
	"fintrack/internal/reconciler"
)

// UserServicer defines the contract for user-related business logic.
type UserServicer interface {
	CreateUser(ctx context.Context, email, password, firstName, lastName string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	VerifyPassword(user *models.User, password string) bool
	AttemptLogin(ctx context.Context, email, password string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID string, firstName, lastName *string) (*models.User, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	StoreRefreshTokenHash(ctx context.Context, userID, tokenHash string) error
	GetRefreshTokenHash(ctx context.Context, userID string) (string, error)
}

// CategoryServicer defines the contract for category-related business logic.
type CategoryServicer interface {
	CreateCategory(ctx context.Context, userID string, input CategoryInput) (*models.Category, error)
	GetUserCategories(ctx context.Context, userID string, categoryType *models.CategoryType, page pagination.PageRequest) (*pagination.PageResponse[models.Category], error)
	GetCategoryByID(ctx context.Context, userID, categoryID string) (*models.Category, error)
	UpdateCategory(ctx context.Context, userID, categoryID string, update CategoryUpdate) (*models.Category, error)
	DeleteCategory(ctx context.Context, userID, categoryID string) error
}

// CategoryInput carries the fields of a new category.
type CategoryInput struct {
	Name        string
	Type        models.CategoryType
	Description string
	Icon        string
	Color       string
	ParentID    *string
}

// CategoryUpdate holds the category fields to change; nil means unchanged.
// An empty ParentID clears the parent.
type CategoryUpdate struct {
	Name        *string
	Description *string
	Icon        *string
	Color       *string
	ParentID    *string
}

// TagServicer defines the contract for tag management.
type TagServicer interface {
	CreateTag(ctx context.Context, userID, name string) (*models.Tag, error)
	GetUserTags(ctx context.Context, userID string, page pagination.PageRequest) (*pagination.PageResponse[models.Tag], error)
	GetTagByID(ctx context.Context, userID, tagID string) (*models.Tag, error)
	DeleteTag(ctx context.Context, userID, tagID string) error
}

// TransactionFilter holds optional filter parameters for listing transactions.
// Date bounds are inclusive.
type TransactionFilter struct {
	FromDate   *time.Time
	ToDate     *time.Time
	Type       *models.TransactionType
	CategoryID *string
	TagID      *string
	MinAmount  *decimal.Decimal
	MaxAmount  *decimal.Decimal
}

// TransactionInput carries the fields of a new transaction.
type TransactionInput struct {
	CategoryID  string
	Type        models.TransactionType
	Amount      decimal.Decimal
	Description string
	Date        time.Time
	TagIDs      []string
}

// TransactionUpdate holds the transaction fields to change; nil means
// unchanged. A non-nil TagIDs replaces the tag set.
type TransactionUpdate struct {
	CategoryID  *string
	Type        *models.TransactionType
	Amount      *decimal.Decimal
	Description *string
	Date        *time.Time
	TagIDs      *[]string
}

// TransactionServicer defines the contract for transaction-related business logic.
type TransactionServicer interface {
	CreateTransaction(ctx context.Context, userID string, input TransactionInput) (*models.Transaction, error)
	GetUserTransactions(ctx context.Context, userID string, page pagination.PageRequest, filter TransactionFilter) (*pagination.PageResponse[models.Transaction], error)
	GetTransactionByID(ctx context.Context, userID, transactionID string) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, userID, transactionID string, update TransactionUpdate) (*models.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, transactionID string) error
	GetTransactionTagLinks(ctx context.Context, userID string) ([]TransactionTagLink, error)
}

// TransactionTagLink is one row of the transaction-tag association.
type TransactionTagLink struct {
	TransactionID string `json:"transaction_id"`
	TagID         string `json:"tag_id"`
}

// BudgetInput carries the fields of a new budget.
type BudgetInput struct {
	CategoryID  string
	Name        string
	Description string
	LimitAmount decimal.Decimal
	StartDate   time.Time
	EndDate     time.Time
}

// BudgetUpdate holds the budget fields to change; nil means unchanged.
type BudgetUpdate struct {
	CategoryID  *string
	Name        *string
	Description *string
	LimitAmount *decimal.Decimal
	StartDate   *time.Time
	EndDate     *time.Time
}

// BudgetFilter narrows a budget listing.
type BudgetFilter struct {
	CategoryID *string
	OverLimit  *bool
}

// BudgetProgress compares a budget's limit with its reconciled spend.
type BudgetProgress struct {
	BudgetID   string          `json:"budget_id"`
	Budgeted   decimal.Decimal `json:"budgeted" swaggertype:"string"`
	Spent      decimal.Decimal `json:"spent" swaggertype:"string"`
	Remaining  decimal.Decimal `json:"remaining" swaggertype:"string"`
	Percentage float64         `json:"percentage"`
	OverLimit  bool            `json:"over_limit"`
}

// BudgetServicer defines the contract for budget-related business logic.
type BudgetServicer interface {
	CreateBudget(ctx context.Context, userID string, input BudgetInput) (*models.Budget, error)
	GetUserBudgets(ctx context.Context, userID string, page pagination.PageRequest, filter BudgetFilter) (*pagination.PageResponse[models.Budget], error)
	GetBudgetByID(ctx context.Context, userID, budgetID string) (*models.Budget, error)
	UpdateBudget(ctx context.Context, userID, budgetID string, update BudgetUpdate) (*models.Budget, error)
	DeleteBudget(ctx context.Context, userID, budgetID string) error
	GetBudgetProgress(ctx context.Context, userID, budgetID string) (*BudgetProgress, error)
}

// NotificationServicer defines the contract for reading overspend notifications.
type NotificationServicer interface {
	GetUserNotifications(ctx context.Context, userID string, unreadOnly bool, page pagination.PageRequest) (*pagination.PageResponse[models.Notification], error)
	GetNotificationByID(ctx context.Context, userID, notificationID string) (*models.Notification, error)
	MarkAsRead(ctx context.Context, userID, notificationID string) (*models.Notification, error)
	MarkAllAsRead(ctx context.Context, userID string) (int64, error)
}

// LedgerApplier runs a ledger mutation and the reconciliation of the affected
// budgets as one unit. It is satisfied by *reconciler.Service.
type LedgerApplier interface {
	Apply(ctx context.Context, keys []reconciler.Key, mutate func(tx *gorm.DB) error) error
}

// Reconciler recomputes every budget on demand. It is satisfied by
// *reconciler.Service.
type Reconciler interface {
	ReconcileAll(ctx context.Context, concurrency int) (int, error)
}

// AuditServicer defines the contract for audit logging.
type AuditServicer interface {
	Log(ctx context.Context, userID, action, resourceType, resourceID, ipAddress string, changes map[string]interface{})
}
