package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"fintrack/internal/database"
	apperrors "fintrack/internal/errors"
	"fintrack/internal/models"
	"fintrack/internal/pagination"
)

// categoryService handles category-related business logic.
type categoryService struct {
	db *gorm.DB
}

// NewCategoryService creates a new CategoryServicer.
func NewCategoryService(db *gorm.DB) CategoryServicer {
	return &categoryService{db: db}
}

// CreateCategory creates a new category
func (s *categoryService) CreateCategory(ctx context.Context, userID string, input CategoryInput) (*models.Category, error) {
	if input.Name == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "category name is required")
	}
	if input.Type != models.CategoryTypeIncome && input.Type != models.CategoryTypeExpense {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "category type must be income or expense")
	}
	db := s.db.WithContext(ctx)

	if err := s.ensureNameAvailable(db, userID, input.Name, ""); err != nil {
		return nil, err
	}

	if input.ParentID != nil && *input.ParentID != "" {
		if _, err := s.findParent(db, userID, *input.ParentID); err != nil {
			return nil, err
		}
	} else {
		input.ParentID = nil
	}

	category := &models.Category{
		UserID:      userID,
		Name:        input.Name,
		Type:        input.Type,
		Description: input.Description,
		Icon:        input.Icon,
		Color:       input.Color,
		ParentID:    input.ParentID,
	}

	if err := db.Create(category).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperrors.ErrDuplicateCategory
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	return category, nil
}

// GetUserCategories retrieves a paginated list of categories for a user,
// optionally restricted to one type.
func (s *categoryService) GetUserCategories(ctx context.Context, userID string, categoryType *models.CategoryType, page pagination.PageRequest) (*pagination.PageResponse[models.Category], error) {
	base := s.db.WithContext(ctx).Model(&models.Category{}).Where("user_id = ?", userID)
	if categoryType != nil {
		base = base.Where("type = ?", *categoryType)
	}

	result, err := pagination.Fetch[models.Category](base, page, "name ASC")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return result, nil
}

// GetCategoryByID retrieves a category by ID for a specific user
func (s *categoryService) GetCategoryByID(ctx context.Context, userID, categoryID string) (*models.Category, error) {
	return s.findCategory(s.db.WithContext(ctx), userID, categoryID)
}

// UpdateCategory updates an existing category. The type is fixed at creation
// because transactions and budgets depend on it.
func (s *categoryService) UpdateCategory(ctx context.Context, userID, categoryID string, update CategoryUpdate) (*models.Category, error) {
	db := s.db.WithContext(ctx)

	category, err := s.findCategory(db, userID, categoryID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if update.Name != nil && *update.Name != category.Name {
		if *update.Name == "" {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "category name is required")
		}
		if err := s.ensureNameAvailable(db, userID, *update.Name, categoryID); err != nil {
			return nil, err
		}
		updates["name"] = *update.Name
	}
	if update.Description != nil {
		updates["description"] = *update.Description
	}
	if update.Icon != nil {
		updates["icon"] = *update.Icon
	}
	if update.Color != nil {
		updates["color"] = *update.Color
	}
	if update.ParentID != nil {
		if *update.ParentID == "" {
			updates["parent_id"] = nil
		} else {
			if *update.ParentID == categoryID {
				return nil, apperrors.ErrSelfParentCategory
			}
			if _, err := s.findParent(db, userID, *update.ParentID); err != nil {
				return nil, err
			}
			updates["parent_id"] = *update.ParentID
		}
	}

	if len(updates) > 0 {
		if err := db.Model(category).Updates(updates).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return nil, apperrors.ErrDuplicateCategory
			}
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
	}

	return s.findCategory(db, userID, categoryID)
}

// DeleteCategory deletes a category that nothing references.
func (s *categoryService) DeleteCategory(ctx context.Context, userID, categoryID string) error {
	db := s.db.WithContext(ctx)

	category, err := s.findCategory(db, userID, categoryID)
	if err != nil {
		return err
	}

	var childCount int64
	if err := db.Model(&models.Category{}).Where("parent_id = ?", categoryID).Count(&childCount).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if childCount > 0 {
		return apperrors.ErrCategoryHasChildren
	}

	for _, model := range []interface{}{&models.Transaction{}, &models.Budget{}} {
		var refs int64
		if err := db.Model(model).Where("category_id = ?", categoryID).Count(&refs).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		if refs > 0 {
			return apperrors.ErrCategoryInUse
		}
	}

	if err := db.Delete(category).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

func (s *categoryService) findCategory(db *gorm.DB, userID, categoryID string) (*models.Category, error) {
	var category models.Category
	if err := db.Where("id = ? AND user_id = ?", categoryID, userID).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrCategoryNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &category, nil
}

func (s *categoryService) findParent(db *gorm.DB, userID, parentID string) (*models.Category, error) {
	parent, err := s.findCategory(db, userID, parentID)
	if errors.Is(err, apperrors.ErrCategoryNotFound) {
		return nil, apperrors.WithMessage(apperrors.ErrCategoryNotFound, "parent category not found")
	}
	return parent, err
}

// ensureNameAvailable fails when another of the user's categories already
// uses name. exceptID is skipped so a category can keep its own name.
func (s *categoryService) ensureNameAvailable(db *gorm.DB, userID, name, exceptID string) error {
	q := db.Model(&models.Category{}).Where("user_id = ? AND name = ?", userID, name)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count > 0 {
		return apperrors.ErrDuplicateCategory
	}
	return nil
}
