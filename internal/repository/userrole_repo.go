package repository

import (
	"context"

	"github.com/usermodel/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRoleRepository handles user/role link data access
type UserRoleRepository struct {
	db *gorm.DB
}

// NewUserRoleRepository creates a new UserRoleRepository
func NewUserRoleRepository(db *gorm.DB) *UserRoleRepository {
	return &UserRoleRepository{db: db}
}

// Create inserts one link. Returns ErrDuplicate when the pair already exists.
func (r *UserRoleRepository) Create(ctx context.Context, tx *gorm.DB, userID, roleID uint) error {
	link := models.UserRole{UserID: userID, RoleID: roleID}
	return translate(session(ctx, r.db, tx).Omit(clause.Associations).Create(&link).Error, nil)
}

// CreateBatch inserts links for one user
func (r *UserRoleRepository) CreateBatch(ctx context.Context, tx *gorm.DB, userID uint, roleIDs []uint) error {
	if len(roleIDs) == 0 {
		return nil
	}
	links := make([]models.UserRole, len(roleIDs))
	for i, roleID := range roleIDs {
		links[i] = models.UserRole{UserID: userID, RoleID: roleID}
	}
	return translate(session(ctx, r.db, tx).Omit(clause.Associations).Create(&links).Error, nil)
}

// Exists reports whether the link exists
func (r *UserRoleRepository) Exists(ctx context.Context, tx *gorm.DB, userID, roleID uint) (bool, error) {
	var count int64
	err := session(ctx, r.db, tx).Model(&models.UserRole{}).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Count(&count).Error
	return count > 0, err
}

// GetByUserID retrieves the links of a user with their roles
func (r *UserRoleRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID uint) ([]models.UserRole, error) {
	var links []models.UserRole
	err := session(ctx, r.db, tx).
		Preload("Role").
		Where("user_id = ?", userID).
		Order("role_id ASC").
		Find(&links).Error
	return links, err
}

// Delete removes one link
func (r *UserRoleRepository) Delete(ctx context.Context, tx *gorm.DB, userID, roleID uint) error {
	result := session(ctx, r.db, tx).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Delete(&models.UserRole{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserRoleNotFound
	}
	return nil
}

// DeleteByUserID removes all links of a user
func (r *UserRoleRepository) DeleteByUserID(ctx context.Context, tx *gorm.DB, userID uint) (int64, error) {
	result := session(ctx, r.db, tx).Where("user_id = ?", userID).Delete(&models.UserRole{})
	return result.RowsAffected, result.Error
}
