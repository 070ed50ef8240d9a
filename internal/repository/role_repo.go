package repository

import (
	"context"

	"github.com/usermodel/internal/models"
	"gorm.io/gorm"
)

// RoleRepository handles role data access
type RoleRepository struct {
	db *gorm.DB
}

// NewRoleRepository creates a new RoleRepository
func NewRoleRepository(db *gorm.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// Create creates a new role
func (r *RoleRepository) Create(ctx context.Context, tx *gorm.DB, role *models.Role) error {
	return translate(session(ctx, r.db, tx).Create(role).Error, nil)
}

// GetByID retrieves a role by ID
func (r *RoleRepository) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Role, error) {
	var role models.Role
	if err := session(ctx, r.db, tx).First(&role, id).Error; err != nil {
		return nil, translate(err, ErrRoleNotFound)
	}
	return &role, nil
}

// GetByName retrieves a role by its stored (upper-case) name
func (r *RoleRepository) GetByName(ctx context.Context, tx *gorm.DB, name string) (*models.Role, error) {
	var role models.Role
	if err := session(ctx, r.db, tx).Where("name = ?", name).First(&role).Error; err != nil {
		return nil, translate(err, ErrRoleNotFound)
	}
	return &role, nil
}

// List retrieves all roles ordered by id
func (r *RoleRepository) List(ctx context.Context, tx *gorm.DB) ([]models.Role, error) {
	var roles []models.Role
	err := session(ctx, r.db, tx).Order("id ASC").Find(&roles).Error
	return roles, err
}

// Rename updates the role name
func (r *RoleRepository) Rename(ctx context.Context, tx *gorm.DB, id uint, name string) error {
	result := session(ctx, r.db, tx).Model(&models.Role{}).Where("id = ?", id).Update("name", name)
	if result.Error != nil {
		return translate(result.Error, nil)
	}
	if result.RowsAffected == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// MissingIDs returns the ids from the input that have no role row, in input order
func (r *RoleRepository) MissingIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []uint
	if err := session(ctx, r.db, tx).Model(&models.Role{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	present := make(map[uint]struct{}, len(found))
	for _, id := range found {
		present[id] = struct{}{}
	}
	var missing []uint
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
