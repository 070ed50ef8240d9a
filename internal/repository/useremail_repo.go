package repository

import (
	"context"

	"github.com/usermodel/internal/models"
	"gorm.io/gorm"
)

// UseremailRepository handles useremail data access
type UseremailRepository struct {
	db *gorm.DB
}

// NewUseremailRepository creates a new UseremailRepository
func NewUseremailRepository(db *gorm.DB) *UseremailRepository {
	return &UseremailRepository{db: db}
}

// CreateBatch inserts emails for one user, assigning positions in slice order
func (r *UseremailRepository) CreateBatch(ctx context.Context, tx *gorm.DB, userID uint, emails []string) ([]models.Useremail, error) {
	if len(emails) == 0 {
		return []models.Useremail{}, nil
	}
	rows := make([]models.Useremail, len(emails))
	for i, email := range emails {
		rows[i] = models.Useremail{UserID: userID, Email: email, Position: i}
	}
	if err := session(ctx, r.db, tx).Create(&rows).Error; err != nil {
		return nil, translate(err, nil)
	}
	return rows, nil
}

// GetByUserID retrieves all emails of a user, primary first
func (r *UseremailRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID uint) ([]models.Useremail, error) {
	var emails []models.Useremail
	err := session(ctx, r.db, tx).
		Where("user_id = ?", userID).
		Order("position ASC, id ASC").
		Find(&emails).Error
	return emails, err
}

// DeleteByUserID deletes all emails of a user
func (r *UseremailRepository) DeleteByUserID(ctx context.Context, tx *gorm.DB, userID uint) (int64, error) {
	result := session(ctx, r.db, tx).Where("user_id = ?", userID).Delete(&models.Useremail{})
	return result.RowsAffected, result.Error
}
