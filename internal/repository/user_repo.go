package repository

import (
	"context"
	"strings"

	"github.com/usermodel/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository handles user data access.
// Every method takes an optional transaction; nil runs against the pool.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts the user row only; children are written by their own repositories
func (r *UserRepository) Create(ctx context.Context, tx *gorm.DB, user *models.User) error {
	err := session(ctx, r.db, tx).Omit(clause.Associations).Create(user).Error
	return translate(err, nil)
}

// GetByID retrieves a user with emails (by position) and role links
func (r *UserRepository) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.User, error) {
	var user models.User
	err := withChildren(session(ctx, r.db, tx)).First(&user, id).Error
	if err != nil {
		return nil, translate(err, ErrUserNotFound)
	}
	user.FillPrimaryEmail()
	return &user, nil
}

// GetByUsername retrieves a user by exact, case-insensitive username
func (r *UserRepository) GetByUsername(ctx context.Context, tx *gorm.DB, username string) (*models.User, error) {
	var user models.User
	err := withChildren(session(ctx, r.db, tx)).
		Where("username = ?", NormalizeUsername(username)).
		First(&user).Error
	if err != nil {
		return nil, translate(err, ErrUserNotFound)
	}
	user.FillPrimaryEmail()
	return &user, nil
}

// Exists reports whether a user row with the id exists
func (r *UserRepository) Exists(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	var count int64
	err := session(ctx, r.db, tx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// ExistsByUsername reports whether another user already holds the username.
// excludeID skips the user being updated; pass 0 on insert.
func (r *UserRepository) ExistsByUsername(ctx context.Context, tx *gorm.DB, username string, excludeID uint) (bool, error) {
	var count int64
	q := session(ctx, r.db, tx).Model(&models.User{}).Where("username = ?", NormalizeUsername(username))
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	err := q.Count(&count).Error
	return count > 0, err
}

// List retrieves all users ordered by id
func (r *UserRepository) List(ctx context.Context, tx *gorm.DB) ([]models.User, error) {
	var users []models.User
	if err := withChildren(session(ctx, r.db, tx)).Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		users[i].FillPrimaryEmail()
	}
	return users, nil
}

// SearchByUsername retrieves users whose username contains substr, ordered by username, with pagination
func (r *UserRepository) SearchByUsername(ctx context.Context, tx *gorm.DB, substr string, page, pageSize int) ([]models.User, int64, error) {
	var users []models.User
	var total int64

	// whitespace is significant: usernames may contain inner spaces
	pattern := "%" + escapeLike(strings.ToLower(substr)) + "%"
	filter := func(db *gorm.DB) *gorm.DB {
		return db.Where(`LOWER(username) LIKE ? ESCAPE '\'`, pattern)
	}

	// Count total
	if err := session(ctx, r.db, tx).Model(&models.User{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Get paginated results
	offset := (page - 1) * pageSize
	err := withChildren(session(ctx, r.db, tx)).
		Scopes(filter).
		Order("username ASC").
		Offset(offset).
		Limit(pageSize).
		Find(&users).Error
	if err != nil {
		return nil, 0, err
	}
	for i := range users {
		users[i].FillPrimaryEmail()
	}
	return users, total, nil
}

// UpdateFields overwrites the given columns of one user
func (r *UserRepository) UpdateFields(ctx context.Context, tx *gorm.DB, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	result := session(ctx, r.db, tx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return translate(result.Error, nil)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete removes the user row. Children must be deleted first by the caller.
func (r *UserRepository) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	result := session(ctx, r.db, tx).Delete(&models.User{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CountSecondaryEmails returns, for every user, the number of emails beyond the primary one
func (r *UserRepository) CountSecondaryEmails(ctx context.Context, tx *gorm.DB) ([]models.UserEmailCount, error) {
	var counts []models.UserEmailCount
	err := session(ctx, r.db, tx).
		Table("users").
		Select("users.id AS user_id, users.username AS username, " +
			"CASE WHEN COUNT(useremails.id) > 0 THEN COUNT(useremails.id) - 1 ELSE 0 END AS count_emails").
		Joins("LEFT JOIN useremails ON useremails.user_id = users.id").
		Group("users.id, users.username").
		Order("users.id ASC").
		Scan(&counts).Error
	return counts, err
}

// NormalizeUsername is the stored form of a username
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func withChildren(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Useremails", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		Preload("Roles", func(db *gorm.DB) *gorm.DB {
			return db.Order("role_id ASC")
		}).
		Preload("Roles.Role")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
