package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/usermodel/internal/apperr"
	"github.com/usermodel/internal/events"
	"github.com/usermodel/internal/logger"
	"github.com/usermodel/internal/models"
	"github.com/usermodel/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// PasswordHasher hashes passwords before they are stored. The service never compares them.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// UserService keeps a User, its emails and its role links consistent.
// Every mutation runs in one transaction; events are published after commit.
type UserService struct {
	db        *gorm.DB
	userRepo  *repository.UserRepository
	emailRepo *repository.UseremailRepository
	roleRepo  *repository.RoleRepository
	linkRepo  *repository.UserRoleRepository
	hasher    PasswordHasher
	publisher events.Publisher
	validate  *validator.Validate
	tracer    trace.Tracer
	log       *logger.Logger
}

// NewUserService creates a new UserService
func NewUserService(
	db *gorm.DB,
	userRepo *repository.UserRepository,
	emailRepo *repository.UseremailRepository,
	roleRepo *repository.RoleRepository,
	linkRepo *repository.UserRoleRepository,
	hasher PasswordHasher,
	publisher events.Publisher,
	log *logger.Logger,
) *UserService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &UserService{
		db:        db,
		userRepo:  userRepo,
		emailRepo: emailRepo,
		roleRepo:  roleRepo,
		linkRepo:  linkRepo,
		hasher:    hasher,
		publisher: publisher,
		validate:  newValidator(),
		tracer:    otel.Tracer("github.com/usermodel/internal/service"),
		log:       log.With("service", "UserService"),
	}
}

// FindAll retrieves every user with children
func (s *UserService) FindAll(ctx context.Context) ([]models.User, error) {
	return s.userRepo.List(ctx, nil)
}

// FindByID retrieves a user with fully populated children
func (s *UserService) FindByID(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, userErr(err, id)
	}
	return user, nil
}

// FindByName retrieves a user by exact, case-insensitive username
func (s *UserService) FindByName(ctx context.Context, name string) (*models.User, error) {
	user, err := s.userRepo.GetByUsername(ctx, nil, name)
	if err != nil {
		return nil, userErr(err, name)
	}
	return user, nil
}

// FindByNameContaining retrieves a page of users whose username contains substr
func (s *UserService) FindByNameContaining(ctx context.Context, substr string, page, pageSize int) ([]models.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return s.userRepo.SearchByUsername(ctx, nil, substr, page, pageSize)
}

// CountEmailsPerUser reports, per user, the number of emails beyond the primary one
func (s *UserService) CountEmailsPerUser(ctx context.Context) ([]models.UserEmailCount, error) {
	return s.userRepo.CountSecondaryEmails(ctx, nil)
}

// Insert creates a user with its emails and role links. The payload never carries an id.
func (s *UserService) Insert(ctx context.Context, in *UserInput) (user *models.User, err error) {
	ctx, end := s.span(ctx, "UserService.Insert")
	defer func() { end(err) }()

	norm, err := s.normalizeInput(in)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUsernameFree(ctx, tx, norm.username, 0); err != nil {
			return err
		}
		if err := s.ensureRolesExist(ctx, tx, norm.roleIDs); err != nil {
			return err
		}

		created := &models.User{Username: norm.username, Password: hash}
		if err := s.userRepo.Create(ctx, tx, created); err != nil {
			return userErr(err, norm.username)
		}
		if err := s.writeChildren(ctx, tx, created.ID, norm.emails, norm.roleIDs); err != nil {
			return err
		}

		user, err = s.userRepo.GetByID(ctx, tx, created.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user created", "user_id", user.ID, "username", user.Username)
	s.publish(ctx, events.New(events.UserCreated, user.ID))
	return user, nil
}

// FullReplace overwrites the user's scalar fields and replaces both owned collections
// with exactly the submitted ones. The path id wins over anything in the payload.
func (s *UserService) FullReplace(ctx context.Context, id uint, in *UserInput) (user *models.User, err error) {
	ctx, end := s.span(ctx, "UserService.FullReplace")
	defer func() { end(err) }()

	norm, err := s.normalizeInput(in)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUserExists(ctx, tx, id); err != nil {
			return err
		}
		if err := s.ensureUsernameFree(ctx, tx, norm.username, id); err != nil {
			return err
		}
		if err := s.ensureRolesExist(ctx, tx, norm.roleIDs); err != nil {
			return err
		}

		fields := map[string]interface{}{
			"username": norm.username,
			"password": hash,
		}
		if err := s.userRepo.UpdateFields(ctx, tx, id, fields); err != nil {
			return userErr(err, id)
		}
		if err := s.clearChildren(ctx, tx, id, true, true); err != nil {
			return err
		}
		if err := s.writeChildren(ctx, tx, id, norm.emails, norm.roleIDs); err != nil {
			return err
		}

		user, err = s.userRepo.GetByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user replaced", "user_id", id)
	s.publish(ctx, events.New(events.UserReplaced, id))
	return user, nil
}

// PartialUpdate applies only the fields present in the patch. A non-empty useremails or
// roles list replaces that whole collection; an empty or absent one leaves it untouched.
func (s *UserService) PartialUpdate(ctx context.Context, id uint, patch *UserPatch) (user *models.User, err error) {
	ctx, end := s.span(ctx, "UserService.PartialUpdate")
	defer func() { end(err) }()

	if patch == nil {
		patch = &UserPatch{}
	}

	fields := map[string]interface{}{}
	var usernameChange string
	if patch.Username.IsSpecified() {
		if patch.Username.IsNull() {
			return nil, apperr.Invalid("username", "cannot be cleared")
		}
		if usernameChange, err = normalizeUsername(patch.Username.MustGet()); err != nil {
			return nil, err
		}
		fields["username"] = usernameChange
	}
	if patch.Password.IsSpecified() {
		raw, getErr := patch.Password.Get()
		if getErr != nil || raw == "" {
			return nil, apperr.Invalid("password", "cannot be cleared")
		}
		hash, err := s.hasher.Hash(raw)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		fields["password"] = hash
	}

	var emails []string
	replaceEmails := false
	if in, getErr := patch.Useremails.Get(); getErr == nil && len(in) > 0 {
		if emails, err = s.normalizeEmails(in); err != nil {
			return nil, err
		}
		replaceEmails = true
	}

	var roleIDs []uint
	replaceRoles := false
	if in, getErr := patch.Roles.Get(); getErr == nil && len(in) > 0 {
		if roleIDs, err = normalizeRoleLinks(in); err != nil {
			return nil, err
		}
		replaceRoles = true
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUserExists(ctx, tx, id); err != nil {
			return err
		}
		if usernameChange != "" {
			if err := s.ensureUsernameFree(ctx, tx, usernameChange, id); err != nil {
				return err
			}
		}
		if replaceRoles {
			if err := s.ensureRolesExist(ctx, tx, roleIDs); err != nil {
				return err
			}
		}

		if err := s.userRepo.UpdateFields(ctx, tx, id, fields); err != nil {
			return userErr(err, id)
		}
		if err := s.clearChildren(ctx, tx, id, replaceEmails, replaceRoles); err != nil {
			return err
		}
		if err := s.writeChildren(ctx, tx, id, emails, roleIDs); err != nil {
			return err
		}

		user, err = s.userRepo.GetByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user updated", "user_id", id,
		"fields", len(fields), "emails_replaced", replaceEmails, "roles_replaced", replaceRoles)
	s.publish(ctx, events.New(events.UserUpdated, id))
	return user, nil
}

// Delete removes the user together with its role links and emails
func (s *UserService) Delete(ctx context.Context, id uint) (err error) {
	ctx, end := s.span(ctx, "UserService.Delete")
	defer func() { end(err) }()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUserExists(ctx, tx, id); err != nil {
			return err
		}
		if err := s.clearChildren(ctx, tx, id, true, true); err != nil {
			return err
		}
		return userErr(s.userRepo.Delete(ctx, tx, id), id)
	})
	if err != nil {
		return err
	}

	s.log.Info("user deleted", "user_id", id)
	s.publish(ctx, events.New(events.UserDeleted, id))
	return nil
}

// AddUserRole links an existing user to an existing role
func (s *UserService) AddUserRole(ctx context.Context, userID, roleID uint) (err error) {
	ctx, end := s.span(ctx, "UserService.AddUserRole")
	defer func() { end(err) }()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUserExists(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := s.roleRepo.GetByID(ctx, tx, roleID); err != nil {
			return roleErr(err, roleID)
		}
		exists, err := s.linkRepo.Exists(ctx, tx, userID, roleID)
		if err != nil {
			return err
		}
		if exists {
			return linkConflict(userID, roleID)
		}
		if err := s.linkRepo.Create(ctx, tx, userID, roleID); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return linkConflict(userID, roleID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("user role added", "user_id", userID, "role_id", roleID)
	s.publish(ctx, events.New(events.UserRoleAdded, userID).WithRole(roleID))
	return nil
}

// RemoveUserRole deletes the link between a user and a role
func (s *UserService) RemoveUserRole(ctx context.Context, userID, roleID uint) (err error) {
	ctx, end := s.span(ctx, "UserService.RemoveUserRole")
	defer func() { end(err) }()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.linkRepo.Delete(ctx, tx, userID, roleID); err != nil {
			if errors.Is(err, repository.ErrUserRoleNotFound) {
				return apperr.NotFound("userrole", fmt.Sprintf("user %d / role %d", userID, roleID))
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("user role removed", "user_id", userID, "role_id", roleID)
	s.publish(ctx, events.New(events.UserRoleRemoved, userID).WithRole(roleID))
	return nil
}

func (s *UserService) ensureUserExists(ctx context.Context, tx *gorm.DB, id uint) error {
	exists, err := s.userRepo.Exists(ctx, tx, id)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("user", id)
	}
	return nil
}

func (s *UserService) ensureUsernameFree(ctx context.Context, tx *gorm.DB, username string, selfID uint) error {
	taken, err := s.userRepo.ExistsByUsername(ctx, tx, username, selfID)
	if err != nil {
		return err
	}
	if taken {
		return apperr.Conflict("user", fmt.Sprintf("username %q is taken", username))
	}
	return nil
}

func (s *UserService) ensureRolesExist(ctx context.Context, tx *gorm.DB, roleIDs []uint) error {
	missing, err := s.roleRepo.MissingIDs(ctx, tx, roleIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return apperr.NotFound("role", missing[0])
	}
	return nil
}

// clearChildren deletes the selected owned collections. Role links go first, then emails.
func (s *UserService) clearChildren(ctx context.Context, tx *gorm.DB, userID uint, emails, roles bool) error {
	if roles {
		if _, err := s.linkRepo.DeleteByUserID(ctx, tx, userID); err != nil {
			return fmt.Errorf("delete role links: %w", err)
		}
	}
	if emails {
		if _, err := s.emailRepo.DeleteByUserID(ctx, tx, userID); err != nil {
			return fmt.Errorf("delete emails: %w", err)
		}
	}
	return nil
}

func (s *UserService) writeChildren(ctx context.Context, tx *gorm.DB, userID uint, emails []string, roleIDs []uint) error {
	if _, err := s.emailRepo.CreateBatch(ctx, tx, userID, emails); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return apperr.Conflict("useremail", "duplicate email for user")
		}
		return fmt.Errorf("insert emails: %w", err)
	}
	if err := s.linkRepo.CreateBatch(ctx, tx, userID, roleIDs); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return apperr.Conflict("userrole", "duplicate role link")
		}
		return fmt.Errorf("insert role links: %w", err)
	}
	return nil
}

// publish runs after commit; a delivery failure is logged, the committed change stands
func (s *UserService) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("event publish failed", "type", event.Type, "user_id", event.UserID, "error", err)
	}
}

func (s *UserService) span(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func userErr(err error, key any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrUserNotFound):
		return apperr.NotFound("user", key)
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Conflict("user", fmt.Sprintf("username %v is taken", key))
	}
	return err
}

func roleErr(err error, key any) error {
	if errors.Is(err, repository.ErrRoleNotFound) {
		return apperr.NotFound("role", key)
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return apperr.Conflict("role", fmt.Sprintf("name %v is taken", key))
	}
	return err
}

func linkConflict(userID, roleID uint) error {
	return apperr.Conflict("userrole", fmt.Sprintf("user %d already has role %d", userID, roleID))
}
