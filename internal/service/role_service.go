package service

import (
	"context"
	"errors"
	"strings"

	"github.com/usermodel/internal/apperr"
	"github.com/usermodel/internal/logger"
	"github.com/usermodel/internal/models"
	"github.com/usermodel/internal/repository"
)

// RoleService manages roles. Roles are referenced by users, never owned by them.
type RoleService struct {
	roleRepo *repository.RoleRepository
	log      *logger.Logger
}

// NewRoleService creates a new RoleService
func NewRoleService(roleRepo *repository.RoleRepository, log *logger.Logger) *RoleService {
	return &RoleService{
		roleRepo: roleRepo,
		log:      log.With("service", "RoleService"),
	}
}

// RoleRequest represents the create / rename role request
type RoleRequest struct {
	Name string `json:"name" binding:"required,max=50"`
}

func (s *RoleService) FindAll(ctx context.Context) ([]models.Role, error) {
	return s.roleRepo.List(ctx, nil)
}

func (s *RoleService) FindByID(ctx context.Context, id uint) (*models.Role, error) {
	role, err := s.roleRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, roleErr(err, id)
	}
	return role, nil
}

// FindByName looks a role up case-insensitively
func (s *RoleService) FindByName(ctx context.Context, name string) (*models.Role, error) {
	role, err := s.roleRepo.GetByName(ctx, nil, normalizeRoleName(name))
	if err != nil {
		return nil, roleErr(err, name)
	}
	return role, nil
}

// Create adds a new role
func (s *RoleService) Create(ctx context.Context, req *RoleRequest) (*models.Role, error) {
	name := normalizeRoleName(req.Name)
	if name == "" {
		return nil, apperr.Invalid("name", "must not be blank")
	}

	role := &models.Role{Name: name}
	if err := s.roleRepo.Create(ctx, nil, role); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("role", "name "+name+" is taken")
		}
		return nil, err
	}

	s.log.Info("role created", "role_id", role.ID, "name", role.Name)
	return role, nil
}

// Rename changes the name of an existing role
func (s *RoleService) Rename(ctx context.Context, id uint, req *RoleRequest) (*models.Role, error) {
	name := normalizeRoleName(req.Name)
	if name == "" {
		return nil, apperr.Invalid("name", "must not be blank")
	}
	if err := s.roleRepo.Rename(ctx, nil, id, name); err != nil {
		if errors.Is(err, repository.ErrRoleNotFound) {
			return nil, apperr.NotFound("role", id)
		}
		return nil, roleErr(err, name)
	}

	s.log.Info("role renamed", "role_id", id, "name", name)
	return &models.Role{ID: id, Name: name}, nil
}

func normalizeRoleName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
