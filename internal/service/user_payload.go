package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oapi-codegen/nullable"
	"github.com/usermodel/internal/apperr"
	"github.com/usermodel/internal/repository"
)

// EmailInput is one submitted email address
type EmailInput struct {
	Email string `json:"useremail" binding:"required,max=255"`
}

// RoleRef references an existing role by id
type RoleRef struct {
	RoleID uint `json:"roleid" binding:"required"`
}

// RoleLinkInput is one submitted user/role link
type RoleLinkInput struct {
	Role RoleRef `json:"role" binding:"required"`
}

// UserInput is a complete user payload used by Insert and FullReplace.
// Absent collections mean "no emails" / "no roles".
type UserInput struct {
	Username   string          `json:"username" binding:"required,max=255"`
	Password   string          `json:"password" binding:"required"`
	Useremails []EmailInput    `json:"useremails" binding:"omitempty,dive"`
	Roles      []RoleLinkInput `json:"roles" binding:"omitempty,dive"`
}

// UserPatch is a partial user payload. Only fields present in the JSON body are applied.
type UserPatch struct {
	Username   nullable.Nullable[string]          `json:"username"`
	Password   nullable.Nullable[string]          `json:"password"`
	Useremails nullable.Nullable[[]EmailInput]    `json:"useremails"`
	Roles      nullable.Nullable[[]RoleLinkInput] `json:"roles"`
}

// normalizedUser is a validated payload ready to be written
type normalizedUser struct {
	username string
	emails   []string
	roleIDs  []uint
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// share the tag name with gin's binding so both layers enforce the same rules
	v.SetTagName("binding")
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *UserService) normalizeInput(in *UserInput) (*normalizedUser, error) {
	if in == nil {
		return nil, apperr.Invalid("", "empty payload")
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	username, err := normalizeUsername(in.Username)
	if err != nil {
		return nil, err
	}
	emails, err := s.normalizeEmails(in.Useremails)
	if err != nil {
		return nil, err
	}
	roleIDs, err := normalizeRoleLinks(in.Roles)
	if err != nil {
		return nil, err
	}
	return &normalizedUser{username: username, emails: emails, roleIDs: roleIDs}, nil
}

func normalizeUsername(raw string) (string, error) {
	username := repository.NormalizeUsername(raw)
	if username == "" {
		return "", apperr.Invalid("username", "must not be blank")
	}
	if len(username) > 255 {
		return "", apperr.Invalid("username", "must be at most 255 characters")
	}
	return username, nil
}

// normalizeEmails trims and lower-cases, validates, and collapses duplicates keeping the first
func (s *UserService) normalizeEmails(in []EmailInput) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for i, e := range in {
		email := strings.ToLower(strings.TrimSpace(e.Email))
		if err := s.validate.Var(email, "required,email,max=255"); err != nil {
			return nil, apperr.Invalid(fmt.Sprintf("useremails[%d]", i), "must be a valid email address")
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out, nil
}

// normalizeRoleLinks collapses duplicate role ids keeping the first
func normalizeRoleLinks(in []RoleLinkInput) ([]uint, error) {
	out := make([]uint, 0, len(in))
	seen := make(map[uint]struct{}, len(in))
	for i, link := range in {
		if link.Role.RoleID == 0 {
			return nil, apperr.Invalid(fmt.Sprintf("roles[%d].role.roleid", i), "is required")
		}
		if _, dup := seen[link.Role.RoleID]; dup {
			continue
		}
		seen[link.Role.RoleID] = struct{}{}
		out = append(out, link.Role.RoleID)
	}
	return out, nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apperr.Invalid(fe.Field(), fmt.Sprintf("failed %q rule", fe.Tag()))
	}
	return apperr.Invalid("", err.Error())
}
