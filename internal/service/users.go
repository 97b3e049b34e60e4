package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dededemahendra/crm/internal/domain"
)

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserAccount, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.UserAccount{}, err
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if err := s.validate(req); err != nil {
		return domain.UserAccount{}, err
	}
	if strings.ContainsAny(req.Username, " \t\r\n") {
		return domain.UserAccount{}, &ValidationError{Fields: []FieldError{{Field: "UserCreateRequest.username", Tag: "nospace"}}}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.UserAccount{
		ID:        req.Username,
		Password:  string(hash),
		Role:      req.Role,
		Active:    true,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return domain.UserAccount{}, err
	}

	s.logAudit(ctx, "user_create", "user", user.ID, fmt.Sprintf("role=%s", user.Role))
	user.Password = ""
	return user, nil
}

// UpdateUserRole changes another account's role. Tokens already issued keep
// their old role until they expire.
func (s *Service) UpdateUserRole(ctx context.Context, id string, req domain.UserRoleUpdateRequest) (domain.UserAccount, error) {
	principal, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.UserAccount{}, err
	}
	id = strings.ToLower(strings.TrimSpace(id))
	if id == strings.ToLower(principal.ID) {
		return domain.UserAccount{}, ErrOwnRoleChange
	}
	if err := s.validate(req); err != nil {
		return domain.UserAccount{}, err
	}

	updated, err := s.repo.UpdateUserRole(ctx, id, req.Role)
	if err != nil {
		return domain.UserAccount{}, err
	}

	s.logAudit(ctx, "user_role_update", "user", updated.ID, fmt.Sprintf("role=%s", updated.Role))
	return *updated, nil
}
