package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/dededemahendra/crm/internal/cache"
	"github.com/dededemahendra/crm/internal/domain"
	"github.com/dededemahendra/crm/internal/store"
	"github.com/dededemahendra/crm/internal/xid"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrOwnRoleChange = errors.New("cannot change own role")
)

type principalContextKey struct{}

func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(domain.Principal)
	return principal, ok
}

type Service struct {
	repo      store.Repository
	settings  cache.SettingsCache
	cacheTTL  time.Duration
	log       logrus.FieldLogger
	validator *validator.Validate
	now       func() time.Time
}

func New(repo store.Repository, settings cache.SettingsCache, cacheTTL time.Duration, logger logrus.FieldLogger) *Service {
	if settings == nil {
		settings = cache.NoopSettingsCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Service{
		repo:      repo,
		settings:  settings,
		cacheTTL:  cacheTTL,
		log:       logger.WithField("component", "service"),
		validator: newValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// requireRole returns the caller when it holds one of roles. With no roles
// listed any authenticated caller passes.
func requireRole(ctx context.Context, roles ...domain.Role) (domain.Principal, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok || principal.ID == "" || !principal.Role.Valid() {
		return domain.Principal{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}
	if len(roles) == 0 || slices.Contains(roles, principal.Role) {
		return principal, nil
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	return domain.Principal{}, fmt.Errorf("%w: requires role %s", ErrForbidden, strings.Join(names, " or "))
}

var editors = []domain.Role{domain.RoleAdmin, domain.RoleManager}

func (s *Service) mutation(principal domain.Principal) store.Mutation {
	return store.Mutation{Actor: principal.ID, At: s.now()}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		principal = domain.Principal{ID: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		ActorID:    principal.ID,
		ActorRole:  string(principal.Role),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	}); err != nil {
		s.log.WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).WithError(err).Warn("failed to write audit log")
	}
}

func parseDate(value string) (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", store.ErrInvalidInput, value)
	}
	return t.UTC(), nil
}

func (s *Service) today() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// parseRange turns optional YYYY-MM-DD bounds into an inclusive window.
func parseRange(start, end string) (domain.DateRange, error) {
	var r domain.DateRange
	if strings.TrimSpace(start) != "" {
		t, err := parseDate(start)
		if err != nil {
			return r, err
		}
		r.Start = &t
	}
	if strings.TrimSpace(end) != "" {
		t, err := parseDate(end)
		if err != nil {
			return r, err
		}
		r.End = &t
	}
	if r.Start != nil && r.End != nil && r.End.Before(*r.Start) {
		return r, fmt.Errorf("%w: end date is before start date", store.ErrInvalidInput)
	}
	return r, nil
}

func toFilter(q domain.ListQuery) (domain.ListFilter, error) {
	r, err := parseRange(q.Start, q.End)
	if err != nil {
		return domain.ListFilter{}, err
	}
	return domain.ListFilter{
		Range:     r,
		ProductID: strings.TrimSpace(q.ProductID),
		Category:  strings.TrimSpace(q.Category),
		Limit:     q.Limit,
	}, nil
}

func (s *Service) productIndex(ctx context.Context) (map[string]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]domain.Product, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return index, nil
}
