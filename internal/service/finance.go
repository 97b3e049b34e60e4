package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dededemahendra/crm/internal/cache"
	"github.com/dededemahendra/crm/internal/domain"
)

func normalizeExpenseInput(req domain.ExpenseInput) domain.ExpenseInput {
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	req.Supplier = strings.TrimSpace(req.Supplier)
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	return req
}

func (s *Service) expenseFromInput(req domain.ExpenseInput) (domain.OperatingExpense, error) {
	req = normalizeExpenseInput(req)
	if err := s.validate(req); err != nil {
		return domain.OperatingExpense{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return domain.OperatingExpense{}, err
	}
	return domain.OperatingExpense{
		Date:          date,
		Category:      req.Category,
		Amount:        req.Amount,
		Description:   req.Description,
		Supplier:      req.Supplier,
		PaymentMethod: req.PaymentMethod,
	}, nil
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseInput) (domain.OperatingExpense, error) {
	principal, err := requireRole(ctx, editors...)
	if err != nil {
		return domain.OperatingExpense{}, err
	}
	expense, err := s.expenseFromInput(req)
	if err != nil {
		return domain.OperatingExpense{}, err
	}

	m := s.mutation(principal)
	expense.CreatedBy = m.Actor
	expense.CreatedAt = m.At
	expense.UpdatedAt = m.At
	created, err := s.repo.CreateExpense(ctx, expense)
	if err != nil {
		return domain.OperatingExpense{}, err
	}

	s.logAudit(ctx, "expense_create", "expense", created.ID, fmt.Sprintf("category=%s,amount=%s", created.Category, created.Amount.StringFixed(2)))
	return *created, nil
}

func (s *Service) UpdateExpense(ctx context.Context, id string, req domain.ExpenseInput) (domain.OperatingExpense, error) {
	if _, err := requireRole(ctx, editors...); err != nil {
		return domain.OperatingExpense{}, err
	}
	expense, err := s.expenseFromInput(req)
	if err != nil {
		return domain.OperatingExpense{}, err
	}

	expense.ID = strings.TrimSpace(id)
	expense.UpdatedAt = s.now()
	updated, err := s.repo.UpdateExpense(ctx, expense)
	if err != nil {
		return domain.OperatingExpense{}, err
	}

	s.logAudit(ctx, "expense_update", "expense", updated.ID, fmt.Sprintf("category=%s,amount=%s", updated.Category, updated.Amount.StringFixed(2)))
	return *updated, nil
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, editors...); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteExpense(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "expense_delete", "expense", id, "")
	return nil
}

func (s *Service) ListExpenses(ctx context.Context, q domain.ListQuery) ([]domain.OperatingExpense, error) {
	if _, err := requireRole(ctx); err != nil {
		return nil, err
	}
	filter, err := toFilter(q)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, filter)
}

func (s *Service) incomeFromInput(req domain.OtherIncomeInput) (domain.OtherIncome, error) {
	req.Source = strings.TrimSpace(req.Source)
	req.Notes = strings.TrimSpace(req.Notes)
	if err := s.validate(req); err != nil {
		return domain.OtherIncome{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return domain.OtherIncome{}, err
	}
	return domain.OtherIncome{
		Date:   date,
		Source: req.Source,
		Amount: req.Amount,
		Notes:  req.Notes,
	}, nil
}

func (s *Service) CreateOtherIncome(ctx context.Context, req domain.OtherIncomeInput) (domain.OtherIncome, error) {
	principal, err := requireRole(ctx, editors...)
	if err != nil {
		return domain.OtherIncome{}, err
	}
	income, err := s.incomeFromInput(req)
	if err != nil {
		return domain.OtherIncome{}, err
	}

	m := s.mutation(principal)
	income.CreatedBy = m.Actor
	income.CreatedAt = m.At
	income.UpdatedAt = m.At
	created, err := s.repo.CreateOtherIncome(ctx, income)
	if err != nil {
		return domain.OtherIncome{}, err
	}

	s.logAudit(ctx, "other_income_create", "other_income", created.ID, fmt.Sprintf("source=%s,amount=%s", created.Source, created.Amount.StringFixed(2)))
	return *created, nil
}

func (s *Service) UpdateOtherIncome(ctx context.Context, id string, req domain.OtherIncomeInput) (domain.OtherIncome, error) {
	if _, err := requireRole(ctx, editors...); err != nil {
		return domain.OtherIncome{}, err
	}
	income, err := s.incomeFromInput(req)
	if err != nil {
		return domain.OtherIncome{}, err
	}

	income.ID = strings.TrimSpace(id)
	income.UpdatedAt = s.now()
	updated, err := s.repo.UpdateOtherIncome(ctx, income)
	if err != nil {
		return domain.OtherIncome{}, err
	}

	s.logAudit(ctx, "other_income_update", "other_income", updated.ID, fmt.Sprintf("source=%s,amount=%s", updated.Source, updated.Amount.StringFixed(2)))
	return *updated, nil
}

func (s *Service) DeleteOtherIncome(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, editors...); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteOtherIncome(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "other_income_delete", "other_income", id, "")
	return nil
}

// ListOtherIncome filters on Source when q.Category is set.
func (s *Service) ListOtherIncome(ctx context.Context, q domain.ListQuery) ([]domain.OtherIncome, error) {
	if _, err := requireRole(ctx); err != nil {
		return nil, err
	}
	filter, err := toFilter(q)
	if err != nil {
		return nil, err
	}
	return s.repo.ListOtherIncome(ctx, filter)
}

// GetSettings returns the stored settings, or the defaults when they were
// never written. Reads go through the settings cache; cache failures fall
// back to the repository.
func (s *Service) GetSettings(ctx context.Context) (domain.AppSettings, error) {
	if _, err := requireRole(ctx); err != nil {
		return domain.AppSettings{}, err
	}
	return s.loadSettings(ctx)
}

func (s *Service) loadSettings(ctx context.Context) (domain.AppSettings, error) {
	log := s.log.WithField("cache_key", cache.SettingsKey)

	cached, ok, err := s.settings.Get(ctx, cache.SettingsKey)
	if err != nil {
		log.WithError(err).Warn("settings cache read failed")
	}
	if ok && cached != nil {
		return *cached, nil
	}

	stored, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.AppSettings{}, err
	}
	if stored == nil {
		return domain.DefaultSettings(), nil
	}
	if err := s.settings.Set(ctx, cache.SettingsKey, stored, s.cacheTTL); err != nil {
		log.WithError(err).Warn("settings cache write failed")
	}
	return *stored, nil
}

func (s *Service) UpsertSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.AppSettings, error) {
	principal, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.AppSettings{}, err
	}
	if req.ExpenseCategories != nil {
		categories := make([]string, 0, len(*req.ExpenseCategories))
		for _, c := range *req.ExpenseCategories {
			categories = append(categories, strings.TrimSpace(c))
		}
		req.ExpenseCategories = &categories
	}
	if err := s.validate(req); err != nil {
		return domain.AppSettings{}, err
	}

	updated, err := s.repo.UpsertSettings(ctx, req, s.mutation(principal))
	if err != nil {
		return domain.AppSettings{}, err
	}
	if err := s.settings.Delete(ctx, cache.SettingsKey); err != nil {
		s.log.WithFields(logrus.Fields{"cache_key": cache.SettingsKey}).WithError(err).Warn("settings cache invalidation failed")
	}

	s.logAudit(ctx, "settings_upsert", "settings", "app", fmt.Sprintf("tax_rate=%s,categories=%d", updated.TaxRate.StringFixed(2), len(updated.ExpenseCategories)))
	return *updated, nil
}
