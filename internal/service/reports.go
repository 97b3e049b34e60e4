package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dededemahendra/crm/internal/domain"
	"github.com/dededemahendra/crm/internal/ledger"
	"github.com/dededemahendra/crm/internal/report"
	"github.com/dededemahendra/crm/internal/store"
)

// GetStockSummary sums purchases, sales and movements per product inside the
// optional window. Both bounds are inclusive.
func (s *Service) GetStockSummary(ctx context.Context, start, end string) ([]domain.StockSummaryRow, error) {
	if _, err := requireRole(ctx); err != nil {
		return nil, err
	}
	window, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}
	filter := domain.ListFilter{Range: window}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	purchases, err := s.repo.ListPurchases(ctx, filter)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, err
	}
	movements, err := s.repo.ListStockMovements(ctx, filter)
	if err != nil {
		return nil, err
	}
	return report.StockSummary(products, purchases, sales, movements, window), nil
}

// GetPLData returns the non-voided sales, expenses and other income dated
// inside [start, end]. Sales carry their product identity, or the deleted
// product placeholder.
func (s *Service) GetPLData(ctx context.Context, start, end string) (domain.PLData, error) {
	if _, err := requireRole(ctx); err != nil {
		return domain.PLData{}, err
	}
	if start == "" || end == "" {
		return domain.PLData{}, fmt.Errorf("%w: start and end dates are required", store.ErrInvalidInput)
	}
	window, err := parseRange(start, end)
	if err != nil {
		return domain.PLData{}, err
	}
	return s.plData(ctx, window)
}

func (s *Service) plData(ctx context.Context, window domain.DateRange) (domain.PLData, error) {
	filter := domain.ListFilter{Range: window}
	data := domain.PLData{
		Start:       *window.Start,
		End:         *window.End,
		Sales:       make([]domain.SaleRow, 0),
		Expenses:    make([]domain.OperatingExpense, 0),
		OtherIncome: make([]domain.OtherIncome, 0),
	}

	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.PLData{}, err
	}
	index, err := s.productIndex(ctx)
	if err != nil {
		return domain.PLData{}, err
	}
	for _, sl := range sales {
		if sl.Voided {
			continue
		}
		data.Sales = append(data.Sales, domain.SaleRow{Sale: sl, Product: domain.ResolveProductRef(index, sl.ProductID)})
	}

	expenses, err := s.repo.ListExpenses(ctx, filter)
	if err != nil {
		return domain.PLData{}, err
	}
	data.Expenses = append(data.Expenses, expenses...)

	income, err := s.repo.ListOtherIncome(ctx, filter)
	if err != nil {
		return domain.PLData{}, err
	}
	data.OtherIncome = append(data.OtherIncome, income...)
	return data, nil
}

// GetPLReport derives the full statement for the window at the current tax
// rate.
func (s *Service) GetPLReport(ctx context.Context, start, end string) (domain.PLReport, error) {
	data, err := s.GetPLData(ctx, start, end)
	if err != nil {
		return domain.PLReport{}, err
	}
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return domain.PLReport{}, err
	}
	return report.BuildPL(data, settings.TaxRate), nil
}

func (s *Service) GetDashboard(ctx context.Context) (domain.Dashboard, error) {
	if _, err := requireRole(ctx); err != nil {
		return domain.Dashboard{}, err
	}
	today := s.today()
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)

	data, err := s.plData(ctx, domain.DateRange{Start: &monthStart, End: &today})
	if err != nil {
		return domain.Dashboard{}, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	return report.Dashboard(products, data, settings.TaxRate, s.now()), nil
}

// ReconcileInventory compares each product's cached quantity with the fold of
// its full ledger history.
func (s *Service) ReconcileInventory(ctx context.Context) (domain.ReconciliationReport, error) {
	if _, err := requireRole(ctx, editors...); err != nil {
		return domain.ReconciliationReport{}, err
	}
	all := domain.ListFilter{}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	purchases, err := s.repo.ListPurchases(ctx, all)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	sales, err := s.repo.ListSales(ctx, all)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	movements, err := s.repo.ListStockMovements(ctx, all)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	drifted := ledger.Reconcile(products, purchases, sales, movements)
	if drifted == nil {
		drifted = []domain.ReconciliationItem{}
	}
	if len(drifted) > 0 {
		s.log.WithField("drifted", len(drifted)).Warn("inventory drift detected")
	}
	return domain.ReconciliationReport{
		CheckedAt: s.now(),
		Products:  len(products),
		Drifted:   drifted,
	}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, q domain.ListQuery) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	filter, err := toFilter(q)
	if err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 200
	}
	return s.repo.ListAuditLogs(ctx, filter)
}
