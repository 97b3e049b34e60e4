package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/dededemahendra/crm/internal/domain"
	"github.com/dededemahendra/crm/internal/ledger"
)

func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.Purchase, error) {
	principal, err := requireRole(ctx, editors...)
	if err != nil {
		return domain.Purchase{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Supplier = strings.TrimSpace(req.Supplier)
	req.InvoiceNo = strings.TrimSpace(req.InvoiceNo)
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if err := s.validate(req); err != nil {
		return domain.Purchase{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return domain.Purchase{}, err
	}
	total, err := ledger.PurchaseTotal(req.Qty, req.UnitCost, req.TotalCost)
	if err != nil {
		return domain.Purchase{}, err
	}

	m := s.mutation(principal)
	created, err := s.repo.CreatePurchase(ctx, domain.Purchase{
		ProductID:     req.ProductID,
		Qty:           req.Qty,
		UnitCost:      req.UnitCost,
		TotalCost:     total,
		Supplier:      req.Supplier,
		InvoiceNo:     req.InvoiceNo,
		PaymentMethod: req.PaymentMethod,
		Date:          date,
		Status:        domain.PurchaseActive,
		CreatedBy:     m.Actor,
		CreatedAt:     m.At,
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, "purchase_create", "purchase", created.ID, fmt.Sprintf("product=%s,qty=%d,unit_cost=%s", created.ProductID, created.Qty, created.UnitCost.StringFixed(2)))
	return *created, nil
}

func (s *Service) CancelPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	principal, err := requireRole(ctx, editors...)
	if err != nil {
		return domain.Purchase{}, err
	}
	cancelled, err := s.repo.CancelPurchase(ctx, strings.TrimSpace(id), s.mutation(principal))
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, "purchase_cancel", "purchase", cancelled.ID, fmt.Sprintf("product=%s,qty=%d", cancelled.ProductID, cancelled.Qty))
	return *cancelled, nil
}

func (s *Service) GetPurchase(ctx context.Context, id string) (domain.PurchaseRow, error) {
	if _, err := requireRole(ctx); err != nil {
		return domain.PurchaseRow{}, err
	}
	purchase, err := s.repo.GetPurchase(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PurchaseRow{}, err
	}
	index, err := s.productIndex(ctx)
	if err != nil {
		return domain.PurchaseRow{}, err
	}
	return domain.PurchaseRow{Purchase: *purchase, Product: domain.ResolveProductRef(index, purchase.ProductID)}, nil
}

func (s *Service) ListPurchases(ctx context.Context, q domain.ListQuery) ([]domain.PurchaseRow, error) {
	if _, err := requireRole(ctx); err != nil {
		return nil, err
	}
	filter, err := toFilter(q)
	if err != nil {
		return nil, err
	}
	purchases, err := s.repo.ListPurchases(ctx, filter)
	if err != nil {
		return nil, err
	}
	index, err := s.productIndex(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.PurchaseRow, 0, len(purchases))
	for _, p := range purchases {
		rows = append(rows, domain.PurchaseRow{Purchase: p, Product: domain.ResolveProductRef(index, p.ProductID)})
	}
	return rows, nil
}

// CreateSale prices the sale at the product's cost basis inside the store
// transaction, so COGS is frozen at the cost effective at that moment.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	principal, err := requireRole(ctx, editors...)
	if err != nil {
		return domain.Sale{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := s.validate(req); err != nil {
		return domain.Sale{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return domain.Sale{}, err
	}

	m := s.mutation(principal)
	created, err := s.repo.CreateSale(ctx, domain.Sale{
		ProductID:    req.ProductID,
		Qty:          req.Qty,
		SellingPrice: req.SellingPrice,
		Discount:     req.Discount,
		Date:         date,
		CreatedBy:    m.Actor,
		CreatedAt:    m.At,
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_create", "sale", created.ID, fmt.Sprintf("product=%s,qty=%d,revenue=%s,cogs=%s", created.ProductID, created.Qty, created.Revenue.StringFixed(2), created.COGS.StringFixed(2)))
	return *created, nil
}

func (s *Service) VoidSale(ctx context.Context, id string) (domain.Sale, error) {
	if _, err := requireRole(ctx, editors...); err != nil {
		return domain.Sale{}, err
	}
	voided, err := s.repo.VoidSale(ctx, strings.TrimSpace(id), s.now())
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_void", "sale", voided.ID, fmt.Sprintf("product=%s,qty=%d", voided.ProductID, voided.Qty))
	return *voided, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleRow, error) {
	if _, err := requireRole(ctx); err != nil {
		return domain.SaleRow{}, err
	}
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.SaleRow{}, err
	}
	index, err := s.productIndex(ctx)
	if err != nil {
		return domain.SaleRow{}, err
	}
	return domain.SaleRow{Sale: *sale, Product: domain.ResolveProductRef(index, sale.ProductID)}, nil
}

// ListSales includes voided sales; they stay visible for audit.
func (s *Service) ListSales(ctx context.Context, q domain.ListQuery) ([]domain.SaleRow, error) {
	if _, err := requireRole(ctx); err != nil {
		return nil, err
	}
	filter, err := toFilter(q)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, err
	}
	index, err := s.productIndex(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.SaleRow, 0, len(sales))
	for _, sl := range sales {
		rows = append(rows, domain.SaleRow{Sale: sl, Product: domain.ResolveProductRef(index, sl.ProductID)})
	}
	return rows, nil
}
