package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/dededemahendra/crm/internal/domain"
	"github.com/dededemahendra/crm/internal/store"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if _, err := requireRole(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := requireRole(ctx); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func normalizeProductInput(req domain.ProductInput) domain.ProductInput {
	req.SKU = strings.TrimSpace(req.SKU)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Category == "" {
		req.Category = domain.DefaultCategory
	}
	return req
}

func productFromInput(req domain.ProductInput) domain.Product {
	return domain.Product{
		SKU:          req.SKU,
		Name:         req.Name,
		Category:     req.Category,
		Unit:         req.Unit,
		UnitCost:     req.UnitCost,
		SellingPrice: req.SellingPrice,
		Qty:          req.Qty,
		ReorderLevel: req.ReorderLevel,
	}
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductInput) (domain.Product, error) {
	principal, err := requireRole(ctx, editors...)
	if err != nil {
		return domain.Product{}, err
	}
	req = normalizeProductInput(req)
	if err := s.validate(req); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, productFromInput(req), s.mutation(principal))
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,name=%s,qty=%d", created.SKU, created.Name, created.Qty))
	return *created, nil
}

// UpdateProduct replaces every editable field. A quantity change is recorded
// as an adjustment movement by the store.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductInput) (domain.Product, error) {
	principal, err := requireRole(ctx, editors...)
	if err != nil {
		return domain.Product{}, err
	}
	req = normalizeProductInput(req)
	if err := s.validate(req); err != nil {
		return domain.Product{}, err
	}

	product := productFromInput(req)
	product.ID = strings.TrimSpace(id)
	updated, err := s.repo.UpdateProduct(ctx, product, s.mutation(principal))
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", updated.ID, fmt.Sprintf("sku=%s,name=%s,qty=%d", updated.SKU, updated.Name, updated.Qty))
	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", "product", id, "")
	return nil
}

// AdjustStock sets an absolute quantity. The implied delta is logged as a
// movement of the requested type, adjustment by default.
func (s *Service) AdjustStock(ctx context.Context, id string, req domain.StockAdjustRequest) (domain.StockAdjustResult, error) {
	principal, err := requireRole(ctx, editors...)
	if err != nil {
		return domain.StockAdjustResult{}, err
	}
	if req.NewQty < 0 {
		return domain.StockAdjustResult{}, fmt.Errorf("%w: new quantity %d", store.ErrNegativeQuantity, req.NewQty)
	}
	req.Reason = strings.TrimSpace(req.Reason)
	req.Type = strings.TrimSpace(req.Type)
	if err := s.validate(req); err != nil {
		return domain.StockAdjustResult{}, err
	}

	movementType := domain.DefaultMovementType
	if req.Type != "" {
		movementType = domain.MovementType(req.Type)
	}
	date := s.today()
	if strings.TrimSpace(req.Date) != "" {
		if date, err = parseDate(req.Date); err != nil {
			return domain.StockAdjustResult{}, err
		}
	}

	m := s.mutation(principal)
	result, err := s.repo.AdjustStock(ctx, strings.TrimSpace(id), req.NewQty, domain.StockMovement{
		Type:      movementType,
		Reason:    req.Reason,
		Date:      date,
		CreatedBy: m.Actor,
		CreatedAt: m.At,
	})
	if err != nil {
		return domain.StockAdjustResult{}, err
	}

	delta := 0
	if result.Movement != nil {
		delta = result.Movement.Qty
	}
	s.logAudit(ctx, "stock_adjust", "product", result.Product.ID, fmt.Sprintf("new_qty=%d,delta=%d,type=%s", req.NewQty, delta, movementType))
	return *result, nil
}

func (s *Service) BulkUpsertProducts(ctx context.Context, req domain.BulkUpsertRequest) (domain.BulkUpsertResult, error) {
	principal, err := requireRole(ctx, editors...)
	if err != nil {
		return domain.BulkUpsertResult{}, err
	}
	for i := range req.Rows {
		row := &req.Rows[i]
		row.SKU = strings.TrimSpace(row.SKU)
		row.Name = strings.TrimSpace(row.Name)
		row.Unit = strings.TrimSpace(row.Unit)
		if row.Category != nil {
			category := strings.TrimSpace(*row.Category)
			row.Category = &category
		}
	}
	if err := s.validate(req); err != nil {
		return domain.BulkUpsertResult{}, err
	}

	result, err := s.repo.BulkUpsertProducts(ctx, req.Rows, s.mutation(principal))
	if err != nil {
		return domain.BulkUpsertResult{}, err
	}

	s.logAudit(ctx, "product_bulk_upsert", "product", "bulk", fmt.Sprintf("rows=%d,created=%d,updated=%d", len(req.Rows), result.Created, result.Updated))
	return result, nil
}

func (s *Service) CreateStockMovement(ctx context.Context, req domain.StockMovementCreateRequest) (domain.StockMovement, error) {
	principal, err := requireRole(ctx, editors...)
	if err != nil {
		return domain.StockMovement{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validate(req); err != nil {
		return domain.StockMovement{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return domain.StockMovement{}, err
	}

	m := s.mutation(principal)
	created, err := s.repo.CreateStockMovement(ctx, domain.StockMovement{
		ProductID: req.ProductID,
		Type:      domain.MovementType(req.Type),
		Qty:       req.Qty,
		Reason:    req.Reason,
		Date:      date,
		CreatedBy: m.Actor,
		CreatedAt: m.At,
	})
	if err != nil {
		return domain.StockMovement{}, err
	}

	s.logAudit(ctx, "stock_movement_create", "stock_movement", created.ID, fmt.Sprintf("product=%s,type=%s,qty=%d", created.ProductID, created.Type, created.Qty))
	return *created, nil
}

func (s *Service) ListStockMovements(ctx context.Context, q domain.ListQuery) ([]domain.StockMovementRow, error) {
	if _, err := requireRole(ctx); err != nil {
		return nil, err
	}
	filter, err := toFilter(q)
	if err != nil {
		return nil, err
	}
	movements, err := s.repo.ListStockMovements(ctx, filter)
	if err != nil {
		return nil, err
	}
	index, err := s.productIndex(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.StockMovementRow, 0, len(movements))
	for _, mv := range movements {
		rows = append(rows, domain.StockMovementRow{StockMovement: mv, Product: domain.ResolveProductRef(index, mv.ProductID)})
	}
	return rows, nil
}
