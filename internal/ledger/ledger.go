// Package ledger holds the stock and cost-basis rules applied by every store
// implementation inside its transaction. Functions here are pure: they take
// the current product and ledger rows and return the next product state.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dededemahendra/crm/internal/domain"
	"github.com/dededemahendra/crm/internal/store"
	"github.com/dededemahendra/crm/internal/xid"
)

// PurchaseTotal returns qty × unitCost. A caller-supplied total must match it.
func PurchaseTotal(qty int, unitCost decimal.Decimal, supplied decimal.NullDecimal) (decimal.Decimal, error) {
	total := unitCost.Mul(decimal.NewFromInt(int64(qty)))
	if supplied.Valid && !supplied.Decimal.Equal(total) {
		return decimal.Zero, fmt.Errorf("%w: total cost %s does not equal qty × unit cost %s", store.ErrInvalidInput, supplied.Decimal.StringFixed(2), total.StringFixed(2))
	}
	return total, nil
}

// ApplyPurchase adds the received quantity and makes the purchase cost the
// product's cost basis (last-in cost, not a weighted average).
func ApplyPurchase(product domain.Product, purchase domain.Purchase, at time.Time) domain.Product {
	product.Qty += purchase.Qty
	product.UnitCost = purchase.UnitCost
	product.UpdatedAt = at
	return product
}

// CancelPurchase reverses a purchase. Quantity is floored at zero because
// manual corrections may already have consumed the received stock; the
// returned shortfall is how many units the floor absorbed. The cost basis
// falls back to the latest remaining active purchase; with none left it keeps
// its current value.
func CancelPurchase(product domain.Product, cancelled domain.Purchase, productPurchases []domain.Purchase, at time.Time) (domain.Product, int) {
	shortfall := 0
	product.Qty -= cancelled.Qty
	if product.Qty < 0 {
		shortfall = -product.Qty
		product.Qty = 0
	}
	if cost, ok := LatestActiveCost(productPurchases, cancelled.ID); ok {
		product.UnitCost = cost
	}
	product.UpdatedAt = at
	return product, shortfall
}

// FloorMovement records the units absorbed by a cancellation floor so the
// product quantity stays equal to the fold of its ledger history.
func FloorMovement(cancelled domain.Purchase, shortfall int, m store.Mutation) domain.StockMovement {
	return TrailMovement(cancelled.ProductID, shortfall, fmt.Sprintf("stock floor on cancelling purchase %s", cancelled.ID), m)
}

// TrailMovement is the adjustment row written when a quantity changes outside
// the purchase and sale ledgers (opening stock, product edits, bulk imports).
func TrailMovement(productID string, delta int, reason string, m store.Mutation) domain.StockMovement {
	at := m.At.UTC()
	return domain.StockMovement{
		ID:        xid.New("mov"),
		ProductID: productID,
		Type:      domain.MovementAdjustment,
		Qty:       delta,
		Reason:    reason,
		Date:      time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC),
		CreatedBy: m.Actor,
		CreatedAt: m.At,
	}
}

// ProductFromRow builds a product for a bulk-import SKU that does not exist
// yet. Cost starts at zero until the first purchase.
func ProductFromRow(row domain.BulkProductRow) domain.Product {
	product := domain.Product{
		SKU:      row.SKU,
		Name:     row.Name,
		Unit:     row.Unit,
		Qty:      row.Qty,
		Category: domain.DefaultCategory,
		UnitCost: decimal.Zero,
	}
	if row.Category != nil && *row.Category != "" {
		product.Category = *row.Category
	}
	if row.ReorderLevel != nil {
		product.ReorderLevel = *row.ReorderLevel
	}
	return product
}

// PatchFromRow applies a bulk-import row to an existing product. Unit cost
// and selling price are never touched by imports, and a blank category keeps
// the current one.
func PatchFromRow(product *domain.Product, row domain.BulkProductRow) {
	product.Name = row.Name
	product.Unit = row.Unit
	product.Qty = row.Qty
	if row.Category != nil && *row.Category != "" {
		product.Category = *row.Category
	}
	if row.ReorderLevel != nil {
		product.ReorderLevel = *row.ReorderLevel
	}
}

// LatestActiveCost picks the unit cost of the most recent active purchase,
// skipping excludeID. purchases must be in insertion order. Ties on Date are
// broken by CreatedAt, then by insertion order (later wins).
func LatestActiveCost(purchases []domain.Purchase, excludeID string) (decimal.Decimal, bool) {
	var latest *domain.Purchase
	for i := range purchases {
		p := &purchases[i]
		if p.ID == excludeID || p.Status != domain.PurchaseActive {
			continue
		}
		if latest == nil || supersedes(*p, *latest) {
			latest = p
		}
	}
	if latest == nil {
		return decimal.Zero, false
	}
	return latest.UnitCost, true
}

func supersedes(p, current domain.Purchase) bool {
	if !p.Date.Equal(current.Date) {
		return p.Date.After(current.Date)
	}
	return !p.CreatedAt.Before(current.CreatedAt)
}

// PriceSale freezes COGS at the current cost basis and computes revenue.
// Revenue may be negative when the discount exceeds the gross amount.
func PriceSale(product domain.Product, qty int, sellingPrice, discount decimal.Decimal) (cogs, revenue decimal.Decimal, err error) {
	if qty > product.Qty {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: only %d %s of %s available", store.ErrInsufficientStock, product.Qty, product.Unit, product.Name)
	}
	q := decimal.NewFromInt(int64(qty))
	cogs = product.UnitCost.Mul(q)
	revenue = sellingPrice.Mul(q).Sub(discount)
	return cogs, revenue, nil
}

func ApplySale(product domain.Product, sale domain.Sale, at time.Time) domain.Product {
	product.Qty -= sale.Qty
	product.UpdatedAt = at
	return product
}

// RestoreSale puts a voided sale's quantity back on hand.
func RestoreSale(product domain.Product, sale domain.Sale, at time.Time) domain.Product {
	product.Qty += sale.Qty
	product.UpdatedAt = at
	return product
}

// ApplyMovement applies a signed delta. Stock never goes below zero.
func ApplyMovement(product domain.Product, delta int, at time.Time) (domain.Product, error) {
	if product.Qty+delta < 0 {
		return product, fmt.Errorf("%w: only %d %s of %s available", store.ErrInsufficientStock, product.Qty, product.Unit, product.Name)
	}
	product.Qty += delta
	product.UpdatedAt = at
	return product, nil
}

// AdjustTo sets an absolute quantity and returns the implied delta.
func AdjustTo(product domain.Product, newQty int, at time.Time) (domain.Product, int, error) {
	if newQty < 0 {
		return product, 0, store.ErrNegativeQuantity
	}
	delta := newQty - product.Qty
	product.Qty = newQty
	product.UpdatedAt = at
	return product, delta, nil
}

// Reconcile folds ledger history per product (active purchases, minus
// non-voided sales, plus movements) and reports every product whose cached
// quantity differs from the fold.
func Reconcile(products []domain.Product, purchases []domain.Purchase, sales []domain.Sale, movements []domain.StockMovement) []domain.ReconciliationItem {
	expected := make(map[string]int, len(products))
	for _, p := range purchases {
		if p.Status == domain.PurchaseActive {
			expected[p.ProductID] += p.Qty
		}
	}
	for _, s := range sales {
		if !s.Voided {
			expected[s.ProductID] -= s.Qty
		}
	}
	for _, m := range movements {
		expected[m.ProductID] += m.Qty
	}

	drifted := make([]domain.ReconciliationItem, 0)
	for _, product := range products {
		want := expected[product.ID]
		if want == product.Qty {
			continue
		}
		drifted = append(drifted, domain.ReconciliationItem{
			ProductID:   product.ID,
			SKU:         product.SKU,
			Name:        product.Name,
			CachedQty:   product.Qty,
			ExpectedQty: want,
			Drift:       product.Qty - want,
		})
	}
	return drifted
}
