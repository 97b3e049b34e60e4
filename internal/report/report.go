// Package report turns ledger history into stock summaries and
// profit-and-loss statements. Nothing here touches storage.
package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dededemahendra/crm/internal/domain"
)

const TopProductLimit = 5

var hundred = decimal.NewFromInt(100)

// StockSummary sums per-product quantities over the window. CurrentQty is the
// live product quantity and is not rebuilt from the windowed deltas.
func StockSummary(products []domain.Product, purchases []domain.Purchase, sales []domain.Sale, movements []domain.StockMovement, window domain.DateRange) []domain.StockSummaryRow {
	rows := make([]domain.StockSummaryRow, 0, len(products))
	index := make(map[string]int, len(products))
	for i, p := range products {
		index[p.ID] = i
		rows = append(rows, domain.StockSummaryRow{
			ProductID:    p.ID,
			SKU:          p.SKU,
			Name:         p.Name,
			Category:     p.Category,
			Unit:         p.Unit,
			UnitCost:     p.UnitCost,
			SellingPrice: p.SellingPrice,
			ReorderLevel: p.ReorderLevel,
			CurrentQty:   p.Qty,
		})
	}

	for _, p := range purchases {
		i, ok := index[p.ProductID]
		if !ok || p.Status != domain.PurchaseActive || !window.Contains(p.Date) {
			continue
		}
		rows[i].TotalPurchased += p.Qty
	}
	for _, s := range sales {
		i, ok := index[s.ProductID]
		if !ok || s.Voided || !window.Contains(s.Date) {
			continue
		}
		rows[i].TotalSold += s.Qty
	}
	for _, m := range movements {
		i, ok := index[m.ProductID]
		if !ok || !window.Contains(m.Date) {
			continue
		}
		switch m.Type {
		case domain.MovementAdjustment:
			rows[i].TotalAdjustment += m.Qty
		case domain.MovementTransfer:
			rows[i].TotalTransfer += m.Qty
		case domain.MovementProduction:
			rows[i].TotalProduction += m.Qty
		case domain.MovementWaste:
			rows[i].TotalWaste += m.Qty
		}
	}
	return rows
}

// Metrics derives the P&L figures in a fixed order. Losses carry no tax.
func Metrics(data domain.PLData, taxRate decimal.Decimal) domain.PLMetrics {
	m := domain.PLMetrics{TaxRate: taxRate}
	for _, s := range data.Sales {
		if s.Voided {
			continue
		}
		m.Revenue = m.Revenue.Add(s.Revenue)
		m.COGS = m.COGS.Add(s.COGS)
	}
	m.GrossProfit = m.Revenue.Sub(m.COGS)
	for _, e := range data.Expenses {
		m.OpExTotal = m.OpExTotal.Add(e.Amount)
	}
	m.OperatingIncome = m.GrossProfit.Sub(m.OpExTotal)
	for _, inc := range data.OtherIncome {
		m.OtherIncomeTotal = m.OtherIncomeTotal.Add(inc.Amount)
	}
	m.ProfitBeforeTax = m.OperatingIncome.Add(m.OtherIncomeTotal)
	if m.ProfitBeforeTax.IsPositive() {
		m.Tax = m.ProfitBeforeTax.Mul(taxRate).Div(hundred)
	}
	m.NetProfit = m.ProfitBeforeTax.Sub(m.Tax)
	m.TotalIncome = m.Revenue.Add(m.OtherIncomeTotal)
	if m.Revenue.IsPositive() {
		m.GrossMarginPct = m.GrossProfit.Div(m.Revenue).Mul(hundred).Round(2)
		m.CostRatioPct = m.COGS.Div(m.Revenue).Mul(hundred).Round(2)
	}
	return m
}

// TopProducts ranks products by revenue. Equal revenue keeps the order in
// which the products first appear in sales.
func TopProducts(sales []domain.SaleRow, limit int) []domain.ProductRevenue {
	order := make([]string, 0)
	byProduct := make(map[string]*domain.ProductRevenue)
	for _, s := range sales {
		if s.Voided {
			continue
		}
		agg, ok := byProduct[s.ProductID]
		if !ok {
			agg = &domain.ProductRevenue{ProductID: s.ProductID, Name: s.Product.Name, SKU: s.Product.SKU}
			byProduct[s.ProductID] = agg
			order = append(order, s.ProductID)
		}
		agg.Qty += s.Qty
		agg.Revenue = agg.Revenue.Add(s.Revenue)
		agg.COGS = agg.COGS.Add(s.COGS)
	}

	ranked := make([]domain.ProductRevenue, 0, len(order))
	for _, id := range order {
		ranked = append(ranked, *byProduct[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Revenue.GreaterThan(ranked[j].Revenue)
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// ExpensesByCategory totals expenses per category, largest first.
func ExpensesByCategory(expenses []domain.OperatingExpense) []domain.CategoryTotal {
	totals := make(map[string]decimal.Decimal)
	for _, e := range expenses {
		totals[e.Category] = totals[e.Category].Add(e.Amount)
	}
	out := make([]domain.CategoryTotal, 0, len(totals))
	for category, amount := range totals {
		out = append(out, domain.CategoryTotal{Category: category, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Amount.Equal(out[j].Amount) {
			return out[i].Amount.GreaterThan(out[j].Amount)
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Monthly buckets sales, expenses and other income by calendar month.
func Monthly(data domain.PLData) []domain.MonthlyTrend {
	buckets := make(map[string]*domain.MonthlyTrend)
	bucket := func(t time.Time) *domain.MonthlyTrend {
		key := t.Format("2006-01")
		b, ok := buckets[key]
		if !ok {
			b = &domain.MonthlyTrend{Month: key}
			buckets[key] = b
		}
		return b
	}

	for _, s := range data.Sales {
		if s.Voided {
			continue
		}
		b := bucket(s.Date)
		b.Revenue = b.Revenue.Add(s.Revenue)
		b.COGS = b.COGS.Add(s.COGS)
	}
	for _, e := range data.Expenses {
		b := bucket(e.Date)
		b.Expenses = b.Expenses.Add(e.Amount)
	}
	for _, inc := range data.OtherIncome {
		b := bucket(inc.Date)
		b.OtherIncome = b.OtherIncome.Add(inc.Amount)
	}

	out := make([]domain.MonthlyTrend, 0, len(buckets))
	for _, b := range buckets {
		b.GrossProfit = b.Revenue.Sub(b.COGS)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

func BuildPL(data domain.PLData, taxRate decimal.Decimal) domain.PLReport {
	return domain.PLReport{
		Data:               data,
		Metrics:            Metrics(data, taxRate),
		TopProducts:        TopProducts(data.Sales, TopProductLimit),
		ExpensesByCategory: ExpensesByCategory(data.Expenses),
		MonthlyTrend:       Monthly(data),
	}
}

// Dashboard summarises current stock and month-to-date results.
func Dashboard(products []domain.Product, monthToDate domain.PLData, taxRate decimal.Decimal, asOf time.Time) domain.Dashboard {
	d := domain.Dashboard{
		AsOf:         asOf,
		ProductCount: len(products),
		LowStock:     make([]domain.LowStockItem, 0),
		MonthToDate:  Metrics(monthToDate, taxRate),
		TopProducts:  TopProducts(monthToDate.Sales, TopProductLimit),
	}
	for _, p := range products {
		d.InventoryValue = d.InventoryValue.Add(p.UnitCost.Mul(decimal.NewFromInt(int64(p.Qty))))
		if p.Qty <= p.ReorderLevel {
			d.LowStock = append(d.LowStock, domain.LowStockItem{
				ProductID:    p.ID,
				SKU:          p.SKU,
				Name:         p.Name,
				Unit:         p.Unit,
				Qty:          p.Qty,
				ReorderLevel: p.ReorderLevel,
			})
		}
	}
	sort.SliceStable(d.LowStock, func(i, j int) bool {
		return d.LowStock[i].Qty-d.LowStock[i].ReorderLevel < d.LowStock[j].Qty-d.LowStock[j].ReorderLevel
	})
	return d
}
