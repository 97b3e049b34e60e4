package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type StockSummaryRow struct {
	ProductID       string              `json:"product_id"`
	SKU             string              `json:"sku"`
	Name            string              `json:"name"`
	Category        string              `json:"category"`
	Unit            string              `json:"unit"`
	UnitCost        decimal.Decimal     `json:"unit_cost"`
	SellingPrice    decimal.NullDecimal `json:"selling_price"`
	ReorderLevel    int                 `json:"reorder_level"`
	TotalPurchased  int                 `json:"total_purchased"`
	TotalSold       int                 `json:"total_sold"`
	TotalAdjustment int                 `json:"total_adjustment"`
	TotalTransfer   int                 `json:"total_transfer"`
	TotalProduction int                 `json:"total_production"`
	TotalWaste      int                 `json:"total_waste"`
	CurrentQty      int                 `json:"current_qty"`
}

// PLData is the raw input of a profit-and-loss statement: non-voided sales,
// operating expenses and other income dated inside [Start, End].
type PLData struct {
	Start       time.Time          `json:"start"`
	End         time.Time          `json:"end"`
	Sales       []SaleRow          `json:"sales"`
	Expenses    []OperatingExpense `json:"expenses"`
	OtherIncome []OtherIncome      `json:"other_income"`
}

type PLMetrics struct {
	Revenue          decimal.Decimal `json:"revenue"`
	COGS             decimal.Decimal `json:"cogs"`
	GrossProfit      decimal.Decimal `json:"gross_profit"`
	OpExTotal        decimal.Decimal `json:"opex_total"`
	OperatingIncome  decimal.Decimal `json:"operating_income"`
	OtherIncomeTotal decimal.Decimal `json:"other_income_total"`
	ProfitBeforeTax  decimal.Decimal `json:"profit_before_tax"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	Tax              decimal.Decimal `json:"tax"`
	NetProfit        decimal.Decimal `json:"net_profit"`
	TotalIncome      decimal.Decimal `json:"total_income"`
	GrossMarginPct   decimal.Decimal `json:"gross_margin_pct"`
	CostRatioPct     decimal.Decimal `json:"cost_ratio_pct"`
}

type ProductRevenue struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Qty       int             `json:"qty"`
	Revenue   decimal.Decimal `json:"revenue"`
	COGS      decimal.Decimal `json:"cogs"`
}

type CategoryTotal struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

type MonthlyTrend struct {
	Month       string          `json:"month"`
	Revenue     decimal.Decimal `json:"revenue"`
	COGS        decimal.Decimal `json:"cogs"`
	Expenses    decimal.Decimal `json:"expenses"`
	OtherIncome decimal.Decimal `json:"other_income"`
	GrossProfit decimal.Decimal `json:"gross_profit"`
}

type PLReport struct {
	Data               PLData           `json:"data"`
	Metrics            PLMetrics        `json:"metrics"`
	TopProducts        []ProductRevenue `json:"top_products"`
	ExpensesByCategory []CategoryTotal  `json:"expenses_by_category"`
	MonthlyTrend       []MonthlyTrend   `json:"monthly_trend"`
}

type LowStockItem struct {
	ProductID    string `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Unit         string `json:"unit"`
	Qty          int    `json:"qty"`
	ReorderLevel int    `json:"reorder_level"`
}

type Dashboard struct {
	AsOf           time.Time        `json:"as_of"`
	ProductCount   int              `json:"product_count"`
	InventoryValue decimal.Decimal  `json:"inventory_value"`
	LowStock       []LowStockItem   `json:"low_stock"`
	MonthToDate    PLMetrics        `json:"month_to_date"`
	TopProducts    []ProductRevenue `json:"top_products"`
}

type ReconciliationItem struct {
	ProductID   string `json:"product_id"`
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	CachedQty   int    `json:"cached_qty"`
	ExpectedQty int    `json:"expected_qty"`
	Drift       int    `json:"drift"`
}

type ReconciliationReport struct {
	CheckedAt time.Time            `json:"checked_at"`
	Products  int                  `json:"products"`
	Drifted   []ReconciliationItem `json:"drifted"`
}
