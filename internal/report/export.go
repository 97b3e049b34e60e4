package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/dededemahendra/crm/internal/domain"
)

type line struct {
	Label  string
	Amount decimal.Decimal
}

func statementLines(m domain.PLMetrics) []line {
	return []line{
		{"Revenue", m.Revenue},
		{"Cost of goods sold", m.COGS},
		{"Gross profit", m.GrossProfit},
		{"Operating expenses", m.OpExTotal},
		{"Operating income", m.OperatingIncome},
		{"Other income", m.OtherIncomeTotal},
		{"Profit before tax", m.ProfitBeforeTax},
		{"Tax", m.Tax},
		{"Net profit", m.NetProfit},
		{"Total income", m.TotalIncome},
		{"Gross margin %", m.GrossMarginPct},
		{"Cost ratio %", m.CostRatioPct},
	}
}

// csvCell prefixes an apostrophe to free text a spreadsheet would otherwise
// evaluate as a formula.
func csvCell(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}

func PLToCSV(r domain.PLReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	records := [][]string{
		{"section", "key", "value"},
		{"period", "start", r.Data.Start.Format(domain.DateLayout)},
		{"period", "end", r.Data.End.Format(domain.DateLayout)},
		{"settings", "tax_rate", r.Metrics.TaxRate.String()},
	}
	for _, l := range statementLines(r.Metrics) {
		records = append(records, []string{"statement", l.Label, l.Amount.StringFixed(2)})
	}
	for _, p := range r.TopProducts {
		records = append(records, []string{"top_product", csvCell(fmt.Sprintf("%s (%s)", p.Name, p.SKU)), p.Revenue.StringFixed(2)})
	}
	for _, c := range r.ExpensesByCategory {
		records = append(records, []string{"expense_category", csvCell(c.Category), c.Amount.StringFixed(2)})
	}
	for _, m := range r.MonthlyTrend {
		records = append(records, []string{"month_revenue", m.Month, m.Revenue.StringFixed(2)})
		records = append(records, []string{"month_expenses", m.Month, m.Expenses.StringFixed(2)})
	}

	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PLToXLSX writes the statement on one sheet and the sales detail on another.
func PLToXLSX(r domain.PLReport) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const summary = "Profit and Loss"
	const detail = "Sales"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(detail); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summary, "A1", "Period")
	_ = f.SetCellValue(summary, "B1", fmt.Sprintf("%s to %s", r.Data.Start.Format(domain.DateLayout), r.Data.End.Format(domain.DateLayout)))
	for i, l := range statementLines(r.Metrics) {
		row := i + 3
		_ = f.SetCellValue(summary, fmt.Sprintf("A%d", row), l.Label)
		amount, _ := l.Amount.Round(2).Float64()
		_ = f.SetCellValue(summary, fmt.Sprintf("B%d", row), amount)
	}

	headers := []string{"Date", "SKU", "Product", "Qty", "Selling price", "Discount", "Revenue", "COGS"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(detail, cell, h)
	}
	for i, s := range r.Data.Sales {
		row := i + 2
		values := []any{
			s.Date.Format(domain.DateLayout),
			s.Product.SKU,
			s.Product.Name,
			s.Qty,
			s.SellingPrice.InexactFloat64(),
			s.Discount.InexactFloat64(),
			s.Revenue.InexactFloat64(),
			s.COGS.InexactFloat64(),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(detail, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var plHTMLTmpl = template.Must(template.New("pl-report").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Profit and Loss {{.Start}} – {{.End}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    td.num { text-align: right; }
  </style>
</head>
<body>
  <h2>Profit and Loss</h2>
  <p>{{.Start}} – {{.End}}</p>
  <table>
    <tbody>{{range .Lines}}<tr><td>{{.Label}}</td><td class="num">{{.Amount.StringFixed 2}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Top products</h3>
  <table>
    <thead><tr><th>Product</th><th>SKU</th><th>Qty</th><th>Revenue</th></tr></thead>
    <tbody>{{range .Top}}<tr><td>{{.Name}}</td><td>{{.SKU}}</td><td class="num">{{.Qty}}</td><td class="num">{{.Revenue.StringFixed 2}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Expenses by category</h3>
  <table>
    <tbody>{{range .Categories}}<tr><td>{{.Category}}</td><td class="num">{{.Amount.StringFixed 2}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func PLToHTML(r domain.PLReport) ([]byte, error) {
	var buf bytes.Buffer
	err := plHTMLTmpl.Execute(&buf, map[string]any{
		"Start":      r.Data.Start.Format(domain.DateLayout),
		"End":        r.Data.End.Format(domain.DateLayout),
		"Lines":      statementLines(r.Metrics),
		"Top":        r.TopProducts,
		"Categories": r.ExpensesByCategory,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
