package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dededemahendra/crm/internal/domain"
	"github.com/dededemahendra/crm/internal/logging"
	"github.com/dededemahendra/crm/internal/store"
	"github.com/dededemahendra/crm/internal/store/memory"
)

var testNow = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

func newTestService() *Service {
	svc := New(memory.New(), nil, time.Minute, logging.Discard())
	svc.now = func() time.Time { return testNow }
	return svc
}

func asRole(role domain.Role) context.Context {
	return WithPrincipal(context.Background(), domain.Principal{ID: string(role), Role: role})
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, got.Equal(dec(want)), "want %s, got %s", want, got.String())
}

func createBeans(t *testing.T, svc *Service, qty int) domain.Product {
	t.Helper()
	p, err := svc.CreateProduct(asRole(domain.RoleManager), domain.ProductInput{
		SKU:      "BEAN-01",
		Name:     "Espresso Beans",
		Category: "Coffee",
		Unit:     "kg",
		Qty:      qty,
	})
	require.NoError(t, err)
	return p
}

func currentQty(t *testing.T, svc *Service, id string) int {
	t.Helper()
	p, err := svc.GetProduct(asRole(domain.RoleViewer), id)
	require.NoError(t, err)
	return p.Qty
}

func requireReconciled(t *testing.T, svc *Service) {
	t.Helper()
	rep, err := svc.ReconcileInventory(asRole(domain.RoleAdmin))
	require.NoError(t, err)
	require.Empty(t, rep.Drifted)
}

func TestEspressoBeansScenario(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 0)
	requireDec(t, "0", beans.UnitCost)

	_, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		ProductID: beans.ID, Qty: 10, UnitCost: dec("5"), Supplier: "Acme", Date: "2026-03-02",
	})
	require.NoError(t, err)
	got, err := svc.GetProduct(ctx, beans.ID)
	require.NoError(t, err)
	require.Equal(t, 10, got.Qty)
	requireDec(t, "5", got.UnitCost)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		ProductID: beans.ID, Qty: 4, SellingPrice: dec("20"), Discount: dec("0"), Date: "2026-03-03",
	})
	require.NoError(t, err)
	require.Equal(t, 6, currentQty(t, svc, beans.ID))
	requireDec(t, "20", sale.COGS)
	requireDec(t, "80", sale.Revenue)

	voided, err := svc.VoidSale(ctx, sale.ID)
	require.NoError(t, err)
	require.True(t, voided.Voided)
	require.Equal(t, 10, currentQty(t, svc, beans.ID))

	data, err := svc.GetPLData(ctx, "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	require.Empty(t, data.Sales)

	pl, err := svc.GetPLReport(ctx, "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	requireDec(t, "0", pl.Metrics.Revenue)
	requireDec(t, "0", pl.Metrics.COGS)

	requireReconciled(t, svc)
}

func TestSaleVoidRestoresExactly(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 12)
	_, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 3, UnitCost: dec("7.25"), Date: "2026-03-01"})
	require.NoError(t, err)
	before := currentQty(t, svc, beans.ID)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 5, SellingPrice: dec("12"), Discount: dec("3"), Date: "2026-03-04"})
	require.NoError(t, err)
	require.Equal(t, before-5, currentQty(t, svc, beans.ID))

	voided, err := svc.VoidSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, before, currentQty(t, svc, beans.ID))
	require.True(t, voided.COGS.Equal(sale.COGS))
	require.True(t, voided.Revenue.Equal(sale.Revenue))
	requireDec(t, "36.25", voided.COGS)
	requireDec(t, "57", voided.Revenue)

	_, err = svc.VoidSale(ctx, sale.ID)
	require.ErrorIs(t, err, store.ErrAlreadyVoided)
	require.Equal(t, before, currentQty(t, svc, beans.ID))
}

func TestCostBasisLastWriteWinsAndCancelRecomputes(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 0)

	_, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 4, UnitCost: dec("10"), Date: "2026-03-01"})
	require.NoError(t, err)
	p2, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 6, UnitCost: dec("12"), Date: "2026-03-05"})
	require.NoError(t, err)

	got, _ := svc.GetProduct(ctx, beans.ID)
	requireDec(t, "12", got.UnitCost)
	require.Equal(t, 10, got.Qty)

	cancelled, err := svc.CancelPurchase(ctx, p2.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PurchaseCancelled, cancelled.Status)
	got, _ = svc.GetProduct(ctx, beans.ID)
	requireDec(t, "10", got.UnitCost)
	require.Equal(t, 4, got.Qty)

	_, err = svc.CancelPurchase(ctx, p2.ID)
	require.ErrorIs(t, err, store.ErrAlreadyCancelled)
	again, _ := svc.GetProduct(ctx, beans.ID)
	require.Equal(t, got.Qty, again.Qty)
	require.True(t, got.UnitCost.Equal(again.UnitCost))
}

func TestCancelLastPurchaseKeepsCost(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleAdmin)
	beans := createBeans(t, svc, 0)

	p, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 2, UnitCost: dec("8.40"), Date: "2026-03-01"})
	require.NoError(t, err)
	_, err = svc.CancelPurchase(ctx, p.ID)
	require.NoError(t, err)

	got, _ := svc.GetProduct(ctx, beans.ID)
	requireDec(t, "8.40", got.UnitCost)
	require.Equal(t, 0, got.Qty)
}

func TestCancelTieBreakUsesLatestCreated(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleAdmin)
	beans := createBeans(t, svc, 0)

	_, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 1, UnitCost: dec("3"), Date: "2026-03-01"})
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow.Add(time.Minute) }
	_, err = svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 1, UnitCost: dec("4"), Date: "2026-03-01"})
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow.Add(2 * time.Minute) }
	p3, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 1, UnitCost: dec("9"), Date: "2026-02-20"})
	require.NoError(t, err)
	p4, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 1, UnitCost: dec("6"), Date: "2026-03-02"})
	require.NoError(t, err)

	_, err = svc.CancelPurchase(ctx, p4.ID)
	require.NoError(t, err)
	got, _ := svc.GetProduct(ctx, beans.ID)
	requireDec(t, "4", got.UnitCost)

	_, err = svc.CancelPurchase(ctx, p3.ID)
	require.NoError(t, err)
	got, _ = svc.GetProduct(ctx, beans.ID)
	requireDec(t, "4", got.UnitCost)
}

func TestInsufficientStockRejected(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 3)

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 5, SellingPrice: dec("10"), Date: "2026-03-03"})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.Contains(t, err.Error(), "only 3 kg")
	require.Equal(t, 3, currentQty(t, svc, beans.ID))

	sales, err := svc.ListSales(ctx, domain.ListQuery{})
	require.NoError(t, err)
	require.Empty(t, sales)
}

func TestStockNeverNegative(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 2)

	check := func() {
		t.Helper()
		require.GreaterOrEqual(t, currentQty(t, svc, beans.ID), 0)
	}

	p, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 8, UnitCost: dec("5"), Date: "2026-03-01"})
	require.NoError(t, err)
	check()

	_, err = svc.CreateStockMovement(ctx, domain.StockMovementCreateRequest{ProductID: beans.ID, Type: "waste", Qty: -11, Date: "2026-03-02"})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	check()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 6, SellingPrice: dec("9"), Date: "2026-03-02"})
	require.NoError(t, err)
	check()

	_, err = svc.AdjustStock(ctx, beans.ID, domain.StockAdjustRequest{NewQty: -1})
	require.ErrorIs(t, err, store.ErrNegativeQuantity)
	check()

	_, err = svc.CreateStockMovement(ctx, domain.StockMovementCreateRequest{ProductID: beans.ID, Type: "transfer", Qty: -3, Date: "2026-03-03"})
	require.NoError(t, err)
	check()

	_, err = svc.CancelPurchase(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 0, currentQty(t, svc, beans.ID))

	_, err = svc.VoidSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, 6, currentQty(t, svc, beans.ID))

	requireReconciled(t, svc)
}

func TestAdjustStockLogsImpliedDelta(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 10)

	res, err := svc.AdjustStock(ctx, beans.ID, domain.StockAdjustRequest{NewQty: 7, Reason: "recount"})
	require.NoError(t, err)
	require.Equal(t, 7, res.Product.Qty)
	require.NotNil(t, res.Movement)
	require.Equal(t, -3, res.Movement.Qty)
	require.Equal(t, domain.MovementAdjustment, res.Movement.Type)
	require.Equal(t, "2026-03-15", res.Movement.Date.Format(domain.DateLayout))
	require.Equal(t, "manager", res.Movement.CreatedBy)

	res, err = svc.AdjustStock(ctx, beans.ID, domain.StockAdjustRequest{NewQty: 7, Type: "waste"})
	require.NoError(t, err)
	require.Nil(t, res.Movement, "no movement when quantity is unchanged")
	require.Equal(t, testNow, res.Product.UpdatedAt)

	res, err = svc.AdjustStock(ctx, beans.ID, domain.StockAdjustRequest{NewQty: 2, Type: "waste", Date: "2026-03-10"})
	require.NoError(t, err)
	require.Equal(t, domain.MovementWaste, res.Movement.Type)

	rows, err := svc.ListStockMovements(ctx, domain.ListQuery{ProductID: beans.ID, Start: "2026-03-10", End: "2026-03-10"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, -5, rows[0].Qty)
	require.Equal(t, "Espresso Beans", rows[0].Product.Name)

	requireReconciled(t, svc)
}

func TestProductRegistry(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 0)

	_, err := svc.CreateProduct(ctx, domain.ProductInput{SKU: "BEAN-01", Name: "Dup", Unit: "kg"})
	require.ErrorIs(t, err, store.ErrDuplicateSKU)

	milk, err := svc.CreateProduct(ctx, domain.ProductInput{SKU: "MILK-1L", Name: "Whole Milk", Unit: "l"})
	require.NoError(t, err)
	require.Equal(t, domain.DefaultCategory, milk.Category)

	_, err = svc.UpdateProduct(ctx, milk.ID, domain.ProductInput{SKU: "BEAN-01", Name: "Whole Milk", Unit: "l"})
	require.ErrorIs(t, err, store.ErrDuplicateSKU)

	_, err = svc.UpdateProduct(ctx, "prod-missing", domain.ProductInput{SKU: "X-1", Name: "Ghost", Unit: "pcs"})
	require.ErrorIs(t, err, store.ErrNotFound)

	updated, err := svc.UpdateProduct(ctx, beans.ID, domain.ProductInput{
		SKU: "BEAN-02", Name: "House Blend", Unit: "kg", UnitCost: dec("14"), ReorderLevel: 2,
		SellingPrice: decimal.NewNullDecimal(dec("22")),
	})
	require.NoError(t, err)
	require.Equal(t, "BEAN-02", updated.SKU)
	require.Equal(t, testNow, updated.UpdatedAt)

	err = svc.DeleteProduct(ctx, beans.ID)
	require.ErrorIs(t, err, ErrForbidden)
	require.NoError(t, svc.DeleteProduct(asRole(domain.RoleAdmin), beans.ID))
	_, err = svc.GetProduct(ctx, beans.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBulkUpsertProducts(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	createBeans(t, svc, 4)
	pastry := "Bakery"

	res, err := svc.BulkUpsertProducts(ctx, domain.BulkUpsertRequest{Rows: []domain.BulkProductRow{
		{SKU: " BEAN-01 ", Name: "Espresso Beans", Unit: "kg", Qty: 9},
		{SKU: "MUFFIN", Name: "Muffin", Unit: "pcs", Qty: 12, Category: &pastry},
	}})
	require.NoError(t, err)
	require.Equal(t, domain.BulkUpsertResult{Created: 1, Updated: 1}, res)

	_, err = svc.BulkUpsertProducts(ctx, domain.BulkUpsertRequest{})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = svc.BulkUpsertProducts(asRole(domain.RoleViewer), domain.BulkUpsertRequest{Rows: []domain.BulkProductRow{{SKU: "A", Name: "A", Unit: "pcs"}}})
	require.ErrorIs(t, err, ErrForbidden)

	requireReconciled(t, svc)
}

func TestPLIdentityAndBreakdowns(t *testing.T) {
	svc := newTestService()
	admin := asRole(domain.RoleAdmin)
	beans := createBeans(t, svc, 0)

	rate := dec("10")
	_, err := svc.UpsertSettings(admin, domain.SettingsUpdateRequest{TaxRate: &rate})
	require.NoError(t, err)

	_, err = svc.CreatePurchase(admin, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 20, UnitCost: dec("4"), Date: "2026-02-01"})
	require.NoError(t, err)
	for _, d := range []string{"2026-02-10", "2026-03-05"} {
		_, err = svc.CreateSale(admin, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 5, SellingPrice: dec("20"), Date: d})
		require.NoError(t, err)
	}
	_, err = svc.CreateExpense(admin, domain.ExpenseInput{Date: "2026-02-28", Category: "Rent", Amount: dec("50")})
	require.NoError(t, err)
	_, err = svc.CreateExpense(admin, domain.ExpenseInput{Date: "2026-03-01", Category: "Utilities", Amount: dec("20")})
	require.NoError(t, err)
	_, err = svc.CreateOtherIncome(admin, domain.OtherIncomeInput{Date: "2026-03-02", Source: "Catering", Amount: dec("10")})
	require.NoError(t, err)

	pl, err := svc.GetPLReport(admin, "2026-02-01", "2026-03-31")
	require.NoError(t, err)
	m := pl.Metrics
	requireDec(t, "200", m.Revenue)
	requireDec(t, "40", m.COGS)
	requireDec(t, "70", m.OpExTotal)
	requireDec(t, "100", m.ProfitBeforeTax)
	requireDec(t, "10", m.Tax)
	requireDec(t, "90", m.NetProfit)
	require.True(t, m.NetProfit.Equal(m.Revenue.Sub(m.COGS).Sub(m.OpExTotal).Add(m.OtherIncomeTotal).Sub(m.Tax)))
	requireDec(t, "80", m.GrossMarginPct)

	require.Len(t, pl.MonthlyTrend, 2)
	require.Equal(t, "2026-02", pl.MonthlyTrend[0].Month)
	require.Equal(t, "Rent", pl.ExpensesByCategory[0].Category)

	loss, err := svc.GetPLReport(admin, "2026-02-28", "2026-03-01")
	require.NoError(t, err)
	requireDec(t, "-70", loss.Metrics.ProfitBeforeTax)
	requireDec(t, "0", loss.Metrics.Tax)
	requireDec(t, "-70", loss.Metrics.NetProfit)
}

func TestGetPLDataRequiresWindow(t *testing.T) {
	svc := newTestService()
	_, err := svc.GetPLData(asRole(domain.RoleViewer), "", "2026-03-31")
	require.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = svc.GetPLData(asRole(domain.RoleViewer), "2026-03-31", "2026-03-01")
	require.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = svc.GetPLData(asRole(domain.RoleViewer), "03/01/2026", "2026-03-31")
	require.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestDeletedProductPlaceholder(t *testing.T) {
	svc := newTestService()
	admin := asRole(domain.RoleAdmin)
	beans := createBeans(t, svc, 5)
	sale, err := svc.CreateSale(admin, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 1, SellingPrice: dec("4"), Date: "2026-03-10"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteProduct(admin, beans.ID))

	row, err := svc.GetSale(admin, sale.ID)
	require.NoError(t, err)
	require.True(t, row.Product.Deleted)
	require.Equal(t, domain.DeletedProductName, row.Product.Name)
	require.Equal(t, domain.DeletedProductSKU, row.Product.SKU)

	data, err := svc.GetPLData(admin, "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	require.Len(t, data.Sales, 1)
	require.Equal(t, domain.DeletedProductName, data.Sales[0].Product.Name)

	voided, err := svc.VoidSale(admin, sale.ID)
	require.NoError(t, err, "void of a deleted product's sale still succeeds")
	require.True(t, voided.Voided)
}

func TestStockSummaryWindow(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 0)

	_, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 10, UnitCost: dec("5"), Date: "2026-03-01"})
	require.NoError(t, err)
	_, err = svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 5, UnitCost: dec("5"), Date: "2026-03-20"})
	require.NoError(t, err)
	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 3, SellingPrice: dec("9"), Date: "2026-03-02"})
	require.NoError(t, err)
	_, err = svc.CreateStockMovement(ctx, domain.StockMovementCreateRequest{ProductID: beans.ID, Type: "production", Qty: 2, Date: "2026-03-03"})
	require.NoError(t, err)

	rows, err := svc.GetStockSummary(ctx, "2026-03-01", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 10, rows[0].TotalPurchased)
	require.Equal(t, 3, rows[0].TotalSold)
	require.Equal(t, 2, rows[0].TotalProduction)
	require.Equal(t, 14, rows[0].CurrentQty)
}

func TestRoleGates(t *testing.T) {
	svc := newTestService()
	beans := createBeans(t, svc, 5)
	viewer := asRole(domain.RoleViewer)

	_, err := svc.CreatePurchase(viewer, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 1, UnitCost: dec("1"), Date: "2026-03-01"})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.CreateSale(viewer, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 1, Date: "2026-03-01"})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.CreateExpense(viewer, domain.ExpenseInput{Date: "2026-03-01", Category: "Rent", Amount: dec("1")})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.ListProducts(context.Background())
	require.ErrorIs(t, err, ErrForbidden, "anonymous callers are rejected")

	rate := dec("5")
	_, err = svc.UpsertSettings(asRole(domain.RoleManager), domain.SettingsUpdateRequest{TaxRate: &rate})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.ListAuditLogs(asRole(domain.RoleManager), domain.ListQuery{})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.ReconcileInventory(viewer)
	require.ErrorIs(t, err, ErrForbidden)

	products, err := svc.ListProducts(viewer)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, 5, products[0].Qty, "rejected mutations leave no trace")
}

func TestValidationErrorsListFields(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 5)

	_, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 0, UnitCost: dec("-1"), Date: "2026-03-01", PaymentMethod: "barter"})
	require.ErrorIs(t, err, store.ErrInvalidInput)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 3)

	_, err = svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		ProductID: beans.ID, Qty: 2, UnitCost: dec("3"), TotalCost: decimal.NewNullDecimal(dec("7")), Date: "2026-03-01",
	})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = svc.CreateExpense(ctx, domain.ExpenseInput{Date: "2026-03-01", Category: "Rent", Amount: dec("0")})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: "prod-missing", Qty: 1, UnitCost: dec("1"), Date: "2026-03-01"})
	require.ErrorIs(t, err, store.ErrNotFound)

	tooHigh := dec("100.5")
	_, err = svc.UpsertSettings(asRole(domain.RoleAdmin), domain.SettingsUpdateRequest{TaxRate: &tooHigh})
	require.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestSubCentAmountsRejected(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 5)

	requireFieldFailed := func(err error, field string) {
		t.Helper()
		require.ErrorIs(t, err, store.ErrInvalidInput)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		require.Len(t, verr.Fields, 1)
		require.Contains(t, verr.Fields[0].Field, field)
		require.Equal(t, "money", verr.Fields[0].Tag)
	}

	_, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 3, UnitCost: dec("0.125"), Date: "2026-03-01"})
	requireFieldFailed(err, "unit_cost")

	_, err = svc.CreateProduct(ctx, domain.ProductInput{
		SKU: "MILK-01", Name: "Oat Milk", Unit: "l", UnitCost: dec("1.5"), SellingPrice: decimal.NewNullDecimal(dec("2.999")),
	})
	requireFieldFailed(err, "selling_price")

	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 1, SellingPrice: dec("4.005"), Date: "2026-03-02"})
	requireFieldFailed(err, "selling_price")

	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 1, SellingPrice: dec("4"), Discount: dec("0.001"), Date: "2026-03-02"})
	requireFieldFailed(err, "discount")

	_, err = svc.CreateExpense(ctx, domain.ExpenseInput{Date: "2026-03-01", Category: "Rent", Amount: dec("10.555")})
	requireFieldFailed(err, "amount")

	_, err = svc.CreateOtherIncome(ctx, domain.OtherIncomeInput{Date: "2026-03-01", Source: "Catering", Amount: dec("0.009")})
	requireFieldFailed(err, "amount")

	rate := dec("12.345")
	_, err = svc.UpsertSettings(asRole(domain.RoleAdmin), domain.SettingsUpdateRequest{TaxRate: &rate})
	requireFieldFailed(err, "tax_rate")

	require.Equal(t, 5, currentQty(t, svc, beans.ID))

	trailingZeros := dec("2.500")
	_, err = svc.UpsertSettings(asRole(domain.RoleAdmin), domain.SettingsUpdateRequest{TaxRate: &trailingZeros})
	require.NoError(t, err)
	purchase, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 3, UnitCost: dec("0.13"), Date: "2026-03-01"})
	require.NoError(t, err)
	requireDec(t, "0.39", purchase.TotalCost)
}

func TestNegativeRevenueIsAccepted(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 2)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 1, SellingPrice: dec("5"), Discount: dec("8"), Date: "2026-03-01"})
	require.NoError(t, err)
	requireDec(t, "-3", sale.Revenue)
}

func TestExpenseAndIncomeCRUD(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)

	e, err := svc.CreateExpense(ctx, domain.ExpenseInput{Date: "2026-03-01", Category: "Rent", Amount: dec("100"), PaymentMethod: "bank_transfer"})
	require.NoError(t, err)
	_, err = svc.CreateExpense(ctx, domain.ExpenseInput{Date: "2026-03-02", Category: "Utilities", Amount: dec("30")})
	require.NoError(t, err)

	updated, err := svc.UpdateExpense(ctx, e.ID, domain.ExpenseInput{Date: "2026-03-01", Category: "Rent", Amount: dec("120")})
	require.NoError(t, err)
	requireDec(t, "120", updated.Amount)
	require.Equal(t, "manager", updated.CreatedBy)

	rent, err := svc.ListExpenses(ctx, domain.ListQuery{Category: "Rent"})
	require.NoError(t, err)
	require.Len(t, rent, 1)

	require.NoError(t, svc.DeleteExpense(ctx, e.ID))
	require.ErrorIs(t, svc.DeleteExpense(ctx, e.ID), store.ErrNotFound)
	_, err = svc.UpdateExpense(ctx, e.ID, domain.ExpenseInput{Date: "2026-03-01", Category: "Rent", Amount: dec("1")})
	require.ErrorIs(t, err, store.ErrNotFound)

	inc, err := svc.CreateOtherIncome(ctx, domain.OtherIncomeInput{Date: "2026-03-03", Source: "Workshop", Amount: dec("45")})
	require.NoError(t, err)
	inc, err = svc.UpdateOtherIncome(ctx, inc.ID, domain.OtherIncomeInput{Date: "2026-03-04", Source: "Workshop", Amount: dec("50"), Notes: "latte art"})
	require.NoError(t, err)
	require.Equal(t, "latte art", inc.Notes)

	all, err := svc.ListOtherIncome(ctx, domain.ListQuery{Start: "2026-03-04", End: "2026-03-04"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NoError(t, svc.DeleteOtherIncome(ctx, inc.ID))
}

type countingCache struct {
	value   *domain.AppSettings
	gets    int
	deletes int
}

func (c *countingCache) Get(_ context.Context, _ string) (*domain.AppSettings, bool, error) {
	c.gets++
	if c.value == nil {
		return nil, false, nil
	}
	v := *c.value
	return &v, true, nil
}

func (c *countingCache) Set(_ context.Context, _ string, value *domain.AppSettings, _ time.Duration) error {
	v := *value
	c.value = &v
	return nil
}

func (c *countingCache) Delete(_ context.Context, _ string) error {
	c.deletes++
	c.value = nil
	return nil
}

func TestSettingsDefaultsAndCache(t *testing.T) {
	cache := &countingCache{}
	svc := New(memory.New(), cache, time.Minute, logging.Discard())
	svc.now = func() time.Time { return testNow }
	viewer := asRole(domain.RoleViewer)
	admin := asRole(domain.RoleAdmin)

	got, err := svc.GetSettings(viewer)
	require.NoError(t, err)
	requireDec(t, "0", got.TaxRate)
	require.Empty(t, got.ExpenseCategories)
	require.Nil(t, cache.value, "defaults are not cached")

	categories := []string{" Rent ", "Utilities"}
	_, err = svc.UpsertSettings(admin, domain.SettingsUpdateRequest{ExpenseCategories: &categories})
	require.NoError(t, err)
	require.Equal(t, 1, cache.deletes)

	got, err = svc.GetSettings(viewer)
	require.NoError(t, err)
	require.Equal(t, []string{"Rent", "Utilities"}, got.ExpenseCategories)
	require.NotNil(t, cache.value)

	rate := dec("11")
	updated, err := svc.UpsertSettings(admin, domain.SettingsUpdateRequest{TaxRate: &rate})
	require.NoError(t, err)
	requireDec(t, "11", updated.TaxRate)
	require.Equal(t, []string{"Rent", "Utilities"}, updated.ExpenseCategories)
	require.Nil(t, cache.value, "upsert invalidates the cache")
}

func TestUserManagement(t *testing.T) {
	svc := newTestService()
	admin := WithPrincipal(context.Background(), domain.Principal{ID: "owner", Role: domain.RoleAdmin})

	created, err := svc.CreateUser(admin, domain.UserCreateRequest{Username: " Barista ", Password: "s3cret!", Role: domain.RoleViewer})
	require.NoError(t, err)
	require.Equal(t, "barista", created.ID)
	require.Empty(t, created.Password)

	_, err = svc.CreateUser(admin, domain.UserCreateRequest{Username: "barista", Password: "s3cret!", Role: domain.RoleViewer})
	require.ErrorIs(t, err, store.ErrDuplicateUser)
	_, err = svc.CreateUser(admin, domain.UserCreateRequest{Username: "x", Password: "s3cret!", Role: domain.RoleViewer})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	updated, err := svc.UpdateUserRole(admin, "barista", domain.UserRoleUpdateRequest{Role: domain.RoleManager})
	require.NoError(t, err)
	require.Equal(t, domain.RoleManager, updated.Role)

	_, err = svc.UpdateUserRole(admin, "OWNER", domain.UserRoleUpdateRequest{Role: domain.RoleViewer})
	require.ErrorIs(t, err, ErrOwnRoleChange)
	_, err = svc.UpdateUserRole(admin, "barista", domain.UserRoleUpdateRequest{Role: "owner"})
	require.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = svc.UpdateUserRole(admin, "ghost", domain.UserRoleUpdateRequest{Role: domain.RoleViewer})
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.UpdateUserRole(asRole(domain.RoleManager), "barista", domain.UserRoleUpdateRequest{Role: domain.RoleViewer})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAuditTrail(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 1)
	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 1, SellingPrice: dec("3"), Date: "2026-03-15"})
	require.NoError(t, err)

	logs, err := svc.ListAuditLogs(asRole(domain.RoleAdmin), domain.ListQuery{Start: "2026-03-15", End: "2026-03-15"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	actions := []string{logs[0].Action, logs[1].Action}
	require.ElementsMatch(t, []string{"product_create", "sale_create"}, actions)
	require.Equal(t, "manager", logs[0].ActorID)
	require.Equal(t, string(domain.RoleManager), logs[0].ActorRole)
}

func TestDashboardMonthToDate(t *testing.T) {
	svc := newTestService()
	ctx := asRole(domain.RoleManager)
	beans := createBeans(t, svc, 0)
	_, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{ProductID: beans.ID, Qty: 4, UnitCost: dec("5"), Date: "2026-02-20"})
	require.NoError(t, err)
	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 1, SellingPrice: dec("10"), Date: "2026-02-25"})
	require.NoError(t, err)
	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{ProductID: beans.ID, Qty: 2, SellingPrice: dec("10"), Date: "2026-03-14"})
	require.NoError(t, err)

	d, err := svc.GetDashboard(asRole(domain.RoleViewer))
	require.NoError(t, err)
	require.Equal(t, 1, d.ProductCount)
	requireDec(t, "20", d.MonthToDate.Revenue)
	requireDec(t, "5", d.InventoryValue)
	require.Empty(t, d.LowStock)
	require.Len(t, d.TopProducts, 1)
}

func TestAuditFailureDoesNotFailMutation(t *testing.T) {
	svc := New(failingAuditRepo{memory.New()}, nil, time.Minute, logrus.New())
	svc.now = func() time.Time { return testNow }
	_, err := svc.CreateProduct(asRole(domain.RoleAdmin), domain.ProductInput{SKU: "CUP", Name: "Cup", Unit: "pcs"})
	require.NoError(t, err)
}

type failingAuditRepo struct {
	*memory.Store
}

func (failingAuditRepo) CreateAuditLog(context.Context, domain.AuditLog) error {
	return errors.New("audit table unavailable")
}
