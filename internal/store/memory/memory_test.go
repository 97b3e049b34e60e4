package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dededemahendra/crm/internal/domain"
	"github.com/dededemahendra/crm/internal/ledger"
	"github.com/dededemahendra/crm/internal/store"
)

var at = time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)

func mutation() store.Mutation {
	return store.Mutation{Actor: "admin", At: at}
}

func createBeans(t *testing.T, s *Store, qty int) *domain.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), domain.Product{
		SKU: "BEAN-01", Name: "Espresso Beans", Unit: "kg", Category: "Coffee", Qty: qty,
	}, mutation())
	require.NoError(t, err)
	return p
}

func TestCreateProductRejectsDuplicateSKU(t *testing.T) {
	s := New()
	createBeans(t, s, 0)

	_, err := s.CreateProduct(context.Background(), domain.Product{SKU: "BEAN-01", Name: "Again", Unit: "kg"}, mutation())
	require.ErrorIs(t, err, store.ErrDuplicateSKU)

	_, err = s.CreateProduct(context.Background(), domain.Product{SKU: "bean-01", Name: "Lowercase", Unit: "kg"}, mutation())
	require.NoError(t, err, "sku match is case-sensitive")
}

func TestUpdateProductSKUCollision(t *testing.T) {
	ctx := context.Background()
	s := New()
	beans := createBeans(t, s, 0)
	milk, err := s.CreateProduct(ctx, domain.Product{SKU: "MILK-01", Name: "Milk", Unit: "l"}, mutation())
	require.NoError(t, err)

	milk.SKU = beans.SKU
	_, err = s.UpdateProduct(ctx, *milk, mutation())
	require.ErrorIs(t, err, store.ErrDuplicateSKU)

	beans.Name = "House Blend"
	updated, err := s.UpdateProduct(ctx, *beans, mutation())
	require.NoError(t, err, "keeping its own sku is not a collision")
	require.Equal(t, "House Blend", updated.Name)

	_, err = s.UpdateProduct(ctx, domain.Product{ID: "prod-missing", SKU: "X"}, mutation())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpeningStockKeepsLedgerFold(t *testing.T) {
	ctx := context.Background()
	s := New()
	beans := createBeans(t, s, 7)

	beans.Qty = 4
	_, err := s.UpdateProduct(ctx, *beans, mutation())
	require.NoError(t, err)

	movements, err := s.ListStockMovements(ctx, domain.ListFilter{ProductID: beans.ID})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.Equal(t, 7, movements[0].Qty)
	require.Equal(t, -3, movements[1].Qty)

	products, _ := s.ListProducts(ctx)
	require.Empty(t, ledger.Reconcile(products, nil, nil, movements))
}

func TestBulkUpsertCountsAndLaterRowsWin(t *testing.T) {
	ctx := context.Background()
	s := New()
	beans := createBeans(t, s, 3)
	beans.UnitCost = decimal.NewFromInt(9)
	_, err := s.UpdateProduct(ctx, *beans, mutation())
	require.NoError(t, err)

	res, err := s.BulkUpsertProducts(ctx, []domain.BulkProductRow{
		{SKU: "BEAN-01", Name: "Beans v2", Unit: "kg", Qty: 10},
		{SKU: "CUP-01", Name: "Cup", Unit: "pcs", Qty: 100},
		{SKU: "CUP-01", Name: "Cup 12oz", Unit: "pcs", Qty: 120},
	}, mutation())
	require.NoError(t, err)
	require.Equal(t, domain.BulkUpsertResult{Created: 1, Updated: 2}, res)

	got, err := s.GetProduct(ctx, beans.ID)
	require.NoError(t, err)
	require.Equal(t, "Beans v2", got.Name)
	require.Equal(t, "Coffee", got.Category, "omitted category is left alone")
	require.True(t, got.UnitCost.Equal(decimal.NewFromInt(9)), "imports never touch cost")

	products, _ := s.ListProducts(ctx)
	var cup domain.Product
	for _, p := range products {
		if p.SKU == "CUP-01" {
			cup = p
		}
	}
	require.Equal(t, "Cup 12oz", cup.Name)
	require.Equal(t, 120, cup.Qty)
	require.Equal(t, domain.DefaultCategory, cup.Category)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	ctx := context.Background()
	s := New()
	beans := createBeans(t, s, 20)

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateSale(ctx, domain.Sale{ProductID: beans.ID, Qty: 1, SellingPrice: decimal.NewFromInt(4), Date: at, CreatedAt: at})
			if err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
				return
			}
			if !errors.Is(err, store.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetProduct(ctx, beans.ID)
	require.NoError(t, err)
	require.Equal(t, 20, sold)
	require.Equal(t, 0, got.Qty)
}

func TestCancelPurchaseFloorWritesMovement(t *testing.T) {
	ctx := context.Background()
	s := New()
	beans := createBeans(t, s, 0)

	p, err := s.CreatePurchase(ctx, domain.Purchase{ProductID: beans.ID, Qty: 10, UnitCost: decimal.NewFromInt(5), Date: at, CreatedAt: at})
	require.NoError(t, err)
	_, err = s.AdjustStock(ctx, beans.ID, 4, domain.StockMovement{Type: domain.MovementWaste, Date: at, CreatedAt: at})
	require.NoError(t, err)

	cancelled, err := s.CancelPurchase(ctx, p.ID, mutation())
	require.NoError(t, err)
	require.Equal(t, domain.PurchaseCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = s.CancelPurchase(ctx, p.ID, mutation())
	require.ErrorIs(t, err, store.ErrAlreadyCancelled)

	got, _ := s.GetProduct(ctx, beans.ID)
	require.Equal(t, 0, got.Qty)

	products, _ := s.ListProducts(ctx)
	purchases, _ := s.ListPurchases(ctx, domain.ListFilter{})
	movements, _ := s.ListStockMovements(ctx, domain.ListFilter{})
	require.Empty(t, ledger.Reconcile(products, purchases, nil, movements))
}

func TestVoidSaleAfterProductDeleted(t *testing.T) {
	ctx := context.Background()
	s := New()
	beans := createBeans(t, s, 5)

	sale, err := s.CreateSale(ctx, domain.Sale{ProductID: beans.ID, Qty: 2, SellingPrice: decimal.NewFromInt(10), Date: at, CreatedAt: at})
	require.NoError(t, err)
	require.NoError(t, s.DeleteProduct(ctx, beans.ID))

	voided, err := s.VoidSale(ctx, sale.ID, at)
	require.NoError(t, err)
	require.True(t, voided.Voided)

	_, err = s.VoidSale(ctx, sale.ID, at)
	require.ErrorIs(t, err, store.ErrAlreadyVoided)
}

func TestListSalesWindowIsInclusive(t *testing.T) {
	ctx := context.Background()
	s := New()
	beans := createBeans(t, s, 10)

	for _, d := range []int{1, 5, 9} {
		date := time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
		_, err := s.CreateSale(ctx, domain.Sale{ProductID: beans.ID, Qty: 1, SellingPrice: decimal.NewFromInt(3), Date: date, CreatedAt: at})
		require.NoError(t, err)
	}

	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)
	sales, err := s.ListSales(ctx, domain.ListFilter{Range: domain.DateRange{Start: &start, End: &end}})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	require.True(t, sales[0].Date.Before(sales[1].Date))
}

func TestSettingsPartialUpsert(t *testing.T) {
	ctx := context.Background()
	s := New()

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	categories := []string{"Rent", "Utilities"}
	created, err := s.UpsertSettings(ctx, domain.SettingsUpdateRequest{ExpenseCategories: &categories}, mutation())
	require.NoError(t, err)
	require.True(t, created.TaxRate.IsZero())

	rate := decimal.NewFromInt(11)
	updated, err := s.UpsertSettings(ctx, domain.SettingsUpdateRequest{TaxRate: &rate}, mutation())
	require.NoError(t, err)
	require.True(t, updated.TaxRate.Equal(rate))
	require.Equal(t, categories, updated.ExpenseCategories)
	require.Equal(t, "admin", updated.UpdatedBy)
}

func TestUserRoleUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateUser(ctx, domain.UserAccount{ID: " Barista ", Password: "hash", Role: domain.RoleViewer}))
	require.ErrorIs(t, s.CreateUser(ctx, domain.UserAccount{ID: "barista", Password: "hash"}), store.ErrDuplicateUser)

	user, err := s.UpdateUserRole(ctx, "barista", domain.RoleManager)
	require.NoError(t, err)
	require.Equal(t, domain.RoleManager, user.Role)

	_, err = s.UpdateUserRole(ctx, "barista", domain.Role("owner"))
	require.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = s.UpdateUserRole(ctx, "ghost", domain.RoleViewer)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewSeededStartsReconciled(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-test")
	t.Setenv("SEED_MANAGER_PASSWORD", "manager-test")
	t.Setenv("SEED_VIEWER_PASSWORD", "viewer-test")
	ctx := context.Background()
	s := NewSeeded()

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)

	products, _ := s.ListProducts(ctx)
	require.NotEmpty(t, products)
	movements, _ := s.ListStockMovements(ctx, domain.ListFilter{})
	require.Empty(t, ledger.Reconcile(products, nil, nil, movements))
}
