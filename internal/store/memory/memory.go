package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/dededemahendra/crm/internal/domain"
	"github.com/dededemahendra/crm/internal/ledger"
	"github.com/dededemahendra/crm/internal/store"
	"github.com/dededemahendra/crm/internal/xid"
)

// Store keeps everything in process memory. Every mutation holds the write
// lock for its whole read-modify-write, which gives the same all-or-nothing
// behaviour as a serializable transaction.
type Store struct {
	mu        sync.RWMutex
	products  map[string]domain.Product
	skuIndex  map[string]string
	movements []domain.StockMovement
	purchases []domain.Purchase
	sales     []domain.Sale
	expenses  map[string]domain.OperatingExpense
	income    map[string]domain.OtherIncome
	settings  *domain.AppSettings
	auditLogs []domain.AuditLog
	users     map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:  make(map[string]domain.Product),
		skuIndex:  make(map[string]string),
		movements: make([]domain.StockMovement, 0, 64),
		purchases: make([]domain.Purchase, 0, 64),
		sales:     make([]domain.Sale, 0, 128),
		expenses:  make(map[string]domain.OperatingExpense),
		income:    make(map[string]domain.OtherIncome),
		auditLogs: make([]domain.AuditLog, 0, 128),
		users:     make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_VIEWER_PASSWORD; unset
// variables fall back to dev defaults with a warning. The postgres store never
// uses these.
func seedUsers() map[string]domain.UserAccount {
	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		env      string
		fallback string
		role     domain.Role
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin},
		{"manager", "SEED_MANAGER_PASSWORD", "manager123", domain.RoleManager},
		{"viewer", "SEED_VIEWER_PASSWORD", "viewer123", domain.RoleViewer},
	} {
		password := os.Getenv(u.env)
		if password == "" {
			logrus.WithField("component", "memory-store").Warnf("using default dev credentials for %s, set %s to override", u.username, u.env)
			password = u.fallback
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithField("component", "memory-store").Fatalf("failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

// NewSeeded returns a store with demo users and a small café catalogue. Opening
// quantities are recorded as adjustment movements like any other product.
func NewSeeded() *Store {
	s := New()
	s.users = seedUsers()

	seed := store.Mutation{Actor: "system", At: time.Now().UTC()}
	for _, p := range []domain.Product{
		{SKU: "BEAN-ESP-1KG", Name: "Espresso Beans", Category: "Coffee", Unit: "kg", UnitCost: decimal.NewFromInt(18), Qty: 12, ReorderLevel: 4},
		{SKU: "MILK-FULL-1L", Name: "Whole Milk", Category: "Dairy", Unit: "l", UnitCost: decimal.RequireFromString("1.20"), Qty: 40, ReorderLevel: 10},
		{SKU: "MILK-OAT-1L", Name: "Oat Milk", Category: "Dairy", Unit: "l", UnitCost: decimal.RequireFromString("2.10"), Qty: 18, ReorderLevel: 6},
		{SKU: "SYR-VAN-750", Name: "Vanilla Syrup", Category: "Syrups", Unit: "bottle", UnitCost: decimal.RequireFromString("6.50"), Qty: 5, ReorderLevel: 2},
		{SKU: "CUP-12OZ", Name: "Paper Cup 12oz", Category: "Packaging", Unit: "pcs", UnitCost: decimal.RequireFromString("0.08"), Qty: 600, ReorderLevel: 200},
		{SKU: "CROISSANT", Name: "Butter Croissant", Category: "Bakery", Unit: "pcs", UnitCost: decimal.RequireFromString("0.90"), SellingPrice: decimal.NewNullDecimal(decimal.RequireFromString("3.50")), Qty: 24, ReorderLevel: 12},
	} {
		if _, err := s.CreateProduct(context.Background(), p, seed); err != nil {
			logrus.WithField("component", "memory-store").Fatalf("failed to seed product %s: %v", p.SKU, err)
		}
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, m store.Mutation) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Qty < 0 {
		return nil, store.ErrNegativeQuantity
	}
	if _, exists := s.skuIndex[product.SKU]; exists {
		return nil, store.ErrDuplicateSKU
	}

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.CreatedAt = m.At
	product.UpdatedAt = m.At
	s.products[product.ID] = product
	s.skuIndex[product.SKU] = product.ID
	s.appendTrail(product.ID, product.Qty, "opening stock", m)
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product, m store.Mutation) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Qty < 0 {
		return nil, store.ErrNegativeQuantity
	}
	current, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if owner, taken := s.skuIndex[product.SKU]; taken && owner != product.ID {
		return nil, store.ErrDuplicateSKU
	}

	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = m.At
	delete(s.skuIndex, current.SKU)
	s.skuIndex[product.SKU] = product.ID
	s.products[product.ID] = product
	s.appendTrail(product.ID, product.Qty-current.Qty, "product edit", m)
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return store.ErrNotFound
	}
	delete(s.products, id)
	delete(s.skuIndex, product.SKU)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, newQty int, movement domain.StockMovement) (*domain.StockAdjustResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	next, delta, err := ledger.AdjustTo(product, newQty, movement.CreatedAt)
	if err != nil {
		return nil, err
	}

	result := &domain.StockAdjustResult{Product: next}
	if delta != 0 {
		movement.ProductID = productID
		movement.Qty = delta
		if movement.ID == "" {
			movement.ID = xid.New("mov")
		}
		s.movements = append(s.movements, movement)
		recorded := movement
		result.Movement = &recorded
	}
	s.products[productID] = next
	return result, nil
}

func (s *Store) BulkUpsertProducts(_ context.Context, rows []domain.BulkProductRow, m store.Mutation) (domain.BulkUpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result domain.BulkUpsertResult
	for _, row := range rows {
		if row.Qty < 0 {
			return domain.BulkUpsertResult{}, store.ErrNegativeQuantity
		}
	}

	for _, row := range rows {
		if id, exists := s.skuIndex[row.SKU]; exists {
			product := s.products[id]
			delta := row.Qty - product.Qty
			ledger.PatchFromRow(&product, row)
			product.UpdatedAt = m.At
			s.products[id] = product
			s.appendTrail(id, delta, "bulk import", m)
			result.Updated++
			continue
		}

		product := ledger.ProductFromRow(row)
		product.ID = xid.New("prod")
		product.CreatedAt = m.At
		product.UpdatedAt = m.At
		s.products[product.ID] = product
		s.skuIndex[product.SKU] = product.ID
		s.appendTrail(product.ID, product.Qty, "bulk import", m)
		result.Created++
	}
	return result, nil
}

// appendTrail records a registry edit that changed quantity outside the
// purchase and sale ledgers. Callers hold the write lock.
func (s *Store) appendTrail(productID string, delta int, reason string, m store.Mutation) {
	if delta == 0 {
		return
	}
	s.movements = append(s.movements, ledger.TrailMovement(productID, delta, reason, m))
}

func (s *Store) CreateStockMovement(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[movement.ProductID]
	if !exists {
		return nil, store.ErrNotFound
	}
	next, err := ledger.ApplyMovement(product, movement.Qty, movement.CreatedAt)
	if err != nil {
		return nil, err
	}

	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	s.products[product.ID] = next
	s.movements = append(s.movements, movement)
	return &movement, nil
}

func (s *Store) ListStockMovements(_ context.Context, filter domain.ListFilter) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, len(s.movements))
	for _, mv := range s.movements {
		if filter.ProductID != "" && mv.ProductID != filter.ProductID {
			continue
		}
		if !filter.Range.Contains(mv.Date) {
			continue
		}
		result = append(result, mv)
	}
	slices.SortStableFunc(result, func(a, b domain.StockMovement) int {
		return chronological(a.Date, a.CreatedAt, b.Date, b.CreatedAt)
	})
	return limit(result, filter.Limit), nil
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[purchase.ProductID]
	if !exists {
		return nil, store.ErrNotFound
	}

	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	purchase.Status = domain.PurchaseActive
	s.products[product.ID] = ledger.ApplyPurchase(product, purchase, purchase.CreatedAt)
	s.purchases = append(s.purchases, purchase)
	return &purchase, nil
}

func (s *Store) CancelPurchase(_ context.Context, id string, m store.Mutation) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.purchases, func(p domain.Purchase) bool { return p.ID == id })
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	purchase := s.purchases[idx]
	if purchase.Status == domain.PurchaseCancelled {
		return nil, store.ErrAlreadyCancelled
	}

	if product, exists := s.products[purchase.ProductID]; exists {
		siblings := make([]domain.Purchase, 0, 8)
		for _, p := range s.purchases {
			if p.ProductID == purchase.ProductID {
				siblings = append(siblings, p)
			}
		}
		next, shortfall := ledger.CancelPurchase(product, purchase, siblings, m.At)
		s.products[product.ID] = next
		if shortfall > 0 {
			s.movements = append(s.movements, ledger.FloorMovement(purchase, shortfall, m))
		}
	}

	at := m.At
	purchase.Status = domain.PurchaseCancelled
	purchase.CancelledAt = &at
	s.purchases[idx] = purchase
	return &purchase, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.purchases {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListPurchases(_ context.Context, filter domain.ListFilter) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Purchase, 0, len(s.purchases))
	for _, p := range s.purchases {
		if filter.ProductID != "" && p.ProductID != filter.ProductID {
			continue
		}
		if !filter.Range.Contains(p.Date) {
			continue
		}
		result = append(result, p)
	}
	slices.SortStableFunc(result, func(a, b domain.Purchase) int {
		return chronological(a.Date, a.CreatedAt, b.Date, b.CreatedAt)
	})
	return limit(result, filter.Limit), nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[sale.ProductID]
	if !exists {
		return nil, store.ErrNotFound
	}
	cogs, revenue, err := ledger.PriceSale(product, sale.Qty, sale.SellingPrice, sale.Discount)
	if err != nil {
		return nil, err
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	sale.COGS = cogs
	sale.Revenue = revenue
	sale.Voided = false
	s.products[product.ID] = ledger.ApplySale(product, sale, sale.CreatedAt)
	s.sales = append(s.sales, sale)
	return &sale, nil
}

func (s *Store) VoidSale(_ context.Context, id string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.sales, func(sl domain.Sale) bool { return sl.ID == id })
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	sale := s.sales[idx]
	if sale.Voided {
		return nil, store.ErrAlreadyVoided
	}

	if product, exists := s.products[sale.ProductID]; exists {
		s.products[product.ID] = ledger.RestoreSale(product, sale, at)
	}

	sale.Voided = true
	sale.VoidedAt = &at
	s.sales[idx] = sale
	return &sale, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sl := range s.sales {
		if sl.ID == id {
			return &sl, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListSales(_ context.Context, filter domain.ListFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.sales))
	for _, sl := range s.sales {
		if filter.ProductID != "" && sl.ProductID != filter.ProductID {
			continue
		}
		if !filter.Range.Contains(sl.Date) {
			continue
		}
		result = append(result, sl)
	}
	slices.SortStableFunc(result, func(a, b domain.Sale) int {
		return chronological(a.Date, a.CreatedAt, b.Date, b.CreatedAt)
	})
	return limit(result, filter.Limit), nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.OperatingExpense) (*domain.OperatingExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	s.expenses[expense.ID] = expense
	return &expense, nil
}

func (s *Store) UpdateExpense(_ context.Context, expense domain.OperatingExpense) (*domain.OperatingExpense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.expenses[expense.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	expense.CreatedBy = current.CreatedBy
	expense.CreatedAt = current.CreatedAt
	s.expenses[expense.ID] = expense
	return &expense, nil
}

func (s *Store) DeleteExpense(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.expenses[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.expenses, id)
	return nil
}

func (s *Store) ListExpenses(_ context.Context, filter domain.ListFilter) ([]domain.OperatingExpense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OperatingExpense, 0, len(s.expenses))
	for _, e := range s.expenses {
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		if !filter.Range.Contains(e.Date) {
			continue
		}
		result = append(result, e)
	}
	slices.SortFunc(result, func(a, b domain.OperatingExpense) int {
		if c := chronological(a.Date, a.CreatedAt, b.Date, b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return limit(result, filter.Limit), nil
}

func (s *Store) CreateOtherIncome(_ context.Context, income domain.OtherIncome) (*domain.OtherIncome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if income.ID == "" {
		income.ID = xid.New("inc")
	}
	s.income[income.ID] = income
	return &income, nil
}

func (s *Store) UpdateOtherIncome(_ context.Context, income domain.OtherIncome) (*domain.OtherIncome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.income[income.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	income.CreatedBy = current.CreatedBy
	income.CreatedAt = current.CreatedAt
	s.income[income.ID] = income
	return &income, nil
}

func (s *Store) DeleteOtherIncome(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.income[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.income, id)
	return nil
}

func (s *Store) ListOtherIncome(_ context.Context, filter domain.ListFilter) ([]domain.OtherIncome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OtherIncome, 0, len(s.income))
	for _, inc := range s.income {
		if filter.Category != "" && inc.Source != filter.Category {
			continue
		}
		if !filter.Range.Contains(inc.Date) {
			continue
		}
		result = append(result, inc)
	}
	slices.SortFunc(result, func(a, b domain.OtherIncome) int {
		if c := chronological(a.Date, a.CreatedAt, b.Date, b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return limit(result, filter.Limit), nil
}

func (s *Store) GetSettings(_ context.Context) (*domain.AppSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil, nil
	}
	settings := *s.settings
	settings.ExpenseCategories = slices.Clone(s.settings.ExpenseCategories)
	return &settings, nil
}

func (s *Store) UpsertSettings(_ context.Context, update domain.SettingsUpdateRequest, m store.Mutation) (*domain.AppSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := domain.DefaultSettings()
	if s.settings != nil {
		settings = *s.settings
	}
	if update.TaxRate != nil {
		settings.TaxRate = *update.TaxRate
	}
	if update.ExpenseCategories != nil {
		settings.ExpenseCategories = slices.Clone(*update.ExpenseCategories)
	}
	at := m.At
	settings.UpdatedBy = m.Actor
	settings.UpdatedAt = &at
	s.settings = &settings

	out := settings
	out.ExpenseCategories = slices.Clone(settings.ExpenseCategories)
	return &out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

// ListAuditLogs returns newest first. The date range applies to CreatedAt,
// with the end date covering its whole day.
func (s *Store) ListAuditLogs(_ context.Context, filter domain.ListFilter) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if !filter.Range.Contains(dayOf(entry.CreatedAt)) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return limit(result, filter.Limit), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.ID))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.users[username]; exists {
		return store.ErrDuplicateUser
	}
	user.ID = username
	if user.Role == "" {
		user.Role = domain.RoleViewer
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.users[user.ID] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.ID, b.ID)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func (s *Store) UpdateUserRole(_ context.Context, username string, role domain.Role) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !role.Valid() {
		return nil, store.ErrInvalidInput
	}
	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.users[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	user.Role = role
	s.users[username] = user
	return &user, nil
}

func chronological(aDate, aCreated, bDate, bCreated time.Time) int {
	if c := aDate.Compare(bDate); c != 0 {
		return c
	}
	return aCreated.Compare(bCreated)
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func limit[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}
