package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dededemahendra/crm/internal/domain"
	"github.com/dededemahendra/crm/internal/ledger"
	"github.com/dededemahendra/crm/internal/store"
	"github.com/dededemahendra/crm/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates any missing tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

const productColumns = `id, sku, name, category, unit, unit_cost, selling_price, qty, reorder_level, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Unit, &p.UnitCost, &p.SellingPrice, &p.Qty, &p.ReorderLevel, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func lockProduct(ctx context.Context, q queryer, id string) (domain.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, store.ErrNotFound
		}
		return p, err
	}
	return p, nil
}

func writeProductState(ctx context.Context, q queryer, p domain.Product) error {
	_, err := q.ExecContext(ctx, `
		UPDATE products
		SET qty = $2, unit_cost = $3, updated_at = $4
		WHERE id = $1
	`, p.ID, p.Qty, p.UnitCost, p.UpdatedAt)
	return err
}

func insertMovement(ctx context.Context, q queryer, m domain.StockMovement) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, type, qty, reason, date, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, m.ID, m.ProductID, m.Type, m.Qty, m.Reason, dateArg(m.Date), m.CreatedBy, m.CreatedAt)
	return err
}

func insertTrail(ctx context.Context, q queryer, productID string, delta int, reason string, m store.Mutation) error {
	if delta == 0 {
		return nil
	}
	return insertMovement(ctx, q, ledger.TrailMovement(productID, delta, reason, m))
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, m store.Mutation) (*domain.Product, error) {
	if product.Qty < 0 {
		return nil, store.ErrNegativeQuantity
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.CreatedAt = m.At
	product.UpdatedAt = m.At

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.SKU, product.Name, product.Category, product.Unit, product.UnitCost, product.SellingPrice,
		product.Qty, product.ReorderLevel, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateSKU
		}
		return nil, err
	}
	if err := insertTrail(ctx, tx, product.ID, product.Qty, "opening stock", m); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product, m store.Mutation) (*domain.Product, error) {
	if product.Qty < 0 {
		return nil, store.ErrNegativeQuantity
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockProduct(ctx, tx, product.ID)
	if err != nil {
		return nil, err
	}
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = m.At

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET sku = $2, name = $3, category = $4, unit = $5, unit_cost = $6, selling_price = $7,
		    qty = $8, reorder_level = $9, updated_at = $10
		WHERE id = $1
	`, product.ID, product.SKU, product.Name, product.Category, product.Unit, product.UnitCost, product.SellingPrice,
		product.Qty, product.ReorderLevel, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateSKU
		}
		return nil, err
	}
	if err := insertTrail(ctx, tx, product.ID, product.Qty-current.Qty, "product edit", m); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, productID string, newQty int, movement domain.StockMovement) (*domain.StockAdjustResult, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := lockProduct(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	next, delta, err := ledger.AdjustTo(product, newQty, movement.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := writeProductState(ctx, tx, next); err != nil {
		return nil, err
	}

	result := &domain.StockAdjustResult{Product: next}
	if delta != 0 {
		movement.ProductID = productID
		movement.Qty = delta
		if movement.ID == "" {
			movement.ID = xid.New("mov")
		}
		if err := insertMovement(ctx, tx, movement); err != nil {
			return nil, err
		}
		result.Movement = &movement
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) BulkUpsertProducts(ctx context.Context, rows []domain.BulkProductRow, m store.Mutation) (domain.BulkUpsertResult, error) {
	var result domain.BulkUpsertResult
	for _, row := range rows {
		if row.Qty < 0 {
			return result, store.ErrNegativeQuantity
		}
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return result, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range rows {
		existing, err := scanProduct(tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE sku = $1 FOR UPDATE`, row.SKU))
		switch {
		case err == nil:
			delta := row.Qty - existing.Qty
			ledger.PatchFromRow(&existing, row)
			existing.UpdatedAt = m.At
			_, err = tx.ExecContext(ctx, `
				UPDATE products
				SET name = $2, unit = $3, qty = $4, category = $5, reorder_level = $6, updated_at = $7
				WHERE id = $1
			`, existing.ID, existing.Name, existing.Unit, existing.Qty, existing.Category, existing.ReorderLevel, existing.UpdatedAt)
			if err != nil {
				return domain.BulkUpsertResult{}, err
			}
			if err := insertTrail(ctx, tx, existing.ID, delta, "bulk import", m); err != nil {
				return domain.BulkUpsertResult{}, err
			}
			result.Updated++
		case errors.Is(err, sql.ErrNoRows):
			product := ledger.ProductFromRow(row)
			product.ID = xid.New("prod")
			_, err = tx.ExecContext(ctx, `
				INSERT INTO products (`+productColumns+`)
				VALUES ($1,$2,$3,$4,$5,$6,NULL,$7,$8,$9,$9)
			`, product.ID, product.SKU, product.Name, product.Category, product.Unit, product.UnitCost, product.Qty, product.ReorderLevel, m.At)
			if err != nil {
				return domain.BulkUpsertResult{}, err
			}
			if err := insertTrail(ctx, tx, product.ID, product.Qty, "bulk import", m); err != nil {
				return domain.BulkUpsertResult{}, err
			}
			result.Created++
		default:
			return domain.BulkUpsertResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.BulkUpsertResult{}, err
	}
	return result, nil
}

func (s *Store) CreateStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := lockProduct(ctx, tx, movement.ProductID)
	if err != nil {
		return nil, err
	}
	next, err := ledger.ApplyMovement(product, movement.Qty, movement.CreatedAt)
	if err != nil {
		return nil, err
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if err := writeProductState(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := insertMovement(ctx, tx, movement); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &movement, nil
}

// windowClause appends the shared list filters and returns the extended
// where clause and args. dateColumn is compared inclusively on both ends.
func windowClause(filter domain.ListFilter, dateColumn string, categoryColumn string, args []any) (string, []any) {
	clauses := make([]string, 0, 4)
	if filter.Range.Start != nil {
		args = append(args, dateArg(*filter.Range.Start))
		clauses = append(clauses, fmt.Sprintf("%s >= $%d", dateColumn, len(args)))
	}
	if filter.Range.End != nil {
		args = append(args, dateArg(*filter.Range.End))
		clauses = append(clauses, fmt.Sprintf("%s <= $%d", dateColumn, len(args)))
	}
	if filter.ProductID != "" && categoryColumn == "" {
		args = append(args, filter.ProductID)
		clauses = append(clauses, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.Category != "" && categoryColumn != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", categoryColumn, len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf("LIMIT %d", n)
}

func (s *Store) ListStockMovements(ctx context.Context, filter domain.ListFilter) ([]domain.StockMovement, error) {
	where, args := windowClause(filter, "date", "", nil)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, type, qty, reason, date, created_by, created_at
		FROM stock_movements
		`+where+`
		ORDER BY date, created_at, seq
		`+limitClause(filter.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.StockMovement, 0, 64)
	for rows.Next() {
		var mv domain.StockMovement
		if err := rows.Scan(&mv.ID, &mv.ProductID, &mv.Type, &mv.Qty, &mv.Reason, &mv.Date, &mv.CreatedBy, &mv.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, mv)
	}
	return result, rows.Err()
}

const purchaseColumns = `id, product_id, qty, unit_cost, total_cost, supplier, COALESCE(invoice_no,''), COALESCE(payment_method,''), date, status, created_by, created_at, cancelled_at`

func scanPurchase(row rowScanner) (domain.Purchase, error) {
	var p domain.Purchase
	var cancelledAt sql.NullTime
	err := row.Scan(&p.ID, &p.ProductID, &p.Qty, &p.UnitCost, &p.TotalCost, &p.Supplier, &p.InvoiceNo, &p.PaymentMethod,
		&p.Date, &p.Status, &p.CreatedBy, &p.CreatedAt, &cancelledAt)
	if cancelledAt.Valid {
		at := cancelledAt.Time
		p.CancelledAt = &at
	}
	return p, err
}

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := lockProduct(ctx, tx, purchase.ProductID)
	if err != nil {
		return nil, err
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	purchase.Status = domain.PurchaseActive

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases (id, product_id, qty, unit_cost, total_cost, supplier, invoice_no, payment_method, date, status, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, purchase.ID, purchase.ProductID, purchase.Qty, purchase.UnitCost, purchase.TotalCost, purchase.Supplier,
		nullIfEmpty(purchase.InvoiceNo), nullIfEmpty(purchase.PaymentMethod), dateArg(purchase.Date), purchase.Status,
		purchase.CreatedBy, purchase.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := writeProductState(ctx, tx, ledger.ApplyPurchase(product, purchase, purchase.CreatedAt)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (s *Store) CancelPurchase(ctx context.Context, id string, m store.Mutation) (*domain.Purchase, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	purchase, err := scanPurchase(tx.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if purchase.Status == domain.PurchaseCancelled {
		return nil, store.ErrAlreadyCancelled
	}

	product, err := lockProduct(ctx, tx, purchase.ProductID)
	switch {
	case err == nil:
		siblings, err := listPurchases(ctx, tx, domain.ListFilter{ProductID: purchase.ProductID})
		if err != nil {
			return nil, err
		}
		next, shortfall := ledger.CancelPurchase(product, purchase, siblings, m.At)
		if err := writeProductState(ctx, tx, next); err != nil {
			return nil, err
		}
		if shortfall > 0 {
			if err := insertMovement(ctx, tx, ledger.FloorMovement(purchase, shortfall, m)); err != nil {
				return nil, err
			}
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}

	at := m.At
	_, err = tx.ExecContext(ctx, `
		UPDATE purchases
		SET status = $2, cancelled_at = $3
		WHERE id = $1 AND status = $4
	`, id, domain.PurchaseCancelled, at, domain.PurchaseActive)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	purchase.Status = domain.PurchaseCancelled
	purchase.CancelledAt = &at
	return &purchase, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	p, err := scanPurchase(s.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPurchases(ctx context.Context, filter domain.ListFilter) ([]domain.Purchase, error) {
	return listPurchases(ctx, s.db, filter)
}

// listPurchases returns rows in insertion order within equal dates, which the
// cost-basis tie-break relies on.
func listPurchases(ctx context.Context, q queryer, filter domain.ListFilter) ([]domain.Purchase, error) {
	where, args := windowClause(filter, "date", "", nil)
	rows, err := q.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		`+where+`
		ORDER BY date, created_at, seq
		`+limitClause(filter.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Purchase, 0, 32)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

const saleColumns = `id, product_id, qty, selling_price, discount, cogs, revenue, date, voided, voided_at, created_by, created_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sl domain.Sale
	var voidedAt sql.NullTime
	err := row.Scan(&sl.ID, &sl.ProductID, &sl.Qty, &sl.SellingPrice, &sl.Discount, &sl.COGS, &sl.Revenue,
		&sl.Date, &sl.Voided, &voidedAt, &sl.CreatedBy, &sl.CreatedAt)
	if voidedAt.Valid {
		at := voidedAt.Time
		sl.VoidedAt = &at
	}
	return sl, err
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := lockProduct(ctx, tx, sale.ProductID)
	if err != nil {
		return nil, err
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, product_id, qty, selling_price, discount, cogs, revenue, date, voided, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false,$9,$10)
	`, sale.ID, sale.ProductID, sale.Qty, sale.SellingPrice, sale.Discount, sale.COGS, sale.Revenue, dateArg(sale.Date),
		sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := writeProductState(ctx, tx, ledger.ApplySale(product, sale, sale.CreatedAt)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) VoidSale(ctx context.Context, id string, at time.Time) (*domain.Sale, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := scanSale(tx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if sale.Voided {
		return nil, store.ErrAlreadyVoided
	}

	product, err := lockProduct(ctx, tx, sale.ProductID)
	switch {
	case err == nil:
		if err := writeProductState(ctx, tx, ledger.RestoreSale(product, sale, at)); err != nil {
			return nil, err
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sales SET voided = true, voided_at = $2 WHERE id = $1`, id, at); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sale.Voided = true
	sale.VoidedAt = &at
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sl, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sl, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.ListFilter) ([]domain.Sale, error) {
	where, args := windowClause(filter, "date", "", nil)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		`+where+`
		ORDER BY date, created_at, seq
		`+limitClause(filter.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Sale, 0, 128)
	for rows.Next() {
		sl, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sl)
	}
	return result, rows.Err()
}

func (s *Store) CreateExpense(ctx context.Context, e domain.OperatingExpense) (*domain.OperatingExpense, error) {
	if e.ID == "" {
		e.ID = xid.New("exp")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operating_expenses (id, date, category, amount, description, supplier, payment_method, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, dateArg(e.Date), e.Category, e.Amount, e.Description, e.Supplier, e.PaymentMethod, e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) UpdateExpense(ctx context.Context, e domain.OperatingExpense) (*domain.OperatingExpense, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE operating_expenses
		SET date = $2, category = $3, amount = $4, description = $5, supplier = $6, payment_method = $7, updated_at = $8
		WHERE id = $1
		RETURNING created_by, created_at
	`, e.ID, dateArg(e.Date), e.Category, e.Amount, e.Description, e.Supplier, e.PaymentMethod, e.UpdatedAt).Scan(&e.CreatedBy, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	return deleteByID(ctx, s.db, "operating_expenses", id)
}

func (s *Store) ListExpenses(ctx context.Context, filter domain.ListFilter) ([]domain.OperatingExpense, error) {
	where, args := windowClause(filter, "date", "category", nil)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, category, amount, description, supplier, payment_method, created_by, created_at, updated_at
		FROM operating_expenses
		`+where+`
		ORDER BY date, created_at, id
		`+limitClause(filter.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.OperatingExpense, 0, 64)
	for rows.Next() {
		var e domain.OperatingExpense
		if err := rows.Scan(&e.ID, &e.Date, &e.Category, &e.Amount, &e.Description, &e.Supplier, &e.PaymentMethod, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Store) CreateOtherIncome(ctx context.Context, inc domain.OtherIncome) (*domain.OtherIncome, error) {
	if inc.ID == "" {
		inc.ID = xid.New("inc")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO other_income (id, date, source, amount, notes, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, inc.ID, dateArg(inc.Date), inc.Source, inc.Amount, inc.Notes, inc.CreatedBy, inc.CreatedAt, inc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

func (s *Store) UpdateOtherIncome(ctx context.Context, inc domain.OtherIncome) (*domain.OtherIncome, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE other_income
		SET date = $2, source = $3, amount = $4, notes = $5, updated_at = $6
		WHERE id = $1
		RETURNING created_by, created_at
	`, inc.ID, dateArg(inc.Date), inc.Source, inc.Amount, inc.Notes, inc.UpdatedAt).Scan(&inc.CreatedBy, &inc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &inc, nil
}

func (s *Store) DeleteOtherIncome(ctx context.Context, id string) error {
	return deleteByID(ctx, s.db, "other_income", id)
}

func (s *Store) ListOtherIncome(ctx context.Context, filter domain.ListFilter) ([]domain.OtherIncome, error) {
	where, args := windowClause(filter, "date", "source", nil)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, source, amount, notes, created_by, created_at, updated_at
		FROM other_income
		`+where+`
		ORDER BY date, created_at, id
		`+limitClause(filter.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.OtherIncome, 0, 32)
	for rows.Next() {
		var inc domain.OtherIncome
		if err := rows.Scan(&inc.ID, &inc.Date, &inc.Source, &inc.Amount, &inc.Notes, &inc.CreatedBy, &inc.CreatedAt, &inc.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, inc)
	}
	return result, rows.Err()
}

func deleteByID(ctx context.Context, q queryer, table string, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanSettings(row rowScanner) (*domain.AppSettings, error) {
	var settings domain.AppSettings
	var categories []byte
	var updatedAt time.Time
	if err := row.Scan(&settings.TaxRate, &categories, &settings.UpdatedBy, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(categories, &settings.ExpenseCategories); err != nil {
		return nil, err
	}
	if settings.ExpenseCategories == nil {
		settings.ExpenseCategories = []string{}
	}
	settings.UpdatedAt = &updatedAt
	return &settings, nil
}

func (s *Store) GetSettings(ctx context.Context) (*domain.AppSettings, error) {
	settings, err := scanSettings(s.db.QueryRowContext(ctx, `
		SELECT tax_rate, expense_categories, updated_by, updated_at
		FROM app_settings
		WHERE id = 1
	`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return settings, err
}

func (s *Store) UpsertSettings(ctx context.Context, update domain.SettingsUpdateRequest, m store.Mutation) (*domain.AppSettings, error) {
	var taxRate any
	if update.TaxRate != nil {
		taxRate = *update.TaxRate
	}
	var categories any
	if update.ExpenseCategories != nil {
		payload, err := json.Marshal(*update.ExpenseCategories)
		if err != nil {
			return nil, err
		}
		categories = string(payload)
	}

	return scanSettings(s.db.QueryRowContext(ctx, `
		INSERT INTO app_settings (id, tax_rate, expense_categories, updated_by, updated_at)
		VALUES (1, COALESCE($1::numeric, 0), COALESCE($2::jsonb, '[]'::jsonb), $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			tax_rate = COALESCE($1::numeric, app_settings.tax_rate),
			expense_categories = COALESCE($2::jsonb, app_settings.expense_categories),
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
		RETURNING tax_rate, expense_categories, updated_by, updated_at
	`, taxRate, categories, m.Actor, m.At))
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, filter domain.ListFilter) ([]domain.AuditLog, error) {
	where, args := windowClause(domain.ListFilter{Range: filter.Range}, "(created_at AT TIME ZONE 'UTC')::date", "", nil)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		`+where+`
		ORDER BY created_at DESC, id DESC
		`+limitClause(filter.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.ID))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleViewer
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateUser
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.ID, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `UPDATE app_users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateUserRole(ctx context.Context, username string, role domain.Role) (*domain.UserAccount, error) {
	if !role.Valid() {
		return nil, store.ErrInvalidInput
	}
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		UPDATE app_users SET role = $2
		WHERE username = $1
		RETURNING username, password, role, active, created_at
	`, strings.ToLower(strings.TrimSpace(username)), role).Scan(&u.ID, &u.Password, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// dateArg sends calendar dates as text so the session time zone cannot shift
// them across midnight.
func dateArg(t time.Time) string {
	return t.UTC().Format(domain.DateLayout)
}

func nullIfEmpty(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

var _ store.Repository = (*Store)(nil)
