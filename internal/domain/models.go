package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleViewer  Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleViewer:
		return true
	}
	return false
}

// Principal is the authenticated caller, resolved by the transport and
// passed explicitly to every service call through the request context.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

const DateLayout = "2006-01-02"

const (
	DefaultCategory     = "Uncategorized"
	DeletedProductName  = "Deleted Product"
	DeletedProductSKU   = "—"
	DefaultMovementType = MovementAdjustment
)

type Product struct {
	ID           string              `json:"id"`
	SKU          string              `json:"sku"`
	Name         string              `json:"name"`
	Category     string              `json:"category"`
	Unit         string              `json:"unit"`
	UnitCost     decimal.Decimal     `json:"unit_cost"`
	SellingPrice decimal.NullDecimal `json:"selling_price"`
	Qty          int                 `json:"qty"`
	ReorderLevel int                 `json:"reorder_level"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type ProductInput struct {
	SKU          string              `json:"sku" validate:"required,max=64"`
	Name         string              `json:"name" validate:"required,max=200"`
	Category     string              `json:"category" validate:"max=100"`
	Unit         string              `json:"unit" validate:"required,max=32"`
	UnitCost     decimal.Decimal     `json:"unit_cost" validate:"gte=0,money"`
	SellingPrice decimal.NullDecimal `json:"selling_price" validate:"omitempty,gte=0,money"`
	Qty          int                 `json:"qty" validate:"gte=0"`
	ReorderLevel int                 `json:"reorder_level" validate:"gte=0"`
}

// ProductRef is the display identity of a product referenced from a ledger
// row. Deleted is set when the referenced product no longer exists.
type ProductRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	SKU     string `json:"sku"`
	Unit    string `json:"unit,omitempty"`
	Deleted bool   `json:"deleted"`
}

func ResolveProductRef(products map[string]Product, productID string) ProductRef {
	p, ok := products[productID]
	if !ok {
		return ProductRef{ID: productID, Name: DeletedProductName, SKU: DeletedProductSKU, Deleted: true}
	}
	return ProductRef{ID: p.ID, Name: p.Name, SKU: p.SKU, Unit: p.Unit}
}

type BulkProductRow struct {
	SKU          string  `json:"sku" validate:"required,max=64"`
	Name         string  `json:"name" validate:"required,max=200"`
	Unit         string  `json:"unit" validate:"required,max=32"`
	Qty          int     `json:"qty" validate:"gte=0"`
	Category     *string `json:"category,omitempty" validate:"omitempty,max=100"`
	ReorderLevel *int    `json:"reorder_level,omitempty" validate:"omitempty,gte=0"`
}

type BulkUpsertRequest struct {
	Rows []BulkProductRow `json:"rows" validate:"required,min=1,dive"`
}

type BulkUpsertResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

type StockAdjustRequest struct {
	NewQty int    `json:"new_qty"`
	Reason string `json:"reason" validate:"max=500"`
	Type   string `json:"type,omitempty" validate:"omitempty,oneof=adjustment transfer production waste"`
	Date   string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// StockAdjustResult is the product after an absolute stock set. Movement is
// nil when the new quantity equals the old one.
type StockAdjustResult struct {
	Product  Product        `json:"product"`
	Movement *StockMovement `json:"movement,omitempty"`
}

type MovementType string

const (
	MovementAdjustment MovementType = "adjustment"
	MovementTransfer   MovementType = "transfer"
	MovementProduction MovementType = "production"
	MovementWaste      MovementType = "waste"
)

type StockMovement struct {
	ID        string       `json:"id"`
	ProductID string       `json:"product_id"`
	Type      MovementType `json:"type"`
	Qty       int          `json:"qty"`
	Reason    string       `json:"reason,omitempty"`
	Date      time.Time    `json:"date"`
	CreatedBy string       `json:"created_by"`
	CreatedAt time.Time    `json:"created_at"`
}

type StockMovementCreateRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Type      string `json:"type" validate:"required,oneof=adjustment transfer production waste"`
	Qty       int    `json:"qty" validate:"required"`
	Reason    string `json:"reason" validate:"max=500"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
}

type StockMovementRow struct {
	StockMovement
	Product ProductRef `json:"product"`
}

type PurchaseStatus string

const (
	PurchaseActive    PurchaseStatus = "active"
	PurchaseCancelled PurchaseStatus = "cancelled"
)

type Purchase struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	Qty           int             `json:"qty"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	Supplier      string          `json:"supplier"`
	InvoiceNo     string          `json:"invoice_no,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Date          time.Time       `json:"date"`
	Status        PurchaseStatus  `json:"status"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
}

type PurchaseCreateRequest struct {
	ProductID     string              `json:"product_id" validate:"required"`
	Qty           int                 `json:"qty" validate:"gt=0"`
	UnitCost      decimal.Decimal     `json:"unit_cost" validate:"gte=0,money"`
	TotalCost     decimal.NullDecimal `json:"total_cost" validate:"omitempty,gte=0,money"`
	Supplier      string              `json:"supplier" validate:"max=200"`
	InvoiceNo     string              `json:"invoice_no,omitempty" validate:"max=100"`
	Date          string              `json:"date" validate:"required,datetime=2006-01-02"`
	PaymentMethod string              `json:"payment_method,omitempty" validate:"omitempty,oneof=cash bank_transfer credit qris"`
}

type PurchaseRow struct {
	Purchase
	Product ProductRef `json:"product"`
}

type Sale struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	Qty          int             `json:"qty"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Discount     decimal.Decimal `json:"discount"`
	COGS         decimal.Decimal `json:"cogs"`
	Revenue      decimal.Decimal `json:"revenue"`
	Date         time.Time       `json:"date"`
	Voided       bool            `json:"voided"`
	VoidedAt     *time.Time      `json:"voided_at,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

type SaleCreateRequest struct {
	ProductID    string          `json:"product_id" validate:"required"`
	Qty          int             `json:"qty" validate:"gt=0"`
	SellingPrice decimal.Decimal `json:"selling_price" validate:"gte=0,money"`
	Discount     decimal.Decimal `json:"discount" validate:"gte=0,money"`
	Date         string          `json:"date" validate:"required,datetime=2006-01-02"`
}

type SaleRow struct {
	Sale
	Product ProductRef `json:"product"`
}

type OperatingExpense struct {
	ID            string          `json:"id"`
	Date          time.Time       `json:"date"`
	Category      string          `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	Supplier      string          `json:"supplier,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ExpenseInput struct {
	Date          string          `json:"date" validate:"required,datetime=2006-01-02"`
	Category      string          `json:"category" validate:"required,max=100"`
	Amount        decimal.Decimal `json:"amount" validate:"gt=0,money"`
	Description   string          `json:"description,omitempty" validate:"max=500"`
	Supplier      string          `json:"supplier,omitempty" validate:"max=200"`
	PaymentMethod string          `json:"payment_method,omitempty" validate:"omitempty,oneof=cash bank_transfer credit qris"`
}

type OtherIncome struct {
	ID        string          `json:"id"`
	Date      time.Time       `json:"date"`
	Source    string          `json:"source"`
	Amount    decimal.Decimal `json:"amount"`
	Notes     string          `json:"notes,omitempty"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type OtherIncomeInput struct {
	Date   string          `json:"date" validate:"required,datetime=2006-01-02"`
	Source string          `json:"source" validate:"required,max=100"`
	Amount decimal.Decimal `json:"amount" validate:"gt=0,money"`
	Notes  string          `json:"notes,omitempty" validate:"max=500"`
}

type AppSettings struct {
	TaxRate           decimal.Decimal `json:"tax_rate"`
	ExpenseCategories []string        `json:"expense_categories"`
	UpdatedBy         string          `json:"updated_by,omitempty"`
	UpdatedAt         *time.Time      `json:"updated_at,omitempty"`
}

func DefaultSettings() AppSettings {
	return AppSettings{TaxRate: decimal.Zero, ExpenseCategories: []string{}}
}

type SettingsUpdateRequest struct {
	TaxRate           *decimal.Decimal `json:"tax_rate,omitempty" validate:"omitempty,gte=0,lte=100,money"`
	ExpenseCategories *[]string        `json:"expense_categories,omitempty" validate:"omitempty,dive,required,max=100"`
}

// DateRange is an inclusive window on calendar dates. A nil bound is open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

type ListFilter struct {
	Range     DateRange
	ProductID string
	Category  string
	Limit     int
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type UserAccount struct {
	ID        string    `json:"id"`
	Password  string    `json:"-"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	Role     Role   `json:"role" validate:"required,oneof=admin manager viewer"`
}

type UserRoleUpdateRequest struct {
	Role Role `json:"role" validate:"required,oneof=admin manager viewer"`
}

// ListQuery is the raw list/report query as received from a caller. Dates use
// DateLayout and are inclusive.
type ListQuery struct {
	Start     string
	End       string
	ProductID string
	Category  string
	Limit     int
}
