package store

import (
	"context"
	"errors"
	"time"

	"github.com/dededemahendra/crm/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateSKU      = errors.New("sku already exists")
	ErrAlreadyCancelled  = errors.New("purchase already cancelled")
	ErrAlreadyVoided     = errors.New("sale already voided")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNegativeQuantity  = errors.New("quantity cannot be negative")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateUser     = errors.New("user already exists")
)

// Mutation carries who performs a write and when.
type Mutation struct {
	Actor string
	At    time.Time
}

// Every ledger mutation below is a single transaction: the product read, the
// product write and the ledger row write either all commit or none do.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product, m Mutation) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product, m Mutation) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	AdjustStock(ctx context.Context, productID string, newQty int, movement domain.StockMovement) (*domain.StockAdjustResult, error)
	BulkUpsertProducts(ctx context.Context, rows []domain.BulkProductRow, m Mutation) (domain.BulkUpsertResult, error)

	CreateStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)
	ListStockMovements(ctx context.Context, filter domain.ListFilter) ([]domain.StockMovement, error)

	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	CancelPurchase(ctx context.Context, id string, m Mutation) (*domain.Purchase, error)
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, filter domain.ListFilter) ([]domain.Purchase, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	VoidSale(ctx context.Context, id string, at time.Time) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.ListFilter) ([]domain.Sale, error)

	CreateExpense(ctx context.Context, expense domain.OperatingExpense) (*domain.OperatingExpense, error)
	UpdateExpense(ctx context.Context, expense domain.OperatingExpense) (*domain.OperatingExpense, error)
	DeleteExpense(ctx context.Context, id string) error
	ListExpenses(ctx context.Context, filter domain.ListFilter) ([]domain.OperatingExpense, error)

	CreateOtherIncome(ctx context.Context, income domain.OtherIncome) (*domain.OtherIncome, error)
	UpdateOtherIncome(ctx context.Context, income domain.OtherIncome) (*domain.OtherIncome, error)
	DeleteOtherIncome(ctx context.Context, id string) error
	ListOtherIncome(ctx context.Context, filter domain.ListFilter) ([]domain.OtherIncome, error)

	GetSettings(ctx context.Context) (*domain.AppSettings, error)
	UpsertSettings(ctx context.Context, update domain.SettingsUpdateRequest, m Mutation) (*domain.AppSettings, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, filter domain.ListFilter) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, id string, password string) error
	UpdateUserRole(ctx context.Context, id string, role domain.Role) (*domain.UserAccount, error)
}
