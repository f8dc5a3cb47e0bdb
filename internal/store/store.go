package store

import (
	"context"
	"errors"
	"time"

	"warehouse/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidState       = errors.New("invalid state")
	ErrDuplicate          = errors.New("duplicate")
	ErrInUse              = errors.New("in use")
	ErrLockTimeout        = errors.New("lock wait timeout")
)

// ReceivePlan runs inside the receiving transaction with the shipment row
// locked. It may update the shipment's status, notes and confirmation fields
// and returns the inventory lines to apply. Returning an error aborts the
// transaction and the error is passed through unchanged.
type ReceivePlan func(shipment *domain.GoodsInTransit) ([]domain.ReceivingLine, error)

// ShipmentMutation updates a locked shipment in place. Only status, notes
// and the confirmation fields are persisted.
type ShipmentMutation func(shipment *domain.GoodsInTransit) error

// RequestMutation updates a locked request in place.
type RequestMutation func(request *domain.Request) error

type Repository interface {
	CreateCompany(ctx context.Context, company domain.Company) (*domain.Company, error)
	ListCompanies(ctx context.Context) ([]domain.Company, error)
	GetCompany(ctx context.Context, id string) (*domain.Company, error)
	CreateWarehouse(ctx context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error)
	GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error)
	ListWarehouses(ctx context.Context) ([]domain.Warehouse, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	CreateTemplate(ctx context.Context, template domain.ProductTemplate) (*domain.ProductTemplate, error)
	GetTemplate(ctx context.Context, id string) (*domain.ProductTemplate, error)
	ListTemplates(ctx context.Context, status string) ([]domain.ProductTemplate, error)
	SetTemplateStatus(ctx context.Context, id string, status string) (*domain.ProductTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error

	CreateProduct(ctx context.Context, product domain.Product, income domain.Movement) (*domain.Product, *domain.MovementEntry, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)

	ApplyMovement(ctx context.Context, movement domain.Movement) (*domain.MovementEntry, error)
	ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryRecord, error)
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementEntry, error)

	CreateShipment(ctx context.Context, shipment domain.GoodsInTransit) (*domain.GoodsInTransit, error)
	GetShipment(ctx context.Context, id string) (*domain.GoodsInTransit, error)
	ListShipments(ctx context.Context, filter domain.ShipmentFilter) ([]domain.GoodsInTransit, error)
	UpdateShipment(ctx context.Context, id string, mutate ShipmentMutation) (*domain.GoodsInTransit, error)
	ReceiveShipment(ctx context.Context, id string, plan ReceivePlan) (*domain.GoodsInTransit, []domain.ReceivingEntry, error)

	CreateRequest(ctx context.Context, request domain.Request) (*domain.Request, error)
	GetRequest(ctx context.Context, id string) (*domain.Request, error)
	ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.Request, error)
	UpdateRequest(ctx context.Context, id string, mutate RequestMutation) (*domain.Request, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, warehouseID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
