package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin           = "admin"
	RoleOperator        = "operator"
	RoleWarehouseWorker = "warehouse_worker"
	RoleSalesManager    = "sales_manager"
)

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleWarehouseWorker, RoleSalesManager:
		return true
	}
	return false
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID      string
	Username    string
	Role        string
	WarehouseID string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanAccessWarehouse reports whether the actor may act on stock held in
// warehouseID. Only warehouse workers are scoped to a single warehouse.
func (a Actor) CanAccessWarehouse(warehouseID string) bool {
	if a.Role == RoleWarehouseWorker {
		return a.WarehouseID != "" && a.WarehouseID == warehouseID
	}
	return a.Role != ""
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	WarehouseID string `json:"warehouse_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusArchived = "archived"
)

type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TaxID     string    `json:"tax_id,omitempty"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type CompanyCreateRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	TaxID   string `json:"tax_id" validate:"omitempty,max=32"`
	Address string `json:"address" validate:"omitempty,max=500"`
	Phone   string `json:"phone" validate:"omitempty,max=50"`
	Email   string `json:"email" validate:"omitempty,email"`
}

type Warehouse struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type WarehouseCreateRequest struct {
	CompanyID string `json:"company_id" validate:"required"`
	Name      string `json:"name" validate:"required,max=255"`
	Address   string `json:"address" validate:"omitempty,max=500"`
}

// UserAccount is an internal persistence model for employees and their credentials.
type UserAccount struct {
	ID          string
	Username    string
	Password    string
	FullName    string
	Role        string
	WarehouseID string
	CompanyID   string
	Active      bool
	CreatedAt   time.Time
}

type Employee struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	FullName    string    `json:"full_name"`
	Role        string    `json:"role"`
	WarehouseID string    `json:"warehouse_id,omitempty"`
	CompanyID   string    `json:"company_id,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type EmployeeCreateRequest struct {
	Username    string `json:"username" validate:"required,min=4,max=64"`
	Password    string `json:"password" validate:"required,min=6"`
	FullName    string `json:"full_name" validate:"required,max=255"`
	Role        string `json:"role" validate:"required,oneof=admin operator warehouse_worker sales_manager"`
	WarehouseID string `json:"warehouse_id"`
	CompanyID   string `json:"company_id"`
}

func (u UserAccount) Employee() Employee {
	return Employee{
		ID:          u.ID,
		Username:    u.Username,
		FullName:    u.FullName,
		Role:        u.Role,
		WarehouseID: u.WarehouseID,
		CompanyID:   u.CompanyID,
		Active:      u.Active,
		CreatedAt:   u.CreatedAt,
	}
}

type TemplateAttribute struct {
	ID           string   `json:"id"`
	TemplateID   string   `json:"template_id"`
	Name         string   `json:"name"`
	Variable     string   `json:"variable"`
	DataType     DataType `json:"data_type"`
	Options      []string `json:"options,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	IsRequired   bool     `json:"is_required"`
	UseInFormula bool     `json:"use_in_formula"`
	SortOrder    int      `json:"sort_order"`
}

// Key is the attribute's key in value sets: its variable, or its display
// name when no variable is defined.
func (a TemplateAttribute) Key() string {
	if a.Variable != "" {
		return a.Variable
	}
	return a.Name
}

type ProductTemplate struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Formula     string              `json:"formula,omitempty"`
	Status      string              `json:"status"`
	CreatedBy   string              `json:"created_by"`
	CreatedAt   time.Time           `json:"created_at"`
	Attributes  []TemplateAttribute `json:"attributes"`
}

type TemplateAttributeInput struct {
	Name         string   `json:"name" validate:"required,max=255"`
	Variable     string   `json:"variable" validate:"max=64"`
	DataType     DataType `json:"data_type" validate:"required"`
	Options      []string `json:"options"`
	Unit         string   `json:"unit" validate:"max=32"`
	IsRequired   bool     `json:"is_required"`
	UseInFormula bool     `json:"use_in_formula"`
	SortOrder    *int     `json:"sort_order"`
}

type TemplateCreateRequest struct {
	Name        string                   `json:"name" validate:"required,max=255"`
	Description string                   `json:"description"`
	Formula     string                   `json:"formula" validate:"max=500"`
	Attributes  []TemplateAttributeInput `json:"attributes" validate:"dive"`
}

type TemplateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive"`
}

type FormulaTestRequest struct {
	Attributes RawAttributes `json:"attributes"`
}

type AttributeHashRequest struct {
	TemplateID string        `json:"template_id" validate:"required"`
	Attributes RawAttributes `json:"attributes"`
}

type AttributeEvaluation struct {
	TemplateID     string              `json:"template_id"`
	Attributes     AttributeSet        `json:"attributes"`
	AttributesHash string              `json:"attributes_hash"`
	Result         decimal.NullDecimal `json:"result"`
}

type Product struct {
	ID               string              `json:"id"`
	TemplateID       string              `json:"template_id"`
	WarehouseID      string              `json:"warehouse_id"`
	Name             string              `json:"name"`
	Attributes       AttributeSet        `json:"attributes"`
	AttributesHash   string              `json:"attributes_hash"`
	CalculatedVolume decimal.NullDecimal `json:"calculated_volume"`
	Quantity         decimal.Decimal     `json:"quantity"`
	Producer         string              `json:"producer,omitempty"`
	ArrivalDate      *time.Time          `json:"arrival_date,omitempty"`
	CreatedBy        string              `json:"created_by"`
	CreatedAt        time.Time           `json:"created_at"`
}

type ProductCreateRequest struct {
	TemplateID  string          `json:"template_id" validate:"required"`
	WarehouseID string          `json:"warehouse_id" validate:"required"`
	Name        string          `json:"name" validate:"max=255"`
	Attributes  RawAttributes   `json:"attributes"`
	Quantity    decimal.Decimal `json:"quantity"`
	Producer    string          `json:"producer" validate:"max=255"`
	ArrivalDate string          `json:"arrival_date"`
}

type ProductFilter struct {
	WarehouseID string
	TemplateID  string
	Limit       int
}

type ProductCreateResponse struct {
	Product  Product       `json:"product"`
	Movement MovementEntry `json:"movement"`
}

type InventoryRecord struct {
	ID             string          `json:"id"`
	WarehouseID    string          `json:"warehouse_id"`
	TemplateID     string          `json:"template_id"`
	AttributesHash string          `json:"product_attributes_hash"`
	Attributes     AttributeSet    `json:"attributes,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	LastUpdated    time.Time       `json:"last_updated"`
}

type InventoryFilter struct {
	WarehouseID string
	TemplateID  string
}

const (
	OperationIncome  = "income"
	OperationOutcome = "outcome"
)

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

const (
	MovementSourceManual    = "manual"
	MovementSourceReceiving = "receiving"
	MovementSourceProduct   = "product"
)

type MovementRequest struct {
	WarehouseID    string          `json:"warehouse_id" validate:"required"`
	TemplateID     string          `json:"template_id" validate:"required"`
	Attributes     RawAttributes   `json:"attributes"`
	AttributesHash string          `json:"attributes_hash" validate:"omitempty,len=64,hexadecimal"`
	OperationType  string          `json:"operation_type" validate:"required,oneof=income outcome"`
	Quantity       decimal.Decimal `json:"quantity"`
	Note           string          `json:"note" validate:"max=500"`
}

// Movement is one inventory adjustment handed to the repository.
type Movement struct {
	WarehouseID    string
	TemplateID     string
	AttributesHash string
	Attributes     AttributeSet
	OperationType  string
	Quantity       decimal.Decimal
	Source         string
	SourceID       string
	Note           string
	CreatedBy      string
	CreatedAt      time.Time
}

// MovementEntry is the persisted audit record of an applied movement.
type MovementEntry struct {
	ID               string          `json:"id"`
	InventoryID      string          `json:"inventory_id"`
	WarehouseID      string          `json:"warehouse_id"`
	TemplateID       string          `json:"template_id"`
	AttributesHash   string          `json:"product_attributes_hash"`
	OperationType    string          `json:"operation_type"`
	Quantity         decimal.Decimal `json:"quantity"`
	PreviousQuantity decimal.Decimal `json:"previous_quantity"`
	NewQuantity      decimal.Decimal `json:"new_quantity"`
	Action           string          `json:"action"`
	Source           string          `json:"source"`
	SourceID         string          `json:"source_id,omitempty"`
	Note             string          `json:"note,omitempty"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
}

type MovementFilter struct {
	InventoryID string
	WarehouseID string
	Limit       int
}

const (
	ShipmentInTransit = "in_transit"
	ShipmentArrived   = "arrived"
	ShipmentConfirmed = "confirmed"
	ShipmentReceived  = "received"
)

// GoodsInfoVersion is the current layout of goods_in_transit.goods_info.
const GoodsInfoVersion = 1

// GoodsItem is one shipment line. TemplateID and Quantity may be absent in
// stored documents; such lines are skipped on receipt.
type GoodsItem struct {
	TemplateID string              `json:"template_id"`
	Quantity   decimal.NullDecimal `json:"quantity"`
	Unit       string              `json:"unit,omitempty"`
	Attributes RawAttributes       `json:"attributes"`
}

type GoodsInTransit struct {
	ID                string      `json:"id"`
	WarehouseID       string      `json:"warehouse_id"`
	DepartureDate     *time.Time  `json:"departure_date,omitempty"`
	ArrivalDate       *time.Time  `json:"arrival_date,omitempty"`
	DepartureLocation string      `json:"departure_location,omitempty"`
	ArrivalLocation   string      `json:"arrival_location,omitempty"`
	GoodsInfo         []GoodsItem `json:"goods_info"`
	Status            string      `json:"status"`
	Notes             string      `json:"notes,omitempty"`
	CreatedBy         string      `json:"created_by"`
	ConfirmedBy       string      `json:"confirmed_by,omitempty"`
	ConfirmedAt       *time.Time  `json:"confirmed_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

type ShipmentCreateRequest struct {
	WarehouseID       string      `json:"warehouse_id" validate:"required"`
	DepartureDate     string      `json:"departure_date"`
	ArrivalDate       string      `json:"arrival_date"`
	DepartureLocation string      `json:"departure_location" validate:"max=255"`
	ArrivalLocation   string      `json:"arrival_location" validate:"max=255"`
	GoodsInfo         []GoodsItem `json:"goods_info" validate:"required,min=1"`
	Status            string      `json:"status" validate:"omitempty,oneof=in_transit confirmed"`
	Notes             string      `json:"notes"`
}

type ShipmentFilter struct {
	WarehouseID string
	Status      string
	Limit       int
}

type ReceiveShipmentRequest struct {
	Notes            string `json:"notes"`
	DamagedGoodsNote string `json:"damaged_goods_note"`
}

// ReceivingLine is one inventory upsert planned from a shipment line.
type ReceivingLine struct {
	TemplateID     string
	AttributesHash string
	Attributes     AttributeSet
	Quantity       decimal.Decimal
}

type ReceivingEntry struct {
	InventoryID      string          `json:"inventory_id"`
	TemplateID       string          `json:"template_id"`
	AttributesHash   string          `json:"product_attributes_hash"`
	QuantityApplied  decimal.Decimal `json:"quantity_applied"`
	PreviousQuantity decimal.Decimal `json:"previous_quantity"`
	NewQuantity      decimal.Decimal `json:"new_quantity"`
	Action           string          `json:"action"`
}

type ReceivingReceipt struct {
	ShipmentID   string           `json:"shipment_id"`
	Status       string           `json:"status"`
	ReceivedBy   string           `json:"received_by"`
	ReceivedAt   time.Time        `json:"received_at"`
	Entries      []ReceivingEntry `json:"entries"`
	SkippedLines int              `json:"skipped_lines"`
}

const (
	RequestPending   = "pending"
	RequestProcessed = "processed"
)

type Request struct {
	ID                  string          `json:"id"`
	TemplateID          string          `json:"template_id"`
	WarehouseID         string          `json:"warehouse_id"`
	Quantity            decimal.Decimal `json:"quantity"`
	RequestedAttributes AttributeSet    `json:"requested_attributes"`
	DeliveryDate        *time.Time      `json:"delivery_date,omitempty"`
	Description         string          `json:"description,omitempty"`
	Status              string          `json:"status"`
	CreatedBy           string          `json:"created_by"`
	ProcessedBy         string          `json:"processed_by,omitempty"`
	ProcessedAt         *time.Time      `json:"processed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type RequestUpsertRequest struct {
	TemplateID          string          `json:"template_id" validate:"required"`
	WarehouseID         string          `json:"warehouse_id" validate:"required"`
	Quantity            decimal.Decimal `json:"quantity"`
	RequestedAttributes RawAttributes   `json:"requested_attributes"`
	DeliveryDate        string          `json:"delivery_date"`
	Description         string          `json:"description" validate:"max=2000"`
}

type RequestFilter struct {
	Status      string
	WarehouseID string
	CreatedBy   string
	Limit       int
}

type AuditLog struct {
	ID            string    `json:"id"`
	WarehouseID   string    `json:"warehouse_id,omitempty"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
