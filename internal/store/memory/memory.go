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

	"warehouse/backend/internal/domain"
	"warehouse/backend/internal/store"
	"warehouse/backend/internal/xid"
)

const (
	DemoCompanyID   = "demo-company"
	DemoWarehouseID = "main-warehouse"
	DemoTemplateID  = "tpl-block"
)

type Store struct {
	mu              sync.RWMutex
	companies       map[string]domain.Company
	warehouses      map[string]domain.Warehouse
	usersByUsername map[string]domain.UserAccount
	templates       map[string]domain.ProductTemplate
	products        []domain.Product
	inventory       map[inventoryKey]*domain.InventoryRecord
	movements       []domain.MovementEntry
	shipments       map[string]domain.GoodsInTransit
	requests        map[string]domain.Request
	auditLogs       []domain.AuditLog
}

type inventoryKey struct {
	warehouseID string
	templateID  string
	hash        string
}

func New() *Store {
	return &Store{
		companies:       make(map[string]domain.Company),
		warehouses:      make(map[string]domain.Warehouse),
		usersByUsername: make(map[string]domain.UserAccount),
		templates:       make(map[string]domain.ProductTemplate),
		products:        make([]domain.Product, 0, 64),
		inventory:       make(map[inventoryKey]*domain.InventoryRecord),
		movements:       make([]domain.MovementEntry, 0, 128),
		shipments:       make(map[string]domain.GoodsInTransit),
		requests:        make(map[string]domain.Request),
		auditLogs:       make([]domain.AuditLog, 0, 128),
	}
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Passwords come from SEED_ADMIN_PASSWORD and SEED_WORKER_PASSWORD and fall
// back to dev defaults with a warning.
func seedUsers(now time.Time) []domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	workerPwd := envOr("SEED_WORKER_PASSWORD", "worker123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_WORKER_PASSWORD") == "" {
		logrus.Warn("memory store: using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_WORKER_PASSWORD to override")
	}

	users := make([]domain.UserAccount, 0, 4)
	for _, u := range []struct {
		username    string
		password    string
		fullName    string
		role        string
		warehouseID string
	}{
		{"admin", adminPwd, "Administrator", domain.RoleAdmin, ""},
		{"logist", workerPwd, "Logistics Operator", domain.RoleOperator, ""},
		{"worker", workerPwd, "Warehouse Worker", domain.RoleWarehouseWorker, DemoWarehouseID},
		{"sales", workerPwd, "Sales Manager", domain.RoleSalesManager, ""},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithError(err).Fatalf("memory store: failed to hash seed password for %s", u.username)
		}
		users = append(users, domain.UserAccount{
			ID:          xid.New("usr"),
			Username:    u.username,
			Password:    string(hash),
			FullName:    u.fullName,
			Role:        u.role,
			WarehouseID: u.warehouseID,
			CompanyID:   DemoCompanyID,
			Active:      true,
			CreatedAt:   now,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a demo company, one warehouse, the seed
// accounts and a "Block" template measured by length and width.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	s.companies[DemoCompanyID] = domain.Company{
		ID:        DemoCompanyID,
		Name:      "Demo Company",
		Status:    domain.StatusActive,
		CreatedAt: now,
	}
	s.warehouses[DemoWarehouseID] = domain.Warehouse{
		ID:        DemoWarehouseID,
		CompanyID: DemoCompanyID,
		Name:      "Main Warehouse",
		Status:    domain.StatusActive,
		CreatedAt: now,
	}
	for _, user := range seedUsers(now) {
		s.usersByUsername[user.Username] = user
	}
	s.templates[DemoTemplateID] = domain.ProductTemplate{
		ID:        DemoTemplateID,
		Name:      "Block",
		Formula:   "length*width",
		Status:    domain.StatusActive,
		CreatedBy: "admin",
		CreatedAt: now,
		Attributes: []domain.TemplateAttribute{
			{ID: "attr-block-length", TemplateID: DemoTemplateID, Name: "Length", Variable: "length", DataType: domain.DataTypeNumber, Unit: "m", IsRequired: true, UseInFormula: true, SortOrder: 0},
			{ID: "attr-block-width", TemplateID: DemoTemplateID, Name: "Width", Variable: "width", DataType: domain.DataTypeNumber, Unit: "m", IsRequired: true, UseInFormula: true, SortOrder: 1},
		},
	}
	return s
}

func (s *Store) CreateCompany(_ context.Context, company domain.Company) (*domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(company.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	for _, existing := range s.companies {
		if strings.EqualFold(existing.Name, company.Name) {
			return nil, store.ErrDuplicate
		}
	}
	if company.ID == "" {
		company.ID = xid.New("cmp")
	}
	if company.Status == "" {
		company.Status = domain.StatusActive
	}
	if company.CreatedAt.IsZero() {
		company.CreatedAt = time.Now().UTC()
	}
	s.companies[company.ID] = company
	created := company
	return &created, nil
}

func (s *Store) ListCompanies(_ context.Context) ([]domain.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Company, 0, len(s.companies))
	for _, c := range s.companies {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.Company) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetCompany(_ context.Context, id string) (*domain.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	company, ok := s.companies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &company, nil
}

func (s *Store) CreateWarehouse(_ context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(warehouse.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, ok := s.companies[warehouse.CompanyID]; !ok {
		return nil, store.ErrNotFound
	}
	if warehouse.ID == "" {
		warehouse.ID = xid.New("wh")
	}
	if warehouse.Status == "" {
		warehouse.Status = domain.StatusActive
	}
	if warehouse.CreatedAt.IsZero() {
		warehouse.CreatedAt = time.Now().UTC()
	}
	s.warehouses[warehouse.ID] = warehouse
	created := warehouse
	return &created, nil
}

func (s *Store) GetWarehouse(_ context.Context, id string) (*domain.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	warehouse, ok := s.warehouses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &warehouse, nil
}

func (s *Store) ListWarehouses(_ context.Context) ([]domain.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Warehouse, 0, len(s.warehouses))
	for _, w := range s.warehouses {
		result = append(result, w)
	}
	slices.SortFunc(result, func(a, b domain.Warehouse) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	if user.WarehouseID != "" {
		if _, ok := s.warehouses[user.WarehouseID]; !ok {
			return store.ErrNotFound
		}
	}
	user.Username = username
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) CreateTemplate(_ context.Context, tpl domain.ProductTemplate) (*domain.ProductTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(tpl.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	for _, existing := range s.templates {
		if strings.EqualFold(existing.Name, tpl.Name) {
			return nil, store.ErrDuplicate
		}
	}
	if tpl.ID == "" {
		tpl.ID = xid.New("tpl")
	}
	if tpl.Status == "" {
		tpl.Status = domain.StatusActive
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	attrs := make([]domain.TemplateAttribute, len(tpl.Attributes))
	for idx, attr := range tpl.Attributes {
		if attr.ID == "" {
			attr.ID = xid.New("attr")
		}
		attr.TemplateID = tpl.ID
		attr.Options = slices.Clone(attr.Options)
		attrs[idx] = attr
	}
	tpl.Attributes = attrs
	s.templates[tpl.ID] = tpl
	created := cloneTemplate(tpl)
	return &created, nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (*domain.ProductTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneTemplate(tpl)
	return &found, nil
}

func (s *Store) ListTemplates(_ context.Context, status string) ([]domain.ProductTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ProductTemplate, 0, len(s.templates))
	for _, tpl := range s.templates {
		if status != "" && tpl.Status != status {
			continue
		}
		result = append(result, cloneTemplate(tpl))
	}
	slices.SortFunc(result, func(a, b domain.ProductTemplate) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) SetTemplateStatus(_ context.Context, id string, status string) (*domain.ProductTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	tpl.Status = status
	s.templates[id] = tpl
	updated := cloneTemplate(tpl)
	return &updated, nil
}

func (s *Store) DeleteTemplate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return store.ErrNotFound
	}
	if s.templateInUse(id) {
		return store.ErrInUse
	}
	delete(s.templates, id)
	return nil
}

func (s *Store) templateInUse(id string) bool {
	for _, p := range s.products {
		if p.TemplateID == id {
			return true
		}
	}
	for key := range s.inventory {
		if key.templateID == id {
			return true
		}
	}
	for _, shipment := range s.shipments {
		for _, item := range shipment.GoodsInfo {
			if item.TemplateID == id {
				return true
			}
		}
	}
	for _, req := range s.requests {
		if req.TemplateID == id {
			return true
		}
	}
	return false
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, income domain.Movement) (*domain.Product, *domain.MovementEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[product.TemplateID]; !ok {
		return nil, nil, store.ErrNotFound
	}
	if _, ok := s.warehouses[product.WarehouseID]; !ok {
		return nil, nil, store.ErrNotFound
	}
	if err := checkMovement(income); err != nil {
		return nil, nil, err
	}

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	if income.SourceID == "" {
		income.SourceID = product.ID
	}
	entry, err := s.applyMovementLocked(income)
	if err != nil {
		return nil, nil, err
	}
	s.products = append(s.products, product)
	created := product
	return &created, entry, nil
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for i := len(s.products) - 1; i >= 0; i-- {
		p := s.products[i]
		if filter.WarehouseID != "" && p.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.TemplateID != "" && p.TemplateID != filter.TemplateID {
			continue
		}
		result = append(result, p)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ApplyMovement(_ context.Context, movement domain.Movement) (*domain.MovementEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkMovement(movement); err != nil {
		return nil, err
	}
	return s.applyMovementLocked(movement)
}

func checkMovement(m domain.Movement) error {
	if m.WarehouseID == "" || m.TemplateID == "" || m.AttributesHash == "" {
		return store.ErrInvalidTransaction
	}
	if !m.Quantity.IsPositive() {
		return store.ErrInvalidTransaction
	}
	if m.OperationType != domain.OperationIncome && m.OperationType != domain.OperationOutcome {
		return store.ErrInvalidTransaction
	}
	return nil
}

// applyMovementLocked applies one income or outcome to the keyed record and
// appends its movement entry. Callers hold s.mu.
func (s *Store) applyMovementLocked(m domain.Movement) (*domain.MovementEntry, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	key := inventoryKey{warehouseID: m.WarehouseID, templateID: m.TemplateID, hash: m.AttributesHash}
	record, exists := s.inventory[key]

	action := domain.ActionUpdated
	previous := decimal.Zero
	switch m.OperationType {
	case domain.OperationIncome:
		if !exists {
			record = &domain.InventoryRecord{
				ID:             xid.New("inv"),
				WarehouseID:    m.WarehouseID,
				TemplateID:     m.TemplateID,
				AttributesHash: m.AttributesHash,
				Attributes:     m.Attributes,
				Quantity:       decimal.Zero,
			}
			s.inventory[key] = record
			action = domain.ActionCreated
		}
		previous = record.Quantity
		record.Quantity = record.Quantity.Add(m.Quantity)
	case domain.OperationOutcome:
		if !exists || record.Quantity.LessThan(m.Quantity) {
			return nil, store.ErrInsufficientStock
		}
		previous = record.Quantity
		record.Quantity = record.Quantity.Sub(m.Quantity)
	}
	record.LastUpdated = m.CreatedAt

	entry := domain.MovementEntry{
		ID:               xid.New("mov"),
		InventoryID:      record.ID,
		WarehouseID:      m.WarehouseID,
		TemplateID:       m.TemplateID,
		AttributesHash:   m.AttributesHash,
		OperationType:    m.OperationType,
		Quantity:         m.Quantity,
		PreviousQuantity: previous,
		NewQuantity:      record.Quantity,
		Action:           action,
		Source:           m.Source,
		SourceID:         m.SourceID,
		Note:             m.Note,
		CreatedBy:        m.CreatedBy,
		CreatedAt:        m.CreatedAt,
	}
	s.movements = append(s.movements, entry)
	return &entry, nil
}

func (s *Store) ListInventory(_ context.Context, filter domain.InventoryFilter) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryRecord, 0, len(s.inventory))
	for key, record := range s.inventory {
		if filter.WarehouseID != "" && key.warehouseID != filter.WarehouseID {
			continue
		}
		if filter.TemplateID != "" && key.templateID != filter.TemplateID {
			continue
		}
		result = append(result, *record)
	}
	slices.SortFunc(result, func(a, b domain.InventoryRecord) int {
		if a.WarehouseID != b.WarehouseID {
			return strings.Compare(a.WarehouseID, b.WarehouseID)
		}
		if a.TemplateID != b.TemplateID {
			return strings.Compare(a.TemplateID, b.TemplateID)
		}
		return strings.Compare(a.AttributesHash, b.AttributesHash)
	})
	return result, nil
}

func (s *Store) ListMovements(_ context.Context, filter domain.MovementFilter) ([]domain.MovementEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.MovementEntry, 0, 64)
	for i := len(s.movements) - 1; i >= 0; i-- {
		entry := s.movements[i]
		if filter.InventoryID != "" && entry.InventoryID != filter.InventoryID {
			continue
		}
		if filter.WarehouseID != "" && entry.WarehouseID != filter.WarehouseID {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateShipment(_ context.Context, shipment domain.GoodsInTransit) (*domain.GoodsInTransit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.warehouses[shipment.WarehouseID]; !ok {
		return nil, store.ErrNotFound
	}
	if shipment.Status != domain.ShipmentInTransit && shipment.Status != domain.ShipmentConfirmed {
		return nil, store.ErrInvalidState
	}
	if len(shipment.GoodsInfo) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	now := time.Now().UTC()
	if shipment.ID == "" {
		shipment.ID = xid.New("git")
	}
	if shipment.CreatedAt.IsZero() {
		shipment.CreatedAt = now
	}
	shipment.UpdatedAt = shipment.CreatedAt
	shipment.GoodsInfo = cloneGoods(shipment.GoodsInfo)
	s.shipments[shipment.ID] = shipment
	created := cloneShipment(shipment)
	return &created, nil
}

func (s *Store) GetShipment(_ context.Context, id string) (*domain.GoodsInTransit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shipment, ok := s.shipments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneShipment(shipment)
	return &found, nil
}

func (s *Store) ListShipments(_ context.Context, filter domain.ShipmentFilter) ([]domain.GoodsInTransit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.GoodsInTransit, 0, len(s.shipments))
	for _, shipment := range s.shipments {
		if filter.WarehouseID != "" && shipment.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Status != "" && shipment.Status != filter.Status {
			continue
		}
		result = append(result, cloneShipment(shipment))
	}
	slices.SortFunc(result, func(a, b domain.GoodsInTransit) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) UpdateShipment(_ context.Context, id string, mutate store.ShipmentMutation) (*domain.GoodsInTransit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.shipments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	working := cloneShipment(current)
	if err := mutate(&working); err != nil {
		return nil, err
	}
	current = applyShipmentFields(current, working)
	s.shipments[id] = current
	updated := cloneShipment(current)
	return &updated, nil
}

// ReceiveShipment plans against a copy of the shipment and only then mutates
// inventory, so a failed plan leaves the store untouched.
func (s *Store) ReceiveShipment(_ context.Context, id string, plan store.ReceivePlan) (*domain.GoodsInTransit, []domain.ReceivingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.shipments[id]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	working := cloneShipment(current)
	lines, err := plan(&working)
	if err != nil {
		return nil, nil, err
	}
	for _, line := range lines {
		if line.TemplateID == "" || line.AttributesHash == "" || !line.Quantity.IsPositive() {
			return nil, nil, store.ErrInvalidTransaction
		}
	}

	now := time.Now().UTC()
	receivedBy := working.ConfirmedBy
	entries := make([]domain.ReceivingEntry, 0, len(lines))
	for _, line := range lines {
		movement, err := s.applyMovementLocked(domain.Movement{
			WarehouseID:    current.WarehouseID,
			TemplateID:     line.TemplateID,
			AttributesHash: line.AttributesHash,
			Attributes:     line.Attributes,
			OperationType:  domain.OperationIncome,
			Quantity:       line.Quantity,
			Source:         domain.MovementSourceReceiving,
			SourceID:       current.ID,
			CreatedBy:      receivedBy,
			CreatedAt:      now,
		})
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, receivingEntry(line, movement))
	}

	current = applyShipmentFields(current, working)
	s.shipments[id] = current
	updated := cloneShipment(current)
	return &updated, entries, nil
}

func receivingEntry(line domain.ReceivingLine, movement *domain.MovementEntry) domain.ReceivingEntry {
	return domain.ReceivingEntry{
		InventoryID:      movement.InventoryID,
		TemplateID:       line.TemplateID,
		AttributesHash:   line.AttributesHash,
		QuantityApplied:  line.Quantity,
		PreviousQuantity: movement.PreviousQuantity,
		NewQuantity:      movement.NewQuantity,
		Action:           movement.Action,
	}
}

// applyShipmentFields copies the mutable fields of working onto current.
func applyShipmentFields(current domain.GoodsInTransit, working domain.GoodsInTransit) domain.GoodsInTransit {
	current.Status = working.Status
	current.Notes = working.Notes
	current.ConfirmedBy = working.ConfirmedBy
	current.ConfirmedAt = working.ConfirmedAt
	current.UpdatedAt = time.Now().UTC()
	return current
}

func (s *Store) CreateRequest(_ context.Context, request domain.Request) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[request.TemplateID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.warehouses[request.WarehouseID]; !ok {
		return nil, store.ErrNotFound
	}
	if !request.Quantity.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}
	now := time.Now().UTC()
	if request.ID == "" {
		request.ID = xid.New("req")
	}
	if request.Status == "" {
		request.Status = domain.RequestPending
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = request.CreatedAt
	s.requests[request.ID] = request
	created := request
	return &created, nil
}

func (s *Store) GetRequest(_ context.Context, id string) (*domain.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	request, ok := s.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &request, nil
}

func (s *Store) ListRequests(_ context.Context, filter domain.RequestFilter) ([]domain.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Request, 0, len(s.requests))
	for _, request := range s.requests {
		if filter.Status != "" && request.Status != filter.Status {
			continue
		}
		if filter.WarehouseID != "" && request.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.CreatedBy != "" && request.CreatedBy != filter.CreatedBy {
			continue
		}
		result = append(result, request)
	}
	slices.SortFunc(result, func(a, b domain.Request) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) UpdateRequest(_ context.Context, id string, mutate store.RequestMutation) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	working := current
	working.RequestedAttributes = slices.Clone(current.RequestedAttributes)
	if err := mutate(&working); err != nil {
		return nil, err
	}
	if _, ok := s.templates[working.TemplateID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.warehouses[working.WarehouseID]; !ok {
		return nil, store.ErrNotFound
	}
	working.ID = current.ID
	working.CreatedBy = current.CreatedBy
	working.CreatedAt = current.CreatedAt
	working.UpdatedAt = time.Now().UTC()
	s.requests[id] = working
	updated := working
	return &updated, nil
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

func (s *Store) ListAuditLogs(_ context.Context, warehouseID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if warehouseID != "" && entry.WarehouseID != warehouseID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
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
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneTemplate(src domain.ProductTemplate) domain.ProductTemplate {
	out := src
	out.Attributes = make([]domain.TemplateAttribute, len(src.Attributes))
	for idx, attr := range src.Attributes {
		attr.Options = slices.Clone(attr.Options)
		out.Attributes[idx] = attr
	}
	return out
}

func cloneGoods(src []domain.GoodsItem) []domain.GoodsItem {
	out := make([]domain.GoodsItem, len(src))
	for idx, item := range src {
		if item.Attributes != nil {
			attrs := make(domain.RawAttributes, len(item.Attributes))
			for k, v := range item.Attributes {
				attrs[k] = v
			}
			item.Attributes = attrs
		}
		out[idx] = item
	}
	return out
}

func cloneShipment(src domain.GoodsInTransit) domain.GoodsInTransit {
	out := src
	out.GoodsInfo = cloneGoods(src.GoodsInfo)
	return out
}
