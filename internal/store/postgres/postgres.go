package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"warehouse/backend/internal/domain"
	"warehouse/backend/internal/store"
	"warehouse/backend/internal/xid"
)

type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

type Option func(*Store)

// WithLockTimeout bounds row lock waits inside write transactions. Zero
// leaves the server default.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = timeout
	}
}

func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
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

	s := &Store{db: db, lockTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// begin opens a read-committed transaction with the configured lock timeout.
func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, mapError(err)
	}
	if s.lockTimeout > 0 {
		_, err = tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", s.lockTimeout.Milliseconds()))
		if err != nil {
			_ = tx.Rollback()
			return nil, mapError(err)
		}
	}
	return tx, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateCompany(ctx context.Context, company domain.Company) (*domain.Company, error) {
	if strings.TrimSpace(company.Name) == "" {
		return nil, store.ErrInvalidTransaction
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, tax_id, address, phone, email, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, company.ID, company.Name, company.TaxID, company.Address, company.Phone, company.Email, company.Status, company.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	created := company
	return &created, nil
}

const companyColumns = `id, name, tax_id, address, phone, email, status, created_at`

func scanCompany(row rowScanner) (domain.Company, error) {
	var c domain.Company
	err := row.Scan(&c.ID, &c.Name, &c.TaxID, &c.Address, &c.Phone, &c.Email, &c.Status, &c.CreatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, err
}

func (s *Store) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]domain.Company, 0, 16)
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) GetCompany(ctx context.Context, id string) (*domain.Company, error) {
	c, err := scanCompany(s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func (s *Store) CreateWarehouse(ctx context.Context, warehouse domain.Warehouse) (*domain.Warehouse, error) {
	if strings.TrimSpace(warehouse.Name) == "" {
		return nil, store.ErrInvalidTransaction
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO warehouses (id, company_id, name, address, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, warehouse.ID, warehouse.CompanyID, warehouse.Name, warehouse.Address, warehouse.Status, warehouse.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	created := warehouse
	return &created, nil
}

const warehouseColumns = `id, company_id, name, address, status, created_at`

func scanWarehouse(row rowScanner) (domain.Warehouse, error) {
	var w domain.Warehouse
	err := row.Scan(&w.ID, &w.CompanyID, &w.Name, &w.Address, &w.Status, &w.CreatedAt)
	w.CreatedAt = w.CreatedAt.UTC()
	return w, err
}

func (s *Store) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	w, err := scanWarehouse(s.db.QueryRowContext(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return &w, nil
}

func (s *Store) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+warehouseColumns+` FROM warehouses ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]domain.Warehouse, 0, 16)
	for rows.Next() {
		w, err := scanWarehouse(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, full_name, role, warehouse_id, company_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,true,$8)
	`, user.ID, username, user.Password, user.FullName, user.Role, nullIfEmpty(user.WarehouseID), nullIfEmpty(user.CompanyID), user.CreatedAt)
	return mapError(err)
}

const userColumns = `id, username, password_hash, full_name, role, COALESCE(warehouse_id, ''), COALESCE(company_id, ''), active, created_at`

func scanUser(row rowScanner) (domain.UserAccount, error) {
	var u domain.UserAccount
	err := row.Scan(&u.ID, &u.Username, &u.Password, &u.FullName, &u.Role, &u.WarehouseID, &u.CompanyID, &u.Active, &u.CreatedAt)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, strings.ToLower(strings.TrimSpace(username))))
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, password)
	if err != nil {
		return mapError(err)
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

func (s *Store) CreateTemplate(ctx context.Context, tpl domain.ProductTemplate) (*domain.ProductTemplate, error) {
	if strings.TrimSpace(tpl.Name) == "" {
		return nil, store.ErrInvalidTransaction
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

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO product_templates (id, name, description, formula, status, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tpl.ID, tpl.Name, tpl.Description, tpl.Formula, tpl.Status, tpl.CreatedBy, tpl.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	for idx := range tpl.Attributes {
		attr := &tpl.Attributes[idx]
		if attr.ID == "" {
			attr.ID = xid.New("attr")
		}
		attr.TemplateID = tpl.ID
		options := attr.Options
		if options == nil {
			options = []string{}
		}
		payload, err := json.Marshal(options)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO template_attributes (
				id, template_id, name, variable, data_type, options, unit,
				is_required, use_in_formula, sort_order, position
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, attr.ID, tpl.ID, attr.Name, attr.Variable, string(attr.DataType), string(payload), attr.Unit,
			attr.IsRequired, attr.UseInFormula, attr.SortOrder, idx)
		if err != nil {
			return nil, mapError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	created := tpl
	return &created, nil
}

const templateColumns = `id, name, description, formula, status, created_by, created_at`

func scanTemplate(row rowScanner) (domain.ProductTemplate, error) {
	var t domain.ProductTemplate
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Formula, &t.Status, &t.CreatedBy, &t.CreatedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, err
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*domain.ProductTemplate, error) {
	tpl, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM product_templates WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	attrs, err := s.loadAttributes(ctx, []string{tpl.ID})
	if err != nil {
		return nil, err
	}
	tpl.Attributes = attrs[tpl.ID]
	if tpl.Attributes == nil {
		tpl.Attributes = []domain.TemplateAttribute{}
	}
	return &tpl, nil
}

func (s *Store) ListTemplates(ctx context.Context, status string) ([]domain.ProductTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM product_templates
		WHERE ($1 = '' OR status = $1)
		ORDER BY name
	`, status)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	templates := make([]domain.ProductTemplate, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
		ids = append(ids, tpl.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return templates, nil
	}

	attrs, err := s.loadAttributes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for idx := range templates {
		templates[idx].Attributes = attrs[templates[idx].ID]
		if templates[idx].Attributes == nil {
			templates[idx].Attributes = []domain.TemplateAttribute{}
		}
	}
	return templates, nil
}

func (s *Store) loadAttributes(ctx context.Context, templateIDs []string) (map[string][]domain.TemplateAttribute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, name, variable, data_type, options, unit, is_required, use_in_formula, sort_order
		FROM template_attributes
		WHERE template_id = ANY($1)
		ORDER BY template_id, sort_order, position
	`, templateIDs)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make(map[string][]domain.TemplateAttribute, len(templateIDs))
	for rows.Next() {
		var attr domain.TemplateAttribute
		var dataType string
		var options []byte
		if err := rows.Scan(&attr.ID, &attr.TemplateID, &attr.Name, &attr.Variable, &dataType, &options, &attr.Unit, &attr.IsRequired, &attr.UseInFormula, &attr.SortOrder); err != nil {
			return nil, err
		}
		attr.DataType = domain.DataType(dataType)
		if len(options) > 0 {
			if err := json.Unmarshal(options, &attr.Options); err != nil {
				return nil, fmt.Errorf("template attribute %s options: %w", attr.ID, err)
			}
		}
		if len(attr.Options) == 0 {
			attr.Options = nil
		}
		result[attr.TemplateID] = append(result[attr.TemplateID], attr)
	}
	return result, rows.Err()
}

func (s *Store) SetTemplateStatus(ctx context.Context, id string, status string) (*domain.ProductTemplate, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE product_templates SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return nil, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetTemplate(ctx, id)
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM product_templates WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		return mapError(err)
	}

	var inUse bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM products WHERE template_id = $1)
			OR EXISTS (SELECT 1 FROM inventory WHERE template_id = $1)
			OR EXISTS (SELECT 1 FROM requests WHERE template_id = $1)
			OR EXISTS (
				SELECT 1 FROM goods_in_transit
				WHERE goods_info @> jsonb_build_array(jsonb_build_object('template_id', $1::text))
			)
	`, id).Scan(&inUse)
	if err != nil {
		return mapError(err)
	}
	if inUse {
		return store.ErrInUse
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM product_templates WHERE id = $1`, id); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, income domain.Movement) (*domain.Product, *domain.MovementEntry, error) {
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
	attrs, err := json.Marshal(product.Attributes)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (
			id, template_id, warehouse_id, name, attributes, attributes_hash, calculated_volume,
			quantity, producer, arrival_date, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, product.ID, product.TemplateID, product.WarehouseID, product.Name, string(attrs), product.AttributesHash,
		product.CalculatedVolume, product.Quantity, product.Producer, nullDate(product.ArrivalDate), product.CreatedBy, product.CreatedAt)
	if err != nil {
		return nil, nil, mapError(err)
	}

	entry, err := applyMovementTx(ctx, tx, income)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, mapError(err)
	}
	created := product
	return &created, entry, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, warehouse_id, name, attributes, attributes_hash, calculated_volume,
			quantity, producer, arrival_date, created_by, created_at
		FROM products
		WHERE ($1 = '' OR warehouse_id = $1)
			AND ($2 = '' OR template_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, filter.WarehouseID, filter.TemplateID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		var p domain.Product
		var attrs []byte
		var arrival sql.NullTime
		if err := rows.Scan(&p.ID, &p.TemplateID, &p.WarehouseID, &p.Name, &attrs, &p.AttributesHash, &p.CalculatedVolume,
			&p.Quantity, &p.Producer, &arrival, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return nil, fmt.Errorf("product %s attributes: %w", p.ID, err)
		}
		p.ArrivalDate = timePtr(arrival)
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) ApplyMovement(ctx context.Context, movement domain.Movement) (*domain.MovementEntry, error) {
	if err := checkMovement(movement); err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	entry, err := applyMovementTx(ctx, tx, movement)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return entry, nil
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

// applyMovementTx changes the keyed inventory row with a single statement and
// records the movement. Income is an insert-or-increment on the unique key;
// outcome is a guarded decrement that never takes the row below zero.
func applyMovementTx(ctx context.Context, tx *sql.Tx, m domain.Movement) (*domain.MovementEntry, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	var inventoryID string
	var newQty decimal.Decimal
	var previous decimal.Decimal
	action := domain.ActionUpdated

	switch m.OperationType {
	case domain.OperationIncome:
		var attrs any
		if m.Attributes != nil {
			payload, err := json.Marshal(m.Attributes)
			if err != nil {
				return nil, err
			}
			attrs = string(payload)
		}
		var inserted bool
		err := tx.QueryRowContext(ctx, `
			INSERT INTO inventory (id, warehouse_id, template_id, product_attributes_hash, attributes, quantity, last_updated)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (warehouse_id, template_id, product_attributes_hash)
			DO UPDATE SET
				quantity = inventory.quantity + EXCLUDED.quantity,
				attributes = COALESCE(inventory.attributes, EXCLUDED.attributes),
				last_updated = EXCLUDED.last_updated
			RETURNING id, quantity, (xmax = 0) AS inserted
		`, xid.New("inv"), m.WarehouseID, m.TemplateID, m.AttributesHash, attrs, m.Quantity, m.CreatedAt).Scan(&inventoryID, &newQty, &inserted)
		if err != nil {
			return nil, mapError(err)
		}
		previous = newQty.Sub(m.Quantity)
		if inserted {
			action = domain.ActionCreated
		}
	case domain.OperationOutcome:
		err := tx.QueryRowContext(ctx, `
			UPDATE inventory
			SET quantity = quantity - $4, last_updated = $5
			WHERE warehouse_id = $1 AND template_id = $2 AND product_attributes_hash = $3
				AND quantity >= $4
			RETURNING id, quantity
		`, m.WarehouseID, m.TemplateID, m.AttributesHash, m.Quantity, m.CreatedAt).Scan(&inventoryID, &newQty)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrInsufficientStock
			}
			return nil, mapError(err)
		}
		previous = newQty.Add(m.Quantity)
	default:
		return nil, store.ErrInvalidTransaction
	}

	entry := domain.MovementEntry{
		ID:               xid.New("mov"),
		InventoryID:      inventoryID,
		WarehouseID:      m.WarehouseID,
		TemplateID:       m.TemplateID,
		AttributesHash:   m.AttributesHash,
		OperationType:    m.OperationType,
		Quantity:         m.Quantity,
		PreviousQuantity: previous,
		NewQuantity:      newQty,
		Action:           action,
		Source:           m.Source,
		SourceID:         m.SourceID,
		Note:             m.Note,
		CreatedBy:        m.CreatedBy,
		CreatedAt:        m.CreatedAt,
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_movements (
			id, inventory_id, warehouse_id, template_id, product_attributes_hash, operation_type,
			quantity, previous_quantity, new_quantity, action, source, source_id, note, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, entry.ID, entry.InventoryID, entry.WarehouseID, entry.TemplateID, entry.AttributesHash, entry.OperationType,
		entry.Quantity, entry.PreviousQuantity, entry.NewQuantity, entry.Action, entry.Source, entry.SourceID,
		entry.Note, entry.CreatedBy, entry.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &entry, nil
}

func (s *Store) ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, warehouse_id, template_id, product_attributes_hash, attributes, quantity, last_updated
		FROM inventory
		WHERE ($1 = '' OR warehouse_id = $1)
			AND ($2 = '' OR template_id = $2)
		ORDER BY warehouse_id, template_id, product_attributes_hash
	`, filter.WarehouseID, filter.TemplateID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	records := make([]domain.InventoryRecord, 0, 64)
	for rows.Next() {
		var r domain.InventoryRecord
		var attrs []byte
		if err := rows.Scan(&r.ID, &r.WarehouseID, &r.TemplateID, &r.AttributesHash, &attrs, &r.Quantity, &r.LastUpdated); err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &r.Attributes); err != nil {
				return nil, fmt.Errorf("inventory %s attributes: %w", r.ID, err)
			}
		}
		r.LastUpdated = r.LastUpdated.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementEntry, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, inventory_id, warehouse_id, template_id, product_attributes_hash, operation_type,
			quantity, previous_quantity, new_quantity, action, source, source_id, note, created_by, created_at
		FROM inventory_movements
		WHERE ($1 = '' OR inventory_id = $1)
			AND ($2 = '' OR warehouse_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, filter.InventoryID, filter.WarehouseID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	entries := make([]domain.MovementEntry, 0, limit)
	for rows.Next() {
		var e domain.MovementEntry
		if err := rows.Scan(&e.ID, &e.InventoryID, &e.WarehouseID, &e.TemplateID, &e.AttributesHash, &e.OperationType,
			&e.Quantity, &e.PreviousQuantity, &e.NewQuantity, &e.Action, &e.Source, &e.SourceID, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) CreateShipment(ctx context.Context, shipment domain.GoodsInTransit) (*domain.GoodsInTransit, error) {
	if shipment.Status != domain.ShipmentInTransit && shipment.Status != domain.ShipmentConfirmed {
		return nil, store.ErrInvalidState
	}
	if len(shipment.GoodsInfo) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if shipment.ID == "" {
		shipment.ID = xid.New("git")
	}
	if shipment.CreatedAt.IsZero() {
		shipment.CreatedAt = time.Now().UTC()
	}
	shipment.UpdatedAt = shipment.CreatedAt
	goods, err := encodeGoodsInfo(shipment.GoodsInfo)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO goods_in_transit (
			id, warehouse_id, departure_date, arrival_date, departure_location, arrival_location,
			goods_info, goods_info_version, status, notes, created_by, confirmed_by, confirmed_at,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, shipment.ID, shipment.WarehouseID, nullDate(shipment.DepartureDate), nullDate(shipment.ArrivalDate),
		shipment.DepartureLocation, shipment.ArrivalLocation, goods, domain.GoodsInfoVersion, shipment.Status,
		shipment.Notes, shipment.CreatedBy, nullIfEmpty(shipment.ConfirmedBy), nullTime(shipment.ConfirmedAt),
		shipment.CreatedAt, shipment.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	created := shipment
	return &created, nil
}

const shipmentColumns = `
	id, warehouse_id, departure_date, arrival_date, departure_location, arrival_location,
	goods_info, goods_info_version, status, notes, created_by, COALESCE(confirmed_by, ''), confirmed_at,
	created_at, updated_at`

func scanShipment(row rowScanner) (domain.GoodsInTransit, error) {
	var g domain.GoodsInTransit
	var departure, arrival, confirmedAt sql.NullTime
	var goods []byte
	var version int
	err := row.Scan(&g.ID, &g.WarehouseID, &departure, &arrival, &g.DepartureLocation, &g.ArrivalLocation,
		&goods, &version, &g.Status, &g.Notes, &g.CreatedBy, &g.ConfirmedBy, &confirmedAt,
		&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return g, err
	}
	g.DepartureDate = timePtr(departure)
	g.ArrivalDate = timePtr(arrival)
	g.ConfirmedAt = timePtr(confirmedAt)
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()
	g.GoodsInfo, err = decodeGoodsInfo(version, goods)
	if err != nil {
		return g, fmt.Errorf("shipment %s: %w", g.ID, err)
	}
	return g, nil
}

func encodeGoodsInfo(items []domain.GoodsItem) (string, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// decodeGoodsInfo reads the versioned goods_info document. Unknown versions
// and unknown item fields are rejected.
func decodeGoodsInfo(version int, payload []byte) ([]domain.GoodsItem, error) {
	if version != domain.GoodsInfoVersion {
		return nil, fmt.Errorf("goods_info version %d is not supported", version)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var items []domain.GoodsItem
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("decode goods_info: %w", err)
	}
	return items, nil
}

func (s *Store) GetShipment(ctx context.Context, id string) (*domain.GoodsInTransit, error) {
	shipment, err := scanShipment(s.db.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM goods_in_transit WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return &shipment, nil
}

func (s *Store) ListShipments(ctx context.Context, filter domain.ShipmentFilter) ([]domain.GoodsInTransit, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shipmentColumns+`
		FROM goods_in_transit
		WHERE ($1 = '' OR warehouse_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, filter.WarehouseID, filter.Status, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	shipments := make([]domain.GoodsInTransit, 0, limit)
	for rows.Next() {
		shipment, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		shipments = append(shipments, shipment)
	}
	return shipments, rows.Err()
}

func (s *Store) UpdateShipment(ctx context.Context, id string, mutate store.ShipmentMutation) (*domain.GoodsInTransit, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	shipment, err := scanShipment(tx.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM goods_in_transit WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError(err)
	}
	if err := mutate(&shipment); err != nil {
		return nil, err
	}
	if err := updateShipmentTx(ctx, tx, &shipment); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return &shipment, nil
}

func updateShipmentTx(ctx context.Context, tx *sql.Tx, shipment *domain.GoodsInTransit) error {
	shipment.UpdatedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		UPDATE goods_in_transit
		SET status = $2, notes = $3, confirmed_by = $4, confirmed_at = $5, updated_at = $6
		WHERE id = $1
	`, shipment.ID, shipment.Status, shipment.Notes, nullIfEmpty(shipment.ConfirmedBy), nullTime(shipment.ConfirmedAt), shipment.UpdatedAt)
	return mapError(err)
}

// ReceiveShipment locks the shipment row, lets plan check and update it and
// applies the planned lines in one transaction. Lines are applied in key
// order so concurrent receipts lock inventory rows in the same order; the
// returned entries follow plan order.
func (s *Store) ReceiveShipment(ctx context.Context, id string, plan store.ReceivePlan) (*domain.GoodsInTransit, []domain.ReceivingEntry, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	shipment, err := scanShipment(tx.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM goods_in_transit WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, nil, mapError(err)
	}
	lines, err := plan(&shipment)
	if err != nil {
		return nil, nil, err
	}
	for _, line := range lines {
		if line.TemplateID == "" || line.AttributesHash == "" || !line.Quantity.IsPositive() {
			return nil, nil, store.ErrInvalidTransaction
		}
	}

	if err := updateShipmentTx(ctx, tx, &shipment); err != nil {
		return nil, nil, err
	}

	order := make([]int, len(lines))
	for idx := range order {
		order[idx] = idx
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := lines[order[i]], lines[order[j]]
		if a.TemplateID != b.TemplateID {
			return a.TemplateID < b.TemplateID
		}
		return a.AttributesHash < b.AttributesHash
	})

	now := time.Now().UTC()
	entries := make([]domain.ReceivingEntry, len(lines))
	for _, idx := range order {
		line := lines[idx]
		movement, err := applyMovementTx(ctx, tx, domain.Movement{
			WarehouseID:    shipment.WarehouseID,
			TemplateID:     line.TemplateID,
			AttributesHash: line.AttributesHash,
			Attributes:     line.Attributes,
			OperationType:  domain.OperationIncome,
			Quantity:       line.Quantity,
			Source:         domain.MovementSourceReceiving,
			SourceID:       shipment.ID,
			CreatedBy:      shipment.ConfirmedBy,
			CreatedAt:      now,
		})
		if err != nil {
			return nil, nil, err
		}
		entries[idx] = domain.ReceivingEntry{
			InventoryID:      movement.InventoryID,
			TemplateID:       line.TemplateID,
			AttributesHash:   line.AttributesHash,
			QuantityApplied:  line.Quantity,
			PreviousQuantity: movement.PreviousQuantity,
			NewQuantity:      movement.NewQuantity,
			Action:           movement.Action,
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, mapError(err)
	}
	return &shipment, entries, nil
}

func (s *Store) CreateRequest(ctx context.Context, request domain.Request) (*domain.Request, error) {
	if !request.Quantity.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}
	if request.ID == "" {
		request.ID = xid.New("req")
	}
	if request.Status == "" {
		request.Status = domain.RequestPending
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	request.UpdatedAt = request.CreatedAt
	attrs, err := json.Marshal(request.RequestedAttributes)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO requests (
			id, template_id, warehouse_id, quantity, requested_attributes, delivery_date, description,
			status, created_by, processed_by, processed_at, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, request.ID, request.TemplateID, request.WarehouseID, request.Quantity, string(attrs), nullDate(request.DeliveryDate),
		request.Description, request.Status, request.CreatedBy, nullIfEmpty(request.ProcessedBy), nullTime(request.ProcessedAt),
		request.CreatedAt, request.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	created := request
	return &created, nil
}

const requestColumns = `
	id, template_id, warehouse_id, quantity, requested_attributes, delivery_date, description,
	status, created_by, COALESCE(processed_by, ''), processed_at, created_at, updated_at`

func scanRequest(row rowScanner) (domain.Request, error) {
	var r domain.Request
	var attrs []byte
	var delivery, processedAt sql.NullTime
	err := row.Scan(&r.ID, &r.TemplateID, &r.WarehouseID, &r.Quantity, &attrs, &delivery, &r.Description,
		&r.Status, &r.CreatedBy, &r.ProcessedBy, &processedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(attrs, &r.RequestedAttributes); err != nil {
		return r, fmt.Errorf("request %s attributes: %w", r.ID, err)
	}
	r.DeliveryDate = timePtr(delivery)
	r.ProcessedAt = timePtr(processedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	request, err := scanRequest(s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return &request, nil
}

func (s *Store) ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.Request, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR warehouse_id = $2)
			AND ($3 = '' OR created_by = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, filter.Status, filter.WarehouseID, filter.CreatedBy, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	requests := make([]domain.Request, 0, limit)
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

func (s *Store) UpdateRequest(ctx context.Context, id string, mutate store.RequestMutation) (*domain.Request, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	request, err := scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError(err)
	}
	if err := mutate(&request); err != nil {
		return nil, err
	}
	request.UpdatedAt = time.Now().UTC()
	attrs, err := json.Marshal(request.RequestedAttributes)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE requests
		SET template_id = $2, warehouse_id = $3, quantity = $4, requested_attributes = $5,
			delivery_date = $6, description = $7, status = $8, processed_by = $9, processed_at = $10,
			updated_at = $11
		WHERE id = $1
	`, id, request.TemplateID, request.WarehouseID, request.Quantity, string(attrs), nullDate(request.DeliveryDate),
		request.Description, request.Status, nullIfEmpty(request.ProcessedBy), nullTime(request.ProcessedAt), request.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return &request, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, warehouse_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.WarehouseID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return mapError(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, warehouseID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, warehouse_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR warehouse_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, warehouseID, from, to, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.WarehouseID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// mapError translates driver errors into store sentinels. Unrecognised
// errors are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "55P03", "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrLockTimeout, pgErr.Message)
	case "23505":
		return store.ErrDuplicate
	case "23503":
		return store.ErrNotFound
	case "23514", "22003":
		return store.ErrInvalidTransaction
	}
	return err
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return nowDateUTC(*val)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
