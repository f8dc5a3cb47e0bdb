package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"warehouse/backend/internal/attrschema"
	"warehouse/backend/internal/domain"
)

func (s *Service) CreateProduct(ctx context.Context, actor domain.Actor, req domain.ProductCreateRequest) (domain.ProductCreateResponse, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleOperator, domain.RoleWarehouseWorker); err != nil {
		return domain.ProductCreateResponse{}, err
	}
	req.WarehouseID = strings.TrimSpace(req.WarehouseID)
	if req.WarehouseID == "" {
		return domain.ProductCreateResponse{}, domain.Validation("warehouse_id", "warehouse_id is required")
	}
	if err := requireWarehouse(actor, req.WarehouseID); err != nil {
		return domain.ProductCreateResponse{}, err
	}
	if !req.Quantity.IsPositive() {
		return domain.ProductCreateResponse{}, domain.Validation("quantity", "quantity must be greater than zero")
	}
	if err := domain.CheckQuantity("quantity", req.Quantity); err != nil {
		return domain.ProductCreateResponse{}, err
	}
	arrival, err := parseOptionalDate("arrival_date", req.ArrivalDate)
	if err != nil {
		return domain.ProductCreateResponse{}, err
	}

	tpl, err := s.loadTemplate(ctx, req.TemplateID)
	if err != nil {
		return domain.ProductCreateResponse{}, err
	}
	if tpl.Status != domain.StatusActive {
		return domain.ProductCreateResponse{}, domain.Validation("template_id", "template %q is not active", tpl.ID)
	}

	eval, err := evaluate(*tpl, req.Attributes)
	if err != nil {
		return domain.ProductCreateResponse{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = tpl.Name
	}
	now := s.now()
	product := domain.Product{
		TemplateID:       tpl.ID,
		WarehouseID:      req.WarehouseID,
		Name:             name,
		Attributes:       eval.Attributes,
		AttributesHash:   eval.AttributesHash,
		CalculatedVolume: eval.Result,
		Quantity:         req.Quantity,
		Producer:         strings.TrimSpace(req.Producer),
		ArrivalDate:      arrival,
		CreatedBy:        actor.Username,
		CreatedAt:        now,
	}
	income := domain.Movement{
		WarehouseID:    req.WarehouseID,
		TemplateID:     tpl.ID,
		AttributesHash: eval.AttributesHash,
		Attributes:     eval.Attributes,
		OperationType:  domain.OperationIncome,
		Quantity:       req.Quantity,
		Source:         domain.MovementSourceProduct,
		CreatedBy:      actor.Username,
		CreatedAt:      now,
	}

	var (
		created *domain.Product
		entry   *domain.MovementEntry
	)
	err = s.withRetry(ctx, "create_product", func() error {
		var opErr error
		created, entry, opErr = s.repo.CreateProduct(ctx, product, income)
		return opErr
	})
	if err != nil {
		return domain.ProductCreateResponse{}, s.classify(err, "warehouse", req.WarehouseID)
	}

	s.logAudit(ctx, actor, created.WarehouseID, "product_create", "product", created.ID,
		fmt.Sprintf("template=%s,hash=%s,quantity=%s,inventory=%s", created.TemplateID, created.AttributesHash, created.Quantity, entry.InventoryID))
	return domain.ProductCreateResponse{Product: *created, Movement: *entry}, nil
}

func (s *Service) ListProducts(ctx context.Context, actor domain.Actor, filter domain.ProductFilter) ([]domain.Product, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	warehouseID, err := scopeWarehouse(actor, filter.WarehouseID)
	if err != nil {
		return nil, err
	}
	filter.WarehouseID = warehouseID
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 200
	}

	products, err := s.repo.ListProducts(ctx, filter)
	if err != nil {
		return nil, s.classify(err, "product", "")
	}
	return products, nil
}

// ApplyMovement adds (income) or removes (outcome) stock for one inventory
// key. The key is derived from raw attributes, or taken from attributes_hash
// when no attributes are supplied.
func (s *Service) ApplyMovement(ctx context.Context, actor domain.Actor, req domain.MovementRequest) (domain.MovementEntry, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleOperator, domain.RoleWarehouseWorker); err != nil {
		return domain.MovementEntry{}, err
	}
	req.WarehouseID = strings.TrimSpace(req.WarehouseID)
	if req.WarehouseID == "" {
		return domain.MovementEntry{}, domain.Validation("warehouse_id", "warehouse_id is required")
	}
	if err := requireWarehouse(actor, req.WarehouseID); err != nil {
		return domain.MovementEntry{}, err
	}
	if req.OperationType != domain.OperationIncome && req.OperationType != domain.OperationOutcome {
		return domain.MovementEntry{}, domain.Validation("operation_type", "operation_type must be income or outcome")
	}
	if !req.Quantity.IsPositive() {
		return domain.MovementEntry{}, domain.Validation("quantity", "quantity must be greater than zero")
	}
	if err := domain.CheckQuantity("quantity", req.Quantity); err != nil {
		return domain.MovementEntry{}, err
	}
	if _, err := s.repo.GetWarehouse(ctx, req.WarehouseID); err != nil {
		return domain.MovementEntry{}, s.classify(err, "warehouse", req.WarehouseID)
	}

	tpl, err := s.loadTemplate(ctx, req.TemplateID)
	if err != nil {
		return domain.MovementEntry{}, err
	}

	movement := domain.Movement{
		WarehouseID:   req.WarehouseID,
		TemplateID:    tpl.ID,
		OperationType: req.OperationType,
		Quantity:      req.Quantity,
		Source:        domain.MovementSourceManual,
		Note:          strings.TrimSpace(req.Note),
		CreatedBy:     actor.Username,
		CreatedAt:     s.now(),
	}
	givenHash := strings.ToLower(strings.TrimSpace(req.AttributesHash))
	switch {
	case req.Attributes != nil:
		set, hash, err := normalizeAttributes(*tpl, req.Attributes)
		if err != nil {
			return domain.MovementEntry{}, err
		}
		if givenHash != "" && givenHash != hash {
			return domain.MovementEntry{}, domain.Validation("attributes_hash", "attributes_hash does not match attributes")
		}
		movement.Attributes = set
		movement.AttributesHash = hash
	case givenHash != "":
		if !validHashDigest(givenHash) {
			return domain.MovementEntry{}, domain.Validation("attributes_hash", "attributes_hash must be a 64 character hex digest")
		}
		movement.AttributesHash = givenHash
	case len(tpl.Attributes) == 0:
		movement.AttributesHash = attrschema.EmptyAttributesHash
	default:
		return domain.MovementEntry{}, domain.Validation("attributes", "attributes or attributes_hash is required")
	}

	var entry *domain.MovementEntry
	err = s.withRetry(ctx, "apply_movement", func() error {
		var opErr error
		entry, opErr = s.repo.ApplyMovement(ctx, movement)
		return opErr
	})
	if err != nil {
		return domain.MovementEntry{}, s.classify(err, "warehouse", req.WarehouseID)
	}

	s.logger.WithFields(logrus.Fields{
		"inventory_id": entry.InventoryID,
		"operation":    entry.OperationType,
		"quantity":     entry.Quantity.String(),
		"new_quantity": entry.NewQuantity.String(),
	}).Debug("inventory movement applied")
	s.logAudit(ctx, actor, entry.WarehouseID, "inventory_"+entry.OperationType, "inventory", entry.InventoryID,
		fmt.Sprintf("quantity=%s,previous=%s,new=%s,action=%s", entry.Quantity, entry.PreviousQuantity, entry.NewQuantity, entry.Action))
	return *entry, nil
}

func (s *Service) ListInventory(ctx context.Context, actor domain.Actor, filter domain.InventoryFilter) ([]domain.InventoryRecord, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	warehouseID, err := scopeWarehouse(actor, filter.WarehouseID)
	if err != nil {
		return nil, err
	}
	filter.WarehouseID = warehouseID

	records, err := s.repo.ListInventory(ctx, filter)
	if err != nil {
		return nil, s.classify(err, "inventory", "")
	}
	return records, nil
}

func (s *Service) ListMovements(ctx context.Context, actor domain.Actor, filter domain.MovementFilter) ([]domain.MovementEntry, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	warehouseID, err := scopeWarehouse(actor, filter.WarehouseID)
	if err != nil {
		return nil, err
	}
	filter.WarehouseID = warehouseID
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	entries, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, s.classify(err, "movement", "")
	}
	return entries, nil
}

func validHashDigest(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
