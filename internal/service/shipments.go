package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"warehouse/backend/internal/domain"
)

func (s *Service) CreateShipment(ctx context.Context, actor domain.Actor, req domain.ShipmentCreateRequest) (domain.GoodsInTransit, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleOperator); err != nil {
		return domain.GoodsInTransit{}, err
	}

	req.WarehouseID = strings.TrimSpace(req.WarehouseID)
	if req.WarehouseID == "" {
		return domain.GoodsInTransit{}, domain.Validation("warehouse_id", "warehouse_id is required")
	}
	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = domain.ShipmentInTransit
	}
	if status != domain.ShipmentInTransit && status != domain.ShipmentConfirmed {
		return domain.GoodsInTransit{}, domain.Validation("status", "initial status must be in_transit or confirmed")
	}
	if len(req.GoodsInfo) == 0 {
		return domain.GoodsInTransit{}, domain.Validation("goods_info", "at least one goods line is required")
	}
	departure, err := parseOptionalDate("departure_date", req.DepartureDate)
	if err != nil {
		return domain.GoodsInTransit{}, err
	}
	arrival, err := parseOptionalDate("arrival_date", req.ArrivalDate)
	if err != nil {
		return domain.GoodsInTransit{}, err
	}

	if _, err := s.repo.GetWarehouse(ctx, req.WarehouseID); err != nil {
		return domain.GoodsInTransit{}, s.classify(err, "warehouse", req.WarehouseID)
	}

	goods := make([]domain.GoodsItem, 0, len(req.GoodsInfo))
	for idx, item := range req.GoodsInfo {
		item.TemplateID = strings.TrimSpace(item.TemplateID)
		item.Unit = strings.TrimSpace(item.Unit)
		if item.Quantity.Valid {
			field := fmt.Sprintf("goods_info[%d].quantity", idx)
			if item.Quantity.Decimal.IsNegative() {
				return domain.GoodsInTransit{}, domain.Validation(field, "quantity must not be negative")
			}
			if err := domain.CheckQuantity(field, item.Quantity.Decimal); err != nil {
				return domain.GoodsInTransit{}, err
			}
		}
		if item.TemplateID != "" {
			if _, err := s.loadTemplate(ctx, item.TemplateID); err != nil {
				return domain.GoodsInTransit{}, err
			}
		}
		if item.Attributes == nil {
			item.Attributes = domain.RawAttributes{}
		}
		goods = append(goods, item)
	}

	created, err := s.repo.CreateShipment(ctx, domain.GoodsInTransit{
		WarehouseID:       req.WarehouseID,
		DepartureDate:     departure,
		ArrivalDate:       arrival,
		DepartureLocation: strings.TrimSpace(req.DepartureLocation),
		ArrivalLocation:   strings.TrimSpace(req.ArrivalLocation),
		GoodsInfo:         goods,
		Status:            status,
		Notes:             strings.TrimSpace(req.Notes),
		CreatedBy:         actor.Username,
		CreatedAt:         s.now(),
	})
	if err != nil {
		return domain.GoodsInTransit{}, s.classify(err, "warehouse", req.WarehouseID)
	}

	s.logAudit(ctx, actor, created.WarehouseID, "shipment_create", "shipment", created.ID, fmt.Sprintf("status=%s,lines=%d", created.Status, len(created.GoodsInfo)))
	return *created, nil
}

func (s *Service) GetShipment(ctx context.Context, actor domain.Actor, id string) (domain.GoodsInTransit, error) {
	if err := requireActor(actor); err != nil {
		return domain.GoodsInTransit{}, err
	}
	shipment, err := s.repo.GetShipment(ctx, id)
	if err != nil {
		return domain.GoodsInTransit{}, s.classify(err, "shipment", id)
	}
	if err := requireWarehouse(actor, shipment.WarehouseID); err != nil {
		return domain.GoodsInTransit{}, err
	}
	return *shipment, nil
}

func (s *Service) ListShipments(ctx context.Context, actor domain.Actor, filter domain.ShipmentFilter) ([]domain.GoodsInTransit, error) {
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

	shipments, err := s.repo.ListShipments(ctx, filter)
	if err != nil {
		return nil, s.classify(err, "shipment", "")
	}
	return shipments, nil
}

// MarkArrived moves a shipment from in_transit to arrived.
func (s *Service) MarkArrived(ctx context.Context, actor domain.Actor, id string) (domain.GoodsInTransit, error) {
	return s.transitionShipment(ctx, actor, id, domain.ShipmentInTransit, domain.ShipmentArrived,
		domain.RoleAdmin, domain.RoleOperator, domain.RoleWarehouseWorker)
}

// ConfirmArrival moves a shipment from arrived to confirmed.
func (s *Service) ConfirmArrival(ctx context.Context, actor domain.Actor, id string) (domain.GoodsInTransit, error) {
	return s.transitionShipment(ctx, actor, id, domain.ShipmentArrived, domain.ShipmentConfirmed,
		domain.RoleAdmin, domain.RoleWarehouseWorker)
}

func (s *Service) transitionShipment(ctx context.Context, actor domain.Actor, id string, from string, to string, roles ...string) (domain.GoodsInTransit, error) {
	if err := requireRole(actor, roles...); err != nil {
		return domain.GoodsInTransit{}, err
	}

	var updated *domain.GoodsInTransit
	err := s.withRetry(ctx, "shipment_"+to, func() error {
		var opErr error
		updated, opErr = s.repo.UpdateShipment(ctx, id, func(shipment *domain.GoodsInTransit) error {
			if err := requireWarehouse(actor, shipment.WarehouseID); err != nil {
				return err
			}
			if shipment.Status != from {
				return domain.StateError(shipment.Status, to)
			}
			shipment.Status = to
			return nil
		})
		return opErr
	})
	if err != nil {
		return domain.GoodsInTransit{}, s.classify(err, "shipment", id)
	}

	s.logAudit(ctx, actor, updated.WarehouseID, "shipment_"+to, "shipment", id, fmt.Sprintf("from=%s,to=%s", from, to))
	return *updated, nil
}

// ConfirmReceiving moves a confirmed shipment to received and adds every
// receivable goods line to inventory in one transaction. Lines without a
// template or a positive quantity are skipped.
func (s *Service) ConfirmReceiving(ctx context.Context, actor domain.Actor, id string, req domain.ReceiveShipmentRequest) (domain.ReceivingReceipt, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleWarehouseWorker); err != nil {
		return domain.ReceivingReceipt{}, err
	}

	shipment, err := s.repo.GetShipment(ctx, id)
	if err != nil {
		return domain.ReceivingReceipt{}, s.classify(err, "shipment", id)
	}
	if err := requireWarehouse(actor, shipment.WarehouseID); err != nil {
		return domain.ReceivingReceipt{}, err
	}
	if shipment.Status != domain.ShipmentConfirmed {
		return domain.ReceivingReceipt{}, domain.StateError(shipment.Status, domain.ShipmentReceived)
	}

	// goods_info never changes after creation, so templates can be resolved
	// before the shipment row is locked.
	templates := make(map[string]*domain.ProductTemplate)
	for _, item := range shipment.GoodsInfo {
		if !receivable(item) {
			continue
		}
		if _, ok := templates[item.TemplateID]; ok {
			continue
		}
		tpl, err := s.loadTemplate(ctx, item.TemplateID)
		if err != nil {
			return domain.ReceivingReceipt{}, err
		}
		templates[item.TemplateID] = tpl
	}

	var (
		received *domain.GoodsInTransit
		entries  []domain.ReceivingEntry
		skipped  int
	)
	err = s.withRetry(ctx, "confirm_receiving", func() error {
		receivedAt := s.now()
		var opErr error
		received, entries, opErr = s.repo.ReceiveShipment(ctx, id, func(locked *domain.GoodsInTransit) ([]domain.ReceivingLine, error) {
			if locked.Status != domain.ShipmentConfirmed {
				return nil, domain.StateError(locked.Status, domain.ShipmentReceived)
			}
			if err := requireWarehouse(actor, locked.WarehouseID); err != nil {
				return nil, err
			}

			lines, skippedLines, err := receivingLines(locked.GoodsInfo, templates)
			if err != nil {
				return nil, err
			}
			skipped = skippedLines

			locked.Status = domain.ShipmentReceived
			locked.ConfirmedBy = actor.Username
			locked.ConfirmedAt = &receivedAt
			locked.Notes = appendNotes(locked.Notes, receivingAnnotation(receivedAt, actor.Username, req.Notes, req.DamagedGoodsNote))
			return lines, nil
		})
		return opErr
	})
	if err != nil {
		return domain.ReceivingReceipt{}, s.classify(err, "shipment", id)
	}

	receivedAt := s.now()
	if received.ConfirmedAt != nil {
		receivedAt = *received.ConfirmedAt
	}
	s.logger.WithFields(logrus.Fields{
		"shipment_id":  id,
		"warehouse_id": received.WarehouseID,
		"applied":      len(entries),
		"skipped":      skipped,
	}).Info("shipment received")
	s.logAudit(ctx, actor, received.WarehouseID, "shipment_received", "shipment", id, fmt.Sprintf("applied=%d,skipped=%d", len(entries), skipped))

	return domain.ReceivingReceipt{
		ShipmentID:   received.ID,
		Status:       received.Status,
		ReceivedBy:   received.ConfirmedBy,
		ReceivedAt:   receivedAt,
		Entries:      entries,
		SkippedLines: skipped,
	}, nil
}

func receivable(item domain.GoodsItem) bool {
	return strings.TrimSpace(item.TemplateID) != "" && item.Quantity.Valid && item.Quantity.Decimal.IsPositive()
}

// receivingLines validates each receivable goods line against its template
// and returns the inventory lines in goods order with the number of skipped
// lines. templates must hold every template referenced by a receivable line.
func receivingLines(goods []domain.GoodsItem, templates map[string]*domain.ProductTemplate) ([]domain.ReceivingLine, int, error) {
	lines := make([]domain.ReceivingLine, 0, len(goods))
	skipped := 0
	for idx, item := range goods {
		if !receivable(item) {
			skipped++
			continue
		}
		if err := domain.CheckQuantity(fmt.Sprintf("goods_info[%d].quantity", idx), item.Quantity.Decimal); err != nil {
			return nil, 0, err
		}
		tpl, ok := templates[strings.TrimSpace(item.TemplateID)]
		if !ok {
			return nil, 0, domain.NotFound("template", item.TemplateID)
		}
		set, hash, err := normalizeAttributes(*tpl, item.Attributes)
		if err != nil {
			return nil, 0, &domain.Error{
				Kind:    domain.ErrValidation,
				Field:   fmt.Sprintf("goods_info[%d]", idx),
				Message: fmt.Sprintf("goods_info[%d]: %v", idx, err),
				Err:     err,
			}
		}
		lines = append(lines, domain.ReceivingLine{
			TemplateID:     tpl.ID,
			AttributesHash: hash,
			Attributes:     set,
			Quantity:       item.Quantity.Decimal,
		})
	}
	return lines, skipped, nil
}

func receivingAnnotation(at time.Time, username string, notes string, damaged string) string {
	lines := []string{fmt.Sprintf("--- Received %s by %s ---", at.UTC().Format(time.RFC3339), username)}
	if notes = strings.TrimSpace(notes); notes != "" {
		lines = append(lines, notes)
	}
	if damaged = strings.TrimSpace(damaged); damaged != "" {
		lines = append(lines, "Damaged: "+damaged)
	}
	return strings.Join(lines, "\n")
}

// appendNotes never rewrites existing notes.
func appendNotes(previous string, annotation string) string {
	if strings.TrimSpace(previous) == "" {
		return annotation
	}
	return previous + "\n\n" + annotation
}
