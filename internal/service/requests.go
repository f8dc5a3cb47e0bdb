package service

import (
	"context"
	"fmt"
	"strings"

	"warehouse/backend/internal/domain"
)

func (s *Service) CreateRequest(ctx context.Context, actor domain.Actor, req domain.RequestUpsertRequest) (domain.Request, error) {
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleWarehouseWorker, domain.RoleSalesManager); err != nil {
		return domain.Request{}, err
	}
	request, err := s.buildRequest(ctx, actor, req)
	if err != nil {
		return domain.Request{}, err
	}
	request.Status = domain.RequestPending
	request.CreatedBy = actor.Username
	request.CreatedAt = s.now()
	request.UpdatedAt = request.CreatedAt

	created, err := s.repo.CreateRequest(ctx, request)
	if err != nil {
		return domain.Request{}, s.classify(err, "warehouse", request.WarehouseID)
	}

	s.logAudit(ctx, actor, created.WarehouseID, "request_create", "request", created.ID, fmt.Sprintf("template=%s,quantity=%s", created.TemplateID, created.Quantity))
	return *created, nil
}

// UpdateRequest lets the creator edit a request while it is still pending.
func (s *Service) UpdateRequest(ctx context.Context, actor domain.Actor, id string, req domain.RequestUpsertRequest) (domain.Request, error) {
	if err := requireActor(actor); err != nil {
		return domain.Request{}, err
	}
	changes, err := s.buildRequest(ctx, actor, req)
	if err != nil {
		return domain.Request{}, err
	}

	updated, err := s.repo.UpdateRequest(ctx, id, func(current *domain.Request) error {
		if current.CreatedBy != actor.Username {
			return domain.Forbidden("only the creator may edit this request")
		}
		if current.Status != domain.RequestPending {
			return &domain.Error{Kind: domain.ErrState, Field: "status", Message: fmt.Sprintf("request is %s and can no longer be edited", current.Status)}
		}
		current.TemplateID = changes.TemplateID
		current.WarehouseID = changes.WarehouseID
		current.Quantity = changes.Quantity
		current.RequestedAttributes = changes.RequestedAttributes
		current.DeliveryDate = changes.DeliveryDate
		current.Description = changes.Description
		return nil
	})
	if err != nil {
		return domain.Request{}, s.classify(err, "request", id)
	}

	s.logAudit(ctx, actor, updated.WarehouseID, "request_update", "request", id, fmt.Sprintf("template=%s,quantity=%s", updated.TemplateID, updated.Quantity))
	return *updated, nil
}

func (s *Service) ProcessRequest(ctx context.Context, actor domain.Actor, id string) (domain.Request, error) {
	return s.setRequestStatus(ctx, actor, id, domain.RequestPending, domain.RequestProcessed)
}

func (s *Service) UnprocessRequest(ctx context.Context, actor domain.Actor, id string) (domain.Request, error) {
	return s.setRequestStatus(ctx, actor, id, domain.RequestProcessed, domain.RequestPending)
}

func (s *Service) setRequestStatus(ctx context.Context, actor domain.Actor, id string, from string, to string) (domain.Request, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.Request{}, err
	}

	now := s.now()
	updated, err := s.repo.UpdateRequest(ctx, id, func(current *domain.Request) error {
		if current.Status != from {
			return domain.StateError(current.Status, to)
		}
		current.Status = to
		if to == domain.RequestProcessed {
			current.ProcessedBy = actor.Username
			current.ProcessedAt = &now
		} else {
			current.ProcessedBy = ""
			current.ProcessedAt = nil
		}
		return nil
	})
	if err != nil {
		return domain.Request{}, s.classify(err, "request", id)
	}

	s.logAudit(ctx, actor, updated.WarehouseID, "request_"+to, "request", id, fmt.Sprintf("from=%s,to=%s", from, to))
	return *updated, nil
}

func (s *Service) GetRequest(ctx context.Context, actor domain.Actor, id string) (domain.Request, error) {
	if err := requireActor(actor); err != nil {
		return domain.Request{}, err
	}
	request, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return domain.Request{}, s.classify(err, "request", id)
	}
	if err := requireWarehouse(actor, request.WarehouseID); err != nil {
		return domain.Request{}, err
	}
	return *request, nil
}

func (s *Service) ListRequests(ctx context.Context, actor domain.Actor, filter domain.RequestFilter) ([]domain.Request, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	filter.Status = strings.TrimSpace(filter.Status)
	if filter.Status != "" && filter.Status != domain.RequestPending && filter.Status != domain.RequestProcessed {
		return nil, domain.Validation("status", "status must be pending or processed")
	}
	warehouseID, err := scopeWarehouse(actor, filter.WarehouseID)
	if err != nil {
		return nil, err
	}
	filter.WarehouseID = warehouseID
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	requests, err := s.repo.ListRequests(ctx, filter)
	if err != nil {
		return nil, s.classify(err, "request", "")
	}
	return requests, nil
}

// buildRequest validates the editable fields of a request.
func (s *Service) buildRequest(ctx context.Context, actor domain.Actor, req domain.RequestUpsertRequest) (domain.Request, error) {
	warehouseID := strings.TrimSpace(req.WarehouseID)
	if warehouseID == "" {
		return domain.Request{}, domain.Validation("warehouse_id", "warehouse_id is required")
	}
	if err := requireWarehouse(actor, warehouseID); err != nil {
		return domain.Request{}, err
	}
	if !req.Quantity.IsPositive() {
		return domain.Request{}, domain.Validation("quantity", "quantity must be greater than zero")
	}
	if err := domain.CheckQuantity("quantity", req.Quantity); err != nil {
		return domain.Request{}, err
	}
	delivery, err := parseOptionalDate("delivery_date", req.DeliveryDate)
	if err != nil {
		return domain.Request{}, err
	}

	tpl, err := s.loadTemplate(ctx, req.TemplateID)
	if err != nil {
		return domain.Request{}, err
	}
	set, _, err := normalizeAttributes(*tpl, req.RequestedAttributes)
	if err != nil {
		return domain.Request{}, err
	}

	return domain.Request{
		TemplateID:          tpl.ID,
		WarehouseID:         warehouseID,
		Quantity:            req.Quantity,
		RequestedAttributes: set,
		DeliveryDate:        delivery,
		Description:         strings.TrimSpace(req.Description),
	}, nil
}
