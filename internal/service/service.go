package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"warehouse/backend/internal/attrschema"
	"warehouse/backend/internal/cache"
	"warehouse/backend/internal/domain"
	"warehouse/backend/internal/store"
	"warehouse/backend/internal/xid"
)

const dateLayout = "2006-01-02"

type Service struct {
	repo        store.Repository
	templates   cache.TemplateCache
	templateTTL time.Duration
	logger      *logrus.Logger
	now         func() time.Time
}

type Option func(*Service)

// WithTemplateCache puts a cache in front of template lookups.
func WithTemplateCache(c cache.TemplateCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.templates = c
		}
		if ttl > 0 {
			s.templateTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, logger *logrus.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Service{
		repo:        repo,
		templates:   cache.NoopTemplateCache{},
		templateTTL: 5 * time.Minute,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// classify turns storage and driver errors into the domain taxonomy. Errors
// that are already classified pass through unchanged.
func (s *Service) classify(err error, entity string, id string) error {
	if err == nil {
		return nil
	}

	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		return err
	}
	var schemaErr *attrschema.Error
	if errors.As(err, &schemaErr) {
		return err
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.NotFound(entity, id)
	case errors.Is(err, store.ErrInsufficientStock):
		return &domain.Error{Kind: domain.ErrConsistency, Field: "quantity", Message: "insufficient inventory for the requested quantity", Err: err}
	case errors.Is(err, store.ErrDuplicate):
		return &domain.Error{Kind: domain.ErrValidation, Field: entity, Message: fmt.Sprintf("%s already exists", entity), Err: err}
	case errors.Is(err, store.ErrInUse):
		return &domain.Error{Kind: domain.ErrState, Field: entity, Message: fmt.Sprintf("%s is in use and cannot be deleted", entity), Err: err}
	case errors.Is(err, store.ErrInvalidState):
		return &domain.Error{Kind: domain.ErrState, Field: "status", Message: "operation not allowed in the current state", Err: err}
	case errors.Is(err, store.ErrInvalidTransaction):
		return &domain.Error{Kind: domain.ErrValidation, Message: "invalid input", Err: err}
	case errors.Is(err, store.ErrLockTimeout):
		return domain.System(err, true)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.System(err, true)
	}
	return domain.System(err, false)
}

// withRetry runs op and repeats it once when it failed on a lock wait.
func (s *Service) withRetry(ctx context.Context, name string, op func() error) error {
	err := op()
	if err == nil || !errors.Is(err, store.ErrLockTimeout) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"op": name}).WithError(err).Warn("lock wait timeout, retrying once")
	return op()
}

func (s *Service) logAudit(ctx context.Context, actor domain.Actor, warehouseID string, action string, entityType string, entityID string, detail string) {
	if actor.Username == "" {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		WarehouseID:   warehouseID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).WithError(err).Warn("failed to write audit log")
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, actor domain.Actor, warehouseID string, date string, limit int) ([]domain.AuditLog, error) {
	if !actor.IsAdmin() {
		return nil, domain.Forbidden("admin role required")
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, domain.Validation("date", "date must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	logs, err := s.repo.ListAuditLogs(ctx, warehouseID, from, to, limit)
	if err != nil {
		return nil, s.classify(err, "audit_log", "")
	}
	return logs, nil
}

func requireActor(actor domain.Actor) error {
	if actor.Role == "" || actor.Username == "" {
		return domain.Forbidden("authentication required")
	}
	return nil
}

func requireRole(actor domain.Actor, roles ...string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return domain.Forbidden("role %q may not perform this operation", actor.Role)
}

func requireWarehouse(actor domain.Actor, warehouseID string) error {
	if !actor.CanAccessWarehouse(warehouseID) {
		return domain.Forbidden("no access to warehouse %q", warehouseID)
	}
	return nil
}

// scopeWarehouse pins list filters of warehouse workers to their own warehouse.
func scopeWarehouse(actor domain.Actor, requested string) (string, error) {
	if actor.Role != domain.RoleWarehouseWorker {
		return requested, nil
	}
	if requested != "" && requested != actor.WarehouseID {
		return "", domain.Forbidden("no access to warehouse %q", requested)
	}
	return actor.WarehouseID, nil
}

func parseOptionalDate(field string, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, domain.Validation(field, "%s must be YYYY-MM-DD", field)
	}
	parsed = parsed.UTC()
	return &parsed, nil
}
