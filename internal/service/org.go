package service

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"warehouse/backend/internal/domain"
	"warehouse/backend/internal/store"
)

func (s *Service) CreateCompany(ctx context.Context, actor domain.Actor, req domain.CompanyCreateRequest) (domain.Company, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.Company{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Company{}, domain.Validation("name", "name is required")
	}

	created, err := s.repo.CreateCompany(ctx, domain.Company{
		Name:      name,
		TaxID:     strings.TrimSpace(req.TaxID),
		Address:   strings.TrimSpace(req.Address),
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Status:    domain.StatusActive,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Company{}, s.classify(err, "company", name)
	}

	s.logAudit(ctx, actor, "", "company_create", "company", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListCompanies(ctx context.Context, actor domain.Actor) ([]domain.Company, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return nil, err
	}
	companies, err := s.repo.ListCompanies(ctx)
	if err != nil {
		return nil, s.classify(err, "company", "")
	}
	return companies, nil
}

func (s *Service) CreateWarehouse(ctx context.Context, actor domain.Actor, req domain.WarehouseCreateRequest) (domain.Warehouse, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.Warehouse{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Warehouse{}, domain.Validation("name", "name is required")
	}
	companyID := strings.TrimSpace(req.CompanyID)
	if companyID == "" {
		return domain.Warehouse{}, domain.Validation("company_id", "company_id is required")
	}

	created, err := s.repo.CreateWarehouse(ctx, domain.Warehouse{
		CompanyID: companyID,
		Name:      name,
		Address:   strings.TrimSpace(req.Address),
		Status:    domain.StatusActive,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Warehouse{}, s.classify(err, "company", companyID)
	}

	s.logAudit(ctx, actor, created.ID, "warehouse_create", "warehouse", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListWarehouses(ctx context.Context, actor domain.Actor) ([]domain.Warehouse, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	warehouses, err := s.repo.ListWarehouses(ctx)
	if err != nil {
		return nil, s.classify(err, "warehouse", "")
	}
	return warehouses, nil
}

// CreateEmployee registers a user account. Passwords are stored as bcrypt hashes.
func (s *Service) CreateEmployee(ctx context.Context, actor domain.Actor, req domain.EmployeeCreateRequest) (domain.Employee, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.Employee{}, err
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.Employee{}, domain.Validation("username", "username must be at least 4 characters")
	}
	if len(req.Password) < 6 {
		return domain.Employee{}, domain.Validation("password", "password must be at least 6 characters")
	}
	if !domain.ValidRole(req.Role) {
		return domain.Employee{}, domain.Validation("role", "unknown role %q", req.Role)
	}
	warehouseID := strings.TrimSpace(req.WarehouseID)
	if req.Role == domain.RoleWarehouseWorker && warehouseID == "" {
		return domain.Employee{}, domain.Validation("warehouse_id", "warehouse workers need an assigned warehouse")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Employee{}, domain.System(err, false)
	}

	if err := s.repo.CreateUser(ctx, domain.UserAccount{
		Username:    username,
		Password:    string(hash),
		FullName:    strings.TrimSpace(req.FullName),
		Role:        req.Role,
		WarehouseID: warehouseID,
		CompanyID:   strings.TrimSpace(req.CompanyID),
		Active:      true,
		CreatedAt:   s.now(),
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Employee{}, domain.NotFound("warehouse", warehouseID)
		}
		return domain.Employee{}, s.classify(err, "username", username)
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return domain.Employee{}, s.classify(err, "username", username)
	}

	s.logAudit(ctx, actor, warehouseID, "employee_create", "user", user.ID, "username="+username+",role="+req.Role)
	return user.Employee(), nil
}

func (s *Service) ListEmployees(ctx context.Context, actor domain.Actor) ([]domain.Employee, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, s.classify(err, "user", "")
	}
	employees := make([]domain.Employee, 0, len(users))
	for _, u := range users {
		employees = append(employees, u.Employee())
	}
	return employees, nil
}
