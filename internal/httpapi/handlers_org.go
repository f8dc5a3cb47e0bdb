package httpapi

import (
	"net/http"

	"warehouse/backend/internal/domain"
)

func (a *API) handleCompanies(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	switch r.Method {
	case http.MethodGet:
		companies, err := a.service.ListCompanies(r.Context(), actor)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"companies": companies})
	case http.MethodPost:
		var req domain.CompanyCreateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		company, err := a.service.CreateCompany(r.Context(), actor, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"company": company})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleWarehouses(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	switch r.Method {
	case http.MethodGet:
		warehouses, err := a.service.ListWarehouses(r.Context(), actor)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"warehouses": warehouses})
	case http.MethodPost:
		var req domain.WarehouseCreateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		warehouse, err := a.service.CreateWarehouse(r.Context(), actor, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"warehouse": warehouse})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleEmployees(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	switch r.Method {
	case http.MethodGet:
		employees, err := a.service.ListEmployees(r.Context(), actor)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"employees": employees})
	case http.MethodPost:
		var req domain.EmployeeCreateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		employee, err := a.service.CreateEmployee(r.Context(), actor, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"employee": employee})
	default:
		a.writeMethodNotAllowed(w)
	}
}
