package httpapi

import (
	"net/http"

	"warehouse/backend/internal/domain"
)

func (a *API) handleRequests(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		requests, err := a.service.ListRequests(r.Context(), actor, domain.RequestFilter{
			Status:      query.Get("status"),
			WarehouseID: query.Get("warehouse_id"),
			CreatedBy:   query.Get("created_by"),
			Limit:       parsePositiveLimit(query.Get("limit"), 100, 500),
		})
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
	case http.MethodPost:
		var req domain.RequestUpsertRequest
		if err := a.decodeRequest(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		created, err := a.service.CreateRequest(r.Context(), actor, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"request": created})
	default:
		a.writeMethodNotAllowed(w)
	}
}

// handleRequestActions serves /api/v1/requests/{id}[/process|/unprocess].
func (a *API) handleRequestActions(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, action := resourcePath(r.URL.Path, "/api/v1/requests/")
	if id == "" {
		a.writeServiceError(w, r, idRequired("request"))
		return
	}

	var (
		result domain.Request
		err    error
	)
	switch {
	case action == "" && r.Method == http.MethodGet:
		result, err = a.service.GetRequest(r.Context(), actor, id)
	case action == "" && r.Method == http.MethodPatch:
		var req domain.RequestUpsertRequest
		if err := a.decodeRequest(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		result, err = a.service.UpdateRequest(r.Context(), actor, id, req)
	case action == "process" && r.Method == http.MethodPost:
		result, err = a.service.ProcessRequest(r.Context(), actor, id)
	case action == "unprocess" && r.Method == http.MethodPost:
		result, err = a.service.UnprocessRequest(r.Context(), actor, id)
	case action == "" || action == "process" || action == "unprocess":
		a.writeMethodNotAllowed(w)
		return
	default:
		a.writeError(w, http.StatusNotFound, errUnknownAction)
		return
	}
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": result})
}
