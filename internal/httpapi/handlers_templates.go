package httpapi

import (
	"net/http"

	"warehouse/backend/internal/domain"
)

func (a *API) handleTemplates(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	switch r.Method {
	case http.MethodGet:
		templates, err := a.service.ListTemplates(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
	case http.MethodPost:
		var req domain.TemplateCreateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		tpl, err := a.service.CreateTemplate(r.Context(), actor, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"template": tpl})
	default:
		a.writeMethodNotAllowed(w)
	}
}

// handleTemplateActions serves /api/v1/templates/{id}[/status|/formula-test].
func (a *API) handleTemplateActions(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, action := resourcePath(r.URL.Path, "/api/v1/templates/")
	if id == "" {
		a.writeServiceError(w, r, idRequired("template"))
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			tpl, err := a.service.GetTemplate(r.Context(), id)
			if err != nil {
				a.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"template": tpl})
		case http.MethodDelete:
			if err := a.service.DeleteTemplate(r.Context(), actor, id); err != nil {
				a.writeServiceError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			a.writeMethodNotAllowed(w)
		}
	case "status":
		if r.Method != http.MethodPatch {
			a.writeMethodNotAllowed(w)
			return
		}
		var req domain.TemplateStatusRequest
		if err := a.decodeRequest(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		tpl, err := a.service.SetTemplateStatus(r.Context(), actor, id, req.Status)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"template": tpl})
	case "formula-test":
		if r.Method != http.MethodPost {
			a.writeMethodNotAllowed(w)
			return
		}
		var req domain.FormulaTestRequest
		if err := a.decodeRequest(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		result, err := a.service.TestFormula(r.Context(), actor, id, req.Attributes)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		a.writeError(w, http.StatusNotFound, errUnknownAction)
	}
}

func (a *API) handleAttributeHash(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.AttributeHashRequest
	if err := a.decodeRequest(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	result, err := a.service.HashAttributes(r.Context(), actor, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
