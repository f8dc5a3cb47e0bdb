package httpapi

import (
	"context"
	"net/http"
	"time"

	"warehouse/backend/internal/domain"
	"warehouse/backend/internal/report"
)

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		products, err := a.service.ListProducts(r.Context(), actor, domain.ProductFilter{
			WarehouseID: query.Get("warehouse_id"),
			TemplateID:  query.Get("template_id"),
			Limit:       parsePositiveLimit(query.Get("limit"), 200, 1000),
		})
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		resp, err := a.service.CreateProduct(r.Context(), actor, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	records, err := a.service.ListInventory(r.Context(), actor, inventoryFilter(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": records})
}

func (a *API) handleMovements(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		entries, err := a.service.ListMovements(r.Context(), actor, domain.MovementFilter{
			InventoryID: query.Get("inventory_id"),
			WarehouseID: query.Get("warehouse_id"),
			Limit:       parsePositiveLimit(query.Get("limit"), 100, 500),
		})
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"movements": entries})
	case http.MethodPost:
		var req domain.MovementRequest
		if err := a.decodeRequest(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		entry, err := a.service.ApplyMovement(r.Context(), actor, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"movement": entry})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleInventoryExport(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	records, err := a.service.ListInventory(r.Context(), actor, inventoryFilter(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	names, err := a.displayNames(r.Context(), actor)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	filename := "inventory-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", report.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if err := report.WriteInventory(w, records, names); err != nil {
		a.logger.WithError(err).Error("inventory export: write workbook")
	}
}

func inventoryFilter(r *http.Request) domain.InventoryFilter {
	query := r.URL.Query()
	return domain.InventoryFilter{
		WarehouseID: query.Get("warehouse_id"),
		TemplateID:  query.Get("template_id"),
	}
}

// displayNames resolves warehouse and template ids for exports and printable pages.
func (a *API) displayNames(ctx context.Context, actor domain.Actor) (report.Names, error) {
	warehouses, err := a.service.ListWarehouses(ctx, actor)
	if err != nil {
		return report.Names{}, err
	}
	templates, err := a.service.ListTemplates(ctx, "")
	if err != nil {
		return report.Names{}, err
	}

	names := report.Names{
		Warehouses: make(map[string]string, len(warehouses)),
		Templates:  make(map[string]string, len(templates)),
	}
	for _, wh := range warehouses {
		names.Warehouses[wh.ID] = wh.Name
	}
	for _, tpl := range templates {
		names.Templates[tpl.ID] = tpl.Name
	}
	return names, nil
}
