package httpapi

import (
	"net/http"

	"warehouse/backend/internal/domain"
)

func (a *API) handleShipments(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		shipments, err := a.service.ListShipments(r.Context(), actor, domain.ShipmentFilter{
			WarehouseID: query.Get("warehouse_id"),
			Status:      query.Get("status"),
			Limit:       parsePositiveLimit(query.Get("limit"), 100, 500),
		})
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shipments": shipments})
	case http.MethodPost:
		var req domain.ShipmentCreateRequest
		if err := a.decodeRequest(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		shipment, err := a.service.CreateShipment(r.Context(), actor, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"shipment": shipment})
	default:
		a.writeMethodNotAllowed(w)
	}
}

// handleShipmentActions serves /api/v1/shipments/{id}[/arrive|/confirm|/receive].
func (a *API) handleShipmentActions(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, action := resourcePath(r.URL.Path, "/api/v1/shipments/")
	if id == "" {
		a.writeServiceError(w, r, idRequired("shipment"))
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			a.writeMethodNotAllowed(w)
			return
		}
		shipment, err := a.service.GetShipment(r.Context(), actor, id)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shipment": shipment})
		return
	}

	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	switch action {
	case "arrive":
		shipment, err := a.service.MarkArrived(r.Context(), actor, id)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shipment": shipment})
	case "confirm":
		shipment, err := a.service.ConfirmArrival(r.Context(), actor, id)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shipment": shipment})
	case "receive":
		var req domain.ReceiveShipmentRequest
		if err := a.decodeRequest(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		receipt, err := a.service.ConfirmReceiving(r.Context(), actor, id, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	default:
		a.writeError(w, http.StatusNotFound, errUnknownAction)
	}
}
