package httpapi

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"
	"time"

	"warehouse/backend/internal/domain"
	"warehouse/backend/internal/report"
)

var pageFuncs = template.FuncMap{
	"ts": func(t any) string {
		switch v := t.(type) {
		case time.Time:
			return v.UTC().Format("2006-01-02 15:04")
		case *time.Time:
			if v == nil {
				return ""
			}
			return v.UTC().Format("2006-01-02 15:04")
		}
		return ""
	},
}

const pageStyle = `
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; vertical-align: top; }
    td.num { text-align: right; }
    pre { white-space: pre-wrap; font-family: inherit; }
    h2, h3 { margin-bottom: 4px; }
`

type shipmentPage struct {
	Shipment domain.GoodsInTransit
	Names    report.Names
}

// All user-controlled fields are escaped by html/template.
var shipmentPageTmpl = template.Must(template.New("shipment").Funcs(pageFuncs).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Shipment {{.Shipment.ID}}</title>
  <style>` + pageStyle + `</style>
</head>
<body>
  <h2>Shipment {{.Shipment.ID}}</h2>
  <p>Warehouse: {{.Names.WarehouseName .Shipment.WarehouseID}} | Status: {{.Shipment.Status}}</p>
  <p>From: {{.Shipment.DepartureLocation}} {{ts .Shipment.DepartureDate}} | To: {{.Shipment.ArrivalLocation}} {{ts .Shipment.ArrivalDate}}</p>
  {{if .Shipment.ConfirmedBy}}<p>Received by {{.Shipment.ConfirmedBy}} at {{ts .Shipment.ConfirmedAt}}</p>{{end}}

  <h3>Goods</h3>
  <table>
    <thead><tr><th>#</th><th>Template</th><th>Attributes</th><th>Quantity</th><th>Unit</th></tr></thead>
    <tbody>{{range $i, $item := .Shipment.GoodsInfo}}<tr>
      <td>{{$i}}</td>
      <td>{{$.Names.TemplateName $item.TemplateID}}</td>
      <td>{{range $k, $v := $item.Attributes}}{{$k}}: {{$v}}<br/>{{end}}</td>
      <td class="num">{{if $item.Quantity.Valid}}{{$item.Quantity.Decimal}}{{end}}</td>
      <td>{{$item.Unit}}</td>
    </tr>{{end}}</tbody>
  </table>

  {{if .Shipment.Notes}}<h3>Notes</h3>
  <pre>{{.Shipment.Notes}}</pre>{{end}}
</body>
</html>
`))

type inventoryPage struct {
	GeneratedAt time.Time
	Records     []domain.InventoryRecord
	Names       report.Names
}

var inventoryPageTmpl = template.Must(template.New("inventory").Funcs(pageFuncs).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Inventory {{ts .GeneratedAt}}</title>
  <style>` + pageStyle + `</style>
</head>
<body>
  <h2>Inventory</h2>
  <p>Generated {{ts .GeneratedAt}} UTC, {{len .Records}} positions</p>
  <table>
    <thead><tr><th>Warehouse</th><th>Template</th><th>Attributes</th><th>Quantity</th><th>Last updated</th></tr></thead>
    <tbody>{{range .Records}}<tr>
      <td>{{$.Names.WarehouseName .WarehouseID}}</td>
      <td>{{$.Names.TemplateName .TemplateID}}</td>
      <td>{{range .Attributes}}{{.Variable}}: {{.Value}}<br/>{{end}}</td>
      <td class="num">{{.Quantity}}</td>
      <td>{{ts .LastUpdated}}</td>
    </tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func (a *API) handleShipmentPrint(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	id, action := resourcePath(r.URL.Path, "/shipments/")
	if id == "" || action != "print" {
		a.writeError(w, http.StatusNotFound, errUnknownAction)
		return
	}

	shipment, err := a.service.GetShipment(r.Context(), actor, id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	names, err := a.displayNames(r.Context(), actor)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.renderPage(w, shipmentPageTmpl, shipmentPage{Shipment: shipment, Names: names})
}

func (a *API) handleInventoryPrint(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
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
	a.renderPage(w, inventoryPageTmpl, inventoryPage{GeneratedAt: time.Now().UTC(), Records: records, Names: names})
}

func (a *API) renderPage(w http.ResponseWriter, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		a.logger.WithError(err).WithField("page", tmpl.Name()).Error("page render failed")
		buf.Reset()
		buf.WriteString("<!doctype html><html><body><p>Page rendering error.</p></body></html>")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(strings.TrimSpace(buf.String())))
}
