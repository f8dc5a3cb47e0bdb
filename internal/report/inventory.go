// Package report renders inventory exports.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"warehouse/backend/internal/domain"
)

const (
	InventorySheet  = "Inventory"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var inventoryHeadings = []string{"Warehouse", "Template", "Attributes", "Attributes hash", "Quantity", "Last updated"}

// Names resolves ids to display names; unknown ids are printed as-is.
type Names struct {
	Warehouses map[string]string
	Templates  map[string]string
}

func (n Names) WarehouseName(id string) string {
	if name, ok := n.Warehouses[id]; ok && name != "" {
		return name
	}
	return id
}

func (n Names) TemplateName(id string) string {
	if name, ok := n.Templates[id]; ok && name != "" {
		return name
	}
	return id
}

// InventoryWorkbook builds a single-sheet workbook with one row per record.
func InventoryWorkbook(records []domain.InventoryRecord, names Names) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", InventorySheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	for col, heading := range inventoryHeadings {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.SetCellValue(InventorySheet, cell, heading); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	for idx, rec := range records {
		attrs, err := rec.Attributes.MarshalJSON()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("inventory %s: %w", rec.ID, err)
		}
		quantity, _ := rec.Quantity.Float64()
		values := []any{
			names.WarehouseName(rec.WarehouseID),
			names.TemplateName(rec.TemplateID),
			string(attrs),
			rec.AttributesHash,
			quantity,
			rec.LastUpdated.UTC().Format("2006-01-02 15:04:05"),
		}
		cell, err := excelize.CoordinatesToCellName(1, idx+2)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(InventorySheet, cell, &values); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	if err := f.SetColWidth(InventorySheet, "C", "D", 40); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// WriteInventory streams the inventory workbook to w.
func WriteInventory(w io.Writer, records []domain.InventoryRecord, names Names) error {
	f, err := InventoryWorkbook(records, names)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}
