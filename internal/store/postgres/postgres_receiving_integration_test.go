package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"warehouse/backend/internal/domain"
	"warehouse/backend/internal/store"
)

func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("WAREHOUSE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set WAREHOUSE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, WithLockTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

type receivingFixture struct {
	warehouseID string
	templateID  string
	hash        string
}

func seedReceivingFixture(t *testing.T, s *Store) receivingFixture {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()

	company, err := s.CreateCompany(ctx, domain.Company{Name: fmt.Sprintf("IT Company %d", stamp)})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	warehouse, err := s.CreateWarehouse(ctx, domain.Warehouse{CompanyID: company.ID, Name: "IT Warehouse"})
	if err != nil {
		t.Fatalf("create warehouse: %v", err)
	}
	tpl, err := s.CreateTemplate(ctx, domain.ProductTemplate{
		Name:      fmt.Sprintf("IT Block %d", stamp),
		Formula:   "length*width",
		CreatedBy: "it",
		Attributes: []domain.TemplateAttribute{
			{Name: "Length", Variable: "length", DataType: domain.DataTypeNumber, IsRequired: true, UseInFormula: true},
			{Name: "Width", Variable: "width", DataType: domain.DataTypeNumber, IsRequired: true, UseInFormula: true, SortOrder: 1},
		},
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	fixture := receivingFixture{
		warehouseID: warehouse.ID,
		templateID:  tpl.ID,
		hash:        fmt.Sprintf("%064x", stamp),
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_movements WHERE warehouse_id = $1`, warehouse.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory WHERE warehouse_id = $1`, warehouse.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM goods_in_transit WHERE warehouse_id = $1`, warehouse.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM product_templates WHERE id = $1`, tpl.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM warehouses WHERE id = $1`, warehouse.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM companies WHERE id = $1`, company.ID)
	})
	return fixture
}

func createConfirmedShipment(t *testing.T, s *Store, f receivingFixture, qty string) *domain.GoodsInTransit {
	t.Helper()
	shipment, err := s.CreateShipment(context.Background(), domain.GoodsInTransit{
		WarehouseID: f.warehouseID,
		Status:      domain.ShipmentConfirmed,
		CreatedBy:   "it",
		GoodsInfo: []domain.GoodsItem{{
			TemplateID: f.templateID,
			Quantity:   decimal.NewNullDecimal(decimal.RequireFromString(qty)),
			Attributes: domain.RawAttributes{"length": "10", "width": "5"},
		}},
	})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	return shipment
}

func receiveAll(f receivingFixture) store.ReceivePlan {
	return func(shipment *domain.GoodsInTransit) ([]domain.ReceivingLine, error) {
		if shipment.Status != domain.ShipmentConfirmed {
			return nil, domain.StateError(shipment.Status, domain.ShipmentReceived)
		}
		now := time.Now().UTC()
		shipment.Status = domain.ShipmentReceived
		shipment.ConfirmedBy = "it"
		shipment.ConfirmedAt = &now

		lines := make([]domain.ReceivingLine, 0, len(shipment.GoodsInfo))
		for _, item := range shipment.GoodsInfo {
			lines = append(lines, domain.ReceivingLine{
				TemplateID:     item.TemplateID,
				AttributesHash: f.hash,
				Quantity:       item.Quantity.Decimal,
			})
		}
		return lines, nil
	}
}

func inventoryQuantity(t *testing.T, s *Store, f receivingFixture) decimal.Decimal {
	t.Helper()
	records, err := s.ListInventory(context.Background(), domain.InventoryFilter{WarehouseID: f.warehouseID, TemplateID: f.templateID})
	if err != nil {
		t.Fatalf("list inventory: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 inventory record, got %d", len(records))
	}
	return records[0].Quantity
}

func TestReceiveShipmentConcurrentSameKey(t *testing.T) {
	s := openIntegrationStore(t)
	f := seedReceivingFixture(t, s)
	first := createConfirmedShipment(t, s, f, "7")
	second := createConfirmedShipment(t, s, f, "5")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for idx, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			_, _, errs[idx] = s.ReceiveShipment(context.Background(), id, receiveAll(f))
		}(idx, id)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("receive shipment: %v", err)
		}
	}
	if got := inventoryQuantity(t, s, f); !got.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("expected quantity 12, got %s", got)
	}
}

func TestReceiveShipmentTwiceAppliesOnce(t *testing.T) {
	s := openIntegrationStore(t)
	f := seedReceivingFixture(t, s)
	shipment := createConfirmedShipment(t, s, f, "4")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for idx := range errs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _, errs[idx] = s.ReceiveShipment(context.Background(), shipment.ID, receiveAll(f))
		}(idx)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !errors.Is(err, domain.ErrState):
			t.Fatalf("expected state error, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful receipt, got %d", succeeded)
	}
	if got := inventoryQuantity(t, s, f); !got.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected quantity 4, got %s", got)
	}

	stored, err := s.GetShipment(context.Background(), shipment.ID)
	if err != nil {
		t.Fatalf("get shipment: %v", err)
	}
	if stored.Status != domain.ShipmentReceived {
		t.Fatalf("expected received status, got %s", stored.Status)
	}
}

func TestApplyMovementOutcomeGuardsStock(t *testing.T) {
	s := openIntegrationStore(t)
	f := seedReceivingFixture(t, s)
	ctx := context.Background()

	_, err := s.ApplyMovement(ctx, domain.Movement{
		WarehouseID: f.warehouseID, TemplateID: f.templateID, AttributesHash: f.hash,
		OperationType: domain.OperationIncome, Quantity: decimal.NewFromInt(3), Source: domain.MovementSourceManual, CreatedBy: "it",
	})
	if err != nil {
		t.Fatalf("income: %v", err)
	}

	_, err = s.ApplyMovement(ctx, domain.Movement{
		WarehouseID: f.warehouseID, TemplateID: f.templateID, AttributesHash: f.hash,
		OperationType: domain.OperationOutcome, Quantity: decimal.NewFromInt(5), Source: domain.MovementSourceManual, CreatedBy: "it",
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	entry, err := s.ApplyMovement(ctx, domain.Movement{
		WarehouseID: f.warehouseID, TemplateID: f.templateID, AttributesHash: f.hash,
		OperationType: domain.OperationOutcome, Quantity: decimal.NewFromInt(3), Source: domain.MovementSourceManual, CreatedBy: "it",
	})
	if err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if !entry.PreviousQuantity.Equal(decimal.NewFromInt(3)) || !entry.NewQuantity.IsZero() {
		t.Fatalf("unexpected movement entry %+v", entry)
	}
}

func TestDeleteTemplateInUse(t *testing.T) {
	s := openIntegrationStore(t)
	f := seedReceivingFixture(t, s)
	createConfirmedShipment(t, s, f, "1")

	if err := s.DeleteTemplate(context.Background(), f.templateID); !errors.Is(err, store.ErrInUse) {
		t.Fatalf("expected template in use, got %v", err)
	}
}
