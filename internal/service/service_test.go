package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"warehouse/backend/internal/attrschema"
	"warehouse/backend/internal/domain"
	"warehouse/backend/internal/logging"
	"warehouse/backend/internal/store"
	"warehouse/backend/internal/store/memory"
)

var (
	adminActor  = domain.Actor{UserID: "u-admin", Username: "admin", Role: domain.RoleAdmin}
	logistActor = domain.Actor{UserID: "u-logist", Username: "logist", Role: domain.RoleOperator}
	workerActor = domain.Actor{UserID: "u-worker", Username: "worker", Role: domain.RoleWarehouseWorker, WarehouseID: memory.DemoWarehouseID}
	salesActor  = domain.Actor{UserID: "u-sales", Username: "sales", Role: domain.RoleSalesManager}
)

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, logging.Discard(), opts...), repo
}

func qty(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func blockAttrs(length string, width string) domain.RawAttributes {
	return domain.RawAttributes{"length": length, "width": width}
}

func inventoryQuantity(t *testing.T, svc *Service, hash string) decimal.Decimal {
	t.Helper()
	records, err := svc.ListInventory(context.Background(), adminActor, domain.InventoryFilter{WarehouseID: memory.DemoWarehouseID})
	require.NoError(t, err)
	for _, rec := range records {
		if rec.AttributesHash == hash {
			return rec.Quantity
		}
	}
	return decimal.Zero
}

func blockHash(t *testing.T, svc *Service, length string, width string) string {
	t.Helper()
	eval, err := svc.HashAttributes(context.Background(), adminActor, domain.AttributeHashRequest{
		TemplateID: memory.DemoTemplateID,
		Attributes: blockAttrs(length, width),
	})
	require.NoError(t, err)
	return eval.AttributesHash
}

type fakeTemplateCache struct {
	mu          sync.Mutex
	items       map[string]domain.ProductTemplate
	sets        int
	invalidated []string
}

func newFakeTemplateCache() *fakeTemplateCache {
	return &fakeTemplateCache{items: make(map[string]domain.ProductTemplate)}
}

func (c *fakeTemplateCache) Get(_ context.Context, id string) (*domain.ProductTemplate, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tpl, ok := c.items[id]
	if !ok {
		return nil, false, nil
	}
	return &tpl, true, nil
}

func (c *fakeTemplateCache) Set(_ context.Context, tpl *domain.ProductTemplate, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[tpl.ID] = *tpl
	c.sets++
	return nil
}

func (c *fakeTemplateCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

// lockingRepo fails the first n calls of the wrapped write operations with a
// lock wait timeout.
type lockingRepo struct {
	store.Repository
	remaining atomic.Int32
	calls     atomic.Int32
}

func (r *lockingRepo) fail() bool {
	r.calls.Add(1)
	return r.remaining.Add(-1) >= 0
}

func (r *lockingRepo) ApplyMovement(ctx context.Context, m domain.Movement) (*domain.MovementEntry, error) {
	if r.fail() {
		return nil, store.ErrLockTimeout
	}
	return r.Repository.ApplyMovement(ctx, m)
}

func (r *lockingRepo) ReceiveShipment(ctx context.Context, id string, plan store.ReceivePlan) (*domain.GoodsInTransit, []domain.ReceivingEntry, error) {
	if r.fail() {
		return nil, nil, store.ErrLockTimeout
	}
	return r.Repository.ReceiveShipment(ctx, id, plan)
}

func TestCreateTemplateRejectsDuplicateVariable(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateTemplate(context.Background(), adminActor, domain.TemplateCreateRequest{
		Name: "Beam",
		Attributes: []domain.TemplateAttributeInput{
			{Name: "Length", Variable: "length", DataType: domain.DataTypeNumber},
			{Name: "Length again", Variable: "length", DataType: domain.DataTypeNumber},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.True(t, attrschema.IsCode(err, attrschema.CodeDuplicateVariable))
}

func TestCreateTemplateRejectsUnknownFormulaVariable(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateTemplate(context.Background(), adminActor, domain.TemplateCreateRequest{
		Name:    "Beam",
		Formula: "length*height",
		Attributes: []domain.TemplateAttributeInput{
			{Name: "Length", Variable: "length", DataType: domain.DataTypeNumber, UseInFormula: true},
			{Name: "Height", Variable: "height", DataType: domain.DataTypeNumber},
		},
	})
	require.Error(t, err)
	assert.True(t, attrschema.IsCode(err, attrschema.CodeUnknownVariable))
}

func TestCreateTemplateRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateTemplate(context.Background(), workerActor, domain.TemplateCreateRequest{Name: "Beam"})
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	_, err = svc.CreateTemplate(context.Background(), domain.Actor{}, domain.TemplateCreateRequest{Name: "Beam"})
	assert.ErrorIs(t, err, domain.ErrAuthorization)
}

func TestCreateTemplateNormalizesInput(t *testing.T) {
	svc, _ := newTestService(t)
	last := 0

	tpl, err := svc.CreateTemplate(context.Background(), adminActor, domain.TemplateCreateRequest{
		Name:    "  Board ",
		Formula: " length * thickness ",
		Attributes: []domain.TemplateAttributeInput{
			{Name: "Grade", Variable: "grade", DataType: "SELECT", Options: []string{" A ", "", "B"}, SortOrder: &last},
			{Name: "Length", Variable: "length", DataType: domain.DataTypeNumber, UseInFormula: true},
			{Name: "Thickness", Variable: "thickness", DataType: domain.DataTypeNumber, UseInFormula: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Board", tpl.Name)
	assert.Equal(t, "length * thickness", tpl.Formula)
	assert.Equal(t, domain.StatusActive, tpl.Status)
	assert.Equal(t, "admin", tpl.CreatedBy)
	require.Len(t, tpl.Attributes, 3)
	assert.Equal(t, domain.DataTypeSelect, tpl.Attributes[0].DataType)
	assert.Equal(t, []string{"A", "B"}, tpl.Attributes[0].Options)
	assert.Equal(t, 1, tpl.Attributes[1].SortOrder)
	assert.Equal(t, 2, tpl.Attributes[2].SortOrder)

	_, err = svc.CreateTemplate(context.Background(), adminActor, domain.TemplateCreateRequest{Name: "board"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBlockTemplateFormulaPreview(t *testing.T) {
	svc, _ := newTestService(t)

	eval, err := svc.TestFormula(context.Background(), salesActor, memory.DemoTemplateID, blockAttrs("10", "5"))
	require.NoError(t, err)
	require.True(t, eval.Result.Valid)
	assert.True(t, eval.Result.Decimal.Equal(qty(50)), "got %s", eval.Result.Decimal)
	assert.Len(t, eval.AttributesHash, 64)

	_, err = svc.TestFormula(context.Background(), salesActor, memory.DemoTemplateID, domain.RawAttributes{"length": "10"})
	assert.True(t, attrschema.IsCode(err, attrschema.CodeMissingRequired))

	_, err = svc.TestFormula(context.Background(), salesActor, "tpl-missing", blockAttrs("1", "1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetTemplateUsesCacheAndStatusChangeInvalidates(t *testing.T) {
	templates := newFakeTemplateCache()
	svc, _ := newTestService(t, WithTemplateCache(templates, time.Minute))
	ctx := context.Background()

	_, err := svc.GetTemplate(ctx, memory.DemoTemplateID)
	require.NoError(t, err)
	_, err = svc.GetTemplate(ctx, memory.DemoTemplateID)
	require.NoError(t, err)
	assert.Equal(t, 1, templates.sets)

	_, err = svc.SetTemplateStatus(ctx, adminActor, memory.DemoTemplateID, domain.StatusInactive)
	require.NoError(t, err)
	assert.Equal(t, []string{memory.DemoTemplateID}, templates.invalidated)

	_, err = svc.CreateProduct(ctx, adminActor, domain.ProductCreateRequest{
		TemplateID:  memory.DemoTemplateID,
		WarehouseID: memory.DemoWarehouseID,
		Attributes:  blockAttrs("2", "3"),
		Quantity:    qty(1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDeleteTemplateInUseIsStateError(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, workerActor, domain.ProductCreateRequest{
		TemplateID:  memory.DemoTemplateID,
		WarehouseID: memory.DemoWarehouseID,
		Attributes:  blockAttrs("2", "3"),
		Quantity:    qty(1),
	})
	require.NoError(t, err)

	err = svc.DeleteTemplate(ctx, adminActor, memory.DemoTemplateID)
	assert.ErrorIs(t, err, domain.ErrState)

	unused, err := svc.CreateTemplate(ctx, adminActor, domain.TemplateCreateRequest{Name: "Sack"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteTemplate(ctx, adminActor, unused.ID))
	_, err = svc.GetTemplate(ctx, unused.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateProductAppliesIncomeToInventoryKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateProduct(ctx, workerActor, domain.ProductCreateRequest{
		TemplateID:  memory.DemoTemplateID,
		WarehouseID: memory.DemoWarehouseID,
		Attributes:  blockAttrs("10", "5"),
		Quantity:    qty(3),
		ArrivalDate: "2026-03-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "Block", first.Product.Name)
	assert.True(t, first.Product.CalculatedVolume.Decimal.Equal(qty(50)))
	require.NotNil(t, first.Product.ArrivalDate)
	assert.Equal(t, domain.ActionCreated, first.Movement.Action)
	assert.Equal(t, domain.MovementSourceProduct, first.Movement.Source)
	assert.Equal(t, first.Product.ID, first.Movement.SourceID)

	second, err := svc.CreateProduct(ctx, adminActor, domain.ProductCreateRequest{
		TemplateID:  memory.DemoTemplateID,
		WarehouseID: memory.DemoWarehouseID,
		Attributes:  domain.RawAttributes{"width": "5.0", "length": "10"},
		Quantity:    qty(2),
	})
	require.NoError(t, err)
	assert.Equal(t, first.Product.AttributesHash, second.Product.AttributesHash)
	assert.Equal(t, domain.ActionUpdated, second.Movement.Action)
	assert.True(t, second.Movement.NewQuantity.Equal(qty(5)))

	records, err := svc.ListInventory(ctx, workerActor, domain.InventoryFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Quantity.Equal(qty(5)))
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, adminActor, domain.ProductCreateRequest{
		TemplateID:  memory.DemoTemplateID,
		WarehouseID: memory.DemoWarehouseID,
		Attributes:  blockAttrs("10", "5"),
		Quantity:    qty(0),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateProduct(ctx, adminActor, domain.ProductCreateRequest{
		TemplateID:  memory.DemoTemplateID,
		WarehouseID: memory.DemoWarehouseID,
		Attributes:  blockAttrs("ten", "5"),
		Quantity:    qty(1),
	})
	assert.True(t, attrschema.IsCode(err, attrschema.CodeInvalidNumber))

	_, err = svc.CreateProduct(ctx, salesActor, domain.ProductCreateRequest{
		TemplateID:  memory.DemoTemplateID,
		WarehouseID: memory.DemoWarehouseID,
		Attributes:  blockAttrs("10", "5"),
		Quantity:    qty(1),
	})
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	_, err = svc.CreateProduct(ctx, adminActor, domain.ProductCreateRequest{
		TemplateID:  memory.DemoTemplateID,
		WarehouseID: "wh-missing",
		Attributes:  blockAttrs("10", "5"),
		Quantity:    qty(1),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyMovementOutcomeBeyondStockIsConsistencyError(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApplyMovement(ctx, workerActor, domain.MovementRequest{
		WarehouseID:   memory.DemoWarehouseID,
		TemplateID:    memory.DemoTemplateID,
		Attributes:    blockAttrs("2", "2"),
		OperationType: domain.OperationIncome,
		Quantity:      qty(2),
	})
	require.NoError(t, err)
	hash := blockHash(t, svc, "2", "2")

	_, err = svc.ApplyMovement(ctx, workerActor, domain.MovementRequest{
		WarehouseID:    memory.DemoWarehouseID,
		TemplateID:     memory.DemoTemplateID,
		AttributesHash: hash,
		OperationType:  domain.OperationOutcome,
		Quantity:       qty(5),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConsistency)
	assert.True(t, inventoryQuantity(t, svc, hash).Equal(qty(2)))

	entry, err := svc.ApplyMovement(ctx, workerActor, domain.MovementRequest{
		WarehouseID:    memory.DemoWarehouseID,
		TemplateID:     memory.DemoTemplateID,
		AttributesHash: hash,
		OperationType:  domain.OperationOutcome,
		Quantity:       qty(2),
		Note:           "shipped to customer",
	})
	require.NoError(t, err)
	assert.True(t, entry.PreviousQuantity.Equal(qty(2)))
	assert.True(t, entry.NewQuantity.IsZero())

	_, err = svc.ApplyMovement(ctx, workerActor, domain.MovementRequest{
		WarehouseID:   memory.DemoWarehouseID,
		TemplateID:    memory.DemoTemplateID,
		Attributes:    blockAttrs("9", "9"),
		OperationType: domain.OperationOutcome,
		Quantity:      qty(1),
	})
	assert.ErrorIs(t, err, domain.ErrConsistency)

	movements, err := svc.ListMovements(ctx, workerActor, domain.MovementFilter{InventoryID: entry.InventoryID})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, "shipped to customer", movements[0].Note)
}

func TestApplyMovementRejectsMismatchedHash(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ApplyMovement(context.Background(), adminActor, domain.MovementRequest{
		WarehouseID:    memory.DemoWarehouseID,
		TemplateID:     memory.DemoTemplateID,
		Attributes:     blockAttrs("2", "2"),
		AttributesHash: blockHash(t, svc, "3", "3"),
		OperationType:  domain.OperationIncome,
		Quantity:       qty(1),
	})
	require.Error(t, err)
	var domainErr *domain.Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "attributes_hash", domainErr.Field)
}

func TestApplyMovementRejectsQuantitiesOutsideStoredPrecision(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, raw := range []string{"0.00001", "1.23456", "1e17", "10000000000000000", "1e2000000000"} {
		_, err := svc.ApplyMovement(ctx, workerActor, domain.MovementRequest{
			WarehouseID:   memory.DemoWarehouseID,
			TemplateID:    memory.DemoTemplateID,
			Attributes:    blockAttrs("2", "2"),
			OperationType: domain.OperationIncome,
			Quantity:      decimal.RequireFromString(raw),
		})
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, domain.ErrValidation, raw)
		var domainErr *domain.Error
		require.True(t, errors.As(err, &domainErr), raw)
		assert.Equal(t, "quantity", domainErr.Field, raw)
	}
	assert.True(t, inventoryQuantity(t, svc, blockHash(t, svc, "2", "2")).IsZero())

	entry, err := svc.ApplyMovement(ctx, workerActor, domain.MovementRequest{
		WarehouseID:   memory.DemoWarehouseID,
		TemplateID:    memory.DemoTemplateID,
		Attributes:    blockAttrs("2", "2"),
		OperationType: domain.OperationIncome,
		Quantity:      decimal.RequireFromString("1.2345"),
	})
	require.NoError(t, err)
	assert.Equal(t, "1.2345", entry.NewQuantity.String())
}

func TestApplyMovementUnknownWarehouseIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ApplyMovement(context.Background(), adminActor, domain.MovementRequest{
		WarehouseID:   "wh-missing",
		TemplateID:    memory.DemoTemplateID,
		Attributes:    blockAttrs("2", "2"),
		OperationType: domain.OperationIncome,
		Quantity:      qty(5),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	records, err := svc.ListInventory(context.Background(), adminActor, domain.InventoryFilter{WarehouseID: "wh-missing"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestApplyMovementRejectsNonHexHash(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ApplyMovement(context.Background(), adminActor, domain.MovementRequest{
		WarehouseID:    memory.DemoWarehouseID,
		TemplateID:     memory.DemoTemplateID,
		AttributesHash: strings.Repeat("zz", 32),
		OperationType:  domain.OperationIncome,
		Quantity:       qty(1),
	})
	require.Error(t, err)
	var domainErr *domain.Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "attributes_hash", domainErr.Field)

	records, err := svc.ListInventory(context.Background(), adminActor, domain.InventoryFilter{WarehouseID: memory.DemoWarehouseID})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWarehouseWorkerIsScopedToAssignedWarehouse(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	other, err := svc.CreateWarehouse(ctx, adminActor, domain.WarehouseCreateRequest{CompanyID: memory.DemoCompanyID, Name: "North"})
	require.NoError(t, err)

	_, err = svc.ApplyMovement(ctx, workerActor, domain.MovementRequest{
		WarehouseID:   other.ID,
		TemplateID:    memory.DemoTemplateID,
		Attributes:    blockAttrs("1", "1"),
		OperationType: domain.OperationIncome,
		Quantity:      qty(1),
	})
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	_, err = svc.ListInventory(ctx, workerActor, domain.InventoryFilter{WarehouseID: other.ID})
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	_, err = svc.ApplyMovement(ctx, logistActor, domain.MovementRequest{
		WarehouseID:   other.ID,
		TemplateID:    memory.DemoTemplateID,
		Attributes:    blockAttrs("1", "1"),
		OperationType: domain.OperationIncome,
		Quantity:      qty(1),
	})
	require.NoError(t, err)

	records, err := svc.ListInventory(ctx, workerActor, domain.InventoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestConcurrentMovementsOnSameKeyDoNotLoseUpdates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyMovement(ctx, workerActor, domain.MovementRequest{
				WarehouseID:   memory.DemoWarehouseID,
				TemplateID:    memory.DemoTemplateID,
				Attributes:    blockAttrs("4", "4"),
				OperationType: domain.OperationIncome,
				Quantity:      qty(3),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.True(t, inventoryQuantity(t, svc, blockHash(t, svc, "4", "4")).Equal(qty(3*workers)))
}

func TestApplyMovementRetriesOnceOnLockTimeout(t *testing.T) {
	repo := &lockingRepo{Repository: memory.NewSeeded()}
	repo.remaining.Store(1)
	svc := New(repo, logging.Discard())
	req := domain.MovementRequest{
		WarehouseID:   memory.DemoWarehouseID,
		TemplateID:    memory.DemoTemplateID,
		Attributes:    blockAttrs("1", "2"),
		OperationType: domain.OperationIncome,
		Quantity:      qty(1),
	}

	_, err := svc.ApplyMovement(context.Background(), adminActor, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.calls.Load())

	repo.calls.Store(0)
	repo.remaining.Store(2)
	_, err = svc.ApplyMovement(context.Background(), adminActor, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSystem)
	var domainErr *domain.Error
	require.True(t, errors.As(err, &domainErr))
	assert.True(t, domainErr.Retryable)
	assert.Equal(t, int32(2), repo.calls.Load())
}

func TestClassify(t *testing.T) {
	svc, _ := newTestService(t)

	cases := []struct {
		err  error
		kind error
	}{
		{store.ErrNotFound, domain.ErrNotFound},
		{store.ErrInsufficientStock, domain.ErrConsistency},
		{store.ErrDuplicate, domain.ErrValidation},
		{store.ErrInUse, domain.ErrState},
		{store.ErrInvalidState, domain.ErrState},
		{store.ErrInvalidTransaction, domain.ErrValidation},
		{store.ErrLockTimeout, domain.ErrSystem},
		{errors.New("connection reset by peer"), domain.ErrSystem},
		{domain.Forbidden("nope"), domain.ErrAuthorization},
		{&attrschema.Error{Code: attrschema.CodeInvalidOption, Field: "grade"}, domain.ErrValidation},
	}
	for _, tc := range cases {
		got := svc.classify(tc.err, "template", "tpl-1")
		assert.ErrorIs(t, got, tc.kind, "classify(%v)", tc.err)
		assert.Equal(t, tc.kind, domain.KindOf(got))
	}

	raw := svc.classify(errors.New("pq: relation does not exist"), "template", "tpl-1")
	assert.NotContains(t, raw.Error(), "relation")
}

func TestCreateEmployeeHashesPassword(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	emp, err := svc.CreateEmployee(ctx, adminActor, domain.EmployeeCreateRequest{
		Username:    " Picker1 ",
		Password:    "secret-pass",
		FullName:    "Night Picker",
		Role:        domain.RoleWarehouseWorker,
		WarehouseID: memory.DemoWarehouseID,
	})
	require.NoError(t, err)
	assert.Equal(t, "picker1", emp.Username)
	assert.True(t, emp.Active)

	stored, err := repo.GetUserByUsername(ctx, "picker1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret-pass", stored.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("secret-pass")))

	_, err = svc.CreateEmployee(ctx, adminActor, domain.EmployeeCreateRequest{Username: "picker1", Password: "secret-pass", Role: domain.RoleSalesManager})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateEmployee(ctx, adminActor, domain.EmployeeCreateRequest{Username: "picker2", Password: "secret-pass", Role: domain.RoleWarehouseWorker})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateEmployee(ctx, adminActor, domain.EmployeeCreateRequest{Username: "picker3", Password: "secret-pass", Role: domain.RoleWarehouseWorker, WarehouseID: "wh-missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.ListEmployees(ctx, salesActor)
	assert.ErrorIs(t, err, domain.ErrAuthorization)
}

func TestCompaniesAndWarehouses(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	company, err := svc.CreateCompany(ctx, adminActor, domain.CompanyCreateRequest{Name: "Timber Ltd", TaxID: "7701234567"})
	require.NoError(t, err)

	_, err = svc.CreateCompany(ctx, adminActor, domain.CompanyCreateRequest{Name: "timber ltd"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateWarehouse(ctx, adminActor, domain.WarehouseCreateRequest{CompanyID: "cmp-missing", Name: "East"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	wh, err := svc.CreateWarehouse(ctx, adminActor, domain.WarehouseCreateRequest{CompanyID: company.ID, Name: "East"})
	require.NoError(t, err)

	_, err = svc.CreateWarehouse(ctx, adminActor, domain.WarehouseCreateRequest{CompanyID: company.ID, Name: "Annex"})
	require.NoError(t, err)

	warehouses, err := svc.ListWarehouses(ctx, salesActor)
	require.NoError(t, err)
	ids := make([]string, 0, len(warehouses))
	names := make([]string, 0, len(warehouses))
	for _, w := range warehouses {
		ids = append(ids, w.ID)
		names = append(names, w.Name)
	}
	assert.Contains(t, ids, wh.ID)
	assert.True(t, sort.StringsAreSorted(names), "warehouses not ordered by name: %v", names)

	_, err = svc.ListCompanies(ctx, logistActor)
	assert.ErrorIs(t, err, domain.ErrAuthorization)
}

func TestAuditLogRecordsBusinessActions(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := svc.CreateTemplate(ctx, adminActor, domain.TemplateCreateRequest{Name: "Crate"})
	require.NoError(t, err)

	logs, err := svc.ListAuditLogs(ctx, adminActor, "", "2026-03-01", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "template_create", logs[0].Action)
	assert.Equal(t, "admin", logs[0].ActorUsername)

	_, err = svc.ListAuditLogs(ctx, adminActor, "", "01.03.2026", 10)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.ListAuditLogs(ctx, workerActor, "", "", 10)
	assert.ErrorIs(t, err, domain.ErrAuthorization)
}
