package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pos-sync-service/internal/clients"
	"pos-sync-service/internal/models"
	"pos-sync-service/internal/repository"
)

type inventoryFixture struct {
	db        *gorm.DB
	inventory *repository.InventoryRepository
	center    *models.Branch
	podil     *models.Branch
	beer      *models.Product
	cheese    *models.Product
	unmapped  *models.Product
	bundle    *models.Product
}

func strRef(s string) *string { return &s }

func seedInventory(t *testing.T) *inventoryFixture {
	t.Helper()
	ctx := context.Background()
	db := setupTestDB(t)
	branchRepo := repository.NewBranchRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)

	f := &inventoryFixture{db: db, inventory: repository.NewInventoryRepository(db)}
	f.center = &models.Branch{ExternalID: "1", Name: "Центр", IsActive: true}
	f.podil = &models.Branch{ExternalID: "2", Name: "Поділ", IsActive: true}
	closed := &models.Branch{ExternalID: "3", Name: "Закрито", IsActive: false}
	for _, b := range []*models.Branch{f.center, f.podil, closed} {
		require.NoError(t, branchRepo.Create(ctx, b))
	}
	require.NoError(t, db.Model(closed).Update("is_active", false).Error)

	f.beer = &models.Product{ExternalID: strRef("100"), IngredientID: strRef("500"), Name: "Пиво Lager", Price: decimal.NewFromInt(45), IsActive: true}
	f.cheese = &models.Product{ExternalID: strRef("200"), IngredientID: strRef("501"), Name: "Сир", Price: decimal.NewFromInt(420), IsActive: true,
		Attributes: models.JSONB{"ingredient_unit": "kg"}}
	f.unmapped = &models.Product{ExternalID: strRef("300"), Name: "Пакет", Price: decimal.NewFromInt(2), IsActive: true}
	f.bundle = &models.Product{Name: "Пивний сет", Price: decimal.NewFromInt(300), IsActive: true}
	for _, p := range []*models.Product{f.beer, f.cheese, f.unmapped} {
		require.NoError(t, catalogRepo.CreateProduct(ctx, p))
	}
	f.bundle.Bundle = models.BundleItems{{ProductID: f.beer.ID, Quantity: decimal.NewFromInt(2)}}
	require.NoError(t, catalogRepo.CreateProduct(ctx, f.bundle))

	return f
}

func (f *inventoryFixture) engine(pos clients.POSClient) *InventoryReconciliationEngine {
	return NewInventoryReconciliationEngine(
		pos,
		repository.NewBranchRepository(f.db),
		repository.NewCatalogRepository(f.db),
		f.inventory,
		2,
		testLogger(),
	)
}

func TestInventoryReconciliationEngine_FullSyncZeroesUnmatched(t *testing.T) {
	ctx := context.Background()
	f := seedInventory(t)

	require.NoError(t, f.inventory.Upsert(ctx, []models.ProductInventory{{
		ProductID: f.cheese.ID, BranchID: f.center.ID, Quantity: decimal.NewFromInt(5), Unit: "kg", LastSyncedAt: time.Now().Add(-time.Hour),
	}}))

	pos := &fakePOS{leftovers: map[string][]clients.POSLeftover{
		"1": {{IngredientID: "500", Quantity: decimal.RequireFromString("12.5"), Unit: "kg"}},
		"2": {
			{IngredientID: "500", Quantity: decimal.NewFromInt(3), Unit: "kg"},
			{IngredientID: "501", Quantity: decimal.RequireFromString("1.25"), Unit: "kg"},
		},
	}}

	result, err := f.engine(pos).SyncAll(ctx, InventoryModeFull)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Branches)
	assert.Zero(t, result.FailedBranches)
	assert.Equal(t, 3, result.Updated)
	assert.Equal(t, 3, result.Zeroed)

	cheese, err := f.inventory.Get(ctx, f.cheese.ID, f.center.ID)
	require.NoError(t, err)
	assert.True(t, cheese.Quantity.IsZero())

	beer, err := f.inventory.Get(ctx, f.beer.ID, f.center.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.5").Equal(beer.Quantity))

	podilCheese, err := f.inventory.Get(ctx, f.cheese.ID, f.podil.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.25").Equal(podilCheese.Quantity))

	_, err = f.inventory.Get(ctx, f.bundle.ID, f.center.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	rows, err := f.inventory.CountByBranch(ctx, f.center.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)
}

func TestInventoryReconciliationEngine_QuickSyncLeavesUnmatched(t *testing.T) {
	ctx := context.Background()
	f := seedInventory(t)

	require.NoError(t, f.inventory.Upsert(ctx, []models.ProductInventory{{
		ProductID: f.cheese.ID, BranchID: f.center.ID, Quantity: decimal.NewFromInt(5), Unit: "kg", LastSyncedAt: time.Now(),
	}}))

	pos := &fakePOS{leftovers: map[string][]clients.POSLeftover{
		"1": {{IngredientID: "500", Quantity: decimal.NewFromInt(7), Unit: "kg"}},
	}}

	result, err := f.engine(pos).SyncAll(ctx, InventoryModeQuick)
	require.NoError(t, err)
	assert.Zero(t, result.Zeroed)

	cheese, err := f.inventory.Get(ctx, f.cheese.ID, f.center.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5).Equal(cheese.Quantity))

	_, err = f.inventory.Get(ctx, f.unmapped.ID, f.center.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestInventoryReconciliationEngine_BranchFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	f := seedInventory(t)

	pos := &fakePOS{
		leftovers: map[string][]clients.POSLeftover{
			"1": {{IngredientID: "500", Quantity: decimal.NewFromInt(7), Unit: "kg"}},
		},
		leftoverErrs: map[string]error{"2": &clients.HTTPError{StatusCode: 502, Body: "bad gateway"}},
	}

	result, err := f.engine(pos).SyncAll(ctx, InventoryModeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedBranches)
	require.Len(t, result.Results, 2)

	byBranch := map[string]BranchInventoryResult{}
	for _, r := range result.Results {
		byBranch[r.ExternalID] = r
	}
	assert.Empty(t, byBranch["1"].Error)
	assert.Equal(t, 1, byBranch["1"].Updated)
	assert.Contains(t, byBranch["2"].Error, "502")

	count, err := f.inventory.CountByBranch(ctx, f.podil.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInventoryReconciliationEngine_AllBranchesFailing(t *testing.T) {
	ctx := context.Background()
	f := seedInventory(t)

	boom := errors.New("timeout")
	pos := &fakePOS{leftoverErrs: map[string]error{"1": boom, "2": boom}}

	result, err := f.engine(pos).SyncAll(ctx, InventoryModeFull)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.FailedBranches)
}

func TestParseInventoryMode(t *testing.T) {
	mode, err := ParseInventoryMode("")
	require.NoError(t, err)
	assert.Equal(t, InventoryModeFull, mode)

	mode, err = ParseInventoryMode("quick")
	require.NoError(t, err)
	assert.Equal(t, InventoryModeQuick, mode)

	_, err = ParseInventoryMode("partial")
	assert.Error(t, err)
}
