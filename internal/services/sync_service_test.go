package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pos-sync-service/internal/clients"
	"pos-sync-service/internal/models"
	"pos-sync-service/internal/repository"
)

func newTestSyncService(db *gorm.DB, pos clients.POSClient, guard RunGuard) *SyncService {
	logger := testLogger()
	syncRepo := repository.NewSyncRepository(db)
	branchRepo := repository.NewBranchRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	return NewSyncService(
		NewSyncRunTracker(syncRepo, logger),
		guard,
		NewCatalogMergeEngine(pos, branchRepo, catalogRepo, "", logger),
		NewInventoryReconciliationEngine(pos, branchRepo, catalogRepo, repository.NewInventoryRepository(db), 2, logger),
		syncRepo,
		SyncServiceConfig{Timeout: time.Minute, StuckAfter: 10 * time.Minute},
		logger,
	)
}

func TestSyncService_FullSyncRecordsCompletedRun(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestSyncService(db, catalogFixture(), nil)

	summary, err := svc.RunFullSync(ctx, models.TriggerManual)
	require.NoError(t, err)
	require.NotNil(t, summary.Run)
	assert.Equal(t, models.SyncStatusCompleted, summary.Run.Status)
	assert.Equal(t, 6, summary.Run.TotalRecords)

	stored, err := svc.GetRun(ctx, summary.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, stored.Status)
	assert.Equal(t, models.SyncKindFull, stored.Kind)
	require.NotNil(t, stored.FinishedAt)
	products, ok := stored.Details["products"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), products["created"])
	assert.Equal(t, float64(1), products["skipped"])
}

func TestSyncService_RemoteFailureRecordsFailedRun(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	pos := catalogFixture()
	pos.productsErr = errors.New("connection reset by peer")
	svc := newTestSyncService(db, pos, nil)

	summary, err := svc.RunProductsSync(ctx, models.TriggerManual)
	require.Error(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, models.SyncStatusFailed, summary.Run.Status)

	stored, err := svc.GetRun(ctx, summary.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "connection reset by peer")

	// A failed run is never retried on its own; the next call is a new run
	summary2, err := svc.RunProductsSync(ctx, models.TriggerManual)
	require.Error(t, err)
	assert.NotEqual(t, summary.Run.ID, summary2.Run.ID)
}

func TestSyncService_GuardRejectsOverlappingRuns(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	guard := NewLocalRunGuard()
	svc := newTestSyncService(db, catalogFixture(), guard)

	release, ok, err := guard.TryAcquire(ctx, GuardKeyFor(models.SyncKindFull))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.RunPricesSync(ctx, models.TriggerManual)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	// Inventory writes other tables and is not blocked
	summary, err := svc.RunInventorySync(ctx, InventoryModeQuick, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.SyncKindQuickInventory, summary.Run.Kind)

	release()
	_, err = svc.RunPricesSync(ctx, models.TriggerManual)
	assert.NoError(t, err)

	runs, total, err := svc.ListRuns(ctx, repository.SyncListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, runs, 2)
}

func TestSyncRunTracker_FinalizesOnce(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	tracker := NewSyncRunTracker(repository.NewSyncRepository(db), testLogger())

	run, err := tracker.Start(ctx, models.SyncKindImages, models.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusRunning, run.Status)

	require.NoError(t, tracker.Complete(ctx, run, 3, EntityStats{Updated: 3}))
	assert.ErrorIs(t, tracker.Fail(ctx, run, errors.New("late"), nil), ErrRunAlreadyFinalized)

	// A stale copy still cannot move the stored run
	stale := *run
	stale.Status = models.SyncStatusRunning
	assert.ErrorIs(t, tracker.Complete(ctx, &stale, 0, nil), ErrRunAlreadyFinalized)
}

func TestSyncService_ListStuckRuns(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestSyncService(db, catalogFixture(), nil)
	syncRepo := repository.NewSyncRepository(db)

	stuck := &models.SyncRun{Kind: models.SyncKindInventory, Status: models.SyncStatusRunning, TriggeredBy: models.TriggerScheduled, StartedAt: time.Now().Add(-time.Hour)}
	recent := &models.SyncRun{Kind: models.SyncKindProducts, Status: models.SyncStatusRunning, TriggeredBy: models.TriggerManual, StartedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, syncRepo.CreateRun(ctx, stuck))
	require.NoError(t, syncRepo.CreateRun(ctx, recent))

	runs, err := svc.ListStuckRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, stuck.ID, runs[0].ID)

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.RunningRuns)
}

func TestLocalRunGuard(t *testing.T) {
	ctx := context.Background()
	guard := NewLocalRunGuard()

	release, ok, err := guard.TryAcquire(ctx, "catalog")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"catalog"}, guard.Active())

	_, ok, err = guard.TryAcquire(ctx, "catalog")
	require.NoError(t, err)
	assert.False(t, ok)

	other, ok, err := guard.TryAcquire(ctx, "inventory")
	require.NoError(t, err)
	assert.True(t, ok)
	other()

	release()
	release()
	assert.Empty(t, guard.Active())

	release, ok, err = guard.TryAcquire(ctx, "catalog")
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestGuardKeyFor(t *testing.T) {
	assert.Equal(t, GuardKeyFor(models.SyncKindFull), GuardKeyFor(models.SyncKindPrices))
	assert.Equal(t, GuardKeyFor(models.SyncKindProducts), GuardKeyFor(models.SyncKindImages))
	assert.Equal(t, GuardKeyFor(models.SyncKindInventory), GuardKeyFor(models.SyncKindQuickInventory))
	assert.NotEqual(t, GuardKeyFor(models.SyncKindFull), GuardKeyFor(models.SyncKindInventory))
}

func TestSyncService_BranchInventorySync(t *testing.T) {
	ctx := context.Background()
	f := seedInventory(t)
	pos := &fakePOS{leftovers: map[string][]clients.POSLeftover{
		"1": {{IngredientID: "500", Quantity: decimal.NewFromInt(7), Unit: "kg"}},
		"2": {{IngredientID: "500", Quantity: decimal.NewFromInt(3), Unit: "kg"}},
	}}
	service := newTestSyncService(f.db, pos, nil)

	summary, err := service.RunBranchInventorySync(ctx, f.center.ID, InventoryModeQuick, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.SyncKindQuickInventory, summary.Run.Kind)
	assert.Equal(t, models.SyncStatusCompleted, summary.Run.Status)
	assert.Equal(t, 1, pos.calls["leftovers"])

	beer, err := f.inventory.Get(ctx, f.beer.ID, f.center.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(7).Equal(beer.Quantity))
	_, err = f.inventory.Get(ctx, f.beer.ID, f.podil.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	closed, err := repository.NewBranchRepository(f.db).GetByExternalID(ctx, "3")
	require.NoError(t, err)
	for _, id := range []uuid.UUID{closed.ID, uuid.New()} {
		summary, err = service.RunBranchInventorySync(ctx, id, InventoryModeFull, models.TriggerManual)
		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.Nil(t, summary)
	}
	assert.Equal(t, 1, pos.calls["leftovers"])
}
