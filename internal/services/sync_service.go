package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pos-sync-service/internal/models"
	"pos-sync-service/internal/repository"
)

// SyncRunTracker records the lifecycle of every sync invocation
type SyncRunTracker struct {
	syncRepo *repository.SyncRepository
	logger   *logrus.Entry
	now      func() time.Time
}

// NewSyncRunTracker creates a new run tracker
func NewSyncRunTracker(syncRepo *repository.SyncRepository, logger *logrus.Logger) *SyncRunTracker {
	return &SyncRunTracker{
		syncRepo: syncRepo,
		logger:   logger.WithField("component", "sync_tracker"),
		now:      time.Now,
	}
}

// Start creates a running run before the operation begins
func (t *SyncRunTracker) Start(ctx context.Context, kind models.SyncKind, trigger models.TriggerType) (*models.SyncRun, error) {
	run := &models.SyncRun{
		ID:          uuid.New(),
		Kind:        kind,
		Status:      models.SyncStatusRunning,
		TriggeredBy: trigger,
		StartedAt:   t.now(),
	}
	if err := t.syncRepo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}
	t.logger.WithFields(logrus.Fields{"run_id": run.ID, "kind": kind, "trigger": trigger}).Info("Sync run started")
	return run, nil
}

// Complete finalizes a run as completed with its record count
func (t *SyncRunTracker) Complete(ctx context.Context, run *models.SyncRun, totalRecords int, details interface{}) error {
	return t.finalize(ctx, run, models.SyncStatusCompleted, totalRecords, "", details)
}

// Fail finalizes a run as failed with the cause
func (t *SyncRunTracker) Fail(ctx context.Context, run *models.SyncRun, cause error, details interface{}) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return t.finalize(ctx, run, models.SyncStatusFailed, 0, msg, details)
}

func (t *SyncRunTracker) finalize(ctx context.Context, run *models.SyncRun, status models.SyncStatus, total int, errMsg string, details interface{}) error {
	if !models.CanTransitionSyncStatus(run.Status, status) {
		return ErrRunAlreadyFinalized
	}

	finishedAt := t.now()
	f := repository.RunFinalization{
		Status:       status,
		FinishedAt:   finishedAt,
		TotalRecords: total,
		ErrorMessage: errMsg,
		Details:      detailsBlob(details),
	}

	ok, err := t.syncRepo.FinalizeRun(ctx, run.ID, f)
	if err != nil {
		return fmt.Errorf("failed to finalize sync run: %w", err)
	}
	if !ok {
		return ErrRunAlreadyFinalized
	}

	run.Status = status
	run.FinishedAt = &finishedAt
	run.TotalRecords = total
	run.ErrorMessage = errMsg
	run.Details = f.Details

	entry := t.logger.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"kind":     run.Kind,
		"status":   status,
		"records":  total,
		"duration": run.Duration().String(),
	})
	if status == models.SyncStatusFailed {
		entry.WithField("error", errMsg).Warn("Sync run failed")
	} else {
		entry.Info("Sync run completed")
	}
	return nil
}

// detailsBlob converts a result struct into the run's detail blob
func detailsBlob(details interface{}) models.JSONB {
	if details == nil {
		return nil
	}
	blob, err := models.ToJSONB(details)
	if err != nil {
		return nil
	}
	return blob
}

// SyncSummary is returned by every operator-triggered sync
type SyncSummary struct {
	Run   *models.SyncRun `json:"run"`
	Stats interface{}     `json:"stats"`
}

// SyncService runs guarded, tracked sync invocations
type SyncService struct {
	tracker   *SyncRunTracker
	guard     RunGuard
	catalog   *CatalogMergeEngine
	inventory *InventoryReconciliationEngine
	syncRepo  *repository.SyncRepository

	timeout    time.Duration
	stuckAfter time.Duration
	logger     *logrus.Entry
}

// SyncServiceConfig holds the timing settings of the sync service
type SyncServiceConfig struct {
	Timeout    time.Duration
	StuckAfter time.Duration
}

// NewSyncService creates a new sync service
func NewSyncService(
	tracker *SyncRunTracker,
	guard RunGuard,
	catalog *CatalogMergeEngine,
	inventory *InventoryReconciliationEngine,
	syncRepo *repository.SyncRepository,
	cfg SyncServiceConfig,
	logger *logrus.Logger,
) *SyncService {
	if guard == nil {
		guard = NewLocalRunGuard()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Minute
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 30 * time.Minute
	}
	return &SyncService{
		tracker:    tracker,
		guard:      guard,
		catalog:    catalog,
		inventory:  inventory,
		syncRepo:   syncRepo,
		timeout:    cfg.Timeout,
		stuckAfter: cfg.StuckAfter,
		logger:     logger.WithField("component", "sync_service"),
	}
}

type syncFunc func(ctx context.Context) (total int, stats interface{}, err error)

// run takes the resource guard, records a run and executes fn. A failed
// operation is returned as a failed-run summary together with its error.
func (s *SyncService) run(ctx context.Context, kind models.SyncKind, trigger models.TriggerType, fn syncFunc) (*SyncSummary, error) {
	key := GuardKeyFor(kind)
	release, ok, err := s.guard.TryAcquire(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	defer release()

	// The run outlives the triggering request so it always reaches a terminal state
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	run, err := s.tracker.Start(runCtx, kind, trigger)
	if err != nil {
		return nil, err
	}

	total, stats, syncErr := fn(runCtx)
	if syncErr != nil {
		if err := s.tracker.Fail(context.WithoutCancel(runCtx), run, syncErr, stats); err != nil {
			s.logger.WithError(err).WithField("run_id", run.ID).Error("Failed to record sync failure")
		}
		return &SyncSummary{Run: run, Stats: stats}, syncErr
	}

	if err := s.tracker.Complete(context.WithoutCancel(runCtx), run, total, stats); err != nil {
		return nil, err
	}
	return &SyncSummary{Run: run, Stats: stats}, nil
}

// RunFullSync syncs branches, categories and products
func (s *SyncService) RunFullSync(ctx context.Context, trigger models.TriggerType) (*SyncSummary, error) {
	return s.run(ctx, models.SyncKindFull, trigger, func(ctx context.Context) (int, interface{}, error) {
		result, err := s.catalog.SyncCatalog(ctx)
		if result == nil {
			return 0, nil, err
		}
		return result.Total(), result, err
	})
}

// RunProductsSync syncs products against existing categories
func (s *SyncService) RunProductsSync(ctx context.Context, trigger models.TriggerType) (*SyncSummary, error) {
	return s.run(ctx, models.SyncKindProducts, trigger, func(ctx context.Context) (int, interface{}, error) {
		stats, err := s.catalog.SyncProducts(ctx)
		return stats.Total(), stats, err
	})
}

// RunPricesSync updates prices of existing products
func (s *SyncService) RunPricesSync(ctx context.Context, trigger models.TriggerType) (*SyncSummary, error) {
	return s.run(ctx, models.SyncKindPrices, trigger, func(ctx context.Context) (int, interface{}, error) {
		stats, err := s.catalog.SyncPrices(ctx)
		return stats.Total(), stats, err
	})
}

// RunImagesSync updates image references of existing products
func (s *SyncService) RunImagesSync(ctx context.Context, trigger models.TriggerType) (*SyncSummary, error) {
	return s.run(ctx, models.SyncKindImages, trigger, func(ctx context.Context) (int, interface{}, error) {
		stats, err := s.catalog.SyncImages(ctx)
		return stats.Total(), stats, err
	})
}

// RunInventorySync reconciles stock of every active branch
func (s *SyncService) RunInventorySync(ctx context.Context, mode InventoryMode, trigger models.TriggerType) (*SyncSummary, error) {
	kind := models.SyncKindInventory
	if mode == InventoryModeQuick {
		kind = models.SyncKindQuickInventory
	}
	return s.run(ctx, kind, trigger, func(ctx context.Context) (int, interface{}, error) {
		result, err := s.inventory.SyncAll(ctx, mode)
		if result == nil {
			return 0, nil, err
		}
		return result.Updated + result.Zeroed, result, err
	})
}

// RunBranchInventorySync reconciles stock of one active branch. It shares the
// inventory guard so it never overlaps an all-branch inventory run.
func (s *SyncService) RunBranchInventorySync(ctx context.Context, branchID uuid.UUID, mode InventoryMode, trigger models.TriggerType) (*SyncSummary, error) {
	branch, err := s.inventory.ActiveBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	kind := models.SyncKindInventory
	if mode == InventoryModeQuick {
		kind = models.SyncKindQuickInventory
	}
	return s.run(ctx, kind, trigger, func(ctx context.Context) (int, interface{}, error) {
		result, err := s.inventory.SyncBranch(ctx, *branch, mode)
		if err != nil {
			result.Error = err.Error()
		}
		return result.Updated + result.Zeroed, result, err
	})
}

// GetRun retrieves a sync run by ID
func (s *SyncService) GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	return s.syncRepo.GetRun(ctx, id)
}

// ListRuns lists sync runs
func (s *SyncService) ListRuns(ctx context.Context, opts repository.SyncListOptions) ([]models.SyncRun, int64, error) {
	return s.syncRepo.ListRuns(ctx, opts)
}

// ListStuckRuns lists runs that have been running longer than the stuck threshold
func (s *SyncService) ListStuckRuns(ctx context.Context) ([]models.SyncRun, error) {
	return s.syncRepo.ListStuckRuns(ctx, time.Now().Add(-s.stuckAfter))
}

// GetStats retrieves sync statistics
func (s *SyncService) GetStats(ctx context.Context) (*repository.SyncStats, error) {
	return s.syncRepo.GetSyncStats(ctx)
}
