package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pos-sync-service/internal/models"
)

// SyncRepository handles database operations for sync runs
type SyncRepository struct {
	db *gorm.DB
}

// NewSyncRepository creates a new sync repository
func NewSyncRepository(db *gorm.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// CreateRun inserts a new run
func (r *SyncRepository) CreateRun(ctx context.Context, run *models.SyncRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// GetRun retrieves a sync run by ID
func (r *SyncRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &run, nil
}

// RunFinalization holds the terminal fields of a run
type RunFinalization struct {
	Status       models.SyncStatus
	FinishedAt   time.Time
	TotalRecords int
	ErrorMessage string
	Details      models.JSONB
}

// FinalizeRun moves a running run to a terminal state. It reports false when
// the run was not running, leaving the row untouched.
func (r *SyncRepository) FinalizeRun(ctx context.Context, id uuid.UUID, f RunFinalization) (bool, error) {
	updates := map[string]interface{}{
		"status":        f.Status,
		"finished_at":   f.FinishedAt,
		"total_records": f.TotalRecords,
		"error_message": f.ErrorMessage,
		"updated_at":    time.Now(),
	}
	if f.Details != nil {
		updates["details"] = f.Details
	}
	result := r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ? AND status = ?", id, models.SyncStatusRunning).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SyncListOptions contains options for listing sync runs
type SyncListOptions struct {
	Kind   string
	Status string
	Limit  int
	Offset int
}

// ListRuns retrieves sync runs with pagination and filtering, newest first
func (r *SyncRepository) ListRuns(ctx context.Context, opts SyncListOptions) ([]models.SyncRun, int64, error) {
	var runs []models.SyncRun
	var total int64

	query := r.db.WithContext(ctx).Model(&models.SyncRun{})
	if opts.Kind != "" {
		query = query.Where("kind = ?", opts.Kind)
	}
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}
	if err := query.Order("started_at DESC").Find(&runs).Error; err != nil {
		return nil, 0, err
	}

	return runs, total, nil
}

// ListStuckRuns retrieves runs still running that started before the cutoff
func (r *SyncRepository) ListStuckRuns(ctx context.Context, startedBefore time.Time) ([]models.SyncRun, error) {
	var runs []models.SyncRun
	err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", models.SyncStatusRunning, startedBefore).
		Order("started_at ASC").
		Find(&runs).Error
	return runs, err
}

// statsWindow bounds how many recent terminal runs are scanned for per-kind stats
const statsWindow = 500

// SyncStats contains sync statistics
type SyncStats struct {
	TotalRuns     int64                               `json:"totalRuns"`
	CompletedRuns int64                               `json:"completedRuns"`
	FailedRuns    int64                               `json:"failedRuns"`
	RunningRuns   int64                               `json:"runningRuns"`
	LastCompleted map[models.SyncKind]*time.Time      `json:"lastCompleted"`
	LastFailed    map[models.SyncKind]*models.SyncRun `json:"lastFailed,omitempty"`
}

// GetSyncStats aggregates run counts by status and the latest run per kind
func (r *SyncRepository) GetSyncStats(ctx context.Context) (*SyncStats, error) {
	stats := &SyncStats{
		LastCompleted: make(map[models.SyncKind]*time.Time),
		LastFailed:    make(map[models.SyncKind]*models.SyncRun),
	}

	var statusCounts []struct {
		Status string
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range statusCounts {
		stats.TotalRuns += sc.Count
		switch models.SyncStatus(sc.Status) {
		case models.SyncStatusCompleted:
			stats.CompletedRuns = sc.Count
		case models.SyncStatusFailed:
			stats.FailedRuns = sc.Count
		case models.SyncStatusRunning:
			stats.RunningRuns = sc.Count
		}
	}

	var terminal []models.SyncRun
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []models.SyncStatus{models.SyncStatusCompleted, models.SyncStatusFailed}).
		Order("started_at DESC").
		Limit(statsWindow).
		Find(&terminal).Error; err != nil {
		return nil, err
	}
	for i := range terminal {
		run := &terminal[i]
		switch run.Status {
		case models.SyncStatusCompleted:
			if _, seen := stats.LastCompleted[run.Kind]; !seen {
				stats.LastCompleted[run.Kind] = run.FinishedAt
			}
		case models.SyncStatusFailed:
			if _, seen := stats.LastFailed[run.Kind]; !seen {
				stats.LastFailed[run.Kind] = run
			}
		}
	}

	return stats, nil
}
