package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pos-sync-service/internal/clients"
	"pos-sync-service/internal/models"
	"pos-sync-service/internal/repository"
)

// InventoryMode selects how unmatched products are treated
type InventoryMode string

const (
	// InventoryModeFull is authoritative: products missing from the POS stock list are zeroed
	InventoryModeFull InventoryMode = "full"
	// InventoryModeQuick is incremental: products missing from the POS stock list are left untouched
	InventoryModeQuick InventoryMode = "quick"
)

// ParseInventoryMode parses a mode name, defaulting to full
func ParseInventoryMode(s string) (InventoryMode, error) {
	switch InventoryMode(s) {
	case "", InventoryModeFull:
		return InventoryModeFull, nil
	case InventoryModeQuick:
		return InventoryModeQuick, nil
	default:
		return "", fmt.Errorf("unknown inventory mode %q", s)
	}
}

// BranchInventoryResult is the settled outcome of one branch
type BranchInventoryResult struct {
	BranchID   uuid.UUID `json:"branchId"`
	ExternalID string    `json:"externalId"`
	Name       string    `json:"name"`
	Updated    int       `json:"updated"`
	Zeroed     int       `json:"zeroed"`
	Error      string    `json:"error,omitempty"`
}

// InventorySyncResult aggregates every branch of one inventory sync
type InventorySyncResult struct {
	Mode           InventoryMode           `json:"mode"`
	Branches       int                     `json:"branches"`
	FailedBranches int                     `json:"failedBranches"`
	Updated        int                     `json:"updated"`
	Zeroed         int                     `json:"zeroed"`
	Results        []BranchInventoryResult `json:"results"`
}

// InventoryReconciliationEngine maps POS stock leftovers onto local products
// through their ingredient id and upserts per-branch stock rows.
type InventoryReconciliationEngine struct {
	pos           clients.POSClient
	branchRepo    *repository.BranchRepository
	catalogRepo   *repository.CatalogRepository
	inventoryRepo *repository.InventoryRepository
	workers       int
	logger        *logrus.Entry
	now           func() time.Time
}

// NewInventoryReconciliationEngine creates a new inventory engine. workers
// bounds how many branches are fetched from the POS at once.
func NewInventoryReconciliationEngine(
	pos clients.POSClient,
	branchRepo *repository.BranchRepository,
	catalogRepo *repository.CatalogRepository,
	inventoryRepo *repository.InventoryRepository,
	workers int,
	logger *logrus.Logger,
) *InventoryReconciliationEngine {
	if workers < 1 {
		workers = 1
	}
	return &InventoryReconciliationEngine{
		pos:           pos,
		branchRepo:    branchRepo,
		catalogRepo:   catalogRepo,
		inventoryRepo: inventoryRepo,
		workers:       workers,
		logger:        logger.WithField("component", "inventory_reconciliation"),
		now:           time.Now,
	}
}

// SyncAll reconciles every active branch. A branch failure is recorded in its
// result and does not stop the others; the sync only fails when every branch did.
func (e *InventoryReconciliationEngine) SyncAll(ctx context.Context, mode InventoryMode) (*InventorySyncResult, error) {
	branches, err := e.branchRepo.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load branches: %w", err)
	}
	products, err := e.stockProducts(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]BranchInventoryResult, len(branches))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range branches {
		i, branch := i, branches[i]
		g.Go(func() error {
			res, err := e.syncBranch(ctx, branch, products, mode)
			if err != nil {
				res.Error = err.Error()
				e.logger.WithError(err).WithFields(logrus.Fields{
					"branch_id":  branch.ID,
					"storage_id": branch.ExternalID,
				}).Warn("Branch inventory sync failed")
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	summary := &InventorySyncResult{Mode: mode, Branches: len(branches), Results: results}
	for _, res := range results {
		if res.Error != "" {
			summary.FailedBranches++
			continue
		}
		summary.Updated += res.Updated
		summary.Zeroed += res.Zeroed
	}

	e.logger.WithFields(logrus.Fields{
		"mode":            mode,
		"branches":        summary.Branches,
		"failed_branches": summary.FailedBranches,
		"updated":         summary.Updated,
		"zeroed":          summary.Zeroed,
	}).Info("Inventory synced")

	if summary.Branches > 0 && summary.FailedBranches == summary.Branches {
		return summary, fmt.Errorf("inventory sync failed for all %d branches", summary.Branches)
	}
	return summary, nil
}

// ActiveBranch resolves a branch the inventory can be reconciled for.
// Unknown and inactive branches both yield repository.ErrNotFound.
func (e *InventoryReconciliationEngine) ActiveBranch(ctx context.Context, id uuid.UUID) (*models.Branch, error) {
	branch, err := e.branchRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !branch.IsActive {
		return nil, fmt.Errorf("%w: branch %s is inactive", repository.ErrNotFound, branch.ExternalID)
	}
	return branch, nil
}

// SyncBranch reconciles a single branch
func (e *InventoryReconciliationEngine) SyncBranch(ctx context.Context, branch models.Branch, mode InventoryMode) (BranchInventoryResult, error) {
	products, err := e.stockProducts(ctx)
	if err != nil {
		return BranchInventoryResult{BranchID: branch.ID, ExternalID: branch.ExternalID, Name: branch.Name}, err
	}
	return e.syncBranch(ctx, branch, products, mode)
}

// stockProducts lists active products that carry their own stock. Bundles are
// stocked through their components.
func (e *InventoryReconciliationEngine) stockProducts(ctx context.Context) ([]models.Product, error) {
	active, err := e.catalogRepo.ListActiveProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	products := active[:0]
	for _, p := range active {
		if !p.IsBundle() {
			products = append(products, p)
		}
	}
	return products, nil
}

type stockLevel struct {
	quantity decimal.Decimal
	unit     string
}

func (e *InventoryReconciliationEngine) syncBranch(ctx context.Context, branch models.Branch, products []models.Product, mode InventoryMode) (BranchInventoryResult, error) {
	res := BranchInventoryResult{BranchID: branch.ID, ExternalID: branch.ExternalID, Name: branch.Name}

	leftovers, err := e.pos.GetStorageLeftovers(ctx, branch.ExternalID)
	if err != nil {
		return res, fmt.Errorf("failed to fetch leftovers for storage %s: %w", branch.ExternalID, err)
	}

	levels := make(map[string]stockLevel, len(leftovers))
	for _, l := range leftovers {
		id := NormalizeExternalRef(l.IngredientID)
		if id == "" {
			continue
		}
		level := levels[id]
		level.quantity = level.quantity.Add(l.Quantity)
		if level.unit == "" {
			level.unit = l.Unit
		}
		levels[id] = level
	}

	now := e.now()
	rows := make([]models.ProductInventory, 0, len(products))
	for _, p := range products {
		level, matched := levels[stringValue(p.IngredientID)]
		if p.IngredientID == nil || !matched {
			if mode != InventoryModeFull {
				continue
			}
			rows = append(rows, models.ProductInventory{
				ProductID:    p.ID,
				BranchID:     branch.ID,
				Quantity:     decimal.Zero,
				Unit:         productUnit(p),
				LastSyncedAt: now,
			})
			res.Zeroed++
			continue
		}
		rows = append(rows, models.ProductInventory{
			ProductID:    p.ID,
			BranchID:     branch.ID,
			Quantity:     level.quantity,
			Unit:         level.unit,
			LastSyncedAt: now,
		})
		res.Updated++
	}

	if err := e.inventoryRepo.Upsert(ctx, rows); err != nil {
		res.Updated, res.Zeroed = 0, 0
		return res, fmt.Errorf("failed to store inventory for branch %s: %w", branch.ExternalID, err)
	}
	return res, nil
}

func productUnit(p models.Product) string {
	if unit, ok := p.Attributes["ingredient_unit"].(string); ok {
		return unit
	}
	return ""
}
