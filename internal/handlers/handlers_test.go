package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pos-sync-service/internal/cache"
	"pos-sync-service/internal/clients"
	"pos-sync-service/internal/database"
	"pos-sync-service/internal/models"
	"pos-sync-service/internal/repository"
	"pos-sync-service/internal/services"
)

type mockPOS struct {
	mock.Mock
}

func (m *mockPOS) GetStorages(ctx context.Context) ([]clients.POSStorage, error) {
	args := m.Called(ctx)
	return args.Get(0).([]clients.POSStorage), args.Error(1)
}

func (m *mockPOS) GetCategories(ctx context.Context) ([]clients.POSCategory, error) {
	args := m.Called(ctx)
	return args.Get(0).([]clients.POSCategory), args.Error(1)
}

func (m *mockPOS) GetProducts(ctx context.Context) ([]clients.POSProduct, error) {
	args := m.Called(ctx)
	return args.Get(0).([]clients.POSProduct), args.Error(1)
}

func (m *mockPOS) GetStorageLeftovers(ctx context.Context, storageID string) ([]clients.POSLeftover, error) {
	args := m.Called(ctx, storageID)
	return args.Get(0).([]clients.POSLeftover), args.Error(1)
}

func (m *mockPOS) CreateIncomingOrder(ctx context.Context, order *clients.POSIncomingOrder) (*clients.POSIncomingOrderResult, error) {
	args := m.Called(ctx, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*clients.POSIncomingOrderResult), args.Error(1)
}

type testEnv struct {
	db     *gorm.DB
	pos    *mockPOS
	guard  *services.LocalRunGuard
	router *gin.Engine
	branch *models.Branch
	beer   *models.Product
	loose  *models.Product
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	log := logrus.New()
	log.SetOutput(io.Discard)

	env := &testEnv{db: db, pos: &mockPOS{}, guard: services.NewLocalRunGuard()}

	branchRepo := repository.NewBranchRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	syncRepo := repository.NewSyncRepository(db)

	syncService := services.NewSyncService(
		services.NewSyncRunTracker(syncRepo, log),
		env.guard,
		services.NewCatalogMergeEngine(env.pos, branchRepo, catalogRepo, "", log),
		services.NewInventoryReconciliationEngine(env.pos, branchRepo, catalogRepo, inventoryRepo, 2, log),
		syncRepo,
		services.SyncServiceConfig{Timeout: time.Minute},
		log,
	)
	dispatcher := services.NewOrderDispatchEngine(env.pos, orderRepo, catalogRepo, branchRepo, time.Second, log)
	orderService := services.NewOrderService(orderRepo, catalogRepo, branchRepo, nil, decimal.Zero, log)
	verification := services.NewVerificationService(cache.NewMemoryCodeStore(), time.Minute, 3, log)

	syncHandler := NewSyncHandler(syncService)
	orderHandler := NewOrderHandler(orderService, dispatcher)
	authHandler := NewAuthHandler(verification, true)
	catalogHandler := NewCatalogHandler(branchRepo, catalogRepo, inventoryRepo)
	healthHandler := NewHealthHandler(db)

	r := gin.New()
	r.GET("/ready", healthHandler.Ready)
	v1 := r.Group("/api/v1")
	v1.POST("/sync/full", syncHandler.RunFullSync)
	v1.POST("/sync/products", syncHandler.RunProductsSync)
	v1.POST("/sync/inventory", syncHandler.RunInventorySync)
	v1.POST("/sync/inventory/branches/:id", syncHandler.RunBranchInventorySync)
	v1.GET("/sync/runs", syncHandler.ListRuns)
	v1.GET("/sync/runs/:id", syncHandler.GetRun)
	v1.GET("/sync/stats", syncHandler.GetStats)
	v1.POST("/orders", orderHandler.PlaceOrder)
	v1.GET("/orders/:id", orderHandler.GetOrder)
	v1.POST("/orders/:id/dispatch", orderHandler.DispatchOrder)
	v1.POST("/auth/codes", authHandler.IssueCode)
	v1.POST("/auth/codes/verify", authHandler.VerifyCode)
	v1.GET("/categories", catalogHandler.ListCategories)
	v1.GET("/products", catalogHandler.ListProducts)
	v1.GET("/products/:id", catalogHandler.GetProduct)
	v1.GET("/branches/:id/inventory", catalogHandler.GetBranchInventory)
	env.router = r

	ctx := context.Background()
	external := "A1"
	env.branch = &models.Branch{ExternalID: "1", Name: "Центр", IsActive: true, PickupAvailable: true}
	require.NoError(t, branchRepo.Create(ctx, env.branch))
	env.beer = &models.Product{ExternalID: &external, Name: "Пиво Lager", Price: decimal.NewFromInt(90), IsActive: true}
	env.loose = &models.Product{Name: "Пакет", Price: decimal.NewFromInt(2), IsActive: true}
	require.NoError(t, catalogRepo.CreateProduct(ctx, env.beer))
	require.NoError(t, catalogRepo.CreateProduct(ctx, env.loose))

	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func runStatus(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	run, ok := data["run"].(map[string]interface{})
	require.True(t, ok)
	return run["status"].(string)
}

func TestSyncHandler_FullSync(t *testing.T) {
	env := setupEnv(t)
	env.pos.On("GetStorages", mock.Anything).Return([]clients.POSStorage{}, nil)
	env.pos.On("GetCategories", mock.Anything).Return([]clients.POSCategory{}, nil)
	env.pos.On("GetProducts", mock.Anything).Return([]clients.POSProduct{}, nil)

	w, body := env.do(t, http.MethodPost, "/api/v1/sync/full", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(models.SyncStatusCompleted), runStatus(t, body))
	env.pos.AssertExpectations(t)

	w, body = env.do(t, http.MethodGet, "/api/v1/sync/runs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])

	w, _ = env.do(t, http.MethodGet, "/api/v1/sync/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSyncHandler_FailedRunIsBadGateway(t *testing.T) {
	env := setupEnv(t)
	env.pos.On("GetProducts", mock.Anything).Return([]clients.POSProduct{}, errors.New("dial tcp: i/o timeout"))

	w, body := env.do(t, http.MethodPost, "/api/v1/sync/products", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(models.SyncStatusFailed), runStatus(t, body))
	assert.Contains(t, body["error"], "i/o timeout")
}

func TestSyncHandler_Conflict(t *testing.T) {
	env := setupEnv(t)
	release, ok, err := env.guard.TryAcquire(context.Background(), services.GuardKeyFor(models.SyncKindProducts))
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	w, _ := env.do(t, http.MethodPost, "/api/v1/sync/products", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	env.pos.AssertNotCalled(t, "GetProducts", mock.Anything)
}

func TestSyncHandler_InventoryMode(t *testing.T) {
	env := setupEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/sync/inventory?mode=partial", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.pos.On("GetStorageLeftovers", mock.Anything, "1").Return([]clients.POSLeftover{
		{IngredientID: "999", Quantity: decimal.NewFromInt(4), Unit: "pcs"},
	}, nil)
	w, body := env.do(t, http.MethodPost, "/api/v1/sync/inventory?mode=quick", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(models.SyncStatusCompleted), runStatus(t, body))

	w, body = env.do(t, http.MethodGet, "/api/v1/branches/"+env.branch.ID.String()+"/inventory", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["total"])
}

func TestSyncHandler_GetRun(t *testing.T) {
	env := setupEnv(t)

	w, _ := env.do(t, http.MethodGet, "/api/v1/sync/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/v1/sync/runs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrderHandler_PlaceAndDispatch(t *testing.T) {
	env := setupEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/orders", services.PlaceOrderRequest{
		BranchID:        env.branch.ID,
		FulfillmentMode: models.FulfillmentDelivery,
		CustomerPhone:   "+380501112233",
		Items:           []services.PlaceOrderItem{{ProductID: env.beer.ID, Quantity: 1}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, body := env.do(t, http.MethodPost, "/api/v1/orders", services.PlaceOrderRequest{
		BranchID:        env.branch.ID,
		FulfillmentMode: models.FulfillmentPickup,
		CustomerPhone:   "+380501112233",
		Items:           []services.PlaceOrderItem{{ProductID: env.beer.ID, Quantity: 2}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	order := body["data"].(map[string]interface{})
	orderID := order["id"].(string)
	assert.Equal(t, string(models.OrderStatusPending), order["status"])

	env.pos.On("CreateIncomingOrder", mock.Anything, mock.Anything).
		Return(&clients.POSIncomingOrderResult{IncomingOrderID: "555"}, nil).Once()

	w, body = env.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/dispatch", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	result := body["data"].(map[string]interface{})
	assert.Equal(t, "555", result["posOrderId"])

	w, body = env.do(t, http.MethodGet, "/api/v1/orders/"+orderID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(models.OrderStatusConfirmed), body["data"].(map[string]interface{})["status"])

	env.pos.AssertNumberOfCalls(t, "CreateIncomingOrder", 1)
}

func TestOrderHandler_DispatchErrors(t *testing.T) {
	env := setupEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/orders/"+uuid.NewString()+"/dispatch", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, body := env.do(t, http.MethodPost, "/api/v1/orders", services.PlaceOrderRequest{
		BranchID:        env.branch.ID,
		FulfillmentMode: models.FulfillmentPickup,
		CustomerPhone:   "+380501112233",
		Items:           []services.PlaceOrderItem{{ProductID: env.loose.ID, Quantity: 1}},
	})
	looseOrder := body["data"].(map[string]interface{})["id"].(string)
	w, _ = env.do(t, http.MethodPost, "/api/v1/orders/"+looseOrder+"/dispatch", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	_, body = env.do(t, http.MethodPost, "/api/v1/orders", services.PlaceOrderRequest{
		BranchID:        env.branch.ID,
		FulfillmentMode: models.FulfillmentPickup,
		CustomerPhone:   "+380501112233",
		Items:           []services.PlaceOrderItem{{ProductID: env.beer.ID, Quantity: 1}},
	})
	beerOrder := body["data"].(map[string]interface{})["id"].(string)
	env.pos.On("CreateIncomingOrder", mock.Anything, mock.Anything).
		Return(nil, &clients.HTTPError{StatusCode: 503, Body: "maintenance"}).Once()
	w, _ = env.do(t, http.MethodPost, "/api/v1/orders/"+beerOrder+"/dispatch", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w, body = env.do(t, http.MethodGet, "/api/v1/orders/"+beerOrder, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(models.OrderStatusPending), body["data"].(map[string]interface{})["status"])
}

func (e *testEnv) placeBeerOrder(t *testing.T) string {
	t.Helper()
	w, body := e.do(t, http.MethodPost, "/api/v1/orders", services.PlaceOrderRequest{
		BranchID:        e.branch.ID,
		FulfillmentMode: models.FulfillmentPickup,
		CustomerPhone:   "+380501112233",
		Items:           []services.PlaceOrderItem{{ProductID: e.beer.ID, Quantity: 1}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	return body["data"].(map[string]interface{})["id"].(string)
}

func TestOrderHandler_DispatchCancelledOrder(t *testing.T) {
	env := setupEnv(t)
	orderID := env.placeBeerOrder(t)
	require.NoError(t, env.db.Model(&models.Order{}).Where("id = ?", orderID).
		Update("status", models.OrderStatusCancelled).Error)

	w, _ := env.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/dispatch", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	env.pos.AssertNotCalled(t, "CreateIncomingOrder", mock.Anything, mock.Anything)
}

func TestOrderHandler_DispatchSurvivesClientDisconnect(t *testing.T) {
	env := setupEnv(t)
	orderID := env.placeBeerOrder(t)

	env.pos.On("CreateIncomingOrder", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(&clients.POSIncomingOrderResult{IncomingOrderID: "556"}, nil).Once()

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID+"/dispatch", nil).WithContext(reqCtx)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	_, body := env.do(t, http.MethodGet, "/api/v1/orders/"+orderID, nil)
	assert.Equal(t, "556", body["data"].(map[string]interface{})["posOrderId"])
	env.pos.AssertExpectations(t)
}

func TestAuthHandler_CodeFlow(t *testing.T) {
	env := setupEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/auth/codes", map[string]string{"phone": "+380501112233"})
	require.Equal(t, http.StatusAccepted, w.Code)
	code := body["code"].(string)
	require.Len(t, code, 6)

	w, _ = env.do(t, http.MethodPost, "/api/v1/auth/codes/verify", map[string]string{"phone": "+380501112233"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/v1/auth/codes/verify", map[string]string{"phone": "+380501112233", "code": code})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/v1/auth/codes/verify", map[string]string{"phone": "+380501112233", "code": code})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCatalogHandler_ListProducts(t *testing.T) {
	env := setupEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/v1/products?limit=1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["total"])
	assert.Len(t, body["data"], 1)
}

func TestCatalogHandler_HiddenEntriesStayOffStorefront(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	catalogRepo := repository.NewCatalogRepository(env.db)
	require.NoError(t, catalogRepo.CreateCategory(ctx, &models.Category{ExternalID: "1", Name: "Пиво", IsActive: true}))
	require.NoError(t, catalogRepo.CreateCategory(ctx, &models.Category{ExternalID: "2", Name: "Архів", IsActive: false}))
	require.NoError(t, env.db.Model(env.loose).Update("is_active", false).Error)

	w, body := env.do(t, http.MethodGet, "/api/v1/products", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])

	_, body = env.do(t, http.MethodGet, "/api/v1/products?all=true", nil)
	assert.Equal(t, float64(2), body["total"])

	w, _ = env.do(t, http.MethodGet, "/api/v1/products/"+env.loose.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = env.do(t, http.MethodGet, "/api/v1/products/"+env.loose.ID.String()+"?all=true", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	_, body = env.do(t, http.MethodGet, "/api/v1/categories", nil)
	assert.Equal(t, float64(1), body["total"])
	_, body = env.do(t, http.MethodGet, "/api/v1/categories?all=true", nil)
	assert.Equal(t, float64(2), body["total"])
}

func TestSyncHandler_BranchInventorySync(t *testing.T) {
	env := setupEnv(t)
	env.pos.On("GetStorageLeftovers", mock.Anything, "1").Return([]clients.POSLeftover{}, nil).Once()

	w, body := env.do(t, http.MethodPost, "/api/v1/sync/inventory/branches/"+env.branch.ID.String()+"?mode=quick", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(models.SyncStatusCompleted), runStatus(t, body))

	w, _ = env.do(t, http.MethodPost, "/api/v1/sync/inventory/branches/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/v1/sync/inventory/branches/nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env.pos.AssertExpectations(t)
}

func TestHealthHandler_Ready(t *testing.T) {
	env := setupEnv(t)
	w, body := env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])
}
