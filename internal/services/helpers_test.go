package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pos-sync-service/internal/clients"
	"pos-sync-service/internal/database"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func rawPrice(s string) json.RawMessage { return json.RawMessage(s) }

// fakePOS serves fixed catalog and stock data
type fakePOS struct {
	mu           sync.Mutex
	storages     []clients.POSStorage
	categories   []clients.POSCategory
	products     []clients.POSProduct
	leftovers    map[string][]clients.POSLeftover
	leftoverErrs map[string]error
	productsErr  error
	calls        map[string]int
}

var _ clients.POSClient = (*fakePOS)(nil)

func (f *fakePOS) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakePOS) GetStorages(ctx context.Context) ([]clients.POSStorage, error) {
	f.count("storages")
	return f.storages, nil
}

func (f *fakePOS) GetCategories(ctx context.Context) ([]clients.POSCategory, error) {
	f.count("categories")
	return f.categories, nil
}

func (f *fakePOS) GetProducts(ctx context.Context) ([]clients.POSProduct, error) {
	f.count("products")
	if f.productsErr != nil {
		return nil, f.productsErr
	}
	return f.products, nil
}

func (f *fakePOS) GetStorageLeftovers(ctx context.Context, storageID string) ([]clients.POSLeftover, error) {
	f.count("leftovers")
	if err := f.leftoverErrs[storageID]; err != nil {
		return nil, err
	}
	return f.leftovers[storageID], nil
}

func (f *fakePOS) CreateIncomingOrder(ctx context.Context, order *clients.POSIncomingOrder) (*clients.POSIncomingOrderResult, error) {
	return nil, errors.New("not supported by fake")
}

// MockPOSClient is a mock implementation of clients.POSClient
type MockPOSClient struct {
	mock.Mock
}

var _ clients.POSClient = (*MockPOSClient)(nil)

func (m *MockPOSClient) GetStorages(ctx context.Context) ([]clients.POSStorage, error) {
	args := m.Called(ctx)
	return args.Get(0).([]clients.POSStorage), args.Error(1)
}

func (m *MockPOSClient) GetCategories(ctx context.Context) ([]clients.POSCategory, error) {
	args := m.Called(ctx)
	return args.Get(0).([]clients.POSCategory), args.Error(1)
}

func (m *MockPOSClient) GetProducts(ctx context.Context) ([]clients.POSProduct, error) {
	args := m.Called(ctx)
	return args.Get(0).([]clients.POSProduct), args.Error(1)
}

func (m *MockPOSClient) GetStorageLeftovers(ctx context.Context, storageID string) ([]clients.POSLeftover, error) {
	args := m.Called(ctx, storageID)
	return args.Get(0).([]clients.POSLeftover), args.Error(1)
}

func (m *MockPOSClient) CreateIncomingOrder(ctx context.Context, order *clients.POSIncomingOrder) (*clients.POSIncomingOrderResult, error) {
	args := m.Called(ctx, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*clients.POSIncomingOrderResult), args.Error(1)
}
