package poster

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-service/internal/clients"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClient(Config{
		BaseURL:    server.URL,
		Token:      "secret-token",
		RateLimit:  1000,
		MaxRetries: 0,
	}, logger)
}

func TestClient_GetStorages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage.getStorages", r.URL.Path)
		assert.Equal(t, "secret-token", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`{"response":[
			{"storage_id":"1","storage_name":" Центральний ","storage_adress":"вул. Шевченка, 1","delete":"0"},
			{"storage_id":2,"storage_name":"Old","storage_adress":null,"delete":"1"}
		]}`))
	})

	storages, err := client.GetStorages(context.Background())
	require.NoError(t, err)
	require.Len(t, storages, 2)

	assert.Equal(t, clients.POSStorage{ID: "1", Name: "Центральний", Address: "вул. Шевченка, 1"}, storages[0])
	assert.Equal(t, "2", storages[1].ID)
	assert.True(t, storages[1].Deleted)
}

func TestClient_GetProducts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/menu.getProducts", r.URL.Path)
		_, _ = w.Write([]byte(`{"response":[{
			"product_id":"10","product_name":"Пиво Lager","menu_category_id":"3",
			"price":{"1":"12500"},"hidden":"0","photo":"/upload/s.jpg","photo_origin":"/upload/o.jpg",
			"ingredient_id":"55","ingredient_unit":"kg","weight_flag":"1","type":2
		}]}`))
	})

	products, err := client.GetProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)

	p := products[0]
	assert.Equal(t, "10", p.ID)
	assert.Equal(t, "3", p.CategoryID)
	assert.JSONEq(t, `{"1":"12500"}`, string(p.Price))
	assert.False(t, p.Hidden)
	assert.Equal(t, "/upload/o.jpg", p.PhotoPath)
	assert.Equal(t, "55", p.IngredientID)
	assert.Equal(t, "kg", p.IngredientUnit)
	assert.Equal(t, "2", p.Flags["type"])
}

func TestClient_GetStorageLeftovers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("storage_id"))
		_, _ = w.Write([]byte(`{"response":[
			{"ingredient_id":"55","ingredient_name":"Сир","storage_ingredient_left":"12.750","ingredient_unit":"kg"},
			{"ingredient_id":"56","ingredient_name":"Broken","storage_ingredient_left":"n/a","ingredient_unit":"p"}
		]}`))
	})

	leftovers, err := client.GetStorageLeftovers(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, leftovers, 2)

	assert.True(t, decimal.RequireFromString("12.75").Equal(leftovers[0].Quantity))
	assert.Equal(t, "kg", leftovers[0].Unit)
	assert.True(t, leftovers[1].Quantity.IsZero())
}

func TestClient_APIErrorEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		code    int
		message string
	}{
		{"object", `{"error":{"code":10,"message":"Invalid token"}}`, 10, "Invalid token"},
		{"numeric", `{"error":32,"message":"Access denied"}`, 32, "Access denied"},
		{"string", `{"error":"Something broke"}`, 0, "Something broke"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.GetCategories(context.Background())
			var apiErr *clients.APIError
			require.True(t, errors.As(err, &apiErr), "got %v", err)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestClient_HTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})

	_, err := client.GetStorages(context.Background())
	var httpErr *clients.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "upstream down", httpErr.Body)
}

func TestClient_CreateIncomingOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/incomingOrders.createIncomingOrder", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(1), body["spot_id"])
		assert.Equal(t, float64(3), body["service_mode"])
		assert.Equal(t, "+380501234567", body["phone"])
		assert.Equal(t, map[string]interface{}{"address1": "вул. Лесі Українки, 5"}, body["client_address"])

		products := body["products"].([]interface{})
		require.Len(t, products, 2)
		assert.Equal(t, map[string]interface{}{"product_id": float64(10), "count": float64(150)}, products[0])

		_, _ = w.Write([]byte(`{"response":{"incoming_order_id":901,"status":0}}`))
	})

	result, err := client.CreateIncomingOrder(context.Background(), &clients.POSIncomingOrder{
		SpotID:      "1",
		Phone:       "+380501234567",
		Address:     "вул. Лесі Українки, 5",
		ServiceMode: clients.ServiceModeDelivery,
		Products: []clients.POSOrderLine{
			{ProductID: "10", Count: decimal.NewFromInt(150)},
			{ProductID: "11", Count: decimal.NewFromInt(2)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "901", result.IncomingOrderID)
}

func TestClient_CreateIncomingOrderIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	client := NewClient(Config{BaseURL: server.URL, RateLimit: 1000, MaxRetries: 3}, logger)

	_, err := client.CreateIncomingOrder(context.Background(), &clients.POSIncomingOrder{
		SpotID:   "1",
		Products: []clients.POSOrderLine{{ProductID: "10", Count: decimal.NewFromInt(1)}},
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_CircuitOpensAfterServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 5; i++ {
		_, err := client.GetStorages(context.Background())
		require.Error(t, err)
	}

	_, err := client.GetStorages(context.Background())
	assert.ErrorIs(t, err, clients.ErrCircuitOpen)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}
