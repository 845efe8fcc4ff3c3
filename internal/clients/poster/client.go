package poster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"pos-sync-service/internal/clients"
)

const (
	defaultBaseURL = "https://joinposter.com/api"

	// Cap on response bodies read from the POS
	maxResponseSize = 32 << 20
)

// Config configures the POS API client
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RateLimit  int // requests per second
	MaxRetries int
}

// Client implements clients.POSClient for the Poster API
type Client struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	rateLimiter *rate.Limiter
	retrier     *clients.Retrier
	breaker     *clients.CircuitBreaker
	logger      *logrus.Entry
}

var _ clients.POSClient = (*Client)(nil)

// NewClient creates a new Poster API client
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		retrier:     clients.NewRetrier(clients.DefaultRetryConfig(cfg.MaxRetries)),
		breaker:     clients.NewCircuitBreaker(5, 30*time.Second),
		logger:      logger.WithField("component", "poster_client"),
	}
}

// GetStorages fetches every storage (branch) of the account
func (c *Client) GetStorages(ctx context.Context) ([]clients.POSStorage, error) {
	var storages []posterStorage
	if err := c.get(ctx, "storage.getStorages", nil, &storages); err != nil {
		return nil, err
	}

	out := make([]clients.POSStorage, 0, len(storages))
	for _, s := range storages {
		out = append(out, clients.POSStorage{
			ID:      string(s.StorageID),
			Name:    strings.TrimSpace(string(s.StorageName)),
			Address: strings.TrimSpace(string(s.StorageAddress)),
			Deleted: s.Delete == "1",
		})
	}
	return out, nil
}

// GetCategories fetches every menu category
func (c *Client) GetCategories(ctx context.Context) ([]clients.POSCategory, error) {
	var categories []posterCategory
	if err := c.get(ctx, "menu.getCategories", nil, &categories); err != nil {
		return nil, err
	}

	out := make([]clients.POSCategory, 0, len(categories))
	for _, cat := range categories {
		sortOrder, _ := strconv.Atoi(string(cat.SortOrder))
		out = append(out, clients.POSCategory{
			ID:        string(cat.CategoryID),
			Name:      strings.TrimSpace(string(cat.CategoryName)),
			ParentID:  string(cat.ParentCategory),
			SortOrder: sortOrder,
			Hidden:    cat.CategoryHidden == "1",
		})
	}
	return out, nil
}

// GetProducts fetches every menu product
func (c *Client) GetProducts(ctx context.Context) ([]clients.POSProduct, error) {
	var products []posterProduct
	if err := c.get(ctx, "menu.getProducts", nil, &products); err != nil {
		return nil, err
	}

	out := make([]clients.POSProduct, 0, len(products))
	for _, p := range products {
		photo := string(p.PhotoOrigin)
		if photo == "" {
			photo = string(p.Photo)
		}
		out = append(out, clients.POSProduct{
			ID:             string(p.ProductID),
			Name:           strings.TrimSpace(string(p.ProductName)),
			CategoryID:     string(p.MenuCategoryID),
			Price:          p.Price,
			Hidden:         p.Hidden == "1",
			PhotoPath:      photo,
			IngredientID:   string(p.IngredientID),
			IngredientUnit: string(p.IngredientUnit),
			Flags: map[string]string{
				"hidden":      string(p.Hidden),
				"weight_flag": string(p.WeightFlag),
				"type":        string(p.Type),
			},
		})
	}
	return out, nil
}

// GetStorageLeftovers fetches ingredient stock for one storage
func (c *Client) GetStorageLeftovers(ctx context.Context, storageID string) ([]clients.POSLeftover, error) {
	params := url.Values{}
	params.Set("storage_id", storageID)

	var leftovers []posterLeftover
	if err := c.get(ctx, "storage.getStorageLeftovers", params, &leftovers); err != nil {
		return nil, err
	}

	out := make([]clients.POSLeftover, 0, len(leftovers))
	for _, l := range leftovers {
		qty, err := decimal.NewFromString(string(l.StorageIngredientLeft))
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"storage_id":    storageID,
				"ingredient_id": string(l.IngredientID),
				"value":         string(l.StorageIngredientLeft),
			}).Warn("Unparseable leftover quantity, treating as zero")
			qty = decimal.Zero
		}
		out = append(out, clients.POSLeftover{
			IngredientID: string(l.IngredientID),
			Name:         string(l.IngredientName),
			Quantity:     qty,
			Unit:         string(l.IngredientUnit),
		})
	}
	return out, nil
}

// CreateIncomingOrder submits an online order. It is never retried: a timeout
// does not prove the POS rejected the order.
func (c *Client) CreateIncomingOrder(ctx context.Context, order *clients.POSIncomingOrder) (*clients.POSIncomingOrderResult, error) {
	req := posterIncomingOrderRequest{
		SpotID:      json.Number(order.SpotID),
		FirstName:   order.FirstName,
		Phone:       order.Phone,
		Comment:     order.Comment,
		ServiceMode: int(order.ServiceMode),
	}
	if order.Address != "" {
		req.ClientAddress = &posterAddress{Address1: order.Address}
	}
	for _, line := range order.Products {
		req.Products = append(req.Products, posterOrderProduct{
			ProductID: json.Number(line.ProductID),
			Count:     json.Number(line.Count.String()),
		})
	}

	var resp posterIncomingOrderResponse
	if err := c.do(ctx, http.MethodPost, "incomingOrders.createIncomingOrder", nil, req, false, &resp); err != nil {
		return nil, err
	}
	if resp.IncomingOrderID == "" || resp.IncomingOrderID == "0" {
		return nil, fmt.Errorf("pos accepted incoming order without an id")
	}

	status, _ := strconv.Atoi(string(resp.Status))
	return &clients.POSIncomingOrderResult{
		IncomingOrderID: string(resp.IncomingOrderID),
		Status:          status,
	}, nil
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, method, params, nil, true, out)
}

// do performs one POS API call and decodes the response payload into out
func (c *Client) do(ctx context.Context, httpMethod, apiMethod string, params url.Values, body interface{}, retry bool, out interface{}) error {
	if !c.breaker.Allow() {
		return clients.ErrCircuitOpen
	}

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	query.Set("token", c.token)
	fullURL := c.baseURL + "/" + apiMethod + "?" + query.Encode()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode %s request: %w", apiMethod, err)
		}
	}

	attempt := func(ctx context.Context) (*http.Response, error) {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, httpMethod, fullURL, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.httpClient.Do(req)
	}

	var (
		resp *http.Response
		err  error
	)
	if retry {
		var result *clients.RetryResult
		resp, result = c.retrier.DoHTTP(ctx, attempt)
		err = result.LastError
		if result.Attempts > 1 {
			c.logger.WithFields(logrus.Fields{
				"method":   apiMethod,
				"attempts": result.Attempts,
				"duration": result.TotalDuration.String(),
			}).Info("POS call retried")
		}
	} else {
		resp, err = attempt(ctx)
	}
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("pos %s request failed: %w", apiMethod, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("failed to read pos %s response: %w", apiMethod, err)
	}

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
	if resp.StatusCode >= 400 {
		return &clients.HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to parse pos %s response: %w", apiMethod, err)
	}
	if apiErr := env.apiError(); apiErr != nil {
		return apiErr
	}
	if out == nil || len(env.Response) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("failed to decode pos %s payload: %w", apiMethod, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
