package inventory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tagtrace/tagtrace-core/internal/infrastructure/config"
)

// ErrProductNotFound indicates the catalog has no such product.
var ErrProductNotFound = errors.New("inventory: product not found")

// Product is a catalog entry as the reconciliation engine sees it.
type Product struct {
	ID       string `json:"id"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Catalog is the product catalog the store reconciles against.
type Catalog interface {
	ProductExists(ctx context.Context, storeID, productID string) (bool, error)
	GetProduct(ctx context.Context, storeID, productID string) (*Product, error)
	GetProductBySKU(ctx context.Context, storeID, sku string) (*Product, error)
	SetQuantity(ctx context.Context, storeID, productID string, quantity int) error
}

// HTTPCatalog talks to the retailer's catalog service.
type HTTPCatalog struct {
	client *resty.Client
}

// NewHTTPCatalog creates a catalog client from configuration.
func NewHTTPCatalog(cfg config.CatalogConfig) *HTTPCatalog {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(time.Duration(cfg.Timeout) * time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &HTTPCatalog{client: client}
}

// GetProduct fetches one product by ID.
func (c *HTTPCatalog) GetProduct(ctx context.Context, storeID, productID string) (*Product, error) {
	var product Product
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"store": storeID, "product": productID}).
		SetResult(&product).
		Get("/api/stores/{store}/products/{product}")
	if err != nil {
		return nil, fmt.Errorf("fetching product %s: %w", productID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrProductNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("catalog returned %s for product %s", resp.Status(), productID)
	}
	return &product, nil
}

// GetProductBySKU fetches one product by SKU.
func (c *HTTPCatalog) GetProductBySKU(ctx context.Context, storeID, sku string) (*Product, error) {
	var products []Product
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("store", storeID).
		SetQueryParam("sku", sku).
		SetResult(&products).
		Get("/api/stores/{store}/products")
	if err != nil {
		return nil, fmt.Errorf("fetching product by sku %s: %w", sku, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("catalog returned %s for sku %s", resp.Status(), sku)
	}
	if len(products) == 0 {
		return nil, ErrProductNotFound
	}
	return &products[0], nil
}

// ProductExists reports whether the product is in the catalog. Satisfies
// the registry's product check for tag issuance.
func (c *HTTPCatalog) ProductExists(ctx context.Context, storeID, productID string) (bool, error) {
	_, err := c.GetProduct(ctx, storeID, productID)
	if errors.Is(err, ErrProductNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetQuantity writes the counted absolute quantity back to the catalog.
func (c *HTTPCatalog) SetQuantity(ctx context.Context, storeID, productID string, quantity int) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"store": storeID, "product": productID}).
		SetBody(map[string]int{"quantity": quantity}).
		Put("/api/stores/{store}/products/{product}/quantity")
	if err != nil {
		return fmt.Errorf("setting quantity for %s: %w", productID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrProductNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("catalog returned %s setting quantity for %s", resp.Status(), productID)
	}
	return nil
}

// MemoryCatalog is an in-process catalog for development and tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]*Product // keyed by product ID
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{products: make(map[string]*Product)}
}

// Add inserts or replaces a product.
func (c *MemoryCatalog) Add(product *Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *product
	c.products[product.ID] = &copied
}

// GetProduct fetches one product by ID.
func (c *MemoryCatalog) GetProduct(_ context.Context, _, productID string) (*Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	product, ok := c.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	copied := *product
	return &copied, nil
}

// GetProductBySKU fetches one product by SKU.
func (c *MemoryCatalog) GetProductBySKU(_ context.Context, _, sku string) (*Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, product := range c.products {
		if product.SKU == sku {
			copied := *product
			return &copied, nil
		}
	}
	return nil, ErrProductNotFound
}

// ProductExists reports whether the product is in the catalog.
func (c *MemoryCatalog) ProductExists(_ context.Context, _, productID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.products[productID]
	return ok, nil
}

// SetQuantity writes the counted absolute quantity.
func (c *MemoryCatalog) SetQuantity(_ context.Context, _, productID string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	product, ok := c.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	product.Quantity = quantity
	return nil
}
