// Package inventory reconciles physical counts against the product
// catalog.
//
// A reconciliation scan arrives from a mobile gateway or a handheld app
// as a list of items, each identified by tag ID, tag serial, or SKU.
// Each item resolves to a catalog product and sets its counted absolute
// quantity; deltas are reported as inventory_update events and the whole
// scan is summarised in one audit entry.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tagtrace/tagtrace-core/internal/audit"
	"github.com/tagtrace/tagtrace-core/internal/event"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/logging"
	"github.com/tagtrace/tagtrace-core/internal/registry"
)

// Resolution says how a scan item was matched to a product.
const (
	ResolvedByTag    = "by_tag"
	ResolvedBySerial = "by_serial"
	ResolvedBySKU    = "by_sku"
	Unresolved       = "unresolved"
)

// ErrEmptyScan indicates a reconciliation request with no items.
var ErrEmptyScan = errors.New("inventory: scan has no items")

// ScanItem is one line of a reconciliation scan. Exactly one of TagID,
// Serial, or SKU identifies the product. Quantity, when present, is the
// counted absolute quantity on the floor; an item without one records a
// sighting and leaves the stock figure alone.
type ScanItem struct {
	TagID    string `json:"tag_id,omitempty"`
	Serial   string `json:"serial,omitempty"`
	SKU      string `json:"sku,omitempty"`
	Quantity *int   `json:"quantity,omitempty"`
}

// ScanRequest is a reconciliation scan.
type ScanRequest struct {
	Items []ScanItem `json:"items"`
	Note  string     `json:"note,omitempty"`
}

// ItemResult reports what happened to one scan item.
type ItemResult struct {
	Index      int    `json:"index"`
	Resolution string `json:"resolution"`
	ProductID  string `json:"product_id,omitempty"`
	Previous   int    `json:"previous"`
	Counted    int    `json:"counted"`
	Changed    bool   `json:"changed"`
	Error      string `json:"error,omitempty"`
}

// ScanResult summarises a processed reconciliation scan.
type ScanResult struct {
	Items      []ItemResult `json:"items"`
	Resolved   int          `json:"resolved"`
	Updated    int          `json:"updated"`
	Unresolved int          `json:"unresolved"`
}

// Service runs reconciliation scans.
type Service struct {
	storeID string
	catalog Catalog
	tags    registry.TagRepository
	events  event.Repository
	audit   audit.Repository
	log     *logging.Logger
}

// NewService creates the reconciliation service.
func NewService(storeID string, catalog Catalog, tags registry.TagRepository,
	events event.Repository, auditRepo audit.Repository, log *logging.Logger,
) *Service {
	return &Service{
		storeID: storeID,
		catalog: catalog,
		tags:    tags,
		events:  events,
		audit:   auditRepo,
		log:     log.With("component", "inventory"),
	}
}

// Scan processes a reconciliation scan. Items are isolated: an
// unresolvable item is reported and skipped without failing the scan.
func (s *Service) Scan(ctx context.Context, actor audit.Actor, req *ScanRequest) (*ScanResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyScan
	}

	result := &ScanResult{Items: make([]ItemResult, 0, len(req.Items))}
	events := []*event.Event{}
	now := time.Now().UTC()

	for i, item := range req.Items {
		itemResult := s.processItem(ctx, i, item, now)
		if itemResult.Resolution == Unresolved {
			result.Unresolved++
		} else {
			result.Resolved++
			if itemResult.Changed {
				result.Updated++
				events = append(events, event.NewInventoryUpdate(s.storeID, itemResult.ProductID, itemResult.Previous, itemResult.Counted))
			}
		}
		result.Items = append(result.Items, itemResult)
	}

	if err := s.events.CreateBatch(ctx, events); err != nil {
		return nil, fmt.Errorf("persisting inventory events: %w", err)
	}

	entry := &audit.Entry{
		StoreID:    s.storeID,
		Actor:      actor,
		Action:     "inventory.scan",
		EntityType: "inventory",
		Note:       req.Note,
		After: map[string]any{
			"items":      len(req.Items),
			"resolved":   result.Resolved,
			"updated":    result.Updated,
			"unresolved": result.Unresolved,
		},
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("writing scan audit entry: %w", err)
	}

	s.log.Info("reconciliation scan processed",
		"items", len(req.Items), "resolved", result.Resolved,
		"updated", result.Updated, "unresolved", result.Unresolved)
	return result, nil
}

// processItem resolves one scan item and applies its count.
func (s *Service) processItem(ctx context.Context, index int, item ScanItem, now time.Time) ItemResult {
	result := ItemResult{Index: index, Resolution: Unresolved}

	productID, resolution, tag, err := s.resolve(ctx, item)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Resolution = resolution
	result.ProductID = productID

	product, err := s.catalog.GetProduct(ctx, s.storeID, productID)
	if err != nil {
		result.Resolution = Unresolved
		result.Error = err.Error()
		return result
	}
	result.Previous = product.Quantity
	result.Counted = product.Quantity

	if item.Quantity != nil {
		result.Counted = *item.Quantity
		if *item.Quantity != product.Quantity {
			if err := s.catalog.SetQuantity(ctx, s.storeID, productID, *item.Quantity); err != nil {
				result.Resolution = Unresolved
				result.Error = err.Error()
				return result
			}
			result.Changed = true
		}
	}

	// A scanned tag was physically sighted: refresh last-seen and bring
	// a lost tag back to active.
	if tag != nil {
		if err := s.tags.TouchLastSeen(ctx, tag.ID, now); err != nil {
			s.log.Warn("failed to touch scanned tag", "tag_id", tag.ID, "error", err)
		}
		if tag.Status == registry.TagLost {
			tag.Status = registry.TagActive
			if err := s.tags.Update(ctx, tag); err != nil {
				s.log.Warn("failed to reactivate scanned tag", "tag_id", tag.ID, "error", err)
			}
		}
	}

	return result
}

// resolve maps a scan item to a product ID. Returns the tag as well when
// the item was identified through one.
func (s *Service) resolve(ctx context.Context, item ScanItem) (productID, resolution string, tag *registry.Tag, err error) {
	switch {
	case item.TagID != "":
		tag, err := s.tags.GetByID(ctx, item.TagID)
		if err != nil {
			return "", Unresolved, nil, fmt.Errorf("tag %s: %w", item.TagID, err)
		}
		return tag.ProductID, ResolvedByTag, tag, nil

	case item.Serial != "":
		tag, err := s.tags.GetBySerial(ctx, item.Serial)
		if err != nil {
			return "", Unresolved, nil, fmt.Errorf("serial %s: %w", item.Serial, err)
		}
		return tag.ProductID, ResolvedBySerial, tag, nil

	case item.SKU != "":
		product, err := s.catalog.GetProductBySKU(ctx, s.storeID, item.SKU)
		if err != nil {
			return "", Unresolved, nil, fmt.Errorf("sku %s: %w", item.SKU, err)
		}
		return product.ID, ResolvedBySKU, nil, nil

	default:
		return "", Unresolved, nil, errors.New("no identifier on scan item")
	}
}
