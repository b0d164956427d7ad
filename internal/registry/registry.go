package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tagtrace/tagtrace-core/internal/audit"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/logging"
)

// ProductChecker verifies that a product exists before a tag can be bound
// to it. Implemented by the inventory catalog.
type ProductChecker interface {
	ProductExists(ctx context.Context, storeID, productID string) (bool, error)
}

// Service coordinates gateway and tag lifecycle operations. All mutations
// write an audit entry; a failed audit write fails the operation.
type Service struct {
	storeID  string
	gateways GatewayRepository
	tags     TagRepository
	products ProductChecker
	audit    audit.Repository
	log      *logging.Logger
}

// NewService creates the registry service. products may be nil, in which
// case tag issuance skips the catalog check.
func NewService(storeID string, gateways GatewayRepository, tags TagRepository,
	products ProductChecker, auditRepo audit.Repository, log *logging.Logger,
) *Service {
	return &Service{
		storeID:  storeID,
		gateways: gateways,
		tags:     tags,
		products: products,
		audit:    auditRepo,
		log:      log,
	}
}

// ProvisionResult is the response to a successful gateway provisioning.
// Secret is the plaintext bearer credential, returned exactly once.
type ProvisionResult struct {
	Gateway *Gateway `json:"gateway"`
	Secret  string   `json:"secret"`
}

// ProvisionGateway registers a new gateway and issues its bearer secret.
func (s *Service) ProvisionGateway(ctx context.Context, actor audit.Actor, req *ProvisionGatewayRequest) (*ProvisionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	gw := &Gateway{
		ID:         "gw-" + uuid.NewString()[:8],
		StoreID:    s.storeID,
		Name:       req.Name,
		Kind:       req.Kind,
		Position:   req.Position,
		Status:     StatusOffline,
		SecretHash: HashSecret(secret),
		Notes:      req.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.gateways.Create(ctx, gw); err != nil {
		return nil, err
	}

	if err := s.auditWrite(ctx, actor, "gateway.provision", "gateway", gw.ID, nil, gatewaySnapshot(gw)); err != nil {
		return nil, err
	}

	s.log.Info("gateway provisioned", "gateway_id", gw.ID, "kind", gw.Kind, "actor", actor.ID)
	return &ProvisionResult{Gateway: gw, Secret: secret}, nil
}

// ListGateways returns all gateways in the store.
func (s *Service) ListGateways(ctx context.Context) ([]*Gateway, error) {
	return s.gateways.List(ctx, s.storeID)
}

// GetGateway returns a single gateway by ID.
func (s *Service) GetGateway(ctx context.Context, id string) (*Gateway, error) {
	return s.gateways.GetByID(ctx, id)
}

// UpdateGateway applies a partial update. Setting Disabled soft-disables
// the gateway: it stays listed but ingestion rejects its batches.
func (s *Service) UpdateGateway(ctx context.Context, actor audit.Actor, id string, req *UpdateGatewayRequest) (*Gateway, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	gw, err := s.gateways.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := gatewaySnapshot(gw)

	if req.Name != nil {
		gw.Name = *req.Name
	}
	if req.Position != nil {
		gw.Position = *req.Position
	}
	if req.Notes != nil {
		gw.Notes = *req.Notes
	}
	if req.Disabled != nil {
		gw.Disabled = *req.Disabled
	}

	if err := s.gateways.Update(ctx, gw); err != nil {
		return nil, err
	}

	if err := s.auditWrite(ctx, actor, "gateway.update", "gateway", gw.ID, before, gatewaySnapshot(gw)); err != nil {
		return nil, err
	}

	return gw, nil
}

// AuthenticateGateway resolves a bearer secret to an enabled gateway.
//
// Invalid secrets and disabled gateways both fail authentication, with
// distinct errors so callers can log the difference. The comparison is
// constant time over the digest.
func (s *Service) AuthenticateGateway(ctx context.Context, secret string) (*Gateway, error) {
	if secret == "" {
		return nil, ErrInvalidCredential
	}

	gw, err := s.gateways.GetBySecretHash(ctx, HashSecret(secret))
	if err != nil {
		if errors.Is(err, ErrGatewayNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}

	if !secretMatches(secret, gw.SecretHash) {
		return nil, ErrInvalidCredential
	}
	if gw.Disabled {
		return nil, ErrGatewayDisabled
	}
	return gw, nil
}

// MarkGatewaySeen records that a gateway delivered an accepted batch.
func (s *Service) MarkGatewaySeen(ctx context.Context, id string, seen time.Time) error {
	return s.gateways.UpdateStatus(ctx, id, StatusOnline, seen)
}

// MarkGatewayOffline records a gateway going offline, typically from an
// MQTT last-will status message.
func (s *Service) MarkGatewayOffline(ctx context.Context, id string) error {
	return s.gateways.UpdateStatus(ctx, id, StatusOffline, time.Now().UTC())
}

// IssueTag registers a new tag bound to a catalog product.
func (s *Service) IssueTag(ctx context.Context, actor audit.Actor, req *IssueTagRequest) (*Tag, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if s.products != nil {
		exists, err := s.products.ProductExists(ctx, s.storeID, req.ProductID)
		if err != nil {
			return nil, fmt.Errorf("checking product %s: %w", req.ProductID, err)
		}
		if !exists {
			return nil, ErrProductNotFound
		}
	}

	now := time.Now().UTC()
	tag := &Tag{
		ID:        "tag-" + uuid.NewString()[:8],
		StoreID:   s.storeID,
		ProductID: req.ProductID,
		Tech:      req.Tech,
		Serial:    req.Serial,
		DeepLink:  req.DeepLink,
		Status:    TagActive,
		Radio:     req.Radio,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.tags.Create(ctx, tag); err != nil {
		return nil, err
	}

	if err := s.auditWrite(ctx, actor, "tag.issue", "tag", tag.ID, nil, tagSnapshot(tag)); err != nil {
		return nil, err
	}

	s.log.Info("tag issued", "tag_id", tag.ID, "product_id", tag.ProductID, "tech", tag.Tech)
	return tag, nil
}

// ListTags returns tags in the store matching the filter.
func (s *Service) ListTags(ctx context.Context, filter TagFilter) ([]*Tag, error) {
	filter.StoreID = s.storeID
	return s.tags.List(ctx, filter)
}

// GetTag returns a single tag by ID.
func (s *Service) GetTag(ctx context.Context, id string) (*Tag, error) {
	return s.tags.GetByID(ctx, id)
}

// GetTagBySerial returns a single tag by hardware serial.
func (s *Service) GetTagBySerial(ctx context.Context, serial string) (*Tag, error) {
	return s.tags.GetBySerial(ctx, serial)
}

// UpdateTag applies a partial update to a tag's binding, status, or radio
// configuration.
func (s *Service) UpdateTag(ctx context.Context, actor audit.Actor, id string, req *UpdateTagRequest) (*Tag, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tag, err := s.tags.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := tagSnapshot(tag)

	if req.ProductID != nil && *req.ProductID != tag.ProductID {
		if s.products != nil {
			exists, err := s.products.ProductExists(ctx, s.storeID, *req.ProductID)
			if err != nil {
				return nil, fmt.Errorf("checking product %s: %w", *req.ProductID, err)
			}
			if !exists {
				return nil, ErrProductNotFound
			}
		}
		tag.ProductID = *req.ProductID
	}
	if req.Status != nil {
		tag.Status = *req.Status
	}
	if req.DeepLink != nil {
		tag.DeepLink = *req.DeepLink
	}
	if req.Radio != nil {
		tag.Radio = *req.Radio
	}

	if err := s.tags.Update(ctx, tag); err != nil {
		return nil, err
	}

	if err := s.auditWrite(ctx, actor, "tag.update", "tag", tag.ID, before, tagSnapshot(tag)); err != nil {
		return nil, err
	}

	return tag, nil
}

// SaveCalibration persists a calibration block for a gateway and records
// the audit entry. Called by the calibration engine on commit.
func (s *Service) SaveCalibration(ctx context.Context, actor audit.Actor, gatewayID string, cal *Calibration) error {
	gw, err := s.gateways.GetByID(ctx, gatewayID)
	if err != nil {
		return err
	}

	var before map[string]any
	if gw.Calibration != nil {
		before = map[string]any{"zones": len(gw.Calibration.Zones), "portal_threshold": gw.Calibration.PortalThreshold}
	}

	if err := s.gateways.SaveCalibration(ctx, gatewayID, cal); err != nil {
		return err
	}

	after := map[string]any{"zones": len(cal.Zones), "portal_threshold": cal.PortalThreshold}
	return s.auditWrite(ctx, actor, "gateway.calibrate", "gateway", gatewayID, before, after)
}

// Gateways exposes the gateway repository for collaborating engines.
func (s *Service) Gateways() GatewayRepository { return s.gateways }

// Tags exposes the tag repository for collaborating engines.
func (s *Service) Tags() TagRepository { return s.tags }

// StoreID returns the store this registry serves.
func (s *Service) StoreID() string { return s.storeID }

func (s *Service) auditWrite(ctx context.Context, actor audit.Actor, action, entityType, entityID string, before, after map[string]any) error {
	if s.audit == nil {
		return nil
	}
	entry := &audit.Entry{
		StoreID:    s.storeID,
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     before,
		After:      after,
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		return fmt.Errorf("writing audit entry for %s: %w", action, err)
	}
	return nil
}

// gatewaySnapshot captures the auditable fields of a gateway.
func gatewaySnapshot(gw *Gateway) map[string]any {
	return map[string]any{
		"name":     gw.Name,
		"kind":     string(gw.Kind),
		"zone":     gw.Position.Zone,
		"disabled": gw.Disabled,
		"notes":    gw.Notes,
	}
}

// tagSnapshot captures the auditable fields of a tag.
func tagSnapshot(tag *Tag) map[string]any {
	return map[string]any{
		"product_id": tag.ProductID,
		"tech":       string(tag.Tech),
		"serial":     tag.Serial,
		"status":     string(tag.Status),
	}
}
