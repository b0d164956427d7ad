package registry

import (
	"fmt"
	"strings"
)

// validationError wraps ErrValidation with a field-specific message.
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ProvisionGatewayRequest is the input for registering a new gateway.
type ProvisionGatewayRequest struct {
	Name     string      `json:"name"`
	Kind     GatewayKind `json:"kind"`
	Position Position    `json:"position"`
	Notes    string      `json:"notes,omitempty"`
}

// Validate checks the provisioning request fields.
func (r *ProvisionGatewayRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return validationError("name is required")
	}
	switch r.Kind {
	case KindFixed, KindPortal, KindMobile:
	default:
		return validationError("kind must be one of fixed, portal, mobile (got %q)", r.Kind)
	}
	return nil
}

// UpdateGatewayRequest is a partial update; nil fields are left unchanged.
type UpdateGatewayRequest struct {
	Name     *string   `json:"name,omitempty"`
	Position *Position `json:"position,omitempty"`
	Notes    *string   `json:"notes,omitempty"`
	Disabled *bool     `json:"disabled,omitempty"`
}

// Validate checks the update request fields.
func (r *UpdateGatewayRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return validationError("name cannot be empty")
	}
	if r.Name == nil && r.Position == nil && r.Notes == nil && r.Disabled == nil {
		return validationError("no fields to update")
	}
	return nil
}

// IssueTagRequest is the input for registering a new tag.
type IssueTagRequest struct {
	ProductID string      `json:"product_id"`
	Tech      TagTech     `json:"tech"`
	Serial    string      `json:"serial"`
	DeepLink  string      `json:"deep_link,omitempty"`
	Radio     RadioConfig `json:"radio,omitempty"`
}

// Validate checks the tag issue request fields.
func (r *IssueTagRequest) Validate() error {
	if strings.TrimSpace(r.ProductID) == "" {
		return validationError("product_id is required")
	}
	if strings.TrimSpace(r.Serial) == "" {
		return validationError("serial is required")
	}
	switch r.Tech {
	case TechBLE, TechRFID, TechQR:
	default:
		return validationError("tech must be one of ble, rfid, qr (got %q)", r.Tech)
	}
	if r.Tech == TechQR && strings.TrimSpace(r.DeepLink) == "" {
		return validationError("deep_link is required for qr tags")
	}
	return nil
}

// UpdateTagRequest is a partial update for a tag; nil fields are left
// unchanged.
type UpdateTagRequest struct {
	ProductID *string      `json:"product_id,omitempty"`
	Status    *TagStatus   `json:"status,omitempty"`
	DeepLink  *string      `json:"deep_link,omitempty"`
	Radio     *RadioConfig `json:"radio,omitempty"`
}

// Validate checks the tag update request fields.
func (r *UpdateTagRequest) Validate() error {
	if r.Status != nil {
		switch *r.Status {
		case TagActive, TagLost, TagDisabled:
		default:
			return validationError("status must be one of active, lost, disabled (got %q)", *r.Status)
		}
	}
	if r.ProductID != nil && strings.TrimSpace(*r.ProductID) == "" {
		return validationError("product_id cannot be empty")
	}
	if r.ProductID == nil && r.Status == nil && r.DeepLink == nil && r.Radio == nil {
		return validationError("no fields to update")
	}
	return nil
}
