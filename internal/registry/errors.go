package registry

import "errors"

// Sentinel errors for registry operations. Callers match these with
// errors.Is to map them onto API responses.
var (
	// ErrGatewayNotFound indicates no gateway exists with the given ID.
	ErrGatewayNotFound = errors.New("registry: gateway not found")

	// ErrTagNotFound indicates no tag exists with the given ID.
	ErrTagNotFound = errors.New("registry: tag not found")

	// ErrSerialExists indicates a tag with the same hardware serial is
	// already registered.
	ErrSerialExists = errors.New("registry: serial already registered")

	// ErrProductNotFound indicates the referenced product does not exist
	// in the catalog.
	ErrProductNotFound = errors.New("registry: product not found")

	// ErrInvalidCredential indicates the presented gateway secret did not
	// match any enabled gateway.
	ErrInvalidCredential = errors.New("registry: invalid gateway credential")

	// ErrGatewayDisabled indicates the gateway exists but has been soft
	// disabled and must not ingest.
	ErrGatewayDisabled = errors.New("registry: gateway disabled")

	// ErrValidation indicates a request failed field validation. Wrapped
	// errors carry the specific field message.
	ErrValidation = errors.New("registry: validation failed")
)
