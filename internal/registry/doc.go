// Package registry manages the gateway and tag inventory for a store.
//
// Gateways are reader devices (fixed, portal, or mobile) that authenticate
// to the ingestion pipeline with a bearer secret issued at provisioning
// time. Only the SHA-256 digest of the secret is stored; the plaintext is
// returned once and never again.
//
// Tags are physical labels bound to catalog products. The registry owns
// their lifecycle (active, lost, disabled) and their rolling health fields,
// which the ingestion pipeline updates as telemetry arrives.
//
// Every mutation through the Service writes an audit entry. A failed audit
// write fails the operation, so the compliance trail cannot silently lag
// the registry state.
package registry
