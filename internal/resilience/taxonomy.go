package resilience

import "fmt"

// ProviderUnavailableError means the adapter exhausted retries on both the
// primary and fallback model for a logical provider. The affected attribute
// is finalized null; the run continues.
type ProviderUnavailableError struct {
	Provider string
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// AuthError is an authentication failure from a provider. Never retried.
type AuthError struct {
	Provider string
	Status   int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %s: authentication failed (status %d)", e.Provider, e.Status)
}

// SchemaViolationError means a provider returned output that could not be
// parsed into the expected schema. Treated as a failed attempt and retried.
type SchemaViolationError struct {
	Provider string
	Detail   string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("provider %s: schema violation: %s", e.Provider, e.Detail)
}

// AmbiguousMappingError reports overlapping ranges in a mapping table for one
// attribute type. A data-quality defect in the table: surfaced as a warning,
// lookups resolve first-match by table order.
type AmbiguousMappingError struct {
	AttributeType string
	CodeA, CodeB  string
}

func (e *AmbiguousMappingError) Error() string {
	return fmt.Sprintf("mapping table for %s has overlapping ranges (%s vs %s)", e.AttributeType, e.CodeA, e.CodeB)
}

// TransferIntegrityFailureError means three consecutive checksum mismatches
// on the same batch. The transfer is failed and an operator alert raised; the
// three-attempt bound is a hard contract.
type TransferIntegrityFailureError struct {
	Filename string
	Attempts int
}

func (e *TransferIntegrityFailureError) Error() string {
	return fmt.Sprintf("transfer of %s failed integrity check after %d attempts", e.Filename, e.Attempts)
}

// ConcurrentRunConflictError is returned when a run trigger arrives while a
// run is already active. Surfaced immediately; never queued.
type ConcurrentRunConflictError struct {
	ActiveRunID string
}

func (e *ConcurrentRunConflictError) Error() string {
	return fmt.Sprintf("a pipeline run is already active: %s", e.ActiveRunID)
}

// DoubleDecisionError is returned when a review item that already has a
// decision receives another one. The original decision stands.
type DoubleDecisionError struct {
	ItemID string
	Status string
}

func (e *DoubleDecisionError) Error() string {
	return fmt.Sprintf("review item %s already decided (%s)", e.ItemID, e.Status)
}
