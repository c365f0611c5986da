package graphmodel

import (
	"errors"
	"fmt"
)

// ErrNotFound is a sentinel error returned by lookup and First-style operations
// when no record matching the criteria is found in the database.
var ErrNotFound = errors.New("record not found")

// ConfigurationError reports a malformed entity type declaration discovered while
// building its schema. It is fatal: the declaration must be fixed, the call is
// never retried.
type ConfigurationError struct {
	// Type is the name of the offending entity type.
	Type string
	// Field is the struct field the problem was found on, empty for type-level problems.
	Field string
	// Reason describes what is wrong with the declaration.
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid entity declaration %s.%s: %s", e.Type, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid entity declaration %s: %s", e.Type, e.Reason)
}

// ValidationError reports invalid input to a traversal or query-plan operation,
// such as depth bounds with min greater than max. The caller must fix its inputs.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// MissingRequiredFieldError is returned by deserialization when a field marked
// required has neither stored data, a default value, nor a pre-fetched
// complex-property substitute.
type MissingRequiredFieldError struct {
	// EntityType is the name of the type being deserialized.
	EntityType string
	// Field is the struct field that could not be populated.
	Field string
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("required field %s.%s has no stored value and no default", e.EntityType, e.Field)
}

// ProviderError wraps a failure reported by the external database driver. It is
// propagated unchanged and never retried by this layer; it carries the entity
// type and query so the failure can be diagnosed without re-running it.
type ProviderError struct {
	// EntityType names the entity type the operation was acting on, if known.
	EntityType string
	// Query is the request that was being executed.
	Query string
	// Err is the underlying driver error.
	Err error
}

func (e *ProviderError) Error() string {
	if e.EntityType != "" {
		return fmt.Sprintf("provider error for %s executing %q: %v", e.EntityType, e.Query, e.Err)
	}
	return fmt.Sprintf("provider error executing %q: %v", e.Query, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
