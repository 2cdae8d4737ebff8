package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/relhist/internal/descriptor"
)

// HistoryError represents an error detected while staging, committing or
// reading history.
//
// HistoryError includes structured fields for diagnostics. Storage failures
// are wrapped in Err and reachable through errors.Unwrap.
type HistoryError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EntityType is the qualified entity key involved, if any.
	EntityType string

	// Relationship is the descriptor key involved, if any.
	Relationship string

	// TransactionID is the transaction involved, or 0.
	TransactionID int64

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes history errors.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates a setup defect: staging against an
	// excluded relationship, an unversioned entity, or an unknown carried
	// column.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeOrderingViolation indicates an operation stamped with a
	// transaction id at or below the committed watermark.
	ErrCodeOrderingViolation ErrorCode = "ORDERING_VIOLATION"

	// ErrCodeMissingTransaction indicates an operation with no open unit of
	// work behind it.
	ErrCodeMissingTransaction ErrorCode = "MISSING_TRANSACTION"

	// ErrCodeUnknownEntity indicates an undeclared entity type.
	ErrCodeUnknownEntity ErrorCode = "UNKNOWN_ENTITY"

	// ErrCodeUnknownRelationship indicates an undeclared role name.
	ErrCodeUnknownRelationship ErrorCode = "UNKNOWN_RELATIONSHIP"

	// ErrCodeInvalidOperation indicates a change that contradicts an
	// earlier change in the same unit of work, such as linking an entity
	// after staging its delete.
	ErrCodeInvalidOperation ErrorCode = "INVALID_OPERATION"

	// ErrCodeStorage indicates the store failed.
	ErrCodeStorage ErrorCode = "STORAGE"
)

// Error implements the error interface.
func (e *HistoryError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Relationship != "" && e.TransactionID != 0:
		msg = fmt.Sprintf("%s (relationship=%s, tx=%d)", msg, e.Relationship, e.TransactionID)
	case e.Relationship != "":
		msg = fmt.Sprintf("%s (relationship=%s)", msg, e.Relationship)
	case e.EntityType != "" && e.TransactionID != 0:
		msg = fmt.Sprintf("%s (entity=%s, tx=%d)", msg, e.EntityType, e.TransactionID)
	case e.EntityType != "":
		msg = fmt.Sprintf("%s (entity=%s)", msg, e.EntityType)
	case e.TransactionID != 0:
		msg = fmt.Sprintf("%s (tx=%d)", msg, e.TransactionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *HistoryError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var he *HistoryError
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// IsConfigurationError returns true for configuration errors, including
// build-time descriptor.ConfigError.
func IsConfigurationError(err error) bool {
	var ce *descriptor.ConfigError
	if errors.As(err, &ce) {
		return true
	}
	return hasCode(err, ErrCodeConfiguration)
}

// IsOrderingViolation returns true if the error is an ordering violation.
func IsOrderingViolation(err error) bool {
	return hasCode(err, ErrCodeOrderingViolation)
}

// IsMissingTransaction returns true if the error reports a missing or
// closed unit of work.
func IsMissingTransaction(err error) bool {
	return hasCode(err, ErrCodeMissingTransaction)
}

// IsUnknownName returns true for unknown entity and relationship names.
func IsUnknownName(err error) bool {
	return hasCode(err, ErrCodeUnknownEntity) || hasCode(err, ErrCodeUnknownRelationship)
}

// IsInvalidOperation returns true if the error is an invalid operation.
func IsInvalidOperation(err error) bool {
	return hasCode(err, ErrCodeInvalidOperation)
}

func newConfigurationError(d *descriptor.Descriptor, txID int64, format string, args ...any) *HistoryError {
	return &HistoryError{
		Code:          ErrCodeConfiguration,
		Message:       fmt.Sprintf(format, args...),
		Relationship:  d.Key(),
		TransactionID: txID,
	}
}

func newUnknownEntityError(entityType string) *HistoryError {
	return &HistoryError{
		Code:       ErrCodeUnknownEntity,
		Message:    "entity type is not declared",
		EntityType: entityType,
	}
}

func newUnknownRelationshipError(entityType, role string) *HistoryError {
	return &HistoryError{
		Code:         ErrCodeUnknownRelationship,
		Message:      fmt.Sprintf("entity type %s has no relationship %q", entityType, role),
		EntityType:   entityType,
		Relationship: role,
	}
}

func newUnversionedError(entityType string) *HistoryError {
	return &HistoryError{
		Code:       ErrCodeConfiguration,
		Message:    "entity type is not versioned",
		EntityType: entityType,
	}
}

func newStorageError(message string, txID int64, err error) *HistoryError {
	return &HistoryError{
		Code:          ErrCodeStorage,
		Message:       message,
		TransactionID: txID,
		Err:           err,
	}
}
