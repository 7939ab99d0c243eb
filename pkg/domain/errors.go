package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the versioning engine. Match them with errors.Is.
var (
	// ErrNotFound reports that a referenced node or edge does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIntegrityViolation reports that a mutation would break a graph invariant.
	ErrIntegrityViolation = errors.New("integrity violation")
	// ErrInvalidArgument reports a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")
)

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// Is matches ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IntegrityError names the invariant a mutation would break.
type IntegrityError struct {
	Rule    string
	Message string
}

func (e IntegrityError) Error() string {
	if e.Rule == "" {
		return "integrity violation: " + e.Message
	}
	return fmt.Sprintf("integrity violation (%s): %s", e.Rule, e.Message)
}

// Is matches ErrIntegrityViolation.
func (e IntegrityError) Is(target error) bool { return target == ErrIntegrityViolation }

// ArgumentError names the offending request field.
type ArgumentError struct {
	Field   string
	Message string
}

func (e ArgumentError) Error() string {
	if e.Field == "" {
		return "invalid argument: " + e.Message
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Message)
}

// Is matches ErrInvalidArgument.
func (e ArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// RuleViolationError is returned when blocking violations abort a transaction.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return fmt.Sprintf("transaction blocked by rules: %s: %s", v.Rule, v.Message)
		}
	}
	return "transaction blocked by rules"
}

// Is matches ErrIntegrityViolation; every blocking rule guards a graph invariant.
func (e RuleViolationError) Is(target error) bool { return target == ErrIntegrityViolation }
