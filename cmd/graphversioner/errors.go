package main

import (
	"errors"
	"fmt"
	"io"

	"graphversioner/internal/blob"
	"graphversioner/pkg/domain"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitNotFound  = 3
	exitIntegrity = 4
)

// usageError marks failures caused by bad flags, arguments or configuration.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var usage usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage), errors.Is(err, domain.ErrInvalidArgument):
		return exitUsage
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return exitNotFound
	case errors.Is(err, domain.ErrIntegrityViolation), errors.Is(err, blob.ErrExists):
		return exitIntegrity
	default:
		return exitFailure
	}
}

func printError(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "graphversioner: %v\n", err)
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		for _, v := range violation.Result.Violations {
			_, _ = fmt.Fprintf(w, "  %s [%s] node %d: %s\n", v.Rule, v.Severity, v.NodeID, v.Message)
		}
	}
}
