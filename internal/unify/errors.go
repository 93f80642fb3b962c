package unify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/transit-hubs/internal/stops"
)

// ErrResetRequired is returned when cluster state already exists and the
// caller did not confirm that it may be cleared.
var ErrResetRequired = errors.New("existing cluster state found; confirm reset to re-cluster")

// StoreError wraps a GraphStore failure with the operation that failed.
// The operation committed nothing.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	var ie *InvariantError
	if errors.As(err, &ie) || errors.Is(err, stops.ErrPrecondition) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// InvariantError reports integrity violations found after a step. It is
// fatal for the pipeline and is never repaired automatically.
type InvariantError struct {
	Step       string
	Violations []stops.Violation
}

func (e *InvariantError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d invariant violation(s) after %s", len(e.Violations), e.Step)
	for i, v := range e.Violations {
		if i == 3 {
			fmt.Fprintf(&b, "; ...")
			break
		}
		fmt.Fprintf(&b, "; %s %s", v.Kind, v.Stop)
		if len(v.Other) > 0 {
			fmt.Fprintf(&b, " %v", v.Other)
		}
	}
	return b.String()
}
