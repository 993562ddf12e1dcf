package query

import (
	"fmt"
)

// StoreError wraps a failed store-level query with the operation and
// store it came from. Query implementations never swallow store errors;
// they propagate here and the router attaches context before surfacing
// to the caller. There is no fallback between stores: they are
// partitioned, not redundant, so falling back would return wrong data
// instead of no data.
type StoreError struct {
	Op    Operation
	Store string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s failed on %s store: %v", e.Op, e.Store, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ParamsError reports invalid caller input to an operation: a missing
// time frame, an unknown dimension, a malformed cursor. It belongs to
// the validation taxonomy, not the store one, so the router surfaces it
// unwrapped and transports answer with a client error instead of
// reporting a store outage.
type ParamsError struct {
	Reason string
}

func (e *ParamsError) Error() string {
	return e.Reason
}

// PartialCapabilityError reports a split operation whose secondary leg
// failed while the primary succeeded. It is surfaced explicitly - the
// result is never silently degraded to primary-only data presented as
// complete.
type PartialCapabilityError struct {
	Op          Operation
	FailedStore string
	Err         error
}

func (e *PartialCapabilityError) Error() string {
	return fmt.Sprintf("%s: %s leg unavailable for split operation: %v", e.Op, e.FailedStore, e.Err)
}

func (e *PartialCapabilityError) Unwrap() error {
	return e.Err
}

// UnknownOperationError reports a dispatch request outside the fixed
// operation set.
type UnknownOperationError struct {
	Op Operation
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation: %s", e.Op)
}
