package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates a malformed argument (TypeError in the JS lineage).
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeAccess indicates a read or write against a removed store or value,
	// or a write through a read-only view.
	ErrCodeAccess ErrorCode = "ACCESS"

	// ErrCodeState indicates a mutation attempted while a computation is active.
	ErrCodeState ErrorCode = "STATE"

	// ErrCodeCircularDependency indicates a computed value transitively reads itself.
	ErrCodeCircularDependency ErrorCode = "CIRCULAR_DEPENDENCY"

	// ErrCodeInternal indicates the propagation algorithm reached an impossible state.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Sentinels for errors.Is matching.
var (
	ErrValidation         = errors.New("lemonstate: validation error")
	ErrAccess             = errors.New("lemonstate: access error")
	ErrState              = errors.New("lemonstate: state error")
	ErrCircularDependency = errors.New("lemonstate: circular dependency")
	ErrInternal           = errors.New("lemonstate: internal invariant violated")
)

// ValueRef names a value for diagnostics.
type ValueRef struct {
	Name  string
	Store string
}

func (r ValueRef) String() string {
	return fmt.Sprintf("'%s' (in %s)", r.Name, r.Store)
}

// Error is the single error type raised by the engine and the stores built on it.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Store names the store involved, if any.
	Store string

	// ReadOnly marks a write to a computed property. Such an error is a
	// validation error that also matches ErrAccess.
	ReadOnly bool

	// Chain lists the computation chain for circular dependency errors,
	// in dependency order, ending with the value that was re-entered.
	Chain []ValueRef
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code == ErrCodeCircularDependency && len(e.Chain) > 0 {
		parts := make([]string, len(e.Chain))
		for i, ref := range e.Chain {
			parts[i] = ref.String()
		}
		return fmt.Sprintf("%s: %s %s", e.Code, e.Message, strings.Join(parts, " -> "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches the category sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Code == ErrCodeValidation
	case ErrAccess:
		return e.Code == ErrCodeAccess || e.ReadOnly
	case ErrState:
		return e.Code == ErrCodeState
	case ErrCircularDependency:
		return e.Code == ErrCodeCircularDependency
	case ErrInternal:
		return e.Code == ErrCodeInternal
	}
	return false
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsValidationError reports whether err is a validation error.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsAccessError reports whether err is an access error. Writes to computed
// properties count as access errors too.
func IsAccessError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeAccess || e.ReadOnly
	}
	return false
}

// IsStateError reports whether err is a state error.
func IsStateError(err error) bool {
	return hasCode(err, ErrCodeState)
}

// IsCircularDependencyError reports whether err is a circular dependency error.
func IsCircularDependencyError(err error) bool {
	return hasCode(err, ErrCodeCircularDependency)
}

// IsInternalError reports whether err is an internal invariant error.
func IsInternalError(err error) bool {
	return hasCode(err, ErrCodeInternal)
}

// NewValidationError creates a validation error for store.
func NewValidationError(store, format string, args ...any) *Error {
	return &Error{Code: ErrCodeValidation, Store: store, Message: fmt.Sprintf(format, args...)}
}

// NewAccessError creates an access error for store.
func NewAccessError(store, format string, args ...any) *Error {
	return &Error{Code: ErrCodeAccess, Store: store, Message: fmt.Sprintf(format, args...)}
}

// NewStateError creates a state error.
func NewStateError(store, format string, args ...any) *Error {
	return &Error{Code: ErrCodeState, Store: store, Message: fmt.Sprintf(format, args...)}
}

// NewReadOnlyError creates the error returned for writes to a computed property.
func NewReadOnlyError(store, key string) *Error {
	return &Error{
		Code:     ErrCodeValidation,
		Store:    store,
		ReadOnly: true,
		Message:  fmt.Sprintf("Can't modify '%s' property (in %s), this is computed value.", key, store),
	}
}

// NewRemovedStoreError creates the error returned by every method of a removed store.
func NewRemovedStoreError(store string) *Error {
	return NewAccessError(store, "Store is removed! (in %s)", store)
}

func newCircularError(chain []ValueRef) *Error {
	store := ""
	if len(chain) > 0 {
		store = chain[len(chain)-1].Store
	}
	return &Error{
		Code:    ErrCodeCircularDependency,
		Store:   store,
		Message: "Circular dependency detected!",
		Chain:   chain,
	}
}

func newNoAccessError(ref ValueRef) *Error {
	return NewAccessError(ref.Store, "There is no access to '%s' (in %s)", ref.Name, ref.Store)
}

func newUnresolvedError(dep, of ValueRef) *Error {
	return &Error{
		Code:    ErrCodeInternal,
		Store:   of.Store,
		Message: fmt.Sprintf("%s was not resolved while validating %s", dep, of),
	}
}
