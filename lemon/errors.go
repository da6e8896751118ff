package lemon

import "github.com/roach88/lemonstate/internal/engine"

// Error is the error type returned by stores. Use the IsXxxError helpers or
// errors.Is with the sentinels below to classify it.
type Error = engine.Error

// ErrorCode categorizes errors.
type ErrorCode = engine.ErrorCode

// ValueRef names a value in a circular dependency chain.
type ValueRef = engine.ValueRef

// Error codes.
const (
	ErrCodeValidation         = engine.ErrCodeValidation
	ErrCodeAccess             = engine.ErrCodeAccess
	ErrCodeState              = engine.ErrCodeState
	ErrCodeCircularDependency = engine.ErrCodeCircularDependency
	ErrCodeInternal           = engine.ErrCodeInternal
)

// Sentinels for errors.Is.
var (
	ErrValidation         = engine.ErrValidation
	ErrAccess             = engine.ErrAccess
	ErrState              = engine.ErrState
	ErrCircularDependency = engine.ErrCircularDependency
	ErrInternal           = engine.ErrInternal
)

// Classification helpers; they unwrap with errors.As.
var (
	IsValidationError         = engine.IsValidationError
	IsAccessError             = engine.IsAccessError
	IsStateError              = engine.IsStateError
	IsCircularDependencyError = engine.IsCircularDependencyError
	IsInternalError           = engine.IsInternalError
)
