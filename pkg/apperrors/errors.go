package apperrors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation failed")
	ErrRuleEvaluation  = errors.New("rule evaluation failed")
	ErrAlreadyResolved = errors.New("suggestion already resolved")
)
