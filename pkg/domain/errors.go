package domain

import "errors"

// Common domain errors
var (
	ErrRuleNotFound     = errors.New("rule not found")
	ErrInvalidDirection = errors.New("invalid flow direction")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrGenerationFailed = errors.New("llm generation failed")
)
