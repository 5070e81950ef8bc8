package domain

import "errors"

var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrNoChannels  = errors.New("no channels available")
	ErrRateLimited = errors.New("rate limited")
)
