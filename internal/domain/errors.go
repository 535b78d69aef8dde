package domain

import "errors"

var (
	ErrNotFound        = errors.New("job not found")
	ErrConflict        = errors.New("job already exists")
	ErrVersionConflict = errors.New("job version conflict")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrBusy            = errors.New("concurrency limit reached")
)
