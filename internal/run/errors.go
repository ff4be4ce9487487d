package run

import "errors"

var (
	ErrAlreadyRunning = errors.New("run: a download run is already active")
	ErrNotFound       = errors.New("run: run not found")
	ErrInvalidConfig  = errors.New("run: invalid configuration")
)
