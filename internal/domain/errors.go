package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrExpired           = errors.New("expired")
	ErrScheduleExhausted = errors.New("schedule exhausted")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSelfDealing       = errors.New("buyer and seller are the same party")
	ErrConflict          = errors.New("concurrency conflict")
	ErrCapacityExhausted = errors.New("phase capacity exhausted")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
)
