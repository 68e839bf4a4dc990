package service

import "errors"

var (
	ErrMissingComponent  = errors.New("service needs a guard, a ledger, a store and a cache")
	ErrUserNotFound      = errors.New("user not found")
	ErrReconcileDisabled = errors.New("reconciler not configured")
	ErrPublishDisabled   = errors.New("publisher not configured")
)
