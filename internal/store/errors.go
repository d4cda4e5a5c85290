package store

import "github.com/homeserve/marketplace/pkg/apperror"

// Repository-level errors shared by every implementation.
var (
	ErrNotFound = apperror.New(apperror.KindNotFound, "store", "record not found")
	// ErrConflict signals a lost optimistic update or a unique-slot violation.
	ErrConflict = apperror.New(apperror.KindConcurrencyConflict, "store", "concurrent modification, retry the operation")
)
