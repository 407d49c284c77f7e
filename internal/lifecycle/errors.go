package lifecycle

import (
	"errors"

	"sentinel/internal/database"
)

// ErrInvalidInput is returned when an operation's input is rejected before
// any mutation, e.g. snoozing to a past timestamp.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound aliases the store's not-found condition so callers can check
// one error regardless of layer.
var ErrNotFound = database.ErrNotFound
