package store

import (
	"errors"
	"fmt"

	"cleancity-backend/internal/apperr"
)

// MaxAttempts bounds how often a versioned write is retried after a conflict
const MaxAttempts = 5

// RetryOnConflict runs fn until it returns something other than
// apperr.ErrConflict. fn must reload whatever it writes so that each attempt
// re-validates against the latest state.
func RetryOnConflict(fn func() error) error {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err := fn()
		if !errors.Is(err, apperr.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", MaxAttempts, apperr.ErrConflict)
}
