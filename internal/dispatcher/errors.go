package dispatcher

import (
	"errors"
	"fmt"
	"time"
)

// ErrStopped is returned when work is submitted to a stopped pool.
var ErrStopped = errors.New("render pool stopped")

// BreakerOpenError is returned while renders of a document are suspended.
type BreakerOpenError struct {
	Key     string
	RetryAt time.Time
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("renders for %s suspended until %s", e.Key, e.RetryAt.Format(time.RFC3339))
}
