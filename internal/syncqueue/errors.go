package syncqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrPermanent marks a handler failure that must not be retried.
	ErrPermanent = errors.New("permanent failure")

	// ErrOffline marks a failure caused by lost connectivity. The operation is
	// put back without a retry penalty and the manager goes offline.
	ErrOffline = errors.New("upstream unreachable")

	errUnknownKind = fmt.Errorf("%w: no handler registered", ErrPermanent)
)
