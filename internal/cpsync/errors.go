package cpsync

import (
	"errors"
	"fmt"

	"cptrack/internal/codeforces"
	"cptrack/internal/syncqueue"
)

func permanentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", syncqueue.ErrPermanent, fmt.Sprintf(format, args...))
}

// classify maps upstream errors onto the queue's retry taxonomy. Timeouts
// fall through as plain errors so they consume retries.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *codeforces.APIError
	switch {
	case errors.Is(err, codeforces.ErrNotFound):
		return fmt.Errorf("%w: %w", syncqueue.ErrPermanent, err)
	case errors.Is(err, codeforces.ErrUnavailable):
		return fmt.Errorf("%w: %w", syncqueue.ErrOffline, err)
	case errors.As(err, &apiErr) && !apiErr.Temporary():
		return fmt.Errorf("%w: %w", syncqueue.ErrPermanent, err)
	default:
		return err
	}
}
