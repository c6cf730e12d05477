package models

import "time"

const (
	// DefaultMaxRetries is how many failed attempts an operation may accumulate
	// before it is moved to the failed set on the next failure.
	DefaultMaxRetries = 3

	DefaultInitialDelay   = time.Second
	DefaultMaxDelay       = time.Minute
	DefaultHandlerTimeout = 30 * time.Second

	// DefaultPollInterval is the timer trigger of the drain loop.
	DefaultPollInterval = 15 * time.Second

	// RecommendationLimit caps the problems stored per handle.
	RecommendationLimit = 20
)
