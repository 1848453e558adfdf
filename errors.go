package arena

import "github.com/pkg/errors"

var (
	// ErrOutOfMemory is returned when the backing heap cannot satisfy a
	// request: page growth, big allocations, defer table growth or child
	// creation. Use errors.Is to test for it, call sites wrap it with context.
	ErrOutOfMemory = errors.New("arena: out of memory")

	// ErrInvalidSize is returned for negative element sizes or counts.
	ErrInvalidSize = errors.New("arena: invalid allocation size")

	// ErrInvalidConfig is returned by New and Init when a Config does not validate.
	ErrInvalidConfig = errors.New("arena: invalid config")
)
