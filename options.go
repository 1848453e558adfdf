package arena

import (
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// Config holds the tunables of an arena. The zero value of a field means
// "use the default"; HeapLimit 0 means no limit.
type Config struct {
	// FirstPageSize is the size of the first page requested from the heap
	// once the initial page is exhausted.
	FirstPageSize int `toml:"first_page_size"`
	// MaxPageSize caps page growth.
	MaxPageSize int `toml:"max_page_size"`
	// HeapLimit, when positive and no Heap is given, backs the arena with a
	// LimitedHeap of that many bytes.
	HeapLimit int64 `toml:"heap_limit"`
}

// DefaultConfig is used for root arenas created without WithConfig.
var DefaultConfig = Config{
	FirstPageSize: 1024,
	MaxPageSize:   4096,
}

// Validate checks the page sizes against the size classes.
func (c Config) Validate() error {
	switch {
	case c.FirstPageSize < largestSizeClass:
		return errors.Wrapf(ErrInvalidConfig, "first page size %d is below %d", c.FirstPageSize, largestSizeClass)
	case c.FirstPageSize%sizeClassQuantum != 0:
		return errors.Wrapf(ErrInvalidConfig, "first page size %d is not a multiple of %d", c.FirstPageSize, sizeClassQuantum)
	case c.MaxPageSize < c.FirstPageSize:
		return errors.Wrapf(ErrInvalidConfig, "max page size %d is below first page size %d", c.MaxPageSize, c.FirstPageSize)
	case c.MaxPageSize%sizeClassQuantum != 0:
		return errors.Wrapf(ErrInvalidConfig, "max page size %d is not a multiple of %d", c.MaxPageSize, sizeClassQuantum)
	case c.HeapLimit < 0:
		return errors.Wrapf(ErrInvalidConfig, "negative heap limit %d", c.HeapLimit)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.FirstPageSize == 0 {
		c.FirstPageSize = DefaultConfig.FirstPageSize
	}
	if c.MaxPageSize == 0 {
		c.MaxPageSize = DefaultConfig.MaxPageSize
		if c.MaxPageSize < c.FirstPageSize {
			c.MaxPageSize = c.FirstPageSize
		}
	}
	return c
}

// Option configures an arena at creation.
type Option func(*options)

type options struct {
	cfg  Config
	heap Heap
	log  logr.Logger
}

// WithConfig sets page sizes and, if no heap is given, a heap limit.
func WithConfig(c Config) Option {
	return func(o *options) { o.cfg = c.withDefaults() }
}

// WithHeap sets the heap pages and big allocations come from.
func WithHeap(h Heap) Option {
	return func(o *options) { o.heap = h }
}

// WithLogger sets the logger for lifecycle and page growth events.
func WithLogger(l logr.Logger) Option {
	return func(o *options) { o.log = l }
}

// buildOptions starts from the parent's settings, or the defaults for a root,
// and applies opts on top.
func buildOptions(parent *Arena, opts []Option) (options, error) {
	o := options{cfg: DefaultConfig, log: logr.Discard()}
	if parent != nil {
		o.cfg, o.heap, o.log = parent.cfg, parent.pager.heap, parent.log
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return o, err
	}
	if o.heap == nil {
		if o.cfg.HeapLimit > 0 {
			o.heap = NewLimitedHeap(o.cfg.HeapLimit)
		} else {
			o.heap = GoHeap
		}
	}
	return o, nil
}
