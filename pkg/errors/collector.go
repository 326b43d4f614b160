package errors

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const defaultMaxErrors = 100

// Collector gathers failures from one extract, apply or assign call so that
// sibling fields keep processing after an error. Safe for concurrent use.
type Collector struct {
	operation string
	logger    *zap.Logger
	maxErrors int

	failed *atomic.Bool
	count  *atomic.Int32

	mu    sync.Mutex
	errs  *multierror.Error
	worst ErrorType
}

// NewCollector creates a new collector for the named operation
func NewCollector(operation string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		operation: operation,
		logger:    logger,
		maxErrors: defaultMaxErrors,
		failed:    atomic.NewBool(false),
		count:     atomic.NewInt32(0),
	}
}

// Add records a failure at the given path key and logs it
func (c *Collector) Add(path string, err error) {
	if err == nil {
		return
	}

	c.failed.Store(true)
	n := c.count.Inc()

	err = AtPath(err, path)

	c.logger.Warn("versioning failure",
		zap.String("operation", c.operation),
		zap.String("path", path),
		zap.Error(err),
	)

	// Keep only the first maxErrors
	if int(n) > c.maxErrors {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.errs = multierror.Append(c.errs, err)
	if t := TypeOf(err); severity[t] > severity[c.worst] {
		c.worst = t
	}
}

// Failed reports whether any failure was recorded
func (c *Collector) Failed() bool {
	return c.failed.Load()
}

// Count returns the number of failures recorded, including dropped ones
func (c *Collector) Count() int {
	return int(c.count.Load())
}

// ToError folds the collected failures into a single AppError whose type is
// the most severe collected type. Returns nil when nothing failed.
func (c *Collector) ToError() error {
	if !c.Failed() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	agg := newError(c.worst, fmt.Sprintf("%s failed with %d error(s)", c.operation, c.Count()))
	agg.Cause = c.errs.ErrorOrNil()
	return agg
}
