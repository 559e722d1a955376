package timestamp

import (
	"sync"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// DefaultMaxTimestampError is the clock error assumed for unsynchronized wall clocks.
const DefaultMaxTimestampError = int64(1000)

// LocalTimestampProvider uses the local wall clock.
// Returned timestamps never go backwards, even if the wall clock is adjusted.
type LocalTimestampProvider struct {
	mu       sync.Mutex
	now      func() time.Time
	last     int64
	maxError int64
}

// NewLocalTimestampProvider creates a provider with the given max error in milliseconds.
// A non-positive maxError selects DefaultMaxTimestampError.
func NewLocalTimestampProvider(maxError int64) *LocalTimestampProvider {
	if maxError <= 0 {
		maxError = DefaultMaxTimestampError
	}
	return &LocalTimestampProvider{
		now:      time.Now,
		maxError: maxError,
	}
}

// GetTimestamp returns the current time in milliseconds since the Unix epoch.
func (p *LocalTimestampProvider) GetTimestamp() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.monotonic(p.now().UnixMilli())
}

// GetMaxTimestampError returns the configured clock error bound.
func (p *LocalTimestampProvider) GetMaxTimestampError() int64 {
	return p.maxError
}

func (p *LocalTimestampProvider) monotonic(ts int64) int64 {
	if ts < p.last {
		return p.last
	}
	p.last = ts
	return ts
}

var _ liveevent.TimestampProvider = (*LocalTimestampProvider)(nil)
