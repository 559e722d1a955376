package testutil

import (
	"sync"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// MockTimestampProvider is a manually advanced clock.
type MockTimestampProvider struct {
	mu       sync.Mutex
	now      int64
	maxError int64
}

// NewMockTimestampProvider creates a clock starting at start with the given max error.
func NewMockTimestampProvider(start, maxError int64) *MockTimestampProvider {
	return &MockTimestampProvider{now: start, maxError: maxError}
}

// Set moves the clock to ts.
func (p *MockTimestampProvider) Set(ts int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = ts
}

// Advance moves the clock forward by d.
func (p *MockTimestampProvider) Advance(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now += d.Milliseconds()
}

// GetTimestamp implements liveevent.TimestampProvider.
func (p *MockTimestampProvider) GetTimestamp() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// GetMaxTimestampError implements liveevent.TimestampProvider.
func (p *MockTimestampProvider) GetMaxTimestampError() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxError
}

var _ liveevent.TimestampProvider = (*MockTimestampProvider)(nil)
