package timestamp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// TimeSource is the timestamp authority shared by every client in a session.
type TimeSource interface {
	// GetServerTime returns the authority's clock in milliseconds since the Unix epoch.
	GetServerTime(ctx context.Context) (int64, error)
}

// HostConfig configures a HostTimestampProvider
type HostConfig struct {
	// SyncInterval is how often the offset is refreshed
	SyncInterval time.Duration

	// MinMaxError is the floor for the reported max error in milliseconds
	MinMaxError int64

	// UnsyncedMaxError is reported until the first successful sync
	UnsyncedMaxError int64
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *HostConfig) SetDefaults() {
	if c.SyncInterval <= 0 {
		c.SyncInterval = time.Minute
	}
	if c.MinMaxError <= 0 {
		c.MinMaxError = 10
	}
	if c.UnsyncedMaxError <= 0 {
		c.UnsyncedMaxError = DefaultMaxTimestampError
	}
}

// HostTimestampProvider corrects the local clock with the offset measured against a
// TimeSource. The max error is half the round trip of the best sample.
type HostTimestampProvider struct {
	source TimeSource
	config HostConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	offset   int64
	maxError int64
	synced   bool
	last     int64
	cancel   context.CancelFunc
}

// NewHostTimestampProvider creates a provider synchronized against source.
func NewHostTimestampProvider(source TimeSource, config HostConfig, logger *slog.Logger) *HostTimestampProvider {
	config.SetDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HostTimestampProvider{
		source:   source,
		config:   config,
		logger:   logger,
		now:      time.Now,
		maxError: config.UnsyncedMaxError,
	}
}

// Sync measures the offset to the time source once.
func (p *HostTimestampProvider) Sync(ctx context.Context) error {
	sent := p.now()
	serverTime, err := p.source.GetServerTime(ctx)
	if err != nil {
		return err
	}
	received := p.now()

	rtt := received.Sub(sent).Milliseconds()
	if rtt < 0 {
		rtt = 0
	}
	estimate := serverTime + rtt/2
	offset := estimate - received.UnixMilli()
	maxError := rtt / 2
	if maxError < p.config.MinMaxError {
		maxError = p.config.MinMaxError
	}

	p.mu.Lock()
	p.offset = offset
	p.maxError = maxError
	p.synced = true
	p.mu.Unlock()

	p.logger.Debug("clock synchronized", "offset_ms", offset, "rtt_ms", rtt, "max_error_ms", maxError)
	return nil
}

// Start synchronizes immediately and then every SyncInterval until Stop or ctx ends.
// A failed initial sync is logged; the provider falls back to the local clock.
func (p *HostTimestampProvider) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	if err := p.Sync(ctx); err != nil {
		p.logger.Warn("initial clock sync failed, using local clock", "error", err)
	}

	go func() {
		ticker := time.NewTicker(p.config.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.Sync(ctx); err != nil {
					p.logger.Warn("clock sync failed", "error", err)
				}
			}
		}
	}()
}

// Stop ends periodic synchronization. Safe to call more than once.
func (p *HostTimestampProvider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Synced reports whether at least one sync succeeded.
func (p *HostTimestampProvider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

// GetTimestamp returns the corrected time in milliseconds since the Unix epoch.
func (p *HostTimestampProvider) GetTimestamp() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := p.now().UnixMilli() + p.offset
	if ts < p.last {
		return p.last
	}
	p.last = ts
	return ts
}

// GetMaxTimestampError returns the current clock error bound.
func (p *HostTimestampProvider) GetMaxTimestampError() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxError
}

var _ liveevent.TimestampProvider = (*HostTimestampProvider)(nil)
