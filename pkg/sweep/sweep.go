package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgesim/miniflare/pkg/log"
	"github.com/edgesim/miniflare/pkg/metrics"
	"github.com/edgesim/miniflare/pkg/storage"
)

// Sweeper periodically walks a caller-supplied set of storage.Operators
// and proactively evicts expired entries. Operators that don't
// implement storage.Sweeper (and so can only expire opportunistically,
// on read) are silently skipped.
type Sweeper struct {
	interval time.Duration
	sources  func() []storage.Operator

	mu     sync.Mutex
	stopCh chan struct{}
}

// New creates a Sweeper that, on every tick, calls sources to obtain the
// current set of live storage.Operators and sweeps each one.
func New(interval time.Duration, sources func() []storage.Operator) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{interval: interval, sources: sources}
}

// Start begins the sweep loop in a background goroutine. Calling Start
// on an already-running Sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	go s.run(stopCh)
}

// Stop halts the sweep loop. It is safe to call Stop more than once.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
}

func (s *Sweeper) run(stopCh chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger := log.WithComponent("sweep")
	logger.Info().Dur("interval", s.interval).Msg("expiration sweeper started")

	for {
		select {
		case <-ticker.C:
			s.sweepOnce(logger)
		case <-stopCh:
			logger.Info().Msg("expiration sweeper stopped")
			return
		}
	}
}

// sweepOnce runs a single cycle, logging the outcome. Exported as Sweep
// for callers (e.g. tests, or a manual "sweep now" admin hook) that want
// to trigger a cycle without waiting for the ticker.
func (s *Sweeper) sweepOnce(logger zerolog.Logger) {
	n := s.Sweep(context.Background())
	if n > 0 {
		logger.Debug().Int("evicted", n).Msg("sweep cycle evicted expired entries")
	}
}

// Sweep runs one sweep cycle synchronously and returns the number of
// entries evicted, across every operator sources() currently reports.
func (s *Sweeper) Sweep(ctx context.Context) int {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SweepDuration)
		metrics.SweepCyclesTotal.Inc()
	}()

	total := 0
	for _, op := range s.sources() {
		sweeper, ok := op.(storage.Sweeper)
		if !ok {
			continue
		}
		n, err := sweeper.SweepExpired(ctx)
		if err != nil {
			continue
		}
		total += n
	}
	if total > 0 {
		metrics.SweepEvictionsTotal.Add(float64(total))
	}
	return total
}
