package txn

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/edgesim/miniflare/pkg/config"
	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/log"
	"github.com/edgesim/miniflare/pkg/metrics"
	"github.com/edgesim/miniflare/pkg/storage"
	"github.com/edgesim/miniflare/pkg/types"
)

// Manager runs closures against a storage.Operator with optimistic
// concurrency control, retrying on conflict (spec.md §4.2).
type Manager struct {
	base   storage.Operator
	limits config.Limits

	mu             sync.Mutex // the exclusive validate-and-write lock
	currentVersion uint64
	writeSets      map[uint64]map[string]struct{} // bounded history, spec.md "bounded history"
}

// New creates a transaction manager over base, enforcing limits'
// transaction-boundary bounds (window size, retry cap, key/value/batch
// sizes).
func New(base storage.Operator, limits config.Limits) *Manager {
	if limits.TransactionWindow <= 0 {
		limits.TransactionWindow = 16
	}
	if limits.MaxRetries <= 0 {
		limits.MaxRetries = 64
	}
	return &Manager{
		base:      base,
		limits:    limits,
		writeSets: make(map[uint64]map[string]struct{}),
	}
}

type txnCtxKey struct{}

type commitOutcome int

const (
	outcomeConflict commitOutcome = iota
	outcomeCommitted
	outcomeRolledBack
)

// Run executes closure against a fresh ShadowTx, retrying on conflict
// until it commits, the closure errors, or the context is cancelled.
// The closure may run multiple times and therefore must have no
// observable side effect outside storage operations performed through
// tx (spec.md §5). Calling Run again from inside a running closure is
// prohibited: it returns ErrInvalidTransactionState immediately.
func Run[T any](ctx context.Context, m *Manager, closure func(ctx context.Context, tx *ShadowTx) (T, error)) (T, error) {
	var zero T
	if ctx.Value(txnCtxKey{}) != nil {
		return zero, errs.ErrInvalidTransactionState
	}
	ctx = context.WithValue(ctx, txnCtxKey{}, true)

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TransactionDuration)

	attemptID := uuid.NewString()
	logger := log.WithComponent("txn")

	for attempt := 0; ; attempt++ {
		if attempt > m.limits.MaxRetries {
			return zero, errs.ErrTransactionAborted
		}
		if err := ctx.Err(); err != nil {
			return zero, errs.ErrCancelled
		}

		tx := &ShadowTx{
			mgr:          m,
			startVersion: m.snapshotVersion(),
			readSet:      make(map[string]struct{}),
			shadow:       make(map[string]*types.StoredValue),
		}

		result, err := closure(ctx, tx)
		if err != nil {
			// No writes applied; the transaction is rolled back by
			// construction (the shadow map is simply discarded).
			return zero, err
		}

		if ctx.Err() != nil {
			tx.rolledBack = true
		}

		outcome, err := m.tryCommit(ctx, tx)
		if err != nil {
			return zero, err
		}
		switch outcome {
		case outcomeCommitted, outcomeRolledBack:
			return result, nil
		case outcomeConflict:
			metrics.TransactionRetriesTotal.WithLabelValues("read_write_conflict").Inc()
			logger.Debug().Str("attempt_id", attemptID).Int("attempt", attempt).Msg("transaction conflict, retrying")
			continue
		}
	}
}

func (m *Manager) snapshotVersion() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentVersion
}

// tryCommit validates tx against every write-set recorded since its
// startVersion and, absent a conflict, applies its shadow map to the
// base operator atomically.
func (m *Manager) tryCommit(ctx context.Context, tx *ShadowTx) (commitOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.rolledBack {
		return outcomeRolledBack, nil
	}

	finishVersion := m.currentVersion

	// Bounded history: if startVersion has already fallen outside the
	// retained window, conservatively treat as conflict.
	if finishVersion > tx.startVersion && finishVersion-tx.startVersion > uint64(m.limits.TransactionWindow) {
		return outcomeConflict, nil
	}

	for v := tx.startVersion + 1; v <= finishVersion; v++ {
		ws, ok := m.writeSets[v]
		if !ok {
			// Version fell out of the retained window between our
			// version check above and here, or was never recorded.
			return outcomeConflict, nil
		}
		for k := range tx.readSet {
			if _, hit := ws[k]; hit {
				return outcomeConflict, nil
			}
		}
	}

	puts := make(map[string]types.StoredValue, len(tx.shadow))
	var deletes []string
	for k, v := range tx.shadow {
		if v == nil {
			deletes = append(deletes, k)
		} else {
			puts[k] = *v
		}
	}

	if len(puts) > 0 {
		if err := m.base.PutMany(ctx, puts); err != nil {
			return outcomeConflict, err
		}
	}
	if len(deletes) > 0 {
		if _, err := m.base.DeleteMany(ctx, deletes); err != nil {
			return outcomeConflict, err
		}
	}

	newVersion := finishVersion + 1
	m.currentVersion = newVersion
	ws := make(map[string]struct{}, len(tx.shadow))
	for k := range tx.shadow {
		ws[k] = struct{}{}
	}
	m.writeSets[newVersion] = ws

	evict := int64(newVersion) - int64(m.limits.TransactionWindow)
	if evict > 0 {
		delete(m.writeSets, uint64(evict))
	}

	return outcomeCommitted, nil
}
