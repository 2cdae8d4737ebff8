package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/relhist/internal/descriptor"
	"github.com/roach88/relhist/internal/history"
	"github.com/roach88/relhist/internal/store"
)

// Engine is the relationship history engine.
//
// Thread-safety model:
//   - Begin, Versions, Reconstruct and the other reads: safe from any goroutine
//   - UnitOfWork.Commit: serialized by an engine mutex
//
// INVARIANTS:
//   - Durable transaction ids increase strictly in commit order
//   - The watermark is the highest durable id and only moves forward
//   - The registry never changes after construction
type Engine struct {
	store     *store.Store
	registry  *descriptor.Registry
	clock     *Clock
	ledger    *Ledger
	recon     *Reconstructor
	handles   HandleGenerator
	now       func() time.Time
	logger    *zap.Logger
	metrics   *Metrics
	cacheSize int

	commitMu  sync.Mutex
	committed atomic.Int64
}

// New creates an Engine over s for the entity types and relationships in
// reg. The transaction clock resumes after the highest durable id.
//
// The store schema must already exist (see store.EnsureSchema).
func New(ctx context.Context, s *store.Store, reg *descriptor.Registry, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:     s,
		registry:  reg,
		handles:   UUIDv7Generator{},
		now:       time.Now,
		logger:    zap.NewNop(),
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}

	maxID, err := s.MaxTransactionID(ctx)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	e.clock = NewClockAt(maxID)
	e.committed.Store(maxID)

	e.ledger = newLedger(s, e.Watermark, e.metrics)
	e.recon, err = newReconstructor(e.ledger, s, reg, e.Watermark, e.cacheSize, e.metrics, e.logger)
	if err != nil {
		return nil, fmt.Errorf("new engine: reconstruction cache: %w", err)
	}

	e.logger.Info("engine started",
		zap.Int64("watermark", maxID),
		zap.Int("entities", len(reg.Entities())),
		zap.Int("associations", len(reg.Associations())))
	return e, nil
}

// Begin opens a unit of work. No transaction id is allocated until the
// unit stages its first change.
func (e *Engine) Begin(opts ...UnitOption) *UnitOfWork {
	u := &UnitOfWork{
		engine:   e,
		handle:   e.handles.Generate(),
		versions: make(map[versionKey]*stagedVersion),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Watermark returns the highest committed transaction id.
func (e *Engine) Watermark() int64 {
	return e.committed.Load()
}

// Registry returns the engine's descriptor registry.
func (e *Engine) Registry() *descriptor.Registry {
	return e.registry
}

// Ledger returns the association history ledger.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// Reconstructor returns the relationship reconstructor.
func (e *Engine) Reconstructor() *Reconstructor {
	return e.recon
}

func (e *Engine) versionedEntity(entityType string) (*descriptor.EntityType, error) {
	et, ok := e.registry.Entity(entityType)
	if !ok {
		return nil, newUnknownEntityError(entityType)
	}
	if !et.Versioned {
		return nil, newUnversionedError(entityType)
	}
	return et, nil
}

func (e *Engine) descriptor(entityType, role string) (*descriptor.Descriptor, error) {
	if _, ok := e.registry.Entity(entityType); !ok {
		return nil, newUnknownEntityError(entityType)
	}
	d, ok := e.registry.Lookup(entityType, role)
	if !ok {
		return nil, newUnknownRelationshipError(entityType, role)
	}
	return d, nil
}

// Versions returns every version of one entity, oldest first. Each call
// re-reads the store. An entity with no history yields an empty slice.
func (e *Engine) Versions(ctx context.Context, entityType, id string) ([]*Version, error) {
	et, err := e.versionedEntity(entityType)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.ReadVersions(ctx, et, id)
	if err != nil {
		return nil, newStorageError("read versions", 0, err)
	}
	out := make([]*Version, len(rows))
	for i, r := range rows {
		out[i] = newVersion(e, r)
	}
	return out, nil
}

// VersionAt returns the latest version of an entity with transaction id
// <= txID, or nil if it had none.
func (e *Engine) VersionAt(ctx context.Context, entityType, id string, txID int64) (*Version, error) {
	et, err := e.versionedEntity(entityType)
	if err != nil {
		return nil, err
	}
	v, found, err := e.store.ReadVersionAt(ctx, et, id, txID)
	if err != nil {
		return nil, newStorageError("read version", txID, err)
	}
	if !found {
		return nil, nil
	}
	return newVersion(e, v), nil
}

// Reconstruct returns the members of ownerID's relationship role as of
// txID. See Reconstructor.Reconstruct.
func (e *Engine) Reconstruct(ctx context.Context, entityType, role, ownerID string, txID int64) ([]history.EntityVersion, error) {
	d, err := e.descriptor(entityType, role)
	if err != nil {
		return nil, err
	}
	return e.recon.Reconstruct(ctx, d, ownerID, txID)
}

// Transaction returns one committed transaction.
func (e *Engine) Transaction(ctx context.Context, id int64) (history.Transaction, error) {
	tx, err := e.store.ReadTransaction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return history.Transaction{}, &HistoryError{
			Code:          ErrCodeMissingTransaction,
			Message:       "transaction was never committed",
			TransactionID: id,
			Err:           err,
		}
	}
	if err != nil {
		return history.Transaction{}, newStorageError("read transaction", id, err)
	}
	return tx, nil
}

// Transactions returns up to limit committed transactions with id > after,
// oldest first.
func (e *Engine) Transactions(ctx context.Context, after int64, limit int) ([]history.Transaction, error) {
	txs, err := e.store.ReadTransactions(ctx, after, limit)
	if err != nil {
		return nil, newStorageError("read transactions", after, err)
	}
	return txs, nil
}

// ChangedEntities returns the versions written by transaction id, keyed by
// entity type. Entity types with no change are absent.
func (e *Engine) ChangedEntities(ctx context.Context, id int64) (map[string][]history.EntityVersion, error) {
	if _, err := e.Transaction(ctx, id); err != nil {
		return nil, err
	}
	changed := make(map[string][]history.EntityVersion)
	for _, et := range e.registry.Entities() {
		if !et.Versioned {
			continue
		}
		vs, err := e.store.ReadVersionsByTransaction(ctx, et, id)
		if err != nil {
			return nil, newStorageError("read changed entities", id, err)
		}
		if len(vs) > 0 {
			changed[et.Key()] = vs
		}
	}
	return changed, nil
}
