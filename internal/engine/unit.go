package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/relhist/internal/descriptor"
	"github.com/roach88/relhist/internal/history"
	"github.com/roach88/relhist/internal/row"
	"github.com/roach88/relhist/internal/store"
)

type unitState int

const (
	unitOpen unitState = iota
	unitCommitted
	unitAborted
)

func (s unitState) String() string {
	switch s {
	case unitCommitted:
		return "committed"
	case unitAborted:
		return "aborted"
	}
	return "open"
}

type versionKey struct {
	entity string
	id     string
}

type stagedVersion struct {
	entity *descriptor.EntityType
	id     string
	op     history.Operation
	values row.Values
	seq    int
}

// UnitOfWork groups entity and association changes that become durable
// together under one transaction id.
//
// The transaction id is allocated on the first staged change, or on the
// first CurrentID call, and is fixed until commit. If a unit allocated
// later commits first, Commit re-stamps this unit with a fresh id.
//
// Thread-safety: UnitOfWork methods are safe for concurrent use, but a
// unit is normally driven by one goroutine.
type UnitOfWork struct {
	engine     *Engine
	handle     string
	actor      string
	remoteAddr string

	mu       sync.Mutex
	state    unitState
	id       int64
	versions map[versionKey]*stagedVersion
	seq      int
}

// Handle returns the unit's opaque handle.
func (u *UnitOfWork) Handle() string {
	return u.handle
}

// ID returns the allocated transaction id, or 0 if none is allocated yet.
// It never allocates.
func (u *UnitOfWork) ID() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.id
}

// CurrentID returns the unit's transaction id, allocating it on first use.
// Repeated calls return the same id until commit.
func (u *UnitOfWork) CurrentID() (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return 0, err
	}
	return u.allocate(), nil
}

// allocate assigns an id on first use. Caller holds u.mu.
func (u *UnitOfWork) allocate() int64 {
	if u.id == 0 {
		u.id = u.engine.clock.Next()
		u.engine.ledger.open(u.id)
	}
	return u.id
}

func (u *UnitOfWork) checkOpen() error {
	if u.state == unitOpen {
		return nil
	}
	return &HistoryError{
		Code:          ErrCodeMissingTransaction,
		Message:       fmt.Sprintf("unit of work %s is %s", u.handle, u.state),
		TransactionID: u.id,
	}
}

// Insert stages the creation of an entity. values is the entity's full
// column state.
func (u *UnitOfWork) Insert(entityType, id string, values row.Values) error {
	_, err := u.stageVersion(entityType, id, history.OpInsert, values)
	return err
}

// Update stages a change to an entity. Within one unit, values are merged
// over earlier staged values.
func (u *UnitOfWork) Update(entityType, id string, values row.Values) error {
	_, err := u.stageVersion(entityType, id, history.OpUpdate, values)
	return err
}

// Delete stages the deletion of an entity and an unlink of every pair it
// currently participates in through a tracked relationship. values is the
// final column state recorded in the delete tombstone; nil keeps the
// values staged earlier in this unit, if any.
func (u *UnitOfWork) Delete(ctx context.Context, entityType, id string, values row.Values) error {
	txID, err := u.stageVersion(entityType, id, history.OpDelete, values)
	if err != nil {
		return err
	}
	et, _ := u.engine.registry.Entity(entityType)

	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return err
	}

	watermark := u.engine.Watermark()
	for _, d := range u.engine.registry.Owned(et.Key()) {
		if d.Excluded() {
			continue
		}
		live, err := u.engine.ledger.livePartners(ctx, d, id, watermark)
		if err != nil {
			return err
		}
		staged := u.engine.ledger.stagedInserts(d, id, txID)
		for _, partner := range mergeSorted(live, staged) {
			if err := u.engine.ledger.RecordDelete(d, id, partner, txID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (u *UnitOfWork) stageVersion(entityType, id string, op history.Operation, values row.Values) (int64, error) {
	et, err := u.engine.versionedEntity(entityType)
	if err != nil {
		return 0, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return 0, err
	}
	txID := u.allocate()

	key := versionKey{entity: et.Key(), id: id}
	prev, ok := u.versions[key]
	if !ok {
		u.seq++
		u.versions[key] = &stagedVersion{
			entity: et,
			id:     id,
			op:     op,
			values: values.Clone(),
			seq:    u.seq,
		}
		return txID, nil
	}

	merged, keep, valid := mergeOperations(prev.op, op)
	if !valid {
		return 0, &HistoryError{
			Code:          ErrCodeInvalidOperation,
			Message:       fmt.Sprintf("cannot %s %s after %s in the same unit of work", op, id, prev.op),
			EntityType:    et.Key(),
			TransactionID: txID,
		}
	}
	if !keep {
		delete(u.versions, key)
		return txID, nil
	}

	switch op {
	case history.OpUpdate:
		prev.values = prev.values.Merge(values)
	case history.OpInsert:
		prev.values = values.Clone()
	case history.OpDelete:
		if values != nil {
			prev.values = values.Clone()
		}
	}
	prev.op = merged
	return txID, nil
}

// mergeOperations folds a newly staged operation into an earlier one for
// the same entity. keep is false when the two cancel; valid is false when
// the sequence is contradictory.
func mergeOperations(prev, next history.Operation) (merged history.Operation, keep, valid bool) {
	switch prev {
	case history.OpInsert:
		switch next {
		case history.OpUpdate:
			return history.OpInsert, true, true
		case history.OpDelete:
			return 0, false, true
		}
	case history.OpUpdate:
		switch next {
		case history.OpUpdate:
			return history.OpUpdate, true, true
		case history.OpDelete:
			return history.OpDelete, true, true
		}
	case history.OpDelete:
		switch next {
		case history.OpInsert:
			return history.OpUpdate, true, true
		case history.OpDelete:
			return history.OpDelete, true, true
		}
	}
	return 0, false, false
}

// Link stages an association insert between ownerID and partnerID through
// the relationship named role on entityType.
func (u *UnitOfWork) Link(entityType, role, ownerID, partnerID string, carried row.Values) error {
	return u.stageAssociation(entityType, role, ownerID, partnerID, history.OpInsert, carried)
}

// Unlink stages an association delete between ownerID and partnerID.
func (u *UnitOfWork) Unlink(entityType, role, ownerID, partnerID string) error {
	return u.stageAssociation(entityType, role, ownerID, partnerID, history.OpDelete, nil)
}

func (u *UnitOfWork) stageAssociation(entityType, role, ownerID, partnerID string, op history.Operation, carried row.Values) error {
	d, err := u.engine.descriptor(entityType, role)
	if err != nil {
		return err
	}
	if d.Excluded() {
		return newConfigurationError(d, 0, "relationship is not tracked (%s)", d.Association.ExcludedReason)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return err
	}
	txID := u.allocate()

	if op == history.OpInsert {
		for _, end := range []versionKey{{d.Owner, ownerID}, {d.Partner, partnerID}} {
			if v, ok := u.versions[end]; ok && v.op == history.OpDelete {
				return &HistoryError{
					Code:          ErrCodeInvalidOperation,
					Message:       fmt.Sprintf("cannot link %s after its delete in the same unit of work", end.id),
					EntityType:    end.entity,
					Relationship:  d.Key(),
					TransactionID: txID,
				}
			}
		}
		return u.engine.ledger.RecordInsert(d, ownerID, partnerID, txID, carried)
	}
	return u.engine.ledger.RecordDelete(d, ownerID, partnerID, txID)
}

// Commit makes the unit's net changes durable and returns the written
// transaction. A unit with no net changes writes nothing and returns a
// zero Transaction; any id it allocated becomes a gap.
//
// On a storage error nothing is written and the unit is aborted.
func (u *UnitOfWork) Commit(ctx context.Context) (history.Transaction, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return history.Transaction{}, err
	}

	e := u.engine
	start := time.Now()

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	if u.id == 0 && len(u.versions) == 0 {
		u.state = unitCommitted
		return history.Transaction{}, nil
	}
	u.allocate()

	if err := e.ledger.resolve(ctx, u.id, e.committed.Load()); err != nil {
		e.ledger.discard(u.id)
		u.state = unitAborted
		e.metrics.Aborts.Inc()
		return history.Transaction{}, err
	}

	if len(u.versions) == 0 && e.ledger.pending(u.id) == 0 {
		e.ledger.discard(u.id)
		u.state = unitCommitted
		e.logger.Debug("commit with no net changes",
			zap.String("handle", u.handle),
			zap.Int64("tx_id", u.id))
		return history.Transaction{}, nil
	}

	if watermark := e.committed.Load(); u.id <= watermark {
		oldID := u.id
		u.id = e.clock.Next()
		e.ledger.rekey(oldID, u.id)
		e.metrics.Restamps.Inc()
		e.logger.Warn("re-stamped unit of work",
			zap.String("handle", u.handle),
			zap.Int64("old_tx_id", oldID),
			zap.Int64("tx_id", u.id),
			zap.Int64("watermark", watermark))
	}

	tx := history.Transaction{
		ID:         u.id,
		IssuedAt:   e.now().UTC(),
		Actor:      u.actor,
		RemoteAddr: u.remoteAddr,
	}
	commit := store.Commit{
		Transaction: tx,
		Versions:    u.stagedVersions(tx.ID),
		Operations:  e.ledger.drain(tx.ID, tx.IssuedAt),
	}

	if err := e.store.WriteCommit(ctx, commit); err != nil {
		u.state = unitAborted
		e.metrics.Aborts.Inc()
		e.logger.Error("commit failed",
			zap.String("handle", u.handle),
			zap.Int64("tx_id", tx.ID),
			zap.Error(err))
		return history.Transaction{}, newStorageError("commit", tx.ID, err)
	}

	e.committed.Store(tx.ID)
	u.state = unitCommitted

	elapsed := time.Since(start)
	e.metrics.Commits.Inc()
	e.metrics.CommitSeconds.Observe(elapsed.Seconds())
	for _, v := range commit.Versions {
		e.metrics.Versions.WithLabelValues(v.Version.Operation.String()).Inc()
	}
	for _, op := range commit.Operations {
		e.metrics.LedgerOps.WithLabelValues(op.Operation.String()).Inc()
	}

	e.logger.Info("committed",
		zap.String("handle", u.handle),
		zap.Int64("tx_id", tx.ID),
		zap.Int("versions", len(commit.Versions)),
		zap.Int("operations", len(commit.Operations)),
		zap.Duration("duration", elapsed))
	return tx, nil
}

// stagedVersions returns the net versions in staging order. Caller holds u.mu.
func (u *UnitOfWork) stagedVersions(txID int64) []store.VersionRow {
	staged := make([]*stagedVersion, 0, len(u.versions))
	for _, v := range u.versions {
		staged = append(staged, v)
	}
	sort.Slice(staged, func(i, j int) bool { return staged[i].seq < staged[j].seq })

	rows := make([]store.VersionRow, 0, len(staged))
	for _, v := range staged {
		rows = append(rows, store.VersionRow{
			Entity: v.entity,
			Version: history.EntityVersion{
				EntityType:    v.entity.Key(),
				EntityID:      v.id,
				TransactionID: txID,
				Operation:     v.op,
				Values:        v.values.Clone(),
			},
		})
	}
	return rows
}

// Abort discards everything staged. An allocated id becomes a gap.
// Aborting a closed unit is a no-op.
func (u *UnitOfWork) Abort() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != unitOpen {
		return
	}
	if u.id != 0 {
		u.engine.ledger.discard(u.id)
	}
	u.versions = nil
	u.state = unitAborted
	u.engine.metrics.Aborts.Inc()
	u.engine.logger.Debug("aborted unit of work",
		zap.String("handle", u.handle),
		zap.Int64("tx_id", u.id))
}

// mergeSorted returns the sorted union of two sorted slices.
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}
