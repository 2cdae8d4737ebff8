package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/relhist/internal/descriptor"
	"github.com/roach88/relhist/internal/history"
	"github.com/roach88/relhist/internal/row"
	"github.com/roach88/relhist/internal/store"
)

// pairKey identifies one physical association pair. The ledger table is
// namespace-qualified, so identically named tables never collide.
type pairKey struct {
	table descriptor.TableRef
	left  string
	right string
}

// stagedOp is the net staged operation on one pair. row.Operation is the
// last operation staged; first is the one that opened the entry. An entry
// whose last operation reverses its first is settled at commit by resolve.
type stagedOp struct {
	row   store.LedgerRow
	d     *descriptor.Descriptor
	first history.Operation
	seq   int
}

func (op *stagedOp) settled() bool {
	return op.row.Operation == op.first
}

// arenaEntry holds the staged operations of one open transaction.
type arenaEntry struct {
	ops map[pairKey]*stagedOp
	seq int
}

// Ledger is the association history ledger.
//
// Writes are staged in an arena keyed by transaction id and made durable
// by the owning unit's commit. Reads go straight to the store and only
// ever see committed operations.
//
// Thread-safety: Ledger is safe for concurrent use. The arena is guarded
// by a mutex; reads take no lock.
type Ledger struct {
	store     *store.Store
	watermark func() int64
	metrics   *Metrics

	mu    sync.Mutex
	arena map[int64]*arenaEntry
}

func newLedger(s *store.Store, watermark func() int64, m *Metrics) *Ledger {
	return &Ledger{
		store:     s,
		watermark: watermark,
		metrics:   m,
		arena:     make(map[int64]*arenaEntry),
	}
}

// RecordInsert stages an association insert of (ownerID, partnerID) under
// txID. carried holds values for the association's carried columns; keys
// must be declared columns.
func (l *Ledger) RecordInsert(d *descriptor.Descriptor, ownerID, partnerID string, txID int64, carried row.Values) error {
	return l.record(d, ownerID, partnerID, txID, history.OpInsert, carried)
}

// RecordDelete stages an association delete of (ownerID, partnerID) under
// txID.
func (l *Ledger) RecordDelete(d *descriptor.Descriptor, ownerID, partnerID string, txID int64) error {
	return l.record(d, ownerID, partnerID, txID, history.OpDelete, nil)
}

func (l *Ledger) record(d *descriptor.Descriptor, ownerID, partnerID string, txID int64, op history.Operation, carried row.Values) error {
	if d.Excluded() {
		return newConfigurationError(d, txID, "relationship is not tracked (%s)", d.Association.ExcludedReason)
	}
	if err := checkCarried(d, txID, carried); err != nil {
		return err
	}
	if txID <= 0 {
		return &HistoryError{
			Code:          ErrCodeMissingTransaction,
			Message:       "no transaction id",
			Relationship:  d.Key(),
			TransactionID: txID,
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.arena[txID]
	if !ok {
		if txID <= l.watermark() {
			return &HistoryError{
				Code:          ErrCodeOrderingViolation,
				Message:       fmt.Sprintf("transaction id is at or below the committed watermark %d", l.watermark()),
				Relationship:  d.Key(),
				TransactionID: txID,
			}
		}
		return &HistoryError{
			Code:          ErrCodeMissingTransaction,
			Message:       "no open unit of work holds this transaction id",
			Relationship:  d.Key(),
			TransactionID: txID,
		}
	}

	left, right := d.Physical(ownerID, partnerID)
	key := pairKey{table: d.Association.LedgerTable, left: left, right: right}

	if prev, ok := entry.ops[key]; ok {
		if prev.row.Operation == op {
			if op == history.OpInsert && carried != nil {
				prev.row.Carried = prev.row.Carried.Merge(carried)
			}
			return nil
		}
		prev.row.Operation = op
		prev.row.Carried = nil
		if op == history.OpInsert {
			prev.row.Carried = carried.Clone()
		}
		if !prev.settled() {
			l.metrics.Collapsed.Inc()
		}
		return nil
	}

	entry.seq++
	entry.ops[key] = &stagedOp{
		row: store.LedgerRow{
			Association: d.Association,
			LeftID:      left,
			RightID:     right,
			Operation:   op,
			Carried:     carried.Clone(),
		},
		d:     d,
		first: op,
		seq:   entry.seq,
	}
	return nil
}

func checkCarried(d *descriptor.Descriptor, txID int64, carried row.Values) error {
	for _, name := range carried.SortedKeys() {
		col, ok := d.Association.CarriedColumn(name)
		if !ok {
			return newConfigurationError(d, txID, "unknown carried column %q", name)
		}
		if !carriedKindMatches(col.Kind, carried[name]) {
			return newConfigurationError(d, txID, "carried column %q wants %s, got %T", name, col.Kind, carried[name])
		}
	}
	return nil
}

func carriedKindMatches(k descriptor.CarriedKind, v row.Value) bool {
	if _, ok := v.(row.Null); ok || v == nil {
		return true
	}
	switch k {
	case descriptor.CarriedInt:
		_, ok := v.(row.Int)
		return ok
	case descriptor.CarriedBool:
		_, ok := v.(row.Bool)
		return ok
	case descriptor.CarriedTimestamp:
		_, err := row.ParseTime(v)
		return err == nil
	default:
		_, ok := v.(row.Text)
		return ok
	}
}

// OperationsFor returns the committed operations of d for ownerID with
// transaction id <= upto, ordered by transaction id then partner id.
// Excluded descriptors have no operations.
func (l *Ledger) OperationsFor(ctx context.Context, d *descriptor.Descriptor, ownerID string, upto int64) ([]history.AssociationOp, error) {
	if d.Excluded() {
		return []history.AssociationOp{}, nil
	}
	ops, err := l.store.ReadOperations(ctx, d, ownerID, upto)
	if err != nil {
		return nil, newStorageError("read ledger", upto, err)
	}
	return ops, nil
}

// livePartners folds the committed operations of d for ownerID up to upto
// and returns partners whose last operation is an insert, sorted.
func (l *Ledger) livePartners(ctx context.Context, d *descriptor.Descriptor, ownerID string, upto int64) ([]string, error) {
	ops, err := l.OperationsFor(ctx, d, ownerID, upto)
	if err != nil {
		return nil, err
	}
	last := make(map[string]history.Operation, len(ops))
	for _, op := range ops {
		last[op.PartnerID] = op.Operation
	}
	partners := make([]string, 0, len(last))
	for p, op := range last {
		if op == history.OpInsert {
			partners = append(partners, p)
		}
	}
	sort.Strings(partners)
	return partners, nil
}

// stagedInserts returns partners of ownerID whose last staged operation
// under txID for d is an insert, sorted.
func (l *Ledger) stagedInserts(d *descriptor.Descriptor, ownerID string, txID int64) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.arena[txID]
	if !ok {
		return nil
	}
	var partners []string
	for key, op := range entry.ops {
		if key.table != d.Association.LedgerTable || op.row.Operation != history.OpInsert {
			continue
		}
		owner, partner := d.Orient(key.left, key.right)
		if owner == ownerID {
			partners = append(partners, partner)
		}
	}
	sort.Strings(partners)
	return partners
}

// open creates the arena entry for a freshly allocated id.
func (l *Ledger) open(txID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.arena[txID] = &arenaEntry{ops: make(map[pairKey]*stagedOp)}
}

// rekey moves a staged entry to a new id. Used when a unit is re-stamped.
func (l *Ledger) rekey(oldID, newID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.arena[oldID]; ok {
		delete(l.arena, oldID)
		l.arena[newID] = entry
	}
}

// discard drops a staged entry.
func (l *Ledger) discard(txID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.arena, txID)
}

// pending returns the number of settled operations staged under txID.
func (l *Ledger) pending(txID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.arena[txID]
	if !ok {
		return 0
	}
	n := 0
	for _, op := range entry.ops {
		if op.settled() {
			n++
		}
	}
	return n
}

// resolve settles every entry under txID whose last operation reverses
// its first. If the first operation changed the pair's committed state at
// upto, the round trip nets to nothing and the entry is dropped. If the
// pair was already in the state the first operation asked for, the last
// operation is a real change and stays staged.
func (l *Ledger) resolve(ctx context.Context, txID, upto int64) error {
	l.mu.Lock()
	entry, ok := l.arena[txID]
	var keys []pairKey
	var ops []*stagedOp
	if ok {
		for key, op := range entry.ops {
			if !op.settled() {
				keys = append(keys, key)
				ops = append(ops, op)
			}
		}
	}
	l.mu.Unlock()

	for i, op := range ops {
		owner, partner := op.d.Orient(op.row.LeftID, op.row.RightID)
		live, err := l.livePartners(ctx, op.d, owner, upto)
		if err != nil {
			return err
		}
		idx := sort.SearchStrings(live, partner)
		wasLive := idx < len(live) && live[idx] == partner

		l.mu.Lock()
		if wasLive == (op.first == history.OpInsert) {
			op.first = op.row.Operation
		} else {
			delete(entry.ops, keys[i])
		}
		l.mu.Unlock()
	}
	return nil
}

// drain removes the entry for txID and returns its net operations in
// staging order. Timestamp carried columns left unset on an insert are
// filled with issuedAt.
func (l *Ledger) drain(txID int64, issuedAt time.Time) []store.LedgerRow {
	l.mu.Lock()
	entry, ok := l.arena[txID]
	delete(l.arena, txID)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	staged := make([]*stagedOp, 0, len(entry.ops))
	for _, op := range entry.ops {
		if op.settled() {
			staged = append(staged, op)
		}
	}
	sort.Slice(staged, func(i, j int) bool { return staged[i].seq < staged[j].seq })

	rows := make([]store.LedgerRow, 0, len(staged))
	for _, op := range staged {
		r := op.row
		if r.Operation == history.OpInsert {
			r.Carried = defaultTimestamps(r.Association, r.Carried, issuedAt)
		}
		rows = append(rows, r)
	}
	return rows
}

func defaultTimestamps(a *descriptor.Association, carried row.Values, issuedAt time.Time) row.Values {
	for _, col := range a.Carried {
		if col.Kind != descriptor.CarriedTimestamp {
			continue
		}
		if _, set := carried[col.Name]; set {
			continue
		}
		if carried == nil {
			carried = row.Values{}
		}
		carried[col.Name] = row.Time(issuedAt)
	}
	return carried
}
