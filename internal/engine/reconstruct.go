package engine

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/roach88/relhist/internal/descriptor"
	"github.com/roach88/relhist/internal/history"
	"github.com/roach88/relhist/internal/store"
)

type reconKey struct {
	relationship string
	ownerID      string
	txID         int64
}

// Reconstructor rebuilds relationship membership as of a transaction.
//
// Results for transactions at or below the committed watermark never
// change, so they are memoized in an LRU cache. Results above the
// watermark are computed but not cached: a later commit may land there.
type Reconstructor struct {
	ledger    *Ledger
	store     *store.Store
	registry  *descriptor.Registry
	watermark func() int64
	cache     *lru.Cache[reconKey, []history.EntityVersion]
	metrics   *Metrics
	logger    *zap.Logger
}

func newReconstructor(l *Ledger, s *store.Store, reg *descriptor.Registry, watermark func() int64, size int, m *Metrics, logger *zap.Logger) (*Reconstructor, error) {
	r := &Reconstructor{
		ledger:    l,
		store:     s,
		registry:  reg,
		watermark: watermark,
		metrics:   m,
		logger:    logger,
	}
	if size > 0 {
		cache, err := lru.New[reconKey, []history.EntityVersion](size)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}
	return r, nil
}

// Reconstruct returns the partner versions related to ownerID through d as
// of transaction txID, ordered by partner id.
//
// A partner is a member when its last ledger operation with id <= txID is
// an insert and it has a version with id <= txID that is not a delete
// tombstone. The version returned is the partner's latest at txID.
//
// Excluded descriptors return an empty, non-nil slice.
func (r *Reconstructor) Reconstruct(ctx context.Context, d *descriptor.Descriptor, ownerID string, txID int64) ([]history.EntityVersion, error) {
	if d.Excluded() {
		r.metrics.Reconstructions.WithLabelValues(resultExcluded).Inc()
		return []history.EntityVersion{}, nil
	}

	key := reconKey{relationship: d.Key(), ownerID: ownerID, txID: txID}
	cacheable := r.cache != nil && txID <= r.watermark()
	if cacheable {
		if cached, ok := r.cache.Get(key); ok {
			r.metrics.Reconstructions.WithLabelValues(resultHit).Inc()
			return cloneVersions(cached), nil
		}
	}
	r.metrics.Reconstructions.WithLabelValues(resultMiss).Inc()

	start := time.Now()
	members, err := r.build(ctx, d, ownerID, txID)
	if err != nil {
		return nil, err
	}
	r.metrics.ReconstructSecs.Observe(time.Since(start).Seconds())

	r.logger.Debug("reconstructed relationship",
		zap.String("relationship", d.Key()),
		zap.String("owner_id", ownerID),
		zap.Int64("tx_id", txID),
		zap.Int("members", len(members)),
		zap.Bool("cached", cacheable))

	if cacheable {
		r.cache.Add(key, members)
	}
	return cloneVersions(members), nil
}

func (r *Reconstructor) build(ctx context.Context, d *descriptor.Descriptor, ownerID string, txID int64) ([]history.EntityVersion, error) {
	partnerType, ok := r.registry.Entity(d.Partner)
	if !ok {
		return nil, newUnknownEntityError(d.Partner)
	}

	partners, err := r.ledger.livePartners(ctx, d, ownerID, txID)
	if err != nil {
		return nil, err
	}

	members := make([]history.EntityVersion, 0, len(partners))
	for _, p := range partners {
		v, found, err := r.store.ReadVersionAt(ctx, partnerType, p, txID)
		if err != nil {
			return nil, newStorageError("resolve partner version", txID, err)
		}
		if !found || v.Operation == history.OpDelete {
			continue
		}
		members = append(members, v)
	}
	return members, nil
}

func cloneVersions(vs []history.EntityVersion) []history.EntityVersion {
	out := make([]history.EntityVersion, len(vs))
	copy(out, vs)
	return out
}
