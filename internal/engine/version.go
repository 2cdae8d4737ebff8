package engine

import (
	"context"
	"sync"

	"github.com/roach88/relhist/internal/history"
)

// Version is a read view of one entity version.
//
// Relationship results are computed on first access and then memoized on
// the Version, so repeated calls return the same slice.
type Version struct {
	history.EntityVersion

	engine *Engine

	mu      sync.Mutex
	related map[string][]*Version
}

func newVersion(e *Engine, v history.EntityVersion) *Version {
	return &Version{EntityVersion: v, engine: e}
}

// Relationship returns the partner versions related to this version
// through role, as of this version's transaction, ordered by partner id.
func (v *Version) Relationship(ctx context.Context, role string) ([]*Version, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if members, ok := v.related[role]; ok {
		return members, nil
	}

	d, err := v.engine.descriptor(v.EntityType, role)
	if err != nil {
		return nil, err
	}
	rows, err := v.engine.recon.Reconstruct(ctx, d, v.EntityID, v.TransactionID)
	if err != nil {
		return nil, err
	}

	members := make([]*Version, len(rows))
	for i, r := range rows {
		members[i] = newVersion(v.engine, r)
	}
	if v.related == nil {
		v.related = make(map[string][]*Version)
	}
	v.related[role] = members
	return members, nil
}

// Previous returns the entity's version before this one, or nil.
func (v *Version) Previous(ctx context.Context) (*Version, error) {
	if v.Index == 0 {
		return nil, nil
	}
	return v.sibling(ctx, v.Index-1)
}

// Next returns the entity's version after this one, or nil.
func (v *Version) Next(ctx context.Context) (*Version, error) {
	return v.sibling(ctx, v.Index+1)
}

func (v *Version) sibling(ctx context.Context, index int) (*Version, error) {
	all, err := v.engine.Versions(ctx, v.EntityType, v.EntityID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(all) {
		return nil, nil
	}
	return all[index], nil
}
