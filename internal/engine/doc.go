// Package engine implements the relationship history engine.
//
// The engine tracks, for every versioned entity, the full sequence of its
// versions and, for every tracked relationship, an append-only ledger of
// association inserts and deletes. Any past relationship membership can be
// rebuilt from the ledger and the partner version tables.
//
// ARCHITECTURE:
//
// Units of work:
// A host opens a UnitOfWork with Engine.Begin, stages entity versions
// (Insert, Update, Delete) and association changes (Link, Unlink), then
// commits or aborts. The transaction id is allocated lazily on the first
// staged operation and is never reused.
//
// Ledger arena:
// Staged association operations live in an arena keyed by transaction id
// until commit. Within one unit, repeats of the same kind on one physical
// pair are idempotent. A pair whose operations reverse each other is
// settled at commit against the committed state: it writes nothing if the
// first operation was a real change, and the last operation otherwise.
//
// Commit:
// Commits are serialized by an engine mutex. A unit whose id is at or
// below the committed watermark is re-stamped with a fresh id, so durable
// ids increase strictly in commit order and every past version stays
// frozen.
//
// Reconstruction:
// Reconstructor replays a descriptor's ledger up to a transaction id and
// resolves each live partner to its version at that id. Results for
// transactions at or below the watermark are cached.
//
// CRITICAL PATTERNS:
//
// Lazy allocation:
// A unit that stages nothing allocates nothing and writes nothing.
//
// Excluded relationships:
// Relationships with an unversioned endpoint or marked view-only are never
// logged. Staging against them is a configuration error; reconstructing
// them returns an empty, non-nil result.
//
// Read path:
// Versions and Reconstruct take no engine locks. They read only durable
// rows, so concurrent commits never expose partial state.
package engine
