// Package store implements the TermStore component (spec.md §4.3): a
// durable mapping from term -> TermRecord, a digest set, and corpus
// counters, with single-writer/multi-reader discipline and crash safety.
//
// Two implementations satisfy Store: BoltStore (the default, embedded
// engine, go.etcd.io/bbolt) and RedisStore (a shared, network-backed
// alternative, github.com/redis/go-redis/v9). Classifier and Scorer only
// ever see the Store interface.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// Class is the training class a term or digest belongs to.
type Class int

const (
	// Unknown means no record/digest was found.
	Unknown Class = iota
	Good
	Spam
)

func (c Class) String() string {
	switch c {
	case Good:
		return "good"
	case Spam:
		return "spam"
	default:
		return "unknown"
	}
}

// Record is the persisted state for one term (spec.md §3 TermRecord).
// Counts never go negative; a record with both counts at zero is eligible
// for deletion on the next maintenance pass.
type Record struct {
	Good         int64
	Spam         int64
	LastSeenDays int64 // days since the Unix epoch
}

// Counters are the persistent global corpus counters (spec.md §3).
type Counters struct {
	TotalGood int64
	TotalSpam int64
}

// Stats reports point-in-time store diagnostics for the "info" command
// (SPEC_FULL.md §6): vocabulary size and the in-memory LRU's cumulative
// hit/miss counts since the store was opened.
type Stats struct {
	VocabSize   int64
	CacheHits   int64
	CacheMisses int64
}

// MaintenanceResult reports the effect of a maintenance pass.
type MaintenanceResult struct {
	TermsRemoved   int64
	BytesReclaimed int64
}

// PurgeResult reports the effect of a purge pass.
type PurgeResult struct {
	TermsRemoved int64
}

// Errors matching the taxonomy in spec.md §7.
var (
	// ErrUnavailable: cannot open/create the store. Fatal to the caller.
	ErrUnavailable = errors.New("store: unavailable")
	// ErrCorrupt: integrity check failed on open or read. Fatal; recovery
	// is export/import from the last good dump.
	ErrCorrupt = errors.New("store: corrupt")
	// ErrBusy: lock acquisition timed out. The caller may retry.
	ErrBusy = errors.New("store: busy")
	// ErrUnsupported: the operation has no meaning for this backend (e.g.
	// Backup/Restore on a network-backed store).
	ErrUnsupported = errors.New("store: unsupported by this backend")
)

// Store is the persistent TermStore. Implementations must provide
// linearizable ordering between a completed Apply/Reclassify and any
// classify (Get/GetMany) call started after it returns (spec.md §5).
type Store interface {
	// Get fetches one term's record, served from cache when possible.
	Get(ctx context.Context, term string) (Record, bool, error)

	// GetMany batches a lookup for scoring: one read per distinct term.
	GetMany(ctx context.Context, terms []string) (map[string]Record, error)

	// Apply atomically increments or decrements every term in terms by
	// delta (+1 or -1) for class, adjusts the corresponding corpus
	// counter by delta, and records or removes digest under class
	// (hasDigest selects whether the digest mutation happens at all —
	// Classifier.Remove on an unknown digest never calls Apply).
	Apply(ctx context.Context, terms []string, class Class, delta int, digest [16]byte, hasDigest bool, now time.Time) error

	// Reclassify atomically moves a message's evidence from one class to
	// the other: decrements terms/corpus counter under from, increments
	// under to, and re-tags the digest — all in one commit (spec.md §4.5
	// train: "reclassify").
	Reclassify(ctx context.Context, terms []string, from, to Class, digest [16]byte, now time.Time) error

	// ContainsDigest reports whether a message digest has been trained,
	// and under which class.
	ContainsDigest(ctx context.Context, digest [16]byte) (Class, bool, error)

	// Counters returns the current corpus counters.
	Counters(ctx context.Context) (Counters, error)

	// Stats returns vocabulary size and cache hit/miss counters.
	Stats(ctx context.Context) (Stats, error)

	// Maintenance deletes records with total count <= 1 whose last_seen
	// is older than now - expiryDays (spec.md §4.3). Records are deleted
	// in place; the underlying storage is not compacted.
	Maintenance(ctx context.Context, now time.Time, expiryDays int) (MaintenanceResult, error)

	// Purge deletes every record with total count < minTokenCount,
	// regardless of age (spec.md §9 open question: purge vs cleanup).
	Purge(ctx context.Context, minTokenCount int) (PurgeResult, error)

	// Export writes the portable text dump (spec.md §6).
	Export(ctx context.Context, w io.Writer) error

	// Import loads the portable text dump into an empty store.
	Import(ctx context.Context, r io.Reader) error

	// Backup performs a file-level consistent copy of the store.
	// Returns ErrUnsupported for backends with no single on-disk file.
	Backup(dst string) error

	// Restore replaces the store's contents from a prior Backup. Must be
	// called while no writer holds the store.
	Restore(src string) error

	// Close releases any held resources (file handles, connections).
	Close() error
}

func epochDays(t time.Time) int64 {
	return t.Unix() / 86400
}
