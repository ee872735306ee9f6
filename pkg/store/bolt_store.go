package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketTerms   = "terms"
	bucketMeta    = "meta"
	bucketDigests = "digests"

	metaKeyTotalGood = "total_good"
	metaKeyTotalSpam = "total_spam"
)

// BoltStore is the default embedded TermStore, backed by go.etcd.io/bbolt.
// bbolt gives us exactly the concurrency model spec.md §4.3/§5 asks for
// for free: a single exclusive writer (db.Update) and any number of
// concurrent MVCC-snapshot readers (db.View) that are unaffected by a
// writer in flight. Open's Timeout option maps directly onto ErrBusy.
type BoltStore struct {
	db    *bolt.DB
	path  string
	cache *lruCache
}

// Open creates the store on demand at path and opens it for reading and
// writing (readOnly=false) or read-only access. lockTimeout bounds how
// long Open waits to acquire the file lock before returning ErrBusy.
func Open(path string, readOnly bool, cacheSize int, lockTimeout time.Duration) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		ReadOnly: readOnly,
		Timeout:  lockTimeout,
	})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, ErrBusy
		}
		if isCorruptionError(err) {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, name := range []string{bucketTerms, bucketMeta, bucketDigests} {
				if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return &BoltStore{db: db, path: path, cache: newLRUCache(cacheSize)}, nil
}

func isCorruptionError(err error) bool {
	return errors.Is(err, bolt.ErrInvalid) ||
		errors.Is(err, bolt.ErrVersionMismatch) ||
		errors.Is(err, bolt.ErrChecksum)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(_ context.Context, term string) (Record, bool, error) {
	if rec, ok := s.cache.get(term); ok {
		return rec, true, nil
	}

	var rec Record
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTerms))
		v := b.Get([]byte(term))
		if v == nil {
			return nil
		}
		rec, found = decodeRecord(v), true
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	if found {
		s.cache.put(term, rec)
	}
	return rec, found, nil
}

func (s *BoltStore) GetMany(_ context.Context, terms []string) (map[string]Record, error) {
	out := make(map[string]Record, len(terms))
	var misses []string

	for _, term := range terms {
		if rec, ok := s.cache.get(term); ok {
			out[term] = rec
		} else {
			misses = append(misses, term)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTerms))
		for _, term := range misses {
			v := b.Get([]byte(term))
			if v == nil {
				continue
			}
			rec := decodeRecord(v)
			out[term] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for term, rec := range out {
		s.cache.put(term, rec)
	}
	return out, nil
}

func (s *BoltStore) Apply(_ context.Context, terms []string, class Class, delta int, digest [16]byte, hasDigest bool, now time.Time) error {
	day := epochDays(now)

	err := s.db.Update(func(tx *bolt.Tx) error {
		terms_, err := tx.CreateBucketIfNotExists([]byte(bucketTerms))
		if err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return err
		}
		digests, err := tx.CreateBucketIfNotExists([]byte(bucketDigests))
		if err != nil {
			return err
		}

		for _, term := range terms {
			rec := decodeRecordOrZero(terms_.Get([]byte(term)))
			bumpCount(&rec, class, delta)
			rec.LastSeenDays = day
			if err := terms_.Put([]byte(term), encodeRecord(rec)); err != nil {
				return err
			}
		}

		if err := bumpCounter(meta, counterKey(class), delta); err != nil {
			return err
		}

		if hasDigest {
			if delta > 0 {
				if err := digests.Put(digest[:], classByte(class)); err != nil {
					return err
				}
			} else {
				if err := digests.Delete(digest[:]); err != nil {
					return err
				}
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, term := range terms {
		s.cache.invalidate(term)
	}
	return nil
}

func (s *BoltStore) Reclassify(_ context.Context, terms []string, from, to Class, digest [16]byte, now time.Time) error {
	day := epochDays(now)

	err := s.db.Update(func(tx *bolt.Tx) error {
		terms_, err := tx.CreateBucketIfNotExists([]byte(bucketTerms))
		if err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return err
		}
		digests, err := tx.CreateBucketIfNotExists([]byte(bucketDigests))
		if err != nil {
			return err
		}

		for _, term := range terms {
			rec := decodeRecordOrZero(terms_.Get([]byte(term)))
			bumpCount(&rec, from, -1)
			bumpCount(&rec, to, +1)
			rec.LastSeenDays = day
			if err := terms_.Put([]byte(term), encodeRecord(rec)); err != nil {
				return err
			}
		}

		if err := bumpCounter(meta, counterKey(from), -1); err != nil {
			return err
		}
		if err := bumpCounter(meta, counterKey(to), +1); err != nil {
			return err
		}

		return digests.Put(digest[:], classByte(to))
	})
	if err != nil {
		return err
	}

	for _, term := range terms {
		s.cache.invalidate(term)
	}
	return nil
}

func (s *BoltStore) ContainsDigest(_ context.Context, digest [16]byte) (Class, bool, error) {
	var class Class
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDigests))
		v := b.Get(digest[:])
		if v == nil {
			return nil
		}
		found = true
		class = classFromByte(v)
		return nil
	})
	return class, found, err
}

func (s *BoltStore) Counters(_ context.Context) (Counters, error) {
	var c Counters
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketMeta))
		c.TotalGood = int64(beUint64(b.Get([]byte(metaKeyTotalGood))))
		c.TotalSpam = int64(beUint64(b.Get([]byte(metaKeyTotalSpam))))
		return nil
	})
	return c, err
}

func (s *BoltStore) Stats(_ context.Context) (Stats, error) {
	var vocab int64
	err := s.db.View(func(tx *bolt.Tx) error {
		vocab = int64(tx.Bucket([]byte(bucketTerms)).Stats().KeyN)
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	hits, misses, _ := s.cache.stats()
	return Stats{VocabSize: vocab, CacheHits: hits, CacheMisses: misses}, nil
}

func (s *BoltStore) Maintenance(_ context.Context, now time.Time, expiryDays int) (MaintenanceResult, error) {
	cutoff := epochDays(now) - int64(expiryDays)
	var result MaintenanceResult

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTerms))
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec := decodeRecord(v)
			if rec.Good+rec.Spam <= 1 && rec.LastSeenDays < cutoff {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			result.BytesReclaimed += int64(len(k) + recordSize)
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		result.TermsRemoved = int64(len(toDelete))
		return nil
	})
	if err != nil {
		return MaintenanceResult{}, err
	}

	s.cache.clear()
	return result, nil
}

func (s *BoltStore) Purge(_ context.Context, minTokenCount int) (PurgeResult, error) {
	var result PurgeResult

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTerms))
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec := decodeRecord(v)
			if rec.Good+rec.Spam < int64(minTokenCount) {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		result.TermsRemoved = int64(len(toDelete))
		return nil
	})
	if err != nil {
		return PurgeResult{}, err
	}

	s.cache.clear()
	return result, nil
}

func (s *BoltStore) Backup(dst string) error {
	return s.db.View(func(tx *bolt.Tx) error {
		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = tx.WriteTo(f)
		return err
	})
}

// Restore replaces the store's file from src. The store must not be in
// use by any other writer (spec.md §4.3: "must occur while no writer
// holds the store"); the handle closes and reopens at the same path.
func (s *BoltStore) Restore(src string) error {
	cacheSize := s.cache.capacity
	timeout := bolt.DefaultOptions.Timeout

	if err := s.db.Close(); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(s.path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	reopened, err := Open(s.path, false, cacheSize, timeout)
	if err != nil {
		return err
	}
	*s = *reopened
	return nil
}

func counterKey(class Class) string {
	if class == Spam {
		return metaKeyTotalSpam
	}
	return metaKeyTotalGood
}

func bumpCount(rec *Record, class Class, delta int) {
	switch class {
	case Good:
		rec.Good = clampNonNegative(rec.Good + int64(delta))
	case Spam:
		rec.Spam = clampNonNegative(rec.Spam + int64(delta))
	}
}

func clampNonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func bumpCounter(meta *bolt.Bucket, key string, delta int) error {
	cur := int64(beUint64(meta.Get([]byte(key))))
	cur = clampNonNegative(cur + int64(delta))
	return meta.Put([]byte(key), encodeUint64(uint64(cur)))
}

func classByte(c Class) []byte {
	if c == Spam {
		return []byte{1}
	}
	return []byte{0}
}

func classFromByte(v []byte) Class {
	if len(v) > 0 && v[0] == 1 {
		return Spam
	}
	return Good
}

const recordSize = 24 // 3 x uint64

func encodeRecord(r Record) []byte {
	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(r.Good))
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.Spam))
	binary.BigEndian.PutUint64(buf[16:24], uint64(r.LastSeenDays))
	return buf
}

func decodeRecord(v []byte) Record {
	if len(v) < recordSize {
		return Record{}
	}
	return Record{
		Good:         int64(binary.BigEndian.Uint64(v[0:8])),
		Spam:         int64(binary.BigEndian.Uint64(v[8:16])),
		LastSeenDays: int64(binary.BigEndian.Uint64(v[16:24])),
	}
}

func decodeRecordOrZero(v []byte) Record {
	if v == nil {
		return Record{}
	}
	return decodeRecord(v)
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func beUint64(v []byte) uint64 {
	if len(v) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}
