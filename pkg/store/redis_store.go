package store

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the alternate, network-backed TermStore implementation,
// for operators who already run a shared cache/db tier and want every
// mailprobe process training against one logical store (SPEC_FULL.md
// §5). It is grounded on the teacher's own redis_bayes.go: HIncrBy for
// counters, pipelines to batch per-term work, and TxPipeline where two
// keys must move together.
//
// Layout, all keys under KeyPrefix:
//
//	<prefix>term:<term>   hash{good, spam, last_seen}
//	<prefix>meta          hash{total_good, total_spam}
//	<prefix>digest:<hex>  string "good" | "spam"
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	cache  *lruCache
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	URL         string
	KeyPrefix   string
	DatabaseNum int
	CacheSize   int
}

// OpenRedis connects to a Redis server and verifies reachability.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, ErrUnavailable
	}
	if opts.DatabaseNum != 0 {
		redisOpts.DB = opts.DatabaseNum
	}
	rdb := redis.NewClient(redisOpts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, ErrUnavailable
	}

	return &RedisStore{rdb: rdb, prefix: opts.KeyPrefix, cache: newLRUCache(opts.CacheSize)}, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) termKey(term string) string {
	return s.prefix + "term:" + term
}

func (s *RedisStore) metaKey() string {
	return s.prefix + "meta"
}

func (s *RedisStore) digestKey(digest [16]byte) string {
	return s.prefix + "digest:" + hex.EncodeToString(digest[:])
}

func (s *RedisStore) Get(ctx context.Context, term string) (Record, bool, error) {
	if rec, ok := s.cache.get(term); ok {
		return rec, true, nil
	}

	vals, err := s.rdb.HGetAll(ctx, s.termKey(term)).Result()
	if err != nil {
		return Record{}, false, ErrUnavailable
	}
	if len(vals) == 0 {
		return Record{}, false, nil
	}

	rec := recordFromHash(vals)
	s.cache.put(term, rec)
	return rec, true, nil
}

func (s *RedisStore) GetMany(ctx context.Context, terms []string) (map[string]Record, error) {
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

	pipe := s.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(misses))
	for _, term := range misses {
		cmds[term] = pipe.HGetAll(ctx, s.termKey(term))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, ErrUnavailable
	}

	for term, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		rec := recordFromHash(vals)
		out[term] = rec
		s.cache.put(term, rec)
	}
	return out, nil
}

func (s *RedisStore) Apply(ctx context.Context, terms []string, class Class, delta int, digest [16]byte, hasDigest bool, now time.Time) error {
	day := epochDays(now)
	field := countField(class)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, term := range terms {
			key := s.termKey(term)
			pipe.HIncrBy(ctx, key, field, int64(delta))
			pipe.HSet(ctx, key, "last_seen", day)
		}
		pipe.HIncrBy(ctx, s.metaKey(), metaField(class), int64(delta))

		if hasDigest {
			if delta > 0 {
				pipe.Set(ctx, s.digestKey(digest), class.String(), 0)
			} else {
				pipe.Del(ctx, s.digestKey(digest))
			}
		}
		return nil
	})
	if err != nil {
		return ErrUnavailable
	}

	for _, term := range terms {
		s.cache.invalidate(term)
	}
	return nil
}

func (s *RedisStore) Reclassify(ctx context.Context, terms []string, from, to Class, digest [16]byte, now time.Time) error {
	day := epochDays(now)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, term := range terms {
			key := s.termKey(term)
			pipe.HIncrBy(ctx, key, countField(from), -1)
			pipe.HIncrBy(ctx, key, countField(to), 1)
			pipe.HSet(ctx, key, "last_seen", day)
		}
		pipe.HIncrBy(ctx, s.metaKey(), metaField(from), -1)
		pipe.HIncrBy(ctx, s.metaKey(), metaField(to), 1)
		pipe.Set(ctx, s.digestKey(digest), to.String(), 0)
		return nil
	})
	if err != nil {
		return ErrUnavailable
	}

	for _, term := range terms {
		s.cache.invalidate(term)
	}
	return nil
}

func (s *RedisStore) ContainsDigest(ctx context.Context, digest [16]byte) (Class, bool, error) {
	val, err := s.rdb.Get(ctx, s.digestKey(digest)).Result()
	if err == redis.Nil {
		return Unknown, false, nil
	}
	if err != nil {
		return Unknown, false, ErrUnavailable
	}
	if val == "spam" {
		return Spam, true, nil
	}
	return Good, true, nil
}

func (s *RedisStore) Counters(ctx context.Context) (Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, s.metaKey()).Result()
	if err != nil {
		return Counters{}, ErrUnavailable
	}
	return Counters{
		TotalGood: parseIntOrZero(vals["total_good"]),
		TotalSpam: parseIntOrZero(vals["total_spam"]),
	}, nil
}

// Stats counts vocabulary size with a SCAN pass (no O(1) key-count
// primitive exists for a pattern-scoped keyspace in Redis) and reports the
// in-memory LRU's cumulative hit/miss counters.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	var vocab int64
	err := s.scanTerms(ctx, func(string, map[string]string) error {
		vocab++
		return nil
	})
	if err != nil {
		return Stats{}, ErrUnavailable
	}

	hits, misses, _ := s.cache.stats()
	return Stats{VocabSize: vocab, CacheHits: hits, CacheMisses: misses}, nil
}

// Maintenance scans every term key under the prefix, deleting near-empty,
// stale records. SCAN is used rather than KEYS to avoid blocking a shared
// server (the teacher's redis_bayes.go does the same for its cleanup pass).
func (s *RedisStore) Maintenance(ctx context.Context, now time.Time, expiryDays int) (MaintenanceResult, error) {
	cutoff := epochDays(now) - int64(expiryDays)
	var result MaintenanceResult

	err := s.scanTerms(ctx, func(key string, vals map[string]string) error {
		rec := recordFromHash(vals)
		if rec.Good+rec.Spam <= 1 && rec.LastSeenDays < cutoff {
			if err := s.rdb.Del(ctx, key).Err(); err != nil {
				return err
			}
			result.TermsRemoved++
		}
		return nil
	})
	if err != nil {
		return MaintenanceResult{}, ErrUnavailable
	}

	s.cache.clear()
	return result, nil
}

func (s *RedisStore) Purge(ctx context.Context, minTokenCount int) (PurgeResult, error) {
	var result PurgeResult

	err := s.scanTerms(ctx, func(key string, vals map[string]string) error {
		rec := recordFromHash(vals)
		if rec.Good+rec.Spam < int64(minTokenCount) {
			if err := s.rdb.Del(ctx, key).Err(); err != nil {
				return err
			}
			result.TermsRemoved++
		}
		return nil
	})
	if err != nil {
		return PurgeResult{}, ErrUnavailable
	}

	s.cache.clear()
	return result, nil
}

func (s *RedisStore) scanTerms(ctx context.Context, fn func(key string, vals map[string]string) error) error {
	pattern := s.prefix + "term:*"
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if err := fn(key, vals); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Backup and Restore have no meaning for a shared network store: there is
// no single file to copy, and another process may be writing concurrently.
func (s *RedisStore) Backup(dst string) error {
	return ErrUnsupported
}

func (s *RedisStore) Restore(src string) error {
	return ErrUnsupported
}

func countField(class Class) string {
	if class == Spam {
		return "spam"
	}
	return "good"
}

func metaField(class Class) string {
	if class == Spam {
		return "total_spam"
	}
	return "total_good"
}

func recordFromHash(vals map[string]string) Record {
	return Record{
		Good:         parseIntOrZero(vals["good"]),
		Spam:         parseIntOrZero(vals["spam"]),
		LastSeenDays: parseIntOrZero(vals["last_seen"]),
	}
}

func parseIntOrZero(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
