package store

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	bolt "go.etcd.io/bbolt"
)

// exportHeader and exportFooter frame the portable dump (spec.md §6).
const (
	exportHeader  = "#mailprobe-export v1"
	exportDigests = "#digests"
	exportFooter  = "#end"
)

// termRow is one decoded export line, used by both backends' Import.
type termRow struct {
	term string
	rec  Record
}

type digestRow struct {
	digest [16]byte
	class  Class
}

// writeExport renders the text dump given the full set of rows; both
// backends gather their rows differently (bucket scan vs. Redis SCAN) but
// share this single encoder so the on-disk format never drifts between
// them.
func writeExport(w io.Writer, counters Counters, terms []termRow, digests []digestRow) error {
	bw := bufio.NewWriter(w)

	if _, err := fmt.Fprintln(bw, exportHeader); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "#good %d\n", counters.TotalGood); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "#spam %d\n", counters.TotalSpam); err != nil {
		return err
	}

	for _, row := range terms {
		_, err := fmt.Fprintf(bw, "%s\t%d\t%d\t%d\n", escapeTerm(row.term), row.rec.Good, row.rec.Spam, row.rec.LastSeenDays)
		if err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintln(bw, exportDigests); err != nil {
		return err
	}
	for _, d := range digests {
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", hex.EncodeToString(d.digest[:]), d.class.String()); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintln(bw, exportFooter); err != nil {
		return err
	}
	return bw.Flush()
}

// parsedExport is the fully decoded dump, ready for a backend to replay
// into an empty store.
type parsedExport struct {
	counters Counters
	terms    []termRow
	digests  []digestRow
}

func parseExport(r io.Reader) (*parsedExport, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		return nil, fmt.Errorf("%w: empty export", ErrCorrupt)
	}
	if strings.TrimRight(sc.Text(), "\r") != exportHeader {
		return nil, fmt.Errorf("%w: missing export header", ErrCorrupt)
	}

	out := &parsedExport{}

	if !sc.Scan() {
		return nil, fmt.Errorf("%w: missing #good line", ErrCorrupt)
	}
	good, err := parsePrefixedInt(sc.Text(), "#good ")
	if err != nil {
		return nil, err
	}
	out.counters.TotalGood = good

	if !sc.Scan() {
		return nil, fmt.Errorf("%w: missing #spam line", ErrCorrupt)
	}
	spam, err := parsePrefixedInt(sc.Text(), "#spam ")
	if err != nil {
		return nil, err
	}
	out.counters.TotalSpam = spam

	inDigests := false
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch line {
		case exportDigests:
			inDigests = true
			continue
		case exportFooter:
			return out, nil
		case "":
			continue
		}

		if inDigests {
			row, err := parseDigestLine(line)
			if err != nil {
				return nil, err
			}
			out.digests = append(out.digests, row)
			continue
		}

		row, err := parseTermLine(line)
		if err != nil {
			return nil, err
		}
		out.terms = append(out.terms, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil, fmt.Errorf("%w: missing #end footer", ErrCorrupt)
}

func parsePrefixedInt(line, prefix string) (int64, error) {
	if !strings.HasPrefix(line, prefix) {
		return 0, fmt.Errorf("%w: expected %q, got %q", ErrCorrupt, prefix, line)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(line[len(prefix):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return n, nil
}

func parseTermLine(line string) (termRow, error) {
	fields := splitUnescapedTabs(line)
	if len(fields) != 4 {
		return termRow{}, fmt.Errorf("%w: malformed term line %q", ErrCorrupt, line)
	}
	good, err1 := strconv.ParseInt(fields[1], 10, 64)
	spam, err2 := strconv.ParseInt(fields[2], 10, 64)
	lastSeen, err3 := strconv.ParseInt(fields[3], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return termRow{}, fmt.Errorf("%w: malformed term line %q", ErrCorrupt, line)
	}
	return termRow{
		term: unescapeTerm(fields[0]),
		rec:  Record{Good: good, Spam: spam, LastSeenDays: lastSeen},
	}, nil
}

func parseDigestLine(line string) (digestRow, error) {
	fields := strings.SplitN(line, "\t", 2)
	if len(fields) != 2 {
		return digestRow{}, fmt.Errorf("%w: malformed digest line %q", ErrCorrupt, line)
	}
	raw, err := hex.DecodeString(fields[0])
	if err != nil || len(raw) != 16 {
		return digestRow{}, fmt.Errorf("%w: malformed digest %q", ErrCorrupt, fields[0])
	}
	var digest [16]byte
	copy(digest[:], raw)

	var class Class
	switch fields[1] {
	case "good":
		class = Good
	case "spam":
		class = Spam
	default:
		return digestRow{}, fmt.Errorf("%w: unknown class %q", ErrCorrupt, fields[1])
	}
	return digestRow{digest: digest, class: class}, nil
}

// escapeTerm backslash-escapes \t, \n and \\ so a term can never be
// mistaken for a field separator (spec.md §6).
func escapeTerm(term string) string {
	var b strings.Builder
	for _, r := range term {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeTerm(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			case 't':
				b.WriteByte('\t')
				i++
				continue
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// splitUnescapedTabs splits on tab bytes not preceded by an odd run of
// backslashes, so an escaped "\t" inside a term never splits the line.
func splitUnescapedTabs(line string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if escaped {
			cur.WriteByte(c)
			escaped = false
			continue
		}
		switch c {
		case '\\':
			cur.WriteByte(c)
			escaped = true
		case '\t':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

// Export for BoltStore walks the terms and digests buckets in key order
// so the dump is byte-reproducible for a given store state.
func (s *BoltStore) Export(_ context.Context, w io.Writer) error {
	var terms []termRow
	var digests []digestRow
	var counters Counters

	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		counters.TotalGood = int64(beUint64(meta.Get([]byte(metaKeyTotalGood))))
		counters.TotalSpam = int64(beUint64(meta.Get([]byte(metaKeyTotalSpam))))

		tb := tx.Bucket([]byte(bucketTerms))
		if err := tb.ForEach(func(k, v []byte) error {
			terms = append(terms, termRow{term: string(k), rec: decodeRecord(v)})
			return nil
		}); err != nil {
			return err
		}

		db := tx.Bucket([]byte(bucketDigests))
		return db.ForEach(func(k, v []byte) error {
			var digest [16]byte
			copy(digest[:], k)
			digests = append(digests, digestRow{digest: digest, class: classFromByte(v)})
			return nil
		})
	})
	if err != nil {
		return err
	}

	return writeExport(w, counters, terms, digests)
}

// Import replaces the store's contents with the dump's contents. It is
// meant to run against an empty (freshly created) store, per spec.md §6.
func (s *BoltStore) Import(_ context.Context, r io.Reader) error {
	parsed, err := parseExport(r)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketTerms, bucketMeta, bucketDigests} {
			if err := tx.DeleteBucket([]byte(name)); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
		}
		terms, err := tx.CreateBucket([]byte(bucketTerms))
		if err != nil {
			return err
		}
		meta, err := tx.CreateBucket([]byte(bucketMeta))
		if err != nil {
			return err
		}
		digests, err := tx.CreateBucket([]byte(bucketDigests))
		if err != nil {
			return err
		}

		if err := meta.Put([]byte(metaKeyTotalGood), encodeUint64(uint64(parsed.counters.TotalGood))); err != nil {
			return err
		}
		if err := meta.Put([]byte(metaKeyTotalSpam), encodeUint64(uint64(parsed.counters.TotalSpam))); err != nil {
			return err
		}
		for _, row := range parsed.terms {
			if err := terms.Put([]byte(row.term), encodeRecord(row.rec)); err != nil {
				return err
			}
		}
		for _, d := range parsed.digests {
			if err := digests.Put(d.digest[:], classByte(d.class)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Export for RedisStore scans every term: key plus the digest: keys under
// the configured prefix.
func (s *RedisStore) Export(ctx context.Context, w io.Writer) error {
	counters, err := s.Counters(ctx)
	if err != nil {
		return err
	}

	var terms []termRow
	err = s.scanTerms(ctx, func(key string, vals map[string]string) error {
		term := strings.TrimPrefix(key, s.prefix+"term:")
		terms = append(terms, termRow{term: term, rec: recordFromHash(vals)})
		return nil
	})
	if err != nil {
		return ErrUnavailable
	}

	var digests []digestRow
	pattern := s.prefix + "digest:*"
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			return ErrUnavailable
		}
		hexDigest := strings.TrimPrefix(key, s.prefix+"digest:")
		raw, err := hex.DecodeString(hexDigest)
		if err != nil || len(raw) != 16 {
			continue
		}
		var digest [16]byte
		copy(digest[:], raw)
		class := Good
		if val == "spam" {
			class = Spam
		}
		digests = append(digests, digestRow{digest: digest, class: class})
	}
	if err := iter.Err(); err != nil {
		return ErrUnavailable
	}

	return writeExport(w, counters, terms, digests)
}

// Import replays a dump into the store, overwriting any existing keys
// under the configured prefix (meant for use against a fresh database or
// a fresh prefix, per spec.md §6).
func (s *RedisStore) Import(ctx context.Context, r io.Reader) error {
	parsed, err := parseExport(r)
	if err != nil {
		return err
	}

	const batchSize = 500
	for i := 0; i < len(parsed.terms); i += batchSize {
		end := i + batchSize
		if end > len(parsed.terms) {
			end = len(parsed.terms)
		}
		batch := parsed.terms[i:end]

		_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, row := range batch {
				key := s.termKey(row.term)
				pipe.HSet(ctx, key, "good", row.rec.Good, "spam", row.rec.Spam, "last_seen", row.rec.LastSeenDays)
			}
			return nil
		})
		if err != nil {
			return ErrUnavailable
		}
	}

	err = s.rdb.HSet(ctx, s.metaKey(), "total_good", parsed.counters.TotalGood, "total_spam", parsed.counters.TotalSpam).Err()
	if err != nil {
		return ErrUnavailable
	}

	for i := 0; i < len(parsed.digests); i += batchSize {
		end := i + batchSize
		if end > len(parsed.digests) {
			end = len(parsed.digests)
		}
		batch := parsed.digests[i:end]

		_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, d := range batch {
				pipe.Set(ctx, s.digestKey(d.digest), d.class.String(), 0)
			}
			return nil
		})
		if err != nil {
			return ErrUnavailable
		}
	}

	s.cache.clear()
	return nil
}
