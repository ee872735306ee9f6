package store

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mpdb")
	s, err := Open(path, false, 100, time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestApplyAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	terms := []string{"body/free", "body/money"}
	if err := s.Apply(ctx, terms, Spam, 1, [16]byte{1}, true, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	rec, ok, err := s.Get(ctx, "body/free")
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if rec.Spam != 1 || rec.Good != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	counters, err := s.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters.TotalSpam != 1 {
		t.Fatalf("expected total_spam=1, got %+v", counters)
	}
}

func TestTrainRemoveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	terms := []string{"body/free", "body/money"}
	digest := [16]byte{9, 9, 9}

	if err := s.Apply(ctx, terms, Spam, 1, digest, true, time.Now()); err != nil {
		t.Fatalf("apply train: %v", err)
	}
	if err := s.Apply(ctx, terms, Spam, -1, digest, true, time.Now()); err != nil {
		t.Fatalf("apply remove: %v", err)
	}

	for _, term := range terms {
		rec, ok, err := s.Get(ctx, term)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if ok && (rec.Good != 0 || rec.Spam != 0) {
			t.Fatalf("term %q not reverted: %+v", term, rec)
		}
	}

	counters, err := s.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters.TotalGood != 0 || counters.TotalSpam != 0 {
		t.Fatalf("counters not reverted: %+v", counters)
	}

	if _, found, err := s.ContainsDigest(ctx, digest); err != nil || found {
		t.Fatalf("digest should be removed: found=%v err=%v", found, err)
	}
}

func TestReclassifyMovesEvidence(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	terms := []string{"body/offer"}
	digest := [16]byte{5}

	if err := s.Apply(ctx, terms, Good, 1, digest, true, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Reclassify(ctx, terms, Good, Spam, digest, time.Now()); err != nil {
		t.Fatalf("reclassify: %v", err)
	}

	rec, ok, err := s.Get(ctx, "body/offer")
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if rec.Good != 0 || rec.Spam != 1 {
		t.Fatalf("expected evidence moved to spam, got %+v", rec)
	}

	class, found, err := s.ContainsDigest(ctx, digest)
	if err != nil || !found || class != Spam {
		t.Fatalf("expected digest tagged spam, got class=%v found=%v err=%v", class, found, err)
	}

	counters, err := s.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters.TotalGood != 0 || counters.TotalSpam != 1 {
		t.Fatalf("unexpected counters after reclassify: %+v", counters)
	}
}

func TestContainsDigestReportsTrainedClass(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	terms := []string{"body/hello"}
	digest := [16]byte{7}

	if err := s.Apply(ctx, terms, Good, 1, digest, true, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	class, found, err := s.ContainsDigest(ctx, digest)
	if err != nil || !found || class != Good {
		t.Fatalf("expected digest already tagged good, got class=%v found=%v", class, found)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)

	terms := []string{"body/free", "body/money", "h.subj/win"}
	if err := src.Apply(ctx, terms, Spam, 1, [16]byte{3}, true, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := src.Apply(ctx, []string{"body/hello"}, Good, 1, [16]byte{4}, true, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var buf bytes.Buffer
	if err := src.Export(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := openTestStore(t)
	if err := dst.Import(ctx, bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("import: %v", err)
	}

	srcCounters, _ := src.Counters(ctx)
	dstCounters, _ := dst.Counters(ctx)
	if srcCounters != dstCounters {
		t.Fatalf("counters mismatch: src=%+v dst=%+v", srcCounters, dstCounters)
	}

	for _, term := range append(terms, "body/hello") {
		srcRec, _, _ := src.Get(ctx, term)
		dstRec, ok, err := dst.Get(ctx, term)
		if err != nil || !ok {
			t.Fatalf("term %q missing after import: err=%v", term, err)
		}
		if srcRec != dstRec {
			t.Fatalf("term %q mismatch: src=%+v dst=%+v", term, srcRec, dstRec)
		}
	}

	for _, digest := range [][16]byte{{3}, {4}} {
		srcClass, _, _ := src.ContainsDigest(ctx, digest)
		dstClass, found, err := dst.ContainsDigest(ctx, digest)
		if err != nil || !found || srcClass != dstClass {
			t.Fatalf("digest %v mismatch: found=%v err=%v", digest, found, err)
		}
	}
}

func TestExportEscapesSpecialBytes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	term := "body/a\tb\nc\\d"
	if err := s.Apply(ctx, []string{term}, Good, 1, [16]byte{1}, false, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Export(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := openTestStore(t)
	if err := dst.Import(ctx, bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, ok, err := dst.Get(ctx, term); err != nil || !ok {
		t.Fatalf("escaped term not round-tripped: ok=%v err=%v", ok, err)
	}
}

func TestMaintenanceRemovesStaleLowCountTerms(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	old := time.Now().Add(-30 * 24 * time.Hour)
	if err := s.Apply(ctx, []string{"body/stale"}, Good, 1, [16]byte{}, false, old); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Apply(ctx, []string{"body/fresh"}, Good, 1, [16]byte{}, false, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// give "fresh" a second occurrence so count > 1 regardless of age.
	if err := s.Apply(ctx, []string{"body/fresh"}, Good, 1, [16]byte{}, false, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	result, err := s.Maintenance(ctx, time.Now(), 7)
	if err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	if result.TermsRemoved != 1 {
		t.Fatalf("expected 1 term removed, got %d", result.TermsRemoved)
	}

	if _, ok, _ := s.Get(ctx, "body/stale"); ok {
		t.Fatalf("stale term should have been removed")
	}
	if _, ok, _ := s.Get(ctx, "body/fresh"); !ok {
		t.Fatalf("fresh term should survive maintenance")
	}
}

func TestPurgeDropsBelowMinCount(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Apply(ctx, []string{"body/rare"}, Good, 1, [16]byte{}, false, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Apply(ctx, []string{"body/common"}, Good, 1, [16]byte{}, false, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := s.Apply(ctx, []string{"body/common"}, Good, 1, [16]byte{}, false, time.Now()); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	result, err := s.Purge(ctx, 5)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if result.TermsRemoved != 1 {
		t.Fatalf("expected 1 term purged, got %d", result.TermsRemoved)
	}
	if _, ok, _ := s.Get(ctx, "body/rare"); ok {
		t.Fatalf("rare term should have been purged")
	}
	if _, ok, _ := s.Get(ctx, "body/common"); !ok {
		t.Fatalf("common term should survive purge")
	}
}

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Apply(ctx, []string{"body/x"}, Spam, 1, [16]byte{1}, true, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	backupPath := filepath.Join(t.TempDir(), "backup.mpdb")
	if err := s.Backup(backupPath); err != nil {
		t.Fatalf("backup: %v", err)
	}

	if err := s.Apply(ctx, []string{"body/y"}, Spam, 1, [16]byte{2}, true, time.Now()); err != nil {
		t.Fatalf("apply after backup: %v", err)
	}

	if err := s.Restore(backupPath); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if _, ok, _ := s.Get(ctx, "body/y"); ok {
		t.Fatalf("post-backup write should not survive restore")
	}
	if _, ok, _ := s.Get(ctx, "body/x"); !ok {
		t.Fatalf("pre-backup write should survive restore")
	}
}

func TestStatsReportsVocabAndCacheRatio(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Apply(ctx, []string{"body/free", "body/money"}, Spam, 1, [16]byte{1}, true, time.Now()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// One miss (cold lookup from disk), then one hit (now cached).
	if _, _, err := s.Get(ctx, "body/free"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, _, err := s.Get(ctx, "body/free"); err != nil {
		t.Fatalf("get: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.VocabSize != 2 {
		t.Fatalf("expected vocab size 2, got %d", stats.VocabSize)
	}
	if stats.CacheHits < 1 {
		t.Fatalf("expected at least one cache hit, got %+v", stats)
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", Record{Good: 1})
	c.put("b", Record{Good: 2})
	c.put("c", Record{Good: 3}) // evicts "a"

	if _, ok := c.get("a"); ok {
		t.Fatalf("expected a evicted")
	}
	if _, ok := c.get("b"); !ok {
		t.Fatalf("expected b to remain")
	}
	if _, ok := c.get("c"); !ok {
		t.Fatalf("expected c to remain")
	}
}
