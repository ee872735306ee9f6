package classifier

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailprobe/mailprobe/pkg/config"
	"github.com/mailprobe/mailprobe/pkg/store"
)

func newTestClassifier(t *testing.T) (*Classifier, *store.BoltStore) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mpdb")
	st, err := store.Open(path, false, 1000, time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Tokens.DetectLanguage = false
	return New(cfg, st, zerolog.Nop()), st
}

func goodMessage(i int) []byte {
	return []byte(fmt.Sprintf("Subject: meeting notes %d\n\nproject update agenda item%d review\n", i, i))
}

func spamMessage(i int) []byte {
	return []byte(fmt.Sprintf("Subject: WIN CASH NOW %d\n\nfree money prize winner%d click\n", i, i))
}

func TestClassifyEmptyStoreReturnsDefaultProb(t *testing.T) {
	c, _ := newTestClassifier(t)
	ctx := context.Background()

	result, err := c.Classify(ctx, []byte("Subject: hello\n\nanything at all\n"))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.Score < 0 || result.Score > 1 {
		t.Fatalf("score out of bounds: %v", result.Score)
	}
	if result.Score != c.cfg.Scoring.DefaultProb {
		t.Fatalf("expected default_prob %v on empty store, got %v", c.cfg.Scoring.DefaultProb, result.Score)
	}
}

func TestClassifySeparatesGoodAndSpamCorpora(t *testing.T) {
	c, _ := newTestClassifier(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 100; i++ {
		if err := c.Train(ctx, goodMessage(i), Good, now); err != nil {
			t.Fatalf("train good: %v", err)
		}
		if err := c.Train(ctx, spamMessage(i), Spam, now); err != nil {
			t.Fatalf("train spam: %v", err)
		}
	}

	spamResult, err := c.Classify(ctx, []byte("Subject: WIN CASH NOW\n\nfree money prize winner click\n"))
	if err != nil {
		t.Fatalf("classify spam: %v", err)
	}
	if !spamResult.IsSpam {
		t.Fatalf("expected spam-like message to classify as spam, got score %v", spamResult.Score)
	}

	goodResult, err := c.Classify(ctx, []byte("Subject: meeting notes\n\nproject update agenda item review\n"))
	if err != nil {
		t.Fatalf("classify good: %v", err)
	}
	if goodResult.IsSpam {
		t.Fatalf("expected good-like message to classify as ham, got score %v", goodResult.Score)
	}
}

func TestTrainTwiceIsIdempotent(t *testing.T) {
	c, st := newTestClassifier(t)
	ctx := context.Background()
	now := time.Now()
	msg := spamMessage(1)

	if err := c.Train(ctx, msg, Spam, now); err != nil {
		t.Fatalf("train: %v", err)
	}
	if err := c.Train(ctx, msg, Spam, now); err != nil {
		t.Fatalf("train again: %v", err)
	}

	counters, err := st.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if counters.TotalSpam != 1 {
		t.Fatalf("expected idempotent train, total_spam=%d", counters.TotalSpam)
	}
}

func TestTrainRemoveRoundTrip(t *testing.T) {
	c, st := newTestClassifier(t)
	ctx := context.Background()
	now := time.Now()
	msg := spamMessage(2)

	before, err := st.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}

	if err := c.Train(ctx, msg, Spam, now); err != nil {
		t.Fatalf("train: %v", err)
	}
	if err := c.Remove(ctx, msg, now); err != nil {
		t.Fatalf("remove: %v", err)
	}

	after, err := st.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if before != after {
		t.Fatalf("counters not reverted: before=%+v after=%+v", before, after)
	}
}

func TestRemoveUnknownMessageFails(t *testing.T) {
	c, _ := newTestClassifier(t)
	ctx := context.Background()

	err := c.Remove(ctx, []byte("Subject: never trained\n\nbody\n"), time.Now())
	if err != ErrUnknownMessage {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestReclassificationSymmetry(t *testing.T) {
	c, st := newTestClassifier(t)
	ctx := context.Background()
	now := time.Now()
	msg := spamMessage(3)

	if err := c.Train(ctx, msg, Good, now); err != nil {
		t.Fatalf("train good: %v", err)
	}
	if err := c.Train(ctx, msg, Spam, now); err != nil {
		t.Fatalf("reclassify to spam: %v", err)
	}
	afterReclassify, err := st.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}

	c2, st2 := newTestClassifier(t)
	if err := c2.Train(ctx, msg, Spam, now); err != nil {
		t.Fatalf("direct train spam: %v", err)
	}
	afterDirect, err := st2.Counters(ctx)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}

	if afterReclassify != afterDirect {
		t.Fatalf("reclassify path diverged from direct train: %+v vs %+v", afterReclassify, afterDirect)
	}
}

func TestSelectiveTrainingOnlyTrainsOnError(t *testing.T) {
	c, _ := newTestClassifier(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 50; i++ {
		if err := c.Train(ctx, spamMessage(i), Spam, now); err != nil {
			t.Fatalf("train: %v", err)
		}
	}

	msg := spamMessage(1) // already trained spam; classifier should already call it spam
	trained, err := c.TrainIfMisclassified(ctx, msg, Spam, now)
	if err != nil {
		t.Fatalf("train if misclassified (correct label): %v", err)
	}
	if trained {
		t.Fatalf("expected no training when the prediction matches the true class")
	}

	trained, err = c.TrainIfMisclassified(ctx, msg, Good, now)
	if err != nil {
		t.Fatalf("train if misclassified: %v", err)
	}
	if !trained {
		t.Fatalf("expected training to occur on misclassification")
	}

	result, err := c.Classify(ctx, msg)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.IsSpam {
		t.Fatalf("expected message retrained as good to no longer score as spam, got %v", result.Score)
	}
}

func TestMaintainAndPurgeDelegateToStore(t *testing.T) {
	c, st := newTestClassifier(t)
	ctx := context.Background()
	now := time.Now()

	if err := c.Train(ctx, goodMessage(1), Good, now); err != nil {
		t.Fatalf("train: %v", err)
	}

	if _, err := c.Maintain(ctx, now); err != nil {
		t.Fatalf("maintain: %v", err)
	}
	if _, err := c.Purge(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
	_ = st
}
