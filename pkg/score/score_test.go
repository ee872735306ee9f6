package score

import (
	"context"
	"testing"

	"github.com/mailprobe/mailprobe/pkg/config"
	"github.com/mailprobe/mailprobe/pkg/store"
	"github.com/mailprobe/mailprobe/pkg/token"
)

type fakeStore struct {
	records  map[string]store.Record
	counters store.Counters
}

func (f *fakeStore) GetMany(_ context.Context, terms []string) (map[string]store.Record, error) {
	out := make(map[string]store.Record)
	for _, t := range terms {
		if rec, ok := f.records[t]; ok {
			out[t] = rec
		}
	}
	return out, nil
}

func (f *fakeStore) Counters(_ context.Context) (store.Counters, error) {
	return f.counters, nil
}

func streamOf(terms ...string) *token.Stream {
	ts := make([]token.Term, len(terms))
	for i, t := range terms {
		ts[i] = token.Term(t)
	}
	return token.NewStream(ts...)
}

func TestScoreEmptyStoreReturnsDefaultProb(t *testing.T) {
	cfg := config.DefaultConfig().Scoring
	sc := New(cfg)
	fs := &fakeStore{records: map[string]store.Record{}, counters: store.Counters{}}

	result, err := sc.Score(context.Background(), streamOf("body/hello", "body/world"), fs)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if result.Score != cfg.DefaultProb {
		t.Fatalf("expected default_prob %v, got %v", cfg.DefaultProb, result.Score)
	}
}

func TestScoreBoundsAlwaysInRange(t *testing.T) {
	cfg := config.DefaultConfig().Scoring
	sc := New(cfg)
	fs := &fakeStore{
		records: map[string]store.Record{
			"body/free":  {Good: 0, Spam: 50},
			"body/hello": {Good: 50, Spam: 0},
		},
		counters: store.Counters{TotalGood: 100, TotalSpam: 100},
	}

	result, err := sc.Score(context.Background(), streamOf("body/free", "body/hello"), fs)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if result.Score < 0 || result.Score > 1 {
		t.Fatalf("score out of bounds: %v", result.Score)
	}
}

func TestScoreHighSpamEvidenceScoresHigh(t *testing.T) {
	cfg := config.DefaultConfig().Scoring
	sc := New(cfg)

	records := map[string]store.Record{}
	var terms []string
	for i := 0; i < 20; i++ {
		term := "body/spamword" + string(rune('a'+i))
		records[term] = store.Record{Good: 0, Spam: 40}
		terms = append(terms, term)
	}
	fs := &fakeStore{records: records, counters: store.Counters{TotalGood: 100, TotalSpam: 100}}

	result, err := sc.Score(context.Background(), streamOf(terms...), fs)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if result.Score < 0.9 {
		t.Fatalf("expected high spam score, got %v", result.Score)
	}
}

func TestScoreHighGoodEvidenceScoresLow(t *testing.T) {
	cfg := config.DefaultConfig().Scoring
	sc := New(cfg)

	records := map[string]store.Record{}
	var terms []string
	for i := 0; i < 20; i++ {
		term := "body/goodword" + string(rune('a'+i))
		records[term] = store.Record{Good: 40, Spam: 0}
		terms = append(terms, term)
	}
	fs := &fakeStore{records: records, counters: store.Counters{TotalGood: 100, TotalSpam: 100}}

	result, err := sc.Score(context.Background(), streamOf(terms...), fs)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if result.Score > 0.1 {
		t.Fatalf("expected low spam score, got %v", result.Score)
	}
}

func TestScoreDeterministicOrdering(t *testing.T) {
	cfg := config.DefaultConfig().Scoring
	sc := New(cfg)
	fs := &fakeStore{
		records: map[string]store.Record{
			"body/a": {Good: 0, Spam: 40},
			"body/b": {Good: 0, Spam: 40},
			"body/c": {Good: 40, Spam: 0},
		},
		counters: store.Counters{TotalGood: 100, TotalSpam: 100},
	}

	r1, err1 := sc.Score(context.Background(), streamOf("body/a", "body/b", "body/c"), fs)
	r2, err2 := sc.Score(context.Background(), streamOf("body/a", "body/b", "body/c"), fs)
	if err1 != nil || err2 != nil {
		t.Fatalf("score errors: %v %v", err1, err2)
	}
	if r1.Score != r2.Score {
		t.Fatalf("nondeterministic score: %v vs %v", r1.Score, r2.Score)
	}
}

func TestScoreMinTokenCountForcesDefaultProb(t *testing.T) {
	cfg := config.DefaultConfig().Scoring
	cfg.MinTokenCount = 10
	sc := New(cfg)
	fs := &fakeStore{
		records: map[string]store.Record{
			"body/rare": {Good: 1, Spam: 1},
		},
		counters: store.Counters{TotalGood: 100, TotalSpam: 100},
	}

	result, err := sc.Score(context.Background(), streamOf("body/rare"), fs)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	// In float64, |0.4 - 0.5| is just below min_deviation (0.1), so the
	// under-threshold term is not selected; with no term selected the
	// scorer returns default_prob.
	if result.Score != cfg.DefaultProb {
		t.Fatalf("expected default_prob for under-threshold term, got %v", result.Score)
	}
}
