// Package score implements the Bayesian scorer (spec.md §4.4): per-term
// probability estimation, deviation-based token selection, and Robinson's
// combined probability computed in log-space for numerical stability.
package score

import (
	"context"
	"math"
	"sort"

	"github.com/mailprobe/mailprobe/pkg/config"
	"github.com/mailprobe/mailprobe/pkg/store"
	"github.com/mailprobe/mailprobe/pkg/token"
)

// Term is one selected discriminator, reported back to the caller for
// explainability (Classifier's terms_considered).
type Term struct {
	Term       string
	Probability float64
	Deviation  float64
	Good       int64
	Spam       int64
}

// Result is the scorer's output for one message.
type Result struct {
	Score           float64
	TermsConsidered []Term
}

// Store is the read-only slice of store.Store the scorer needs. Scoring
// never mutates the store (spec.md §4.5: "classify ... never mutates").
type Store interface {
	GetMany(ctx context.Context, terms []string) (map[string]store.Record, error)
	Counters(ctx context.Context) (store.Counters, error)
}

// Scorer computes spam probabilities from a term stream and a TermStore
// snapshot.
type Scorer struct {
	cfg config.ScoringConfig
}

// New creates a Scorer bound to the given scoring configuration.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score implements the five-step algorithm of spec.md §4.4: collapse
// duplicates, look up records, compute per-term probabilities, select
// discriminators by deviation from 0.5, and combine via Robinson's
// formula in log-space.
func (sc *Scorer) Score(ctx context.Context, terms *token.Stream, st Store) (Result, error) {
	distinct := collapse(terms)
	if len(distinct) == 0 {
		return Result{Score: sc.cfg.DefaultProb}, nil
	}

	records, err := st.GetMany(ctx, distinct)
	if err != nil {
		return Result{}, err
	}

	counters, err := st.Counters(ctx)
	if err != nil {
		return Result{}, err
	}

	candidates := make([]Term, 0, len(distinct))
	for _, term := range distinct {
		rec := records[term]
		p := sc.termProbability(rec, counters)
		dev := math.Abs(p - 0.5)
		if dev < sc.cfg.MinDeviation {
			continue
		}
		candidates = append(candidates, Term{
			Term:        term,
			Probability: p,
			Deviation:   dev,
			Good:        rec.Good,
			Spam:        rec.Spam,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Deviation != b.Deviation {
			return a.Deviation > b.Deviation
		}
		if (a.Good + a.Spam) != (b.Good + b.Spam) {
			return (a.Good + a.Spam) > (b.Good + b.Spam)
		}
		return a.Term < b.Term
	})

	if len(candidates) > sc.cfg.MaxDiscriminators {
		candidates = candidates[:sc.cfg.MaxDiscriminators]
	}

	if len(candidates) == 0 {
		return Result{Score: sc.cfg.DefaultProb}, nil
	}

	return Result{Score: combine(candidates), TermsConsidered: candidates}, nil
}

// termProbability implements spec.md §4.4 step 3.
func (sc *Scorer) termProbability(rec store.Record, counters store.Counters) float64 {
	if rec.Good+rec.Spam < int64(sc.cfg.MinTokenCount) {
		return sc.cfg.DefaultProb
	}

	g, s := float64(rec.Good), float64(rec.Spam)
	G, S := float64(counters.TotalGood), float64(counters.TotalSpam)
	if G < 1 {
		G = 1
	}
	if S < 1 {
		S = 1
	}

	spamRate := math.Min(1.0, s*sc.cfg.TermsForSpam/S)
	goodRate := math.Min(1.0, g*sc.cfg.TermsForGood/G)

	if spamRate+goodRate == 0 {
		return sc.cfg.DefaultProb
	}

	p := spamRate / (spamRate + goodRate)
	return clamp(p, sc.cfg.MinProb, sc.cfg.MaxProb)
}

// combine computes Robinson's combined probability in log-space:
// logP = Σ ln(p_i), logQ = Σ ln(1 − p_i); normalize by subtracting the
// larger of the two before exponentiating, so neither sum underflows.
func combine(terms []Term) float64 {
	var logP, logQ float64
	for _, t := range terms {
		logP += math.Log(t.Probability)
		logQ += math.Log(1 - t.Probability)
	}

	m := math.Max(logP, logQ)
	p := math.Exp(logP - m)
	q := math.Exp(logQ - m)

	if p+q == 0 {
		return 0.5
	}
	return clamp(p/(p+q), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// collapse reduces a term stream to its distinct terms in first-seen
// order (spec.md §4.2: "one-message-one-vote").
func collapse(terms *token.Stream) []string {
	seen := make(map[string]bool)
	var out []string
	for {
		t, ok := terms.Next()
		if !ok {
			break
		}
		s := string(t)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
