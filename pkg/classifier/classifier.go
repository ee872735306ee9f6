// Package classifier implements the top-level façade (spec.md §4.5),
// wiring MessageParser, Tokenizer, TermStore and Scorer into the public
// classify/train/remove/maintain operations.
package classifier

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailprobe/mailprobe/pkg/config"
	"github.com/mailprobe/mailprobe/pkg/message"
	"github.com/mailprobe/mailprobe/pkg/rules"
	"github.com/mailprobe/mailprobe/pkg/score"
	"github.com/mailprobe/mailprobe/pkg/store"
	"github.com/mailprobe/mailprobe/pkg/token"
)

// ErrUnknownMessage is returned by Remove when the message's digest is
// not present in the store (spec.md §7 UnknownMessage).
var ErrUnknownMessage = errors.New("classifier: unknown message")

// Class mirrors store.Class for callers that don't want to import the
// store package directly.
type Class = store.Class

const (
	Good = store.Good
	Spam = store.Spam
)

// Classification is the result of Classify.
type Classification struct {
	Score           float64
	IsSpam          bool
	TermsConsidered []score.Term
}

// Classifier is the public façade combining Scorer and TermStore.
type Classifier struct {
	cfg       *config.Config
	store     store.Store
	tokenizer *token.Tokenizer
	scorer    *score.Scorer
	log       zerolog.Logger
	rules     *rules.Filter // optional operator-supplied term veto/rewrite hook
}

// New wires a Classifier from its already-open store and config.
func New(cfg *config.Config, st store.Store, log zerolog.Logger) *Classifier {
	return &Classifier{
		cfg:       cfg,
		store:     st,
		tokenizer: token.New(cfg.Tokens),
		scorer:    score.New(cfg.Scoring),
		log:       log,
	}
}

// SetRules attaches (or, passed nil, detaches) the optional Lua
// term-filter hook. Every subsequent Classify/Train/Remove call runs its
// distinct term set through it first.
func (c *Classifier) SetRules(f *rules.Filter) {
	c.rules = f
}

func (c *Classifier) applyRules(terms []string) []string {
	if c.rules == nil {
		return terms
	}
	return c.rules.Apply(terms)
}

// Classify scores a message without mutating the store (spec.md §4.5).
func (c *Classifier) Classify(ctx context.Context, raw []byte) (Classification, error) {
	msg, err := message.Parse(raw)
	if err != nil {
		return Classification{}, err
	}

	distinct := c.applyRules(distinctTerms(c.tokenizer.Tokenize(msg)))
	terms := token.NewStream(stringsToTerms(distinct)...)
	result, err := c.scorer.Score(ctx, terms, c.store)
	if err != nil {
		return Classification{}, err
	}

	return Classification{
		Score:           result.Score,
		IsSpam:          result.Score >= c.cfg.Scoring.SpamThreshold,
		TermsConsidered: result.TermsConsidered,
	}, nil
}

// Train implements spec.md §4.5 train: idempotent on a repeated same-class
// submission, a reclassification on an opposite-class resubmission, and a
// plain increment otherwise.
func (c *Classifier) Train(ctx context.Context, raw []byte, class Class, now time.Time) error {
	msg, err := message.Parse(raw)
	if err != nil {
		return err
	}

	distinct := c.applyRules(distinctTerms(c.tokenizer.Tokenize(msg)))
	existing, found, err := c.store.ContainsDigest(ctx, msg.RawDigest)
	if err != nil {
		return err
	}

	switch {
	case found && existing == class:
		return nil // idempotent: same class re-submitted
	case found:
		return c.store.Reclassify(ctx, distinct, existing, class, msg.RawDigest, now)
	default:
		return c.store.Apply(ctx, distinct, class, 1, msg.RawDigest, true, now)
	}
}

// TrainIfMisclassified is the selective "train-on-error" mode (spec.md
// §4.5): classify first, and only train when the predicted label
// disagrees with trueClass.
func (c *Classifier) TrainIfMisclassified(ctx context.Context, raw []byte, trueClass Class, now time.Time) (trained bool, err error) {
	result, err := c.Classify(ctx, raw)
	if err != nil {
		return false, err
	}

	predicted := Good
	if result.IsSpam {
		predicted = Spam
	}
	if predicted == trueClass {
		return false, nil
	}

	if err := c.Train(ctx, raw, trueClass, now); err != nil {
		return false, err
	}
	return true, nil
}

// Remove reverses Train: decrements counts and the corpus counter and
// drops the digest. Fails with ErrUnknownMessage if the digest was never
// trained (spec.md §4.5, §7).
func (c *Classifier) Remove(ctx context.Context, raw []byte, now time.Time) error {
	msg, err := message.Parse(raw)
	if err != nil {
		return err
	}

	class, found, err := c.store.ContainsDigest(ctx, msg.RawDigest)
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownMessage
	}

	distinct := c.applyRules(distinctTerms(c.tokenizer.Tokenize(msg)))
	return c.store.Apply(ctx, distinct, class, -1, msg.RawDigest, true, now)
}

// Maintain delegates to the TermStore's maintenance pass (spec.md §4.5).
func (c *Classifier) Maintain(ctx context.Context, now time.Time) (store.MaintenanceResult, error) {
	return c.store.Maintenance(ctx, now, c.cfg.Store.ExpiryDays)
}

// Purge drops every term below min_token_count, independent of age.
func (c *Classifier) Purge(ctx context.Context) (store.PurgeResult, error) {
	return c.store.Purge(ctx, c.cfg.Scoring.MinTokenCount)
}

func distinctTerms(terms *token.Stream) []string {
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

func stringsToTerms(ss []string) []token.Term {
	out := make([]token.Term, len(ss))
	for i, s := range ss {
		out[i] = token.Term(s)
	}
	return out
}
