// Package token implements the Tokenizer component (spec.md §4.2): turning
// one parsed Message into an ordered, finite, non-restartable stream of
// Terms.
package token

// maxTermBytes is the maximum encoded length of a "prefix/lexeme" term;
// longer terms are discarded (spec.md §3).
const maxTermBytes = 90

// Term is a UTF-8 string of the form "prefix/lexeme". prefix is a short
// provenance tag (h.subj, h.from, body, phrase, ...); lexeme is the
// normalized token.
type Term string

// newTerm builds a Term, applying the length and emptiness filters from
// spec.md §3 ("Maximum length 90 bytes ... Minimum length 1; empty
// lexemes discarded"). ok is false when the term must be discarded.
func newTerm(prefix, lexeme string) (Term, bool) {
	if len(lexeme) < 1 {
		return "", false
	}
	t := prefix + "/" + lexeme
	if len(t) > maxTermBytes {
		return "", false
	}
	return Term(t), true
}

// Stream is a lazy, finite, non-restartable sequence of Terms, in the
// ordering the Tokenizer produced them (spec.md §9: iterator-based token
// streams). The Classifier and the Scorer, which need the full distinct
// set, materialize it into a local slice/set on first use.
type Stream struct {
	terms []Term
	pos   int
}

// NewStream wraps a pre-built slice of terms as a Stream, for callers
// (the Classifier after its rules hook, the Scorer's tests) that need to
// construct one directly rather than via Tokenize.
func NewStream(terms ...Term) *Stream {
	return &Stream{terms: terms}
}

// Next returns the next term in the stream, or ok=false once exhausted.
func (s *Stream) Next() (Term, bool) {
	if s == nil || s.pos >= len(s.terms) {
		return "", false
	}
	t := s.terms[s.pos]
	s.pos++
	return t, true
}

// Collect materializes the remainder of the stream into a slice, for
// callers such as tests that need the whole stream at once; the Scorer
// and Classifier read it with Next.
func (s *Stream) Collect() []Term {
	var out []Term
	for {
		t, ok := s.Next()
		if !ok {
			break
		}
		out = append(out, t)
	}
	return out
}
