package token

import (
	"strings"
	"testing"

	"github.com/mailprobe/mailprobe/pkg/config"
	"github.com/mailprobe/mailprobe/pkg/message"
)

func parse(t *testing.T, raw string) *message.Message {
	t.Helper()
	m, err := message.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return m
}

func contains(terms []Term, s string) bool {
	for _, t := range terms {
		if string(t) == s {
			return true
		}
	}
	return false
}

func TestTokenizeSubjectCasePreserved(t *testing.T) {
	cfg := config.DefaultConfig().Tokens
	cfg.DetectLanguage = false
	m := parse(t, "Subject: Win Big CASH Now\n\nbody text here\n")
	terms := New(cfg).Tokenize(m).Collect()

	if !contains(terms, "h.subj/Win") || !contains(terms, "h.subj/CASH") {
		t.Fatalf("expected case-preserved subject terms, got %v", terms)
	}
}

func TestTokenizeIgnoreBody(t *testing.T) {
	cfg := config.DefaultConfig().Tokens
	cfg.IgnoreBody = true
	cfg.DetectLanguage = false
	m := parse(t, "Subject: hello\n\nsome body words here\n")
	terms := New(cfg).Tokenize(m).Collect()

	for _, term := range terms {
		if strings.HasPrefix(string(term), "body/") || strings.HasPrefix(string(term), "phrase/") {
			t.Fatalf("body term emitted despite ignore_body: %v", term)
		}
	}
}

func TestTokenizePhrases(t *testing.T) {
	cfg := config.DefaultConfig().Tokens
	cfg.DetectLanguage = false
	cfg.PhraseLength = 2
	m := parse(t, "Subject: x\n\nfree money now please\n")
	terms := New(cfg).Tokenize(m).Collect()

	if !contains(terms, "phrase/free_money") || !contains(terms, "phrase/money_now") {
		t.Fatalf("expected sliding phrase windows, got %v", terms)
	}
}

func TestTokenizeURLHostAndPath(t *testing.T) {
	cfg := config.DefaultConfig().Tokens
	cfg.DetectLanguage = false
	m := parse(t, "Subject: x\n\nvisit http://Example.COM/Special/offer now\n")
	terms := New(cfg).Tokenize(m).Collect()

	if !contains(terms, "url.host/example.com") {
		t.Fatalf("expected lowercased host term, got %v", terms)
	}
	if !contains(terms, "url.path/special") {
		t.Fatalf("expected first path segment term, got %v", terms)
	}
}

func TestTokenizeNonASCIISentinel(t *testing.T) {
	cfg := config.DefaultConfig().Tokens
	cfg.DetectLanguage = false
	cfg.ReplaceNonASCII = true
	m := parse(t, "Subject: caf\xc3\xa9 deal\n\nbody\n")
	terms := New(cfg).Tokenize(m).Collect()

	if !contains(terms, "h.subj/nonascii") {
		t.Fatalf("expected nonascii sentinel term, got %v", terms)
	}
}

func TestTokenizeMaxLengthDiscarded(t *testing.T) {
	cfg := config.DefaultConfig().Tokens
	cfg.DetectLanguage = false
	long := strings.Repeat("a", 100)
	m := parse(t, "Subject: "+long+"\n\nbody\n")
	terms := New(cfg).Tokenize(m).Collect()

	for _, term := range terms {
		if len(term) > maxTermBytes {
			t.Fatalf("term exceeds max length: %d bytes", len(term))
		}
	}
}
