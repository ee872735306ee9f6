package message

import (
	"strings"
	"testing"
)

func TestDigestStableAcrossLineEndings(t *testing.T) {
	crlf := "Subject: hi\r\n\r\nbody text  \r\nmore   \r\n"
	lf := strings.ReplaceAll(crlf, "\r\n", "\n")

	m1, err := Parse([]byte(lf))
	if err != nil {
		t.Fatalf("parse lf: %v", err)
	}
	m2, err := Parse([]byte(crlf))
	if err != nil {
		t.Fatalf("parse crlf: %v", err)
	}

	if m1.RawDigest != m2.RawDigest {
		t.Fatalf("digest changed with line endings: %x != %x", m1.RawDigest, m2.RawDigest)
	}
}

func TestDigestStableAcrossTrailingWhitespace(t *testing.T) {
	a := "Subject: hi\n\nbody\n"
	b := "Subject: hi   \n\nbody   \n"

	m1, err := Parse([]byte(a))
	if err != nil {
		t.Fatalf("parse a: %v", err)
	}
	m2, err := Parse([]byte(b))
	if err != nil {
		t.Fatalf("parse b: %v", err)
	}

	if m1.RawDigest != m2.RawDigest {
		t.Fatalf("digest changed with trailing whitespace")
	}
}

func TestParsePreservesHeaderOrderAndDuplicates(t *testing.T) {
	raw := "Received: a\nReceived: b\nSubject: hi\nReceived: c\n\nbody\n"
	m, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	rcvd := m.HeaderAll("received")
	if len(rcvd) != 3 || rcvd[0] != "a" || rcvd[1] != "b" || rcvd[2] != "c" {
		t.Fatalf("unexpected Received order: %v", rcvd)
	}
}

func TestParseEmptyIsMalformed(t *testing.T) {
	if _, err := Parse([]byte("")); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestSplitMboxReversesEscape(t *testing.T) {
	raw := "From a@b Mon Jan 1 00:00:00 2024\n" +
		"Subject: one\n\n>From the start of a line\nbody\n" +
		"From a@b Mon Jan 1 00:00:01 2024\n" +
		"Subject: two\n\nsecond body\n"

	msgs := SplitMbox([]byte(raw))
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !strings.Contains(string(msgs[0]), "From the start of a line") {
		t.Fatalf("escaped From line was not reversed: %q", msgs[0])
	}
	if strings.Contains(string(msgs[0]), ">From the start") {
		t.Fatalf("escape marker was not stripped: %q", msgs[0])
	}
}

func TestLooksLikeMbox(t *testing.T) {
	if !LooksLikeMbox([]byte("From a@b Mon Jan 1 00:00:00 2024\nSubject: x\n")) {
		t.Fatal("expected mbox detection")
	}
	if LooksLikeMbox([]byte("Subject: x\n\nbody\n")) {
		t.Fatal("unexpected mbox detection")
	}
}
