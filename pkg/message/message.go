// Package message implements the MessageParser component (spec.md §4.1):
// turning raw bytes into a structured Message with preserved header order,
// decoded MIME body parts, and a stable content digest.
//
// Parsing is built on github.com/emersion/go-message, which performs
// Content-Transfer-Encoding decoding and (with the charset subpackage
// registered) charset-to-UTF-8 decoding for us, replacing the teacher's
// hand-rolled net/mail + mime/multipart walk (pkg/email/parser.go) with the
// library the rest of the retrieval pack reaches for.
package message

import (
	"bytes"
	"crypto/md5"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // registers non-UTF-8 charset decoders
)

// ErrMalformed is returned when a message has neither headers nor body
// (spec.md §4.1: "Fails ... only when no headers are found and body is
// empty; otherwise produces best-effort result").
var ErrMalformed = errors.New("message: malformed message")

// HeaderField is one (name, value) pair. Order and duplicates within a
// Message are preserved exactly as encountered.
type HeaderField struct {
	Name  string
	Value string
}

// BodyPart is one leaf of the MIME tree.
type BodyPart struct {
	ContentType string // lowercased media type, e.g. "text/plain"
	Charset     string // lowercased charset name as declared, may be empty
	Text        string // decoded UTF-8 text; empty for non-text parts
}

// Message is the transient, tree-shaped result of parsing one message. Its
// lifetime is a single classification or training call.
type Message struct {
	Headers    []HeaderField
	BodyParts  []BodyPart
	RawDigest  [16]byte
}

// Header returns the first value for name (case-insensitive), and whether
// it was present.
func (m *Message) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// HeaderAll returns every value for name (case-insensitive) in the order
// they appeared, e.g. for a repeated "Received" chain.
func (m *Message) HeaderAll(name string) []string {
	var values []string
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			values = append(values, h.Value)
		}
	}
	return values
}

// BodyText concatenates the text of every text/* body part in document
// order, separated by blank lines.
func (m *Message) BodyText() string {
	var parts []string
	for _, p := range m.BodyParts {
		if strings.HasPrefix(p.ContentType, "text/") && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// HTMLParts returns the text of every text/html body part, in order.
func (m *Message) HTMLParts() []string {
	var out []string
	for _, p := range m.BodyParts {
		if p.ContentType == "text/html" {
			out = append(out, p.Text)
		}
	}
	return out
}

// Parse parses a single message from raw bytes.
func Parse(raw []byte) (*Message, error) {
	digest := digestOf(raw)

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil {
		// go-message refuses genuinely headerless input; fall back to a
		// best-effort Message carrying only the digest and raw bytes as a
		// single opaque body part, per the tolerant-parsing contract.
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, ErrMalformed
		}
		return &Message{
			BodyParts: []BodyPart{{ContentType: "text/plain", Text: string(raw)}},
			RawDigest: digest,
		}, nil
	}

	msg := &Message{RawDigest: digest}

	fields := entity.Header.Fields()
	for fields.Next() {
		msg.Headers = append(msg.Headers, HeaderField{Name: fields.Key(), Value: fields.Value()})
	}

	if err := walk(entity, msg); err != nil && len(msg.Headers) == 0 {
		return nil, ErrMalformed
	}

	if len(msg.Headers) == 0 && strings.TrimSpace(msg.BodyText()) == "" {
		return nil, ErrMalformed
	}

	return msg, nil
}

// walk depth-first traverses the MIME tree, decoding each text/* leaf and
// retaining a content-type stub for non-text leaves (spec.md §4.1).
func walk(e *message.Entity, msg *Message) error {
	mediaType, params, err := e.Header.ContentType()
	if err != nil {
		mediaType = "text/plain"
	}
	mediaType = strings.ToLower(mediaType)

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := e.MultipartReader()
		if mr == nil {
			return nil
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			if err := walk(part, msg); err != nil {
				return err
			}
		}
		return nil
	}

	charset := strings.ToLower(params["charset"])
	part := BodyPart{ContentType: mediaType, Charset: charset}

	if strings.HasPrefix(mediaType, "text/") {
		body, err := io.ReadAll(e.Body)
		if err != nil {
			return err
		}
		part.Text = string(body)
	}

	msg.BodyParts = append(msg.BodyParts, part)
	return nil
}

// digestOf computes the stable content digest: MD5 over the raw bytes with
// CRLF normalized to LF and trailing per-line whitespace stripped, so that
// OS line-ending differences never change the digest (spec.md §4.1, §8
// property 7).
func digestOf(raw []byte) [16]byte {
	normalized := normalizeForDigest(raw)
	return md5.Sum(normalized)
}

func normalizeForDigest(raw []byte) []byte {
	lines := bytes.Split(bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n")), []byte("\n"))
	var buf bytes.Buffer
	for i, line := range lines {
		buf.Write(bytes.TrimRight(line, " \t\r"))
		if i != len(lines)-1 {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}
