package message

import (
	"bufio"
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// SplitMbox splits a concatenated mbox byte stream into individual raw
// message byte slices. A line beginning with "From " at byte offset 0 of a
// line delimits messages; a leading ">From " inside a message body is the
// standard mbox escape and is reversed back to "From " on split (spec.md
// §4.1).
func SplitMbox(raw []byte) [][]byte {
	var messages [][]byte
	var current bytes.Buffer
	started := false

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	flush := func() {
		if started && current.Len() > 0 {
			messages = append(messages, append([]byte(nil), current.Bytes()...))
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if bytes.HasPrefix(line, []byte("From ")) {
			flush()
			started = true
			continue // the "From " separator line itself is not part of the message
		}
		if !started {
			continue
		}
		if bytes.HasPrefix(line, []byte(">From ")) {
			current.Write(line[1:])
		} else {
			current.Write(line)
		}
		current.WriteByte('\n')
	}
	flush()

	return messages
}

// LooksLikeMbox reports whether raw begins with a standard mbox "From "
// separator line, the detection rule used by the CLI surface (spec.md §6)
// to distinguish a single message from an mbox archive.
func LooksLikeMbox(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte("From "))
}

// ParseMbox splits and parses every message in an mbox byte stream.
// Per-message parse errors are collected rather than aborting the batch.
func ParseMbox(raw []byte) ([]*Message, []error) {
	var msgs []*Message
	var errs []error
	for _, raw := range SplitMbox(raw) {
		m, err := Parse(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, errs
}

// ParseMaildir reads every regular file in dir as one message (maildir
// "one file per message" layout, spec.md §4.1). Per-message parse/read
// errors are collected rather than aborting the batch.
func ParseMaildir(dir string) ([]*Message, []error) {
	var msgs []*Message
	var errs []error

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{err}
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}

		m, err := Parse(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, m)
	}

	return msgs, errs
}

// ReadAllMessages loads one or more messages from a path, auto-detecting
// mbox vs. a single message vs. a maildir directory, for use by the good/
// spam/score CLI subcommands (spec.md §6).
func ReadAllMessages(path string) ([]*Message, []error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, []error{err}
	}

	if info.IsDir() {
		return ParseMaildir(path)
	}

	raw, err := readFile(path)
	if err != nil {
		return nil, []error{err}
	}

	if LooksLikeMbox(raw) {
		return ParseMbox(raw)
	}

	m, err := Parse(raw)
	if err != nil {
		return nil, []error{err}
	}
	return []*Message{m}, nil
}

// ReadAllRaw loads the raw bytes of one or more messages from a path,
// auto-detecting mbox vs. a single message vs. a maildir directory,
// without parsing them. Callers that train or classify (which need the
// original bytes to compute a stable digest) use this instead of
// ReadAllMessages.
func ReadAllRaw(path string) ([][]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return readMaildirRaw(path)
	}

	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}

	if LooksLikeMbox(raw) {
		return SplitMbox(raw), nil
	}
	return [][]byte{raw}, nil
}

func readMaildirRaw(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out [][]byte
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if stat, err := f.Stat(); err == nil && stat.Mode()&fs.ModeType == 0 {
		return io.ReadAll(f)
	}
	return io.ReadAll(f)
}
