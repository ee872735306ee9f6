package token

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/abadojack/whatlanggo"

	"github.com/mailprobe/mailprobe/pkg/config"
	"github.com/mailprobe/mailprobe/pkg/message"
)

// headerWhitelist is the bounded set of "other headers" emitted with an
// "h.<name>" prefix (spec.md §4.2: "Other headers -> a bounded whitelist;
// unknown headers ignored").
var headerWhitelist = map[string]string{
	"message-id":  "h.msgid",
	"x-mailer":    "h.mailer",
	"user-agent":  "h.ua",
	"mime-version": "h.mime",
	"x-priority":  "h.priority",
	"precedence":  "h.precedence",
	"list-id":     "h.listid",
}

var (
	wordSplitRe     = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	bodyTokenRe     = regexp.MustCompile(`[\p{L}]{2,}[\p{L}\p{N}]*(?:[%$€£])?|[$€£]\d[\d,.]*%?|\d[\d,.]*%`)
	urlRe           = regexp.MustCompile(`(?i)\bhttps?://[^\s"'<>]+`)
	ipv4Re          = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	bracketedHostRe = regexp.MustCompile(`[\[(]([0-9A-Za-z.\-:]+)[\])]`)
	hostnameRe      = regexp.MustCompile(`\b[A-Za-z0-9](?:[A-Za-z0-9\-]*[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9\-]*[A-Za-z0-9])?)+\b`)
)

// Tokenizer turns parsed Messages into Term streams.
type Tokenizer struct {
	cfg config.TokenConfig
}

// New creates a Tokenizer bound to the given configuration.
func New(cfg config.TokenConfig) *Tokenizer {
	return &Tokenizer{cfg: cfg}
}

// Tokenize produces the ordered Term stream for one message (spec.md
// §4.2). Header tokens precede body tokens; within the body, tokens are
// emitted in reading order.
func (tz *Tokenizer) Tokenize(msg *message.Message) *Stream {
	var terms []Term
	emit := func(prefix, lexeme string) {
		if tz.cfg.ReplaceNonASCII && hasNonASCII(lexeme) {
			if t, ok := newTerm(prefix, "nonascii"); ok {
				terms = append(terms, t)
			}
			return
		}
		if t, ok := newTerm(prefix, lexeme); ok {
			terms = append(terms, t)
		}
	}

	tz.emitSubject(msg, emit)
	tz.emitAddressHeaders(msg, emit)
	tz.emitReceived(msg, emit)
	tz.emitContentType(msg, emit)
	tz.emitWhitelisted(msg, emit)

	if !tz.cfg.IgnoreBody {
		tz.emitBody(msg, emit)
	}

	return &Stream{terms: terms}
}

func (tz *Tokenizer) emitSubject(msg *message.Message, emit func(prefix, lexeme string)) {
	subj, ok := msg.Header("Subject")
	if !ok {
		return
	}
	for _, w := range splitWords(foldWidth(subj)) {
		emit("h.subj", w)
	}
}

var addressHeaderPrefix = map[string]string{
	"from":      "h.from",
	"to":        "h.to",
	"cc":        "h.cc",
	"reply-to":  "h.replyto",
}

func (tz *Tokenizer) emitAddressHeaders(msg *message.Message, emit func(prefix, lexeme string)) {
	for name, prefix := range addressHeaderPrefix {
		for _, value := range msg.HeaderAll(name) {
			tz.emitAddressList(value, prefix, emit)
		}
	}
}

func (tz *Tokenizer) emitAddressList(value, prefix string, emit func(prefix, lexeme string)) {
	for _, addr := range splitAddressList(value) {
		local, host, ok := splitAddress(addr)
		if !ok {
			continue
		}
		emit(prefix, strings.ToLower(local))

		host = strings.ToLower(host)
		emit(prefix+".host", host)
		for _, label := range strings.Split(host, ".") {
			emit(prefix+".host", label)
		}
	}
}

func (tz *Tokenizer) emitReceived(msg *message.Message, emit func(prefix, lexeme string)) {
	for _, line := range msg.HeaderAll("Received") {
		seen := map[string]bool{}
		for _, ip := range ipv4Re.FindAllString(line, -1) {
			if seen[ip] {
				continue
			}
			seen[ip] = true
			emit("h.rcvd", ip)
			emit("h.rcvd.ip24", ip24(ip))
		}
		for _, m := range bracketedHostRe.FindAllStringSubmatch(line, -1) {
			host := m[1]
			if ipv4Re.MatchString(host) {
				continue // already handled above
			}
			emit("h.rcvd", strings.ToLower(host))
		}
		for _, host := range hostnameRe.FindAllString(line, -1) {
			if ipv4Re.MatchString(host) {
				continue
			}
			emit("h.rcvd", strings.ToLower(host))
		}
	}
}

func (tz *Tokenizer) emitContentType(msg *message.Message, emit func(prefix, lexeme string)) {
	if ct, ok := msg.Header("Content-Type"); ok {
		emit("h.ctype", strings.ToLower(strings.TrimSpace(ct)))
	}
}

func (tz *Tokenizer) emitWhitelisted(msg *message.Message, emit func(prefix, lexeme string)) {
	for _, h := range msg.Headers {
		lower := strings.ToLower(h.Name)
		prefix, ok := headerWhitelist[lower]
		if !ok {
			continue
		}
		emit(prefix, strings.ToLower(strings.TrimSpace(h.Value)))
	}
}

func (tz *Tokenizer) emitBody(msg *message.Message, emit func(prefix, lexeme string)) {
	var bodyWords []string

	for _, part := range msg.BodyParts {
		text := part.Text
		if text == "" {
			continue
		}

		if part.ContentType == "text/html" {
			for _, tag := range htmlTags(text) {
				emit("html.tag", tag)
			}
			for _, link := range htmlAttrLinks(text) {
				tz.emitURL(link, emit)
			}
			text = stripHTML(text)
		}

		for _, link := range urlRe.FindAllString(text, -1) {
			tz.emitURL(link, emit)
		}

		text = foldWidth(text)
		for _, w := range bodyTokenRe.FindAllString(text, -1) {
			word := strings.ToLower(w)
			emit("body", word)
			bodyWords = append(bodyWords, word)
		}
	}

	tz.emitPhrases(bodyWords, emit)
	tz.emitLanguage(msg, emit)
}

func (tz *Tokenizer) emitPhrases(bodyWords []string, emit func(prefix, lexeme string)) {
	n := tz.cfg.PhraseLength
	if n < 1 {
		n = 1
	}
	if n == 1 || len(bodyWords) < n {
		return
	}
	for i := 0; i+n <= len(bodyWords); i++ {
		emit("phrase", strings.Join(bodyWords[i:i+n], "_"))
	}
}

func (tz *Tokenizer) emitURL(raw string, emit func(prefix, lexeme string)) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return
	}
	host := strings.ToLower(u.Hostname())
	emit("url.host", host)

	path := strings.Trim(u.Path, "/")
	if path == "" {
		return
	}
	segment := strings.SplitN(path, "/", 2)[0]
	emit("url.path", strings.ToLower(segment))
}

// emitLanguage adds one supplemental "lang/<iso639-3>" term detected over
// the subject and decoded body text, with markup stripped from HTML parts
// (SPEC_FULL.md §4). Skipped entirely when detection isn't reliable,
// rather than emitting a guess.
func (tz *Tokenizer) emitLanguage(msg *message.Message, emit func(prefix, lexeme string)) {
	if !tz.cfg.DetectLanguage {
		return
	}
	subj, _ := msg.Header("Subject")
	texts := []string{subj}
	for _, p := range msg.BodyParts {
		if !strings.HasPrefix(p.ContentType, "text/") || p.Text == "" {
			continue
		}
		if p.ContentType == "text/html" {
			texts = append(texts, stripHTML(p.Text))
		} else {
			texts = append(texts, p.Text)
		}
	}
	text := strings.Join(texts, " ")
	if len(strings.TrimSpace(text)) < 8 {
		return
	}

	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return
	}
	emit("lang", info.Lang.Iso6393())
}

func splitWords(s string) []string {
	fields := wordSplitRe.Split(s, -1)
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func foldWidth(s string) string {
	return norm.NFKC.String(width.Fold.String(s))
}

func hasNonASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return false
}

func ip24(ip string) string {
	parts := strings.SplitN(ip, ".", 4)
	if len(parts) < 4 {
		return ip
	}
	return strings.Join(parts[:3], ".")
}

// splitAddressList splits a header value like "a@b.com, \"C D\" <c@d.com>"
// into its individual address strings.
func splitAddressList(value string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range value {
		switch r {
		case '<', '(':
			depth++
		case '>', ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = append(out, value[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, value[start:])
	return out
}

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+`)

// splitAddress extracts the local-part and host from a free-form address
// field (which may include a display name and angle brackets).
func splitAddress(field string) (local, host string, ok bool) {
	m := emailRe.FindString(field)
	if m == "" {
		return "", "", false
	}
	at := strings.LastIndexByte(m, '@')
	if at < 0 {
		return "", "", false
	}
	return m[:at], m[at+1:], true
}
