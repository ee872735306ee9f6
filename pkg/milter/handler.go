// Package milter adapts the Classifier to a real-time SMTP content
// filter, implementing the milter.Milter interface (github.com/d--j/go-milter),
// in the same shape as the teacher's own pkg/milter/handler.go and
// server.go, but driven by Classify/Train instead of a heuristic
// SpamFilter.
package milter

import (
	"bytes"
	"context"
	"fmt"
	"time"

	gomilter "github.com/d--j/go-milter"
	"github.com/rs/zerolog"

	"github.com/mailprobe/mailprobe/pkg/classifier"
	"github.com/mailprobe/mailprobe/pkg/config"
)

// Handler implements milter.Milter, reassembling one message's raw bytes
// across the Header/Headers/BodyChunk callbacks and classifying it at
// EndOfMessage. pkg/message's Parse requires the whole message, so
// unlike a streaming scanner this handler buffers one message at a time.
type Handler struct {
	gomilter.NoOpMilter

	cfg        *config.Config
	classifier *classifier.Classifier
	log        zerolog.Logger

	raw       bytes.Buffer
	startTime time.Time
}

// NewHandler constructs a milter.Milter bound to an already-wired Classifier.
func NewHandler(cfg *config.Config, c *classifier.Classifier, log zerolog.Logger) *Handler {
	return &Handler{cfg: cfg, classifier: c, log: log}
}

func (h *Handler) NewConnection(_ gomilter.Modifier) error {
	h.startTime = time.Now()
	return nil
}

func (h *Handler) MailFrom(_ string, _ string, _ gomilter.Modifier) (*gomilter.Response, error) {
	h.raw.Reset()
	return gomilter.RespContinue, nil
}

// Header replays each header line back into the raw buffer exactly as
// MessageParser expects to see it (spec.md §4.1: RFC-5322-style headers).
func (h *Handler) Header(name string, value string, _ gomilter.Modifier) (*gomilter.Response, error) {
	fmt.Fprintf(&h.raw, "%s: %s\r\n", name, value)
	return gomilter.RespContinue, nil
}

func (h *Handler) Headers(_ gomilter.Modifier) (*gomilter.Response, error) {
	h.raw.WriteString("\r\n")
	return gomilter.RespContinue, nil
}

func (h *Handler) BodyChunk(chunk []byte, _ gomilter.Modifier) (*gomilter.Response, error) {
	h.raw.Write(chunk)
	return gomilter.RespContinue, nil
}

// EndOfMessage classifies the reassembled message and, per configuration,
// tags it with X-Mailprobe-Score/X-Mailprobe-Flag headers and optionally
// trains on the predicted class (config key milter.train_on_deliver).
func (h *Handler) EndOfMessage(m gomilter.Modifier) (*gomilter.Response, error) {
	raw := append([]byte(nil), h.raw.Bytes()...)
	ctx := context.Background()

	result, err := h.classifier.Classify(ctx, raw)
	if err != nil {
		h.log.Warn().Err(err).Msg("milter: classify failed, passing message through")
		return gomilter.RespContinue, nil
	}

	if h.cfg.Milter.AddSpamHeaders {
		if err := h.addHeaders(m, result.Score, result.IsSpam); err != nil {
			h.log.Warn().Err(err).Msg("milter: failed to add headers")
		}
	}

	if h.cfg.Milter.TrainOnDeliver {
		class := classifier.Good
		if result.IsSpam {
			class = classifier.Spam
		}
		if err := h.classifier.Train(ctx, raw, class, time.Now()); err != nil {
			h.log.Warn().Err(err).Msg("milter: train-on-deliver failed")
		}
	}

	return gomilter.RespContinue, nil
}

func (h *Handler) Abort(_ gomilter.Modifier) error {
	h.raw.Reset()
	return nil
}

func (h *Handler) addHeaders(m gomilter.Modifier, score float64, isSpam bool) error {
	prefix := h.cfg.Milter.SpamHeaderPrefix
	flag := "NO"
	if isSpam {
		flag = "YES"
	}

	if err := m.AddHeader(prefix+"Score", fmt.Sprintf("%.4f", score)); err != nil {
		return err
	}
	return m.AddHeader(prefix+"Flag", flag)
}
