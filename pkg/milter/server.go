package milter

import (
	"context"
	"fmt"
	"net"
	"time"

	gomilter "github.com/d--j/go-milter"
	"github.com/rs/zerolog"

	"github.com/mailprobe/mailprobe/pkg/classifier"
	"github.com/mailprobe/mailprobe/pkg/config"
)

// Server wraps a go-milter server configured to hand every connection a
// fresh Handler bound to the same Classifier.
type Server struct {
	cfg       *config.Config
	milterSrv *gomilter.Server
}

// NewServer builds a Server. The caller is responsible for opening the
// listener per cfg.Milter.Network/Address (SPEC_FULL.md §6: "milter serve").
func NewServer(cfg *config.Config, c *classifier.Classifier, log zerolog.Logger) (*Server, error) {
	if !cfg.Milter.Enabled {
		return nil, fmt.Errorf("milter: not enabled in configuration")
	}

	opts := []gomilter.Option{
		gomilter.WithAction(gomilter.OptAddHeader),
		gomilter.WithMilter(func() gomilter.Milter {
			return NewHandler(cfg, c, log)
		}),
	}

	return &Server{
		cfg:       cfg,
		milterSrv: gomilter.NewServer(opts...),
	}, nil
}

// Serve accepts connections on listener until ctx is cancelled, then
// performs a graceful shutdown (spec.md §5: suspension points are I/O;
// there is no user-visible computation that should yield instead).
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.milterSrv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.milterSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("milter: shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("milter: serve: %w", err)
		}
		return nil
	}
}

// Close closes the underlying milter server immediately.
func (s *Server) Close() error {
	return s.milterSrv.Close()
}

// Listen opens the configured network listener (tcp or unix socket).
func Listen(cfg *config.Config) (net.Listener, error) {
	network := cfg.Milter.Network
	if network == "" {
		network = "tcp"
	}
	return net.Listen(network, cfg.Milter.Address)
}
