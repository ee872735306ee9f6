package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mailprobe/mailprobe/pkg/classifier"
	"github.com/mailprobe/mailprobe/pkg/config"
	"github.com/mailprobe/mailprobe/pkg/rules"
	"github.com/mailprobe/mailprobe/pkg/store"
)

// openStore opens the configured backend (spec.md §4.3 open, upgrading
// schema/creating on demand), selecting bbolt or Redis per
// cfg.Store.Backend (SPEC_FULL.md §3/§5).
func openStore(ctx context.Context, cfg *config.Config, readOnly bool) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.OpenRedis(ctx, store.RedisOptions{
			URL:         cfg.Store.Redis.URL,
			KeyPrefix:   cfg.Store.Redis.KeyPrefix,
			DatabaseNum: cfg.Store.Redis.DatabaseNum,
			CacheSize:   cfg.Store.CacheSize,
		})
	case "bolt", "":
		return store.Open(cfg.Store.Path, readOnly, cfg.Store.CacheSize, cfg.Store.LockTimeout)
	default:
		return nil, fmt.Errorf("mailprobe: unknown store backend %q", cfg.Store.Backend)
	}
}

// openClassifier wires config, store, logger and the optional Lua rules
// hook into a ready-to-use Classifier. Callers must Close() the returned
// store when done.
func openClassifier(ctx context.Context, cfg *config.Config, readOnly bool) (*classifier.Classifier, store.Store, error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(ctx, cfg, readOnly)
	if err != nil {
		return nil, nil, err
	}

	c := classifier.New(cfg, st, log)

	if cfg.Rules.ScriptPath != "" {
		filter, err := rules.Load(cfg.Rules.ScriptPath)
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		c.SetRules(filter)
	}

	return c, st, nil
}

func nowFunc() time.Time {
	return time.Now()
}
