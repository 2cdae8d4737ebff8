package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/roach88/relhist/internal/config"
	"github.com/roach88/relhist/internal/descriptor"
	"github.com/roach88/relhist/internal/engine"
	"github.com/roach88/relhist/internal/logging"
	"github.com/roach88/relhist/internal/mapping"
	"github.com/roach88/relhist/internal/store"
)

const serviceName = "relhist"

// session is everything a database command needs: resolved config, the
// mapping registry, an open store and a logger. The engine is created on
// demand because init must create tables before the engine reads them.
type session struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *descriptor.Registry
	store    *store.Store
	metrics  *prometheus.Registry
}

// resolveConfig loads config and applies flag overrides.
func (o *RootOptions) resolveConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return nil, err
	}
	if o.Driver != "" {
		cfg.Database.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.Database.DSN = o.DSN
	}
	if o.Mapping != "" {
		cfg.Mapping = o.Mapping
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mapping == "" {
		return nil, errors.New("config: mapping is required (--mapping or RELHIST_MAPPING)")
	}
	return cfg, nil
}

// openSession resolves config, loads the mapping and opens the store.
// Errors are returned as ExitErrors with ExitCommandError.
func (o *RootOptions) openSession() (*session, error) {
	cfg, err := o.resolveConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create logger", err)
	}

	m, err := mapping.Load(cfg.Mapping)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load mapping", err)
	}
	reg, err := descriptor.Build(m)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid mapping", err)
	}

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	logger.Debug("session opened",
		zap.String("driver", cfg.Database.Driver),
		zap.String("mapping", cfg.Mapping),
		zap.Int("entities", len(reg.Entities())),
		zap.Int("relationships", len(reg.Associations())),
	)

	return &session{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		store:    st,
		metrics:  prometheus.NewRegistry(),
	}, nil
}

// engine creates the history engine over the session store.
func (s *session) engine(ctx context.Context) (*engine.Engine, error) {
	eng, err := engine.New(ctx, s.store, s.registry,
		engine.WithLogger(s.logger),
		engine.WithCacheSize(s.cfg.CacheSize),
		engine.WithMetrics(engine.NewMetrics(s.metrics)),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	return eng, nil
}

// reportMetrics writes the engine metrics gathered during the command to
// the diagnostic writer in the Prometheus text format. It is a no-op
// unless verbose output is enabled.
func (s *session) reportMetrics(out *OutputFormatter) {
	if !out.Verbose {
		return
	}
	families, err := s.metrics.Gather()
	if err != nil {
		out.VerboseLog("failed to gather metrics: %v", err)
		return
	}
	w := out.GetErrWriter()
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			out.VerboseLog("failed to write metrics: %v", err)
			return
		}
	}
}

func (s *session) Close() error {
	_ = s.logger.Sync()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
