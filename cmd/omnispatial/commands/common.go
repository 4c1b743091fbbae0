// Package commands implements the omnispatial CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jameshyojaelee/omnispatial/adapter"
	"github.com/jameshyojaelee/omnispatial/catalog"
	"github.com/jameshyojaelee/omnispatial/config"
	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/logger"
	"github.com/jameshyojaelee/omnispatial/metrics"
	"github.com/jameshyojaelee/omnispatial/ngff"
	"github.com/jameshyojaelee/omnispatial/store"
	"github.com/jameshyojaelee/omnispatial/version"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitFailed     = 1 // command error, or validation found error issues
	ExitUnreadable = 2 // bundle could not be validated at all
)

// ExitError asks main to exit with Code. A nil Err exits silently.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

var appConfig *config.Config

// Setup loads configuration (configPath when set, otherwise the merged
// system, user and project files) and initializes the global logger.
// Flags win over the [log] section.
func Setup(configPath string, verbosity int, jsonLogs bool) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return errors.WithHint(errors.Wrap(err, "invalid configuration"),
			"run 'omnispatial config show' to inspect the effective settings")
	}
	appConfig = cfg

	if err := logger.Initialize(jsonLogs || cfg.Log.JSON, max(verbosity, cfg.Log.Verbosity)); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	return nil
}

// SetConfig replaces the active configuration.
func SetConfig(cfg *config.Config) {
	appConfig = cfg
}

func currentConfig() *config.Config {
	if appConfig == nil {
		appConfig = config.Default()
	}
	return appConfig
}

func newRegistry() (*adapter.Registry, error) {
	return adapter.NewDefaultRegistry(version.Version, currentConfig().Adapters.Enabled,
		logger.ComponentLogger("adapter"))
}

// openCatalog returns nil when the catalog is disabled or cannot be
// opened; history is best effort and never fails a command.
func openCatalog(ctx context.Context) *catalog.Catalog {
	cfg := currentConfig()
	if !cfg.Catalog.Enabled {
		return nil
	}
	cat, err := catalog.Open(ctx, cfg.CatalogPath(), logger.ComponentLogger("catalog"))
	if err != nil {
		logger.Warnw("catalog unavailable, history will not be recorded",
			logger.FieldPath, cfg.CatalogPath(), logger.FieldError, err.Error())
		return nil
	}
	return cat
}

// storeOptions returns the configured store options.
func storeOptions() store.Options {
	return currentConfig().StoreOptions()
}

// parseChunks parses "1,256,256" into a chunk shape of the given rank.
func parseChunks(s string, rank int) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != rank {
		return nil, errors.NewInvalidRequestError("chunk shape %q needs %d comma-separated entries", s, rank)
	}
	out := make([]int, rank)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return nil, errors.NewInvalidRequestError("chunk shape %q: %q is not a positive integer", s, p)
		}
		out[i] = n
	}
	return out, nil
}

// writeMetrics exports rec when path is set.
func writeMetrics(rec *metrics.Recorder, path string) {
	if path == "" {
		return
	}
	if err := rec.WriteTextfile(path); err != nil {
		logger.Warnw("failed to write metrics", logger.FieldPath, path, logger.FieldError, err.Error())
	}
}

// conversion is the outcome of one dataset write.
type conversion struct {
	Input       string        `json:"input"`
	Location    string        `json:"location"`
	Adapter     string        `json:"adapter"`
	Format      string        `json:"format"`
	Fingerprint string        `json:"fingerprint"`
	Images      int           `json:"images"`
	Labels      int           `json:"labels"`
	Tables      int           `json:"tables"`
	Duration    time.Duration `json:"duration_ns"`
}

// convert reads input with the registry and writes it to destination.
func convert(ctx context.Context, reg *adapter.Registry, input, destination, vendor string,
	opts ngff.Options, rec *metrics.Recorder) (conversion, error) {
	start := time.Now()
	c := conversion{Input: input, Location: destination, Format: opts.Format}
	log := logger.FromContext(ctx, logger.ComponentLogger("convert"))

	ds, md, err := reg.Read(ctx, input, vendor)
	c.Adapter = md.Name
	if err != nil {
		return c, err
	}
	log.Infow("dataset loaded", logger.FieldAdapter, md.Name, logger.FieldPath, input,
		"images", len(ds.Images()), "labels", len(ds.Labels()), "tables", len(ds.Tables()))

	storeOpts := opts.Store
	storeOpts.Create = true
	st, err := store.Open(ctx, destination, storeOpts)
	if err != nil {
		return c, errors.Wrapf(err, "open destination %s", destination)
	}
	w, err := ngff.NewWriter(st, opts, logger.FromContext(ctx, logger.ComponentLogger("ngff")), rec)
	if err != nil {
		return c, err
	}
	if err := w.Write(ctx, ds); err != nil {
		return c, err
	}
	if c.Fingerprint, err = ngff.Fingerprint(ctx, st); err != nil {
		return c, err
	}
	c.Images, c.Labels, c.Tables = len(ds.Images()), len(ds.Labels()), len(ds.Tables())
	c.Duration = time.Since(start)
	return c, nil
}

// recordConversion stores the outcome in the catalog, if any.
func recordConversion(ctx context.Context, cat *catalog.Catalog, c conversion, convErr error) {
	if cat == nil {
		return
	}
	rec := catalog.Conversion{
		Input:       c.Input,
		Destination: c.Location,
		Adapter:     c.Adapter,
		Format:      c.Format,
		Fingerprint: c.Fingerprint,
		Duration:    c.Duration,
	}
	if convErr != nil {
		rec.Err = convErr.Error()
	}
	if _, err := cat.RecordConversion(ctx, rec); err != nil {
		logger.Warnw("failed to record conversion", logger.FieldError, err.Error())
	}
}
