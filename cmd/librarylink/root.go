// cmd/librarylink/root.go
package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"librarylink/internal/catalog"
	"librarylink/internal/circulation"
	"librarylink/internal/clients"
	"librarylink/internal/config"
	"librarylink/internal/telemetry"
)

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	catalog  catalog.Service
	loans    circulation.Service
	shutdown telemetry.Shutdown
	now      func() time.Time
}

type rootFlags struct {
	configPath string
	baseURL    string
	timeout    time.Duration
	logLevel   string
	logFormat  string
	dedupe     bool
}

func newRootCmd(a *app) *cobra.Command {
	var f rootFlags

	root := &cobra.Command{
		Use:           "librarylink",
		Short:         "Browse libraries and manage book loans",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd, f)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&f.baseURL, "base-url", "", "library service base URL")
	pf.DurationVar(&f.timeout, "timeout", 0, "request timeout (0 keeps the configured value)")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&f.logFormat, "log-format", "", "log format: text or json")
	pf.BoolVar(&f.dedupe, "dedupe", false, "share identical in-flight loan requests")

	root.AddCommand(
		newLibrariesCmd(a),
		newBooksCmd(a),
		newCheckoutCmd(a),
		newCheckinCmd(a),
		newExtendCmd(a),
		newLoansCmd(a),
		newCoverCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command, f rootFlags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if flags.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if flags.Changed("dedupe") {
		cfg.DedupeInflight = f.dedupe
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	shutdown, err := telemetry.Setup(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return err
	}

	opts := []clients.Option{
		clients.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		clients.WithLogger(logger),
	}
	catalogClient, err := clients.NewCatalogClient(cfg.BaseURL, opts...)
	if err != nil {
		return err
	}
	loanClient, err := clients.NewCirculationClient(cfg.BaseURL, opts...)
	if err != nil {
		return err
	}
	var svcOpts []circulation.ServiceOption
	if cfg.DedupeInflight {
		svcOpts = append(svcOpts, circulation.WithInflightDedup())
	}

	a.cfg = cfg
	a.logger = logger
	a.catalog = catalogClient
	a.loans = circulation.NewService(loanClient, svcOpts...)
	a.shutdown = shutdown
	if a.now == nil {
		a.now = time.Now
	}
	logger.Debug("configured", "base_url", cfg.BaseURL, "timeout", cfg.Timeout, "dedupe_inflight", cfg.DedupeInflight)
	return nil
}

func (a *app) close() {
	if a.shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil && a.logger != nil {
		a.logger.Warn("telemetry shutdown", "error", err)
	}
}
