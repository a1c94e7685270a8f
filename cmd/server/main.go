package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Wa4h1h/gotftp/internal/config"
	"github.com/Wa4h1h/gotftp/pkg/metrics"
	"github.com/Wa4h1h/gotftp/pkg/server"
	"github.com/Wa4h1h/gotftp/pkg/utils"
)

type flags struct {
	configPath string
	port       string
	baseDir    string
	logLevel   string
	trace      bool
	readOnly   bool
	overwrite  bool
	metrics    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:          "gotftp-server",
		Short:        "serve a directory over TFTP",
		Long:         "gotftp-server answers RRQ and WRQ requests for files below its base directory, with blksize, timeout and tsize negotiation.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadServer(f.configPath)
			if err != nil {
				return err
			}

			f.apply(cmd, cfg)

			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to a server config file (YAML)")
	cmd.Flags().StringVarP(&f.port, "port", "p", "", "UDP port to listen on")
	cmd.Flags().StringVarP(&f.baseDir, "base-dir", "d", "", "directory served to clients")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "log every packet")
	cmd.Flags().BoolVar(&f.readOnly, "read-only", false, "refuse write requests")
	cmd.Flags().BoolVar(&f.overwrite, "overwrite", false, "let uploads replace existing files")
	cmd.Flags().StringVar(&f.metrics, "metrics-addr", "", "address of the Prometheus endpoint, disabled when empty")

	return cmd
}

// apply lets explicitly set flags win over the file and environment.
func (f *flags) apply(cmd *cobra.Command, cfg *config.Server) {
	changed := cmd.Flags().Changed

	if changed("port") {
		cfg.Port = f.port
	}

	if changed("base-dir") {
		cfg.BaseDir = f.baseDir
	}

	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}

	if changed("trace") {
		cfg.Trace = f.trace
	}

	if changed("read-only") {
		cfg.AllowWrite = !f.readOnly
	}

	if changed("overwrite") {
		cfg.Overwrite = f.overwrite
	}

	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metrics
	}
}

func run(ctx context.Context, cfg *config.Server) error {
	logger, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	defer func() {
		_ = logger.Sync()
	}()

	l := logger.Sugar()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var collector *metrics.Collector

	if cfg.MetricsAddr != "" {
		collector = metrics.NewCollector("")
		srv := serveMetrics(l, cfg.MetricsAddr, collector)

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				l.Errorf("error while stopping metrics endpoint: %s", err.Error())
			}
		}()
	}

	s, err := server.New(server.Config{
		Addr:       cfg.ListenAddr(),
		Root:       cfg.BaseDir,
		Policy:     cfg.Policy(),
		Timeout:    cfg.RetransmitTimeout(),
		NumTries:   cfg.NumTries,
		AllowWrite: cfg.AllowWrite,
		Overwrite:  cfg.Overwrite,
		ReusePort:  cfg.ReusePort,
		Trace:      cfg.Trace,
		Metrics:    collector,
	}, l)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)

	go func() {
		errChan <- s.ListenAndServe()
	}()

	l.Infof("listening on %s", cfg.ListenAddr())

	select {
	case err := <-errChan:
		if errors.Is(err, utils.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
	}

	l.Info("shutting down")

	if err := s.Close(); err != nil {
		return fmt.Errorf("error while closing server: %w", err)
	}

	if err := <-errChan; !errors.Is(err, utils.ErrServerClosed) {
		return err
	}

	l.Infof("closed %s", cfg.ListenAddr())

	return nil
}

func serveMetrics(l *zap.SugaredLogger, addr string, c *metrics.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Errorf("metrics endpoint stopped: %s", err.Error())
		}
	}()

	l.Infof("metrics on http://%s/metrics", addr)

	return srv
}
