package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Wa4h1h/gotftp/internal/config"
	"github.com/Wa4h1h/gotftp/pkg/client"
	"github.com/Wa4h1h/gotftp/pkg/utils"
)

type ctxKey string

const (
	configKey ctxKey = "clientConfig"
	loggerKey ctxKey = "logger"
)

type flags struct {
	configPath string
	server     string
	logLevel   string
	mode       string
	blockSize  int
	timeout    uint
	numTries   int
	tsize      bool
	trace      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:          "gotftp",
		Short:        "TFTP client",
		Long:         "gotftp downloads and uploads files over TFTP. Without a subcommand it starts an interactive shell.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient(f.configPath)
			if err != nil {
				return err
			}

			f.apply(cmd, cfg)

			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := utils.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}

			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			ctx = context.WithValue(ctx, loggerKey, logger.Sugar())
			cmd.SetContext(ctx)

			return nil
		},
		RunE: runShell,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "path to a client config file (YAML)")
	pf.StringVarP(&f.server, "server", "s", "", "server as host or host:port")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVarP(&f.mode, "mode", "m", "", "octet or netascii")
	pf.IntVarP(&f.blockSize, "blksize", "b", 0, "block size to negotiate, 0 keeps 512")
	pf.UintVarP(&f.timeout, "timeout", "t", 0, "retransmission timeout in seconds")
	pf.IntVar(&f.numTries, "retries", 0, "retransmissions before giving up")
	pf.BoolVar(&f.tsize, "tsize", false, "negotiate the transfer size")
	pf.BoolVar(&f.trace, "trace", false, "log every packet")

	root.AddCommand(getCommand(), putCommand(), shellCommand())

	return root
}

func (f *flags) apply(cmd *cobra.Command, cfg *config.Client) {
	changed := cmd.Flags().Changed

	if changed("server") {
		cfg.Server = f.server
	}

	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}

	if changed("mode") {
		cfg.Mode = f.mode
	}

	if changed("blksize") {
		cfg.BlockSize = f.blockSize
	}

	if changed("timeout") {
		cfg.Timeout = f.timeout
	}

	if changed("retries") {
		cfg.NumTries = f.numTries
	}

	if changed("tsize") {
		cfg.TSize = f.tsize
	}

	if changed("trace") {
		cfg.Trace = f.trace
	}
}

func fromContext(cmd *cobra.Command) (*config.Client, *zap.SugaredLogger) {
	cfg, _ := cmd.Context().Value(configKey).(*config.Client)
	l, _ := cmd.Context().Value(loggerKey).(*zap.SugaredLogger)

	return cfg, l
}

func clientConfig(cfg *config.Client) client.Config {
	return client.Config{
		Timeout:   time.Duration(cfg.Timeout) * time.Second,
		NumTries:  cfg.NumTries,
		BlockSize: cfg.BlockSize,
		TSize:     cfg.TSize,
		Mode:      cfg.Mode,
		Trace:     cfg.Trace,
	}
}

// connect returns a file client bound to the working directory.
func connect(cmd *cobra.Command) (*client.FileClient, error) {
	cfg, l := fromContext(cmd)

	if cfg.Server == "" {
		return nil, utils.ErrNotConnected
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("error while reading working directory: %w", err)
	}

	fc := client.NewFileClient(wd, clientConfig(cfg), l, cmd.OutOrStdout())
	if err := fc.Connect(cfg.Server); err != nil {
		return nil, err
	}

	return fc, nil
}

func getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <file>...",
		Short: "download files into the working directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fc, err := connect(cmd)
			if err != nil {
				return err
			}

			for _, name := range args {
				if err := fc.Get(ctx, name); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func putCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put <file>...",
		Short: "upload local files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fc, err := connect(cmd)
			if err != nil {
				return err
			}

			for _, name := range args {
				abs, err := filepath.Abs(name)
				if err != nil {
					return err
				}

				if err := fc.Put(ctx, abs); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "interactive prompt",
		RunE:  runShell,
	}
}

func runShell(cmd *cobra.Command, _ []string) error {
	cfg, l := fromContext(cmd)

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("error while reading working directory: %w", err)
	}

	fc := client.NewFileClient(wd, clientConfig(cfg), l, cmd.OutOrStdout())

	if cfg.Server != "" {
		if err := fc.Connect(cfg.Server); err != nil {
			return err
		}
	}

	defer func() {
		if err := fc.Close(); err != nil {
			l.Error(err.Error())
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	return client.NewCli(l, fc, cmd.InOrStdin(), cmd.OutOrStdout()).Read(ctx)
}
