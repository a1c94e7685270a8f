package config

import (
	"fmt"
	"net"
	"time"

	"github.com/Wa4h1h/gotftp/pkg/transfer"
	"github.com/Wa4h1h/gotftp/pkg/types"
	"github.com/Wa4h1h/gotftp/pkg/utils"
)

type Server struct {
	Address         string `mapstructure:"address"`
	Port            string `mapstructure:"port"`
	BaseDir         string `mapstructure:"base_dir"`
	LogLevel        string `mapstructure:"log_level"`
	Trace           bool   `mapstructure:"trace"`
	NumTries        int    `mapstructure:"num_tries"`
	Timeout         uint   `mapstructure:"timeout"`
	MaxBlockSize    int    `mapstructure:"max_blksize"`
	AllowTimeout    bool   `mapstructure:"allow_timeout"`
	AllowTSize      bool   `mapstructure:"allow_tsize"`
	MaxTransferSize int64  `mapstructure:"max_transfer_size"`
	InvalidOptions  string `mapstructure:"invalid_options"`
	AllowWrite      bool   `mapstructure:"allow_write"`
	Overwrite       bool   `mapstructure:"overwrite"`
	ReusePort       bool   `mapstructure:"reuse_port"`
	MetricsAddr     string `mapstructure:"metrics_addr"`
}

// LoadServer builds the server configuration from defaults, the optional
// config file and TFTP_ environment variables, in increasing precedence.
func LoadServer(configPath string) (*Server, error) {
	v, err := initViper(configPath, "server")
	if err != nil {
		return nil, err
	}

	v.SetDefault("address", "")
	v.SetDefault("port", types.DefaultPort)
	v.SetDefault("base_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("trace", false)
	v.SetDefault("num_tries", types.DefaultNumTries)
	v.SetDefault("timeout", uint(types.DefaultTimeout/time.Second))
	v.SetDefault("max_blksize", types.MaxBlockSize)
	v.SetDefault("allow_timeout", true)
	v.SetDefault("allow_tsize", true)
	v.SetDefault("max_transfer_size", 0)
	v.SetDefault("invalid_options", transfer.IgnoreInvalid.String())
	v.SetDefault("allow_write", true)
	v.SetDefault("overwrite", false)
	v.SetDefault("reuse_port", true)
	v.SetDefault("metrics_addr", "")

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error while unmarshalling server config: %w", err)
	}

	cfg.BaseDir = expandPath(cfg.BaseDir)
	if cfg.BaseDir == "" {
		if cfg.BaseDir, err = utils.UserHomeDirPath(); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Server) Validate() error {
	if c.MaxBlockSize != 0 && (c.MaxBlockSize < types.MinBlockSize || c.MaxBlockSize > types.MaxBlockSize) {
		return invalid("max_blksize %d outside %d..%d", c.MaxBlockSize, types.MinBlockSize, types.MaxBlockSize)
	}

	if c.Timeout < types.MinTimeout || c.Timeout > types.MaxTimeout {
		return invalid("timeout %d outside %d..%d", c.Timeout, types.MinTimeout, types.MaxTimeout)
	}

	if c.NumTries < 1 {
		return invalid("num_tries must be positive, got %d", c.NumTries)
	}

	if c.MaxTransferSize < 0 {
		return invalid("max_transfer_size must not be negative")
	}

	if _, err := transfer.ParseInvalidOptionPolicy(c.InvalidOptions); err != nil {
		return invalid("%s", err.Error())
	}

	return nil
}

func (c *Server) ListenAddr() string {
	return net.JoinHostPort(c.Address, c.Port)
}

func (c *Server) RetransmitTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *Server) Policy() transfer.Policy {
	invalidOptions, _ := transfer.ParseInvalidOptionPolicy(c.InvalidOptions)

	return transfer.Policy{
		MaxBlockSize:      c.MaxBlockSize,
		AllowTimeout:      c.AllowTimeout,
		AllowTransferSize: c.AllowTSize,
		MaxTransferSize:   c.MaxTransferSize,
		InvalidOptions:    invalidOptions,
	}
}
