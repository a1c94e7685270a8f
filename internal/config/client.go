package config

import (
	"fmt"
	"time"

	"github.com/Wa4h1h/gotftp/pkg/types"
)

type Client struct {
	Server    string `mapstructure:"server"`
	LogLevel  string `mapstructure:"log_level"`
	Trace     bool   `mapstructure:"trace"`
	NumTries  int    `mapstructure:"num_tries"`
	Timeout   uint   `mapstructure:"timeout"`
	BlockSize int    `mapstructure:"blksize"`
	TSize     bool   `mapstructure:"tsize"`
	Mode      string `mapstructure:"mode"`
}

func LoadClient(configPath string) (*Client, error) {
	v, err := initViper(configPath, "client")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("trace", false)
	v.SetDefault("num_tries", types.DefaultNumTries)
	v.SetDefault("timeout", uint(types.DefaultTimeout/time.Second))
	v.SetDefault("blksize", 0)
	v.SetDefault("tsize", false)
	v.SetDefault("mode", types.ModeOctet)

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error while unmarshalling client config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Client) Validate() error {
	if c.BlockSize != 0 && (c.BlockSize < types.MinBlockSize || c.BlockSize > types.MaxBlockSize) {
		return invalid("blksize %d outside %d..%d", c.BlockSize, types.MinBlockSize, types.MaxBlockSize)
	}

	if c.Timeout < types.MinTimeout || c.Timeout > types.MaxTimeout {
		return invalid("timeout %d outside %d..%d", c.Timeout, types.MinTimeout, types.MaxTimeout)
	}

	if c.NumTries < 1 {
		return invalid("num_tries must be positive, got %d", c.NumTries)
	}

	if !types.ValidMode(c.Mode) {
		return invalid("mode %q", c.Mode)
	}

	return nil
}
