// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config defines the daemon configuration, loaded from command
// line flags with sensible per-network defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/seraphnet/seraph/params"
)

const (
	defaultDataDirname  = "data"
	defaultLogDirname   = "logs"
	defaultDbType       = "leveldb"
	defaultDebugLevel   = "info"
	defaultMaxPoolSize  = 50000
	defaultMinTxFeeRate = 1
	defaultTxExpiry     = 24 * time.Hour
)

// Config defines the configuration options for the seraph daemon.
type Config struct {
	HomeDir       string        `short:"A" long:"appdata" description:"Path to application home directory"`
	ShowVersion   bool          `short:"V" long:"version" description:"Display version information and exit"`
	DataDir       string        `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir        string        `long:"logdir" description:"Directory to log output"`
	NoFileLogging bool          `long:"nofilelogging" description:"Disable file logging"`
	DebugLevel    string        `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	TestNet       bool          `long:"testnet" description:"Use the test network"`
	PrivNet       bool          `long:"privnet" description:"Use the private network"`
	DbType        string        `long:"dbtype" description:"Database backend to use for the block chain"`
	VerifyingKey  string        `long:"verifyingkey" description:"File containing the Groth16 verifying key for transaction proofs"`
	MaxPoolSize   int           `long:"maxpoolsize" description:"Max number of transactions to keep in the memory pool"`
	MinTxFeeRate  uint64        `long:"mintxfeerate" description:"The minimum transaction fee per byte for mempool admission"`
	TxExpiry      time.Duration `long:"txexpiry" description:"How long a transaction may stay in the memory pool unmined. Valid time units are {s, m, h}"`
	Metrics       bool          `long:"metrics" description:"Periodically log runtime metrics"`

	// ActiveParams identifies the network the daemon validates for,
	// resolved from the network flags.
	ActiveParams *params.Params
}

// defaultHomeDir returns the default application home directory.
func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".seraphd")
}

// LoadConfig initializes and parses the config using command line
// options.
func LoadConfig(appName, version string) (*Config, error) {
	cfg := &Config{
		HomeDir:      defaultHomeDir(),
		DbType:       defaultDbType,
		DebugLevel:   defaultDebugLevel,
		MaxPoolSize:  defaultMaxPoolSize,
		MinTxFeeRate: defaultMinTxFeeRate,
		TxExpiry:     defaultTxExpiry,
	}

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if cfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	if cfg.TestNet && cfg.PrivNet {
		return nil, fmt.Errorf("the testnet and privnet params can not " +
			"be used together")
	}
	switch {
	case cfg.TestNet:
		cfg.ActiveParams = &params.TestNetParams
	case cfg.PrivNet:
		cfg.ActiveParams = &params.PrivNetParams
	default:
		cfg.ActiveParams = &params.MainNetParams
	}

	// The data and log directories are namespaced by network so
	// switching networks never mixes state.
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.HomeDir, defaultDataDirname)
	}
	cfg.DataDir = filepath.Join(cfg.DataDir, cfg.ActiveParams.Name)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.HomeDir, defaultLogDirname)
	}
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.ActiveParams.Name)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if !cfg.NoFileLogging {
		if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	return cfg, nil
}
