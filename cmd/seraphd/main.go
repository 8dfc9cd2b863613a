// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/seraphnet/seraph/config"
	"github.com/seraphnet/seraph/crypto/zk"
	"github.com/seraphnet/seraph/node"
	"github.com/seraphnet/seraph/services/mempool"

	// Register the supported database drivers.
	_ "github.com/seraphnet/seraph/database/badgerdb"
	_ "github.com/seraphnet/seraph/database/ldb"
)

const (
	appName = "seraphd"
	version = "0.1.0"
)

// seraphdMain is the real main function for seraphd.  It is necessary
// to work around the fact that deferred functions do not run when
// os.Exit() is called.
func seraphdMain() error {
	cfg, err := config.LoadConfig(appName, version)
	if err != nil {
		return err
	}

	if !cfg.NoFileLogging {
		logFile := filepath.Join(cfg.LogDir, appName+".log")
		if err := initLogRotator(logFile); err != nil {
			return err
		}
		defer logRotator.Close()
	}
	if err := setLogLevels(cfg.DebugLevel); err != nil {
		return err
	}

	srphLog.Infof("Version %s (network %s)", version, cfg.ActiveParams.Name)

	if cfg.VerifyingKey == "" {
		return fmt.Errorf("no verifying key configured; a consensus node " +
			"cannot validate transaction proofs without one (see " +
			"--verifyingkey)")
	}
	vk, err := zk.LoadVerifyingKey(cfg.VerifyingKey)
	if err != nil {
		return fmt.Errorf("failed to load verifying key: %w", err)
	}

	policy := mempool.DefaultPolicy()
	policy.MaxPoolSize = cfg.MaxPoolSize
	policy.MinFeeRate = cfg.MinTxFeeRate
	policy.TxExpiry = cfg.TxExpiry

	n, err := node.New(&node.Config{
		DataDir:  cfg.DataDir,
		DbType:   cfg.DbType,
		Params:   cfg.ActiveParams,
		Verifier: zk.NewGroth16Verifier(vk),
		Policy:   policy,
	})
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}
	defer func() {
		if err := n.Stop(); err != nil {
			srphLog.Errorf("Shutdown error: %v", err)
		}
		srphLog.Info("Shutdown complete")
	}()

	if cfg.Metrics {
		go metrics.Log(metrics.DefaultRegistry, time.Minute,
			stdlog.New(logWriter{}, "METR: ", stdlog.LstdFlags))
	}

	// Block until an interrupt arrives.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	sig := <-interrupt
	srphLog.Infof("Received signal (%s), shutting down...", sig)
	return nil
}

func main() {
	if err := seraphdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
