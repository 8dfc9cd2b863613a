// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/mattn/go-colorable"

	"github.com/seraphnet/seraph/core/blockchain"
	"github.com/seraphnet/seraph/database"
	"github.com/seraphnet/seraph/node"
	"github.com/seraphnet/seraph/services/mempool"
)

// logWriter implements an io.Writer that outputs to both standard
// output and the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	if logRotator != nil {
		logRotator.Write(p)
	}
	consoleWriter.Write(p)
	return len(p), nil
}

var (
	// consoleWriter handles terminal colors where the platform needs
	// translation.
	consoleWriter = colorable.NewColorableStdout()

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	backendLog = btclog.NewBackend(logWriter{})

	srphLog = backendLog.Logger("SRPH")
	chanLog = backendLog.Logger("CHAN")
	dtbsLog = backendLog.Logger("DTBS")
	mempLog = backendLog.Logger("MEMP")
	nodeLog = backendLog.Logger("NODE")
)

func init() {
	blockchain.UseLogger(chanLog)
	database.UseLogger(dtbsLog)
	mempool.UseLogger(mempLog)
	node.UseLogger(nodeLog)
}

// subsystemLoggers maps each subsystem identifier to its associated
// logger.
var subsystemLoggers = map[string]btclog.Logger{
	"SRPH": srphLog,
	"CHAN": chanLog,
	"DTBS": dtbsLog,
	"MEMP": mempLog,
	"NODE": nodeLog,
}

// initLogRotator initializes the logging rotator to write logs to
// logFile and create roll files in the same directory.  It must be
// called before the package-global log rotator variable is used.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

// setLogLevels sets the log level for all subsystem loggers to the
// passed level.  It returns an error if the level is invalid.
func setLogLevels(logLevel string) error {
	level, ok := btclog.LevelFromString(logLevel)
	if !ok {
		return fmt.Errorf("the specified debug level [%s] is invalid",
			logLevel)
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
	return nil
}
