package commands

import (
	"io"
	"log"
	"os"

	"github.com/btcsuite/btclog/v2"
	"github.com/roasbeef/rpcore/internal/baselib/rpcore"
	"github.com/roasbeef/rpcore/internal/build"
	"github.com/roasbeef/rpcore/internal/rpctransport"
)

// expandHome expands a leading "~" in path to the user's home directory.
func expandHome(path string) string {
	expanded := os.ExpandEnv(path)
	if expanded == path && len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		expanded = home + path[1:]
	}
	return expanded
}

// setupLogging wires a rotating log file (if logDir is non-empty) and
// installs btclog loggers for rpcore and rpctransport, fanning every record
// out to both the console and the log file. The returned closer must be
// closed by the caller on shutdown.
func setupLogging() (closer func()) {
	logDirExpanded := expandHome(logDir)

	var logRotator *build.RotatingLogWriter
	if logDirExpanded != "" {
		var err error
		logRotator, err = build.NewRotatingLogWriter(
			logDirExpanded, maxLogFiles, maxLogFileSize,
		)
		if err != nil {
			log.Printf("Failed to init log rotator: %v "+
				"(continuing without file logging)", err)
			logRotator = nil
		} else {
			multiWriter := io.MultiWriter(os.Stderr, logRotator)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags)
		}
	}

	var fileHandler btclog.Handler
	if logRotator != nil {
		fileHandler = btclog.NewDefaultHandler(logRotator)
	}
	combined := build.NewDualHandler(
		btclog.NewDefaultHandler(os.Stderr), fileHandler,
	)
	baseLogger := btclog.NewSLogger(combined)

	rpcore.UseLogger(baseLogger.WithPrefix("RPCR"))
	rpctransport.UseLogger(baseLogger.WithPrefix("XPRT"))

	if logRotator == nil {
		return func() {}
	}
	return func() { logRotator.Close() }
}
