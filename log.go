package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

const logFileName = "narrate.log"

func getLogFilePath() (string, error) {
	return gap.NewScope(gap.User, "narrate").DataPath(logFileName)
}

// setupLog sends logs to a file in the user data dir when debugging is on and
// discards them otherwise, since the reader owns the terminal.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)
	if !viper.GetBool("debug") && os.Getenv("NARRATE_DEBUG") == "" {
		return func() error { return nil }, nil
	}

	logFile, err := getLogFilePath()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
		return nil, err //nolint:wrapcheck
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	log.SetOutput(f)
	log.SetTimeFormat(time.RFC3339)
	log.SetReportTimestamp(true)
	log.SetLevel(log.DebugLevel)
	if lvl, err := log.ParseLevel(viper.GetString("log_level")); err == nil && viper.IsSet("log_level") {
		log.SetLevel(lvl)
	}
	log.Debug("logging to file", "path", logFile)
	return f.Close, nil
}
