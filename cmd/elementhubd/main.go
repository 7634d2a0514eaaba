// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// elementhubd is the standalone websocket change hub. Element store
// engines POST committed changes to /broadcast; clients subscribe over
// the /ws endpoint.
package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/juju/clock"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/lumberjack/v2"

	"github.com/omc-ai/elementStore-sub001/internal/hub"
)

var logger = loggo.GetLogger("elementstore.cmd.hub")

const version = "1.0.0"

const (
	exitOK = iota
	exitConfig
)

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func main() {
	os.Exit(Main(os.Args))
}

// Main wires the hub process together. Split from main for tests.
func Main(args []string) int {
	addr := envOr("ELEMENTHUB_ADDR", ":8081")
	var logFile, logConfig string

	f := gnuflag.NewFlagSetWithFlagKnownAs(filepath.Base(args[0]), gnuflag.ContinueOnError, "option")
	f.StringVar(&addr, "addr", addr, "address to listen on")
	f.StringVar(&logFile, "log-file", "", "log to this file as well as stderr")
	f.StringVar(&logConfig, "logging-config", "", "loggo configuration string")
	if err := f.Parse(true, args[1:]); err != nil {
		if err == gnuflag.ErrHelp {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	if logFile != "" {
		writer := loggo.NewSimpleWriter(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 2,
		}, loggo.DefaultFormatter)
		if err := loggo.RegisterWriter("logfile", writer); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitConfig
		}
	}
	if logConfig == "" {
		logConfig = "<root>=INFO"
	}
	if err := loggo.ConfigureLoggers(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		return exitConfig
	}

	h := hub.New(clock.WallClock)
	defer func() {
		h.Kill()
		h.Wait()
	}()

	logger.Infof("elementhub %s serving on %s", version, addr)
	if err := http.ListenAndServe(addr, h.Router()); err != nil {
		logger.Errorf("server stopped: %v", err)
		return exitConfig
	}
	return exitOK
}
