package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/safehalls/safehalls/server"
)

func main() {
	// This is purely for documentation of the cmd-line args
	nominalDefaultConfigDB := "$HOME/safehalls/config.sqlite"
	nominalDefaultEventDB := "$HOME/safehalls/events.sqlite"

	parser := argparse.NewParser("safehalls", "School security dashboard server")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration database file", Default: nominalDefaultConfigDB})
	eventFile := parser.String("e", "events", &argparse.Options{Help: "Event database file", Default: nominalDefaultEventDB})
	port := parser.String("p", "port", &argparse.Options{Help: "HTTP listen address", Default: ":8080"})
	postgresDSN := parser.String("", "postgres", &argparse.Options{Help: "Postgres DSN of a shared event store, for multi-server change feeds", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/var/lib"
	}
	if *configFile == nominalDefaultConfigDB {
		*configFile = filepath.Join(home, "safehalls", "config.sqlite")
	}
	if *eventFile == nominalDefaultEventDB {
		*eventFile = filepath.Join(home, "safehalls", "events.sqlite")
	}

	srv, err := server.NewServer(logger, server.ServerOptions{
		ConfigDBFilename: *configFile,
		EventDBFilename:  *eventFile,
		PostgresDSN:      *postgresDSN,
	})
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Infof("Received signal %v", sig)
		srv.Shutdown()
	}()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// SYNC-SERVER-PORT
	if err := srv.SetupHTTP(*port); err != nil {
		logger.Errorf("SetupHTTP returned: %v", err)
	}
	srv.Shutdown()
}
