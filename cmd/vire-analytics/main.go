// Command vire-analytics computes, backfills and serves portfolio analytics snapshots.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
)

var configPath string

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&computeCmd{}, "analytics")
	commander.Register(&backfillCmd{}, "analytics")
	commander.Register(&rollupCmd{}, "analytics")
	commander.Register(&importCmd{}, "data")
	commander.Register(&purgeCmd{}, "data")
	commander.Register(&workerCmd{}, "jobs")
	commander.Register(&jobsCmd{}, "jobs")
	commander.Register(&cancelCmd{}, "jobs")
	commander.Register(&versionCmd{}, "")

	flag.StringVar(&configPath, "config", "", "path to vire-analytics.toml (defaults to $VIRE_CONFIG)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}
