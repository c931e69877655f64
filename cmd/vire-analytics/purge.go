package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/subcommands"
)

type purgeCmd struct {
	after string
}

func (*purgeCmd) Name() string     { return "purge" }
func (*purgeCmd) Synopsis() string { return "remove rendered charts and finished jobs" }
func (*purgeCmd) Usage() string {
	return `vire-analytics purge [-after 24h]

  Deletes rendered charts and completed, failed or cancelled jobs older than
  -after (defaults to jobs.purge_after). Snapshots are never purged.
`
}

func (c *purgeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.after, "after", "", "age of finished jobs to purge, e.g. 72h")
}

func (c *purgeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	after := a.Config.Jobs.GetPurgeAfter()
	if c.after != "" {
		d, err := time.ParseDuration(c.after)
		if err != nil || d < 0 {
			return usage("purge: invalid -after %q", c.after)
		}
		after = d
	}

	counts, err := a.Storage.PurgeDerivedData(ctx, after)
	if err != nil {
		return fail(err)
	}
	if err := writeJSON(os.Stdout, counts); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}
