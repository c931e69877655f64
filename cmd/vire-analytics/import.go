package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/bobmcallan/vire-analytics/internal/app"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

type importCmd struct {
	file    string
	enqueue bool
}

func (*importCmd) Name() string { return "import" }
func (*importCmd) Synopsis() string {
	return "load users, accounts, market data, holdings and transactions from JSON"
}
func (*importCmd) Usage() string {
	return `vire-analytics import -file dataset.json [-enqueue]

  Loads a dataset file. Reference data and holdings are upserted; transaction
  ids already in the ledger are skipped. -enqueue queues the latest snapshot
  for every account the import touched.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "file", "", "dataset JSON file")
	f.BoolVar(&c.enqueue, "enqueue", false, "queue latest snapshots for touched accounts")
}

func (c *importCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		return usage("import: -file is required")
	}

	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	summary, err := app.ImportFromFile(ctx, a.Storage, a.Logger, c.file)
	if err != nil {
		return fail(err)
	}
	if err := writeJSON(os.Stdout, summary); err != nil {
		return fail(err)
	}

	if c.enqueue {
		asOf := latestDate()
		for _, id := range summary.AccountIDs {
			if err := a.JobManager.EnqueueSnapshot(ctx, id, asOf, models.PriorityLatestSnapshot); err != nil {
				return fail(err)
			}
		}
		fmt.Fprintf(os.Stderr, "queued %d latest snapshots\n", len(summary.AccountIDs))
	}
	return subcommands.ExitSuccess
}
