package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/bobmcallan/vire-analytics/internal/models"
)

type rollupCmd struct {
	user      string
	date      string
	recompute bool
	persist   bool
}

func (*rollupCmd) Name() string { return "rollup" }
func (*rollupCmd) Synopsis() string {
	return "roll up a user's accounts into one view in the base currency"
}
func (*rollupCmd) Usage() string {
	return `vire-analytics rollup -user <id> [-date YYYY-MM-DD] [-recompute] [-persist]

  Combines the stored snapshots of the user's active accounts, converted to
  the user's base currency. -recompute computes account snapshots first;
  -persist stores the resulting view.
`
}

func (c *rollupCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user id")
	f.StringVar(&c.date, "date", "", "as-of date (YYYY-MM-DD), defaults to the last trading day")
	f.BoolVar(&c.recompute, "recompute", false, "recompute account snapshots before rolling up")
	f.BoolVar(&c.persist, "persist", false, "store the view")
}

func (c *rollupCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		return usage("rollup: -user is required")
	}
	asOf, err := parseDateFlag("date", c.date, latestDate())
	if err != nil {
		return usage("rollup: %v", err)
	}

	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	view, err := a.Analytics.ComputeUserView(ctx, c.user, asOf, models.UserViewOptions{
		Recompute: c.recompute,
		Persist:   c.persist,
	})
	if err != nil {
		return fail(err)
	}
	if err := writeJSON(os.Stdout, view); err != nil {
		return fail(err)
	}
	if view.Status == models.StatusFailed {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
