package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

type cancelCmd struct {
	account string
}

func (*cancelCmd) Name() string     { return "cancel" }
func (*cancelCmd) Synopsis() string { return "cancel pending jobs for an account" }
func (*cancelCmd) Usage() string {
	return `vire-analytics cancel -account <id>

  Cancels the account's pending snapshot jobs. A running job finishes;
  snapshots already written are kept.
`
}

func (c *cancelCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "account id")
}

func (c *cancelCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.account == "" {
		return usage("cancel: -account is required")
	}
	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	n, err := a.JobManager.CancelAccount(ctx, c.account)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(os.Stdout, "cancelled %d jobs for %s\n", n, c.account)
	return subcommands.ExitSuccess
}
