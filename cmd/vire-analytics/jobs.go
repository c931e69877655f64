package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

type jobsCmd struct {
	account string
	user    string
	limit   int
}

func (*jobsCmd) Name() string     { return "jobs" }
func (*jobsCmd) Synopsis() string { return "list queued analytics jobs" }
func (*jobsCmd) Usage() string {
	return `vire-analytics jobs [-account <id> | -user <id>] [-limit 50]

  Without a subject, lists pending jobs in processing order. With -account
  or -user, lists every job for that subject, newest first.
`
}

func (c *jobsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "account id")
	f.StringVar(&c.user, "user", "", "user id (roll-up jobs)")
	f.IntVar(&c.limit, "limit", 50, "maximum pending jobs to list")
}

func (c *jobsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	queue := a.Storage.JobQueueStore()
	subject := c.account
	if c.user != "" {
		subject = "user:" + c.user
	}

	if subject == "" {
		pending, err := queue.CountPending(ctx)
		if err != nil {
			return fail(err)
		}
		jobs, err := queue.ListPending(ctx, c.limit)
		if err != nil {
			return fail(err)
		}
		fmt.Fprintf(os.Stderr, "%d pending\n", pending)
		if err := writeJSON(os.Stdout, jobs); err != nil {
			return fail(err)
		}
		return subcommands.ExitSuccess
	}

	jobs, err := queue.ListBySubject(ctx, subject)
	if err != nil {
		return fail(err)
	}
	if err := writeJSON(os.Stdout, jobs); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}
