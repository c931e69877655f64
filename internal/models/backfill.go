package models

// BackfillReport summarizes a backfill run for one account.
type BackfillReport struct {
	AccountID string          `json:"account_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Results   []BackfillEntry `json:"results"`
	Cancelled bool            `json:"cancelled"`
	Error     string          `json:"error,omitempty"` // the account could not be backfilled at all
}

// BackfillEntry is the outcome for one as-of date.
type BackfillEntry struct {
	AsOfDate string            `json:"as_of_date"`
	Status   CalculationStatus `json:"status,omitempty"`
	Changed  bool              `json:"changed"`
	Error    string            `json:"error,omitempty"`
}

// Failed counts dates whose computation errored. An account-level error counts once.
func (r *BackfillReport) Failed() int {
	n := 0
	if r.Error != "" {
		n++
	}
	for _, e := range r.Results {
		if e.Error != "" {
			n++
		}
	}
	return n
}

// UserViewOptions controls how a user view is built.
type UserViewOptions struct {
	// Recompute forces fresh account snapshots instead of reading stored ones.
	Recompute bool
	// Persist materializes the view in the snapshot store.
	Persist bool
}
