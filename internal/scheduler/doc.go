// Package scheduler runs incremental tenant syncs on a fixed interval.
//
// Active tenants are processed in batches with a pause between batches to
// stay inside the Exchange rate limits. Within a batch tenants run
// concurrently up to a limit; the subjects of one tenant are synced
// sequentially by the sync service. Every tenant run is written to the run
// log, including failed ones.
package scheduler
