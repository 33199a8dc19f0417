// Package cursor persists pagination progress between harvest runs.
//
// The state file records the query signature, the next cursor token and
// running totals. It is rewritten after every fetched page through a
// temporary file, fsync and rename, so a crash leaves either the previous
// or the new state on disk and never a truncated one.
//
// A stored state is only resumed when its signature matches the active
// query and it was written within the expiry window (seven days by
// default). Otherwise Load hands back a fresh state starting at cursor "*".
package cursor
