// Package scopus is a client for the Elsevier Scopus Search API.
//
// It requests one cursor-paginated page at a time and classifies failures
// into retryable (network, 5xx, 429) and fatal (auth, malformed query,
// expired cursor, unparsable body) typed errors from pkg/errors. Records
// are returned as raw JSON; only the identifier and cover date are ever
// read. The client does not gate its own calls: callers run every request
// through a rate limiter and a quota tracker first.
package scopus
