// Package chunk writes harvested records to compressed JSON-lines files.
//
// Each page appended counts as one request. When the configured number of
// requests is buffered the writer flushes them to
// scopus_raw_<seq>_<YYYYMMDD>.jsonl.gz through a temporary file and a
// rename. Sequence numbers continue from the highest chunk already in the
// output directory.
package chunk
