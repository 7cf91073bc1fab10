// Package statestore defines the document store interface for the pipeline's
// derived outputs and the processing cursor.
//
// Event history lives in the append-only JSONL logs (pkg/eventlog); this
// store holds only re-derivable documents plus the cursor, so wiping it costs
// at worst one full reprocessing run.
package statestore
