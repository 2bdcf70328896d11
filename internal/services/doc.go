// Package services defines shared utilities consumed by the pipeline stage
// handlers and the external tools they drive.
//
// Key responsibilities:
//   - Context helpers that stamp work item IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Classify/Hint which turn
//     a failure into the kind recorded in the job journal.
//
// Use these helpers when wiring stage logic so error handling and observability
// stay uniform across the pipeline.
package services
