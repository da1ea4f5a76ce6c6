// Package internal holds the harvest pipeline's domain logic.
//
// Flow of one run:
//
//	Harvester: ListRecords page by page, following resumption tokens
//	  - every raw page is written to the checkpoint store before the next request
//	  - stop on an empty token or once the record limit is reached
//	  - write the manifest → CheckpointManifest
//	Extractor: decode checkpointed pages (concurrently), then in page order
//	  - skip tombstones
//	  - classify each record against the active rule-groups → Decision
//	  - credit agreeing groups in MatchStatistics
//	Validator: compare each group's accepted count and filter coverage
//	  with its expectation → Discrepancies (an error in test mode)
//	PostProcessor: split format/dimensions, identifiers/urls, coverage
//	  → records handed to the ResultSink
//
// Pipeline wires the four stages together; progress is published on an
// infra.Bus.
package internal
