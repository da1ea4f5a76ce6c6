package specs

import "time"

// AppConfigSpec is the on-disk configuration document.
type AppConfigSpec struct {
	Harvest     HarvestConfigSpec     `json:"harvest" yaml:"harvest"`
	PostProcess PostProcessConfigSpec `json:"postProcess" yaml:"post_process"`
	Rules       RuleConfigSpec        `json:"rules" yaml:"rules"`
}

// HarvestConfigSpec defines how the remote archive is crawled.
type HarvestConfigSpec struct {
	// Base URL of the archive's protocol endpoint.
	//
	// Query parameters are appended to it. Defaults to
	// "https://texashistory.unt.edu/oai/".
	BaseURL string `json:"baseURL,omitempty" yaml:"base_url,omitempty"`

	// Metadata prefix sent with the first ListRecords request only.
	//
	// Defaults to "oai_dc".
	MetadataPrefix string `json:"metadataPrefix,omitempty" yaml:"metadata_prefix,omitempty"`

	// Directory holding this run's numbered page checkpoints.
	//
	// A fresh harvest archives the previous contents to "<dir>_old".
	// Defaults to "data/pth".
	CheckpointDir string `json:"checkpointDir,omitempty" yaml:"checkpoint_dir,omitempty"`

	// Stop paginating once this many records have been fetched.
	//
	// Zero means no ceiling.
	RecordLimit int `json:"recordLimit,omitempty" yaml:"record_limit,omitempty"`

	// Per-request timeout. Defaults to 60s.
	RequestTimeout time.Duration `json:"requestTimeout,omitempty" yaml:"request_timeout,omitempty"`

	// Transport retries per page after the first attempt.
	//
	// Only network faults and 5xx/429 responses are retried; protocol errors
	// never are. Zero disables retry. Nil defaults to 3.
	MaxRetries *int `json:"maxRetries,omitempty" yaml:"max_retries,omitempty"`

	// Wait before the first retry; doubled on each further retry.
	//
	// Defaults to 1s.
	InitialBackoff time.Duration `json:"initialBackoff,omitempty" yaml:"initial_backoff,omitempty"`

	// Number of checkpoint pages decoded concurrently during extraction.
	//
	// Classification itself always runs in page order. Defaults to 4.
	ParseConcurrency int `json:"parseConcurrency,omitempty" yaml:"parse_concurrency,omitempty"`

	// Skip all network calls and consume existing checkpoints only.
	Offline bool `json:"offline,omitempty" yaml:"offline,omitempty"`

	// Promote validation discrepancies to a hard failure.
	TestMode bool `json:"testMode,omitempty" yaml:"test_mode,omitempty"`
}

// CheckpointManifestSpec is written next to the page files when a harvest
// finishes.
//
// Its absence, or Complete == false, marks the directory as the remains of a
// truncated run.
type CheckpointManifestSpec struct {
	RunID        string    `json:"runID"`
	Pages        int       `json:"pages"`
	Records      int       `json:"records"`
	Complete     bool      `json:"complete"`
	LimitReached bool      `json:"limitReached"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// ProgressSpec is the running total reported after each page.
type ProgressSpec struct {
	RunID string `json:"runID"`

	// Sequence number of the page just handled.
	Page int `json:"page"`

	// Records fetched (or read from checkpoints) so far.
	Fetched int `json:"fetched"`

	// Records accepted so far. Zero while only fetching.
	Accepted int `json:"accepted"`

	// Accepted / Fetched as a decimal string, e.g. "0.0125".
	AcceptanceRatio string `json:"acceptanceRatio"`
}
