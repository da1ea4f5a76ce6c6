package internal

import (
	"fmt"
	"net/url"
	"time"

	specs "github.com/chrisconley/rhizome/specs"
)

const (
	DefaultBaseURL          = "https://texashistory.unt.edu/oai/"
	DefaultMetadataPrefix   = "oai_dc"
	DefaultCheckpointDir    = "data/pth"
	DefaultRequestTimeout   = 60 * time.Second
	DefaultMaxRetries       = 3
	DefaultInitialBackoff   = time.Second
	DefaultParseConcurrency = 4
)

// HarvestSettings is a validated HarvestConfigSpec with defaults filled in.
type HarvestSettings struct {
	baseURL          string
	metadataPrefix   string
	checkpointDir    string
	recordLimit      int
	requestTimeout   time.Duration
	maxRetries       int
	initialBackoff   time.Duration
	parseConcurrency int
	offline          bool
	testMode         bool
}

func NewHarvestSettings(spec specs.HarvestConfigSpec) (HarvestSettings, error) {
	s := HarvestSettings{
		baseURL:          spec.BaseURL,
		metadataPrefix:   spec.MetadataPrefix,
		checkpointDir:    spec.CheckpointDir,
		recordLimit:      spec.RecordLimit,
		requestTimeout:   spec.RequestTimeout,
		maxRetries:       DefaultMaxRetries,
		initialBackoff:   spec.InitialBackoff,
		parseConcurrency: spec.ParseConcurrency,
		offline:          spec.Offline,
		testMode:         spec.TestMode,
	}
	if s.baseURL == "" {
		s.baseURL = DefaultBaseURL
	}
	if s.metadataPrefix == "" {
		s.metadataPrefix = DefaultMetadataPrefix
	}
	if s.checkpointDir == "" {
		s.checkpointDir = DefaultCheckpointDir
	}
	if s.requestTimeout == 0 {
		s.requestTimeout = DefaultRequestTimeout
	}
	if spec.MaxRetries != nil {
		s.maxRetries = *spec.MaxRetries
	}
	if s.initialBackoff == 0 {
		s.initialBackoff = DefaultInitialBackoff
	}
	if s.parseConcurrency == 0 {
		s.parseConcurrency = DefaultParseConcurrency
	}

	u, err := url.Parse(s.baseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return HarvestSettings{}, fmt.Errorf("%w: base URL %q must be absolute", ErrInvalidConfig, s.baseURL)
	}
	if s.recordLimit < 0 {
		return HarvestSettings{}, fmt.Errorf("%w: record limit must not be negative", ErrInvalidConfig)
	}
	if s.requestTimeout < 0 {
		return HarvestSettings{}, fmt.Errorf("%w: request timeout must not be negative", ErrInvalidConfig)
	}
	if s.maxRetries < 0 {
		return HarvestSettings{}, fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	}
	if s.initialBackoff < 0 {
		return HarvestSettings{}, fmt.Errorf("%w: initial backoff must not be negative", ErrInvalidConfig)
	}
	if s.parseConcurrency < 0 {
		return HarvestSettings{}, fmt.Errorf("%w: parse concurrency must not be negative", ErrInvalidConfig)
	}
	return s, nil
}

func (s HarvestSettings) BaseURL() string               { return s.baseURL }
func (s HarvestSettings) MetadataPrefix() string        { return s.metadataPrefix }
func (s HarvestSettings) CheckpointDir() string         { return s.checkpointDir }
func (s HarvestSettings) RecordLimit() int              { return s.recordLimit }
func (s HarvestSettings) RequestTimeout() time.Duration { return s.requestTimeout }
func (s HarvestSettings) MaxRetries() int               { return s.maxRetries }
func (s HarvestSettings) InitialBackoff() time.Duration { return s.initialBackoff }
func (s HarvestSettings) ParseConcurrency() int         { return s.parseConcurrency }
func (s HarvestSettings) Offline() bool                 { return s.offline }
func (s HarvestSettings) TestMode() bool                { return s.testMode }
