package internal

import (
	"github.com/chrisconley/rhizome/internal/infra"
	specs "github.com/chrisconley/rhizome/specs"
)

type PageFetchedEvent struct {
	Progress specs.ProgressSpec
	Records  int
}

func (PageFetchedEvent) EventType() infra.EventType { return infra.PageFetched }

type PageCheckpointedEvent struct {
	Seq   int
	Bytes int
}

func (PageCheckpointedEvent) EventType() infra.EventType { return infra.PageCheckpointed }

type PageClassifiedEvent struct {
	Progress specs.ProgressSpec
}

func (PageClassifiedEvent) EventType() infra.EventType { return infra.PageClassified }

type HarvestCompletedEvent struct {
	Manifest specs.CheckpointManifestSpec
}

func (HarvestCompletedEvent) EventType() infra.EventType { return infra.HarvestCompleted }

type DiscrepancyFoundEvent struct {
	Discrepancy specs.DiscrepancySpec
}

func (DiscrepancyFoundEvent) EventType() infra.EventType { return infra.DiscrepancyFound }

type RunCompletedEvent struct {
	Summary specs.RunSummarySpec
}

func (RunCompletedEvent) EventType() infra.EventType { return infra.RunCompleted }
