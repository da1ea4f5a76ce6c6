package main

import (
	"fmt"
	"io"

	"github.com/cheggaaa/pb/v3"
	"github.com/chrisconley/rhizome/internal"
	"github.com/chrisconley/rhizome/internal/infra"
)

const progressBar pb.ProgressBarTemplate = `{{with string . "prefix"}}{{.}} {{end}}{{counters . }} records{{with string . "suffix"}} {{.}}{{end}}`

// attachProgress drives a progress bar from harvest and extraction events.
// The returned func stops the bar.
func attachProgress(bus *infra.Bus, w io.Writer) func() {
	bar := progressBar.New(-1)
	bar.SetWriter(w)
	bar.Set("prefix", "Harvesting:")
	bar.Start()

	bus.Subscribe(infra.PageFetched, func(e infra.Event) {
		ev := e.(internal.PageFetchedEvent)
		bar.SetCurrent(int64(ev.Progress.Fetched))
		bar.Set("suffix", fmt.Sprintf("(page %d)", ev.Progress.Page))
	})
	bus.Subscribe(infra.PageClassified, func(e infra.Event) {
		ev := e.(internal.PageClassifiedEvent)
		bar.Set("prefix", "Classifying:")
		bar.SetCurrent(int64(ev.Progress.Fetched))
		bar.Set("suffix", fmt.Sprintf("(page %d, accepted %d, ratio %s)",
			ev.Progress.Page, ev.Progress.Accepted, ev.Progress.AcceptanceRatio))
	})

	return func() { bar.Finish() }
}
