package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/stackharvest/internal/harvest"
)

// printSummary renders the run report: one row per window, then totals.
func printSummary(w io.Writer, report harvest.Report, checkpointPath string, checkpointSize int64) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(fmt.Sprintf("harvest %s (%s)", report.Mode, report.RunID))
	tbl.AppendHeader(table.Row{"Window", "Questions", "Answers", "Stop", "Partial"})

	for _, wr := range report.Windows {
		window := "all"
		if wr.Year != 0 {
			window = strconv.Itoa(wr.Year)
		}
		tbl.AppendRow(table.Row{
			window,
			humanize.Comma(int64(wr.Questions)),
			humanize.Comma(int64(wr.Answers)),
			string(wr.Stop),
			yesNo(wr.Partial),
		})
	}

	tbl.AppendFooter(table.Row{
		"total",
		humanize.Comma(int64(report.Questions)),
		humanize.Comma(int64(report.Answers)),
		string(report.State),
		yesNo(report.Partial),
	})
	tbl.Render()

	fmt.Fprintf(w, "calls: %s  quota remaining: %s  elapsed: %s\n",
		humanize.Comma(int64(report.Calls)),
		humanize.Comma(int64(report.Quota)),
		report.Duration.Round(time.Millisecond),
	)
	if report.CheckpointErr != nil {
		fmt.Fprintf(w, "checkpoint: %s FAILED: %v\n", checkpointPath, report.CheckpointErr)
		return
	}
	fmt.Fprintf(w, "checkpoint: %s (%s)\n", checkpointPath, humanize.Bytes(uint64(max(checkpointSize, 0))))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
