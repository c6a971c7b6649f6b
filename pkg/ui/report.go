package ui

import (
	"fmt"
	"strings"
	"time"

	"likegrab/pkg/engine"
	"likegrab/pkg/manifest"
	"likegrab/pkg/models"
)

// maxListedIDs caps how many unresolved ids a report prints
const maxListedIDs = 20

// RunReport prints the outcome of an engine run
func (p *Printer) RunReport(res *engine.Result) {
	if res == nil {
		return
	}
	w := p.w

	fmt.Fprintln(w, p.Magenta("== Run "+res.RunID+" =="))
	fmt.Fprintf(w, "%s %s\n", p.Cyan("Manifest:"), res.ManifestPath)
	fmt.Fprintf(w, "%s %d entries, %d distinct posts, %d liked from several accounts\n",
		p.Cyan("Ingested:"), res.Ingested, res.Posts, res.MultiAccount)
	if l := res.Likes; l != nil {
		fmt.Fprintf(w, "%s %d posts with media liked by %s over %d pages, %d without media",
			p.Cyan("Likes API:"), l.Posts, l.UserID, l.Pages, l.WithoutMedia)
		if !l.Complete {
			fmt.Fprint(w, " "+p.Yellow("(incomplete)"))
		}
		fmt.Fprintln(w)
	}
	if res.ClearedFailed > 0 {
		fmt.Fprintf(w, "%s %d failed posts queued again\n", p.Cyan("Retry:"), res.ClearedFailed)
	}

	if s := res.Resolution; s != nil {
		fmt.Fprintf(w, "%s requested %d, resolved %s, failed %s, unresolved %d",
			p.Cyan("Resolution:"), s.Requested, p.Green(fmt.Sprint(s.Resolved)),
			p.failCount(s.Failed), len(s.Unresolved))
		if s.OverBudget > 0 {
			fmt.Fprintf(w, ", over budget %d", s.OverBudget)
		}
		fmt.Fprintln(w)

		for _, st := range s.Strategies {
			line := fmt.Sprintf("  %-12s attempted %d, resolved %d, no media %d, deferred %d, calls %d",
				st.Strategy, st.Attempted, st.Resolved, st.NoMedia, st.Deferred, st.Calls)
			if st.Stopped != "" {
				line += " " + p.Yellow("(stopped: "+st.Stopped+")")
			}
			fmt.Fprintln(w, line)
		}

		if len(s.Unresolved) > 0 {
			ids := s.Unresolved
			more := ""
			if len(ids) > maxListedIDs {
				more = fmt.Sprintf(" and %d more", len(ids)-maxListedIDs)
				ids = ids[:maxListedIDs]
			}
			fmt.Fprintf(w, "  %s %s%s\n", p.Dim("unresolved:"), strings.Join(ids, ", "), more)
		}
	}

	if d := res.Download; d != nil {
		fmt.Fprintf(w, "%s downloaded %s (%s), deduplicated %d, already done %d, failed %s\n",
			p.Cyan("Downloads:"), p.Green(fmt.Sprint(d.Downloaded)), FormatBytes(d.Bytes),
			d.Deduplicated, d.Skipped, p.failCount(d.Failed))
		if d.InvalidSource+d.InvalidPath+d.Interrupted+d.Deferred > 0 {
			fmt.Fprintf(w, "  invalid source %d, invalid path %d, interrupted %d, deferred %d\n",
				d.InvalidSource, d.InvalidPath, d.Interrupted, d.Deferred)
		}
	} else {
		fmt.Fprintf(w, "%s skipped\n", p.Cyan("Downloads:"))
	}

	fmt.Fprintf(w, "%s %s\n", p.Cyan("Duration:"), FormatDuration(res.Duration))
}

// ManifestReport prints manifest statistics
func (p *Printer) ManifestReport(path string, s manifest.Stats) {
	w := p.w
	fmt.Fprintf(w, "%s %s\n", p.Cyan("Manifest:"), path)
	fmt.Fprintf(w, "%s %d (resolved %d, unresolved %d, failed %s)\n",
		p.Cyan("Posts:"), s.Posts, s.Resolved, s.Unresolved, p.failCount(s.Failed))

	statuses := []models.DownloadStatus{
		models.DownloadDownloaded,
		models.DownloadPending,
		models.DownloadFailed,
		models.DownloadInvalidSource,
		models.DownloadInvalidPath,
	}
	parts := make([]string, 0, len(statuses))
	for _, st := range statuses {
		if n := s.Downloads[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", st, n))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "none")
	}
	fmt.Fprintf(w, "%s %s\n", p.Cyan("Media:"), strings.Join(parts, ", "))
	fmt.Fprintf(w, "%s %s\n", p.Cyan("Stored:"), FormatBytes(s.Bytes))
}

func (p *Printer) failCount(n int) string {
	if n == 0 {
		return "0"
	}
	return p.Red(fmt.Sprint(n))
}

// FormatBytes formats a byte count in binary units
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats a duration for humans
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
