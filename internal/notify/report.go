package notify

import (
	"fmt"
	"strings"

	"rank_tracker/internal/aggregate"
	"rank_tracker/internal/model"
)

// FormatRefreshReport renders the plain-text summary sent to message
// targets after a refresh cycle.
func FormatRefreshReport(project *model.Project, tx *model.RefreshTransaction, reports []aggregate.TrackerReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ranking refresh %s\n", project.Name, tx.RefreshDate)
	fmt.Fprintf(&b, "Trackers refreshed: %d/%d\n", tx.CompletedCount, tx.TotalCount)

	found := 0
	for _, r := range reports {
		if len(r.Results[tx.RefreshDate]) > 0 {
			found++
		}
	}
	fmt.Fprintf(&b, "Ranked on %s: %d of %d keywords\n", tx.RefreshDate, found, len(reports))

	for _, r := range reports {
		rows := r.Results[tx.RefreshDate]
		if len(rows) == 0 {
			continue
		}
		best := rows[0]
		for _, row := range rows[1:] {
			if row.RankInBlock < best.RankInBlock {
				best = row
			}
		}
		fmt.Fprintf(&b, "  %s: #%d in %s\n", r.Keyword.Name, best.RankInBlock, best.BlockName)
	}
	return b.String()
}
