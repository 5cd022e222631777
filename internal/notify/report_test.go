package notify

import (
	"strings"
	"testing"

	"rank_tracker/internal/aggregate"
	"rank_tracker/internal/model"
)

func TestFormatRefreshReport(t *testing.T) {
	project := &model.Project{Name: "My Blog"}
	tx := &model.RefreshTransaction{RefreshDate: "2024-01-02", TotalCount: 2, CompletedCount: 2}
	reports := []aggregate.TrackerReport{
		{
			Keyword: model.Keyword{Name: "coffee"},
			Results: map[string][]model.RankResult{
				"2024-01-02": {
					{RankInBlock: 3, BlockName: "blogs"},
					{RankInBlock: 1, BlockName: "view"},
				},
			},
		},
		{
			Keyword: model.Keyword{Name: "tea"},
			Results: map[string][]model.RankResult{
				"2024-01-02": {},
			},
		},
	}

	got := FormatRefreshReport(project, tx, reports)

	for _, want := range []string{
		"[My Blog] ranking refresh 2024-01-02",
		"Trackers refreshed: 2/2",
		"Ranked on 2024-01-02: 1 of 2 keywords",
		"coffee: #1 in view",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "tea:") {
		t.Errorf("unranked keyword listed:\n%s", got)
	}
}
