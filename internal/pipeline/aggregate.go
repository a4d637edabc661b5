package pipeline

import (
	"sort"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

// Aggregate sorts the report's feeds by ID and recomputes its totals and
// error list. The result does not depend on the order feeds finished in.
func Aggregate(report *model.Report) {
	sort.Slice(report.Feeds, func(i, j int) bool { return report.Feeds[i].FeedID < report.Feeds[j].FeedID })

	totals := model.CorpusTotals{
		Feeds:             len(report.Feeds),
		Outcomes:          make(map[model.Outcome]int),
		Tables:            make(map[string]model.TableCounts),
		CrossFeedDistinct: report.Totals.CrossFeedDistinct,
	}
	var errs []model.FeedError

	for _, f := range report.Feeds {
		totals.Outcomes[f.Outcome]++
		for name, c := range f.Tables {
			t := totals.Tables[name]
			t.Add(*c)
			totals.Tables[name] = t
			totals.Rows.Add(*c)
		}
		if f.Error == "" {
			continue
		}
		kind := f.ErrorKind
		if kind == "" {
			kind = string(f.Outcome)
		}
		errs = append(errs, model.FeedError{FeedID: f.FeedID, Kind: kind, Message: f.Error})
	}

	report.Totals = totals
	report.Errors = errs
}
