package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

// Renderer writes run reports in different formats
type Renderer struct{}

// NewRenderer creates a new renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderJSON writes the report as indented JSON
func (r *Renderer) RenderJSON(report *model.Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// RenderMarkdown writes a human-readable summary of the run
func (r *Renderer) RenderMarkdown(report *model.Report, path string) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# feedclean %s report\n\n", report.Mode)
	fmt.Fprintf(&b, "- Run: `%s`\n", report.RunID)
	fmt.Fprintf(&b, "- Started: %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Duration: %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "- Feeds: %d\n\n", report.Totals.Feeds)

	b.WriteString("## Outcomes\n\n| Outcome | Feeds |\n|---|---:|\n")
	for _, o := range sortedOutcomes(report.Totals.Outcomes) {
		fmt.Fprintf(&b, "| %s | %d |\n", o, report.Totals.Outcomes[o])
	}

	b.WriteString("\n## Workers\n\n| Worker | Feeds | Bytes | Unsized |\n|---:|---:|---:|---:|\n")
	for _, w := range report.Workers {
		fmt.Fprintf(&b, "| %d | %d | %d | %d |\n", w.Worker, w.Feeds, w.Bytes, w.Unsized)
	}

	b.WriteString("\n## Rows\n\n| Table | Input | Kept | Duplicates | Filtered | Cross-feed |\n|---|---:|---:|---:|---:|---:|\n")
	tables := make([]string, 0, len(report.Totals.Tables))
	for name := range report.Totals.Tables {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	for _, name := range tables {
		c := report.Totals.Tables[name]
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %d |\n", name, c.Input, c.Kept, c.Duplicates, c.Filtered, c.CrossFeedDuplicates)
	}
	c := report.Totals.Rows
	fmt.Fprintf(&b, "| **total** | %d | %d | %d | %d | %d |\n", c.Input, c.Kept, c.Duplicates, c.Filtered, c.CrossFeedDuplicates)
	if report.Totals.CrossFeedDistinct > 0 {
		fmt.Fprintf(&b, "\nDistinct rows across the corpus: %d\n", report.Totals.CrossFeedDistinct)
	}

	if len(report.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range report.Errors {
			fmt.Fprintf(&b, "- `%s` (%s): %s\n", e.FeedID, e.Kind, e.Message)
		}
	}

	var warned []*model.FeedResult
	for _, f := range report.Feeds {
		if len(f.Warnings) > 0 {
			warned = append(warned, f)
		}
	}
	if len(warned) > 0 {
		b.WriteString("\n## Warnings\n")
		for _, f := range warned {
			fmt.Fprintf(&b, "\n### %s\n\n", f.FeedID)
			for _, w := range f.Warnings {
				fmt.Fprintf(&b, "- %s\n", w.String())
			}
		}
	}

	return writeFile(path, []byte(b.String()))
}

// csvHeader is the per-feed log layout, one row per feed
var csvHeader = []string{
	"filename", "feed_id", "duplicate_file", "corrupted_file", "outcome", "worker",
	"rows_input", "rows_kept", "duplicates", "filtered", "cross_feed_duplicates",
	"route_types", "start_date", "end_date", "bbox", "gtfs_files", "gtfs_files_sizes",
}

// RenderCSV writes one line per feed
func (r *Renderer) RenderCSV(report *model.Report, path string) error {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, f := range report.Feeds {
		if err := w.Write(csvRecord(f)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	return writeFile(path, []byte(b.String()))
}

func csvRecord(f *model.FeedResult) []string {
	t := f.Totals()
	rec := []string{
		filepath.Base(f.Path),
		f.FeedID,
		f.DuplicateOf,
		strconv.FormatBool(f.ErrorKind == "archive"),
		string(f.Outcome),
		strconv.Itoa(f.Worker),
		strconv.FormatInt(t.Input, 10),
		strconv.FormatInt(t.Kept, 10),
		strconv.FormatInt(t.Duplicates, 10),
		strconv.FormatInt(t.Filtered, 10),
		strconv.FormatInt(t.CrossFeedDuplicates, 10),
	}

	var types, start, end, bbox, files, sizes string
	if s := f.Stats; s != nil {
		parts := make([]string, len(s.RouteTypes))
		for i, rt := range s.RouteTypes {
			parts[i] = strconv.Itoa(rt)
		}
		types = strings.Join(parts, ";")
		start, end = s.StartDate, s.EndDate
		if s.BBox != nil {
			bbox = fmt.Sprintf("%g;%g;%g;%g", s.BBox.MinLat, s.BBox.MinLon, s.BBox.MaxLat, s.BBox.MaxLon)
		}
		names := make([]string, 0, len(s.TableSizes))
		for name := range s.TableSizes {
			names = append(names, name)
		}
		sort.Strings(names)
		sizeParts := make([]string, len(names))
		for i, name := range names {
			sizeParts[i] = strconv.FormatInt(s.TableSizes[name], 10)
		}
		files = strings.Join(names, ";")
		sizes = strings.Join(sizeParts, ";")
	}
	return append(rec, types, start, end, bbox, files, sizes)
}

// RenderSummary prints the run summary to w
func (r *Renderer) RenderSummary(w io.Writer, report *model.Report) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  Run Complete (%s)\n", report.Mode)
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Feeds:       %d\n", report.Totals.Feeds)
	for _, o := range sortedOutcomes(report.Totals.Outcomes) {
		fmt.Fprintf(w, "  %-12s %d\n", string(o)+":", report.Totals.Outcomes[o])
	}
	c := report.Totals.Rows
	fmt.Fprintf(w, "  Rows in:     %d\n", c.Input)
	fmt.Fprintf(w, "  Rows kept:   %d\n", c.Kept)
	fmt.Fprintf(w, "  Duplicates:  %d\n", c.Duplicates)
	fmt.Fprintf(w, "  Filtered:    %d\n", c.Filtered)
	if report.Totals.CrossFeedDistinct > 0 {
		fmt.Fprintf(w, "  Cross-feed:  %d repeated, %d distinct\n", c.CrossFeedDuplicates, report.Totals.CrossFeedDistinct)
	}
	fmt.Fprintf(w, "  Duration:    %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "\n")
}

func sortedOutcomes(m map[model.Outcome]int) []model.Outcome {
	out := make([]model.Outcome, 0, len(m))
	for o := range m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &model.WriteError{Path: path, Err: err}
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &model.WriteError{Path: path, Err: err}
	}
	return nil
}
