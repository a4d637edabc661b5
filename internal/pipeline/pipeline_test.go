package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/gtfs/gtfstest"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

func testConfig(t *testing.T) *model.Config {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.WorkerCount = 2
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.Cache.Enabled = false
	cfg.Report = model.ReportConfig{}
	cfg.ProgressInterval = 0
	return cfg
}

func run(t *testing.T, cfg *model.Config, mode Mode, inputs ...string) *model.Report {
	t.Helper()
	p, err := NewPipeline(cfg, mode, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	feeds, err := Discover(inputs, cfg.Manifest)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	report, err := p.Run(context.Background(), feeds)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return report
}

func feedByID(t *testing.T, report *model.Report, id string) *model.FeedResult {
	t.Helper()
	for _, f := range report.Feeds {
		if f.FeedID == id {
			return f
		}
	}
	t.Fatalf("feed %s not in report", id)
	return nil
}

func column(t *testing.T, content, col string) []string {
	t.Helper()
	records, err := csv.NewReader(strings.NewReader(content)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) == 0 {
		return nil
	}
	idx := -1
	for i, c := range records[0] {
		if c == col {
			idx = i
		}
	}
	if idx < 0 {
		t.Fatalf("column %s missing", col)
	}
	var out []string
	for _, rec := range records[1:] {
		out = append(out, rec[idx])
	}
	return out
}

func TestPipeline_DuplicateStopID(t *testing.T) {
	files := gtfstest.Sample()
	files["stops.txt"] += "S2,Market Square (again),52.50,13.30,0,\n"
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "feed1.zip", files)

	cfg := testConfig(t)
	report := run(t, cfg, ModeClean, dir)

	res := feedByID(t, report, "feed1")
	if res.Outcome != model.OutcomeCleaned {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Error)
	}
	stops := res.Tables["stops"]
	if stops.Input != 5 || stops.Kept != 4 || stops.Duplicates != 1 || stops.Filtered != 0 {
		t.Errorf("stops counts = %+v", *stops)
	}
	for name, c := range res.Tables {
		if c.Kept != c.Input-c.Filtered-c.Duplicates {
			t.Errorf("%s: kept %d != input - filtered - duplicates", name, c.Kept)
		}
	}

	out := gtfstest.ReadFeed(t, res.OutputPath)
	names := column(t, out["stops.txt"], "stop_name")
	if len(names) != 4 || names[2] != "Market Square" {
		t.Errorf("first occurrence must win, got %v", names)
	}
	if _, ok := out["calendar_dates.txt"]; ok {
		t.Errorf("absent table written")
	}
}

func TestPipeline_FilterIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "feed1.zip", gtfstest.Sample())

	cfg := testConfig(t)
	cfg.RouteTypeAllowlist = []string{"rail"}
	first := run(t, cfg, ModeClean, dir)
	res := feedByID(t, first, "feed1")
	if res.Outcome != model.OutcomeCleaned {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Error)
	}

	out1 := gtfstest.ReadFeed(t, res.OutputPath)
	if got := column(t, out1["routes.txt"], "route_id"); !reflect.DeepEqual(got, []string{"R1"}) {
		t.Errorf("routes = %v", got)
	}
	if got := column(t, out1["agency.txt"], "agency_id"); !reflect.DeepEqual(got, []string{"A1"}) {
		t.Errorf("agency = %v", got)
	}
	if got := column(t, out1["stops.txt"], "stop_id"); !reflect.DeepEqual(got, []string{"STA", "P1", "S2"}) {
		t.Errorf("stops = %v", got)
	}
	if got := column(t, out1["calendar.txt"], "service_id"); !reflect.DeepEqual(got, []string{"WD"}) {
		t.Errorf("calendar = %v", got)
	}

	// Every emitted stop_times row references an emitted trip
	trips := map[string]bool{}
	for _, id := range column(t, out1["trips.txt"], "trip_id") {
		trips[id] = true
	}
	for _, id := range column(t, out1["stop_times.txt"], "trip_id") {
		if !trips[id] {
			t.Errorf("stop_times references absent trip %s", id)
		}
	}

	// Re-running on the cleaned output drops nothing
	cfg2 := testConfig(t)
	cfg2.RouteTypeAllowlist = []string{"rail"}
	second := run(t, cfg2, ModeClean, res.OutputPath)
	res2 := feedByID(t, second, "feed1")
	total := res2.Totals()
	if total.Filtered != 0 || total.Duplicates != 0 {
		t.Errorf("second pass dropped rows: %+v", total)
	}
	out2 := gtfstest.ReadFeed(t, res2.OutputPath)
	if !reflect.DeepEqual(out1, out2) {
		t.Errorf("second pass changed the output")
	}
}

func TestPipeline_CorruptArchiveIsIsolated(t *testing.T) {
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "good.zip", gtfstest.Sample())
	if err := os.WriteFile(filepath.Join(dir, "bad.zip"), []byte("not a zip"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t)
	report := run(t, cfg, ModeClean, dir)

	bad := feedByID(t, report, "bad")
	if bad.Outcome != model.OutcomeFailed || bad.ErrorKind != "archive" {
		t.Errorf("bad: %s/%s", bad.Outcome, bad.ErrorKind)
	}
	good := feedByID(t, report, "good")
	if good.Outcome != model.OutcomeCleaned {
		t.Errorf("good: %s (%s)", good.Outcome, good.Error)
	}
	if len(report.Errors) != 1 || report.Errors[0].FeedID != "bad" {
		t.Errorf("errors = %+v", report.Errors)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "bad.zip")); !os.IsNotExist(err) {
		t.Errorf("failed feed left output behind")
	}
}

func TestPipeline_DuplicateArchive(t *testing.T) {
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "a.zip", gtfstest.Sample())
	gtfstest.WriteFeed(t, dir, "b.zip", gtfstest.Sample())

	cfg := testConfig(t)
	report := run(t, cfg, ModeClean, dir)

	b := feedByID(t, report, "b")
	if b.Outcome != model.OutcomeDuplicateArchive || b.DuplicateOf != "a" {
		t.Errorf("b: outcome %s, duplicate of %q", b.Outcome, b.DuplicateOf)
	}
	if feedByID(t, report, "a").Outcome != model.OutcomeCleaned {
		t.Errorf("canonical feed not cleaned")
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "b.zip")); !os.IsNotExist(err) {
		t.Errorf("duplicate archive was processed")
	}
	if report.Totals.Outcomes[model.OutcomeDuplicateArchive] != 1 {
		t.Errorf("outcomes = %v", report.Totals.Outcomes)
	}
}

func TestPipeline_EmptyAfterFilter(t *testing.T) {
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "feed1.zip", gtfstest.Sample())

	cfg := testConfig(t)
	cfg.RouteTypeAllowlist = []string{"1"}
	report := run(t, cfg, ModeClean, dir)

	res := feedByID(t, report, "feed1")
	if res.Outcome != model.OutcomeEmpty {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "feed1.zip")); !os.IsNotExist(err) {
		t.Errorf("empty feed produced an archive")
	}
}

func TestPipeline_StatsWritesNothing(t *testing.T) {
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "feed1.zip", gtfstest.Sample())

	cfg := testConfig(t)
	report := run(t, cfg, ModeStats, dir)

	res := feedByID(t, report, "feed1")
	if res.Outcome != model.OutcomeStatistics {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Error)
	}
	if res.OutputPath != "" {
		t.Errorf("stats mode set an output path")
	}
	if _, err := os.Stat(cfg.OutputDir); !os.IsNotExist(err) {
		t.Errorf("stats mode created the output dir")
	}

	s := res.Stats
	if s == nil {
		t.Fatal("no stats")
	}
	if !reflect.DeepEqual(s.RouteTypes, []int{2, 3}) {
		t.Errorf("route types = %v", s.RouteTypes)
	}
	if s.StartDate != "20240101" || s.EndDate != "20240930" {
		t.Errorf("span = %s..%s", s.StartDate, s.EndDate)
	}
	want := model.BBox{MinLat: 52.40, MinLon: 13.20, MaxLat: 52.521, MaxLon: 13.401}
	if s.BBox == nil || *s.BBox != want {
		t.Errorf("bbox = %+v", s.BBox)
	}
	if s.TableSizes["stops"] == 0 {
		t.Errorf("table sizes = %v", s.TableSizes)
	}
}

func TestPipeline_StatsCache(t *testing.T) {
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "feed1.zip", gtfstest.Sample())
	cacheDir := t.TempDir()

	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	cfg.Cache.Dir = cacheDir

	first := feedByID(t, run(t, cfg, ModeStats, dir), "feed1")
	if first.Cached {
		t.Fatalf("first run cannot be cached")
	}

	second := feedByID(t, run(t, cfg, ModeStats, dir), "feed1")
	if !second.Cached {
		t.Errorf("second run not served from cache")
	}
	if second.Totals() != first.Totals() || second.Stats.EndDate != first.Stats.EndDate {
		t.Errorf("cached result differs: %+v vs %+v", second.Totals(), first.Totals())
	}

	// A different filter must not reuse the entry
	cfg.RouteTypeAllowlist = []string{"3"}
	third := feedByID(t, run(t, cfg, ModeStats, dir), "feed1")
	if third.Cached {
		t.Errorf("cache ignored the filter settings")
	}
}

func TestPipeline_CrossFeedDuplicates(t *testing.T) {
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "a.zip", gtfstest.Sample())
	other := gtfstest.Sample()
	other["agency.txt"] = "agency_id,agency_name,agency_url,agency_timezone\n" +
		"A1,Rail Co,http://rail.example,Europe/Berlin\n" +
		"A2,Bus Company,http://bus.example,Europe/Berlin\n"
	gtfstest.WriteFeed(t, dir, "b.zip", other)

	cfg := testConfig(t)
	cfg.CrossFeedDedup = true
	cfg.FingerprintSnapshot = filepath.Join(t.TempDir(), "fingerprints.gob")
	report := run(t, cfg, ModeClean, dir)

	// 18 rows per feed, 17 of them shared
	rows := report.Totals.Rows
	if rows.Kept != 36 {
		t.Errorf("cross-feed repeats must still be written, kept %d", rows.Kept)
	}
	if rows.CrossFeedDuplicates != 17 {
		t.Errorf("cross-feed duplicates = %d", rows.CrossFeedDuplicates)
	}
	if report.Totals.CrossFeedDistinct != 19 {
		t.Errorf("distinct = %d", report.Totals.CrossFeedDistinct)
	}

	// With the snapshot loaded every row has been seen before
	cfg2 := testConfig(t)
	cfg2.CrossFeedDedup = true
	cfg2.FingerprintSnapshot = cfg.FingerprintSnapshot
	again := run(t, cfg2, ModeClean, dir)
	if got := again.Totals.Rows.CrossFeedDuplicates; got != 36 {
		t.Errorf("after snapshot load, cross-feed duplicates = %d", got)
	}
}

func TestPipeline_IncludeTables(t *testing.T) {
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "feed1.zip", gtfstest.Sample())

	cfg := testConfig(t)
	cfg.IncludeTables = []string{"routes", "trips"}
	res := feedByID(t, run(t, cfg, ModeClean, dir), "feed1")

	out := gtfstest.ReadFeed(t, res.OutputPath)
	if len(out) != 2 || out["routes.txt"] == "" || out["trips.txt"] == "" {
		t.Errorf("unexpected entries: %d", len(out))
	}
}

func TestNewPipeline_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Config)
		mode   Mode
	}{
		{"unknown table", func(c *model.Config) { c.IncludeTables = []string{"stations"} }, ModeClean},
		{"zero workers", func(c *model.Config) { c.WorkerCount = 0 }, ModeClean},
		{"bad route type", func(c *model.Config) { c.RouteTypeAllowlist = []string{"tram"} }, ModeClean},
		{"inverted window", func(c *model.Config) {
			c.ServiceDateRange = model.DateRange{Start: "20240201", End: "20240101"}
		}, ModeClean},
		{"unknown mode", func(c *model.Config) {}, Mode("compare")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := NewPipeline(cfg, tt.mode, nil)
			var cerr *model.ConfigError
			if !errors.As(err, &cerr) {
				t.Errorf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestPipeline_Publish(t *testing.T) {
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "feed1.zip", gtfstest.Sample())
	if err := os.WriteFile(filepath.Join(dir, "bad.zip"), []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}

	reports := t.TempDir()
	cfg := testConfig(t)
	cfg.Report = model.ReportConfig{
		JSON:     filepath.Join(reports, "report.json"),
		Markdown: filepath.Join(reports, "report.md"),
		CSV:      filepath.Join(reports, "log.csv"),
	}
	cfg.Store.Path = filepath.Join(reports, "runs.db")

	p, err := NewPipeline(cfg, ModeStats, nil)
	if err != nil {
		t.Fatal(err)
	}
	feeds, err := Discover([]string{dir}, "")
	if err != nil {
		t.Fatal(err)
	}
	report, err := p.Run(context.Background(), feeds)
	if err != nil {
		t.Fatal(err)
	}
	written, err := p.Publish(context.Background(), report)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(written) != 4 {
		t.Errorf("written = %v", written)
	}

	data, err := os.ReadFile(cfg.Report.CSV)
	if err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 || records[0][0] != "filename" {
		t.Fatalf("csv = %v", records)
	}
	if records[1][1] != "bad" || records[1][3] != "true" {
		t.Errorf("corrupt feed row = %v", records[1])
	}
	if records[2][11] != "2;3" {
		t.Errorf("route types column = %q", records[2][11])
	}

	md, err := os.ReadFile(cfg.Report.Markdown)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(md), "## Errors") {
		t.Errorf("markdown lacks the error section")
	}
}

func TestPipeline_OrphanStopTimesWithoutFilter(t *testing.T) {
	files := gtfstest.Sample()
	files["stop_times.txt"] += "T9,10:00:00,10:00:00,S3,1\n"
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "feed1.zip", files)

	cfg := testConfig(t)
	res := feedByID(t, run(t, cfg, ModeClean, dir), "feed1")
	if res.Outcome != model.OutcomeCleaned {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Error)
	}
	if st := res.Tables["stop_times"]; st.Input != 5 || st.Kept != 4 || st.Filtered != 1 {
		t.Errorf("stop_times counts = %+v", *st)
	}

	out := gtfstest.ReadFeed(t, res.OutputPath)
	trips := map[string]bool{}
	for _, id := range column(t, out["trips.txt"], "trip_id") {
		trips[id] = true
	}
	for _, id := range column(t, out["stop_times.txt"], "trip_id") {
		if !trips[id] {
			t.Errorf("emitted stop_times references trip_id %s absent from emitted trips", id)
		}
	}
}

func TestPipeline_IncludeStopTimesWithoutTrips(t *testing.T) {
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "feed1.zip", gtfstest.Sample())

	cfg := testConfig(t)
	cfg.IncludeTables = []string{"routes", "stop_times"}
	res := feedByID(t, run(t, cfg, ModeClean, dir), "feed1")

	out := gtfstest.ReadFeed(t, res.OutputPath)
	if rows := column(t, out["stop_times.txt"], "trip_id"); len(rows) != 0 {
		t.Errorf("stop_times written without their trips: %v", rows)
	}
	if st := res.Tables["stop_times"]; st.Kept != 0 || st.Filtered != 4 {
		t.Errorf("stop_times counts = %+v", *st)
	}
}

func TestPipeline_IncludeStopsWithoutStopTimes(t *testing.T) {
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "feed1.zip", gtfstest.Sample())

	cfg := testConfig(t)
	cfg.RouteTypeAllowlist = []string{"rail"}
	cfg.IncludeTables = []string{"routes", "trips", "stops"}
	res := feedByID(t, run(t, cfg, ModeClean, dir), "feed1")
	if res.Outcome != model.OutcomeCleaned {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Error)
	}

	out := gtfstest.ReadFeed(t, res.OutputPath)
	if got := column(t, out["stops.txt"], "stop_id"); !reflect.DeepEqual(got, []string{"STA", "P1", "S2"}) {
		t.Errorf("stops = %v", got)
	}
}

func TestPipeline_FailedFeedLeavesNoTrace(t *testing.T) {
	dir := t.TempDir()
	bad := gtfstest.WriteFeed(t, dir, "a.zip", gtfstest.Sample())
	gtfstest.CorruptEntry(t, bad, "shapes.txt")
	other := gtfstest.Sample()
	other["agency.txt"] = "agency_id,agency_name,agency_url,agency_timezone\n" +
		"A1,Rail Co,http://rail.example,Europe/Berlin\n" +
		"A2,Bus Company,http://bus.example,Europe/Berlin\n"
	gtfstest.WriteFeed(t, dir, "b.zip", other)

	cfg := testConfig(t)
	cfg.Salvage = false
	cfg.CrossFeedDedup = true
	report := run(t, cfg, ModeClean, dir)

	a := feedByID(t, report, "a")
	if a.Outcome != model.OutcomeFailed || a.ErrorKind != "archive" {
		t.Fatalf("a: %s/%s", a.Outcome, a.ErrorKind)
	}
	if total := a.Totals(); total != (model.TableCounts{}) {
		t.Errorf("failed feed kept partial counts: %+v", total)
	}

	rows := report.Totals.Rows
	if rows.Input != 18 || rows.Kept != 18 {
		t.Errorf("corpus rows = %+v", rows)
	}
	if rows.CrossFeedDuplicates != 0 || report.Totals.CrossFeedDistinct != 18 {
		t.Errorf("rows of the failed feed entered the corpus: cross %d, distinct %d",
			rows.CrossFeedDuplicates, report.Totals.CrossFeedDistinct)
	}
}

func TestPipeline_SalvageDamagedArchive(t *testing.T) {
	dir := t.TempDir()
	path := gtfstest.WriteFeed(t, dir, "feed1.zip", gtfstest.Sample())
	gtfstest.CorruptEntry(t, path, "shapes.txt")

	cfg := testConfig(t)
	res := feedByID(t, run(t, cfg, ModeClean, dir), "feed1")
	if res.Outcome != model.OutcomeCleaned || !res.Salvaged {
		t.Fatalf("outcome = %s, salvaged = %v (%s)", res.Outcome, res.Salvaged, res.Error)
	}
	if _, ok := res.Tables["shapes"]; ok {
		t.Errorf("damaged table counted: %+v", res.Tables["shapes"])
	}

	warned := false
	for _, w := range res.Warnings {
		if w.Kind == model.WarningSchema && w.Table == "shapes" {
			warned = true
		}
	}
	if !warned {
		t.Errorf("no schema warning for the skipped entry: %v", res.Warnings)
	}

	out := gtfstest.ReadFeed(t, res.OutputPath)
	if _, ok := out["shapes.txt"]; ok {
		t.Errorf("damaged entry written")
	}
	if len(column(t, out["stop_times.txt"], "trip_id")) != 4 {
		t.Errorf("readable tables not kept")
	}
}

func TestPipeline_LocationsGeoJSONPassThrough(t *testing.T) {
	geo := `{"type":"FeatureCollection","features":[{"type":"Feature","id":"zone1","geometry":null,"properties":{}}]}`
	files := gtfstest.Sample()
	files["locations.geojson"] = geo
	dir := t.TempDir()
	gtfstest.WriteFeed(t, dir, "feed1.zip", files)

	cfg := testConfig(t)
	cfg.RouteTypeAllowlist = []string{"rail"}
	res := feedByID(t, run(t, cfg, ModeClean, dir), "feed1")
	if res.Outcome != model.OutcomeCleaned {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Error)
	}
	for _, w := range res.Warnings {
		if strings.Contains(w.Message, "locations.geojson") {
			t.Errorf("locations.geojson treated as unknown: %v", w)
		}
	}
	if got := gtfstest.ReadFeed(t, res.OutputPath)["locations.geojson"]; got != geo {
		t.Errorf("locations.geojson = %q", got)
	}

	stats := feedByID(t, run(t, testConfig(t), ModeStats, dir), "feed1")
	if stats.Stats.TableSizes["locations"] != int64(len(geo)) {
		t.Errorf("table sizes = %v", stats.Stats.TableSizes)
	}
}
