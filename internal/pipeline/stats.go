package pipeline

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/cache"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/filter"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/gtfs"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

// statsCollector gathers descriptive statistics from emitted rows
type statsCollector struct {
	routeTypes map[int]bool
	start, end string
	bbox       *model.BBox
	sizes      map[string]int64
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		routeTypes: make(map[int]bool),
		sizes:      make(map[string]int64),
	}
}

func (s *statsCollector) size(table string, n int64) {
	s.sizes[table] = n
}

func (s *statsCollector) observe(t *gtfs.Table, row gtfs.Row) {
	switch t.Name {
	case "routes":
		if rt, err := strconv.Atoi(row.Get("route_type")); err == nil {
			s.routeTypes[rt] = true
		}
	case "calendar":
		s.date(row.Get("start_date"))
		s.date(row.Get("end_date"))
	case "calendar_dates":
		s.date(row.Get("date"))
	case "stops":
		lat, err1 := strconv.ParseFloat(row.Get("stop_lat"), 64)
		lon, err2 := strconv.ParseFloat(row.Get("stop_lon"), 64)
		// 0,0 is the usual placeholder for a missing position
		if err1 != nil || err2 != nil || (lat == 0 && lon == 0) {
			return
		}
		if s.bbox == nil {
			s.bbox = &model.BBox{MinLat: lat, MinLon: lon, MaxLat: lat, MaxLon: lon}
			return
		}
		s.bbox.Extend(lat, lon)
	}
}

// YYYYMMDD strings order like the dates they name
func (s *statsCollector) date(d string) {
	if !filter.ValidDate(d) {
		return
	}
	if s.start == "" || d < s.start {
		s.start = d
	}
	if d > s.end {
		s.end = d
	}
}

func (s *statsCollector) result() *model.FeedStats {
	types := make([]int, 0, len(s.routeTypes))
	for rt := range s.routeTypes {
		types = append(types, rt)
	}
	sort.Ints(types)
	return &model.FeedStats{
		RouteTypes: types,
		StartDate:  s.start,
		EndDate:    s.end,
		BBox:       s.bbox,
		TableSizes: s.sizes,
	}
}

// resultCache remembers stats-mode feed results by archive signature and
// decision digest, so an unchanged archive is not re-read on the next run
type resultCache struct {
	store  cache.Store
	digest string
	ttl    time.Duration
}

func newResultCache(store cache.Store, digest string, ttl time.Duration) *resultCache {
	return &resultCache{store: store, digest: digest, ttl: ttl}
}

func (c *resultCache) key(signature string) string {
	return cache.ResultKey(signature, c.digest)
}

// get returns the cached result for signature, rebound to feed
func (c *resultCache) get(signature string, feed model.Feed) (*model.FeedResult, bool) {
	key := c.key(signature)
	data, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	var res model.FeedResult
	if err := json.Unmarshal(data, &res); err != nil {
		_ = c.store.Delete(key)
		return nil, false
	}
	res.FeedID = feed.ID
	res.Path = feed.Path
	res.SourceURL = feed.SourceURL
	res.Size = feed.Size
	res.Unsized = !feed.Sized()
	res.Signature = signature
	res.Cached = true
	if res.Tables == nil {
		res.Tables = make(map[string]*model.TableCounts)
	}
	return &res, true
}

func (c *resultCache) put(signature string, res *model.FeedResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.store.Set(c.key(signature), data, c.ttl)
}
