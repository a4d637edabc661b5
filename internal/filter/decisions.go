package filter

import (
	"strconv"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/gtfs"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

// Decisions caches the keep/drop verdict of every foreign identity in one feed.
// Build it with Decide, then ask Keep for each row in write order and
// report emitted rows back through Note.
//
// Rows keyed by trip_id are kept only when that trip was emitted, whatever
// the rules; trips are written before stop_times and frequencies.
type Decisions struct {
	rules  Rules
	active bool
	warn   *model.Warnings

	emitted map[string]bool // trip_ids of emitted trips rows

	routes   map[string]bool // route_id -> kept
	trips    map[string]bool // trip_id -> kept
	services map[string]bool // service_id used by a kept trip
	shapes   map[string]bool // shape_id used by a kept trip
	agencies map[string]bool // agency_id referenced by a kept route

	allAgencies bool
	hasTrips    bool

	parent    map[string]string // stop_id -> parent_station
	stopRefs  map[string]bool   // stop_ids of emitted stop_times
	closure   map[string]bool   // stopRefs plus their ancestors
	allStops  bool
	routeKept int
	empty     bool
}

// Decide runs the decision passes over the feed.
// With no active rules nothing is read and only orphan trip rows are dropped.
func Decide(a *gtfs.Archive, rules Rules, warn *model.Warnings) (*Decisions, error) {
	d := &Decisions{
		rules:   rules,
		active:  rules.Active(),
		warn:    warn,
		emitted: make(map[string]bool),
	}
	if !d.active {
		return d, nil
	}

	inWindow, known, err := d.decideServices(a, warn)
	if err != nil {
		return nil, err
	}
	agencyOf, err := d.decideRoutes(a, warn)
	if err != nil {
		return nil, err
	}
	withTrips, err := d.decideTrips(a, inWindow, known, warn)
	if err != nil {
		return nil, err
	}

	// With a window, routes that lost every trip go too
	if rules.Window != nil && d.hasTrips {
		for id, kept := range d.routes {
			if kept && !withTrips[id] {
				d.routes[id] = false
			}
		}
	}

	d.agencies = make(map[string]bool)
	for id, kept := range d.routes {
		if !kept {
			continue
		}
		d.routeKept++
		if ag := agencyOf[id]; ag != "" {
			d.agencies[ag] = true
		}
	}
	if a.Has("agency") && d.routeKept > 0 && len(d.agencies) == 0 {
		d.allAgencies = true
		warn.Add(model.WarningFilterAmbiguity, "agency", "kept routes reference no agency_id; keeping every agency")
	}

	if err := d.indexStops(a); err != nil {
		return nil, err
	}

	d.empty = a.Has("routes") && d.routeKept == 0
	return d, nil
}

// decideServices finds services with at least one row in the window
func (d *Decisions) decideServices(a *gtfs.Archive, warn *model.Warnings) (inWindow, known map[string]bool, err error) {
	inWindow = make(map[string]bool)
	known = make(map[string]bool)
	w := d.rules.Window
	if w == nil {
		return inWindow, known, nil
	}

	for row, err := range a.Rows("calendar") {
		if err != nil {
			return nil, nil, err
		}
		sid := row.Get("service_id")
		known[sid] = true
		start, end := row.Get("start_date"), row.Get("end_date")
		if !ValidDate(start) || !ValidDate(end) {
			warn.Add(model.WarningFilterAmbiguity, "calendar", "unparseable start_date/end_date; service kept")
			inWindow[sid] = true
			continue
		}
		if w.Overlaps(start, end) {
			inWindow[sid] = true
		}
	}

	for row, err := range a.Rows("calendar_dates") {
		if err != nil {
			return nil, nil, err
		}
		sid := row.Get("service_id")
		known[sid] = true
		date := row.Get("date")
		if !ValidDate(date) {
			warn.Add(model.WarningFilterAmbiguity, "calendar_dates", "unparseable date; service kept")
			inWindow[sid] = true
			continue
		}
		if w.Contains(date) {
			inWindow[sid] = true
		}
	}
	return inWindow, known, nil
}

// decideRoutes applies the route_type allowlist
func (d *Decisions) decideRoutes(a *gtfs.Archive, warn *model.Warnings) (map[string]string, error) {
	d.routes = make(map[string]bool)
	agencyOf := make(map[string]string)

	for row, err := range a.Rows("routes") {
		if err != nil {
			return nil, err
		}
		id := row.Get("route_id")
		if _, seen := d.routes[id]; seen {
			continue
		}
		agencyOf[id] = row.Get("agency_id")
		d.routes[id] = d.routeTypeAllowed(row.Get("route_type"), warn)
	}
	return agencyOf, nil
}

func (d *Decisions) routeTypeAllowed(value string, warn *model.Warnings) bool {
	if len(d.rules.RouteTypes) == 0 {
		return true
	}
	if value == "" {
		warn.Add(model.WarningFilterAmbiguity, "routes", "empty route_type; route kept")
		return true
	}
	rt, err := strconv.Atoi(value)
	if err != nil {
		warn.Add(model.WarningFilterAmbiguity, "routes", "unparseable route_type %q; route kept", value)
		return true
	}
	return d.rules.RouteTypes[rt]
}

// decideTrips keeps a trip iff its route is kept and its service is in the window
func (d *Decisions) decideTrips(a *gtfs.Archive, inWindow, known map[string]bool, warn *model.Warnings) (map[string]bool, error) {
	d.trips = make(map[string]bool)
	d.services = make(map[string]bool)
	d.shapes = make(map[string]bool)
	d.hasTrips = a.Has("trips")
	withTrips := make(map[string]bool)

	for row, err := range a.Rows("trips") {
		if err != nil {
			return nil, err
		}
		tid := row.Get("trip_id")
		if _, seen := d.trips[tid]; seen {
			continue
		}
		rid, sid := row.Get("route_id"), row.Get("service_id")

		routeOK, knownRoute := d.routes[rid]
		if !knownRoute {
			warn.Add(model.WarningFilterAmbiguity, "trips", "trip references unknown route_id; trip kept")
			routeOK = true
		}

		serviceOK := true
		if d.rules.Window != nil {
			if known[sid] {
				serviceOK = inWindow[sid]
			} else {
				warn.Add(model.WarningFilterAmbiguity, "trips", "trip references unknown service_id; trip kept")
			}
		}

		kept := routeOK && serviceOK
		d.trips[tid] = kept
		if !kept {
			continue
		}
		d.services[sid] = true
		if shape := row.Get("shape_id"); shape != "" {
			d.shapes[shape] = true
		}
		withTrips[rid] = true
	}
	return withTrips, nil
}

// indexStops records the parent_station hierarchy for the stop closure
func (d *Decisions) indexStops(a *gtfs.Archive) error {
	d.allStops = !a.Has("stop_times")
	d.stopRefs = make(map[string]bool)
	d.parent = make(map[string]string)
	if d.allStops {
		return nil
	}
	for row, err := range a.Rows("stops") {
		if err != nil {
			return err
		}
		if p := row.Get("parent_station"); p != "" {
			id := row.Get("stop_id")
			if _, seen := d.parent[id]; !seen {
				d.parent[id] = p
			}
		}
	}
	return nil
}

// SeedStops fills the stop closure from the stop_times of kept trips.
// Call it when stop_times is read but not written, so Note never sees those rows.
func (d *Decisions) SeedStops(a *gtfs.Archive) error {
	if !d.active || d.allStops || d.closure != nil {
		return nil
	}
	for row, err := range a.Rows("stop_times") {
		if err != nil {
			return err
		}
		if !d.trips[row.Get("trip_id")] {
			continue
		}
		if id := row.Get("stop_id"); id != "" {
			d.stopRefs[id] = true
		}
	}
	return nil
}

// Active reports whether this feed is being filtered at all
func (d *Decisions) Active() bool {
	return d.active
}

// Empty reports that a filter is configured and no route survived it
func (d *Decisions) Empty() bool {
	return d.empty
}

// Keep decides whether row of table t passes the filter. It does not
// change any state; call Note once the row has actually been emitted.
func (d *Decisions) Keep(t *gtfs.Table, row gtfs.Row) bool {
	if t.Role == gtfs.RoleByTrip {
		if d.emitted[row.Get("trip_id")] {
			return true
		}
		if d.warn != nil {
			d.warn.Add(model.WarningFilterAmbiguity, t.Name, "trip_id not in emitted trips; row dropped")
		}
		return false
	}
	if !d.active {
		return true
	}

	switch t.Role {
	case gtfs.RoleAgency:
		id := row.Get("agency_id")
		return id == "" || d.allAgencies || d.agencies[id]

	case gtfs.RoleRoute:
		kept, ok := d.routes[row.Get("route_id")]
		return kept || !ok

	case gtfs.RoleTrip:
		kept, ok := d.trips[row.Get("trip_id")]
		return kept || !ok

	case gtfs.RoleByService:
		if !d.hasTrips {
			return d.serviceRowInWindow(t, row)
		}
		return d.services[row.Get("service_id")] && d.serviceRowInWindow(t, row)

	case gtfs.RoleShape:
		if !d.hasTrips {
			return true
		}
		return d.shapes[row.Get("shape_id")]

	case gtfs.RoleStop:
		if d.allStops {
			return true
		}
		d.freezeClosure()
		return d.closure[row.Get("stop_id")] || d.closure[row.Get("parent_station")]

	case gtfs.RoleTransfer:
		for _, col := range []string{"from_stop_id", "to_stop_id"} {
			if id := row.Get(col); id != "" && !d.stopKept(id) {
				return false
			}
		}
		for _, col := range []string{"from_trip_id", "to_trip_id"} {
			if id := row.Get(col); id != "" && !d.trips[id] {
				return false
			}
		}
		for _, col := range []string{"from_route_id", "to_route_id"} {
			if id := row.Get(col); id != "" && !d.routes[id] {
				return false
			}
		}
		return true

	case gtfs.RolePathway:
		return d.stopKept(row.Get("from_stop_id")) && d.stopKept(row.Get("to_stop_id"))

	case gtfs.RoleByStop:
		id := row.Get("stop_id")
		return id == "" || d.stopKept(id)

	case gtfs.RoleByRoute:
		id := row.Get("route_id")
		return id == "" || d.routes[id]
	}
	return true
}

// serviceRowInWindow applies the row-level date check to calendar tables
func (d *Decisions) serviceRowInWindow(t *gtfs.Table, row gtfs.Row) bool {
	w := d.rules.Window
	if w == nil {
		return true
	}
	switch t.Name {
	case "calendar":
		start, end := row.Get("start_date"), row.Get("end_date")
		if !ValidDate(start) || !ValidDate(end) {
			return true
		}
		return w.Overlaps(start, end)
	case "calendar_dates":
		date := row.Get("date")
		return !ValidDate(date) || w.Contains(date)
	}
	return true
}

// Note records an emitted row. Emitted trips admit their stop_times and
// frequencies; emitted stop_times seed the stop closure.
func (d *Decisions) Note(t *gtfs.Table, row gtfs.Row) {
	switch {
	case t.Role == gtfs.RoleTrip:
		d.emitted[row.Get("trip_id")] = true
	case d.active && t.Name == "stop_times" && d.closure == nil:
		if id := row.Get("stop_id"); id != "" {
			d.stopRefs[id] = true
		}
	}
}

func (d *Decisions) stopKept(id string) bool {
	if d.allStops {
		return true
	}
	d.freezeClosure()
	if d.closure[id] {
		return true
	}
	p, ok := d.parent[id]
	return ok && d.closure[p]
}

// freezeClosure expands stopRefs with every ancestor station, once
func (d *Decisions) freezeClosure() {
	if d.closure != nil {
		return
	}
	d.closure = make(map[string]bool, len(d.stopRefs))
	for id := range d.stopRefs {
		// bounded walk guards against parent_station cycles
		for steps := 0; id != "" && !d.closure[id] && steps <= len(d.parent); steps++ {
			d.closure[id] = true
			id = d.parent[id]
		}
	}
	d.stopRefs = nil
}

// Kept answers whether the identity id of table is kept.
// Supported tables: routes, trips, shapes, agency, stops and "services".
func (d *Decisions) Kept(table, id string) bool {
	if !d.active {
		return true
	}
	switch table {
	case "routes":
		return d.routes[id]
	case "trips":
		return d.trips[id]
	case "shapes":
		return !d.hasTrips || d.shapes[id]
	case "services", "calendar", "calendar_dates":
		return !d.hasTrips || d.services[id]
	case "agency":
		return id == "" || d.allAgencies || d.agencies[id]
	case "stops":
		return d.stopKept(id)
	}
	return true
}

// RoutesKept is the number of routes that survived the filter
func (d *Decisions) RoutesKept() int {
	return d.routeKept
}
