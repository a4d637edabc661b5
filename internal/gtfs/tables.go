package gtfs

import (
	"path"
	"strings"
)

// Role tells the content filter how rows of a table are judged
type Role int

const (
	RolePassThrough Role = iota // Always kept by the filter
	RoleAgency                  // Kept when referenced by a kept route
	RoleRoute                   // Judged by route_type and kept trips
	RoleTrip                    // Judged by route and service
	RoleByTrip                  // trip_id must belong to an emitted trip
	RoleByService               // service_id must be used by a kept trip
	RoleShape                   // shape_id must be used by a kept trip
	RoleStop                    // In the closure of stops used by emitted stop_times
	RoleTransfer                // Every non-empty stop/trip/route endpoint kept
	RolePathway                 // Both stop endpoints kept
	RoleByStop                  // stop_id must be kept
	RoleByRoute                 // route_id kept or empty
)

// Table describes one enumerated GTFS file
type Table struct {
	Name string   // Table name, e.g. "stop_times"
	File string   // Archive entry name, e.g. "stop_times.txt"
	Key  []string // Identity key columns; empty means the whole row
	Role Role
	Raw  bool // Not CSV; copied byte for byte
}

var registry = []*Table{
	{Name: "agency", Key: []string{"agency_id"}, Role: RoleAgency},
	{Name: "stops", Key: []string{"stop_id"}, Role: RoleStop},
	{Name: "routes", Key: []string{"route_id"}, Role: RoleRoute},
	{Name: "trips", Key: []string{"trip_id"}, Role: RoleTrip},
	{Name: "stop_times", Key: []string{"trip_id", "stop_sequence"}, Role: RoleByTrip},
	{Name: "calendar", Key: []string{"service_id"}, Role: RoleByService},
	{Name: "calendar_dates", Key: []string{"service_id", "date"}, Role: RoleByService},
	{Name: "fare_attributes", Key: []string{"fare_id"}},
	{Name: "fare_rules", Role: RoleByRoute},
	{Name: "timeframes", Key: []string{"timeframe_group_id", "start_time", "end_time", "service_id"}, Role: RoleByService},
	{Name: "fare_media", Key: []string{"fare_media_id"}},
	{Name: "fare_products", Key: []string{"fare_product_id", "fare_media_id"}},
	{Name: "fare_leg_rules", Key: []string{"network_id", "from_area_id", "to_area_id", "from_timeframe_group_id", "to_timeframe_group_id", "fare_product_id"}},
	{Name: "fare_transfer_rules", Key: []string{"from_leg_group_id", "to_leg_group_id", "fare_product_id", "transfer_count", "duration_limit"}},
	{Name: "areas", Key: []string{"area_id"}},
	{Name: "stop_areas", Key: []string{"area_id", "stop_id"}, Role: RoleByStop},
	{Name: "networks", Key: []string{"network_id"}},
	{Name: "route_networks", Key: []string{"route_id"}, Role: RoleByRoute},
	{Name: "shapes", Key: []string{"shape_id", "shape_pt_sequence"}, Role: RoleShape},
	{Name: "frequencies", Key: []string{"trip_id", "start_time"}, Role: RoleByTrip},
	{Name: "transfers", Key: []string{"from_stop_id", "to_stop_id", "from_trip_id", "to_trip_id", "from_route_id", "to_route_id"}, Role: RoleTransfer},
	{Name: "pathways", Key: []string{"pathway_id"}, Role: RolePathway},
	{Name: "levels", Key: []string{"level_id"}},
	{Name: "location_groups", Key: []string{"location_group_id"}},
	{Name: "location_group_stops", Key: []string{"location_group_id", "stop_id"}, Role: RoleByStop},
	{Name: "booking_rules", Key: []string{"booking_rule_id"}},
	{Name: "translations", Key: []string{"table_name", "field_name", "language", "record_id", "record_sub_id", "field_value"}},
	{Name: "feed_info"},
	{Name: "attributions", Key: []string{"attribution_id"}},
	{Name: "locations", File: "locations.geojson", Raw: true},
}

// Dependency order for output; the rest follow in registry order.
// stops come after stop_times so the stop closure is complete when they are written.
var writeFirst = []string{
	"agency", "routes", "trips", "calendar", "calendar_dates",
	"stop_times", "frequencies", "stops", "transfers", "pathways", "shapes",
}

var (
	byName     = make(map[string]*Table, len(registry))
	byFile     = make(map[string]*Table, len(registry))
	writeOrder []*Table
)

func init() {
	for _, t := range registry {
		if t.File == "" {
			t.File = t.Name + ".txt"
		}
		byName[t.Name] = t
		byFile[t.File] = t
	}
	placed := make(map[string]bool, len(registry))
	for _, name := range writeFirst {
		writeOrder = append(writeOrder, byName[name])
		placed[name] = true
	}
	for _, t := range registry {
		if !placed[t.Name] {
			writeOrder = append(writeOrder, t)
		}
	}
}

// ByName looks up a table by its name ("stops")
func ByName(name string) (*Table, bool) {
	t, ok := byName[name]
	return t, ok
}

// Lookup maps an archive entry name to a table.
// Matching is case-insensitive and ignores enclosing folders.
func Lookup(entry string) (*Table, bool) {
	t, ok := byFile[strings.ToLower(path.Base(entry))]
	return t, ok
}

// MustTable returns the named table and panics on unknown names
func MustTable(name string) *Table {
	t, ok := byName[name]
	if !ok {
		panic("gtfs: unknown table " + name)
	}
	return t
}
