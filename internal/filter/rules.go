package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

// RailRouteTypes are the route_type codes expanded from the "rail" token:
// the basic GTFS rail type plus the extended railway service range.
var RailRouteTypes = []int{2, 100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110, 111, 112, 113, 114, 115, 116, 117}

// Window is an inclusive service-date window in YYYYMMDD form
type Window struct {
	Start string
	End   string
}

// Contains reports whether date lies in the window
func (w *Window) Contains(date string) bool {
	return date >= w.Start && date <= w.End
}

// Overlaps reports whether [start, end] intersects the window
func (w *Window) Overlaps(start, end string) bool {
	return start <= w.End && end >= w.Start
}

// Rules is the configured content filter
type Rules struct {
	RouteTypes map[int]bool // Empty keeps every route type
	Window     *Window      // Nil disables date filtering
}

// Active reports whether any filter is configured.
// Apart from rows of trips that were not emitted, dependent tables
// are pruned only when this is true.
func (r Rules) Active() bool {
	return len(r.RouteTypes) > 0 || r.Window != nil
}

// Describe renders the rules for logs
func (r Rules) Describe() string {
	if !r.Active() {
		return "none"
	}
	var parts []string
	if len(r.RouteTypes) > 0 {
		types := make([]int, 0, len(r.RouteTypes))
		for rt := range r.RouteTypes {
			types = append(types, rt)
		}
		sort.Ints(types)
		strs := make([]string, len(types))
		for i, rt := range types {
			strs[i] = strconv.Itoa(rt)
		}
		parts = append(parts, "route_type in {"+strings.Join(strs, ",")+"}")
	}
	if r.Window != nil {
		parts = append(parts, fmt.Sprintf("service in [%s, %s]", r.Window.Start, r.Window.End))
	}
	return strings.Join(parts, ", ")
}

// NewRules builds rules from configuration
func NewRules(cfg *model.Config) (Rules, error) {
	types, err := ParseRouteTypes(cfg.RouteTypeAllowlist)
	if err != nil {
		return Rules{}, err
	}
	window, err := ParseWindow(cfg.ServiceDateRange)
	if err != nil {
		return Rules{}, err
	}
	return Rules{RouteTypes: types, Window: window}, nil
}

// ParseRouteTypes expands allowlist tokens: integers, "lo-hi" ranges,
// comma-separated lists and the "rail" alias.
func ParseRouteTypes(tokens []string) (map[int]bool, error) {
	out := make(map[int]bool)
	for _, token := range tokens {
		for _, part := range strings.Split(token, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if strings.EqualFold(part, "rail") {
				for _, rt := range RailRouteTypes {
					out[rt] = true
				}
				continue
			}
			if lo, hi, ok := strings.Cut(part, "-"); ok {
				a, errA := strconv.Atoi(strings.TrimSpace(lo))
				b, errB := strconv.Atoi(strings.TrimSpace(hi))
				if errA != nil || errB != nil || a > b || a < 0 {
					return nil, &model.ConfigError{Field: "route_type_allowlist", Message: fmt.Sprintf("bad range %q", part)}
				}
				for rt := a; rt <= b; rt++ {
					out[rt] = true
				}
				continue
			}
			rt, err := strconv.Atoi(part)
			if err != nil || rt < 0 {
				return nil, &model.ConfigError{Field: "route_type_allowlist", Message: fmt.Sprintf("bad route type %q", part)}
			}
			out[rt] = true
		}
	}
	return out, nil
}

// ParseWindow validates a date range; an empty range means no window
func ParseWindow(dr model.DateRange) (*Window, error) {
	if dr.Start == "" && dr.End == "" {
		return nil, nil
	}
	if !ValidDate(dr.Start) || !ValidDate(dr.End) {
		return nil, &model.ConfigError{Field: "service_date_range", Message: fmt.Sprintf("dates must be YYYYMMDD, got %q..%q", dr.Start, dr.End)}
	}
	if dr.Start > dr.End {
		return nil, &model.ConfigError{Field: "service_date_range", Message: fmt.Sprintf("start %s is after end %s", dr.Start, dr.End)}
	}
	return &Window{Start: dr.Start, End: dr.End}, nil
}

// ValidDate reports whether s is a real YYYYMMDD calendar date
func ValidDate(s string) bool {
	if len(s) != 8 {
		return false
	}
	_, err := time.Parse(model.DateLayout, s)
	return err == nil
}
