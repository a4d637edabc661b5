package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the complete feedclean configuration
type Config struct {
	RouteTypeAllowlist  []string      `yaml:"route_type_allowlist" json:"route_type_allowlist" mapstructure:"route_type_allowlist"`
	ServiceDateRange    DateRange     `yaml:"service_date_range" json:"service_date_range" mapstructure:"service_date_range"`
	WorkerCount         int           `yaml:"worker_count" json:"worker_count" mapstructure:"worker_count" validate:"gt=0"`
	CrossFeedDedup      bool          `yaml:"cross_feed_dedup" json:"cross_feed_dedup" mapstructure:"cross_feed_dedup"`
	RowBufferThreshold  int64         `yaml:"row_buffer_threshold" json:"row_buffer_threshold" mapstructure:"row_buffer_threshold" validate:"gte=0"`
	OutputDir           string        `yaml:"output_dir" json:"output_dir" mapstructure:"output_dir"`
	IncludeTables       []string      `yaml:"include_tables" json:"include_tables" mapstructure:"include_tables"`
	CompressLevel       int           `yaml:"compress_level" json:"compress_level" mapstructure:"compress_level" validate:"gte=1,lte=9"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout" validate:"gte=0"`
	Manifest            string        `yaml:"manifest" json:"manifest" mapstructure:"manifest"`
	FingerprintSnapshot string        `yaml:"fingerprint_snapshot" json:"fingerprint_snapshot" mapstructure:"fingerprint_snapshot"`
	ProgressInterval    time.Duration `yaml:"progress_interval" json:"progress_interval" mapstructure:"progress_interval" validate:"gte=0"`
	Salvage             bool          `yaml:"salvage" json:"salvage" mapstructure:"salvage"`

	Report ReportConfig `yaml:"report" json:"report" mapstructure:"report"`
	Cache  CacheConfig  `yaml:"cache" json:"cache" mapstructure:"cache"`
	Store  StoreConfig  `yaml:"store" json:"store" mapstructure:"store"`
}

// DateRange is an inclusive service-date window in YYYYMMDD form.
// Both ends empty disables date filtering.
type DateRange struct {
	Start string `yaml:"start" json:"start" mapstructure:"start" validate:"omitempty,len=8,numeric"`
	End   string `yaml:"end" json:"end" mapstructure:"end" validate:"omitempty,len=8,numeric"`
}

// ReportConfig controls which report files are rendered
type ReportConfig struct {
	JSON     string `yaml:"json" json:"json" mapstructure:"json"`
	Markdown string `yaml:"markdown" json:"markdown" mapstructure:"markdown"`
	CSV      string `yaml:"csv" json:"csv" mapstructure:"csv"`
}

// CacheConfig controls the statistics result cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Dir     string        `yaml:"dir" json:"dir" mapstructure:"dir"`
	TTL     time.Duration `yaml:"ttl" json:"ttl" mapstructure:"ttl" validate:"gte=0"`
}

// StoreConfig controls the SQLite run history
type StoreConfig struct {
	Path string `yaml:"path" json:"path" mapstructure:"path"`
}

// DateLayout is the GTFS date format
const DateLayout = "20060102"

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		WorkerCount:        4,
		RowBufferThreshold: 64 << 20,
		OutputDir:          "./cleaned",
		CompressLevel:      9,
		ProgressInterval:   10 * time.Second,
		Salvage:            true,
		Report: ReportConfig{
			JSON: "feedclean-report.json",
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     ".feedclean-cache",
			TTL:     7 * 24 * time.Hour,
		},
	}
}

// Validate checks struct constraints and cross-field rules.
// Any error returned here is fatal at startup.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return &ConfigError{Message: err.Error()}
	}

	start, end := c.ServiceDateRange.Start, c.ServiceDateRange.End
	if (start == "") != (end == "") {
		return &ConfigError{Field: "service_date_range", Message: "both start and end must be provided"}
	}
	if start != "" {
		s, err := time.Parse(DateLayout, start)
		if err != nil {
			return &ConfigError{Field: "service_date_range.start", Message: err.Error()}
		}
		e, err := time.Parse(DateLayout, end)
		if err != nil {
			return &ConfigError{Field: "service_date_range.end", Message: err.Error()}
		}
		if s.After(e) {
			return &ConfigError{Field: "service_date_range", Message: fmt.Sprintf("start %s is after end %s", start, end)}
		}
	}
	return nil
}

// DecisionDigest hashes the settings that influence per-row decisions.
// Two runs with equal digests make identical keep/drop decisions on the same archive.
func (c *Config) DecisionDigest() string {
	routes := append([]string(nil), c.RouteTypeAllowlist...)
	sort.Strings(routes)
	tables := append([]string(nil), c.IncludeTables...)
	sort.Strings(tables)

	h := sha256.New()
	fmt.Fprintf(h, "routes=%s\n", strings.Join(routes, ","))
	fmt.Fprintf(h, "window=%s-%s\n", c.ServiceDateRange.Start, c.ServiceDateRange.End)
	fmt.Fprintf(h, "tables=%s\n", strings.Join(tables, ","))
	fmt.Fprintf(h, "salvage=%t\n", c.Salvage)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
