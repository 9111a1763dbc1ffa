package server

// ScanServerConfig controls the background scan/enrich behaviour of the agent.
type ScanServerConfig struct {
	Interval      string `mapstructure:"interval"       yaml:"interval"`       // empty disables periodic scans
	Watch         bool   `mapstructure:"watch"          yaml:"watch"`          // rescan on filesystem events
	WatchDebounce string `mapstructure:"watch_debounce" yaml:"watch_debounce"` // quiet period after a burst of events

	ExtractMetadata bool `mapstructure:"extract_metadata" yaml:"extract_metadata"`
	ComputeHashes   bool `mapstructure:"compute_hashes"   yaml:"compute_hashes"`
	EnrichLimit     int  `mapstructure:"enrich_limit"     yaml:"enrich_limit"` // max references enriched per pass
}
