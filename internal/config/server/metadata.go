package server

// MetadataServerConfig holds asset store configuration
type MetadataServerConfig struct {
	Type   string               `mapstructure:"type"   yaml:"type"`
	SQLite MetadataSQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

// MetadataSQLiteConfig holds SQLite-specific configuration
type MetadataSQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`

	// LogSQL enables gorm statement logging; off by default.
	LogSQL bool `mapstructure:"log_sql" yaml:"log_sql"`
}
