package server

import "github.com/spf13/viper"

func GetServerDefault() BaseServerConfig {
	return BaseServerConfig{
		ShutdownTimeout: "10s",

		Log: LogServerConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogServerRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},

		Metadata: MetadataServerConfig{
			Type: "sqlite",
			SQLite: MetadataSQLiteConfig{
				Path: "goassets.db",
			},
		},

		Roots: RootsServerConfig{
			ModelsDir: "models",
			InputDir:  "input",
			OutputDir: "output",
		},

		Scan: ScanServerConfig{
			Interval:        "15m",
			Watch:           false,
			WatchDebounce:   "2s",
			ExtractMetadata: true,
			ComputeHashes:   false,
			EnrichLimit:     1000,
		},
	}
}

func setDefaults() {
	defaults := GetServerDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("metadata.type", defaults.Metadata.Type)
	viper.SetDefault("metadata.sqlite.path", defaults.Metadata.SQLite.Path)

	viper.SetDefault("roots.models_dir", defaults.Roots.ModelsDir)
	viper.SetDefault("roots.input_dir", defaults.Roots.InputDir)
	viper.SetDefault("roots.output_dir", defaults.Roots.OutputDir)

	viper.SetDefault("scan.interval", defaults.Scan.Interval)
	viper.SetDefault("scan.watch", defaults.Scan.Watch)
	viper.SetDefault("scan.watch_debounce", defaults.Scan.WatchDebounce)
	viper.SetDefault("scan.extract_metadata", defaults.Scan.ExtractMetadata)
	viper.SetDefault("scan.compute_hashes", defaults.Scan.ComputeHashes)
	viper.SetDefault("scan.enrich_limit", defaults.Scan.EnrichLimit)
}
