package server

// MetadataServerConfig holds metadata store configuration
type MetadataServerConfig struct {
	Type   string               `mapstructure:"type"   yaml:"type"`
	SQLite MetadataSQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

// MetadataSQLiteConfig holds SQLite-specific configuration
type MetadataSQLiteConfig struct {
	Path        string `mapstructure:"path"         yaml:"path"`
	BusyTimeout int    `mapstructure:"busy_timeout" yaml:"busy_timeout"`
	JournalMode string `mapstructure:"journal_mode" yaml:"journal_mode"`
	Debug       bool   `mapstructure:"debug"        yaml:"debug"`
}
