package log

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `conf:"level" yaml:"level" json:"level"`
	// Format is json or console. Defaults to console.
	Format string `conf:"format" yaml:"format" json:"format"`
	// Name is attached to every entry as the logger name.
	Name string `conf:"name" yaml:"name" json:"name"`
	// File enables rotating file output in addition to stderr.
	File FileConfig `conf:"file" yaml:"file" json:"file"`
}

// FileConfig configures lumberjack-backed rotating file output.
type FileConfig struct {
	Path       string `conf:"path" yaml:"path" json:"path"`
	MaxSizeMB  int    `conf:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `conf:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `conf:"max_age_days" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `conf:"compress" yaml:"compress" json:"compress"`
}
