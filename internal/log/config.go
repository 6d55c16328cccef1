package log

// Config contains logging settings.
type Config struct {
	Level   string        `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string        `mapstructure:"format" yaml:"format"` // json / text
	Outputs OutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// OutputsConfig lists log destinations besides stdout.
type OutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures the rotating log file.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}
