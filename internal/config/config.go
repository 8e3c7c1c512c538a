package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Backup   BackupConfig   `mapstructure:"backup"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	MaxSamples    int    `mapstructure:"max_samples"`
	Retention     string `mapstructure:"retention"`
	SweepInterval string `mapstructure:"sweep_interval"`
}

type AlertingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SeedsPath string `mapstructure:"seeds_path"`
}

type CacheConfig struct {
	MaxSize       int    `mapstructure:"max_size"`
	DefaultTTL    string `mapstructure:"default_ttl"`
	Strategy      string `mapstructure:"strategy"`
	SweepInterval string `mapstructure:"sweep_interval"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type BackupConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	Storage       BackupStorageConfig `mapstructure:"storage"`
	EncryptionKey string              `mapstructure:"encryption_key"`
	DataPath      string              `mapstructure:"data_path"`
	ConfigPath    string              `mapstructure:"config_path"`
}

type BackupStorageConfig struct {
	Provider string `mapstructure:"provider"`
	Path     string `mapstructure:"path"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Prefix   string `mapstructure:"prefix"`
}

// Duration parses a config duration string, falling back to def on empty or
// malformed values.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("backup.encryption_key", "BACKUP_ENCRYPTION_KEY")
	viper.BindEnv("backup.storage.bucket", "BACKUP_BUCKET")
	viper.BindEnv("backup.storage.region", "AWS_REGION")

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 3001)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "release")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("metrics.max_samples", 10000)
	viper.SetDefault("metrics.retention", "24h")
	viper.SetDefault("metrics.sweep_interval", "1h")

	viper.SetDefault("alerting.enabled", true)
	viper.SetDefault("alerting.seeds_path", "./configs/alerting.yaml")

	viper.SetDefault("cache.max_size", 1000)
	viper.SetDefault("cache.default_ttl", "5m")
	viper.SetDefault("cache.strategy", "lru")
	viper.SetDefault("cache.sweep_interval", "60s")

	viper.SetDefault("database.path", "./data/opscore.db")
	viper.SetDefault("database.max_connections", 10)

	viper.SetDefault("backup.enabled", true)
	viper.SetDefault("backup.storage.provider", "local")
	viper.SetDefault("backup.storage.path", "./data/backups")
	viper.SetDefault("backup.storage.prefix", "opscore")
	viper.SetDefault("backup.data_path", "./data")
	viper.SetDefault("backup.config_path", "./configs")
}
