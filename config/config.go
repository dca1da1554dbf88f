package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"factorio-server-manager/logger"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultDataDir        = "./data"
	defaultCommandPrefix  = "!"
	defaultPublicURL      = "http://localhost:8080"
	defaultHTTPAddr       = ":8080"
	defaultUserAgent      = "factorio-server-manager/dev"
	defaultReportInterval = 3 * time.Second
	defaultStartGrace     = 3 * time.Second
	defaultWorkers        = 4
)

// Config holds all configuration for the application.
// Values are loaded by Viper from a .env file and/or environment variables.
type Config struct {
	ChatToken     string `mapstructure:"CHAT_TOKEN"`
	BotOwner      string `mapstructure:"BOT_OWNER"`
	CommandPrefix string `mapstructure:"COMMAND_PREFIX"`

	FactorioUsername string `mapstructure:"FACTORIO_USERNAME"`
	FactorioToken    string `mapstructure:"FACTORIO_TOKEN"`
	FactorioCookie   string `mapstructure:"FACTORIO_COOKIE"`

	DataDir      string `mapstructure:"DATA_DIR"`
	DatabasePath string `mapstructure:"DB_PATH"`

	PublicURL string `mapstructure:"PUBLIC_URL"`
	HTTPAddr  string `mapstructure:"HTTP_ADDR"`
	UserAgent string `mapstructure:"USERAGENT"`

	ReportInterval time.Duration `mapstructure:"REPORT_INTERVAL"`
	StartGrace     time.Duration `mapstructure:"START_GRACE"`
	Workers        int           `mapstructure:"WORKERS"`
}

// ProfilesDir is where profile working directories are created.
func (c Config) ProfilesDir() string { return filepath.Join(c.DataDir, "profiles") }

// BinDir is where extracted game releases are installed.
func (c Config) BinDir() string { return filepath.Join(c.DataDir, "bin") }

var envKeys = []string{
	"CHAT_TOKEN", "BOT_OWNER", "COMMAND_PREFIX",
	"FACTORIO_USERNAME", "FACTORIO_TOKEN", "FACTORIO_COOKIE",
	"DATA_DIR", "DB_PATH", "PUBLIC_URL", "HTTP_ADDR", "USERAGENT",
	"REPORT_INTERVAL", "START_GRACE", "WORKERS",
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	vipErr := viper.ReadInConfig()
	if _, ok := vipErr.(viper.ConfigFileNotFoundError); ok {
		logger.Log.Info("Config file (.env) not found, relying on environment variables.")
	} else if vipErr != nil {
		return Config{}, fmt.Errorf("fatal error config file: %w", vipErr)
	}

	viper.AutomaticEnv()
	for _, key := range envKeys {
		if err := viper.BindEnv(key); err != nil {
			logger.Log.Warnw("Unable to bind env var", zap.String("key", key), zap.Error(err))
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct, %w", err)
	}

	processConfigDefaults(&config)
	if err := validateAndEnsureDirectories(&config); err != nil {
		return Config{}, err
	}
	return config, nil
}

// processConfigDefaults fills every unset value with its default.
func processConfigDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = defaultCommandPrefix
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = defaultPublicURL
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
		logger.Log.Warn("USERAGENT not set in config or environment, using default.")
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = defaultReportInterval
	}
	if cfg.StartGrace <= 0 {
		cfg.StartGrace = defaultStartGrace
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.FactorioCookie == "" {
		logger.Log.Warn("FACTORIO_COOKIE not set, game release sync and downloads will be refused by the download site")
	}
}

// validateAndEnsureDirectories checks DataDir, creates the profile and
// binary directories, and derives DatabasePath when it is not set.
func validateAndEnsureDirectories(cfg *Config) error {
	if cfg.DataDir == "" {
		logger.Log.Error("DATA_DIR is not set")
		return fmt.Errorf("DATA_DIR is required")
	}

	for _, dir := range []string{cfg.DataDir, cfg.ProfilesDir(), cfg.BinDir()} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			logger.Log.Infow("Directory does not exist, creating it", zap.String("path", dir))
			if err := os.MkdirAll(dir, 0755); err != nil {
				logger.Log.Errorw("Failed to create directory", zap.String("path", dir), zap.Error(err))
				return err
			}
		} else if err != nil {
			logger.Log.Errorw("Failed to check directory", zap.String("path", dir), zap.Error(err))
			return err
		}
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "dbcfs.db")
	}
	return nil
}
