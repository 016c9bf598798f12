package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every recognized setting. All values come from the
// environment (optionally seeded from a .env file); a config.yaml in the
// working directory may supply the same keys for local development.
type Config struct {
	DiscordToken string

	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	PIIPepper string

	S3Bucket           string
	S3Region           string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	ImageMaxMB int
	ImageMaxW  int
	ImageMaxH  int

	StaffCSVPath string

	EnableHistoricalSync bool
	ForceFullSync        bool
	RunMode              string
	ExitAfterSync        bool

	LogLevel string
}

// Load reads config.yaml, .env and the environment, in that order of
// increasing precedence (.env entries never replace variables already set
// in the environment), and validates required settings. A failed Load is
// fatal to the process.
func Load() (*Config, error) {
	// Missing .env is the normal case in production.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	viper.SetDefault("MYSQL_PORT", 3306)
	viper.SetDefault("IMAGE_MAX_MB", 10)
	viper.SetDefault("IMAGE_MAX_W", 1920)
	viper.SetDefault("IMAGE_MAX_H", 1080)
	viper.SetDefault("RUN_MODE", "watch")
	viper.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		DiscordToken:         viper.GetString("DISCORD_TOKEN"),
		MySQLHost:            viper.GetString("MYSQL_HOST"),
		MySQLPort:            viper.GetInt("MYSQL_PORT"),
		MySQLUser:            viper.GetString("MYSQL_USER"),
		MySQLPassword:        viper.GetString("MYSQL_PASSWORD"),
		MySQLDatabase:        viper.GetString("MYSQL_DATABASE"),
		PIIPepper:            viper.GetString("PII_PEPPER"),
		S3Bucket:             viper.GetString("S3_BUCKET"),
		S3Region:             viper.GetString("S3_REGION"),
		AWSAccessKeyID:       viper.GetString("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey:   viper.GetString("AWS_SECRET_ACCESS_KEY"),
		ImageMaxMB:           viper.GetInt("IMAGE_MAX_MB"),
		ImageMaxW:            viper.GetInt("IMAGE_MAX_W"),
		ImageMaxH:            viper.GetInt("IMAGE_MAX_H"),
		StaffCSVPath:         viper.GetString("STAFF_CSV_PATH"),
		EnableHistoricalSync: viper.GetBool("ENABLE_HISTORICAL_SYNC"),
		ForceFullSync:        viper.GetBool("FORCE_FULL_SYNC"),
		RunMode:              viper.GetString("RUN_MODE"),
		ExitAfterSync:        viper.GetBool("EXIT_AFTER_SYNC"),
		LogLevel:             viper.GetString("LOG_LEVEL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.DiscordToken == "" {
		missing = append(missing, "DISCORD_TOKEN")
	}
	if c.MySQLHost == "" {
		missing = append(missing, "MYSQL_HOST")
	}
	if c.MySQLUser == "" {
		missing = append(missing, "MYSQL_USER")
	}
	if c.MySQLDatabase == "" {
		missing = append(missing, "MYSQL_DATABASE")
	}
	if c.PIIPepper == "" {
		missing = append(missing, "PII_PEPPER")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.RunMode != "watch" && c.RunMode != "once" {
		return fmt.Errorf("invalid RUN_MODE %q (want watch or once)", c.RunMode)
	}
	return nil
}

// DSN builds the MySQL connection string. parseTime maps DATETIME columns to
// time.Time on scan.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&multiStatements=true",
		c.MySQLUser, c.MySQLPassword, c.MySQLHost, c.MySQLPort, c.MySQLDatabase)
}

// ImagesEnabled reports whether the media pipeline can run; without a bucket
// the reconciler persists posts with their attachments dropped.
func (c *Config) ImagesEnabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}
