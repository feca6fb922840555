package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	Debug    bool   `mapstructure:"debug"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type AlertsConfig struct {
	InactivityDays       int `mapstructure:"inactivity_days"`
	DeliveryMinutes      int `mapstructure:"delivery_minutes"`
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads the configuration file (if present) and environment overrides.
// Environment variables use the TRACKER_ prefix with underscores, e.g.
// TRACKER_DATABASE_PASSWORD.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tracker")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "tracker")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.debug", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("alerts.inactivity_days", 20)
	v.SetDefault("alerts.delivery_minutes", 60)
	v.SetDefault("alerts.sweep_interval_minutes", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
