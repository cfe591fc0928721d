package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "FLOWMARK"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "flowmark.db"
	defaultLogLevel        = "info"
	defaultRefreshInterval = 15 * time.Minute

	defaultUSGSBaseURL = "https://waterservices.usgs.gov"
	defaultECBaseURL   = "https://api.weather.gc.ca"
	defaultLAWABaseURL = "https://api.lawa.org.nz/v1"
	defaultDWRBaseURL  = "https://dwr.state.co.us/rest/get/api/v2"
)

// AppConfig captures runtime configuration for the engine.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	RefreshInterval time.Duration

	// ResetOnMismatch erases the database on schema mismatch. Pre-release
	// iteration only; must stay false in production builds.
	ResetOnMismatch bool

	USGSBaseURL              string
	USGSStateCodes           []string
	EnvironmentCanadaBaseURL string
	Provinces                []string
	LAWABaseURL              string
	Regions                  []string
	DWRBaseURL               string

	ForecastBaseURL string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.reset_on_mismatch", false)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("refresh.interval", defaultRefreshInterval.String())

	configViper.SetDefault("usgs.base_url", defaultUSGSBaseURL)
	configViper.SetDefault("usgs.state_codes", []string{})
	configViper.SetDefault("environment_canada.base_url", defaultECBaseURL)
	configViper.SetDefault("environment_canada.provinces", []string{})
	configViper.SetDefault("lawa.base_url", defaultLAWABaseURL)
	configViper.SetDefault("lawa.regions", []string{})
	configViper.SetDefault("dwr.base_url", defaultDWRBaseURL)

	configViper.SetDefault("forecast.base_url", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	interval, err := time.ParseDuration(configViper.GetString("refresh.interval"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("refresh.interval: %w", err)
	}

	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		RefreshInterval: interval,
		ResetOnMismatch: configViper.GetBool("database.reset_on_mismatch"),

		USGSBaseURL:              configViper.GetString("usgs.base_url"),
		USGSStateCodes:           configViper.GetStringSlice("usgs.state_codes"),
		EnvironmentCanadaBaseURL: configViper.GetString("environment_canada.base_url"),
		Provinces:                configViper.GetStringSlice("environment_canada.provinces"),
		LAWABaseURL:              configViper.GetString("lawa.base_url"),
		Regions:                  configViper.GetStringSlice("lawa.regions"),
		DWRBaseURL:               configViper.GetString("dwr.base_url"),

		ForecastBaseURL: configViper.GetString("forecast.base_url"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("refresh.interval must not be negative")
	}
	return nil
}
