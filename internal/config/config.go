package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "sonder.cfg.json"

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// PostgresConfig holds PostgreSQL storage backend settings
type PostgresConfig struct {
	Host         string        `json:"host" mapstructure:"host"`
	Port         string        `json:"port" mapstructure:"port"`
	Username     string        `json:"username" mapstructure:"username"`
	Password     string        `json:"password" mapstructure:"password"`
	Database     string        `json:"database" mapstructure:"database"`
	SSLMode      string        `json:"sslmode" mapstructure:"sslmode"`
	PollInterval time.Duration `json:"pollInterval" mapstructure:"pollInterval"`
}

// WebsocketConfig holds remote storage settings
type WebsocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig selects and configures the entries store
type StorageConfig struct {
	Type      string          `json:"type" mapstructure:"type"`
	SQLite    SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	Postgres  PostgresConfig  `json:"postgres" mapstructure:"postgres"`
	Websocket WebsocketConfig `json:"websocket" mapstructure:"websocket"`
}

// NotifyConfig holds proximity scan parameters
type NotifyConfig struct {
	RecencyDays   int           `json:"recencyDays" mapstructure:"recencyDays"`
	RadiusMeters  float64       `json:"radiusMeters" mapstructure:"radiusMeters"`
	MaxCandidates int           `json:"maxCandidates" mapstructure:"maxCandidates"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	Interval      time.Duration `json:"interval" mapstructure:"interval"`
}

// Window returns the recency window as a duration.
func (c NotifyConfig) Window() time.Duration {
	return time.Duration(c.RecencyDays) * 24 * time.Hour
}

// ImgurConfig holds image upload settings
type ImgurConfig struct {
	ClientID string        `json:"clientId" mapstructure:"clientId"`
	MaxBytes int64         `json:"maxBytes" mapstructure:"maxBytes"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
}

// InfluxConfig holds InfluxDB settings
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// GraylogConfig holds GELF sink settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// APIConfig holds HTTP API settings
type APIConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
	Secret  string `json:"secret" mapstructure:"secret"`
}

// MapConfig holds the initial map view
type MapConfig struct {
	DefaultZoom int     `json:"defaultZoom" mapstructure:"defaultZoom"`
	CenterLat   float64 `json:"centerLat" mapstructure:"centerLat"`
	CenterLng   float64 `json:"centerLng" mapstructure:"centerLng"`
}

// MonitorConfig holds the daemon status file settings
type MonitorConfig struct {
	StatusPath string        `json:"statusPath" mapstructure:"statusPath"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./sonderlogs")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./sonder.db")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "sonder")
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.postgres.pollInterval", "2s")
	viper.SetDefault("storage.websocket.url", "")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("kv.path", "./sonder-local.db")

	viper.SetDefault("notify.recencyDays", 7)
	viper.SetDefault("notify.radiusMeters", 200)
	viper.SetDefault("notify.maxCandidates", 500)
	viper.SetDefault("notify.timeout", "15s")
	viper.SetDefault("notify.interval", "1m")

	viper.SetDefault("imgur.clientId", "")
	viper.SetDefault("imgur.maxBytes", 5*1024*1024)
	viper.SetDefault("imgur.timeout", "15s")

	viper.SetDefault("map.defaultZoom", 3)
	viper.SetDefault("map.defaultCenter", []float64{20, 0})

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.addr", "127.0.0.1:8765")
	viper.SetDefault("api.secret", "")

	viper.SetDefault("monitor.statusPath", "./sonderlogs/status.json")
	viper.SetDefault("monitor.interval", "5s")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "sonder-metrics")
	viper.SetDefault("influx.backupPath", "./sonder-metrics.gz")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "sonder")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Values can be
// overridden with SONDER_ prefixed environment variables.
func Load(configDir string) error {
	SetDefaults()

	viper.SetEnvPrefix("SONDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		Postgres: PostgresConfig{
			Host:         viper.GetString("storage.postgres.host"),
			Port:         viper.GetString("storage.postgres.port"),
			Username:     viper.GetString("storage.postgres.username"),
			Password:     viper.GetString("storage.postgres.password"),
			Database:     viper.GetString("storage.postgres.database"),
			SSLMode:      viper.GetString("storage.postgres.sslmode"),
			PollInterval: viper.GetDuration("storage.postgres.pollInterval"),
		},
		Websocket: WebsocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

func GetNotifyConfig() NotifyConfig {
	return NotifyConfig{
		RecencyDays:   viper.GetInt("notify.recencyDays"),
		RadiusMeters:  viper.GetFloat64("notify.radiusMeters"),
		MaxCandidates: viper.GetInt("notify.maxCandidates"),
		Timeout:       viper.GetDuration("notify.timeout"),
		Interval:      viper.GetDuration("notify.interval"),
	}
}

func GetImgurConfig() ImgurConfig {
	return ImgurConfig{
		ClientID: viper.GetString("imgur.clientId"),
		MaxBytes: viper.GetInt64("imgur.maxBytes"),
		Timeout:  viper.GetDuration("imgur.timeout"),
	}
}

func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Protocol:   viper.GetString("influx.protocol"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

func GetAPIConfig() APIConfig {
	return APIConfig{
		Enabled: viper.GetBool("api.enabled"),
		Addr:    viper.GetString("api.addr"),
		Secret:  viper.GetString("api.secret"),
	}
}

func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StatusPath: viper.GetString("monitor.statusPath"),
		Interval:   viper.GetDuration("monitor.interval"),
	}
}

// GetMapConfig reads the initial view. A malformed center falls back to
// [20, 0].
func GetMapConfig() MapConfig {
	cfg := MapConfig{DefaultZoom: viper.GetInt("map.defaultZoom"), CenterLat: 20, CenterLng: 0}
	center := viper.Get("map.defaultCenter")
	var pair []float64
	switch v := center.(type) {
	case []float64:
		pair = v
	case []interface{}:
		for _, x := range v {
			if f, ok := x.(float64); ok {
				pair = append(pair, f)
			}
		}
	}
	if len(pair) == 2 {
		cfg.CenterLat, cfg.CenterLng = pair[0], pair[1]
	}
	return cfg
}
