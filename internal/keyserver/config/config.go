package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Version is the configuration file format understood by this build.
const Version = "0.1.0"

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Pretty bool   `toml:"pretty" yaml:"pretty"`
}

// DBConfig holds PostgreSQL connection parameters.
type DBConfig struct {
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	DBName   string `toml:"dbname" yaml:"dbname"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"` // overridden by KEYSERVER_DB_PASSWORD
	SSLMode  string `toml:"sslmode" yaml:"sslmode"`
}

// StorageConfig selects the store backend.
type StorageConfig struct {
	Backend          string   `toml:"backend" yaml:"backend"` // postgresql or memory
	EnsureSchema     bool     `toml:"ensure_schema" yaml:"ensure_schema"`
	MaxOpenConns     int      `toml:"max_open_conns" yaml:"max_open_conns"`
	StatementTimeout string   `toml:"statement_timeout" yaml:"statement_timeout"`
	DB               DBConfig `toml:"db" yaml:"db"`
}

// LegacyConfig lists the client versions whose uploads need repair.
type LegacyConfig struct {
	// IOSOSVersions is a semver constraint on the iOS version. Keys from matching
	// clients with a rolling period below a full day get a full day.
	IOSOSVersions string `toml:"ios_os_versions" yaml:"ios_os_versions"`
	// AndroidAppVersions is a semver constraint on the app version. Keys from matching
	// Android clients with rolling period 0 get a full day.
	AndroidAppVersions string `toml:"android_app_versions" yaml:"android_app_versions"`
}

// DSOSRange bounds normalized days since onset, inclusive.
type DSOSRange struct {
	Min int `toml:"min" yaml:"min"`
	Max int `toml:"max" yaml:"max"`
}

// DSOSAcceptanceConfig keeps federated keys whose normalized days since onset lies in
// the range configured for its category. Categories without a range accept everything.
type DSOSAcceptanceConfig struct {
	Enabled                 bool       `toml:"enabled" yaml:"enabled"`
	SymptomaticOnsetKnown   *DSOSRange `toml:"symptomatic_onset_known" yaml:"symptomatic_onset_known"`
	SymptomaticOnsetRange   *DSOSRange `toml:"symptomatic_onset_range" yaml:"symptomatic_onset_range"`
	SymptomaticUnknownOnset *DSOSRange `toml:"symptomatic_unknown_onset" yaml:"symptomatic_unknown_onset"`
	Asymptomatic            *DSOSRange `toml:"asymptomatic" yaml:"asymptomatic"`
	UnknownSymptomStatus    *DSOSRange `toml:"unknown_symptom_status" yaml:"unknown_symptom_status"`
	ReportTypes             []string   `toml:"report_types" yaml:"report_types"`
}

// DSOSRelevanceConfig drops federated keys dated too long before the reference point
// of their category.
type DSOSRelevanceConfig struct {
	Enabled       bool `toml:"enabled" yaml:"enabled"`
	MaxDaysBefore int  `toml:"max_days_before" yaml:"max_days_before"`
}

type DSOSConfig struct {
	Acceptance DSOSAcceptanceConfig `toml:"acceptance" yaml:"acceptance"`
	Relevance  DSOSRelevanceConfig  `toml:"relevance" yaml:"relevance"`
}

// GatewayConfig describes one federation gateway.
type GatewayConfig struct {
	ID               string   `toml:"id" yaml:"id" validate:"required,alphanum,max=32"`
	BaseURL          string   `toml:"base_url" yaml:"base_url" validate:"required,url"`
	APIKey           string   `toml:"api_key" yaml:"api_key" validate:"required_without=ClientCertFile"` // overridden by KEYSERVER_GATEWAY_<ID>_API_KEY
	ClientCertFile   string   `toml:"client_cert_file" yaml:"client_cert_file" validate:"required_with=ClientKeyFile"`
	ClientKeyFile    string   `toml:"client_key_file" yaml:"client_key_file" validate:"required_with=ClientCertFile"`
	SigningKeyFile   string   `toml:"signing_key_file" yaml:"signing_key_file" validate:"required_if=Upload true"`
	Download         bool     `toml:"download" yaml:"download"`
	Upload           bool     `toml:"upload" yaml:"upload"`
	VisitedCountries []string `toml:"visited_countries" yaml:"visited_countries" validate:"dive,region"`
	Timeout          string   `toml:"timeout" yaml:"timeout"`
}

// GetTimeout returns the per-request timeout, 30 seconds when unset.
func (g *GatewayConfig) GetTimeout() (time.Duration, error) {
	if g.Timeout == "" {
		return 30 * time.Second, nil
	}
	return ParseDuration(g.Timeout)
}

// ExportConfig configures signing of released key batches.
type ExportConfig struct {
	SigningKeyFile string `toml:"signing_key_file" yaml:"signing_key_file"`
	KeyID          string `toml:"key_id" yaml:"key_id"`
	KeyVersion     string `toml:"key_version" yaml:"key_version"`
	CacheSize      int    `toml:"cache_size" yaml:"cache_size"`
}

// AuthConfig configures verification of upload tokens.
type AuthConfig struct {
	JWTPublicKeyFile string `toml:"jwt_public_key_file" yaml:"jwt_public_key_file"`
	ClockSkew        string `toml:"clock_skew" yaml:"clock_skew"`
}

// ConfigParam holds all configuration parameters of the key server.
type ConfigParam struct {
	FormatVersion string `toml:"format_version" yaml:"format_version"`

	// Server
	ServerPort         string `toml:"server_port" yaml:"server_port"`
	HandleCORS         bool   `toml:"handle_cors" yaml:"handle_cors"`
	MaxRequestBodySize int64  `toml:"max_request_body_size" yaml:"max_request_body_size"`
	RequestTimeout     string `toml:"request_timeout" yaml:"request_timeout"`

	// Key release
	Origin          string `toml:"origin" yaml:"origin"`
	ReleaseBucket   string `toml:"release_bucket" yaml:"release_bucket"`
	TimeSkew        string `toml:"time_skew" yaml:"time_skew"`
	RetentionPeriod string `toml:"retention_period" yaml:"retention_period"`

	// Federation
	MaxUploadChunk  int    `toml:"max_upload_chunk" yaml:"max_upload_chunk"`
	MaxPagesPerDay  int    `toml:"max_pages_per_day" yaml:"max_pages_per_day"`
	SyncSchedule    string `toml:"sync_schedule" yaml:"sync_schedule"`
	CleanupSchedule string `toml:"cleanup_schedule" yaml:"cleanup_schedule"`

	Log      LogConfig       `toml:"log" yaml:"log"`
	Storage  StorageConfig   `toml:"storage" yaml:"storage"`
	Legacy   LegacyConfig    `toml:"legacy" yaml:"legacy"`
	DSOS     DSOSConfig      `toml:"dsos" yaml:"dsos"`
	Export   ExportConfig    `toml:"export" yaml:"export"`
	Auth     AuthConfig      `toml:"auth" yaml:"auth"`
	Gateways []GatewayConfig `toml:"gateways" yaml:"gateways"`

	// KeyPassphrase unlocks encrypted signing keys. Only read from KEYSERVER_KEY_PASSPHRASE.
	KeyPassphrase string `toml:"-" yaml:"-"`
}

var cfg *ConfigParam

// Config returns the loaded configuration.
func Config() *ConfigParam {
	return cfg
}

// SetConfig replaces the loaded configuration.
func SetConfig(c *ConfigParam) {
	cfg = c
}

// DSN returns the keyword/value connection string of the configured database.
func (c *ConfigParam) DSN() string {
	db := c.Storage.DB
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSN(db.Host), db.Port, quoteDSN(db.User), quoteDSN(db.Password), quoteDSN(db.DBName), quoteDSN(db.SSLMode))
}

func quoteDSN(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func (c *ConfigParam) GetReleaseBucket() time.Duration {
	return mustDuration(c.ReleaseBucket)
}

func (c *ConfigParam) GetTimeSkew() time.Duration {
	return mustDuration(c.TimeSkew)
}

func (c *ConfigParam) GetRetentionPeriod() time.Duration {
	return mustDuration(c.RetentionPeriod)
}

func (c *ConfigParam) GetRequestTimeout() time.Duration {
	return mustDuration(c.RequestTimeout)
}

func (c *ConfigParam) GetStatementTimeout() time.Duration {
	return mustDuration(c.Storage.StatementTimeout)
}

func (c *ConfigParam) GetAuthClockSkew() time.Duration {
	return mustDuration(c.Auth.ClockSkew)
}

// Gateway returns the gateway with the given id.
func (c *ConfigParam) Gateway(id string) (*GatewayConfig, bool) {
	for i := range c.Gateways {
		if c.Gateways[i].ID == id {
			return &c.Gateways[i], true
		}
	}
	return nil, false
}

// mustDuration is only used on values that passed validation.
func mustDuration(s string) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("invalid duration %q: %v", s, err))
	}
	return d
}

// ParseDuration accepts Go duration syntax and "<number><unit>" where unit can be:
// - y: years
// - d: days
// - h: hours
// - m: minutes
func ParseDuration(input string) (time.Duration, error) {
	if d, err := time.ParseDuration(input); err == nil {
		return d, nil
	}
	if len(input) < 2 {
		return 0, fmt.Errorf("invalid input format")
	}

	unit := input[len(input)-1:]
	valueStr := input[:len(input)-1]
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", err)
	}

	var duration time.Duration
	switch unit {
	case "d":
		duration = time.Duration(value) * 24 * time.Hour
	case "h":
		duration = time.Duration(value) * time.Hour
	case "m":
		duration = time.Duration(value) * time.Minute
	case "y":
		// 1 year = 365 days
		duration = time.Duration(value) * 365 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}
	return duration, nil
}
