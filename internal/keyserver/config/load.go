package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDBPassword    = "KEYSERVER_DB_PASSWORD"
	EnvKeyPassphrase = "KEYSERVER_KEY_PASSPHRASE"
	envGatewayPrefix = "KEYSERVER_GATEWAY_"
)

var envNameRegex = regexp.MustCompile(`[^A-Z0-9]+`)

// GatewayAPIKeyEnv returns the environment variable overriding the API key of gateway id.
func GatewayAPIKeyEnv(id string) string {
	return envGatewayPrefix + envNameRegex.ReplaceAllString(strings.ToUpper(id), "_") + "_API_KEY"
}

// LoadConfig loads the configuration file, applies a .env file next to the working
// directory and environment overrides, and validates the result.
func LoadConfig(filename string) error {
	if filename == "" {
		return fmt.Errorf("config filename is required")
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}
	_ = godotenv.Load() // no error if .env doesn't exist

	c, err := Parse(content, filepath.Ext(filename))
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

// Parse decodes content as YAML when ext is .yaml or .yml and as TOML otherwise, then
// applies defaults, environment overrides and validation.
func Parse(content []byte, ext string) (*ConfigParam, error) {
	c := &ConfigParam{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			return nil, fmt.Errorf("error parsing config file: %v", err)
		}
	default:
		md, err := toml.Decode(string(content), c)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %v", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config keys: %v", undecoded)
		}
	}

	applyDefaults(c)
	applyEnv(c)
	if err := ValidateConfig(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return c, nil
}

func applyDefaults(c *ConfigParam) {
	setDefault(&c.ServerPort, "8080")
	setDefault(&c.RequestTimeout, "30s")
	setDefault(&c.ReleaseBucket, "2h")
	setDefault(&c.TimeSkew, "2h")
	setDefault(&c.RetentionPeriod, "14d")
	setDefault(&c.SyncSchedule, "@every 10m")
	setDefault(&c.CleanupSchedule, "@daily")
	setDefault(&c.Log.Level, "info")
	setDefault(&c.Storage.Backend, "postgresql")
	setDefault(&c.Storage.StatementTimeout, "30s")
	setDefault(&c.Storage.DB.SSLMode, "disable")
	setDefault(&c.Auth.ClockSkew, "1m")
	setDefault(&c.Export.KeyVersion, "v1")
	if c.MaxRequestBodySize == 0 {
		c.MaxRequestBodySize = 1 << 20
	}
	if c.MaxUploadChunk == 0 {
		c.MaxUploadChunk = 5000
	}
	if c.MaxPagesPerDay == 0 {
		c.MaxPagesPerDay = 100
	}
	if c.Storage.DB.Port == 0 {
		c.Storage.DB.Port = 5432
	}
	if c.Storage.MaxOpenConns == 0 {
		c.Storage.MaxOpenConns = 50
	}
	if c.Export.CacheSize == 0 {
		c.Export.CacheSize = 128
	}
	c.Origin = strings.ToUpper(c.Origin)
	for i := range c.Gateways {
		for j, country := range c.Gateways[i].VisitedCountries {
			c.Gateways[i].VisitedCountries[j] = strings.ToUpper(country)
		}
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func applyEnv(c *ConfigParam) {
	if v := os.Getenv(EnvDBPassword); v != "" {
		c.Storage.DB.Password = v
	}
	c.KeyPassphrase = os.Getenv(EnvKeyPassphrase)
	for i := range c.Gateways {
		if v := os.Getenv(GatewayAPIKeyEnv(c.Gateways[i].ID)); v != "" {
			c.Gateways[i].APIKey = v
		}
	}
}
