package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func v() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("region", regionValidator)
	})
	return validate
}

func regionValidator(fl validator.FieldLevel) bool {
	return IsCountryCode(fl.Field().String())
}

// IsCountryCode reports whether s is an upper-case ISO 3166-1 alpha-2 country code.
func IsCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	r, err := language.ParseRegion(s)
	if err != nil {
		return false
	}
	return r.IsCountry() && r.String() == s
}

// ValidateConfig checks that all required values are present and well formed.
func ValidateConfig(cfg *ConfigParam) error {
	if err := validateConfigFormatVersion(cfg); err != nil {
		return err
	}
	if err := validateServerConfig(cfg); err != nil {
		return err
	}
	if err := validateReleaseConfig(cfg); err != nil {
		return err
	}
	if err := validateStorageConfig(cfg); err != nil {
		return err
	}
	if err := validateLegacyConfig(cfg); err != nil {
		return err
	}
	if err := validateDSOSConfig(cfg); err != nil {
		return err
	}
	if err := validateFederationConfig(cfg); err != nil {
		return err
	}
	return nil
}

func validateConfigFormatVersion(cfg *ConfigParam) error {
	if cfg.FormatVersion != Version {
		return fmt.Errorf("unsupported config file format version: %s", cfg.FormatVersion)
	}
	return nil
}

func validateServerConfig(cfg *ConfigParam) error {
	if cfg.ServerPort == "" {
		return fmt.Errorf("server_port is required")
	}
	if err := positiveDuration("request_timeout", cfg.RequestTimeout); err != nil {
		return err
	}
	if err := positiveDuration("auth.clock_skew", cfg.Auth.ClockSkew); err != nil {
		return err
	}
	if cfg.MaxRequestBodySize < 0 {
		return fmt.Errorf("max_request_body_size must not be negative")
	}
	return nil
}

func validateReleaseConfig(cfg *ConfigParam) error {
	if cfg.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	if !IsCountryCode(cfg.Origin) {
		return fmt.Errorf("origin %q is not a country code", cfg.Origin)
	}
	if err := positiveDuration("release_bucket", cfg.ReleaseBucket); err != nil {
		return err
	}
	if bucket, _ := ParseDuration(cfg.ReleaseBucket); (24*time.Hour)%bucket != 0 {
		return fmt.Errorf("release_bucket must divide a day")
	}
	if d, err := ParseDuration(cfg.TimeSkew); err != nil || d < 0 {
		return fmt.Errorf("invalid time_skew: %q", cfg.TimeSkew)
	}
	if err := positiveDuration("retention_period", cfg.RetentionPeriod); err != nil {
		return err
	}
	return nil
}

func validateStorageConfig(cfg *ConfigParam) error {
	if err := positiveDuration("storage.statement_timeout", cfg.Storage.StatementTimeout); err != nil {
		return err
	}
	switch cfg.Storage.Backend {
	case "memory":
		return nil
	case "postgresql":
	default:
		return fmt.Errorf("unknown storage.backend: %s", cfg.Storage.Backend)
	}
	db := cfg.Storage.DB
	if db.Host == "" {
		return fmt.Errorf("storage.db.host is required")
	}
	if db.Port <= 0 {
		return fmt.Errorf("storage.db.port must be positive")
	}
	if db.DBName == "" {
		return fmt.Errorf("storage.db.dbname is required")
	}
	if db.User == "" {
		return fmt.Errorf("storage.db.user is required")
	}
	return nil
}

func validateLegacyConfig(cfg *ConfigParam) error {
	for name, c := range map[string]string{
		"legacy.ios_os_versions":      cfg.Legacy.IOSOSVersions,
		"legacy.android_app_versions": cfg.Legacy.AndroidAppVersions,
	} {
		if c == "" {
			continue
		}
		if _, err := semver.NewConstraint(c); err != nil {
			return fmt.Errorf("invalid %s: %v", name, err)
		}
	}
	return nil
}

func validateDSOSConfig(cfg *ConfigParam) error {
	a := cfg.DSOS.Acceptance
	for name, r := range map[string]*DSOSRange{
		"symptomatic_onset_known":   a.SymptomaticOnsetKnown,
		"symptomatic_onset_range":   a.SymptomaticOnsetRange,
		"symptomatic_unknown_onset": a.SymptomaticUnknownOnset,
		"asymptomatic":              a.Asymptomatic,
		"unknown_symptom_status":    a.UnknownSymptomStatus,
	} {
		if r != nil && r.Min > r.Max {
			return fmt.Errorf("dsos.acceptance.%s: min greater than max", name)
		}
	}
	for _, rt := range a.ReportTypes {
		if _, err := models.ParseReportType(rt); err != nil {
			return fmt.Errorf("dsos.acceptance.report_types: %v", err)
		}
	}
	if cfg.DSOS.Relevance.Enabled && cfg.DSOS.Relevance.MaxDaysBefore < 0 {
		return fmt.Errorf("dsos.relevance.max_days_before must not be negative")
	}
	return nil
}

func validateFederationConfig(cfg *ConfigParam) error {
	if cfg.MaxUploadChunk <= 0 {
		return fmt.Errorf("max_upload_chunk must be positive")
	}
	if cfg.MaxPagesPerDay <= 0 {
		return fmt.Errorf("max_pages_per_day must be positive")
	}
	for name, spec := range map[string]string{
		"sync_schedule":    cfg.SyncSchedule,
		"cleanup_schedule": cfg.CleanupSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s: %v", name, err)
		}
	}
	seen := make(map[string]bool, len(cfg.Gateways))
	for i := range cfg.Gateways {
		g := &cfg.Gateways[i]
		if err := v().Struct(g); err != nil {
			return fmt.Errorf("gateways[%d]: %v", i, err)
		}
		if seen[g.ID] {
			return fmt.Errorf("duplicate gateway id: %s", g.ID)
		}
		seen[g.ID] = true
		if _, err := g.GetTimeout(); err != nil {
			return fmt.Errorf("gateway %s: invalid timeout: %v", g.ID, err)
		}
	}
	return nil
}

func positiveDuration(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	d, err := ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %v", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}
