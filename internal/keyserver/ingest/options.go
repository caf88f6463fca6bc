package ingest

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/exposurekeys/keyserver/internal/keyserver/config"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
)

// OptionsFromConfig derives the pipeline options from the server configuration.
func OptionsFromConfig(cfg *config.ConfigParam) (Options, error) {
	opts := Options{Retention: cfg.GetRetentionPeriod()}

	var err error
	if s := cfg.Legacy.IOSOSVersions; s != "" {
		if opts.LegacyIOSOSVersions, err = semver.NewConstraint(s); err != nil {
			return opts, fmt.Errorf("legacy.ios_os_versions: %w", err)
		}
	}
	if s := cfg.Legacy.AndroidAppVersions; s != "" {
		if opts.LegacyAndroidAppVersions, err = semver.NewConstraint(s); err != nil {
			return opts, fmt.Errorf("legacy.android_app_versions: %w", err)
		}
	}

	if acc := cfg.DSOS.Acceptance; acc.Enabled {
		policy := DSOSAcceptancePolicy{Ranges: map[DSOSCategory]DSOSRange{}}
		for cat, r := range map[DSOSCategory]*config.DSOSRange{
			DSOSSymptomaticOnsetKnown:   acc.SymptomaticOnsetKnown,
			DSOSSymptomaticOnsetRange:   acc.SymptomaticOnsetRange,
			DSOSSymptomaticUnknownOnset: acc.SymptomaticUnknownOnset,
			DSOSAsymptomatic:            acc.Asymptomatic,
			DSOSUnknownSymptomStatus:    acc.UnknownSymptomStatus,
		} {
			if r != nil {
				policy.Ranges[cat] = DSOSRange{Min: r.Min, Max: r.Max}
			}
		}
		for _, name := range acc.ReportTypes {
			rt, err := models.ParseReportType(name)
			if err != nil {
				return opts, fmt.Errorf("dsos.acceptance.report_types: %w", err)
			}
			policy.ReportTypes = append(policy.ReportTypes, rt)
		}
		opts.DSOSAcceptance = &policy
	}
	if rel := cfg.DSOS.Relevance; rel.Enabled {
		opts.DSOSRelevance = &DSOSRelevancePolicy{MaxDaysBefore: rel.MaxDaysBefore}
	}
	return opts, nil
}
