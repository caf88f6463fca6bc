package ingest

import (
	"github.com/Masterminds/semver/v3"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
)

// IOSLegacyRollingPeriod widens partial-day keys of iOS clients matching c to a full day.
func IOSLegacyRollingPeriod(c *semver.Constraints) Modifier {
	return func(k *models.Key, ic *InsertContext) bool {
		if ic.Federation || ic.UserAgent.OS != OSIOS || k.RollingPeriod >= models.MaxRollingPeriod {
			return false
		}
		v := ic.UserAgent.OSSemver()
		if v == nil || !c.Check(v) {
			return false
		}
		k.RollingPeriod = models.MaxRollingPeriod
		return true
	}
}

// AndroidLegacyRollingPeriod gives keys with rolling period 0 from Android apps
// matching c a full day.
func AndroidLegacyRollingPeriod(c *semver.Constraints) Modifier {
	return func(k *models.Key, ic *InsertContext) bool {
		if ic.Federation || ic.UserAgent.OS != OSAndroid || k.RollingPeriod != 0 {
			return false
		}
		v := ic.UserAgent.AppSemver()
		if v == nil || !c.Check(v) {
			return false
		}
		k.RollingPeriod = models.MaxRollingPeriod
		return true
	}
}

// AssignReportMetadata gives device keys a confirmed-test report type and a
// days-since-onset value derived from the onset claim. Gateway keys keep theirs.
func AssignReportMetadata(k *models.Key, ic *InsertContext) bool {
	if ic.Federation {
		return false
	}
	k.ReportType = models.ReportTypeConfirmedTest
	var dsos int32 = 4000
	if ic.Principal != nil && ic.Principal.Onset != nil {
		keyDay := k.Start().AtStartOfDay().Millis() / dayMillis
		onsetDay := ic.Principal.Onset.AtStartOfDay().Millis() / dayMillis
		dsos = OnsetKnownDSOS(keyDay, onsetDay)
	}
	k.DaysSinceOnset = &dsos
	return true
}
