package ingest

import (
	"testing"

	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeDSOS(t *testing.T) {
	tests := []struct {
		in   int32
		want DSOS
	}{
		{0, DSOS{Category: DSOSSymptomaticOnsetKnown, Days: 0}},
		{-14, DSOS{Category: DSOSSymptomaticOnsetKnown, Days: -14}},
		{14, DSOS{Category: DSOSSymptomaticOnsetKnown, Days: 14}},
		{15, DSOS{Category: DSOSInvalid}},
		{-15, DSOS{Category: DSOSInvalid}},
		{86, DSOS{Category: DSOSSymptomaticOnsetRange, Days: -14, RangeDays: 1}},
		{100, DSOS{Category: DSOSSymptomaticOnsetRange, Days: 0, RangeDays: 1}},
		{115, DSOS{Category: DSOSInvalid}},
		{186, DSOS{Category: DSOSSymptomaticOnsetRange, Days: -14, RangeDays: 2}},
		{503, DSOS{Category: DSOSSymptomaticOnsetRange, Days: 3, RangeDays: 5}},
		{1914, DSOS{Category: DSOSSymptomaticOnsetRange, Days: 14, RangeDays: 19}},
		{1986, DSOS{Category: DSOSSymptomaticUnknownOnset, Days: -14}},
		{2000, DSOS{Category: DSOSSymptomaticUnknownOnset, Days: 0}},
		{3005, DSOS{Category: DSOSAsymptomatic, Days: 5}},
		{3986, DSOS{Category: DSOSUnknownSymptomStatus, Days: -14}},
		{4014, DSOS{Category: DSOSUnknownSymptomStatus, Days: 14}},
		{4015, DSOS{Category: DSOSInvalid}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDSOS(tt.in), "value %d", tt.in)
	}
}

func TestDSOSPolicies(t *testing.T) {
	dsos := func(v int32) *int32 { return &v }
	acceptance := DSOSAcceptancePolicy{
		Ranges: map[DSOSCategory]DSOSRange{
			DSOSSymptomaticOnsetKnown: {Min: -2, Max: 14},
			DSOSAsymptomatic:          {Min: 0, Max: 14},
		},
		ReportTypes: []models.ReportType{models.ReportTypeConfirmedTest},
	}
	relevance := DSOSRelevancePolicy{MaxDaysBefore: 4}

	tests := []struct {
		name     string
		key      models.Key
		accepted bool
		relevant bool
	}{
		{"onset known inside", models.Key{DaysSinceOnset: dsos(3), ReportType: models.ReportTypeConfirmedTest}, true, true},
		{"onset known too early", models.Key{DaysSinceOnset: dsos(-3), ReportType: models.ReportTypeConfirmedTest}, false, true},
		{"onset known irrelevant", models.Key{DaysSinceOnset: dsos(-5), ReportType: models.ReportTypeConfirmedTest}, false, false},
		{"report type not allowed", models.Key{DaysSinceOnset: dsos(3), ReportType: models.ReportTypeSelfReport}, false, true},
		{"category without range", models.Key{DaysSinceOnset: dsos(2001), ReportType: models.ReportTypeConfirmedTest}, true, true},
		{"asymptomatic before test", models.Key{DaysSinceOnset: dsos(2999), ReportType: models.ReportTypeConfirmedTest}, false, true},
		{"missing value is unknown status", models.Key{ReportType: models.ReportTypeConfirmedTest}, true, true},
		{"undecodable", models.Key{DaysSinceOnset: dsos(1950), ReportType: models.ReportTypeConfirmedTest}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.accepted, acceptance.accepts(tt.key))
			assert.Equal(t, tt.relevant, relevance.relevant(tt.key))
		})
	}
}

func TestOnsetKnownDSOS(t *testing.T) {
	assert.Equal(t, int32(2), OnsetKnownDSOS(10, 8))
	assert.Equal(t, int32(-1), OnsetKnownDSOS(7, 8))
	assert.Equal(t, int32(14), OnsetKnownDSOS(40, 8))
	assert.Equal(t, int32(-14), OnsetKnownDSOS(0, 30))
}
