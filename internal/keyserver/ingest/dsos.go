package ingest

import (
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
)

// DSOSCategory is the symptom status encoded in a federation days-since-onset value.
type DSOSCategory int

const (
	DSOSInvalid DSOSCategory = iota
	// days since a known symptom onset, -14..14
	DSOSSymptomaticOnsetKnown
	// onset within a range of n days, n*100 + days since the end of the range
	DSOSSymptomaticOnsetRange
	// symptomatic with unknown onset, 2000 + days since submission
	DSOSSymptomaticUnknownOnset
	// asymptomatic, 3000 + days since the test
	DSOSAsymptomatic
	// unknown symptom status, 4000 + days since submission
	DSOSUnknownSymptomStatus
)

var dsosCategoryNames = map[DSOSCategory]string{
	DSOSInvalid:                 "invalid",
	DSOSSymptomaticOnsetKnown:   "symptomatic_onset_known",
	DSOSSymptomaticOnsetRange:   "symptomatic_onset_range",
	DSOSSymptomaticUnknownOnset: "symptomatic_unknown_onset",
	DSOSAsymptomatic:            "asymptomatic",
	DSOSUnknownSymptomStatus:    "unknown_symptom_status",
}

func (c DSOSCategory) String() string {
	return dsosCategoryNames[c]
}

const dsosMaxOffset = 14

// DSOS is a normalized days-since-onset value: the category and the signed day offset
// relative to the category's reference point.
type DSOS struct {
	Category DSOSCategory
	Days     int
	// RangeDays is the length of the onset range for DSOSSymptomaticOnsetRange.
	RangeDays int
}

// NormalizeDSOS decodes a federation days-since-onset value.
func NormalizeDSOS(v int32) DSOS {
	n := int(v)
	within := func(base int) (int, bool) {
		d := n - base
		return d, d >= -dsosMaxOffset && d <= dsosMaxOffset
	}
	switch {
	case n >= -dsosMaxOffset && n <= dsosMaxOffset:
		return DSOS{Category: DSOSSymptomaticOnsetKnown, Days: n}
	case n >= 100-dsosMaxOffset && n <= 1900+dsosMaxOffset:
		rng := (n + 50) / 100
		if d, ok := within(rng * 100); ok {
			return DSOS{Category: DSOSSymptomaticOnsetRange, Days: d, RangeDays: rng}
		}
	case n >= 2000-dsosMaxOffset && n <= 2000+dsosMaxOffset:
		d, _ := within(2000)
		return DSOS{Category: DSOSSymptomaticUnknownOnset, Days: d}
	case n >= 3000-dsosMaxOffset && n <= 3000+dsosMaxOffset:
		d, _ := within(3000)
		return DSOS{Category: DSOSAsymptomatic, Days: d}
	case n >= 4000-dsosMaxOffset && n <= 4000+dsosMaxOffset:
		d, _ := within(4000)
		return DSOS{Category: DSOSUnknownSymptomStatus, Days: d}
	}
	return DSOS{Category: DSOSInvalid}
}

// keyDSOS returns the normalized value of k. Keys without a value count as unknown
// symptom status on the day of submission.
func keyDSOS(k models.Key) DSOS {
	if k.DaysSinceOnset == nil {
		return DSOS{Category: DSOSUnknownSymptomStatus}
	}
	return NormalizeDSOS(*k.DaysSinceOnset)
}

// DSOSRange bounds normalized days, inclusive.
type DSOSRange struct {
	Min int
	Max int
}

func (r DSOSRange) Contains(days int) bool {
	return days >= r.Min && days <= r.Max
}

// DSOSAcceptancePolicy keeps keys whose normalized days fall inside the range of their
// category and whose report type is allowed. A category without a range, or an empty
// report type list, accepts everything.
type DSOSAcceptancePolicy struct {
	Ranges      map[DSOSCategory]DSOSRange
	ReportTypes []models.ReportType
}

func (p DSOSAcceptancePolicy) accepts(k models.Key) bool {
	d := keyDSOS(k)
	if d.Category == DSOSInvalid {
		return false
	}
	if r, ok := p.Ranges[d.Category]; ok && !r.Contains(d.Days) {
		return false
	}
	if len(p.ReportTypes) == 0 {
		return true
	}
	for _, rt := range p.ReportTypes {
		if rt == k.ReportType {
			return true
		}
	}
	return false
}

// DSOSRelevancePolicy drops keys dated more than MaxDaysBefore days before the reference
// point of their category.
type DSOSRelevancePolicy struct {
	MaxDaysBefore int
}

func (p DSOSRelevancePolicy) relevant(k models.Key) bool {
	d := keyDSOS(k)
	return d.Category != DSOSInvalid && d.Days >= -p.MaxDaysBefore
}

// OnsetKnownDSOS encodes the days between onset and the key date for an uploaded key,
// clamped to the encodable range.
func OnsetKnownDSOS(keyDay, onsetDay int64) int32 {
	d := keyDay - onsetDay
	if d < -dsosMaxOffset {
		d = -dsosMaxOffset
	}
	if d > dsosMaxOffset {
		d = dsosMaxOffset
	}
	return int32(d)
}
