package federation

import (
	"bytes"
	"sort"

	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/federation/wire"
)

func fromWire(k wire.DiagnosisKey) models.Key {
	dsos := k.DaysSinceOnsetOfSymptoms
	return models.Key{
		KeyData:               k.KeyData,
		RollingStartNumber:    int64(k.RollingStartIntervalNumber),
		RollingPeriod:         int32(k.RollingPeriod),
		TransmissionRiskLevel: k.TransmissionRiskLevel,
		ReportType:            models.ReportType(k.ReportType),
		DaysSinceOnset:        &dsos,
		Origin:                k.Origin,
	}
}

func toWire(k models.Key, origin string, visited []string) wire.DiagnosisKey {
	w := wire.DiagnosisKey{
		KeyData:                    k.KeyData,
		RollingStartIntervalNumber: uint32(k.RollingStartNumber),
		RollingPeriod:              uint32(k.RollingPeriod),
		TransmissionRiskLevel:      k.TransmissionRiskLevel,
		VisitedCountries:           visited,
		Origin:                     origin,
		ReportType:                 int32(k.ReportType),
	}
	if k.DaysSinceOnset != nil {
		w.DaysSinceOnsetOfSymptoms = *k.DaysSinceOnset
	}
	return w
}

// signingBytes is the canonical form of a batch for signatures: the encoding of each
// key, sorted bytewise and concatenated. It does not depend on key order.
func signingBytes(keys []wire.DiagnosisKey) []byte {
	encoded := make([][]byte, len(keys))
	for i := range keys {
		encoded[i] = keys[i].Marshal()
	}
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})
	return bytes.Join(encoded, nil)
}
