// Package wire encodes the diagnosis key batches exchanged with federation gateways.
//
//	message DiagnosisKeyBatch {
//	  repeated DiagnosisKey keys = 1;
//	}
//	message DiagnosisKey {
//	  bytes keyData = 1;
//	  uint32 rollingStartIntervalNumber = 2;
//	  uint32 rollingPeriod = 3;
//	  int32 transmissionRiskLevel = 4;
//	  repeated string visitedCountries = 5;
//	  string origin = 6;
//	  ReportType reportType = 7;
//	  sint32 days_since_onset_of_symptoms = 8;
//	}
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const batchKeysField protowire.Number = 1

const (
	fieldKeyData protowire.Number = iota + 1
	fieldRollingStartIntervalNumber
	fieldRollingPeriod
	fieldTransmissionRiskLevel
	fieldVisitedCountries
	fieldOrigin
	fieldReportType
	fieldDaysSinceOnset
)

var ErrMalformed = errors.New("malformed diagnosis key batch")

type DiagnosisKey struct {
	KeyData                    []byte
	RollingStartIntervalNumber uint32
	RollingPeriod              uint32
	TransmissionRiskLevel      int32
	VisitedCountries           []string
	Origin                     string
	ReportType                 int32
	DaysSinceOnsetOfSymptoms   int32
}

type DiagnosisKeyBatch struct {
	Keys []DiagnosisKey
}

// Marshal encodes b. Zero scalar fields are omitted as proto3 does.
func (b *DiagnosisKeyBatch) Marshal() []byte {
	var out []byte
	for i := range b.Keys {
		out = protowire.AppendTag(out, batchKeysField, protowire.BytesType)
		out = protowire.AppendBytes(out, b.Keys[i].Marshal())
	}
	return out
}

func (k *DiagnosisKey) Marshal() []byte {
	var out []byte
	if len(k.KeyData) > 0 {
		out = protowire.AppendTag(out, fieldKeyData, protowire.BytesType)
		out = protowire.AppendBytes(out, k.KeyData)
	}
	if k.RollingStartIntervalNumber != 0 {
		out = protowire.AppendTag(out, fieldRollingStartIntervalNumber, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(k.RollingStartIntervalNumber))
	}
	if k.RollingPeriod != 0 {
		out = protowire.AppendTag(out, fieldRollingPeriod, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(k.RollingPeriod))
	}
	if k.TransmissionRiskLevel != 0 {
		out = protowire.AppendTag(out, fieldTransmissionRiskLevel, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(int64(k.TransmissionRiskLevel)))
	}
	for _, c := range k.VisitedCountries {
		out = protowire.AppendTag(out, fieldVisitedCountries, protowire.BytesType)
		out = protowire.AppendString(out, c)
	}
	if k.Origin != "" {
		out = protowire.AppendTag(out, fieldOrigin, protowire.BytesType)
		out = protowire.AppendString(out, k.Origin)
	}
	if k.ReportType != 0 {
		out = protowire.AppendTag(out, fieldReportType, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(int64(k.ReportType)))
	}
	if k.DaysSinceOnsetOfSymptoms != 0 {
		out = protowire.AppendTag(out, fieldDaysSinceOnset, protowire.VarintType)
		out = protowire.AppendVarint(out, protowire.EncodeZigZag(int64(k.DaysSinceOnsetOfSymptoms)))
	}
	return out
}

// Unmarshal decodes a batch. Unknown fields are skipped.
func Unmarshal(data []byte) (*DiagnosisKeyBatch, error) {
	b := &DiagnosisKeyBatch{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
		if num == batchKeysField && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			k, err := unmarshalKey(v)
			if err != nil {
				return nil, err
			}
			b.Keys = append(b.Keys, k)
			data = data[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return b, nil
}

func unmarshalKey(data []byte) (DiagnosisKey, error) {
	var k DiagnosisKey
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return k, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldKeyData || num == fieldVisitedCountries || num == fieldOrigin):
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return k, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			switch num {
			case fieldKeyData:
				k.KeyData = append([]byte(nil), v...)
			case fieldVisitedCountries:
				k.VisitedCountries = append(k.VisitedCountries, string(v))
			case fieldOrigin:
				k.Origin = string(v)
			}
			data = data[n:]
		case typ == protowire.VarintType && num >= fieldRollingStartIntervalNumber && num <= fieldDaysSinceOnset:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return k, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			switch num {
			case fieldRollingStartIntervalNumber:
				k.RollingStartIntervalNumber = uint32(v)
			case fieldRollingPeriod:
				k.RollingPeriod = uint32(v)
			case fieldTransmissionRiskLevel:
				k.TransmissionRiskLevel = int32(v)
			case fieldReportType:
				k.ReportType = int32(v)
			case fieldDaysSinceOnset:
				k.DaysSinceOnsetOfSymptoms = int32(protowire.DecodeZigZag(v))
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return k, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return k, nil
}
