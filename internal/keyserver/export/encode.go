package export

import (
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the exposure key export.
//
//	message TemporaryExposureKeyExport {
//	  fixed64 start_timestamp = 1;
//	  fixed64 end_timestamp = 2;
//	  string region = 3;
//	  int32 batch_num = 4;
//	  int32 batch_size = 5;
//	  repeated SignatureInfo signature_infos = 6;
//	  repeated TemporaryExposureKey keys = 7;
//	}
//	message SignatureInfo {
//	  string verification_key_version = 3;
//	  string verification_key_id = 4;
//	  string signature_algorithm = 5;
//	}
//	message TemporaryExposureKey {
//	  bytes key_data = 1;
//	  int32 transmission_risk_level = 2;
//	  int32 rolling_start_interval_number = 3;
//	  int32 rolling_period = 4;
//	  ReportType report_type = 5;
//	  sint32 days_since_onset_of_symptoms = 6;
//	}
const (
	fieldStartTimestamp protowire.Number = 1
	fieldEndTimestamp   protowire.Number = 2
	fieldRegion         protowire.Number = 3
	fieldBatchNum       protowire.Number = 4
	fieldBatchSize      protowire.Number = 5
	fieldSignatureInfos protowire.Number = 6
	fieldKeys           protowire.Number = 7

	fieldKeyVersion   protowire.Number = 3
	fieldKeyID        protowire.Number = 4
	fieldKeyAlgorithm protowire.Number = 5

	fieldKeyData        protowire.Number = 1
	fieldKeyRisk        protowire.Number = 2
	fieldKeyStart       protowire.Number = 3
	fieldKeyPeriod      protowire.Number = 4
	fieldKeyReportType  protowire.Number = 5
	fieldKeyDaysOfOnset protowire.Number = 6
)

// header is the export preamble for devices.
const header = "EK Export v1    "

type signatureInfo struct {
	keyVersion string
	keyID      string
	algorithm  string
}

// encodeExport serializes keys released in [start, end), seconds since the epoch.
func encodeExport(start, end uint64, region string, sig signatureInfo, keys []models.StoredKey) []byte {
	out := []byte(header)
	out = protowire.AppendTag(out, fieldStartTimestamp, protowire.Fixed64Type)
	out = protowire.AppendFixed64(out, start)
	out = protowire.AppendTag(out, fieldEndTimestamp, protowire.Fixed64Type)
	out = protowire.AppendFixed64(out, end)
	out = protowire.AppendTag(out, fieldRegion, protowire.BytesType)
	out = protowire.AppendString(out, region)
	out = protowire.AppendTag(out, fieldBatchNum, protowire.VarintType)
	out = protowire.AppendVarint(out, 1)
	out = protowire.AppendTag(out, fieldBatchSize, protowire.VarintType)
	out = protowire.AppendVarint(out, 1)

	var info []byte
	info = protowire.AppendTag(info, fieldKeyVersion, protowire.BytesType)
	info = protowire.AppendString(info, sig.keyVersion)
	info = protowire.AppendTag(info, fieldKeyID, protowire.BytesType)
	info = protowire.AppendString(info, sig.keyID)
	info = protowire.AppendTag(info, fieldKeyAlgorithm, protowire.BytesType)
	info = protowire.AppendString(info, sig.algorithm)
	out = protowire.AppendTag(out, fieldSignatureInfos, protowire.BytesType)
	out = protowire.AppendBytes(out, info)

	for i := range keys {
		out = protowire.AppendTag(out, fieldKeys, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeKey(&keys[i]))
	}
	return out
}

func encodeKey(k *models.StoredKey) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKeyData, protowire.BytesType)
	b = protowire.AppendBytes(b, k.KeyData)
	b = protowire.AppendTag(b, fieldKeyRisk, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(k.TransmissionRiskLevel)))
	b = protowire.AppendTag(b, fieldKeyStart, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(k.RollingStartNumber))
	b = protowire.AppendTag(b, fieldKeyPeriod, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(k.RollingPeriod))
	if k.ReportType != models.ReportTypeUnknown {
		b = protowire.AppendTag(b, fieldKeyReportType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(k.ReportType))
	}
	if k.DaysSinceOnset != nil {
		b = protowire.AppendTag(b, fieldKeyDaysOfOnset, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(*k.DaysSinceOnset)))
	}
	return b
}

// DecodeKeys reads the keys of an export produced by this package.
func DecodeKeys(export []byte) ([]models.Key, error) {
	if len(export) < len(header) || string(export[:len(header)]) != header {
		return nil, ErrInvalidExport.Msg("missing export header")
	}
	data := export[len(header):]
	var keys []models.Key
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, ErrInvalidExport.Err(protowire.ParseError(n))
		}
		data = data[n:]
		if num != fieldKeys || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, ErrInvalidExport.Err(protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, ErrInvalidExport.Err(protowire.ParseError(n))
		}
		k, err := decodeKey(v)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
		data = data[n:]
	}
	return keys, nil
}

func decodeKey(data []byte) (models.Key, error) {
	var k models.Key
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return k, ErrInvalidExport.Err(protowire.ParseError(n))
		}
		data = data[n:]
		if num == fieldKeyData && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return k, ErrInvalidExport.Err(protowire.ParseError(n))
			}
			k.KeyData = append([]byte(nil), v...)
			data = data[n:]
			continue
		}
		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return k, ErrInvalidExport.Err(protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return k, ErrInvalidExport.Err(protowire.ParseError(n))
		}
		switch num {
		case fieldKeyRisk:
			k.TransmissionRiskLevel = int32(v)
		case fieldKeyStart:
			k.RollingStartNumber = int64(v)
		case fieldKeyPeriod:
			k.RollingPeriod = int32(v)
		case fieldKeyReportType:
			k.ReportType = models.ReportType(v)
		case fieldKeyDaysOfOnset:
			d := int32(protowire.DecodeZigZag(v))
			k.DaysSinceOnset = &d
		}
		data = data[n:]
	}
	return k, nil
}
