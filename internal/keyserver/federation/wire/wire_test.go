package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestBatchEncoding(t *testing.T) {
	batch := &DiagnosisKeyBatch{Keys: []DiagnosisKey{
		{
			KeyData:                    []byte("0123456789abcdef"),
			RollingStartIntervalNumber: 2660400,
			RollingPeriod:              144,
			TransmissionRiskLevel:      3,
			VisitedCountries:           []string{"DE", "AT"},
			Origin:                     "CH",
			ReportType:                 1,
			DaysSinceOnsetOfSymptoms:   -3,
		},
		{
			KeyData:                    []byte("fedcba9876543210"),
			RollingStartIntervalNumber: 2660544,
			RollingPeriod:              100,
			Origin:                     "DE",
			DaysSinceOnsetOfSymptoms:   3014,
		},
	}}

	got, err := Unmarshal(batch.Marshal())
	require.NoError(t, err)
	assert.Equal(t, batch, got)
}

func TestZigZagDaysSinceOnset(t *testing.T) {
	k := DiagnosisKey{DaysSinceOnsetOfSymptoms: -1}
	// tag 8 varint, zigzag(-1) = 1
	assert.Equal(t, []byte{8 << 3, 1}, k.Marshal())
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	var key []byte
	key = protowire.AppendTag(key, 1, protowire.BytesType)
	key = protowire.AppendBytes(key, []byte("0123456789abcdef"))
	key = protowire.AppendTag(key, 42, protowire.VarintType)
	key = protowire.AppendVarint(key, 7)

	var data []byte
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "ignored")
	data = protowire.AppendTag(data, 1, protowire.BytesType)
	data = protowire.AppendBytes(data, key)

	b, err := Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, b.Keys, 1)
	assert.Equal(t, []byte("0123456789abcdef"), b.Keys[0].KeyData)
}

func TestUnmarshalMalformed(t *testing.T) {
	_, err := Unmarshal([]byte{0x0a, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrMalformed)

	b, err := Unmarshal(nil)
	require.NoError(t, err)
	assert.Empty(t, b.Keys)
}
