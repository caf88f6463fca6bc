package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserAgent(t *testing.T) {
	ua := ParseUserAgent("ch.admin.bag.dp3t;1.0.5;200724.1105.215;iOS;13.6")
	assert.Equal(t, "ch.admin.bag.dp3t", ua.App)
	assert.Equal(t, OSIOS, ua.OS)
	require.NotNil(t, ua.OSSemver())
	assert.Equal(t, "13.6.0", ua.OSSemver().String())
	require.NotNil(t, ua.AppSemver())
	assert.Equal(t, "1.0.5", ua.AppSemver().String())

	ua = ParseUserAgent("ch.admin.bag.dp3t.dev; 1.0.4 ;1;Android;29")
	assert.Equal(t, OSAndroid, ua.OS)
	assert.Equal(t, "1.0.4", ua.AppVersion)
	assert.Equal(t, uint64(29), ua.OSSemver().Major())

	ua = ParseUserAgent("ch.admin.bag.dp3t;1.0;iOS")
	assert.Equal(t, UserAgent{}, ua)
	assert.Nil(t, ua.AppSemver())

	assert.Nil(t, ParseUserAgent("a;not-a-version;b;ios;x").AppSemver())
	assert.Equal(t, "13.5.1", ParseUserAgent("a;1;b;ios;iOS13.5.1").OSSemver().String())
}
