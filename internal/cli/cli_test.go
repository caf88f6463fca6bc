package cli

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/exposurekeys/keyserver/internal/common/keycrypt"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealKeyFile(t *testing.T) {
	dir := t.TempDir()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	keyPEM, err := signing.EncodePrivateKey(priv)
	require.NoError(t, err)
	in := filepath.Join(dir, "export.pem")
	out := filepath.Join(dir, "export.sealed.pem")
	require.NoError(t, os.WriteFile(in, keyPEM, 0o600))

	require.NoError(t, sealKeyFile(in, out, "correct horse"))

	sealed, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(sealed), keycrypt.PEMType)
	opened, err := keycrypt.OpenPEM(sealed, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, keyPEM, opened)

	s, err := signing.LoadSigner(out, "correct horse", "228")
	require.NoError(t, err)
	assert.Equal(t, priv.Public(), s.Public())
}

func TestSealKeyFileRejectsNonKeys(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(in, []byte("not a key"), 0o600))
	assert.Error(t, sealKeyFile(in, filepath.Join(dir, "out.pem"), "pw"))
	_, err := os.Stat(filepath.Join(dir, "out.pem"))
	assert.True(t, os.IsNotExist(err))
}

func TestPrintSyncLog(t *testing.T) {
	date := time.Date(2020, 8, 10, 0, 0, 0, 0, time.UTC)
	started := date.Add(12 * time.Hour)

	download := &models.SyncLogEntry{
		ID: 1, Gateway: "efgs", Action: models.SyncActionDownload, BatchTag: "2020-08-10-1",
		TargetDate: &date, StartedAt: started, EndedAt: started.Add(time.Second), State: models.SyncStateDone,
	}
	require.NoError(t, download.SetDetails(models.SyncDetails{Keys: 120, NextBatchTag: "2020-08-10-2"}))
	upload := &models.SyncLogEntry{
		ID: 2, Gateway: "efgs", Action: models.SyncActionUpload, BatchTag: "2020-08-10-abc",
		StartedAt: started, EndedAt: started.Add(time.Second), State: models.SyncStateError,
	}
	require.NoError(t, upload.SetDetails(models.SyncDetails{Keys: 10, Accepted: 8, Failed: 2, Error: "2 keys rejected"}))

	var buf bytes.Buffer
	require.NoError(t, printSyncLog(&buf, []*models.SyncLogEntry{download, upload}))
	out := buf.String()
	assert.Contains(t, out, "2020-08-10-1")
	assert.Contains(t, out, "2020-08-10 ")
	assert.Contains(t, out, "10 (8 accepted, 2 failed)")
	assert.Contains(t, out, "2 keys rejected")

	buf.Reset()
	require.NoError(t, printSyncLog(&buf, nil))
	assert.Equal(t, "No sync log entries\n", buf.String())
}

func TestNeedsConfig(t *testing.T) {
	for _, c := range rootCmd.Commands() {
		switch c.Name() {
		case "version", "encrypt-key":
			assert.False(t, needsConfig(c), c.Name())
		default:
			assert.True(t, needsConfig(c), c.Name())
		}
	}
}
