package offgrid

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offgrid/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "offgrid.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "server:\n  origin: https://app.test/\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://app.test", cfg.Server.Origin)
	assert.Equal(t, "https", cfg.Origin().Scheme)
	assert.Equal(t, "/__offgrid", cfg.Server.Control)
	assert.Equal(t, "v1", cfg.Generation)
	assert.Equal(t, store.LevelDBBackend, cfg.Storage.Records)
	assert.Equal(t, int64(256<<20), cfg.maxBodyBytes)
	assert.Equal(t, 60, cfg.Limits.Blobs)
	assert.Equal(t, 100, cfg.Limits.Records)
	assert.Equal(t, "/api/", cfg.Policy.APISegment)
	assert.Equal(t, []string{"mp4", "webm", "ogg", "m3u8"}, cfg.Policy.MediaExtensions)
	assert.Equal(t, []string{"/", "/index.html"}, cfg.Policy.OfflineFallbacks)
	assert.Equal(t, 30*time.Second, cfg.networkTimeout)
	assert.Equal(t, 32, cfg.Background.Workers)
	assert.Zero(t, cfg.statsEvery)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
server:
  port: 9000
  origin: http://localhost:3000
  control: _ctl/
generation: "2024-06"
storage:
  records: sqlite
  maxBody: 10mb
limits:
  blobs: 5
  records: 7
policy:
  mediaExtensions: [".MOV", mkv]
network:
  timeout: 2s
logging:
  level: debug
  format: console
  statsEvery: 1m
`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/_ctl", cfg.Server.Control)
	assert.Equal(t, "2024-06", cfg.Generation)
	assert.Equal(t, store.SQLiteBackend, cfg.Storage.Records)
	assert.Equal(t, "./data/records.db", cfg.Storage.SQLitePath)
	assert.Equal(t, int64(10<<20), cfg.maxBodyBytes)
	assert.Equal(t, 5, cfg.Limits.Blobs)
	assert.Equal(t, 7, cfg.Limits.Records)
	assert.Equal(t, []string{"mov", "mkv"}, cfg.Policy.MediaExtensions)
	assert.Equal(t, 2*time.Second, cfg.networkTimeout)
	assert.Equal(t, time.Minute, cfg.statsEvery)
}

func TestLoadConfigErrors(t *testing.T) {
	cases := map[string]string{
		"missing origin":   "generation: v1\n",
		"relative origin":  "server:\n  origin: /app\n",
		"bad max body":     "server:\n  origin: https://a.test\nstorage:\n  maxBody: lots\n",
		"bad timeout":      "server:\n  origin: https://a.test\nnetwork:\n  timeout: soon\n",
		"negative timeout": "server:\n  origin: https://a.test\nbackground:\n  timeout: -1s\n",
		"not yaml":         "server: [\n",
		"root control":     "server:\n  origin: https://a.test\n  control: /\n",
		"slashes control":  "server:\n  origin: https://a.test\n  control: ///\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBytesize(t *testing.T) {
	for in, want := range map[string]int64{
		"512":   512,
		"1kb":   1 << 10,
		"1.5MB": 3 << 19,
		"2gb":   2 << 30,
		" 64b ": 64,
	} {
		got, err := parseBytes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "mb", "-1kb", "12xb"} {
		_, err := parseBytes(in)
		assert.Error(t, err, in)
	}

	assert.Equal(t, "512b", formatBytes(512))
	assert.Equal(t, "1.5kb", formatBytes(1536))
	assert.Equal(t, "2mb", formatBytes(2<<20))
}
