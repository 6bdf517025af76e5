package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvAccessToken, "")
	t.Setenv(EnvServiceURL, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "en-US", cfg.Locale)
	assert.Equal(t, "localhost:5123", cfg.WakeWord.Addr())
	assert.Equal(t, time.Hour, cfg.Activity.ReportPeriod)
	assert.Equal(t, 5, cfg.WakeWord.ReleaseTries)
	assert.Equal(t, time.Second, cfg.WakeWord.ReleaseDelay)
	assert.Empty(t, cfg.Path)
}

func TestLoadFileOverridesAndEnv(t *testing.T) {
	t.Setenv(EnvAccessToken, "tok-123")
	t.Setenv(EnvServiceURL, "")

	path := filepath.Join(t.TempDir(), "avs.yaml")
	writeFile(t, path, `
locale: de-DE
device:
  volume: 70
wake_word:
  enabled: true
  port: 6000
  release_delay: 250ms
activity:
  report_period: 10m
log:
  level: verbose
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "de-DE", cfg.Locale)
	assert.Equal(t, int64(70), cfg.Device.Volume)
	assert.Equal(t, "avsclient", cfg.Device.ProductID, "unset keys keep defaults")
	assert.True(t, cfg.WakeWord.Enabled)
	assert.Equal(t, "localhost:6000", cfg.WakeWord.Addr())
	assert.Equal(t, 250*time.Millisecond, cfg.WakeWord.ReleaseDelay)
	assert.Equal(t, 5, cfg.WakeWord.ReleaseTries)
	assert.Equal(t, 10*time.Minute, cfg.Activity.ReportPeriod)
	assert.Equal(t, "verbose", cfg.Log.Level)
	assert.Equal(t, "tok-123", cfg.AccessToken)
	assert.Equal(t, path, cfg.Path)
}

func TestLoadEnvURL(t *testing.T) {
	t.Setenv(EnvServiceURL, "wss://example.test/avs")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.test/avs", cfg.Transport.URL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avs.yaml")
	writeFile(t, path, "locale: fr-FR\ndevice:\n  volume: 300\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedLocale))
	assert.Contains(t, err.Error(), "volume 300")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatchReportsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avs.yaml")
	writeFile(t, path, "locale: en-US\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, logger.New(logger.LevelOff, nil), func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register.
	time.Sleep(50 * time.Millisecond)
	writeFile(t, path, "locale: fr-FR\n") // invalid, skipped
	writeFile(t, path, "locale: en-GB\n")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Locale == "en-GB" {
				cancel()
				require.NoError(t, <-done)
				return
			}
		case <-deadline:
			t.Fatal("locale change never reported")
		}
	}
}
