package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Sources:    []string{"/etc/nginx"},
		ScratchDir: "/var/tmp/hrb",
		LogFile:    "/var/log/hrb/hrb.log",
		LockFile:   "/var/run/hrb.lock",
		Passphrase: "correct horse battery staple",
		Retention:  7,
		S3: S3Config{
			Bucket: "my-bucket",
			Region: "us-east-1",
		},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("no sources", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sources = nil
		assert.ErrorContains(t, cfg.Validate(), "at least one source")
	})

	t.Run("empty source entry", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sources = []string{"/etc/nginx", ""}
		assert.ErrorContains(t, cfg.Validate(), "sources[1]")
	})

	t.Run("missing scratch_dir", func(t *testing.T) {
		cfg := validConfig()
		cfg.ScratchDir = ""
		assert.ErrorContains(t, cfg.Validate(), "scratch_dir is required")
	})

	t.Run("missing log_file", func(t *testing.T) {
		cfg := validConfig()
		cfg.LogFile = ""
		assert.ErrorContains(t, cfg.Validate(), "log_file is required")
	})

	t.Run("missing lock_file", func(t *testing.T) {
		cfg := validConfig()
		cfg.LockFile = ""
		assert.ErrorContains(t, cfg.Validate(), "lock_file is required")
	})

	t.Run("no passphrase at all", func(t *testing.T) {
		cfg := validConfig()
		cfg.Passphrase = ""
		assert.ErrorContains(t, cfg.Validate(), "passphrase")
	})

	t.Run("both passphrase forms", func(t *testing.T) {
		cfg := validConfig()
		cfg.PassphraseFile = "/etc/hrb/passphrase"
		assert.ErrorContains(t, cfg.Validate(), "mutually exclusive")
	})

	t.Run("missing bucket", func(t *testing.T) {
		cfg := validConfig()
		cfg.S3.Bucket = ""
		assert.ErrorContains(t, cfg.Validate(), "s3.bucket is required")
	})

	t.Run("missing region", func(t *testing.T) {
		cfg := validConfig()
		cfg.S3.Region = ""
		assert.ErrorContains(t, cfg.Validate(), "s3.region is required")
	})

	t.Run("telegram enabled without token", func(t *testing.T) {
		cfg := validConfig()
		cfg.Telegram.Enabled = true
		cfg.Telegram.ChatID = "123"
		assert.ErrorContains(t, cfg.Validate(), "telegram.bot_token")
	})

	t.Run("telegram enabled without chat id", func(t *testing.T) {
		cfg := validConfig()
		cfg.Telegram.Enabled = true
		cfg.Telegram.BotToken = "token"
		assert.ErrorContains(t, cfg.Validate(), "telegram.chat_id")
	})
}

func TestLoadResolvesPassphraseFile(t *testing.T) {
	dir := t.TempDir()

	passPath := filepath.Join(dir, "passphrase")
	require.NoError(t, os.WriteFile(passPath, []byte("s3cret\n"), 0o600))

	configYAML := `
sources: [/etc/nginx]
scratch_dir: /var/tmp/hrb
log_file: /var/log/hrb/hrb.log
lock_file: /var/run/hrb.lock
passphrase_file: ` + passPath + `
retention: 3
s3:
  bucket: b
  region: us-east-1
`
	cfgPath := filepath.Join(dir, "hrb_config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(configYAML), 0o600))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Passphrase)
	assert.Equal(t, 3, cfg.Retention)
}

func TestLoadRejectsEmptyPassphraseFile(t *testing.T) {
	dir := t.TempDir()

	passPath := filepath.Join(dir, "passphrase")
	require.NoError(t, os.WriteFile(passPath, []byte("\n"), 0o600))

	configYAML := `
sources: [/etc/nginx]
scratch_dir: /var/tmp/hrb
log_file: /var/log/hrb/hrb.log
lock_file: /var/run/hrb.lock
passphrase_file: ` + passPath + `
s3:
  bucket: b
  region: us-east-1
`
	cfgPath := filepath.Join(dir, "hrb_config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(configYAML), 0o600))

	_, err := Load(cfgPath)
	assert.ErrorContains(t, err, "is empty")
}

func TestPruningEnabled(t *testing.T) {
	tests := []struct {
		name      string
		retention int
		want      bool
	}{
		{name: "positive keeps pruning on", retention: 7, want: true},
		{name: "zero disables pruning", retention: 0, want: false},
		{name: "negative disables pruning", retention: -1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Retention = tt.retention
			assert.Equal(t, tt.want, cfg.PruningEnabled())
		})
	}
}

func TestS3RetryAttempts(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 3, cfg.S3RetryAttempts())

	cfg.S3.Retry.MaxAttempts = 5
	assert.Equal(t, 5, cfg.S3RetryAttempts())
}
