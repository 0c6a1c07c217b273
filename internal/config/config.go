package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is loaded once at process start and passed by reference into each
// component. Components never read their parameters from the environment.
type Config struct {
	Hostname       string         `yaml:"hostname,omitempty"`
	Sources        []string       `yaml:"sources"`
	ScratchDir     string         `yaml:"scratch_dir"`
	LogFile        string         `yaml:"log_file"`
	LockFile       string         `yaml:"lock_file"`
	Passphrase     string         `yaml:"passphrase,omitempty"`
	PassphraseFile string         `yaml:"passphrase_file,omitempty"`
	Retention      int            `yaml:"retention"`
	S3             S3Config       `yaml:"s3"`
	Telegram       TelegramConfig `yaml:"telegram,omitempty"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Retry    struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"retry,omitempty"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token,omitempty"`
	ChatID   string `yaml:"chat_id,omitempty"`
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.PassphraseFile != "" {
		raw, err := os.ReadFile(cfg.PassphraseFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase file: %w", err)
		}
		cfg.Passphrase = strings.TrimRight(string(raw), "\r\n")
		if cfg.Passphrase == "" {
			return nil, fmt.Errorf("passphrase file %s is empty", cfg.PassphraseFile)
		}
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source path is required")
	}
	for i, s := range c.Sources {
		if s == "" {
			return fmt.Errorf("sources[%d] must not be empty", i)
		}
	}
	if c.ScratchDir == "" {
		return fmt.Errorf("scratch_dir is required")
	}
	if c.LogFile == "" {
		return fmt.Errorf("log_file is required")
	}
	if c.LockFile == "" {
		return fmt.Errorf("lock_file is required")
	}
	if c.Passphrase == "" && c.PassphraseFile == "" {
		return fmt.Errorf("either passphrase or passphrase_file is required")
	}
	if c.Passphrase != "" && c.PassphraseFile != "" {
		return fmt.Errorf("passphrase and passphrase_file are mutually exclusive")
	}
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	if c.S3.Region == "" {
		return fmt.Errorf("s3.region is required")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// PruningEnabled reports whether old snapshots should be deleted.
// Retention <= 0 means unlimited retention: nothing is ever pruned.
func (c *Config) PruningEnabled() bool {
	return c.Retention > 0
}

func (c *Config) S3RetryAttempts() int {
	if c.S3.Retry.MaxAttempts > 0 {
		return c.S3.Retry.MaxAttempts
	}
	return 3
}
