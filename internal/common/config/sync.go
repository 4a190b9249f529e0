package config

import "time"

type (
	// SyncConfig configures the reconciliation loop.
	SyncConfig struct {
		Interval time.Duration `yaml:"interval"` // full-refresh cadence, default 5m
		Lojas    []string      `yaml:"lojas"`    // tenants this instance mirrors
		Feed     FeedConfig    `yaml:"feed"`     // inventory XML feed
	}

	// FeedConfig configures the external inventory XML feed. The URL may
	// contain a "{loja}" placeholder replaced by the loja id at fetch time.
	FeedConfig struct {
		URL        string        `yaml:"url"`
		Timeout    time.Duration `yaml:"timeout"`
		RetryCount int           `yaml:"retry_count"`
	}
)
