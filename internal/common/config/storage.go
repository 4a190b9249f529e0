package config

import "time"

type (
	// StoreConfig configures the embedded local mirror.
	StoreConfig struct {
		Path string `yaml:"path"` // path to the sqlite database file
	}

	// RemoteConfig configures the authoritative cloud database.
	RemoteConfig struct {
		Type    string        `yaml:"type"`    // postgres, mysql or sqlite
		DSN     string        `yaml:"dsn"`     // driver connection string
		Timeout time.Duration `yaml:"timeout"` // per-call deadline against the remote
	}

	// CacheConfig configures the stale-while-revalidate read cache.
	CacheConfig struct {
		Type  string      `yaml:"type"`  // memory or redis
		Redis RedisConfig `yaml:"redis"` // redis configuration for redis type
	}

	// RedisConfig is the shared redis client configuration.
	RedisConfig struct {
		ClusterType string `yaml:"cluster_type"` // single, cluster or sentinel
		Addr        string `yaml:"addr"`         // address list, ";" or "," separated
		MasterName  string `yaml:"master_name"`  // master name for sentinel
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		DB          int    `yaml:"db"`
	}
)
