package config

// BusRole controls the direction of a redis bus bridge.
type BusRole string

const (
	// RoleSender can only publish onto the shared stream
	RoleSender BusRole = "sender"
	// RoleReceiver can only watch the shared stream
	RoleReceiver BusRole = "receiver"
	// RoleBoth can publish and watch
	RoleBoth BusRole = "both"
)

type (
	// BusConfig configures the event bus. The in-process bus is always on;
	// a redis bridge is added when Type is "redis" so several app processes
	// observe each other's refreshes.
	BusConfig struct {
		Type  string         `yaml:"type"` // memory or redis
		Redis BusRedisConfig `yaml:"redis"`
	}

	// BusRedisConfig configures the redis stream bridge.
	BusRedisConfig struct {
		RedisConfig `yaml:",inline"`
		Stream      string  `yaml:"stream"` // stream key, defaults to "lojasync:events"
		Role        BusRole `yaml:"role"`   // defaults to both
	}
)
