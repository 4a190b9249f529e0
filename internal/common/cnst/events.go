package cnst

// Event names published on the bus.
const (
	// EventRefreshData announces that a table's local mirror changed and
	// open views should reload it.
	EventRefreshData = "refresh-data"
	// EventSyncStatus carries the outcome of a reconciliation pass.
	EventSyncStatus = "sync-status"
)

// Redis deployment flavors accepted by cache and bus configuration.
const (
	RedisClusterTypeSingle   = "single"
	RedisClusterTypeCluster  = "cluster"
	RedisClusterTypeSentinel = "sentinel"
)
