package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/lojahub/lojasync/internal/common/cnst"
	"github.com/lojahub/lojasync/internal/common/config"
	"github.com/lojahub/lojasync/internal/store"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DatabaseType represents the supported remote database types
type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgres"
	MySQL      DatabaseType = "mysql"
	SQLite     DatabaseType = "sqlite"
)

// Client wraps the authoritative cloud database. Every call runs under the
// configured deadline so a dead link never blocks a caller; sqlite is
// accepted so tests can stand in for the cloud with a temp file.
type Client struct {
	logger  *zap.Logger
	store   *store.Store
	timeout time.Duration
}

// New connects to the remote database described by cfg.
func New(logger *zap.Logger, cfg *config.RemoteConfig) (*Client, error) {
	logger = logger.Named("remote")

	var dialector gorm.Dialector
	switch DatabaseType(cfg.Type) {
	case PostgreSQL:
		dialector = postgres.Open(cfg.DSN)
	case MySQL:
		dialector = mysql.Open(cfg.DSN)
	case SQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %s", cnst.ErrUnsupportedDatabase, cfg.Type)
	}

	s, err := store.New(logger, dialector)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	logger.Info("connected to remote store", zap.String("type", cfg.Type))
	return &Client{
		logger:  logger,
		store:   s,
		timeout: timeout,
	}, nil
}

// Store exposes the table operations; pair them with Context so every
// remote round-trip carries the deadline.
func (c *Client) Store() *store.Store {
	return c.store
}

// Context derives the bounded context for one remote call.
func (c *Client) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Apply replays one queued local operation against the remote store.
func (c *Client) Apply(ctx context.Context, op store.PendingOp) error {
	rctx, cancel := c.Context(ctx)
	defer cancel()
	return c.store.Apply(rctx, op)
}

func (c *Client) Close() error {
	return c.store.Close()
}
