package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lojahub/lojasync/internal/cache"
	"github.com/lojahub/lojasync/internal/common/cnst"
	"github.com/lojahub/lojasync/internal/common/config"
	"github.com/lojahub/lojasync/pkg/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bridge carries bus events between app processes.
type Bridge interface {
	// Watch returns a channel that receives events published by other processes
	Watch(ctx context.Context) (<-chan Event, error)

	// NotifyUpdate publishes an event for other processes
	NotifyUpdate(ctx context.Context, evt Event) error

	// CanReceive returns true if the bridge can receive events
	CanReceive() bool

	// CanSend returns true if the bridge can send events
	CanSend() bool
}

// RedisBridge implements Bridge using Redis streams
type RedisBridge struct {
	logger     *zap.Logger
	client     redis.UniversalClient
	streamName string
	role       config.BusRole
}

var _ Bridge = (*RedisBridge)(nil)

// NewRedisBridge creates a new Redis-based bridge
func NewRedisBridge(logger *zap.Logger, cfg *config.BusRedisConfig) (*RedisBridge, error) {
	client, err := cache.NewRedisClient(&cfg.RedisConfig)
	if err != nil {
		return nil, err
	}

	stream := utils.FirstNonEmpty(cfg.Stream, "lojasync:events")
	role := cfg.Role
	if role == "" {
		role = config.RoleBoth
	}

	return &RedisBridge{
		logger:     logger.Named("bus.redis"),
		client:     client,
		streamName: stream,
		role:       role,
	}, nil
}

// Watch implements Bridge.Watch
func (r *RedisBridge) Watch(ctx context.Context) (<-chan Event, error) {
	if !r.CanReceive() {
		return nil, cnst.ErrNotReceiver
	}

	ch := make(chan Event, 10)

	go func() {
		defer close(ch)

		// Start from the latest message ($ means read only new messages)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
				streams, err := r.client.XRead(ctx, &redis.XReadArgs{
					Streams: []string{r.streamName, lastID},
					Count:   10,
					Block:   1 * time.Second,
				}).Result()

				if err != nil {
					if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
						r.logger.Error("failed to read from stream", zap.Error(err))
					}
					continue
				}

				for _, stream := range streams {
					for _, message := range stream.Messages {
						lastID = message.ID

						data, exists := message.Values["event"]
						if !exists {
							continue
						}
						var evt Event
						if err := json.Unmarshal([]byte(data.(string)), &evt); err != nil {
							r.logger.Error("failed to unmarshal event", zap.Error(err))
							continue
						}
						select {
						case ch <- evt:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
	}()

	return ch, nil
}

// NotifyUpdate implements Bridge.NotifyUpdate
func (r *RedisBridge) NotifyUpdate(ctx context.Context, evt Event) error {
	if !r.CanSend() {
		return cnst.ErrNotSender
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamName,
		MaxLen: 256,
		Approx: true,
		Values: map[string]interface{}{
			"event":     string(data),
			"timestamp": time.Now().Unix(),
		},
	}).Result()

	if err != nil {
		return fmt.Errorf("failed to add event to stream: %w", err)
	}

	return nil
}

// CanReceive returns true if the bridge can receive events
func (r *RedisBridge) CanReceive() bool {
	return r.role == config.RoleReceiver || r.role == config.RoleBoth
}

// CanSend returns true if the bridge can send events
func (r *RedisBridge) CanSend() bool {
	return r.role == config.RoleSender || r.role == config.RoleBoth
}
