package resources

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/bulwarkhq/bulwark/pkg/config"
	"github.com/bulwarkhq/bulwark/pkg/errors"
)

// RedisResource wraps a Redis connection behind the Resource capability.
// Execute treats the query as a raw command; params become additional
// command arguments.
type RedisResource struct {
	id  string
	cfg *config.RedisConfig

	mu     sync.RWMutex
	client *redis.Client
}

// NewRedisResource creates an unconnected Redis resource.
func NewRedisResource(id string, cfg *config.RedisConfig) (*RedisResource, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("redis configuration is required")
	}
	return &RedisResource{id: id, cfg: cfg}, nil
}

// ID returns the endpoint identifier
func (r *RedisResource) ID() string {
	return r.id
}

// Connect opens the client and verifies it with a ping
func (r *RedisResource) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port),
		Password: r.cfg.Password,
		DB:       r.cfg.DB,
		PoolSize: r.cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return errors.NewExternalError("redis", "failed to ping redis").WithCause(err)
	}

	r.client = client
	return nil
}

// Execute runs one command and wraps the reply in a single row
func (r *RedisResource) Execute(ctx context.Context, query string, params ...interface{}) ([]Row, error) {
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()

	if client == nil {
		return nil, errors.NewConfigurationError("redis resource is not connected")
	}

	args := make([]interface{}, 0, len(params)+1)
	args = append(args, query)
	args = append(args, params...)

	result, err := client.Do(ctx, args...).Result()
	if err != nil {
		return nil, errors.NewExternalError("redis", "command failed").WithCause(err)
	}
	return []Row{{"result": result}}, nil
}

// Disconnect closes the client
func (r *RedisResource) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// Ping verifies connectivity
func (r *RedisResource) Ping(ctx context.Context) error {
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()

	if client == nil {
		return errors.NewConfigurationError("redis resource is not connected")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.NewExternalError("redis", "ping failed").WithCause(err)
	}
	return nil
}
