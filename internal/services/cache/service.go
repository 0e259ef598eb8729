// Package cache wraps the Redis client behind the byte-valued key/value and
// pub-sub surface the zarr broker needs: TTL'd get/set, set-if-not-exists,
// optimistic compare-and-swap for status records, and channel publish.
package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/common"
)

// Service implements interfaces.Cache on a single go-redis client. Every
// operation is individually atomic; CompareAndSwap uses WATCH/MULTI so
// concurrent status writers linearise per key.
type Service struct {
	client *redis.Client
	logger arbor.ILogger
}

// NewService connects to the cache/broker backend.
func NewService(config *common.Config, logger arbor.ILogger) (*Service, error) {
	opts, err := buildOptions(&config.Redis)
	if err != nil {
		return nil, err
	}
	return &Service{
		client: redis.NewClient(opts),
		logger: logger,
	}, nil
}

// NewServiceWithClient wires an existing client; used by tests.
func NewServiceWithClient(client *redis.Client, logger arbor.ILogger) *Service {
	return &Service{client: client, logger: logger}
}

func buildOptions(cfg *common.RedisConfig) (*redis.Options, error) {
	host := cfg.Host
	if !strings.Contains(host, "://") {
		host = "redis://" + host
	}
	parsed, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid redis host %q: %w", cfg.Host, err)
	}
	opts := &redis.Options{
		Addr:     parsed.Host,
		Username: cfg.User,
		Password: cfg.Password,
	}
	if parsed.User != nil {
		opts.Username = parsed.User.Username()
		if pw, ok := parsed.User.Password(); ok {
			opts.Password = pw
		}
	}
	if parsed.Scheme == "rediss" || cfg.SSLCertfile != "" {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.SSLCertfile != "" && cfg.SSLKeyfile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.SSLCertfile, cfg.SSLKeyfile)
			if err != nil {
				return nil, fmt.Errorf("could not load redis client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.TLSConfig = tlsConfig
	}
	return opts, nil
}

// Get returns the value stored under key. Missing keys map to NOT_FOUND.
func (s *Service) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apierrors.NotFound("key %q not found", key)
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindBackendUnavailable, "cache unavailable", err)
	}
	return val, nil
}

// Set stores value under key with the given TTL (0 = no expiry).
func (s *Service) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apierrors.Wrap(apierrors.KindBackendUnavailable, "cache unavailable", err)
	}
	return nil
}

// SetNX stores value only when the key does not exist yet. Returns whether
// this call created the key.
func (s *Service) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	created, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindBackendUnavailable, "cache unavailable", err)
	}
	return created, nil
}

// CompareAndSwap applies update to the current value of key inside a
// WATCH/MULTI transaction and retries on contention. update receives nil
// when the key is absent; returning an error aborts the swap.
func (s *Service) CompareAndSwap(ctx context.Context, key string, update func(old []byte) ([]byte, error), ttl time.Duration) error {
	const maxAttempts = 5
	txn := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next, err := update(old)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = s.client.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err == nil {
		return nil
	}
	var apiErr *apierrors.Error
	if errors.As(err, &apiErr) {
		return err
	}
	return apierrors.Wrap(apierrors.KindBackendUnavailable, "cache unavailable", err)
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return apierrors.Wrap(apierrors.KindBackendUnavailable, "cache unavailable", err)
	}
	return nil
}

// Publish sends payload on the named broker channel.
func (s *Service) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return apierrors.Wrap(apierrors.KindBackendUnavailable, "broker unavailable", err)
	}
	return nil
}

// Keys lists keys matching a glob pattern. Used by the expiry sweeper only;
// never on a request path.
func (s *Service) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindBackendUnavailable, "cache unavailable", err)
	}
	return keys, nil
}

// Ping verifies connectivity.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apierrors.Wrap(apierrors.KindBackendUnavailable, "cache unavailable", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Service) Close() error {
	return s.client.Close()
}
