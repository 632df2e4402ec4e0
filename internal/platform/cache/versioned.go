package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// BumpChannel carries version bumps between portal instances.
const BumpChannel = "taxdesk:cache.bump"

// Versioned caches JSON payloads under keys suffixed with a per-namespace
// version. Bumping the version invalidates every key of the namespace at once.
// A nil *Versioned (or one without client) always calls the loader.
type Versioned struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewVersioned builds the cache helper.
func NewVersioned(client *redis.Client, ttl time.Duration) *Versioned {
	return &Versioned{client: client, ttl: ttl}
}

func versionKey(namespace string) string {
	return "taxdesk:version:" + namespace
}

// Version returns the namespace version, initialising it when missing.
func (c *Versioned) Version(ctx context.Context, namespace string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(namespace)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	return ver, err
}

// Key composes namespace, parts and the current version.
func (c *Versioned) Key(ctx context.Context, namespace string, parts ...string) (string, error) {
	joined := strings.Join(append([]string{"taxdesk", namespace}, parts...), ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx, namespace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// LoadTimeout bounds a shared loader call. The call is detached from the
// caller that started it so joiners are not cancelled along with it.
const LoadTimeout = 30 * time.Second

// Scope derives a cache key part from a bearer token so cached pages are
// only served back to the caller whose credentials loaded them.
func Scope(token string) string {
	if token == "" {
		return "anon"
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// FetchJSON loads key into dest, populating it from loader on a miss.
// Concurrent misses for the same key share one loader call; each caller
// stops waiting when its own ctx is done.
func (c *Versioned) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	resultChan := c.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LoadTimeout)
		defer cancel()
		value, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(loadCtx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Bump invalidates a namespace and announces the new version.
func (c *Versioned) Bump(ctx context.Context, namespace string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if _, err := c.Version(ctx, namespace); err != nil {
		return err
	}
	ver, err := c.client.Incr(ctx, versionKey(namespace)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BumpChannel, namespace+"="+strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation applies version bumps published by other instances
// until ctx is cancelled. Versions only move forward.
func (c *Versioned) ListenForInvalidation(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, BumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.applyBump(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

func (c *Versioned) applyBump(ctx context.Context, payload string) {
	namespace, raw, ok := strings.Cut(payload, "=")
	if !ok || namespace == "" {
		return
	}
	ver, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return
	}
	current, err := c.Version(ctx, namespace)
	if err != nil || current >= ver {
		return
	}
	_ = c.client.Set(ctx, versionKey(namespace), ver, 0).Err()
}

func roundTrip(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
