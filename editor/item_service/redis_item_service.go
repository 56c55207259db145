package item_service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisItemService is the Redis-backed ItemService. All keys and channels are
// namespaced with the scene identifier. Items are stored as hashes so the
// version field can be read and bumped independently of the transform payload.
// The service is thread-safe and can be used concurrently from multiple goroutines.
type RedisItemService struct {
	rdb       *redis.Client
	sceneID   string
	sessionID string
}

// compile-time check to ensure RedisItemService implements ItemService.
var _ ItemService = &RedisItemService{}

// NewRedisItemService creates an item service for the specified scene.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - sceneID: scene identifier used to namespace keys and channels (must not be empty)
//   - sessionID: this editing session's identifier, stamped on published events
//
// Returns:
//   - *RedisItemService: the newly created service
//   - error: error if sceneID is empty
func NewRedisItemService(redisOpts *redis.Options, sceneID, sessionID string) (*RedisItemService, error) {
	if sceneID == "" {
		return nil, fmt.Errorf("scene id cannot be empty")
	}
	return &RedisItemService{
		rdb:       redis.NewClient(redisOpts),
		sceneID:   sceneID,
		sessionID: sessionID,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the service should not be used.
func (s *RedisItemService) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
// Returns an error if Redis is not reachable.
func (s *RedisItemService) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Client returns the underlying Redis client so event subscriptions can share
// the service's connection pool.
func (s *RedisItemService) Client() *redis.Client {
	return s.rdb
}

func (s *RedisItemService) CreateItem(ctx context.Context, pool PoolContext, transform Transform) (string, error) {
	item := Item{
		ID:        "item-" + uuid.NewString(),
		Version:   1,
		Pool:      pool,
		Transform: transform,
	}

	hash, err := itemToHash(&item)
	if err != nil {
		return "", fmt.Errorf("failed to serialize item: %w", err)
	}

	key := ItemKey(s.sceneID, item.ID)
	if err := s.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return "", fmt.Errorf("failed to write item to Redis: %w", err)
	}

	if err := s.publishEvent(ctx, EventTypeCreate, &item); err != nil {
		return "", err
	}
	return item.ID, nil
}

func (s *RedisItemService) GetItem(ctx context.Context, itemID string) (*Item, error) {
	key := ItemKey(s.sceneID, itemID)

	hashData, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read item from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys.
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	item, err := hashToItem(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize item: %w", err)
	}
	return item, nil
}

func (s *RedisItemService) UpdateItem(ctx context.Context, itemID string, transform Transform) error {
	key := ItemKey(s.sceneID, itemID)

	transformJSON, err := json.Marshal(transform)
	if err != nil {
		return fmt.Errorf("failed to serialize transform: %w", err)
	}

	var newVersion int64
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		version, err := tx.HGet(ctx, key, "version").Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("item %s: %w", itemID, redis.Nil)
			}
			return fmt.Errorf("failed to read item version: %w", err)
		}
		newVersion = version + 1

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "transform", string(transformJSON))
			pipe.HSet(ctx, key, "version", strconv.FormatInt(newVersion, 10))
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("item %s changed concurrently: %w", itemID, ErrVersionConflict)
		}
		return err
	}

	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to re-read item after update: %w", err)
	}
	return s.publishEvent(ctx, EventTypeUpdate, item)
}

func (s *RedisItemService) DeleteItem(ctx context.Context, itemID string, expectedVersion int64) error {
	key := ItemKey(s.sceneID, itemID)

	var deleted Item
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		hashData, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read item from Redis: %w", err)
		}
		if len(hashData) == 0 {
			return fmt.Errorf("item %s: %w", itemID, redis.Nil)
		}

		item, err := hashToItem(hashData)
		if err != nil {
			return fmt.Errorf("failed to deserialize item: %w", err)
		}
		if item.Version != expectedVersion {
			return fmt.Errorf("item %s at version %d, expected %d: %w",
				itemID, item.Version, expectedVersion, ErrVersionConflict)
		}
		deleted = *item

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("item %s changed concurrently: %w", itemID, ErrVersionConflict)
		}
		return err
	}

	return s.publishEvent(ctx, EventTypeDelete, &deleted)
}

// publishEvent broadcasts an item mutation on the scene's event channel so
// collaborating sessions can fold the delta into their local pools.
func (s *RedisItemService) publishEvent(ctx context.Context, eventType string, item *Item) error {
	event := ItemEvent{
		Type:      eventType,
		SessionID: s.sessionID,
		Item:      *item,
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal item event: %w", err)
	}
	channel := ItemEventsChannel(s.sceneID)
	if err := s.rdb.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish item event: %w", err)
	}
	return nil
}

// itemToHash converts an Item to the Redis hash representation. The transform
// is stored as a JSON field so the version can be bumped without rewriting it.
func itemToHash(item *Item) (map[string]string, error) {
	transformJSON, err := json.Marshal(item.Transform)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"id":        item.ID,
		"version":   strconv.FormatInt(item.Version, 10),
		"category":  item.Pool.Category,
		"geometry":  item.Pool.Geometry,
		"sub_model": item.Pool.SubModel,
		"transform": string(transformJSON),
	}, nil
}

// hashToItem converts a Redis hash back to an Item.
func hashToItem(hash map[string]string) (*Item, error) {
	version, err := strconv.ParseInt(hash["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version field %q: %w", hash["version"], err)
	}
	item := &Item{
		ID:      hash["id"],
		Version: version,
		Pool: PoolContext{
			Category: hash["category"],
			Geometry: hash["geometry"],
			SubModel: hash["sub_model"],
		},
	}
	if raw := hash["transform"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &item.Transform); err != nil {
			return nil, fmt.Errorf("invalid transform field: %w", err)
		}
	}
	return item, nil
}
