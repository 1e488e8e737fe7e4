// Package redisstore implements the storage capability contract on Redis.
// Elements are stored as JSON documents under fingerprinted keys, with a
// per-batch index list so a stored batch can be enumerated later.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/provider"
	"github.com/user/scraper-service/pkg/utils"
)

// Name is the registry key of this provider.
const Name = "redis"

const defaultPrefix = "scraper"

// Storage persists data elements as JSON documents in Redis.
type Storage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Register adds the provider to a registry under its canonical name.
func Register(r *provider.Registry) error {
	return r.RegisterStorage(Name, func() provider.StorageProvider {
		return &Storage{}
	})
}

// Connect dials Redis. The config map may carry "addr", "password", "db",
// "prefix" and "ttl_seconds".
func (s *Storage) Connect(ctx context.Context, config map[string]any) error {
	addr, _ := config["addr"].(string)
	if addr == "" {
		addr = "localhost:6379"
	}
	password, _ := config["password"].(string)
	db := 0
	if v, ok := config["db"].(float64); ok {
		db = int(v)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("%w: pinging redis at %s: %v", provider.ErrStorage, addr, err)
	}

	s.client = client
	s.prefix = defaultPrefix
	if p, _ := config["prefix"].(string); p != "" {
		s.prefix = p
	}
	if v, ok := config["ttl_seconds"].(float64); ok && v > 0 {
		s.ttl = time.Duration(v) * time.Second
	}
	return nil
}

// Store writes each element as a JSON document and records its key in a batch
// index list. Keys are content fingerprints, so re-storing an identical
// element overwrites rather than duplicates.
func (s *Storage) Store(ctx context.Context, elements []entity.DataElement, schema *entity.SchemaHint) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("%w: not connected", provider.ErrStorage)
	}

	namespace := s.prefix
	if schema != nil && schema.Name != "" {
		namespace = s.prefix + ":" + schema.Name
	}
	batchKey := fmt.Sprintf("%s:batch:%s", namespace, uuid.New().String())

	pipe := s.client.Pipeline()
	for _, e := range elements {
		doc, err := json.Marshal(e)
		if err != nil {
			return "", fmt.Errorf("%w: encoding element %s: %v", provider.ErrStorage, e.ID, err)
		}
		key := fmt.Sprintf("%s:element:%s", namespace,
			utils.Fingerprint(string(e.Type), e.Metadata.Selector, fmt.Sprintf("%v", e.Value)))
		pipe.Set(ctx, key, doc, s.ttl)
		pipe.RPush(ctx, batchKey, key)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, batchKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: writing batch to redis: %v", provider.ErrStorage, err)
	}
	return "redis://" + batchKey, nil
}

// Disconnect closes the client.
func (s *Storage) Disconnect(_ context.Context) error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// HealthCheck pings Redis.
func (s *Storage) HealthCheck(ctx context.Context) bool {
	return s.client != nil && s.client.Ping(ctx).Err() == nil
}
