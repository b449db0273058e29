package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	dump:{id}            JSON Dump record (SetNX)
//	dump:{id}:props      hash of property name -> value
//	dump:{id}:artifacts  hash of local path -> artifact hash ("" = pending)
//	artifact:{hash}      JSON Artifact record (SetNX)
//	index:{key}          artifact hash (SetNX)
//	failure:{hash}       marker (SetNX)
//
// SetNX carries the insert-or-ignore contract: the losing writer of a
// concurrent duplicate insert sees created == false and moves on.

// RedisCatalog implements Catalog on a Redis keyspace.
type RedisCatalog struct {
	cl *redis.Client
}

// NewRedisCatalog connects to Redis and verifies the connection.
func NewRedisCatalog(ctx context.Context, addr, password string, db int) (*RedisCatalog, error) {
	cl := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := cl.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCatalog{cl: cl}, nil
}

// NewRedisCatalogFromClient wraps an existing client (used by tests).
func NewRedisCatalogFromClient(cl *redis.Client) *RedisCatalog {
	return &RedisCatalog{cl: cl}
}

// Close releases the underlying connection pool.
func (c *RedisCatalog) Close() error {
	return c.cl.Close()
}

func dumpKey(id string) string          { return "dump:" + id }
func dumpPropsKey(id string) string     { return "dump:" + id + ":props" }
func dumpArtifactsKey(id string) string { return "dump:" + id + ":artifacts" }
func artifactKey(hash string) string    { return "artifact:" + hash }
func indexKey(key string) string        { return "index:" + key }
func failureKey(hash string) string     { return "failure:" + hash }

func (c *RedisCatalog) FindDump(ctx context.Context, id string) (*Dump, error) {
	raw, err := c.cl.Get(ctx, dumpKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dump %s: %w", id, err)
	}

	var d Dump
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("decode dump %s: %w", id, err)
	}
	return &d, nil
}

func (c *RedisCatalog) FindArtifact(ctx context.Context, hash string) (*Artifact, error) {
	raw, err := c.cl.Get(ctx, artifactKey(hash)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", hash, err)
	}

	var a Artifact
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", hash, err)
	}
	return &a, nil
}

func (c *RedisCatalog) FindArtifactByIndex(ctx context.Context, key string) (*Artifact, error) {
	hash, err := c.cl.Get(ctx, indexKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get index %s: %w", key, err)
	}
	return c.FindArtifact(ctx, hash)
}

func (c *RedisCatalog) InsertDumpIfAbsent(ctx context.Context, d *Dump) (bool, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return false, fmt.Errorf("encode dump %s: %w", d.ID, err)
	}

	created, err := c.cl.SetNX(ctx, dumpKey(d.ID), raw, 0).Result()
	if err != nil {
		return false, fmt.Errorf("insert dump %s: %w", d.ID, err)
	}
	return created, nil
}

func (c *RedisCatalog) InsertArtifactIfAbsent(ctx context.Context, a *Artifact) (bool, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("encode artifact %s: %w", a.Hash, err)
	}

	created, err := c.cl.SetNX(ctx, artifactKey(a.Hash), raw, 0).Result()
	if err != nil {
		return false, fmt.Errorf("insert artifact %s: %w", a.Hash, err)
	}
	return created, nil
}

func (c *RedisCatalog) InsertIndexIfAbsent(ctx context.Context, key, hash string) (bool, error) {
	created, err := c.cl.SetNX(ctx, indexKey(key), hash, 0).Result()
	if err != nil {
		return false, fmt.Errorf("insert index %s: %w", key, err)
	}
	return created, nil
}

func (c *RedisCatalog) RecordFailureIfAbsent(ctx context.Context, failureHash string) (bool, error) {
	created, err := c.cl.SetNX(ctx, failureKey(failureHash), "1", 0).Result()
	if err != nil {
		return false, fmt.Errorf("insert failure %s: %w", failureHash, err)
	}
	return created, nil
}

func (c *RedisCatalog) UpdateDumpProperties(ctx context.Context, id string, props map[string]string) error {
	if err := c.requireDump(ctx, id); err != nil {
		return err
	}
	if len(props) == 0 {
		return nil
	}

	fields := make([]any, 0, len(props)*2)
	for k, v := range props {
		fields = append(fields, k, v)
	}
	if err := c.cl.HSet(ctx, dumpPropsKey(id), fields...).Err(); err != nil {
		return fmt.Errorf("set properties for dump %s: %w", id, err)
	}
	return nil
}

func (c *RedisCatalog) DumpProperties(ctx context.Context, id string) (map[string]string, error) {
	props, err := c.cl.HGetAll(ctx, dumpPropsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get properties for dump %s: %w", id, err)
	}
	return props, nil
}

func (c *RedisCatalog) SetDumpFailure(ctx context.Context, id, failureHash string) error {
	d, err := c.FindDump(ctx, id)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrDumpNotFound
	}

	d.FailureHash = failureHash
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode dump %s: %w", id, err)
	}
	if err := c.cl.Set(ctx, dumpKey(id), raw, 0).Err(); err != nil {
		return fmt.Errorf("update dump %s: %w", id, err)
	}
	return nil
}

func (c *RedisCatalog) LinkArtifactToDump(ctx context.Context, dumpID, hash, localPath string) error {
	if err := c.requireDump(ctx, dumpID); err != nil {
		return err
	}

	// A pending link must not clobber a link that already resolved.
	if hash == "" {
		if err := c.cl.HSetNX(ctx, dumpArtifactsKey(dumpID), localPath, hash).Err(); err != nil {
			return fmt.Errorf("link artifact to dump %s: %w", dumpID, err)
		}
		return nil
	}

	if err := c.cl.HSet(ctx, dumpArtifactsKey(dumpID), localPath, hash).Err(); err != nil {
		return fmt.Errorf("link artifact to dump %s: %w", dumpID, err)
	}
	return nil
}

func (c *RedisCatalog) DumpArtifacts(ctx context.Context, dumpID string) ([]DumpArtifact, error) {
	entries, err := c.cl.HGetAll(ctx, dumpArtifactsKey(dumpID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get artifacts for dump %s: %w", dumpID, err)
	}

	links := make([]DumpArtifact, 0, len(entries))
	for localPath, hash := range entries {
		links = append(links, DumpArtifact{DumpID: dumpID, LocalPath: localPath, Hash: hash})
	}
	// HGetAll ordering is unspecified; stable output helps callers and tests.
	sort.Slice(links, func(i, j int) bool { return links[i].LocalPath < links[j].LocalPath })
	return links, nil
}

func (c *RedisCatalog) requireDump(ctx context.Context, id string) error {
	n, err := c.cl.Exists(ctx, dumpKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check dump %s: %w", id, err)
	}
	if n == 0 {
		return ErrDumpNotFound
	}
	return nil
}
