package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	logger "github.com/sirupsen/logrus"

	"surgetrader/src/model"
)

// ErrNotFound is returned by a Backend that holds no document yet.
var ErrNotFound = errors.New("state document not found")

// Backend stores one opaque document. Write must replace the whole document atomically.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, doc []byte) error
}

// NewBackend builds the backend selected by config.
func NewBackend(config Config) (Backend, error) {
	switch config.Backend {
	case BackendFile, "":
		return NewFileBackend(config.StateFile), nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
		return NewRedisBackend(client, config.RedisKey), nil
	default:
		return nil, fmt.Errorf("%w: unknown state backend %q", model.ErrConfiguration, config.Backend)
	}
}

// -----------------------------
// FILE
// -----------------------------

// FileBackend keeps the document in a JSON file next to a temp file used for atomic replace.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Read(_ context.Context) ([]byte, error) {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return raw, err
}

// Write writes to a temp file in the same directory and renames it over the target.
func (b *FileBackend) Write(_ context.Context, doc []byte) error {
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(doc); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// -----------------------------
// REDIS
// -----------------------------

// RedisClient is the subset of the go-redis client the backend needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisBackend keeps the document under a single key; SET replaces it atomically.
type RedisBackend struct {
	client RedisClient
	key    string
}

func NewRedisBackend(client RedisClient, key string) *RedisBackend {
	logger.WithField("key", key).Info("using redis state backend")
	return &RedisBackend{client: client, key: key}
}

func (b *RedisBackend) Read(ctx context.Context) ([]byte, error) {
	raw, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", b.key, err)
	}
	return raw, nil
}

func (b *RedisBackend) Write(ctx context.Context, doc []byte) error {
	if err := b.client.Set(ctx, b.key, doc, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", b.key, err)
	}
	return nil
}
