package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"jarvis/internal/storage"
)

// Backend moves the raw credential document. Read returns (nil, nil) when
// nothing has been stored yet.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, raw []byte) error
	Format() Format
}

// FileBackend keeps the document in a local file written atomically with
// owner-only permissions.
type FileBackend struct {
	path   string
	format Format
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path, format: FormatForPath(path)}
}

func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Format() Format { return b.format }

func (b *FileBackend) Read(context.Context) ([]byte, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	return raw, nil
}

func (b *FileBackend) Write(_ context.Context, raw []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp credential file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credential file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

// RedisBackend stores the document as a single string key.
type RedisBackend struct {
	rdb *redis.Client
	key string
}

const DefaultRedisKey = "jarvis:credentials"

func NewRedisBackend(rdb *redis.Client, key string) *RedisBackend {
	if strings.TrimSpace(key) == "" {
		key = DefaultRedisKey
	}
	return &RedisBackend{rdb: rdb, key: key}
}

func (b *RedisBackend) Format() Format { return FormatJSON }

func (b *RedisBackend) Read(ctx context.Context) ([]byte, error) {
	raw, err := b.rdb.Get(ctx, b.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get credentials: %w", err)
	}
	return raw, nil
}

func (b *RedisBackend) Write(ctx context.Context, raw []byte) error {
	if err := b.rdb.Set(ctx, b.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set credentials: %w", err)
	}
	return nil
}

// DocumentStore is the slice of storage.Store the SQL backend needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, name string) (string, error)
	PutDocument(ctx context.Context, name, body string) error
}

type SQLBackend struct {
	store DocumentStore
	name  string
}

const DefaultDocumentName = "credentials"

func NewSQLBackend(store DocumentStore, name string) *SQLBackend {
	if strings.TrimSpace(name) == "" {
		name = DefaultDocumentName
	}
	return &SQLBackend{store: store, name: name}
}

func (b *SQLBackend) Format() Format { return FormatJSON }

func (b *SQLBackend) Read(ctx context.Context) ([]byte, error) {
	body, err := b.store.GetDocument(ctx, b.name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(body), nil
}

func (b *SQLBackend) Write(ctx context.Context, raw []byte) error {
	return b.store.PutDocument(ctx, b.name, string(raw))
}
