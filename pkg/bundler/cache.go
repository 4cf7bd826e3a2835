package bundler

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var transformBucket = []byte("transforms")

func init() {
	gob.Register(TransformOutput{})
}

// MemoryCache keeps the most recently used transform outputs in memory
type MemoryCache struct {
	entries *lru.Cache[string, *TransformOutput]
}

func NewMemoryCache(size int) (*MemoryCache, error) {
	if size < 1 {
		size = 1024
	}

	entries, err := lru.New[string, *TransformOutput](size)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create transform cache")
	}
	return &MemoryCache{entries: entries}, nil
}

func (c *MemoryCache) Get(key string) (*TransformOutput, bool) {
	return c.entries.Get(key)
}

func (c *MemoryCache) Put(key string, out *TransformOutput) {
	c.entries.Add(key, out)
}

func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

// DiskCache persists transform outputs in a bbolt database so they survive restarts
type DiskCache struct {
	db     *bolt.DB
	logger *zerolog.Logger
}

func OpenDiskCache(ctx context.Context, dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "failed to create cache directory %s", dir)
	}

	db, err := bolt.Open(filepath.Join(dir, "transforms.db"), 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to open transform cache")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(transformBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialise transform cache")
	}

	return &DiskCache{db: db, logger: log(ctx)}, nil
}

func (c *DiskCache) Get(key string) (*TransformOutput, bool) {
	var result *TransformOutput
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(transformBucket).Get([]byte(key))
		if data == nil {
			return nil
		}

		out := new(TransformOutput)
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Ignoring unreadable cache entry")
		return nil, false
	}

	return result, result != nil
}

func (c *DiskCache) Put(key string, out *TransformOutput) {
	var buffer bytes.Buffer
	if err := gob.NewEncoder(&buffer).Encode(out); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to encode cache entry")
		return
	}

	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(transformBucket).Put([]byte(key), buffer.Bytes())
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to store cache entry")
	}
}

// Clear drops every stored entry
func (c *DiskCache) Clear() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(transformBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(transformBucket)
		return err
	})
}

func (c *DiskCache) Close() error {
	return c.db.Close()
}

// TieredCache checks the memory cache before the disk cache and fills the memory cache on disk hits
type TieredCache struct {
	Memory *MemoryCache
	Disk   *DiskCache
}

func (c *TieredCache) Get(key string) (*TransformOutput, bool) {
	if out, ok := c.Memory.Get(key); ok {
		return out, true
	}
	if c.Disk == nil {
		return nil, false
	}

	out, ok := c.Disk.Get(key)
	if ok {
		c.Memory.Put(key, out)
	}
	return out, ok
}

func (c *TieredCache) Put(key string, out *TransformOutput) {
	c.Memory.Put(key, out)
	if c.Disk != nil {
		c.Disk.Put(key, out)
	}
}

func (c *TieredCache) Close() error {
	if c.Disk == nil {
		return nil
	}
	return c.Disk.Close()
}
