// Package cache keeps compiled programs in a SQLite database keyed by a
// hash of their source text, so unchanged files skip compilation.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/h2co3/sparkling/vm/dist"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates that no usable entry exists for a source text.
var ErrNotFound = errors.New("cache: entry not found")

var log = commonlog.GetLogger("sparkling.cache")

// Cache is a persistent store of program images.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path, creating parent
// directories as needed.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		key     TEXT PRIMARY KEY,
		name    TEXT NOT NULL,
		version INTEGER NOT NULL,
		hash    BLOB NOT NULL,
		image   BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (c *Cache) Path() string { return c.path }

// SourceKey is the cache key of a source text.
func SourceKey(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Get returns the verified image compiled from source. Entries written by a
// different image version, or failing verification, are dropped and
// reported as ErrNotFound.
func (c *Cache) Get(source string) (*dist.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := SourceKey(source)
	var version int
	var data []byte
	err := c.db.QueryRow("SELECT version, image FROM programs WHERE key = ?", key).Scan(&version, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}
	if version != dist.ImageVersion {
		log.Infof("dropping cached program %s with image version %d", key[:12], version)
		return nil, c.deleteLocked(key)
	}
	img, err := dist.UnmarshalImage(data)
	if err == nil {
		err = dist.Verify(img)
	}
	if err != nil {
		log.Warningf("dropping corrupt cache entry %s: %v", key[:12], err)
		return nil, c.deleteLocked(key)
	}
	return img, nil
}

// deleteLocked removes an entry and returns ErrNotFound on success.
func (c *Cache) deleteLocked(key string) error {
	if _, err := c.db.Exec("DELETE FROM programs WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	return ErrNotFound
}

// Put stores img as the compiled form of source.
func (c *Cache) Put(source string, img *dist.Image) error {
	data, err := dist.MarshalImage(img)
	if err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO programs (key, name, version, hash, image, created) VALUES (?, ?, ?, ?, ?, ?)",
		SourceKey(source), img.Name, img.Version, img.Hash[:], data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

// Compile returns the cached image for source, or compiles it with compile,
// stores the result and returns it. hit reports whether the cache served
// the request.
func (c *Cache) Compile(name, source string, compile func(source string) ([]uint32, error)) (img *dist.Image, hit bool, err error) {
	img, err = c.Get(source)
	if err == nil {
		log.Debugf("cache hit for %s", name)
		return img, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	words, err := compile(source)
	if err != nil {
		return nil, false, err
	}
	img, err = dist.NewImage(name, words, source)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(source, img); err != nil {
		// Storing is best effort.
		log.Warningf("cannot cache %s: %v", name, err)
	}
	return img, false, nil
}

// Len returns the number of cached programs.
func (c *Cache) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return n, nil
}

// Purge removes every entry.
func (c *Cache) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.Exec("DELETE FROM programs"); err != nil {
		return fmt.Errorf("purging programs: %w", err)
	}
	return nil
}
