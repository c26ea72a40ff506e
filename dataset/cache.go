package dataset

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// FileCache keeps the decoded trials of the most recently read record
// files, so repeating sequences skip decoding on later passes. A file is
// only cached once it has been read to the end. FileCache is safe for use
// by several sequences.
type FileCache struct {
	files  *lru.Cache
	hits   int64
	misses int64
}

// NewFileCache creates a cache holding up to maxFiles files.
func NewFileCache(maxFiles int) (*FileCache, error) {
	files, err := lru.New(maxFiles)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create record cache")
	}
	return &FileCache{files: files}, nil
}

func (c *FileCache) get(path string) ([]trial, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.files.Get(path)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	return v.([]trial), true
}

func (c *FileCache) put(path string, trials []trial) {
	if c == nil {
		return
	}
	c.files.Add(path, trials)
}

// Clear drops every cached file. Statistics are kept.
func (c *FileCache) Clear() {
	c.files.Purge()
}

// Stats returns cache statistics.
func (c *FileCache) Stats() CacheStats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	stats := CacheStats{Files: c.files.Len(), Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total) * 100
	}
	return stats
}

// CacheStats holds cache statistics
type CacheStats struct {
	Files   int
	Hits    int64
	Misses  int64
	HitRate float64
}

func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d files, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Files, cs.Hits, cs.Misses, cs.HitRate)
}
