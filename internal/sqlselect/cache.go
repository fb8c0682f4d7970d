package sqlselect

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of statements NewCache keeps when given a
// non-positive size.
const DefaultCacheSize = 512

// Cache memoizes Analyze by statement text. A nil *Cache analyzes every
// call.
type Cache struct {
	cache *lru.TwoQueueCache[string, *Analysis]
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New2Q[string, *Analysis](size)
	if err != nil {
		return nil, err
	}
	return &Cache{cache: c}, nil
}

// Analyze returns the cached analysis of sql, analyzing it on a miss.
// Failed analyses are not cached.
func (c *Cache) Analyze(sql string) (*Analysis, error) {
	if c == nil {
		return Analyze(sql)
	}
	if a, ok := c.cache.Get(sql); ok {
		return a, nil
	}
	a, err := Analyze(sql)
	if err != nil {
		return nil, err
	}
	c.cache.Add(sql, a)
	return a, nil
}

// Len returns the number of cached statements.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
