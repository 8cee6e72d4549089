package store

import (
	"container/list"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Cache keeps fetched provider responses: a TTL-bound LRU in memory and,
// when dir is set, an on-disk copy keyed by md5(key) that never expires.
// The disk layer lets repeated development runs work offline.
type Cache struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	ll    *list.List               // most-recent at front
	items map[string]*list.Element // key -> element
	dir   string
}

type entry struct {
	key  string
	body []byte
	exp  time.Time
}

func NewCache(maxKeys int, ttl time.Duration, dir string) *Cache {
	if maxKeys <= 0 {
		maxKeys = 1024
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{cap: maxKeys, ttl: ttl, ll: list.New(), items: make(map[string]*list.Element, maxKeys), dir: dir}
}

func (c *Cache) filename(key string) string {
	sum := md5.Sum([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}

// Get returns a cached body, consulting memory first and then disk.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		en := el.Value.(entry)
		if time.Now().Before(en.exp) {
			c.ll.MoveToFront(el)
			c.mu.Unlock()
			return en.body, true
		}
		c.ll.Remove(el)
		delete(c.items, key)
	}
	c.mu.Unlock()

	if c.dir == "" {
		return nil, false
	}
	b, err := os.ReadFile(c.filename(key))
	if err != nil {
		return nil, false
	}
	c.remember(key, b)
	return b, true
}

// Set stores body in memory and, if configured, on disk.
func (c *Cache) Set(key string, body []byte) error {
	c.remember(key, body)
	if c.dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(c.filename(key), body, 0644)
}

func (c *Cache) remember(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value = entry{key: key, body: body, exp: time.Now().Add(c.ttl)}
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(entry{key: key, body: body, exp: time.Now().Add(c.ttl)})
	c.items[key] = el
	for c.ll.Len() > c.cap {
		t := c.ll.Back()
		if t == nil {
			break
		}
		c.ll.Remove(t)
		delete(c.items, t.Value.(entry).key)
	}
	// soft cleanup of expired at tail
	for {
		t := c.ll.Back()
		if t == nil || time.Now().Before(t.Value.(entry).exp) {
			break
		}
		c.ll.Remove(t)
		delete(c.items, t.Value.(entry).key)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
