// Package topiccache keeps an in-memory replica of the topics
// collection so the hot request path never waits on the database.
package topiccache

import (
	"sync"
	"time"

	"github.com/fairyhunter13/ark-vote/internal/domain"
)

type entry struct {
	topic        domain.Topic
	pool         []int32
	lastAccessed time.Time
}

// cache is the concurrent topic map with its freshness policy.
type cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func newCache() *cache {
	return &cache{entries: make(map[string]*entry)}
}

func (c *cache) get(topicID string) (domain.Topic, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[topicID]
	if !ok {
		return domain.Topic{}, false
	}
	e.lastAccessed = time.Now()
	return e.topic, true
}

func (c *cache) getPool(topicID string) []int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[topicID]; ok {
		return e.pool
	}
	return nil
}

func (c *cache) setPool(topicID string, pool []int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[topicID]
	if !ok {
		return false
	}
	e.pool = pool
	return true
}

// insert stores the topic unless the cached copy is at least as fresh.
// A new insert resets the memoized pool.
func (c *cache) insert(t domain.Topic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[t.ID]; ok && !shouldUpdateEntry(existing.topic, t) {
		return false
	}
	c.entries[t.ID] = &entry{topic: t, lastAccessed: time.Now()}
	return true
}

func (c *cache) insertBatch(topics []domain.Topic) int {
	n := 0
	for i := range topics {
		if c.insert(topics[i]) {
			n++
		}
	}
	return n
}

func (c *cache) activeTopicIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id, e := range c.entries {
		if e.topic.IsActive {
			ids = append(ids, id)
		}
	}
	return ids
}

// shouldUpdateEntry decides whether an incoming copy replaces the
// cached one. Timestamps win when present; otherwise fall back to a
// field comparison so mutable topics without updated_at still refresh.
func shouldUpdateEntry(cached, incoming domain.Topic) bool {
	switch {
	case cached.UpdatedAt == nil && incoming.UpdatedAt != nil:
		return true
	case cached.UpdatedAt != nil && incoming.UpdatedAt != nil:
		return cached.UpdatedAt.Before(*incoming.UpdatedAt)
	case cached.UpdatedAt != nil && incoming.UpdatedAt == nil:
		return false
	default:
		return cached.Description != incoming.Description ||
			cached.Name != incoming.Name ||
			cached.IsActive != incoming.IsActive
	}
}
