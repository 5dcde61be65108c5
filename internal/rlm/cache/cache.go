// Package cache provides ConversationCache: a bounded, least-recently-used
// mapping of session id to conversation message log. It replaces the
// teacher's Claude prompt-caching-economics package of the same name (cost
// accounting for cache creation/read discounts) with the session-keyed LRU
// this engine's ExecutionContext actually depends on; see DESIGN.md for the
// repurposing rationale.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the LRU size absent an explicit override.
const DefaultCapacity = 100

// Message is one turn of a session's conversation log.
type Message struct {
	Role    string
	Content string
}

// Cache is the ConversationCache component. Every method is safe for
// concurrent use; eviction and recency promotion are handled by the
// underlying LRU.
type Cache struct {
	lru *lru.Cache[string, []Message]
}

// New creates a Cache capped at capacity entries. A non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[string, []Message](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the message log for sessionID, promoting it to
// most-recently-used. The second return value is false if absent.
func (c *Cache) Get(sessionID string) ([]Message, bool) {
	return c.lru.Get(sessionID)
}

// Put stores (or replaces) the message log for sessionID, promoting it to
// most-recently-used. If the cache is at capacity, the least-recently-used
// entry is evicted.
func (c *Cache) Put(sessionID string, log []Message) {
	c.lru.Add(sessionID, log)
}

// Append adds a message to sessionID's log, creating the session if absent.
func (c *Cache) Append(sessionID string, msg Message) {
	log, _ := c.lru.Get(sessionID)
	log = append(log, msg)
	c.lru.Add(sessionID, log)
}

// Len returns the number of sessions currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Remove evicts sessionID if present.
func (c *Cache) Remove(sessionID string) {
	c.lru.Remove(sessionID)
}
