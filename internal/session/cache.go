package session

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Turn is one message in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationStore is the long-term store behind the cache.
type ConversationStore interface {
	Load(ctx context.Context, conversationID string) ([]Turn, error)
	Save(ctx context.Context, conversationID string, turn Turn) error
	Delete(ctx context.Context, conversationID string) error
}

// Cache is a strict-LRU session cache over a ConversationStore. A history
// miss loads the full conversation from the store; an append writes
// through to the store and then drops the cache entry entirely, so the
// next read re-fetches consistent state. Capacity is fixed at
// construction; inserting beyond it evicts exactly the least-recently
// accessed entry.
type Cache struct {
	store    ConversationStore
	capacity int
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently accessed

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type cacheEntry struct {
	id    string
	turns []Turn
}

// NewCache creates a session cache with the given capacity.
func NewCache(store ConversationStore, capacity int, logger *zap.Logger) *Cache {
	if capacity < 1 {
		capacity = 100
	}
	return &Cache{
		store:    store,
		capacity: capacity,
		logger:   logger.With(zap.String("component", "session")),
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		locks:    make(map[string]*sync.Mutex),
	}
}

// convLock returns the mutex serializing operations on one conversation,
// so a concurrent append cannot interleave with a miss-and-refill.
func (c *Cache) convLock(id string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}

// GetHistory returns at most the last limit turns in chronological order.
// On a cache miss the full history is loaded from the store; a store
// failure degrades to an empty history rather than failing the request.
// limit <= 0 means no truncation.
func (c *Cache) GetHistory(ctx context.Context, conversationID string, limit int) []Turn {
	l := c.convLock(conversationID)
	l.Lock()
	defer l.Unlock()

	if turns, ok := c.lookup(conversationID); ok {
		return truncateTurns(turns, limit)
	}

	turns, err := c.store.Load(ctx, conversationID)
	if err != nil {
		c.logger.Warn("history load failed, proceeding with empty history",
			zap.String("conversation_id", conversationID), zap.Error(err))
		turns = nil
	}

	c.insert(conversationID, turns)
	return truncateTurns(turns, limit)
}

// Append writes the turn through to the store and invalidates the cache
// entry for the conversation. The entry is never patched in place.
func (c *Cache) Append(ctx context.Context, conversationID, role, content string) error {
	l := c.convLock(conversationID)
	l.Lock()
	defer l.Unlock()

	turn := Turn{Role: role, Content: content, Timestamp: time.Now().UTC()}
	if err := c.store.Save(ctx, conversationID, turn); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	c.invalidate(conversationID)
	return nil
}

// Delete removes the conversation from the store and the cache.
func (c *Cache) Delete(ctx context.Context, conversationID string) error {
	l := c.convLock(conversationID)
	l.Lock()
	defer l.Unlock()

	if err := c.store.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	c.invalidate(conversationID)
	return nil
}

// Len reports the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) lookup(id string) ([]Turn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	entry := el.Value.(*cacheEntry)
	turns := make([]Turn, len(entry.turns))
	copy(turns, entry.turns)
	return turns, true
}

func (c *Cache) insert(id string, turns []Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[id]; ok {
		el.Value.(*cacheEntry).turns = turns
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			evicted := oldest.Value.(*cacheEntry)
			c.order.Remove(oldest)
			delete(c.entries, evicted.id)
		}
	}

	c.entries[id] = c.order.PushFront(&cacheEntry{id: id, turns: turns})
}

func (c *Cache) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[id]; ok {
		c.order.Remove(el)
		delete(c.entries, id)
	}
}

func truncateTurns(turns []Turn, limit int) []Turn {
	if limit <= 0 || len(turns) <= limit {
		return turns
	}
	return turns[len(turns)-limit:]
}
