package utils

import (
	"container/list"
	"sync"
)

// An item in the LRU cache.
type LRUItem interface {
	// Unique key of the item.
	Key() string

	// Cost of keeping the item in the cache.
	Size() int64
}

// EvictFunc is called when an item is pushed out of the cache to make room.
// It is not called for items removed explicitly.
type EvictFunc[E LRUItem] func(item E)

// LRU is a bounded least-recently-used cache.
// It is safe for concurrent use.
type LRU[E LRUItem] struct {
	mu sync.Mutex

	// The maximum accumulated size of the cache.
	maxSize int64

	// Current size of the cache.
	currentSize int64

	// Doubly-linked list of items, most recently used first.
	cacheList *list.List

	// Map to access any item in constant time.
	cacheMap map[string]*list.Element

	// Function to call when an item is evicted.
	onEvict EvictFunc[E]
}

// Creates a new LRU cache.
func NewLRU[E LRUItem](maxSize int64, onEvict EvictFunc[E]) *LRU[E] {
	return &LRU[E]{
		maxSize:   maxSize,
		cacheList: list.New(),
		cacheMap:  make(map[string]*list.Element),
		onEvict:   onEvict,
	}
}

// Add a new item to the cache, replacing any item with the same key.
func (lru *LRU[E]) Add(item E) {
	evicted := lru.add(item)

	// Eviction callbacks run without the lock held.
	if lru.onEvict != nil {
		for _, e := range evicted {
			lru.onEvict(e)
		}
	}
}

func (lru *LRU[E]) add(item E) []E {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if ele, ok := lru.cacheMap[item.Key()]; ok {
		lru.currentSize -= ele.Value.(E).Size()
		lru.currentSize += item.Size()
		ele.Value = item
		lru.cacheList.MoveToFront(ele)
	} else {
		ele := lru.cacheList.PushFront(item)
		lru.cacheMap[item.Key()] = ele
		lru.currentSize += item.Size()
	}

	var evicted []E
	for lru.currentSize > lru.maxSize && lru.cacheList.Len() > 1 {
		ele := lru.cacheList.Back()
		lru.removeElement(ele)
		evicted = append(evicted, ele.Value.(E))
	}
	return evicted
}

// Get an item from the cache and mark it as recently used.
func (lru *LRU[E]) Get(key string) (item E, ok bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if ele, hit := lru.cacheMap[key]; hit {
		lru.cacheList.MoveToFront(ele)
		return ele.Value.(E), true
	}
	return
}

// Remove an item from the cache.
// Returns false if the key was not cached.
func (lru *LRU[E]) Remove(key string) bool {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if ele, hit := lru.cacheMap[key]; hit {
		lru.removeElement(ele)
		return true
	}
	return false
}

// Returns the number of cached items.
func (lru *LRU[E]) Len() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.cacheList.Len()
}

// Remove all items from the cache.
func (lru *LRU[E]) Purge() {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	lru.cacheList.Init()
	lru.cacheMap = make(map[string]*list.Element)
	lru.currentSize = 0
}

func (lru *LRU[E]) removeElement(e *list.Element) {
	lru.cacheList.Remove(e)
	item := e.Value.(E)
	delete(lru.cacheMap, item.Key())
	lru.currentSize -= item.Size()
}
