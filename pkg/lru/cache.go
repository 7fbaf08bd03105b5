/*
Copyright 2011 Google Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package lru implements a fixed-capacity, recency-evicting cache used
// by the btree package to keep recently touched index nodes warm
// without holding the whole tree in memory.
package lru

import (
	"container/list"
	"sync"
)

// Cache is an LRU cache, safe for concurrent access. The zero value is
// not usable; construct with New.
type Cache[K comparable, V any] struct {
	maxEntries int

	lk    sync.Mutex
	ll    *list.List
	cache map[K]*list.Element
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New returns a new cache with the provided maximum items. maxEntries
// <= 0 means no eviction ever happens.
func New[K comparable, V any](maxEntries int) *Cache[K, V] {
	return &Cache[K, V]{
		maxEntries: maxEntries,
		ll:         list.New(),
		cache:      make(map[K]*list.Element),
	}
}

// Add adds the provided key and value to the cache, evicting the least
// recently used entry if the cache is over capacity.
func (c *Cache[K, V]) Add(key K, value V) {
	c.lk.Lock()
	defer c.lk.Unlock()

	if ee, ok := c.cache[key]; ok {
		c.ll.MoveToFront(ee)
		ee.Value.(*entry[K, V]).value = value
		return
	}

	ele := c.ll.PushFront(&entry[K, V]{key, value})
	c.cache[key] = ele

	if c.maxEntries > 0 && c.ll.Len() > c.maxEntries {
		c.removeOldest()
	}
}

// Get fetches the key's value from the cache. ok is true if the key was
// present.
func (c *Cache[K, V]) Get(key K) (value V, ok bool) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if ele, hit := c.cache[key]; hit {
		c.ll.MoveToFront(ele)
		return ele.Value.(*entry[K, V]).value, true
	}
	return value, false
}

// Remove evicts key from the cache, if present.
func (c *Cache[K, V]) Remove(key K) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if ele, hit := c.cache[key]; hit {
		c.ll.Remove(ele)
		delete(c.cache, key)
	}
}

// RemoveOldest removes the least recently used item in the cache.
func (c *Cache[K, V]) RemoveOldest() {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.removeOldest()
}

// note: must hold c.lk
func (c *Cache[K, V]) removeOldest() {
	ele := c.ll.Back()
	if ele == nil {
		return
	}
	c.ll.Remove(ele)
	delete(c.cache, ele.Value.(*entry[K, V]).key)
}

// Len returns the number of items in the cache.
func (c *Cache[K, V]) Len() int {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.ll.Len()
}
