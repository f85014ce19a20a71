// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"sort"
	"sync"
)

type registration struct {
	handler Handler
	// armed is the generation+1 the queue is subscribed on, 0 when none.
	armed uint64
}

// registry records queue→handler pairs for the lifetime of the client.
// Re-registering a queue replaces its handler; the live subscription picks
// the new handler up on the next delivery.
type registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*registration)}
}

func (r *registry) set(queue string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[queue]; ok {
		e.handler = h
		return
	}

	r.entries[queue] = &registration{handler: h}
}

func (r *registry) handler(queue string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[queue]; ok {
		return e.handler
	}

	return nil
}

// claim marks queue as subscribed on gen. It returns false when another
// caller already holds the subscription for that generation.
func (r *registry) claim(queue string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[queue]
	if !ok || e.armed == gen+1 {
		return false
	}

	e.armed = gen + 1

	return true
}

// release drops the claim of gen, if it is still the one recorded.
func (r *registry) release(queue string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[queue]; ok && e.armed == gen+1 {
		e.armed = 0
	}
}

// queues lists the registered queues in name order.
func (r *registry) queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
