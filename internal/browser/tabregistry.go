package browser

import (
	"context"
	"sync"
)

// tabEntry is one chromedp tab context owned by a ChromeSession.
type tabEntry struct {
	Handle TabHandle
	Name   string
	URL    string
	ctx    context.Context
	cancel context.CancelFunc
}

// TabRegistry maps tab handles to their chromedp contexts.
type TabRegistry struct {
	tabs map[TabHandle]*tabEntry
	mu   sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[TabHandle]*tabEntry)}
}

func (r *TabRegistry) Register(entry *tabEntry) {
	r.mu.Lock()
	r.tabs[entry.Handle] = entry
	r.mu.Unlock()
}

func (r *TabRegistry) Get(h TabHandle) (*tabEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tabs[h]
	return entry, ok
}

// SetURL records the last URL navigated to in a tab.
func (r *TabRegistry) SetURL(h TabHandle, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.tabs[h]; ok {
		entry.URL = url
	}
}

func (r *TabRegistry) Remove(h TabHandle) (*tabEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tabs[h]
	delete(r.tabs, h)
	return entry, ok
}

// Drain removes and returns every registered tab.
func (r *TabRegistry) Drain() []*tabEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*tabEntry, 0, len(r.tabs))
	for h, entry := range r.tabs {
		out = append(out, entry)
		delete(r.tabs, h)
	}
	return out
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
