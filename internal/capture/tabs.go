package capture

import (
	"sort"
	"sync"
	"time"
)

// Tab is the extension's view of one browser tab.
type Tab struct {
	ID        int       `json:"id"`
	WindowID  int       `json:"window_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tabs is the registry of open tabs. At most one tab is active.
type Tabs struct {
	mu   sync.RWMutex
	tabs map[int]Tab
	now  func() time.Time
}

// NewTabs returns an empty registry.
func NewTabs() *Tabs {
	return &Tabs{tabs: make(map[int]Tab), now: time.Now}
}

// Upsert records tab. An active tab deactivates every other tab.
func (r *Tabs) Upsert(tab Tab) Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab.UpdatedAt = r.now().UTC()
	if tab.Active {
		r.deactivateLocked(tab.ID)
	}
	r.tabs[tab.ID] = tab
	return tab
}

// Navigate updates the URL of a known tab, creating it when unknown.
func (r *Tabs) Navigate(id int, rawURL string) Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[id]
	if !ok {
		tab = Tab{ID: id}
	}
	tab.URL = rawURL
	tab.UpdatedAt = r.now().UTC()
	r.tabs[id] = tab
	return tab
}

// Activate marks id as the active tab. It reports false for unknown tabs.
func (r *Tabs) Activate(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[id]
	if !ok {
		return false
	}
	r.deactivateLocked(id)
	tab.Active = true
	tab.UpdatedAt = r.now().UTC()
	r.tabs[id] = tab
	return true
}

// Remove forgets id.
func (r *Tabs) Remove(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tabs[id]; !ok {
		return false
	}
	delete(r.tabs, id)
	return true
}

// Get returns the tab with id.
func (r *Tabs) Get(id int) (Tab, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tab, ok := r.tabs[id]
	return tab, ok
}

// Active returns the active tab, if any.
func (r *Tabs) Active() (Tab, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tab := range r.tabs {
		if tab.Active {
			return tab, true
		}
	}
	return Tab{}, false
}

// List returns every tab ordered by id.
func (r *Tabs) List() []Tab {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tab, 0, len(r.tabs))
	for _, tab := range r.tabs {
		out = append(out, tab)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Tabs) deactivateLocked(except int) {
	for id, tab := range r.tabs {
		if id != except && tab.Active {
			tab.Active = false
			r.tabs[id] = tab
		}
	}
}
