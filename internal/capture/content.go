package capture

import (
	"context"
	"errors"
	"sync"
)

// ErrNoContent is returned when the extension has not pushed content for a tab.
var ErrNoContent = errors.New("no extracted content for tab")

type cachedContent struct {
	url     string
	content Content
}

// ContentCache holds extracted content pushed by the extension and serves it
// as an Extractor. Content is tied to the URL it was extracted from.
type ContentCache struct {
	mu    sync.Mutex
	tabs  *Tabs
	items map[int]cachedContent
}

// NewContentCache returns a cache that validates entries against the tab registry.
func NewContentCache(tabs *Tabs) *ContentCache {
	return &ContentCache{tabs: tabs, items: make(map[int]cachedContent)}
}

// Put stores content extracted from tabID at url.
func (c *ContentCache) Put(tabID int, url string, content Content) {
	c.mu.Lock()
	c.items[tabID] = cachedContent{url: url, content: content}
	c.mu.Unlock()
}

// Forget drops cached content for tabID.
func (c *ContentCache) Forget(tabID int) {
	c.mu.Lock()
	delete(c.items, tabID)
	c.mu.Unlock()
}

// Extract returns content for the tab's current URL.
func (c *ContentCache) Extract(_ context.Context, tabID int) (Content, error) {
	c.mu.Lock()
	item, ok := c.items[tabID]
	c.mu.Unlock()
	if !ok {
		return Content{}, ErrNoContent
	}
	if c.tabs != nil {
		if tab, found := c.tabs.Get(tabID); found && tab.URL != item.url {
			return Content{}, ErrNoContent
		}
	}
	return item.content, nil
}
