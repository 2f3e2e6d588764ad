package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Window is a page of the site open in a browser behind the proxy.
type Window struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	Focused  bool      `json:"focused"`
	LastSeen time.Time `json:"last_seen"`
}

// ClientRegistry remembers the pages the proxy served, and implements
// worker.Clients on top of them.
type ClientRegistry struct {
	mu      sync.Mutex
	windows []*Window
	claimed bool
	now     func() time.Time
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{now: time.Now}
}

// Seen records a page navigation to url
func (c *ClientRegistry) Seen(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focusLocked(url)
}

// focusLocked focuses the window showing url, opening one if needed
func (c *ClientRegistry) focusLocked(url string) (*Window, bool) {
	var found *Window
	for _, w := range c.windows {
		w.Focused = w.URL == url && found == nil
		if w.Focused {
			found = w
		}
	}
	if found != nil {
		found.LastSeen = c.now()
		return found, false
	}
	w := &Window{ID: uuid.NewString(), URL: url, Focused: true, LastSeen: c.now()}
	c.windows = append(c.windows, w)
	return w, true
}

// Claim takes control of every known page.
func (c *ClientRegistry) Claim(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed = true
	logrus.Debugf("Claimed %d open page(s)", len(c.windows))
	return nil
}

// Claimed reports whether the active generation controls the open pages
func (c *ClientRegistry) Claimed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claimed
}

// OpenWindow focuses the page showing url, or opens a new one.
func (c *ClientRegistry) OpenWindow(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, opened := c.focusLocked(url)
	if opened {
		logrus.Infof("Opened window %s on %s", w.ID, url)
	} else {
		logrus.Infof("Focused window %s on %s", w.ID, url)
	}
	return nil
}

// Windows returns a snapshot of the known pages
func (c *ClientRegistry) Windows() []Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Window, 0, len(c.windows))
	for _, w := range c.windows {
		out = append(out, *w)
	}
	return out
}
