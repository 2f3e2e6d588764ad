package proxy

import (
	"context"
	"sync"

	"github.com/iTrooz/offline-cache/internal/worker"
	"github.com/sirupsen/logrus"
)

// NotificationCenter keeps the notifications currently on display.
// It stands in for the browser's notification tray.
type NotificationCenter struct {
	mu    sync.Mutex
	open  map[string]worker.Notification
	order []string
}

func NewNotificationCenter() *NotificationCenter {
	return &NotificationCenter{open: make(map[string]worker.Notification)}
}

func (c *NotificationCenter) Show(_ context.Context, n worker.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.open[n.ID]; !ok {
		c.order = append(c.order, n.ID)
	}
	c.open[n.ID] = n
	logrus.Infof("Notification: %s - %s", n.Title, n.Body)
	return nil
}

// Close dismisses a notification. Closing an unknown id is a no-op.
func (c *NotificationCenter) Close(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.open[id]; !ok {
		return nil
	}
	delete(c.open, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the open notification with the given id
func (c *NotificationCenter) Get(id string) (worker.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.open[id]
	return n, ok
}

// List returns the open notifications, oldest first
func (c *NotificationCenter) List() []worker.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]worker.Notification, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.open[id])
	}
	return out
}
