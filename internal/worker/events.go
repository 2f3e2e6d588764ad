package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PrimaryKey is the static correlation id attached to every push notification.
const PrimaryKey = 1

// NotificationTemplate holds the fixed parts of push notifications.
type NotificationTemplate struct {
	Title       string
	DefaultBody string
	Icon        string
	Badge       string
	Vibrate     []int
	// OpenURL is the page opened when a notification is clicked, relative to the origin.
	OpenURL string
}

func (t NotificationTemplate) withDefaults() NotificationTemplate {
	if t.Title == "" {
		t.Title = "Akila Portfolio"
	}
	if t.DefaultBody == "" {
		t.DefaultBody = "New notification"
	}
	if t.Icon == "" {
		t.Icon = "/images/icon.png"
	}
	if t.Badge == "" {
		t.Badge = "/images/icon.png"
	}
	if t.Vibrate == nil {
		t.Vibrate = []int{100, 50, 100}
	}
	if t.OpenURL == "" {
		t.OpenURL = "/"
	}
	return t
}

// Notification is a displayed push notification.
type Notification struct {
	ID      string           `json:"id"`
	Title   string           `json:"title"`
	Body    string           `json:"body"`
	Icon    string           `json:"icon"`
	Badge   string           `json:"badge"`
	Vibrate []int            `json:"vibrate"`
	Data    NotificationData `json:"data"`
}

// NotificationData is the opaque payload carried by a notification.
type NotificationData struct {
	DateOfArrival time.Time `json:"dateOfArrival"`
	PrimaryKey    int       `json:"primaryKey"`
}

// PushMessage is a received push message. A nil Data means the message had no payload.
type PushMessage struct {
	Data []byte
}

// Push displays a notification for msg. The body is the payload text,
// or the default body when the message carries none.
func (m *Manager) Push(ctx context.Context, msg PushMessage) (Notification, error) {
	tmpl := m.opts.Notification

	body := tmpl.DefaultBody
	if msg.Data != nil {
		body = string(msg.Data)
	}

	n := Notification{
		ID:      uuid.NewString(),
		Title:   tmpl.Title,
		Body:    body,
		Icon:    tmpl.Icon,
		Badge:   tmpl.Badge,
		Vibrate: append([]int(nil), tmpl.Vibrate...),
		Data: NotificationData{
			DateOfArrival: m.opts.Now(),
			PrimaryKey:    PrimaryKey,
		},
	}

	if err := m.opts.Notifier.Show(ctx, n); err != nil {
		return n, fmt.Errorf("failed to show notification: %w", err)
	}
	m.log().WithField("notification", n.ID).Debug("Displayed push notification")
	return n, nil
}

// NotificationClick dismisses n and opens (or focuses) the site's root page.
func (m *Manager) NotificationClick(ctx context.Context, n Notification) error {
	if err := m.opts.Notifier.Close(ctx, n.ID); err != nil {
		m.log().Warnf("Failed to close notification %s: %v", n.ID, err)
	}

	ref, err := m.opts.Origin.Parse(m.opts.Notification.OpenURL)
	if err != nil {
		return fmt.Errorf("invalid notification URL %q: %w", m.opts.Notification.OpenURL, err)
	}
	if err := m.opts.Clients.OpenWindow(ctx, ref.String()); err != nil {
		return fmt.Errorf("failed to open window: %w", err)
	}
	return nil
}

// Sync handles a background sync event. Tags other than the configured one are ignored.
func (m *Manager) Sync(ctx context.Context, tag string) error {
	if tag != m.opts.SyncTag {
		m.log().Debugf("Ignoring sync event with tag %q", tag)
		return nil
	}
	return m.opts.Syncer.Sync(ctx)
}
