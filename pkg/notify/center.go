package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification for display.
type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
)

// Notification is an advisory outcome record. It is never persisted.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Option configures a Center.
type Option func(*Center)

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(center *Center) {
		if now != nil {
			center.nowFn = now
		}
	}
}

// WithIDGenerator replaces the notification id generator.
func WithIDGenerator(generator func() string) Option {
	return func(center *Center) {
		if generator != nil {
			center.newID = generator
		}
	}
}

// Center is an insertion-ordered notification queue. Its operations cannot fail.
type Center struct {
	mutex         sync.Mutex
	notifications []Notification
	nowFn         func() time.Time
	newID         func() string
}

// NewCenter builds an empty Center.
func NewCenter(options ...Option) *Center {
	center := &Center{nowFn: time.Now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(center)
		}
	}
	return center
}

// Notify appends a notification and returns it.
func (center *Center) Notify(notificationType Type, title string, message string) Notification {
	notification := Notification{
		ID:        center.newID(),
		Type:      notificationType,
		Title:     title,
		Message:   message,
		Timestamp: center.nowFn().UTC(),
	}
	center.mutex.Lock()
	center.notifications = append(center.notifications, notification)
	center.mutex.Unlock()
	return notification
}

// Remove deletes the notification with the given id. Unknown ids are ignored.
func (center *Center) Remove(id string) bool {
	center.mutex.Lock()
	defer center.mutex.Unlock()
	for index, notification := range center.notifications {
		if notification.ID == id {
			center.notifications = append(center.notifications[:index:index], center.notifications[index+1:]...)
			return true
		}
	}
	return false
}

// Clear empties the queue.
func (center *Center) Clear() {
	center.mutex.Lock()
	center.notifications = nil
	center.mutex.Unlock()
}

// List returns a copy of the queue in insertion order.
func (center *Center) List() []Notification {
	center.mutex.Lock()
	defer center.mutex.Unlock()
	out := make([]Notification, len(center.notifications))
	copy(out, center.notifications)
	return out
}

// Len returns the number of queued notifications.
func (center *Center) Len() int {
	center.mutex.Lock()
	defer center.mutex.Unlock()
	return len(center.notifications)
}
