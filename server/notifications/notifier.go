package notifications

import (
	"fmt"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

type Priority string

const (
	PriorityInfo      Priority = "info"      // Informational (eg "notifying principal")
	PriorityError     Priority = "error"     // Something failed, and the user should know
	PriorityInterrupt Priority = "interrupt" // High severity event, demands immediate operator disposition
)

// Notification is one user-facing message. These are consumed by dashboard
// sessions over a websocket, and we keep a short history so that a session
// that connects late can catch up.
type Notification struct {
	ID       int64     `json:"id"`
	Time     time.Time `json:"time"`
	Priority Priority  `json:"priority"`
	EventID  string    `json:"eventId,omitempty"` // Set when the notification relates to a specific event
	Message  string    `json:"message"`
}

const maxRecentNotifications = 100

// Notifier is an in-process notification bus. Producers Post, and consumers
// receive via watcher channels.
type Notifier struct {
	log      logs.Log
	lock     sync.Mutex
	nextID   int64
	recent   []*Notification
	watchers []chan *Notification
}

func NewNotifier(logger logs.Log) *Notifier {
	return &Notifier{
		log:    logger,
		nextID: 1,
	}
}

// Post publishes a notification to all watchers.
func (n *Notifier) Post(priority Priority, eventID, message string) *Notification {
	n.lock.Lock()
	defer n.lock.Unlock()
	msg := &Notification{
		ID:       n.nextID,
		Time:     time.Now(),
		Priority: priority,
		EventID:  eventID,
		Message:  message,
	}
	n.nextID++
	n.recent = append(n.recent, msg)
	if len(n.recent) > maxRecentNotifications {
		n.recent = n.recent[len(n.recent)-maxRecentNotifications:]
	}
	for _, ch := range n.watchers {
		if len(ch) >= cap(ch) {
			n.log.Warnf("Notification watcher is falling behind. Dropping notification %v", msg.ID)
		} else {
			ch <- msg
		}
	}
	return msg
}

// Postf is Post with Sprintf formatting.
func (n *Notifier) Postf(priority Priority, eventID, format string, args ...any) *Notification {
	return n.Post(priority, eventID, fmt.Sprintf(format, args...))
}

// Recent returns the retained notification history, oldest first.
func (n *Notifier) Recent() []*Notification {
	n.lock.Lock()
	defer n.lock.Unlock()
	out := make([]*Notification, len(n.recent))
	copy(out, n.recent)
	return out
}

func (n *Notifier) AddWatcher() chan *Notification {
	n.lock.Lock()
	defer n.lock.Unlock()
	ch := make(chan *Notification, 100)
	n.watchers = append(n.watchers, ch)
	return ch
}

func (n *Notifier) RemoveWatcher(ch chan *Notification) {
	n.lock.Lock()
	defer n.lock.Unlock()
	for i, w := range n.watchers {
		if w == ch {
			n.watchers = append(n.watchers[:i], n.watchers[i+1:]...)
			return
		}
	}
	n.log.Warnf("Notifier.RemoveWatcher failed to find channel")
}
