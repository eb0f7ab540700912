package eventsync

import (
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/safehalls/safehalls/server/eventdb"
	"github.com/safehalls/safehalls/server/notifications"
)

// Backend is the event store that EventSyncStore reads from and writes to.
// *eventdb.EventDB satisfies this.
type Backend interface {
	LatestEvents(limit int) ([]*eventdb.SecurityEvent, error)
	SetEventStatus(id int64, status string) error
	AddWatcher() chan *eventdb.Change
	RemoveWatcher(ch chan *eventdb.Change)
}

// EventSyncStore keeps two ordered-by-recency collections of events (live and
// past) consistent with the initial snapshot, the change feed of the event
// store, and local operator actions. An event id is in exactly one of the two
// collections at any time: live status means live, accepted/rejected means past.
type EventSyncStore struct {
	log       logs.Log
	backend   Backend
	notifier  *notifications.Notifier  // Optional
	escalator *notifications.Escalator // Optional

	lock     sync.Mutex
	active   bool
	live     []*Event
	past     []*Event
	feed     chan *eventdb.Change
	shutdown chan bool

	interruptLock     sync.Mutex
	interruptWatchers []chan *Event
}

func NewEventSyncStore(logger logs.Log, backend Backend, notifier *notifications.Notifier, escalator *notifications.Escalator) *EventSyncStore {
	return &EventSyncStore{
		log:       logger,
		backend:   backend,
		notifier:  notifier,
		escalator: escalator,
	}
}

// LoadInitial replaces both collections from the most recent rows of the
// event store. We fetch double the requested page so that a screenful of
// past events is available even when most recent rows are still live.
// On failure the collections are left untouched.
func (s *EventSyncStore) LoadInitial(limit int) error {
	rows, err := s.backend.LatestEvents(limit * 2)
	if err != nil {
		s.log.Errorf("Failed to load initial events: %v", err)
		return err
	}
	live := []*Event{}
	past := []*Event{}
	for _, row := range rows {
		ev, ok := projectRow(row)
		if !ok {
			s.log.Warnf("Skipping event row with no usable id (pk %v)", row.ID)
			continue
		}
		switch ev.Status {
		case eventdb.StatusAccepted, eventdb.StatusRejected:
			past = append(past, ev)
		case eventdb.StatusLive, "":
			ev.Status = eventdb.StatusLive
			live = append(live, ev)
		default:
			s.log.Warnf("Skipping event %v with unrecognized status '%v'", ev.ID, ev.Status)
		}
	}
	s.lock.Lock()
	s.live = live
	s.past = past
	s.lock.Unlock()
	return nil
}

// Subscribe starts consuming the change feed. Calling Subscribe while already
// subscribed is a no-op.
func (s *EventSyncStore) Subscribe() {
	s.lock.Lock()
	if s.active {
		s.lock.Unlock()
		return
	}
	s.active = true
	s.feed = s.backend.AddWatcher()
	s.shutdown = make(chan bool)
	feed, shutdown := s.feed, s.shutdown
	s.lock.Unlock()
	go s.runLoop(feed, shutdown)
}

// Close tears down the subscription. Feed callbacks that were already in
// flight become no-ops. Calling Close while not subscribed is a no-op.
func (s *EventSyncStore) Close() {
	s.lock.Lock()
	if !s.active {
		s.lock.Unlock()
		return
	}
	s.active = false
	feed, shutdown := s.feed, s.shutdown
	s.feed = nil
	s.shutdown = nil
	s.lock.Unlock()
	close(shutdown)
	s.backend.RemoveWatcher(feed)
}

func (s *EventSyncStore) runLoop(feed chan *eventdb.Change, shutdown chan bool) {
	for {
		select {
		case <-shutdown:
			return
		case change := <-feed:
			switch change.Op {
			case eventdb.ChangeInsert:
				s.handleInsert(change.Event)
			case eventdb.ChangeUpdate:
				s.handleUpdate(change.Event)
			default:
				s.log.Warnf("Ignoring change feed notification with op '%v'", change.Op)
			}
		}
	}
}

// Live returns a snapshot of the events awaiting disposition, newest first.
func (s *EventSyncStore) Live() []*Event {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]*Event, len(s.live))
	copy(out, s.live)
	return out
}

// Past returns a snapshot of the disposed events, most recently disposed first.
func (s *EventSyncStore) Past() []*Event {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]*Event, len(s.past))
	copy(out, s.past)
	return out
}

// Approve confirms a live event as a real threat. The status is written to
// the event store first; only on success does the event move from live to
// past, and the escalation ladder starts. Approving an id that is not in
// live is a no-op.
func (s *EventSyncStore) Approve(id string) error {
	return s.dispose(id, eventdb.StatusAccepted)
}

// Reject dismisses a live event as a false alarm. Same write-then-move
// semantics as Approve.
func (s *EventSyncStore) Reject(id string) error {
	return s.dispose(id, eventdb.StatusRejected)
}

func (s *EventSyncStore) dispose(id, status string) error {
	s.lock.Lock()
	idx := findByID(s.live, id)
	if idx < 0 {
		s.lock.Unlock()
		return nil
	}
	target := s.live[idx]
	rowID := target.rowID
	s.lock.Unlock()

	// Remote write first. No optimistic local mutation, so a failure needs no rollback.
	// Synthetic events have no backing row, and are moved locally only.
	if rowID != 0 {
		if err := s.backend.SetEventStatus(rowID, status); err != nil {
			s.log.Errorf("Failed to set status of event %v to %v: %v", id, status, err)
			if s.notifier != nil {
				s.notifier.Postf(notifications.PriorityError, id, "Failed to save decision for event %v", id)
			}
			return err
		}
	}

	s.lock.Lock()
	idx = findByID(s.live, id)
	var moved *Event
	if idx >= 0 {
		// We won the race for this id. A concurrent dispose that lost finds
		// the id gone from live, and its reconciliation ends here.
		cp := *target
		cp.Status = status
		moved = &cp
		s.live = append(s.live[:idx], s.live[idx+1:]...)
		if pidx := findByID(s.past, id); pidx >= 0 {
			s.past = append(s.past[:pidx], s.past[pidx+1:]...)
		}
		s.past = prependEvent(s.past, moved)
	}
	s.lock.Unlock()

	if moved == nil {
		return nil
	}
	if status == eventdb.StatusAccepted {
		if s.escalator != nil {
			s.escalator.Escalate(incidentFor(moved))
		} else if s.notifier != nil {
			s.notifier.Postf(notifications.PriorityInfo, id, "Event at %v confirmed as threat", moved.Camera)
		}
	} else if s.notifier != nil {
		s.notifier.Postf(notifications.PriorityInfo, id, "Event at %v dismissed as false alarm", moved.Camera)
	}
	return nil
}

func incidentFor(ev *Event) notifications.Incident {
	inc := notifications.Incident{
		EventID:   ev.ID,
		Location:  ev.Camera,
		Timestamp: ev.Timestamp,
	}
	if ev.CombinedScore != nil {
		inc.CombinedScore = *ev.CombinedScore
	}
	if ev.Scores != nil {
		if ev.Scores.Video != nil {
			inc.VideoScore = *ev.Scores.Video
		}
		if ev.Scores.Audio != nil {
			inc.AudioScore = *ev.Scores.Audio
		}
	}
	return inc
}

func (s *EventSyncStore) handleInsert(row *eventdb.SecurityEvent) {
	ev, ok := projectRow(row)
	if !ok {
		s.log.Warnf("Skipping inserted event row with no usable id (pk %v)", row.ID)
		return
	}
	s.lock.Lock()
	if !s.active {
		s.lock.Unlock()
		return
	}
	// Duplicate delivery (or a row already seen via the initial snapshot) is a no-op
	if findByID(s.live, ev.ID) >= 0 || findByID(s.past, ev.ID) >= 0 {
		s.lock.Unlock()
		return
	}
	isHigh := false
	switch ev.Status {
	case eventdb.StatusAccepted, eventdb.StatusRejected:
		s.past = prependEvent(s.past, ev)
	case eventdb.StatusLive, "":
		ev.Status = eventdb.StatusLive
		s.live = prependEvent(s.live, ev)
		isHigh = ev.Severity == eventdb.SeverityHigh
	default:
		s.log.Warnf("Skipping inserted event %v with unrecognized status '%v'", ev.ID, ev.Status)
	}
	s.lock.Unlock()
	if isHigh {
		s.fireInterrupt(ev)
	}
}

func (s *EventSyncStore) handleUpdate(row *eventdb.SecurityEvent) {
	ev, ok := projectRow(row)
	if !ok {
		s.log.Warnf("Skipping updated event row with no usable id (pk %v)", row.ID)
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.active {
		return
	}
	switch ev.Status {
	case eventdb.StatusAccepted, eventdb.StatusRejected:
		// Remove-if-present then prepend, so replays and races stay idempotent
		if idx := findByID(s.live, ev.ID); idx >= 0 {
			s.live = append(s.live[:idx], s.live[idx+1:]...)
		}
		if idx := findByID(s.past, ev.ID); idx >= 0 {
			s.past = append(s.past[:idx], s.past[idx+1:]...)
		}
		s.past = prependEvent(s.past, ev)
	case eventdb.StatusLive, "":
		// Reopening a disposed event
		ev.Status = eventdb.StatusLive
		if idx := findByID(s.past, ev.ID); idx >= 0 {
			s.past = append(s.past[:idx], s.past[idx+1:]...)
		}
		if idx := findByID(s.live, ev.ID); idx >= 0 {
			s.live = append(s.live[:idx], s.live[idx+1:]...)
		}
		s.live = prependEvent(s.live, ev)
	default:
		s.log.Warnf("Ignoring update of event %v with unrecognized status '%v'", ev.ID, ev.Status)
	}
}

// AddInterruptWatcher registers a channel that receives high severity events.
// These demand a blocking operator disposition in the UI.
func (s *EventSyncStore) AddInterruptWatcher() chan *Event {
	s.interruptLock.Lock()
	defer s.interruptLock.Unlock()
	ch := make(chan *Event, 10)
	s.interruptWatchers = append(s.interruptWatchers, ch)
	return ch
}

func (s *EventSyncStore) RemoveInterruptWatcher(ch chan *Event) {
	s.interruptLock.Lock()
	defer s.interruptLock.Unlock()
	for i, w := range s.interruptWatchers {
		if w == ch {
			s.interruptWatchers = append(s.interruptWatchers[:i], s.interruptWatchers[i+1:]...)
			return
		}
	}
	s.log.Warnf("EventSyncStore.RemoveInterruptWatcher failed to find channel")
}

func (s *EventSyncStore) fireInterrupt(ev *Event) {
	if s.notifier != nil {
		s.notifier.Postf(notifications.PriorityInterrupt, ev.ID, "HIGH SEVERITY: %v at %v", ev.Detected, ev.Camera)
	}
	s.interruptLock.Lock()
	defer s.interruptLock.Unlock()
	for _, ch := range s.interruptWatchers {
		if len(ch) >= cap(ch) {
			s.log.Warnf("Interrupt watcher is falling behind. Dropping interrupt for event %v", ev.ID)
		} else {
			ch <- ev
		}
	}
}

func findByID(events []*Event, id string) int {
	for i, ev := range events {
		if ev.ID == id {
			return i
		}
	}
	return -1
}

func prependEvent(events []*Event, ev *Event) []*Event {
	return append([]*Event{ev}, events...)
}
