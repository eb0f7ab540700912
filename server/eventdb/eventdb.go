package eventdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// ChangeOp distinguishes the two kinds of change-feed notifications that
// we propagate. Deletes are intentionally absent: events are never deleted
// during a session, only re-statused.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
)

// Change is one notification on the event change feed.
type Change struct {
	Op    ChangeOp
	Event *SecurityEvent
}

// SYNC-CHANGE-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// EventDB stores security events, and publishes a change feed of inserts
// and updates to registered watchers. Local writes publish directly; writes
// from other processes arrive via the Postgres LISTEN/NOTIFY bridge (listen.go)
// and are published through the same mechanism. Watchers may therefore see
// the same change twice (once locally, once via the bridge), so consumers
// must treat the feed as at-least-once delivery.
type EventDB struct {
	log logs.Log
	DB  *gorm.DB

	watchersLock sync.Mutex
	watchers     []chan *Change

	// Limit on the number of rows we keep. Old disposed events beyond this
	// count are purged on insert. Exposed for unit tests.
	maxEventCount int64
}

// Open or create an event DB backed by SQLite at the given filename.
func NewEventDB(logger logs.Log, dbFilename string) (*EventDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0770)
	return OpenEventDB(logger, dbh.MakeSqliteConfig(dbFilename))
}

// Open or create an event DB on any supported driver (sqlite, postgres).
func OpenEventDB(logger logs.Log, config dbh.DBConfig) (*EventDB, error) {
	db, err := dbh.OpenDB(logger, config, Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open event database %v: %w", config.LogSafeDescription(), err)
	}
	return &EventDB{
		log:           logger,
		DB:            db,
		maxEventCount: 10000,
	}, nil
}

// LatestEvents returns the most recent 'limit' events, ordered by start time descending.
func (e *EventDB) LatestEvents(limit int) ([]*SecurityEvent, error) {
	var events []*SecurityEvent
	if err := e.DB.Order("event_start DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// GetEvent returns the event with the given primary key, or nil if it does not exist.
func (e *EventDB) GetEvent(id int64) (*SecurityEvent, error) {
	ev := SecurityEvent{}
	err := e.DB.First(&ev, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &ev, nil
}

// AddEvent inserts a new event and publishes an insert notification.
// If the event has no status, it is born live.
func (e *EventDB) AddEvent(ev *SecurityEvent) error {
	if ev.Status == "" {
		ev.Status = StatusLive
	}
	if !IsValidStatus(ev.Status) {
		return fmt.Errorf("Invalid event status '%v'", ev.Status)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = dbh.MakeIntTime(time.Now())
	}
	e.purgeOldEvents()
	if err := e.DB.Create(ev).Error; err != nil {
		return err
	}
	e.publish(ChangeInsert, ev)
	return nil
}

// SetEventStatus updates the status of a single event and publishes an
// update notification carrying the full updated row.
func (e *EventDB) SetEventStatus(id int64, status string) error {
	if !IsValidStatus(status) {
		return fmt.Errorf("Invalid event status '%v'", status)
	}
	res := e.DB.Model(&SecurityEvent{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("Event %v does not exist", id)
	}
	ev, err := e.GetEvent(id)
	if err != nil {
		return err
	}
	e.publish(ChangeUpdate, ev)
	return nil
}

// AddWatcher registers a new change-feed watcher.
func (e *EventDB) AddWatcher() chan *Change {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	ch := make(chan *Change, WatcherChannelSize)
	e.watchers = append(e.watchers, ch)
	return ch
}

// RemoveWatcher unregisters a change-feed watcher.
func (e *EventDB) RemoveWatcher(ch chan *Change) {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	for i, w := range e.watchers {
		if w == ch {
			e.watchers = append(e.watchers[:i], e.watchers[i+1:]...)
			return
		}
	}
	e.log.Warnf("EventDB.RemoveWatcher failed to find channel")
}

func (e *EventDB) publish(op ChangeOp, ev *SecurityEvent) {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	for _, ch := range e.watchers {
		// SYNC-CHANGE-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			// This should never happen, but as a safeguard against a stalled
			// consumer we choose to drop notifications rather than block writes.
			e.log.Warnf("EventDB watcher is falling behind. I am going to drop change notifications.")
		} else {
			ch <- &Change{Op: op, Event: ev}
		}
	}
}

// Keep the table bounded. We only purge events that have already been disposed.
func (e *EventDB) purgeOldEvents() {
	count := int64(0)
	if err := e.DB.Model(&SecurityEvent{}).Count(&count).Error; err != nil {
		return
	}
	if count < e.maxEventCount {
		return
	}
	oldest := SecurityEvent{}
	if err := e.DB.Where("status != ?", StatusLive).Order("event_start").First(&oldest).Error; err != nil {
		return
	}
	e.DB.Delete(&oldest)
}
