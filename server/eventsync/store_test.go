package eventsync

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/safehalls/safehalls/server/eventdb"
	"github.com/safehalls/safehalls/server/notifications"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) (*EventSyncStore, *eventdb.EventDB, *notifications.Notifier) {
	os.Remove("test-eventsync.sqlite")
	db, err := eventdb.NewEventDB(logs.NewTestingLog(t), "test-eventsync.sqlite")
	require.NoError(t, err)
	notifier := notifications.NewNotifier(logs.NewTestingLog(t))
	store := NewEventSyncStore(logs.NewTestingLog(t), db, notifier, nil)
	return store, db, notifier
}

var testEventSeq int64

func makeRow(pk int64, status string, combined float64) *eventdb.SecurityEvent {
	row := &eventdb.SecurityEvent{
		CameraID:      "cam-01",
		EventStart:    dbh.MakeIntTime(time.Now()),
		CombinedScore: &combined,
		Severity:      eventdb.SeverityMedium,
		Status:        status,
	}
	row.ID = pk
	if pk == 0 {
		// Rows destined for AddEvent need a unique event_id
		row.EventID = fmt.Sprintf("evt_t%03d", atomic.AddInt64(&testEventSeq, 1))
	} else {
		row.EventID = fmt.Sprintf("evt_%03d", pk)
	}
	return row
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

// Every observed id is in exactly one collection, consistent with its status.
func checkExclusive(t *testing.T, s *EventSyncStore) {
	t.Helper()
	seen := map[string]bool{}
	for _, ev := range s.Live() {
		require.False(t, seen[ev.ID], "id %v appears twice", ev.ID)
		seen[ev.ID] = true
		require.Equal(t, eventdb.StatusLive, ev.Status)
	}
	for _, ev := range s.Past() {
		require.False(t, seen[ev.ID], "id %v appears in both collections", ev.ID)
		seen[ev.ID] = true
		require.Contains(t, []string{eventdb.StatusAccepted, eventdb.StatusRejected}, ev.Status)
	}
}

func TestScoreNormalization(t *testing.T) {
	fraction := 0.82
	percent := 82.0
	one := 1.0
	row := makeRow(1, eventdb.StatusLive, fraction)
	row.Scores = dbh.MakeJSONField(eventdb.ScoresJSON{Video: &percent})

	ev, ok := projectRow(row)
	require.True(t, ok)
	require.Equal(t, 82.0, *ev.CombinedScore)
	require.Equal(t, 82.0, *ev.Scores.Video)
	// Missing sub-score stays absent, never defaults to 0
	require.Nil(t, ev.Scores.Audio)

	// A true fraction of 1.0 is indistinguishable from "already 1 percent",
	// and maps to 100.
	require.Equal(t, 100.0, normalizeScore(one))
}

func TestProjection(t *testing.T) {
	// Primary key preferred, event_id as fallback, neither means dropped
	row := makeRow(7, eventdb.StatusLive, 0.5)
	ev, ok := projectRow(row)
	require.True(t, ok)
	require.Equal(t, "7", ev.ID)
	require.Equal(t, "Camera cam-01", ev.Camera)
	require.Equal(t, fallbackDetectionLabel, ev.Detected)

	row.ID = 0
	ev, ok = projectRow(row)
	require.True(t, ok)
	require.Equal(t, "evt_007", ev.ID)

	row.EventID = ""
	_, ok = projectRow(row)
	require.False(t, ok)

	conf := 0.95
	row = makeRow(8, eventdb.StatusLive, 0.5)
	row.Detections = dbh.MakeJSONField([]*eventdb.DetectionJSON{{Type: "weapon", Confidence: &conf}})
	ev, ok = projectRow(row)
	require.True(t, ok)
	require.Equal(t, "weapon", ev.Detected)
}

func TestParseRawRow(t *testing.T) {
	// Top-level fields win over the nested payload
	raw := []byte(`{
		"id": 5,
		"camera_id": "cam-09",
		"payload": {
			"id": 99,
			"camera_id": "cam-88",
			"status": "accepted",
			"combined_score": 0.4
		}
	}`)
	row, err := ParseRawRow(raw)
	require.NoError(t, err)
	require.Equal(t, int64(5), row.ID)
	require.Equal(t, "cam-09", row.CameraID)
	// Fields absent at the top level fall back to the payload
	require.Equal(t, "accepted", row.Status)
	require.Equal(t, 0.4, *row.CombinedScore)

	_, err = ParseRawRow([]byte("not json"))
	require.Error(t, err)
}

func TestInsertIdempotent(t *testing.T) {
	store, _, _ := createTestStore(t)
	store.Subscribe()
	defer store.Close()

	row := makeRow(1, eventdb.StatusLive, 0.5)
	store.handleInsert(row)
	store.handleInsert(row)

	require.Len(t, store.Live(), 1)
	require.Empty(t, store.Past())
	checkExclusive(t, store)
}

func TestUpdateIdempotent(t *testing.T) {
	store, _, _ := createTestStore(t)
	store.Subscribe()
	defer store.Close()

	store.handleInsert(makeRow(1, eventdb.StatusLive, 0.5))
	store.handleUpdate(makeRow(1, eventdb.StatusAccepted, 0.5))
	store.handleUpdate(makeRow(1, eventdb.StatusAccepted, 0.5))

	require.Empty(t, store.Live())
	require.Len(t, store.Past(), 1)
	require.Equal(t, eventdb.StatusAccepted, store.Past()[0].Status)
	checkExclusive(t, store)
}

func TestReopenAndUnrecognizedStatus(t *testing.T) {
	store, _, _ := createTestStore(t)
	store.Subscribe()
	defer store.Close()

	store.handleInsert(makeRow(1, eventdb.StatusLive, 0.5))
	store.handleUpdate(makeRow(1, eventdb.StatusRejected, 0.5))
	require.Empty(t, store.Live())
	require.Len(t, store.Past(), 1)

	// Reopening via the feed moves it back to live
	store.handleUpdate(makeRow(1, eventdb.StatusLive, 0.5))
	require.Len(t, store.Live(), 1)
	require.Empty(t, store.Past())
	checkExclusive(t, store)

	// An unrecognized status corrupts neither collection
	store.handleUpdate(makeRow(1, "exploded", 0.5))
	require.Len(t, store.Live(), 1)
	require.Empty(t, store.Past())
	checkExclusive(t, store)
}

func TestSubscribeReentrant(t *testing.T) {
	store, _, _ := createTestStore(t)

	store.Subscribe()
	first := store.feed
	require.NotNil(t, first)

	// A second Subscribe while active is a no-op
	store.Subscribe()
	require.Equal(t, first, store.feed)

	store.Close()
	require.False(t, store.active)
	// Close while not subscribed is also a no-op
	store.Close()
}

func TestCloseMakesCallbacksNoops(t *testing.T) {
	store, _, _ := createTestStore(t)
	store.Subscribe()
	store.Close()

	store.handleInsert(makeRow(1, eventdb.StatusLive, 0.5))
	require.Empty(t, store.Live())
}

func TestApproveRejectRace(t *testing.T) {
	store, db, _ := createTestStore(t)
	store.Subscribe()
	defer store.Close()

	ev := makeRow(0, eventdb.StatusLive, 0.9)
	require.NoError(t, db.AddEvent(ev))
	require.NoError(t, store.LoadInitial(5))
	require.Len(t, store.Live(), 1)
	id := store.Live()[0].ID

	// Approve wins, the later reject finds the id gone from live and is a no-op
	require.NoError(t, store.Approve(id))
	require.NoError(t, store.Reject(id))

	require.Empty(t, store.Live())
	require.Len(t, store.Past(), 1)
	require.Equal(t, eventdb.StatusAccepted, store.Past()[0].Status)
	checkExclusive(t, store)

	stored, err := db.GetEvent(ev.ID)
	require.NoError(t, err)
	require.Equal(t, eventdb.StatusAccepted, stored.Status)
}

func TestApproveRejectConcurrent(t *testing.T) {
	store, db, _ := createTestStore(t)

	ev := makeRow(0, eventdb.StatusLive, 0.9)
	require.NoError(t, db.AddEvent(ev))
	require.NoError(t, store.LoadInitial(5))
	id := store.Live()[0].ID

	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		store.Approve(id)
	}()
	go func() {
		defer wg.Done()
		store.Reject(id)
	}()
	wg.Wait()

	// Whichever write completed first won, but there is exactly one terminal entry
	require.Empty(t, store.Live())
	require.Len(t, store.Past(), 1)
	require.Contains(t, []string{eventdb.StatusAccepted, eventdb.StatusRejected}, store.Past()[0].Status)
	checkExclusive(t, store)
}

// failingBackend wraps a Backend and fails all writes.
type failingBackend struct {
	Backend
}

func (f *failingBackend) SetEventStatus(id int64, status string) error {
	return fmt.Errorf("simulated write failure")
}

func TestApproveFailureLeavesLiveUnchanged(t *testing.T) {
	store, db, notifier := createTestStore(t)
	store.backend = &failingBackend{Backend: db}

	require.NoError(t, db.AddEvent(makeRow(0, eventdb.StatusLive, 0.9)))
	require.NoError(t, store.LoadInitial(5))
	id := store.Live()[0].ID

	require.Error(t, store.Approve(id))
	require.Len(t, store.Live(), 1)
	require.Empty(t, store.Past())

	recent := notifier.Recent()
	require.Len(t, recent, 1)
	require.Equal(t, notifications.PriorityError, recent[0].Priority)
}

func TestApproveUnknownIDIsNoop(t *testing.T) {
	store, _, _ := createTestStore(t)
	require.NoError(t, store.Approve("no-such-id"))
	require.NoError(t, store.Reject("no-such-id"))
}

func TestEndToEnd(t *testing.T) {
	store, db, _ := createTestStore(t)

	// 8 rows: 3 live, 3 accepted, 2 rejected
	statuses := []string{
		eventdb.StatusLive, eventdb.StatusAccepted, eventdb.StatusRejected,
		eventdb.StatusLive, eventdb.StatusAccepted, eventdb.StatusRejected,
		eventdb.StatusLive, eventdb.StatusAccepted,
	}
	for _, status := range statuses {
		require.NoError(t, db.AddEvent(makeRow(0, status, 0.6)))
	}

	require.NoError(t, store.LoadInitial(5))
	require.Len(t, store.Live(), 3)
	require.Len(t, store.Past(), 5)
	checkExclusive(t, store)

	store.Subscribe()
	defer store.Close()

	// An insert from the feed grows live
	require.NoError(t, db.AddEvent(makeRow(0, eventdb.StatusLive, 0.7)))
	waitFor(t, func() bool { return len(store.Live()) == 4 })
	require.Len(t, store.Past(), 5)
	checkExclusive(t, store)

	// Approving one of the original live events moves it to past
	var original *Event
	for _, ev := range store.Live() {
		if *ev.CombinedScore == 60.0 {
			original = ev
			break
		}
	}
	require.NotNil(t, original)
	require.NoError(t, store.Approve(original.ID))
	require.Len(t, store.Live(), 3)
	require.Len(t, store.Past(), 6)
	checkExclusive(t, store)

	found := false
	for _, ev := range store.Past() {
		if ev.ID == original.ID {
			found = true
			require.Equal(t, eventdb.StatusAccepted, ev.Status)
		}
	}
	require.True(t, found)

	// The feed's own update notification for the approved row is a replay no-op
	time.Sleep(20 * time.Millisecond)
	require.Len(t, store.Live(), 3)
	require.Len(t, store.Past(), 6)
	checkExclusive(t, store)
}

func TestSimulateScoreModel(t *testing.T) {
	store, _, _ := createTestStore(t)

	for i := 0; i < 50; i++ {
		ev := store.SimulateAIModelEvent()
		require.NotNil(t, ev.CombinedScore)
		require.NotNil(t, ev.Scores.Video)
		require.NotNil(t, ev.Scores.Audio)
		video := *ev.Scores.Video
		audio := *ev.Scores.Audio
		require.GreaterOrEqual(t, video, 0.0)
		require.LessOrEqual(t, video, 100.0)
		require.InDelta(t, (video+audio)/2, *ev.CombinedScore, 1e-9)

		// Sub-scores stay within the severity band plus the 10 point jitter
		switch ev.Severity {
		case eventdb.SeverityHigh:
			require.GreaterOrEqual(t, video, 65.0)
		case eventdb.SeverityMedium:
			require.GreaterOrEqual(t, video, 40.0)
			require.LessOrEqual(t, video, 85.0)
		case eventdb.SeverityLow:
			require.GreaterOrEqual(t, video, 15.0)
			require.LessOrEqual(t, video, 60.0)
		default:
			t.Fatalf("Unexpected severity %v", ev.Severity)
		}
	}
	require.Len(t, store.Live(), 50)
	checkExclusive(t, store)
}

func TestHighSeverityInterrupt(t *testing.T) {
	store, _, notifier := createTestStore(t)
	store.Subscribe()
	defer store.Close()

	ch := store.AddInterruptWatcher()
	defer store.RemoveInterruptWatcher(ch)

	// Feed event with high severity triggers the interrupt
	row := makeRow(1, eventdb.StatusLive, 0.95)
	row.Severity = eventdb.SeverityHigh
	store.handleInsert(row)

	interrupted := <-ch
	require.Equal(t, "1", interrupted.ID)
	require.Equal(t, eventdb.SeverityHigh, interrupted.Severity)

	// Synthetic events trigger it too
	for i := 0; i < 50; i++ {
		ev := store.SimulateEvent()
		if ev.Severity == eventdb.SeverityHigh {
			interrupted = <-ch
			require.Equal(t, ev.ID, interrupted.ID)
		}
	}

	// Interrupt notifications carry the distinguished priority
	sawInterrupt := false
	for _, n := range notifier.Recent() {
		if n.Priority == notifications.PriorityInterrupt {
			sawInterrupt = true
		}
	}
	require.True(t, sawInterrupt)
}
