package eventdb

import (
	"os"
	"testing"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func createTestDB(t *testing.T) *EventDB {
	os.Remove("test-eventdb.sqlite")
	db, err := NewEventDB(logs.NewTestingLog(t), "test-eventdb.sqlite")
	require.NoError(t, err)
	return db
}

func makeTestEvent(eventID, cameraID string, combined float64) *SecurityEvent {
	video := combined
	audio := combined
	return &SecurityEvent{
		EventID:       eventID,
		CameraID:      cameraID,
		EventStart:    dbh.MakeIntTime(time.Now()),
		CombinedScore: &combined,
		Scores:        dbh.MakeJSONField(ScoresJSON{Video: &video, Audio: &audio}),
		Severity:      SeverityMedium,
	}
}

func TestAddAndFetch(t *testing.T) {
	db := createTestDB(t)

	ev := makeTestEvent("evt_001", "cam-1", 0.85)
	require.NoError(t, db.AddEvent(ev))
	require.NotZero(t, ev.ID)
	require.Equal(t, StatusLive, ev.Status)

	fetched, err := db.GetEvent(ev.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.Equal(t, "evt_001", fetched.EventID)
	require.Equal(t, "cam-1", fetched.CameraID)
	require.Equal(t, 0.85, *fetched.CombinedScore)
	require.Equal(t, 0.85, *fetched.Scores.Data.Video)

	missing, err := db.GetEvent(9999)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestLatestEventsOrder(t *testing.T) {
	db := createTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		ev := makeTestEvent("evt_"+string(rune('a'+i)), "cam-1", 0.5)
		ev.EventStart = dbh.MakeIntTime(base.Add(time.Duration(i) * time.Minute))
		require.NoError(t, db.AddEvent(ev))
	}

	events, err := db.LatestEvents(3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// Newest first
	require.Equal(t, "evt_e", events[0].EventID)
	require.Equal(t, "evt_d", events[1].EventID)
	require.Equal(t, "evt_c", events[2].EventID)
}

func TestSetEventStatus(t *testing.T) {
	db := createTestDB(t)

	ev := makeTestEvent("evt_001", "cam-1", 0.9)
	require.NoError(t, db.AddEvent(ev))

	require.Error(t, db.SetEventStatus(ev.ID, "bogus"))
	require.Error(t, db.SetEventStatus(12345, StatusAccepted))

	require.NoError(t, db.SetEventStatus(ev.ID, StatusAccepted))
	fetched, err := db.GetEvent(ev.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, fetched.Status)
}

func TestChangeFeed(t *testing.T) {
	db := createTestDB(t)

	ch := db.AddWatcher()
	defer db.RemoveWatcher(ch)

	ev := makeTestEvent("evt_001", "cam-1", 0.7)
	require.NoError(t, db.AddEvent(ev))
	require.NoError(t, db.SetEventStatus(ev.ID, StatusRejected))

	insert := <-ch
	require.Equal(t, ChangeInsert, insert.Op)
	require.Equal(t, "evt_001", insert.Event.EventID)

	update := <-ch
	require.Equal(t, ChangeUpdate, update.Op)
	require.Equal(t, StatusRejected, update.Event.Status)
}

func TestPurgeOldEvents(t *testing.T) {
	db := createTestDB(t)
	db.maxEventCount = 3

	base := time.Now().Add(-time.Hour)
	ids := []int64{}
	for i := 0; i < 3; i++ {
		ev := makeTestEvent("evt_"+string(rune('a'+i)), "cam-1", 0.5)
		ev.EventStart = dbh.MakeIntTime(base.Add(time.Duration(i) * time.Minute))
		require.NoError(t, db.AddEvent(ev))
		ids = append(ids, ev.ID)
	}
	// All three are still live, so nothing can be purged
	require.NoError(t, db.AddEvent(makeTestEvent("evt_x", "cam-1", 0.5)))
	count := int64(0)
	require.NoError(t, db.DB.Model(&SecurityEvent{}).Count(&count).Error)
	require.Equal(t, int64(4), count)

	// Dispose the oldest, and the next insert purges it
	require.NoError(t, db.SetEventStatus(ids[0], StatusRejected))
	require.NoError(t, db.AddEvent(makeTestEvent("evt_y", "cam-1", 0.5)))
	gone, err := db.GetEvent(ids[0])
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestFirstDetectionType(t *testing.T) {
	conf := 0.9
	ev := &SecurityEvent{}
	require.Equal(t, "unknown", ev.FirstDetectionType("unknown"))

	ev.Detections = dbh.MakeJSONField([]*DetectionJSON{
		{Type: "weapon", Confidence: &conf},
		{Type: "fight"},
	})
	require.Equal(t, "weapon", ev.FirstDetectionType("unknown"))
}
