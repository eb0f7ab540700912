package eventsync

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/safehalls/safehalls/server/eventdb"
)

// Synthetic event vocabulary for demos and tests.
var (
	simCameraIDs      = []string{"cam-01", "cam-02", "cam-03", "cam-04", "cam-05"}
	simDetectionTypes = []string{"weapon", "fight", "intrusion", "vandalism"}
	simSeverities     = []string{eventdb.SeverityLow, eventdb.SeverityMedium, eventdb.SeverityHigh}
)

// SimulateEvent prepends a synthetic event to the live collection, without
// any write to the event store. A high severity draw triggers the interrupt
// path, same as a real event.
func (s *EventSyncStore) SimulateEvent() *Event {
	ev := &Event{
		ID:        "evt_" + uuid.NewString(),
		Camera:    cameraLabel(simCameraIDs[rand.Intn(len(simCameraIDs))]),
		Detected:  simDetectionTypes[rand.Intn(len(simDetectionTypes))],
		Timestamp: time.Now().Format(displayTimeFormat),
		Status:    eventdb.StatusLive,
		Severity:  simSeverities[rand.Intn(len(simSeverities))],
	}
	s.insertLocal(ev)
	return ev
}

// SimulateAIModelEvent is SimulateEvent with a severity-weighted score model:
// a base score appropriate to the drawn severity (high 75..100, medium 50..75,
// low 25..50), video and audio sub-scores jittered by up to 10 points around
// the base and clamped to 0..100, and the combined score their mean.
func (s *EventSyncStore) SimulateAIModelEvent() *Event {
	severity := simSeverities[rand.Intn(len(simSeverities))]
	base := 0.0
	switch severity {
	case eventdb.SeverityHigh:
		base = 75 + rand.Float64()*25
	case eventdb.SeverityMedium:
		base = 50 + rand.Float64()*25
	default:
		base = 25 + rand.Float64()*25
	}
	video := clampScore(base + rand.Float64()*20 - 10)
	audio := clampScore(base + rand.Float64()*20 - 10)
	combined := (video + audio) / 2
	ev := &Event{
		ID:            "evt_" + uuid.NewString(),
		Camera:        cameraLabel(simCameraIDs[rand.Intn(len(simCameraIDs))]),
		Detected:      simDetectionTypes[rand.Intn(len(simDetectionTypes))],
		Timestamp:     time.Now().Format(displayTimeFormat),
		Status:        eventdb.StatusLive,
		CombinedScore: &combined,
		Scores:        &Scores{Video: &video, Audio: &audio},
		Severity:      severity,
	}
	s.insertLocal(ev)
	return ev
}

func (s *EventSyncStore) insertLocal(ev *Event) {
	s.lock.Lock()
	s.live = prependEvent(s.live, ev)
	s.lock.Unlock()
	if ev.Severity == eventdb.SeverityHigh {
		s.fireInterrupt(ev)
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
