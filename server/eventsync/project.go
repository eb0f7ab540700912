package eventsync

import (
	"encoding/json"
	"strconv"

	"github.com/safehalls/safehalls/server/eventdb"
)

const displayTimeFormat = "2006-01-02 15:04:05"

// Label used when an event has no detection records to name it.
const fallbackDetectionLabel = "Suspicious activity"

// Scores are the per-modality confidence scores of an event, in percent.
type Scores struct {
	Video *float64 `json:"video,omitempty"`
	Audio *float64 `json:"audio,omitempty"`
}

// Event is the dashboard's view of a security event.
type Event struct {
	ID            string                   `json:"id"`
	Camera        string                   `json:"camera"`
	Detected      string                   `json:"detected"`
	Timestamp     string                   `json:"timestamp"`
	Status        string                   `json:"status"`
	CombinedScore *float64                 `json:"combinedScore,omitempty"` // Percent, 0..100
	Scores        *Scores                  `json:"scores,omitempty"`
	Detections    []*eventdb.DetectionJSON `json:"detections,omitempty"`
	Severity      string                   `json:"severity,omitempty"`

	// DB primary key for write-back. Zero for local-only synthetic events.
	rowID int64
}

// Scores arrive either as a 0..1 fraction or as a 0..100 percentage, and we
// display percentages. Note that this rule cannot tell a true fraction of
// exactly 1.0 apart from "already 1 percent"; we map it to 100.
func normalizeScore(v float64) float64 {
	if v <= 1 {
		return v * 100
	}
	return v
}

func normalizeScorePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	n := normalizeScore(*v)
	return &n
}

func cameraLabel(cameraID string) string {
	if cameraID == "" {
		return "Unknown camera"
	}
	return "Camera " + cameraID
}

// projectRow maps a stored row onto the dashboard view model.
// Returns false if the row has no usable id.
func projectRow(row *eventdb.SecurityEvent) (*Event, bool) {
	if row == nil {
		return nil, false
	}
	id := ""
	if row.ID != 0 {
		id = strconv.FormatInt(row.ID, 10)
	} else if row.EventID != "" {
		id = row.EventID
	} else {
		return nil, false
	}
	ev := &Event{
		ID:            id,
		Camera:        cameraLabel(row.CameraID),
		Detected:      row.FirstDetectionType(fallbackDetectionLabel),
		Status:        row.Status,
		CombinedScore: normalizeScorePtr(row.CombinedScore),
		Severity:      row.Severity,
		rowID:         row.ID,
	}
	if !row.EventStart.IsZero() {
		ev.Timestamp = row.EventStart.Get().Format(displayTimeFormat)
	}
	if row.Scores != nil {
		ev.Scores = &Scores{
			Video: normalizeScorePtr(row.Scores.Data.Video),
			Audio: normalizeScorePtr(row.Scores.Data.Audio),
		}
	}
	if row.Detections != nil {
		ev.Detections = row.Detections.Data
	}
	return ev, true
}

// rawRow is a change-feed row as sent by external detection servers. Fields
// may appear at the top level, nested under "payload", or both; top-level
// values take precedence.
type rawRow struct {
	eventdb.SecurityEvent
	Payload *eventdb.SecurityEvent `json:"payload,omitempty"`
}

// ParseRawRow decodes a JSON row, resolving the top-level vs nested-payload
// ambiguity, into a stored-row shape.
func ParseRawRow(data []byte) (*eventdb.SecurityEvent, error) {
	raw := rawRow{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	row := raw.SecurityEvent
	if nested := raw.Payload; nested != nil {
		if row.ID == 0 {
			row.ID = nested.ID
		}
		if row.EventID == "" {
			row.EventID = nested.EventID
		}
		if row.CameraID == "" {
			row.CameraID = nested.CameraID
		}
		if row.EventStart.IsZero() {
			row.EventStart = nested.EventStart
		}
		if row.EventEnd.IsZero() {
			row.EventEnd = nested.EventEnd
		}
		if row.CombinedScore == nil {
			row.CombinedScore = nested.CombinedScore
		}
		if row.Scores == nil {
			row.Scores = nested.Scores
		}
		if row.Detections == nil {
			row.Detections = nested.Detections
		}
		if row.Severity == "" {
			row.Severity = nested.Severity
		}
		if row.Status == "" {
			row.Status = nested.Status
		}
	}
	return &row, nil
}
