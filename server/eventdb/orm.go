package eventdb

import (
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Event status values.
// An event is born "live", and a human moves it to "accepted" or "rejected".
// The change feed may also move it back to "live" (reopening).
const (
	StatusLive     = "live"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Severity values, as classified by the detection server.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// IsValidStatus returns true if status is one of the three known status values.
func IsValidStatus(status string) bool {
	return status == StatusLive || status == StatusAccepted || status == StatusRejected
}

// SecurityEvent is one detected incident requiring human disposition.
// The JSON tags are snake_case because this is also the shape of the rows
// that travel over the change feed (SYNC-SECURITY-EVENT-ROW).
type SecurityEvent struct {
	BaseModel
	EventID       string                            `json:"event_id"`                 // Detection server's own id (evt_<hex>)
	CameraID      string                            `json:"camera_id"`                //
	EventStart    dbh.IntTime                       `json:"event_start"`              // Start of the incident
	EventEnd      dbh.IntTime                       `json:"event_end,omitempty"`      // End of the incident
	CombinedScore *float64                          `json:"combined_score,omitempty"` // 0..1 fraction or 0..100 percent, as produced upstream
	Scores        *dbh.JSONField[ScoresJSON]        `json:"scores,omitempty"`         // Per-modality sub-scores
	Detections    *dbh.JSONField[[]*DetectionJSON]  `json:"detections,omitempty"`     // Raw detection records, opaque to us
	Severity      string                            `json:"severity,omitempty"`       // low, medium, high
	Status        string                            `json:"status"`                   // live, accepted, rejected
	CreatedAt     dbh.IntTime                       `json:"created_at,omitempty"`     //
}

// ScoresJSON holds the per-modality confidence scores of an event.
// Either field may be absent (eg audio is not available in all pipelines).
type ScoresJSON struct {
	Video *float64 `json:"video,omitempty"`
	Audio *float64 `json:"audio,omitempty"`
}

// DetectionJSON is one raw detection record from the detection server.
// We store and forward these for display, but never interpret them beyond
// reading the type of the first record.
type DetectionJSON struct {
	Type       string    `json:"type,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	Box        []float64 `json:"box,omitempty"`
	Timestamp  string    `json:"timestamp,omitempty"`
	FrameID    string    `json:"frame_id,omitempty"`
	Count      int       `json:"count,omitempty"` // Number of frames the label was seen in, for aggregated events
}

// Label of the first detection, or fallback if there are no detections.
func (e *SecurityEvent) FirstDetectionType(fallback string) string {
	if e.Detections != nil {
		dets := e.Detections.Data
		if len(dets) != 0 && dets[0] != nil && dets[0].Type != "" {
			return dets[0].Type
		}
	}
	return fallback
}
