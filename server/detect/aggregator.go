package detect

import (
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/google/uuid"
	"github.com/safehalls/safehalls/server/eventdb"
)

// Severity thresholds on the combined score. A run of frames below the low
// threshold never becomes an event.
const (
	LowSeverityThreshold    = 0.70
	MediumSeverityThreshold = 0.80
	HighSeverityThreshold   = 0.90
)

const DefaultFramesRequired = 10

// Detection is one raw model detection within a frame.
type Detection struct {
	Label      string
	Confidence *float64
}

// FrameSummary is the per-frame digest that feeds the aggregator.
type FrameSummary struct {
	Time          time.Time
	VideoScore    float64  // Max detection confidence, 0..1
	AudioScore    *float64 // nil when the pipeline has no audio
	CombinedScore float64
	Detections    []Detection
}

// CombinedScore mixes the two modality scores. Video dominates; with no
// audio the video score passes through unchanged.
func CombinedScore(video float64, audio *float64) float64 {
	if audio == nil {
		return round4(video)
	}
	v := clamp01(video)
	a := clamp01(*audio)
	return round4(0.9*v + 0.1*a)
}

// SummarizeFrame digests one frame's detections. The frame's video score is
// the maximum detection confidence, zero when there are no detections.
func SummarizeFrame(detections []Detection, audio *float64) FrameSummary {
	video := 0.0
	for _, d := range detections {
		if d.Confidence != nil && *d.Confidence > video {
			video = *d.Confidence
		}
	}
	return FrameSummary{
		Time:          time.Now(),
		VideoScore:    video,
		AudioScore:    audio,
		CombinedScore: CombinedScore(video, audio),
		Detections:    detections,
	}
}

// Aggregator turns runs of consecutive qualifying frames into events. An
// event is emitted for a camera only when its last framesRequired frames all
// clear a severity threshold; the highest threshold that all frames clear
// determines the event's severity. Emitting clears the camera's buffer, so
// a sustained detection produces one event per framesRequired frames rather
// than one per frame.
type Aggregator struct {
	framesRequired int
	lock           sync.Mutex
	buffers        map[string][]FrameSummary
}

func NewAggregator(framesRequired int) *Aggregator {
	if framesRequired <= 0 {
		framesRequired = DefaultFramesRequired
	}
	return &Aggregator{
		framesRequired: framesRequired,
		buffers:        map[string][]FrameSummary{},
	}
}

// AddFrame feeds one frame summary, and returns an event when the emission
// criteria are met, otherwise nil.
func (a *Aggregator) AddFrame(cameraID string, summary FrameSummary) *eventdb.SecurityEvent {
	if summary.Time.IsZero() {
		summary.Time = time.Now()
	}
	a.lock.Lock()
	defer a.lock.Unlock()

	buf := append(a.buffers[cameraID], summary)
	if len(buf) > a.framesRequired {
		buf = buf[len(buf)-a.framesRequired:]
	}
	a.buffers[cameraID] = buf
	if len(buf) < a.framesRequired {
		return nil
	}

	severity := ""
	if allAbove(buf, HighSeverityThreshold) {
		severity = eventdb.SeverityHigh
	} else if allAbove(buf, MediumSeverityThreshold) {
		severity = eventdb.SeverityMedium
	} else if allAbove(buf, LowSeverityThreshold) {
		severity = eventdb.SeverityLow
	}
	if severity == "" {
		return nil
	}

	ev := a.buildEvent(cameraID, buf, severity)
	delete(a.buffers, cameraID)
	return ev
}

func (a *Aggregator) buildEvent(cameraID string, buf []FrameSummary, severity string) *eventdb.SecurityEvent {
	sumCombined := 0.0
	sumVideo := 0.0
	sumAudio := 0.0
	nAudio := 0
	for _, f := range buf {
		sumCombined += f.CombinedScore
		sumVideo += f.VideoScore
		if f.AudioScore != nil {
			sumAudio += *f.AudioScore
			nAudio++
		}
	}
	combined := round4(sumCombined / float64(len(buf)))
	video := round4(sumVideo / float64(len(buf)))
	scores := eventdb.ScoresJSON{Video: &video}
	if nAudio > 0 {
		audio := round4(sumAudio / float64(nAudio))
		scores.Audio = &audio
	}

	// Aggregate detections per label: occurrence count plus average confidence
	type bucket struct {
		sumConf float64
		nConf   int
		count   int
	}
	buckets := map[string]*bucket{}
	order := []string{}
	for _, f := range buf {
		for _, d := range f.Detections {
			label := d.Label
			if label == "" {
				label = "unknown"
			}
			b := buckets[label]
			if b == nil {
				b = &bucket{}
				buckets[label] = b
				order = append(order, label)
			}
			if d.Confidence != nil {
				b.sumConf += *d.Confidence
				b.nConf++
			}
			b.count++
		}
	}
	detections := []*eventdb.DetectionJSON{}
	for _, label := range order {
		b := buckets[label]
		d := &eventdb.DetectionJSON{
			Type:  label,
			Count: b.count,
		}
		if b.nConf > 0 {
			avg := round4(b.sumConf / float64(b.nConf))
			d.Confidence = &avg
		}
		detections = append(detections, d)
	}

	u := uuid.New()
	return &eventdb.SecurityEvent{
		EventID:       "evt_" + hex.EncodeToString(u[:]),
		CameraID:      cameraID,
		EventStart:    dbh.MakeIntTime(buf[0].Time),
		EventEnd:      dbh.MakeIntTime(buf[len(buf)-1].Time),
		CombinedScore: &combined,
		Scores:        dbh.MakeJSONField(scores),
		Detections:    dbh.MakeJSONField(detections),
		Severity:      severity,
		Status:        eventdb.StatusLive,
	}
}

func allAbove(buf []FrameSummary, threshold float64) bool {
	for _, f := range buf {
		if f.CombinedScore < threshold {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
