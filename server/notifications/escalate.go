package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/safehalls/safehalls/pkg/dedupe"
)

// Threat categories by threat level (0..100).
func ThreatCategory(threatLevel int) string {
	if threatLevel < 40 {
		return "Low - monitoring"
	} else if threatLevel < 70 {
		return "Elevated - stay alert indoors"
	}
	return "Severe - shelter in place"
}

// Confidence label for the police brief, on the same thresholds as ThreatCategory.
func ThreatConfidence(threatLevel int) string {
	if threatLevel < 40 {
		return "Low"
	} else if threatLevel < 70 {
		return "Medium"
	}
	return "High"
}

type EscalatorConfig struct {
	StudentNotifyURL string        `json:"studentNotifyUrl"` // Webhook of the student/principal alert service. Empty disables the call.
	PoliceNotifyURL  string        `json:"policeNotifyUrl"`  // Webhook of the police reporter service. Empty disables the call.
	APIKey           string        `json:"apiKey"`           // Bearer token for the webhook services
	StageDelay       time.Duration `json:"stageDelay"`       // Pause between the principal and police stages
}

// Incident is the context that accompanies an escalation.
type Incident struct {
	EventID       string
	Location      string  // Camera label
	Timestamp     string  // Display-formatted event time
	CombinedScore float64 // Percent, 0..100
	VideoScore    float64 // Percent, 0..100
	AudioScore    float64 // Percent, 0..100
}

// Escalator runs the two-stage alert ladder when an operator confirms an
// event as a real threat: first "notifying principal" (student alert webhook),
// then after StageDelay, "notifying police" (police reporter webhook).
// Repeated escalations of the same event are suppressed.
type Escalator struct {
	log      logs.Log
	notifier *Notifier
	config   EscalatorConfig
	seen     *dedupe.Cache
	client   *http.Client

	lock   sync.Mutex
	closed bool
	timers map[string]*time.Timer
}

func NewEscalator(logger logs.Log, notifier *Notifier, config EscalatorConfig) *Escalator {
	if config.StageDelay == 0 {
		config.StageDelay = 3 * time.Second
	}
	return &Escalator{
		log:      logger,
		notifier: notifier,
		config:   config,
		seen:     dedupe.NewCache(time.Hour, 1000),
		client:   &http.Client{Timeout: 10 * time.Second},
		timers:   map[string]*time.Timer{},
	}
}

// Escalate starts the ladder for an incident. Duplicate calls for the same
// event id within the dedupe window are no-ops.
func (e *Escalator) Escalate(inc Incident) {
	if e.seen.CheckAndMark(inc.EventID) {
		e.log.Infof("Escalation of event %v suppressed (already escalated)", inc.EventID)
		return
	}
	threat := int(inc.CombinedScore)
	e.notifier.Postf(PriorityInfo, inc.EventID, "Threat confirmed at %v. Notifying principal (%v)", inc.Location, ThreatCategory(threat))
	go e.postStudentNotify(inc, threat)

	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return
	}
	e.timers[inc.EventID] = time.AfterFunc(e.config.StageDelay, func() {
		e.lock.Lock()
		delete(e.timers, inc.EventID)
		closed := e.closed
		e.lock.Unlock()
		if closed {
			return
		}
		e.notifier.Postf(PriorityInfo, inc.EventID, "Police have been notified (confidence %v)", ThreatConfidence(threat))
		e.postPoliceNotify(inc, threat)
	})
}

// Close cancels any pending police stages. Escalations already sent stay sent.
func (e *Escalator) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.closed = true
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
}

// SYNC-STUDENT-NOTIFY-JSON
type studentNotifyJSON struct {
	AudioRiskLevel int     `json:"audio_risk_level"`
	ImageRiskLevel int     `json:"image_risk_level"`
	ThreatLevel    int     `json:"threat_level"`
	Timestamp      string  `json:"timestamp"`
	Location       string  `json:"location"`
	MixedScore     float64 `json:"mixed_score"`
}

// SYNC-POLICE-NOTIFY-JSON
type policeNotifyJSON struct {
	VideoLink   string             `json:"video_link"`
	ThreatLevel int                `json:"threat_level"`
	Timestamp   string             `json:"timestamp"`
	Location    string             `json:"location"`
	MixedScore  float64            `json:"mixed_score"`
	Notify      notifyChannelsJSON `json:"notify"`
}

type notifyChannelsJSON struct {
	Email bool `json:"email"`
	Call  bool `json:"call"`
}

func (e *Escalator) postStudentNotify(inc Incident, threat int) {
	if e.config.StudentNotifyURL == "" {
		return
	}
	body := studentNotifyJSON{
		AudioRiskLevel: int(inc.AudioScore),
		ImageRiskLevel: int(inc.VideoScore),
		ThreatLevel:    threat,
		Timestamp:      inc.Timestamp,
		Location:       inc.Location,
		MixedScore:     inc.CombinedScore / 100,
	}
	e.postJSON(e.config.StudentNotifyURL, &body)
}

func (e *Escalator) postPoliceNotify(inc Incident, threat int) {
	if e.config.PoliceNotifyURL == "" {
		return
	}
	body := policeNotifyJSON{
		VideoLink:   "event://" + inc.EventID,
		ThreatLevel: threat,
		Timestamp:   inc.Timestamp,
		Location:    inc.Location,
		MixedScore:  inc.CombinedScore / 100,
		Notify:      notifyChannelsJSON{Email: true, Call: threat >= 70},
	}
	e.postJSON(e.config.PoliceNotifyURL, &body)
}

func (e *Escalator) postJSON(url string, body any) {
	j, _ := json.Marshal(body)
	ctx, cancel := context.WithTimeout(context.Background(), e.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(j))
	if err != nil {
		e.log.Errorf("Failed to create escalation request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.log.Errorf("Escalation POST to %v failed: %v", url, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		e.log.Errorf("Escalation POST to %v failed: %v (%v)", url, resp.Status, string(msg))
	}
}
