package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/safehalls/safehalls/server/detect"
	"github.com/safehalls/safehalls/server/eventdb"
)

// fakecam pretends to be a detection server. It serves the same websocket
// frame feed that a real camera-side detection server does, and when its
// synthetic detections sustain a high score, it pushes the resulting event
// to a safehalls server's ingest endpoint.

// SYNC-STREAM-WIRE-JSON
type wireMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type fakecam struct {
	log       logs.Log
	cameraID  string
	fps       int
	ingestURL string
	apiToken  string
	agg       *detect.Aggregator
	upgrader  websocket.Upgrader
	frameNum  int
}

func main() {
	parser := argparse.NewParser("fakecam", "Fake detection server for demos and development")
	port := parser.String("p", "port", &argparse.Options{Help: "HTTP listen address", Default: ":8001"})
	cameraID := parser.String("", "camera", &argparse.Options{Help: "Camera id reported on events", Default: "cam-99"})
	fps := parser.Int("", "fps", &argparse.Options{Help: "Frames per second", Default: 5})
	ingestURL := parser.String("", "ingest", &argparse.Options{Help: "Safehalls ingest endpoint (eg http://localhost:8080/api/events/ingest)", Default: ""})
	apiToken := parser.String("", "token", &argparse.Options{Help: "Bearer token for the ingest endpoint", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	f := &fakecam{
		log:       logger,
		cameraID:  *cameraID,
		fps:       *fps,
		ingestURL: *ingestURL,
		apiToken:  *apiToken,
		agg:       detect.NewAggregator(detect.DefaultFramesRequired),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	http.HandleFunc("/ws/video-stream", f.handleStream)
	logger.Infof("fakecam %v listening on %v", f.cameraID, *port)
	if err := http.ListenAndServe(*port, nil); err != nil {
		logger.Errorf("ListenAndServe returned: %v", err)
	}
}

func (f *fakecam) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warnf("Upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	f.log.Infof("Viewer connected from %v", r.RemoteAddr)

	if err := conn.WriteJSON(&wireMessage{Type: "status", Message: "stream started"}); err != nil {
		return
	}

	// Discard client messages, but notice disconnects
	closed := make(chan bool)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(closed)
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(f.fps))
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			f.log.Infof("Viewer %v disconnected", r.RemoteAddr)
			return
		case <-ticker.C:
			frame, detections := f.nextFrame()
			msg := wireMessage{
				Type:      "frame",
				Data:      base64.StdEncoding.EncodeToString(frame),
				Timestamp: time.Now().UnixMilli(),
			}
			if err := conn.WriteJSON(&msg); err != nil {
				return
			}
			if ev := f.agg.AddFrame(f.cameraID, detect.SummarizeFrame(detections, nil)); ev != nil {
				f.pushEvent(ev)
			}
		}
	}
}

// nextFrame renders a synthetic JPEG with a moving block, and rolls the dice
// on synthetic detections. Detections run hot for a stretch of frames so that
// the aggregator's consecutive-frame criterion is actually reachable.
func (f *fakecam) nextFrame() ([]byte, []detect.Detection) {
	f.frameNum++
	const w, h = 320, 240
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{40, 40, 48, 255})
		}
	}
	// Moving block, so consecutive frames differ visibly
	bx := (f.frameNum * 7) % (w - 32)
	by := (f.frameNum * 3) % (h - 32)
	for y := by; y < by+32; y++ {
		for x := bx; x < bx+32; x++ {
			img.Set(x, y, color.RGBA{220, 60, 60, 255})
		}
	}
	buf := bytes.Buffer{}
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70})

	// A "hot" phase every 200 frames, long enough to emit one event
	detections := []detect.Detection{}
	phase := f.frameNum % 200
	if phase < detect.DefaultFramesRequired+2 {
		conf := 0.91 + rand.Float64()*0.08
		detections = append(detections, detect.Detection{Label: "weapon", Confidence: &conf})
	}
	return buf.Bytes(), detections
}

func (f *fakecam) pushEvent(ev *eventdb.SecurityEvent) {
	f.log.Infof("Emitting event %v (severity %v)", ev.EventID, ev.Severity)
	if f.ingestURL == "" {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		f.log.Errorf("Failed to marshal event: %v", err)
		return
	}
	req, err := http.NewRequest("POST", f.ingestURL, bytes.NewReader(body))
	if err != nil {
		f.log.Errorf("Failed to create ingest request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiToken)
	}
	client := http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		f.log.Errorf("Ingest POST failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		f.log.Errorf("Ingest POST returned %v", resp.Status)
	}
}
