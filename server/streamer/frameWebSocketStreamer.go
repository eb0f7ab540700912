package streamer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/safehalls/safehalls/server/stream"
)

type webSocketMsg int

const (
	webSocketMsgPause  webSocketMsg = iota // pause stream (eg browser tab deactivated)
	webSocketMsgResume                     // resume stream (eg browser tab reactivated)
	webSocketMsgClosed
)

// Sent by client over websocket
// SYNC-WEBSOCKET-JSON-MSG
type webSocketJSON struct {
	Command string `json:"command"`
}

// Sent by us over websocket. Same shape as the detection server's own feed,
// so the dashboard has one frame decoder (SYNC-STREAM-WIRE-JSON).
type webSocketFrameJSON struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

var nextWebSocketStreamerID int64

// FrameWebSocketStreamer relays JPEG frames from a camera's stream client to
// one dashboard websocket.
type FrameWebSocketStreamer struct {
	log        logs.Log
	streamerID int64 // Intended to aid in logging/debugging
	cameraName string
	paused     atomic.Bool

	lastDropMsg    time.Time
	nFramesDropped int64
	nFramesSent    int64
}

// RunFrameWebSocketStreamer blocks until the client disconnects or shutdown
// is closed.
func RunFrameWebSocketStreamer(cameraName string, logger logs.Log, conn *websocket.Conn, client *stream.StreamClient, shutdown chan bool) {
	s := &FrameWebSocketStreamer{
		log:        logger,
		streamerID: atomic.AddInt64(&nextWebSocketStreamerID, 1),
		cameraName: cameraName,
	}
	s.run(conn, client, shutdown)
}

func (s *FrameWebSocketStreamer) run(conn *websocket.Conn, client *stream.StreamClient, shutdown chan bool) {
	s.log.Infof("Camera %v WebSocket %v starting", s.cameraName, s.streamerID)
	defer conn.Close()

	frames := client.AddFrameWatcher()
	defer func() {
		client.RemoveFrameWatcher(frames)
		// Drain frames that arrived between RemoveFrameWatcher and now
		for {
			select {
			case frame := <-frames:
				frame.Release()
			default:
				return
			}
		}
	}()

	fromClient := make(chan webSocketMsg, 8)
	go s.readLoop(conn, fromClient)

	for {
		select {
		case <-shutdown:
			return
		case msg := <-fromClient:
			switch msg {
			case webSocketMsgPause:
				s.paused.Store(true)
			case webSocketMsgResume:
				s.paused.Store(false)
			case webSocketMsgClosed:
				return
			}
		case frame := <-frames:
			if s.paused.Load() {
				frame.Release()
				continue
			}
			if err := s.sendFrame(conn, frame); err != nil {
				frame.Release()
				s.log.Infof("Camera %v WebSocket %v closed: %v", s.cameraName, s.streamerID, err)
				return
			}
			frame.Release()
		}
	}
}

func (s *FrameWebSocketStreamer) sendFrame(conn *websocket.Conn, frame *stream.Frame) error {
	msg := webSocketFrameJSON{
		Type:      "frame",
		Data:      base64.StdEncoding.EncodeToString(frame.JPEG()),
		Timestamp: frame.Time.UnixMilli(),
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(&msg); err != nil {
		return err
	}
	s.nFramesSent++
	return nil
}

func (s *FrameWebSocketStreamer) readLoop(conn *websocket.Conn, fromClient chan webSocketMsg) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			fromClient <- webSocketMsgClosed
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg := webSocketJSON{}
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warnf("Camera %v WebSocket %v received invalid message: %v", s.cameraName, s.streamerID, err)
			continue
		}
		switch msg.Command {
		case "pause":
			fromClient <- webSocketMsgPause
		case "resume":
			fromClient <- webSocketMsgResume
		default:
			s.log.Warnf("Camera %v WebSocket %v received unknown command '%v'", s.cameraName, s.streamerID, msg.Command)
		}
	}
}

func (s *FrameWebSocketStreamer) String() string {
	return fmt.Sprintf("Camera %v WebSocket %v", s.cameraName, s.streamerID)
}
