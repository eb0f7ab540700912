package stream

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/safehalls/safehalls/server/notifications"
)

type State string

const (
	StateIdle         State = "idle"         // Not connected, and not trying to be
	StateConnecting   State = "connecting"   // Dial in progress
	StateConnected    State = "connected"    // Receiving frames
	StateReconnecting State = "reconnecting" // Waiting for the reconnect timer
)

// Messages from the detection server.
// SYNC-STREAM-WIRE-JSON
type wireMessage struct {
	Type      string `json:"type"`                // frame | status | error
	Data      string `json:"data,omitempty"`      // base64 JPEG, for frame messages
	Message   string `json:"message,omitempty"`   // for status and error messages
	Timestamp int64  `json:"timestamp,omitempty"` // unix milliseconds
}

const (
	wireTypeFrame  = "frame"
	wireTypeStatus = "status"
	wireTypeError  = "error"
)

const (
	DefaultReconnectAttempts = 3
	DefaultReconnectDelay    = 2 * time.Second
)

// StreamClient maintains the one upstream connection to a detection server's
// frame feed, and fans the frames out to any number of dashboard sessions.
// Unsolicited closes are retried a bounded number of times; a manual Stop
// always wins over a pending reconnect.
type StreamClient struct {
	log      logs.Log
	url      string
	notifier *notifications.Notifier // Optional

	// Reconnect policy. Defaults are applied by NewStreamClient; tests shrink these.
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// Everything below is guarded by lock. The generation counter increments
	// whenever the caller starts or stops the client, which turns callbacks
	// from a superseded connection into no-ops.
	lock           sync.Mutex
	state          State
	generation     int64
	conn           *websocket.Conn
	latest         *Frame
	attemptsLeft   int
	reconnectTimer *time.Timer
	frameWatchers  []chan *Frame
}

func NewStreamClient(logger logs.Log, url string, notifier *notifications.Notifier) *StreamClient {
	return &StreamClient{
		log:               logger,
		url:               url,
		notifier:          notifier,
		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectDelay:    DefaultReconnectDelay,
		state:             StateIdle,
	}
}

// Start opens the connection. Calling Start while connecting, connected, or
// waiting on a reconnect is a no-op.
func (c *StreamClient) Start() {
	c.lock.Lock()
	if c.state != StateIdle {
		c.lock.Unlock()
		return
	}
	c.state = StateConnecting
	c.generation++
	c.attemptsLeft = c.ReconnectAttempts
	gen := c.generation
	c.lock.Unlock()
	go c.connect(gen, false)
}

// Stop closes the connection and cancels any pending reconnect. The manual
// stop takes precedence: no reconnect fires after Stop returns. Calling Stop
// while idle is a no-op.
func (c *StreamClient) Stop() {
	c.lock.Lock()
	if c.state == StateIdle {
		c.lock.Unlock()
		return
	}
	c.generation++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateIdle
	c.releaseLatestLocked()
	c.lock.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.log.Infof("Stream stopped")
}

// Connected returns true while frames are flowing.
func (c *StreamClient) Connected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state == StateConnected
}

func (c *StreamClient) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// LatestFrame returns the most recent frame, or nil. The caller must Release
// the frame when done with it.
func (c *StreamClient) LatestFrame() *Frame {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.latest != nil {
		c.latest.Retain()
	}
	return c.latest
}

// AddFrameWatcher registers a channel that receives every incoming frame.
// The receiver must Release each frame. Frames are dropped, not queued,
// when the watcher falls behind.
func (c *StreamClient) AddFrameWatcher() chan *Frame {
	c.lock.Lock()
	defer c.lock.Unlock()
	ch := make(chan *Frame, 10)
	c.frameWatchers = append(c.frameWatchers, ch)
	return ch
}

func (c *StreamClient) RemoveFrameWatcher(ch chan *Frame) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for i, w := range c.frameWatchers {
		if w == ch {
			c.frameWatchers = append(c.frameWatchers[:i], c.frameWatchers[i+1:]...)
			return
		}
	}
	c.log.Warnf("StreamClient.RemoveFrameWatcher failed to find channel")
}

func (c *StreamClient) connect(gen int64, isReconnect bool) {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)

	c.lock.Lock()
	if c.generation != gen {
		c.lock.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.log.Errorf("Failed to connect to stream %v: %v", c.url, err)
		if isReconnect {
			c.scheduleReconnectLocked(gen)
			return
		}
		c.state = StateIdle
		c.lock.Unlock()
		if c.notifier != nil {
			c.notifier.Postf(notifications.PriorityError, "", "Failed to connect to camera stream")
		}
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.lock.Unlock()

	c.log.Infof("Stream connected to %v", c.url)
	go c.readLoop(conn, gen)
}

func (c *StreamClient) readLoop(conn *websocket.Conn, gen int64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onClosed(gen)
			return
		}
		c.onMessage(gen, data)
	}
}

func (c *StreamClient) onMessage(gen int64, data []byte) {
	msg := wireMessage{}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warnf("Ignoring malformed stream message: %v", err)
		return
	}
	switch msg.Type {
	case wireTypeFrame:
		frame, err := decodeFrame(msg.Data)
		if err != nil {
			c.log.Warnf("Ignoring frame with bad payload: %v", err)
			return
		}
		c.installFrame(gen, frame)
	case wireTypeStatus:
		c.log.Infof("Stream status: %v", msg.Message)
	case wireTypeError:
		c.log.Errorf("Stream error: %v", msg.Message)
		if c.notifier != nil {
			c.notifier.Postf(notifications.PriorityError, "", "Camera stream error: %v", msg.Message)
		}
	default:
		c.log.Warnf("Ignoring stream message of unknown type '%v'", msg.Type)
	}
}

// installFrame replaces the latest-frame slot and fans the frame out.
// The prior frame's buffer is released as part of the swap, so repeated
// frames never accumulate decode buffers.
func (c *StreamClient) installFrame(gen int64, frame *Frame) {
	c.lock.Lock()
	if c.generation != gen {
		c.lock.Unlock()
		frame.Release()
		return
	}
	prior := c.latest
	c.latest = frame
	for _, ch := range c.frameWatchers {
		if len(ch) >= cap(ch) {
			continue
		}
		frame.Retain()
		ch <- frame
	}
	c.lock.Unlock()
	if prior != nil {
		prior.Release()
	}
}

func (c *StreamClient) onClosed(gen int64) {
	c.lock.Lock()
	if c.generation != gen {
		// Manual stop, or a newer Start, already owns the state
		c.lock.Unlock()
		return
	}
	c.conn = nil
	c.scheduleReconnectLocked(gen)
}

// Called with lock held; releases it.
func (c *StreamClient) scheduleReconnectLocked(gen int64) {
	if c.attemptsLeft > 0 {
		c.attemptsLeft--
		c.state = StateReconnecting
		attempt := c.ReconnectAttempts - c.attemptsLeft
		c.reconnectTimer = time.AfterFunc(c.ReconnectDelay, func() {
			c.reconnectFire(gen)
		})
		c.lock.Unlock()
		c.log.Warnf("Stream connection lost. Reconnecting in %v (attempt %v/%v)", c.ReconnectDelay, attempt, c.ReconnectAttempts)
		return
	}
	c.state = StateIdle
	c.releaseLatestLocked()
	c.lock.Unlock()
	c.log.Errorf("Stream connection lost. Giving up after %v attempts", c.ReconnectAttempts)
	if c.notifier != nil {
		c.notifier.Postf(notifications.PriorityError, "", "Connection to camera lost")
	}
}

func (c *StreamClient) reconnectFire(gen int64) {
	c.lock.Lock()
	if c.generation != gen || c.state != StateReconnecting {
		c.lock.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.state = StateConnecting
	c.lock.Unlock()
	go c.connect(gen, true)
}

func (c *StreamClient) releaseLatestLocked() {
	if c.latest != nil {
		c.latest.Release()
		c.latest = nil
	}
}

func decodeFrame(payload string) (*Frame, error) {
	buf := getFrameBuffer(base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(*buf, []byte(payload))
	if err != nil {
		putFrameBuffer(buf)
		return nil, err
	}
	return newFrame(buf, n), nil
}
