// Package wsfabric implements the WebSocket Fabric (§4.K, §6.2): a
// single multiplexed endpoint delivering per-project execution
// updates and coalesced logs with best-effort ordering. Grounded on
// the donor's internal/api SSE handler (handlers_events.go) for the
// connect/subscribe/fan-out shape, but built on gorilla/websocket —
// the donor imports the dependency yet no donor file ever opens a
// connection with it; here it carries the real traffic.
package wsfabric

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// FrameType enumerates the envelope kinds §6.2 defines.
type FrameType string

const (
	FrameExecutionUpdate FrameType = "execution-update"
	FrameExecutionLog    FrameType = "execution-log"
	FrameError           FrameType = "error"
	FrameCompletion      FrameType = "completion"
)

// Frame is the wire envelope every subscriber receives (§4.K).
type Frame struct {
	Type      FrameType   `json:"type"`
	TS        time.Time   `json:"ts"`
	ProjectID string      `json:"projectId"`
	Payload   interface{} `json:"payload"`
}

// ExecutionUpdatePayload is the payload of an execution-update frame (§6.2).
type ExecutionUpdatePayload struct {
	State       string  `json:"state"`
	Progress    float64 `json:"progress"`
	CurrentTask *string `json:"currentTask,omitempty"`
}

// ExecutionLogPayload is the payload of an execution-log frame (§6.2).
type ExecutionLogPayload struct {
	Level    string `json:"level"`
	Message  string `json:"message"`
	NodeName string `json:"nodeName,omitempty"`
}

// ErrorPayload is the payload of an error frame (§6.2).
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CompletionPayload is the payload of a completion frame (§6.2).
type CompletionPayload struct {
	Result string `json:"result"` // done | stopped | error
}

const sendBuffer = 64

// Fabric multiplexes per-project WebSocket subscriptions over the
// single `/ws/devteam` endpoint (§6.2). Delivery is fire-and-forget:
// a slow or gone client only drops its own frames, never blocks
// publishers (§4.K: "fire-and-forget with no replay").
type Fabric struct {
	upgrader       websocket.Upgrader
	maxFrameBytes  int
	coalesceWindow time.Duration

	mu   sync.RWMutex
	subs map[string]map[*client]struct{} // projectID -> clients

	logMu   sync.Mutex
	pending map[string][]Frame // projectID -> buffered execution-log frames
	timers  map[string]*time.Timer
}

// New builds a Fabric. maxFrameBytes and coalesceWindow come from the
// WS_MAX_FRAME_BYTES / WS_COALESCE_MS configuration (§6.5).
func New(maxFrameBytes int, coalesceWindow time.Duration) *Fabric {
	if maxFrameBytes <= 0 {
		maxFrameBytes = 65536
	}
	if coalesceWindow <= 0 {
		coalesceWindow = 50 * time.Millisecond
	}
	return &Fabric{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		maxFrameBytes:  maxFrameBytes,
		coalesceWindow: coalesceWindow,
		subs:           make(map[string]map[*client]struct{}),
		pending:        make(map[string][]Frame),
		timers:         make(map[string]*time.Timer),
	}
}

type client struct {
	conn      *websocket.Conn
	send      chan Frame
	projectID string
}

type subscribeMessage struct {
	Subscribe struct {
		ProjectID string `json:"projectId"`
	} `json:"subscribe"`
}

// ServeHTTP upgrades the connection and services it until the client
// disconnects. The client's first message must be a subscribe
// envelope; frames begin flowing only once projectId is known.
func (f *Fabric) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan Frame, sendBuffer)}
	done := make(chan struct{})
	go f.writePump(c, done)
	f.readPump(c, done)
}

func (f *Fabric) readPump(c *client, done chan struct{}) {
	defer func() {
		close(done)
		f.unsubscribe(c)
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Subscribe.ProjectID != "" && msg.Subscribe.ProjectID != c.projectID {
			f.unsubscribe(c)
			c.projectID = msg.Subscribe.ProjectID
			f.subscribe(c)
		}
	}
}

func (f *Fabric) writePump(c *client, done chan struct{}) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Fabric) subscribe(c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[c.projectID]
	if !ok {
		set = make(map[*client]struct{})
		f.subs[c.projectID] = set
	}
	set[c] = struct{}{}
}

func (f *Fabric) unsubscribe(c *client) {
	if c.projectID == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.subs[c.projectID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(f.subs, c.projectID)
		}
	}
}

// Publish delivers frame immediately to every subscriber of
// frame.ProjectID, dropping oversize payloads with a substitute error
// frame per §4.K / §8 boundary behavior.
func (f *Fabric) Publish(frame Frame) {
	if frame.TS.IsZero() {
		frame.TS = time.Now()
	}
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("wsfabric: marshal frame for %s: %v", frame.ProjectID, err)
		return
	}
	if len(data) > f.maxFrameBytes {
		f.deliver(Frame{
			Type:      FrameError,
			TS:        time.Now(),
			ProjectID: frame.ProjectID,
			Payload:   ErrorPayload{Code: "frame_too_large", Message: "frame dropped: payload exceeds max frame size"},
		})
		return
	}
	f.deliver(frame)
}

// PublishLog buffers an execution-log frame and flushes the project's
// pending batch after the coalesce window, preserving arrival order
// within the project (§4.K).
func (f *Fabric) PublishLog(projectID string, payload ExecutionLogPayload) {
	frame := Frame{Type: FrameExecutionLog, TS: time.Now(), ProjectID: projectID, Payload: payload}

	f.logMu.Lock()
	defer f.logMu.Unlock()

	f.pending[projectID] = append(f.pending[projectID], frame)
	if _, scheduled := f.timers[projectID]; scheduled {
		return
	}
	f.timers[projectID] = time.AfterFunc(f.coalesceWindow, func() { f.flushLogs(projectID) })
}

func (f *Fabric) flushLogs(projectID string) {
	f.logMu.Lock()
	frames := f.pending[projectID]
	delete(f.pending, projectID)
	delete(f.timers, projectID)
	f.logMu.Unlock()

	for _, frame := range frames {
		f.deliver(frame)
	}
}

func (f *Fabric) deliver(frame Frame) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.subs[frame.ProjectID] {
		select {
		case c.send <- frame:
		default:
			// slow subscriber: drop rather than block the publisher.
		}
	}
}
