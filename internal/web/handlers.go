package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/PanTilt/internal/command"
	"github.com/cjeanneret/PanTilt/internal/debug"
	"github.com/cjeanneret/PanTilt/internal/logic/dispatch"
	"github.com/cjeanneret/PanTilt/internal/logic/motion"
)

// maxBodyBytes bounds a POST /command body.
const maxBodyBytes = 4 << 10

// Reply statuses for command submission.
const (
	StatusQueued = "queued"
	StatusFull   = "full"
	StatusError  = "error"
)

var errNotConfigured = errors.New("command queue not configured")

// Machine is the read side of the motion coordinator shown by /status.
type Machine interface {
	Snapshot() []motion.AxisState
	State() string
	Mode() motion.Mode
	Ready() bool
}

// CommandRequest is the POST /command body.
type CommandRequest struct {
	Command string `json:"command"`
}

// CommandReply answers POST /command and every WebSocket message.
type CommandReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Status is the GET /status payload.
type Status struct {
	Ready    bool               `json:"ready"`
	State    string             `json:"state"`
	Mode     string             `json:"mode"`
	Axes     []motion.AxisState `json:"axes"`
	Queued   int                `json:"queued"`
	Capacity int                `json:"capacity"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Queue       *command.Channel
	Notify      func() // called after each queued command
	Machine     Machine
	staticFS    fs.FS
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
// If queue is nil, command submission answers 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, queue *command.Channel, notify func(), machine Machine, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Queue:       queue,
		Notify:      notify,
		Machine:     machine,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // any origin on the LAN
			},
		},
	}
}

// Submit validates text and queues it. It never blocks: a full queue is
// reported as StatusFull.
func (h *Handlers) Submit(text string) (CommandReply, error) {
	text = strings.TrimSpace(text)
	if h.Queue == nil {
		return CommandReply{Status: StatusError, Error: errNotConfigured.Error()}, errNotConfigured
	}
	if _, err := dispatch.Parse(text); err != nil {
		return CommandReply{Status: StatusError, Error: err.Error()}, err
	}
	switch st := h.Queue.PutString(text); st {
	case command.Success:
		if h.Notify != nil {
			h.Notify()
		}
		debug.Live("Queued %q from web", text)
		return CommandReply{Status: StatusQueued}, nil
	case command.Full:
		return CommandReply{Status: StatusFull}, st.Err()
	default:
		return CommandReply{Status: StatusError, Error: st.String()}, st.Err()
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCommand handles POST /command.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CommandRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	reply, err := h.Submit(req.Command)
	code := http.StatusAccepted
	switch {
	case errors.Is(err, errNotConfigured):
		code = http.StatusServiceUnavailable
	case errors.Is(err, command.ErrFull):
		code = http.StatusTooManyRequests
	case err != nil:
		code = http.StatusBadRequest
	}
	writeJSON(w, code, reply)
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Machine == nil {
		http.Error(w, "machine not configured", http.StatusServiceUnavailable)
		return
	}
	st := Status{
		Ready: h.Machine.Ready(),
		State: h.Machine.State(),
		Mode:  h.Machine.Mode().String(),
		Axes:  h.Machine.Snapshot(),
	}
	if h.Queue != nil {
		st.Queued = h.Queue.Len()
		st.Capacity = h.Queue.Cap()
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleWebSocket handles GET /ws. Each text message is one command; each
// gets a CommandReply back.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: websocket read: %v", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		reply, _ := h.Submit(string(msg))
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
