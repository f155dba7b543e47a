package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/PanTilt/internal/command"
	"github.com/cjeanneret/PanTilt/internal/logic/motion"
)

// ---------- Handler helpers ----------

type stubMachine struct {
	ready bool
}

func (m stubMachine) Snapshot() []motion.AxisState {
	return []motion.AxisState{
		{Name: "pan", PositionAngle: 12.5, PositionSteps: 100, Speed: 10},
		{Name: "tilt", PositionAngle: -3, PositionSteps: -24, Speed: 5},
	}
}
func (m stubMachine) State() string {
	if m.ready {
		return "idle"
	}
	return "executing"
}
func (m stubMachine) Mode() motion.Mode { return motion.Relative }
func (m stubMachine) Ready() bool       { return m.ready }

func newTestHandlers(queue *command.Channel) (*Handlers, *int) {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	notified := new(int)
	h := NewHandlers(
		NewStatusBroadcaster(),
		queue,
		func() { *notified++ },
		stubMachine{ready: true},
		staticFS,
	)
	return h, notified
}

func postCommand(h *Handlers, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleCommand(w, req)
	return w
}

func commandJSON(text string) string {
	data, _ := json.Marshal(CommandRequest{Command: text})
	return string(data)
}

// ---------- HandleCommand ----------

func TestHandleCommand_Queued(t *testing.T) {
	queue := command.NewChannel(4)
	h, notified := newTestHandlers(queue)

	w := postCommand(h, commandJSON("LINE 10 5"))

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp CommandReply
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != StatusQueued {
		t.Errorf("response status = %q, want %q", resp.Status, StatusQueued)
	}
	var got command.Command
	if queue.Get(&got) != command.Success || got.String() != "LINE 10 5" {
		t.Errorf("queued %q", got.String())
	}
	if *notified != 1 {
		t.Errorf("notify calls = %d, want 1", *notified)
	}
}

func TestHandleCommand_GetMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandlers(command.NewChannel(4))
	req := httptest.NewRequest(http.MethodGet, "/command", nil)
	w := httptest.NewRecorder()

	h.HandleCommand(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleCommand_InvalidJSON(t *testing.T) {
	h, _ := newTestHandlers(command.NewChannel(4))
	w := postCommand(h, "not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleCommand_InvalidCommand(t *testing.T) {
	cases := []string{"", "G1 X10", "LINE 1", "MODE SIDEWAYS"}
	for _, text := range cases {
		t.Run(text, func(t *testing.T) {
			queue := command.NewChannel(4)
			h, notified := newTestHandlers(queue)
			w := postCommand(h, commandJSON(text))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			var resp CommandReply
			json.NewDecoder(w.Body).Decode(&resp)
			if resp.Status != StatusError || resp.Error == "" {
				t.Errorf("reply = %+v", resp)
			}
			if !queue.IsEmpty() || *notified != 0 {
				t.Error("invalid command must not be queued")
			}
		})
	}
}

func TestHandleCommand_CommandTooLong(t *testing.T) {
	queue := command.NewChannel(4)
	h, notified := newTestHandlers(queue)
	long := "LINE 1 " + strings.Repeat("0", 56) + "12.5"

	w := postCommand(h, commandJSON(long))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var resp CommandReply
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != StatusError || !strings.Contains(resp.Error, "too long") {
		t.Errorf("reply = %+v", resp)
	}
	if !queue.IsEmpty() || *notified != 0 {
		t.Error("an overlong command must not be queued")
	}
}

func TestHandleCommand_OversizedBody(t *testing.T) {
	h, _ := newTestHandlers(command.NewChannel(4))
	big := `{"command":"` + strings.Repeat("x", 2<<20) + `"}`
	w := postCommand(h, big)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d (oversized body)", w.Code, http.StatusBadRequest)
	}
}

func TestHandleCommand_QueueFull(t *testing.T) {
	queue := command.NewChannel(1)
	queue.PutString("HOME")
	h, _ := newTestHandlers(queue)

	w := postCommand(h, commandJSON("ENABLE"))

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	var resp CommandReply
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != StatusFull {
		t.Errorf("response status = %q, want %q", resp.Status, StatusFull)
	}
}

func TestHandleCommand_NoQueue(t *testing.T) {
	h, _ := newTestHandlers(nil)
	w := postCommand(h, commandJSON("HOME"))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ---------- HandleStatus ----------

func TestHandleStatus(t *testing.T) {
	queue := command.NewChannel(8)
	queue.PutString("HOME")
	h, _ := newTestHandlers(queue)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var st Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Ready || st.State != "idle" || st.Mode != "relative" {
		t.Errorf("status = %+v", st)
	}
	if st.Queued != 1 || st.Capacity != 8 {
		t.Errorf("queue = %d/%d, want 1/8", st.Queued, st.Capacity)
	}
	if len(st.Axes) != 2 || st.Axes[0].Name != "pan" || st.Axes[0].PositionAngle != 12.5 {
		t.Errorf("axes = %+v", st.Axes)
	}
}

func TestHandleStatus_NoMachine(t *testing.T) {
	h, _ := newTestHandlers(nil)
	h.Machine = nil
	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ---------- HandleWebSocket ----------

func TestHandleWebSocket(t *testing.T) {
	queue := command.NewChannel(2)
	h, _ := newTestHandlers(queue)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	server := httptest.NewServer(mux)
	defer server.Close()

	wsURL := "ws" + server.URL[4:] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect WebSocket: %v", err)
	}
	defer conn.Close()

	cases := []struct {
		text string
		want string
	}{
		{"HOME", StatusQueued},
		{"nonsense", StatusError},
		{"LINE 1 2", StatusQueued},
		{"ENABLE", StatusFull},
	}
	for _, tc := range cases {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tc.text)); err != nil {
			t.Fatalf("write %q: %v", tc.text, err)
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var reply CommandReply
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("read reply to %q: %v", tc.text, err)
		}
		if reply.Status != tc.want {
			t.Errorf("%q: status = %q, want %q", tc.text, reply.Status, tc.want)
		}
	}
	if queue.Len() != 2 {
		t.Errorf("queued %d commands, want 2", queue.Len())
	}
}

// ---------- HandleStatusStream ----------

func TestHandleStatusStream(t *testing.T) {
	h, _ := newTestHandlers(nil)
	server := httptest.NewServer(http.HandlerFunc(h.HandleStatusStream))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	buf := make([]byte, 256)
	n, _ := resp.Body.Read(buf)
	if !bytes.Contains(buf[:n], []byte(": connected")) {
		t.Fatalf("first chunk = %q", buf[:n])
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Broadcaster.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.Broadcaster.Broadcast("info", "LINE 1 2")

	n, _ = resp.Body.Read(buf)
	if !bytes.Contains(buf[:n], []byte(`"msg":"LINE 1 2"`)) {
		t.Errorf("event chunk = %q", buf[:n])
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h, _ := newTestHandlers(nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

// ---------- Server ----------

func TestServerMux_Routes(t *testing.T) {
	queue := command.NewChannel(4)
	s := NewServer(":0", NewStatusBroadcaster(), queue, nil, stubMachine{ready: true})
	server := httptest.NewServer(s.Mux())
	defer server.Close()

	resp, err := http.Post(server.URL+"/command", "application/json", strings.NewReader(commandJSON("HOME")))
	if err != nil {
		t.Fatalf("POST /command: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("POST /command = %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /status = %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / = %d (embedded index missing?)", resp.StatusCode)
	}
}
