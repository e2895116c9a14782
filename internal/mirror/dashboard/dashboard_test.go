package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/taskmirror/internal/logging"
	"github.com/mschirtzinger/taskmirror/internal/mirror/engine"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// fakeSource is a Source whose events are driven by the test.
type fakeSource struct {
	mu          sync.Mutex
	status      engine.Status
	conflicts   []engine.Conflict
	statusFns   []func(engine.Status)
	conflictFns []func([]engine.Conflict)
}

func (f *fakeSource) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSource) Online() bool { return f.Status() != engine.Offline }

func (f *fakeSource) Conflicts() []engine.Conflict {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conflicts
}

func (f *fakeSource) Subscribe(fn func(engine.Status)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusFns = append(f.statusFns, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.statusFns = nil
	}
}

func (f *fakeSource) SubscribeConflicts(fn func([]engine.Conflict)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflictFns = append(f.conflictFns, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.conflictFns = nil
	}
}

func (f *fakeSource) setStatus(s engine.Status) {
	f.mu.Lock()
	f.status = s
	fns := append(([]func(engine.Status))(nil), f.statusFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (f *fakeSource) setConflicts(c []engine.Conflict) {
	f.mu.Lock()
	f.conflicts = c
	fns := append(([]func([]engine.Conflict))(nil), f.conflictFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{Host: "127.0.0.1", Port: 0, Logger: logging.Discard()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

// readUntil reads messages until one of type want satisfies match. Replayed
// and broadcast copies of earlier state may arrive first.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, want MessageType, match func(json.RawMessage) bool) Message {
	t.Helper()
	for {
		msg := readMessage(t, ctx, conn)
		if msg.Type == want && match(msg.Data) {
			return msg
		}
	}
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Host: "127.0.0.1", Port: 0, Logger: logging.Discard()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestNewClientReceivesLatestState(t *testing.T) {
	server := startTestServer(t)
	source := &fakeSource{status: engine.Synced}
	handler := NewHandler(server, source, logging.Discard())
	detach := handler.Attach()
	defer detach()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("Expected %s, got %s", MessageTypeStatus, msg.Type)
	}

	var data StatusData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if data.Status != "synced" || !data.Online {
		t.Errorf("Expected synced/online, got %+v", data)
	}
}

func TestStatusAndConflictBroadcast(t *testing.T) {
	server := startTestServer(t)
	source := &fakeSource{}
	handler := NewHandler(server, source, logging.Discard())
	defer handler.Attach()()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn) // replayed offline status
	waitForClients(t, server, 1)

	source.setStatus(engine.Syncing)
	readUntil(t, ctx, conn, MessageTypeStatus, func(data json.RawMessage) bool {
		var status StatusData
		_ = json.Unmarshal(data, &status)
		return status.Status == "syncing"
	})

	source.setConflicts([]engine.Conflict{{
		Kind:        schema.KindTask,
		LocalCount:  3,
		RemoteCount: 5,
		Suggested:   engine.AdoptRemote,
	}})
	msg := readUntil(t, ctx, conn, MessageTypeConflict, func(json.RawMessage) bool { return true })
	var conflicts ConflictData
	if err := json.Unmarshal(msg.Data, &conflicts); err != nil {
		t.Fatalf("Failed to unmarshal conflicts: %v", err)
	}
	if len(conflicts.Conflicts) != 1 || conflicts.Conflicts[0].Kind != "tasks" || conflicts.Conflicts[0].RemoteCount != 5 {
		t.Errorf("Unexpected conflicts %+v", conflicts)
	}
}

func TestCollectionBroadcast(t *testing.T) {
	server := startTestServer(t)
	handler := NewHandler(server, &fakeSource{}, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	waitForClients(t, server, 1)

	handler.OnCollection(schema.TodoCollection(schema.Todo{Title: "a"}, schema.Todo{Title: "b"}), true)

	msg := readMessage(t, ctx, conn)
	var data CollectionData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal collection: %v", err)
	}
	if msg.Type != MessageTypeCollection || data.Kind != "todos" || data.Count != 2 || !data.Dirty {
		t.Errorf("Unexpected message %s %+v", msg.Type, data)
	}
}

func TestMultipleClients(t *testing.T) {
	server := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	numClients := 3
	conns := make([]*websocket.Conn, numClients)
	for i := range conns {
		conns[i] = dial(t, ctx, server)
	}
	waitForClients(t, server, numClients)

	data, _ := json.Marshal(StatusData{Status: "offline"})
	server.Broadcast(Message{Type: MessageTypeStatus, Data: data})

	for i, conn := range conns {
		if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStatus {
			t.Errorf("client %d: expected status, got %s", i, msg.Type)
		}
	}
}
