package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"relay-service/internal/auth"
	"relay-service/internal/monitoring"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakePeer records what the hub queues for it.
type fakePeer struct {
	mu         sync.Mutex
	frames     [][]byte
	probes     int
	terminated bool
	closeCode  int
	refuse     bool
}

func (p *fakePeer) Enqueue(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated || p.refuse {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

func (p *fakePeer) Probe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
}

func (p *fakePeer) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
}

func (p *fakePeer) Close(code int, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCode = code
}

func (p *fakePeer) messages() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]any, 0, len(p.frames))
	for _, f := range p.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePeer) ofType(mt MessageType) []map[string]any {
	var out []map[string]any
	for _, m := range p.messages() {
		if m["type"] == string(mt) {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePeer) types() []string {
	var out []string
	for _, m := range p.messages() {
		out = append(out, m["type"].(string))
	}
	return out
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}

func (p *fakePeer) isTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func (p *fakePeer) probeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

// stubValidator answers every token with result.
type stubValidator struct {
	result auth.Result
}

func (s stubValidator) Validate(context.Context, string) auth.Result { return s.result }

func acceptAllGate() *auth.Gate {
	return auth.NewGate(auth.AcceptAll{}, true, time.Second, monitoring.NewNop())
}

func createTestHub(t *testing.T, gate *auth.Gate) *Hub {
	t.Helper()
	if gate == nil {
		gate = acceptAllGate()
	}
	h := NewHub(HubConfig{HeartbeatInterval: time.Hour}, gate, monitoring.NewNop())
	h.now = func() time.Time { return testNow }
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

// flush waits until the hub handled everything sent to it before the call.
func flush(t *testing.T, h *Hub) {
	t.Helper()
	require.NoError(t, h.call(func() {}))
}

func connect(t *testing.T, h *Hub, id string) *fakePeer {
	t.Helper()
	p := &fakePeer{}
	require.NoError(t, h.Register(id, p))
	return p
}

func send(t *testing.T, h *Hub, id string, raw string) {
	t.Helper()
	var msg InboundMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.NoError(t, h.Receive(id, &msg))
}

// login authenticates id and waits until the hub has answered.
func login(t *testing.T, h *Hub, id string, p *fakePeer, userID int, username string) {
	t.Helper()
	raw, _ := json.Marshal(map[string]any{
		"type": "authenticate", "token": "tok", "userId": userID, "username": username,
	})
	send(t, h, id, string(raw))
	require.Eventually(t, func() bool {
		return len(p.ofType(MessageTypeInitialOnlineUsers)) > 0
	}, time.Second, 5*time.Millisecond, "no initial_online_users for %s", id)
	flush(t, h)
}

func userIDs(users any) []string {
	var out []string
	for _, u := range users.([]any) {
		out = append(out, jsonString(u.(map[string]any)["userId"]))
	}
	return out
}

func jsonString(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
