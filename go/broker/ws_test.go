package broker

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/doscope/doscope/go/models"
	"github.com/doscope/doscope/go/models/mock"
)

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// readFrame returns the next frame's decoded JSON (text) or raw bytes
// (binary).
func readFrame(t *testing.T, c *websocket.Conn, timeout time.Duration) (map[string]interface{}, []byte) {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(timeout))
	kind, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind == websocket.BinaryMessage {
		return nil, data
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("bad json frame %q: %v", data, err)
	}
	return meta, nil
}

// awaitType skips frames until a text frame of the wanted type arrives.
func awaitType(t *testing.T, c *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		meta, _ := readFrame(t, c, time.Until(deadline))
		if meta != nil && meta["type"] == wantType {
			return meta
		}
	}
	t.Fatalf("no %s frame before deadline", wantType)
	return nil
}

func TestWSRegistersReadEchoesRequestID(t *testing.T) {
	b := mock.New()
	b.RegReadFn = func() (*models.Registers, error) {
		return &models.Registers{EIP: 0x100}, nil
	}
	_, ts := testServer(t, b)
	c := dialWS(t, ts)

	c.WriteJSON(map[string]string{"type": "registers:read", "requestId": "r1"})
	meta := awaitType(t, c, "registers:data")
	if meta["requestId"] != "r1" {
		t.Fatalf("requestId not echoed: %v", meta)
	}
	regs, ok := meta["registers"].(map[string]interface{})
	if !ok || regs["eip"].(float64) != 0x100 {
		t.Fatalf("registers payload: %v", meta)
	}
}

func TestWSMemoryReadBinaryPairing(t *testing.T) {
	b := mock.New()
	payload := []byte{9, 8, 7, 6}
	b.MemReadFn = func(addr models.Address, size int) ([]byte, error) {
		return payload, nil
	}
	_, ts := testServer(t, b)
	c := dialWS(t, ts)

	c.WriteJSON(map[string]interface{}{
		"type": "memory:read", "requestId": "m1",
		"address": "0xB8000", "size": 4,
	})
	meta := awaitType(t, c, "memory:data")
	if meta["requestId"] != "m1" || meta["size"].(float64) != 4 {
		t.Fatalf("meta: %v", meta)
	}
	// the binary frame follows immediately
	m2, bin := readFrame(t, c, 2*time.Second)
	if m2 != nil {
		t.Fatalf("expected binary frame, got %v", m2)
	}
	if !bytes.Equal(bin, payload) {
		t.Fatalf("binary payload %v", bin)
	}
}

func TestWSScreenshotPair(t *testing.T) {
	_, ts := testServer(t, mock.New())
	c := dialWS(t, ts)

	c.WriteJSON(map[string]string{"type": "screenshot:take", "requestId": "s1"})
	meta := awaitType(t, c, "screenshot:data")
	if meta["format"] != "ppm" {
		t.Fatalf("format: %v", meta)
	}
	_, bin := readFrame(t, c, 2*time.Second)
	if !bytes.HasPrefix(bin, []byte("P6")) {
		t.Fatalf("binary frame %q", bin)
	}
}

func TestWSUnknownChannelAndType(t *testing.T) {
	_, ts := testServer(t, mock.New())
	c := dialWS(t, ts)

	c.WriteJSON(map[string]string{"type": "subscribe", "channel": "bogus", "requestId": "e1"})
	meta := awaitType(t, c, "error")
	if meta["requestId"] != "e1" {
		t.Fatalf("error envelope: %v", meta)
	}

	c.WriteJSON(map[string]string{"type": "teleport"})
	meta = awaitType(t, c, "error")
	if !strings.Contains(meta["message"].(string), "teleport") {
		t.Fatalf("error message: %v", meta)
	}
}

func TestWSExecCommands(t *testing.T) {
	b := mock.New()
	_, ts := testServer(t, b)
	c := dialWS(t, ts)

	c.WriteJSON(map[string]string{"type": "exec:pause", "requestId": "p1"})
	// pause replies directly with the fresh register file
	meta := awaitType(t, c, "debug:step-complete")
	if meta["requestId"] != "p1" || meta["registers"] == nil {
		t.Fatalf("pause reply: %v", meta)
	}

	c.WriteJSON(map[string]string{"type": "exec:resume"})
	c.WriteJSON(map[string]interface{}{"type": "keys:send", "keys": []string{"enter"}})

	// resume and keys have no reply; poke a one-shot to fence the pipeline
	c.WriteJSON(map[string]string{"type": "registers:read", "requestId": "fence"})
	awaitType(t, c, "registers:data")

	calls := b.Calls()
	var pause, resume, keys bool
	for _, call := range calls {
		switch call {
		case "pause":
			pause = true
		case "resume":
			resume = true
		case "sendkeys":
			keys = true
		}
	}
	if !pause || !resume || !keys {
		t.Fatalf("commands not forwarded: %v", calls)
	}
}

func TestWSStepRepliesOnRequestingSocket(t *testing.T) {
	b := mock.New()
	b.StepFn = func() (*models.Registers, error) {
		regs := &models.Registers{EIP: 0x1234}
		b.Emit(models.Event{Kind: models.EvStepComplete, Regs: regs})
		return regs, nil
	}
	_, ts := testServer(t, b)
	c := dialWS(t, ts)

	// no debug subscription: the requester still hears back
	c.WriteJSON(map[string]string{"type": "exec:step", "requestId": "s1"})
	meta := awaitType(t, c, "debug:step-complete")
	if meta["requestId"] != "s1" {
		t.Fatalf("requestId not echoed: %v", meta)
	}
	regs, ok := meta["registers"].(map[string]interface{})
	if !ok || regs["eip"].(float64) != 0x1234 {
		t.Fatalf("reply lacks fresh registers: %v", meta)
	}
}

func TestWSWatchChangeGated(t *testing.T) {
	b := mock.New()
	var mu sync.Mutex
	payload := []byte{1, 1, 1, 1}
	b.MemReadFn = func(addr models.Address, size int) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		return append([]byte(nil), payload...), nil
	}
	_, ts := testServer(t, b)
	c := dialWS(t, ts)

	c.WriteJSON(map[string]interface{}{
		"type": "memory:watch", "id": "w1",
		"address": "0xB8000", "size": 4, "intervalMs": 10,
	})

	// first poll always pushes
	meta := awaitType(t, c, "memory:update")
	if meta["id"] != "w1" {
		t.Fatalf("watch id: %v", meta)
	}
	readFrame(t, c, 2*time.Second) // its binary frame

	// let several quiet polls pass, then change the bytes; with gating
	// working, the very next update carries the new payload rather than
	// a backlog of stale ones
	time.Sleep(700 * time.Millisecond)
	mu.Lock()
	payload = []byte{2, 2, 2, 2}
	mu.Unlock()

	meta = awaitType(t, c, "memory:update")
	_, bin := readFrame(t, c, 2*time.Second)
	if !bytes.Equal(bin, []byte{2, 2, 2, 2}) {
		t.Fatalf("stale update pushed without a change: %v (meta %v)", bin, meta)
	}

	c.WriteJSON(map[string]string{"type": "memory:unwatch", "id": "w1"})
}

func TestWSDuplicateWatchID(t *testing.T) {
	_, ts := testServer(t, mock.New())
	c := dialWS(t, ts)

	watch := map[string]interface{}{
		"type": "memory:watch", "id": "dup",
		"address": "0x1000", "size": 4, "intervalMs": 60000,
	}
	c.WriteJSON(watch)
	watch["requestId"] = "d2"
	c.WriteJSON(watch)

	meta := awaitType(t, c, "error")
	if meta["requestId"] != "d2" {
		t.Fatalf("duplicate watch error: %v", meta)
	}
}

func TestWSWatchInvalidatedAfterSnapshotLoad(t *testing.T) {
	b := mock.New()
	b.MemReadFn = func(addr models.Address, size int) ([]byte, error) {
		return []byte{5, 5, 5, 5}, nil
	}
	_, ts := testServer(t, b)
	c := dialWS(t, ts)

	c.WriteJSON(map[string]interface{}{
		"type": "memory:watch", "id": "w2",
		"address": "0xA0000", "size": 4, "intervalMs": 10,
	})
	first := awaitType(t, c, "memory:update")
	readFrame(t, c, 2*time.Second)

	// a snapshot load invalidates the hash, so the next poll pushes even
	// though the bytes are identical
	b.EmitSnapshot(models.EvSnapshotLoading, "boot", nil)
	b.EmitSnapshot(models.EvSnapshotLoaded, "boot", nil)
	awaitType(t, c, string(models.EvSnapshotLoaded))

	second := awaitType(t, c, "memory:update")
	if first["sha256"] != second["sha256"] {
		t.Fatalf("same bytes should hash the same: %v vs %v", first, second)
	}
}

func TestWSStatusFanOut(t *testing.T) {
	b := mock.New()
	_, ts := testServer(t, b)
	c := dialWS(t, ts)

	b.EmitStatus(models.StatusInfo{Backend: "mock", Status: models.Running})
	meta := awaitType(t, c, "status:update")
	status, ok := meta["status"].(map[string]interface{})
	if !ok || status["status"] != models.Running.String() {
		t.Fatalf("status frame: %v", meta)
	}
}

func TestWSDebugChannelNeedsSubscription(t *testing.T) {
	b := mock.New()
	_, ts := testServer(t, b)
	c := dialWS(t, ts)

	// not subscribed to debug yet: the hit is dropped for this client
	b.Emit(models.Event{Kind: models.EvBreakpointHit, Regs: &models.Registers{EIP: 1}})
	time.Sleep(200 * time.Millisecond)

	c.WriteJSON(map[string]string{"type": "subscribe", "channel": "debug"})
	// fence: subscribe has no ack, so round-trip a one-shot
	c.WriteJSON(map[string]string{"type": "registers:read", "requestId": "fence"})
	awaitType(t, c, "registers:data")

	b.Emit(models.Event{Kind: models.EvBreakpointHit, Regs: &models.Registers{EIP: 7}})
	meta := awaitType(t, c, "breakpoint:hit")
	regs := meta["registers"].(map[string]interface{})
	if regs["eip"].(float64) != 7 {
		t.Fatalf("pre-subscription hit should have been dropped: %v", meta)
	}
}
