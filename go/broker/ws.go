package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/doscope/doscope/go/capture"
	"github.com/doscope/doscope/go/logx"
	"github.com/doscope/doscope/go/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// origin policy is handled by the HTTP layer
	CheckOrigin: func(r *http.Request) bool { return true },
}

var wsChannels = map[string]bool{
	"status":  true,
	"debug":   true,
	"memory":  true,
	"capture": true,
}

// wsMsg is the one decode target for every client message; only the
// fields relevant to Type are set.
type wsMsg struct {
	Type       string   `json:"type"`
	Channel    string   `json:"channel,omitempty"`
	RequestID  string   `json:"requestId,omitempty"`
	ID         string   `json:"id,omitempty"`
	Address    string   `json:"address,omitempty"`
	Size       int      `json:"size,omitempty"`
	IntervalMS int      `json:"intervalMs,omitempty"`
	Keys       []string `json:"keys,omitempty"`
	DelayMS    int      `json:"delayMs,omitempty"`
	Format     string   `json:"format,omitempty"`
}

type wsConn struct {
	srv *Server
	c   *websocket.Conn

	// write guards every outbound frame; sendBinaryPair holds it across
	// the metadata and binary frames so they can never interleave
	write sync.Mutex

	mu        sync.Mutex
	subs      map[string]bool
	watches   map[string]*watch
	suspended bool
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &wsConn{
		srv:     s,
		c:       c,
		subs:    map[string]bool{"status": true},
		watches: make(map[string]*watch),
	}
	events, cancel := s.events.Subscribe()
	go conn.forward(events)
	conn.readLoop()
	cancel()
	conn.teardown()
	c.Close()
}

func (w *wsConn) sendJSON(v interface{}) {
	w.write.Lock()
	defer w.write.Unlock()
	if err := w.c.WriteJSON(v); err != nil {
		logx.Debugf("ws", "write: %v", err)
	}
}

// sendBinaryPair writes a JSON metadata frame immediately followed by
// its binary payload under one lock hold.
func (w *wsConn) sendBinaryPair(meta interface{}, data []byte) {
	w.write.Lock()
	defer w.write.Unlock()
	if err := w.c.WriteJSON(meta); err != nil {
		logx.Debugf("ws", "write: %v", err)
		return
	}
	if err := w.c.WriteMessage(websocket.BinaryMessage, data); err != nil {
		logx.Debugf("ws", "write: %v", err)
	}
}

func (w *wsConn) sendError(requestID, msg string) {
	env := map[string]string{"type": "error", "message": msg}
	if requestID != "" {
		env["requestId"] = requestID
	}
	w.sendJSON(env)
}

// sendStepComplete is the direct reply to exec:pause and exec:step.
// It goes to the requesting socket regardless of channel subscriptions;
// debug subscribers additionally hear the broadcast step:complete.
func (w *wsConn) sendStepComplete(requestID string, regs *models.Registers) {
	msg := map[string]interface{}{"type": "debug:step-complete", "registers": regs}
	if requestID != "" {
		msg["requestId"] = requestID
	}
	w.sendJSON(msg)
}

func (w *wsConn) subscribed(channel string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.subs[channel]
}

// forward routes backend events onto the connection's subscribed
// channels and drives watch suspension around snapshot loads.
func (w *wsConn) forward(events <-chan models.Event) {
	for ev := range events {
		switch ev.Kind {
		case models.EvStatus:
			if w.subscribed("status") {
				w.sendJSON(map[string]interface{}{"type": "status:update", "status": ev.Status})
			}
		case models.EvSnapshotLoading:
			w.suspendWatches()
			if w.subscribed("status") {
				w.sendJSON(map[string]interface{}{"type": string(ev.Kind), "snapshot": ev.Snapshot})
			}
		case models.EvSnapshotLoaded, models.EvSnapshotLoadFailed:
			w.resumeWatches()
			if w.subscribed("status") {
				msg := map[string]interface{}{"type": string(ev.Kind), "snapshot": ev.Snapshot}
				if ev.Err != "" {
					msg["error"] = ev.Err
				}
				w.sendJSON(msg)
			}
		case models.EvBreakpointHit:
			if w.subscribed("debug") {
				w.sendJSON(map[string]interface{}{"type": "breakpoint:hit", "registers": ev.Regs})
			}
		case models.EvStepComplete:
			if w.subscribed("debug") {
				w.sendJSON(map[string]interface{}{"type": "step:complete", "registers": ev.Regs})
			}
		case models.EvCaptureStage:
			if w.subscribed("capture") {
				w.sendJSON(map[string]interface{}{"type": "capture:stage", "stage": ev.Stage})
			}
		case models.EvGuest:
			if w.subscribed("debug") {
				w.sendJSON(map[string]interface{}{"type": "guest", "text": ev.Guest})
			}
		}
	}
}

func (w *wsConn) readLoop() {
	for {
		var msg wsMsg
		if err := w.c.ReadJSON(&msg); err != nil {
			return
		}
		w.dispatch(&msg)
	}
}

func (w *wsConn) backend(requestID string) (models.Backend, bool) {
	b := w.srv.Holder.Get()
	if b == nil {
		w.sendError(requestID, "no backend selected")
		return nil, false
	}
	return b, true
}

func (w *wsConn) dispatch(msg *wsMsg) {
	switch msg.Type {
	case "subscribe", "unsubscribe":
		if !wsChannels[msg.Channel] {
			w.sendError(msg.RequestID, "unknown channel "+msg.Channel)
			return
		}
		w.mu.Lock()
		if msg.Type == "subscribe" {
			w.subs[msg.Channel] = true
		} else {
			delete(w.subs, msg.Channel)
		}
		w.mu.Unlock()
	case "exec:pause":
		if b, ok := w.backend(msg.RequestID); ok {
			if err := b.Pause(context.Background()); err != nil {
				w.sendError(msg.RequestID, err.Error())
				return
			}
			regs, err := b.RegRead(context.Background())
			if err != nil {
				w.sendError(msg.RequestID, err.Error())
				return
			}
			w.sendStepComplete(msg.RequestID, regs)
		}
	case "exec:resume":
		if b, ok := w.backend(msg.RequestID); ok {
			if err := b.Resume(context.Background()); err != nil {
				w.sendError(msg.RequestID, err.Error())
			}
		}
	case "exec:step":
		if b, ok := w.backend(msg.RequestID); ok {
			regs, err := b.Step(context.Background())
			if err != nil {
				w.sendError(msg.RequestID, err.Error())
				return
			}
			w.sendStepComplete(msg.RequestID, regs)
		}
	case "keys:send":
		b, ok := w.backend(msg.RequestID)
		if !ok {
			return
		}
		delay := time.Duration(msg.DelayMS) * time.Millisecond
		if err := b.SendKeys(context.Background(), msg.Keys, delay); err != nil {
			w.sendError(msg.RequestID, err.Error())
		}
	case "memory:read":
		w.memoryRead(msg)
	case "registers:read":
		b, ok := w.backend(msg.RequestID)
		if !ok {
			return
		}
		regs, err := b.RegRead(context.Background())
		if err != nil {
			w.sendError(msg.RequestID, err.Error())
			return
		}
		w.sendJSON(map[string]interface{}{
			"type": "registers:data", "requestId": msg.RequestID, "registers": regs,
		})
	case "screenshot:take":
		b, ok := w.backend(msg.RequestID)
		if !ok {
			return
		}
		shot, err := b.Screenshot(context.Background())
		if err != nil {
			w.sendError(msg.RequestID, err.Error())
			return
		}
		if msg.Format == "png" {
			if shot, err = capture.ToPNG(shot); err != nil {
				w.sendError(msg.RequestID, err.Error())
				return
			}
		}
		w.sendBinaryPair(map[string]interface{}{
			"type": "screenshot:data", "requestId": msg.RequestID,
			"format": shot.Format, "size": len(shot.Data),
		}, shot.Data)
	case "memory:watch":
		w.addWatch(msg)
	case "memory:unwatch":
		w.delWatch(msg)
	default:
		w.sendError(msg.RequestID, "unknown message type "+msg.Type)
	}
}

func (w *wsConn) memoryRead(msg *wsMsg) {
	addr, err := models.ParseAddress(msg.Address)
	if err != nil {
		w.sendError(msg.RequestID, err.Error())
		return
	}
	if msg.Size <= 0 {
		w.sendError(msg.RequestID, "size must be positive")
		return
	}
	b, ok := w.backend(msg.RequestID)
	if !ok {
		return
	}
	data, err := b.MemRead(context.Background(), addr, msg.Size)
	if err != nil {
		w.sendError(msg.RequestID, err.Error())
		return
	}
	sum := sha256.Sum256(data)
	w.sendBinaryPair(map[string]interface{}{
		"type": "memory:data", "requestId": msg.RequestID,
		"address": addr.String(), "size": len(data),
		"sha256": hex.EncodeToString(sum[:]),
	}, data)
}
