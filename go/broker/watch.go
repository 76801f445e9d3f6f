package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/doscope/doscope/go/logx"
	"github.com/doscope/doscope/go/models"
)

// minWatchInterval is the floor for watch polling; anything faster
// would hammer the emulator's debug channel.
const minWatchInterval = 200 * time.Millisecond

// watch polls one memory region on a ticker and pushes the bytes when
// their hash changes. One poll in flight at a time; a tick arriving
// mid-poll is dropped by the ticker's own buffering.
type watch struct {
	id       string
	addr     models.Address
	size     int
	interval time.Duration
	conn     *wsConn
	stop     chan struct{}

	mu      sync.Mutex
	lastSum string
}

func (w *wsConn) addWatch(msg *wsMsg) {
	addr, err := models.ParseAddress(msg.Address)
	if err != nil {
		w.sendError(msg.RequestID, err.Error())
		return
	}
	if msg.ID == "" {
		w.sendError(msg.RequestID, "watch id required")
		return
	}
	if msg.Size <= 0 {
		w.sendError(msg.RequestID, "size must be positive")
		return
	}
	interval := time.Duration(msg.IntervalMS) * time.Millisecond
	if interval < minWatchInterval {
		interval = minWatchInterval
	}

	w.mu.Lock()
	if _, dup := w.watches[msg.ID]; dup {
		w.mu.Unlock()
		w.sendError(msg.RequestID, "watch "+msg.ID+" already exists")
		return
	}
	wt := &watch{
		id:       msg.ID,
		addr:     addr,
		size:     msg.Size,
		interval: interval,
		conn:     w,
		stop:     make(chan struct{}),
	}
	w.watches[msg.ID] = wt
	w.mu.Unlock()

	go wt.run()
}

func (w *wsConn) delWatch(msg *wsMsg) {
	w.mu.Lock()
	wt, ok := w.watches[msg.ID]
	if ok {
		delete(w.watches, msg.ID)
	}
	w.mu.Unlock()
	if !ok {
		w.sendError(msg.RequestID, "no watch "+msg.ID)
		return
	}
	close(wt.stop)
}

// suspendWatches halts polling while a snapshot load is in flight.
func (w *wsConn) suspendWatches() {
	w.mu.Lock()
	w.suspended = true
	w.mu.Unlock()
}

// resumeWatches clears the suspension and invalidates every watch's
// hash so the next poll always pushes, snapshot contents being
// unrelated to whatever was on screen before.
func (w *wsConn) resumeWatches() {
	w.mu.Lock()
	w.suspended = false
	for _, wt := range w.watches {
		wt.invalidate()
	}
	w.mu.Unlock()
}

func (w *wsConn) watchesSuspended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suspended
}

func (w *wsConn) teardown() {
	w.mu.Lock()
	for id, wt := range w.watches {
		close(wt.stop)
		delete(w.watches, id)
	}
	w.mu.Unlock()
}

func (wt *watch) invalidate() {
	wt.mu.Lock()
	wt.lastSum = ""
	wt.mu.Unlock()
}

func (wt *watch) run() {
	ticker := time.NewTicker(wt.interval)
	defer ticker.Stop()
	for {
		select {
		case <-wt.stop:
			return
		case <-ticker.C:
			if wt.conn.watchesSuspended() {
				continue
			}
			wt.poll()
		}
	}
}

func (wt *watch) poll() {
	b := wt.conn.srv.Holder.Get()
	if b == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wt.interval)
	data, err := b.MemRead(ctx, wt.addr, wt.size)
	cancel()
	if err != nil {
		logx.Debugf("ws", "watch %s: %v", wt.id, err)
		return
	}
	raw := sha256.Sum256(data)
	sum := hex.EncodeToString(raw[:])

	wt.mu.Lock()
	changed := sum != wt.lastSum
	if changed {
		wt.lastSum = sum
	}
	wt.mu.Unlock()
	if !changed {
		return
	}
	wt.conn.sendBinaryPair(map[string]interface{}{
		"type": "memory:update", "id": wt.id,
		"address": wt.addr.String(), "size": len(data),
		"sha256": sum,
	}, data)
}
