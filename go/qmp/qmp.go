// Package qmp speaks the QEMU machine protocol: newline-delimited JSON
// over a unix socket, a greeting handshake, one command in flight, and
// async events delivered out-of-band.
package qmp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/doscope/doscope/go/logx"
	"github.com/doscope/doscope/go/models"
)

// GuestEvent is one async event from the emulator, e.g. STOP or RESUME.
type GuestEvent struct {
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp struct {
		Seconds      int64 `json:"seconds"`
		Microseconds int64 `json:"microseconds"`
	} `json:"timestamp"`
}

type qmpError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

type response struct {
	ret json.RawMessage
	err error
}

type Client struct {
	conn net.Conn

	mu      sync.Mutex
	pending chan response

	events    chan GuestEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the control socket, validates the greeting, and
// negotiates capabilities. The caller owns serialization of commands.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, models.Connectionf(err, "qmp dial %s", path)
	}
	c := &Client{
		conn:   conn,
		events: make(chan GuestEvent, 32),
		done:   make(chan struct{}),
	}
	r := bufio.NewReader(conn)

	// greeting must be a JSON object carrying the "QMP" key
	line, err := readLine(r)
	if err != nil {
		conn.Close()
		return nil, models.Connectionf(err, "qmp greeting read")
	}
	var greeting map[string]json.RawMessage
	if err := json.Unmarshal(line, &greeting); err != nil {
		conn.Close()
		return nil, models.Protocolf(err, "qmp greeting not json")
	}
	if _, ok := greeting["QMP"]; !ok {
		conn.Close()
		return nil, models.Protocolf(nil, "not a qmp socket: greeting lacks QMP")
	}

	go c.readLoop(r)

	if _, err := c.Execute(ctx, "qmp_capabilities", nil); err != nil {
		c.Close()
		return nil, err
	}
	logx.Debugf("qmp", "connected to %s", path)
	return c, nil
}

// readLine returns the next newline-delimited chunk. The terminal message
// of a dying emulator may omit its newline, so a partial buffer at EOF
// still counts.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
			return line, nil
		}
		return nil, err
	}
	return line, nil
}

func (c *Client) readLoop(r *bufio.Reader) {
	defer close(c.events)
	defer close(c.done)
	for {
		line, err := readLine(r)
		if err != nil {
			c.deliver(response{err: models.Connectionf(err, "qmp connection lost")})
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var msg map[string]json.RawMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.deliver(response{err: models.Protocolf(err, "qmp bad json %q", line)})
			return
		}
		switch {
		case msg["event"] != nil:
			var ev GuestEvent
			if err := json.Unmarshal(line, &ev); err == nil {
				select {
				case c.events <- ev:
				default:
					// slow consumer; events are advisory
				}
			}
		case msg["return"] != nil:
			c.deliver(response{ret: msg["return"]})
		case msg["error"] != nil:
			var qe qmpError
			json.Unmarshal(msg["error"], &qe)
			c.deliver(response{err: models.Protocolf(nil, "qmp %s: %s", qe.Class, qe.Desc)})
		default:
			// stray greeting or unknown frame
			logx.Debugf("qmp", "ignoring frame %s", bytes.TrimSpace(line))
		}
	}
}

func (c *Client) deliver(r response) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pending != nil {
		pending <- r
	}
}

// Events is the async event stream. Closed when the connection dies.
func (c *Client) Events() <-chan GuestEvent {
	return c.events
}

// Execute sends one command and waits for its return or error member.
// Async events never satisfy the wait.
func (c *Client) Execute(ctx context.Context, cmd string, args map[string]interface{}) (json.RawMessage, error) {
	msg := map[string]interface{}{"execute": cmd}
	if len(args) > 0 {
		msg["arguments"] = args
	}
	p, err := json.Marshal(msg)
	if err != nil {
		return nil, models.Argumentf("qmp %s: %v", cmd, err)
	}
	p = append(p, '\n')

	pending := make(chan response, 1)
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, models.Protocolf(nil, "qmp %s: command already in flight", cmd)
	}
	c.pending = pending
	_, err = c.conn.Write(p)
	if err != nil {
		c.pending = nil
		c.mu.Unlock()
		return nil, models.Connectionf(err, "qmp write %s", cmd)
	}
	c.mu.Unlock()

	start := time.Now()
	select {
	case r := <-pending:
		return r.ret, r.err
	case <-ctx.Done():
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, models.Timeout("qmp "+cmd, time.Since(start).Round(time.Millisecond))
		}
		return nil, ctx.Err()
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
